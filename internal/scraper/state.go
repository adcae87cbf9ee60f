package scraper

// State is a step of the per-channel scrape state machine.
type State string

const (
	StatePending     State = "pending"
	StateConnecting  State = "connecting"
	StateFetching    State = "fetching"
	StateDownloading State = "downloading_media"
	StateSerializing State = "serializing"
	StateDone        State = "done"
)
