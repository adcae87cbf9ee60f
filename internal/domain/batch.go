package domain

import (
	"fmt"
	"strings"
	"time"
)

// ScrapeStatus is the terminal state of a channel scrape.
type ScrapeStatus string

const (
	StatusSuccess    ScrapeStatus = "success"
	StatusNoMessages ScrapeStatus = "no_messages"
	StatusError      ScrapeStatus = "error"
)

// ScrapeBatch describes the outcome of scraping one channel in one run.
type ScrapeBatch struct {
	Channel      string        `json:"channel"`
	Status       ScrapeStatus  `json:"status"`
	MessageCount int           `json:"message_count"`
	Path         string        `json:"path,omitempty"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Duration     time.Duration `json:"duration"`
	Retries      int           `json:"retries"`
	Skipped      int           `json:"skipped"`
	MediaFiles   int           `json:"media_files"`
	Unreachable  bool          `json:"unreachable,omitempty"`
}

// RunSummary aggregates the batches of one multi-channel run.
type RunSummary struct {
	RunID         string        `json:"run_id"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	Batches       []ScrapeBatch `json:"batches"`
	Successful    int           `json:"successful"`
	TotalMessages int           `json:"total_messages"`
}

// Add records a batch and updates the counters.
func (s *RunSummary) Add(batch ScrapeBatch) {
	s.Batches = append(s.Batches, batch)
	if batch.Status == StatusSuccess {
		s.Successful++
	}
	s.TotalMessages += batch.MessageCount
}

// Failed lists the batches that ended in error.
func (s RunSummary) Failed() []ScrapeBatch {
	var failed []ScrapeBatch
	for _, b := range s.Batches {
		if b.Status == StatusError {
			failed = append(failed, b)
		}
	}
	return failed
}

// Unreachable reports whether every channel failed before the session connected.
func (s RunSummary) Unreachable() bool {
	if len(s.Batches) == 0 {
		return false
	}
	for _, b := range s.Batches {
		if !b.Unreachable {
			return false
		}
	}
	return true
}

// Paths returns artifact paths written during the run.
func (s RunSummary) Paths() []string {
	var paths []string
	for _, b := range s.Batches {
		if b.Path != "" {
			paths = append(paths, b.Path)
		}
	}
	return paths
}

// String renders one line per channel so partial success stays legible.
func (s RunSummary) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "run %s: %d/%d channels ok, %d messages\n", s.RunID, s.Successful, len(s.Batches), s.TotalMessages)
	for _, b := range s.Batches {
		fmt.Fprintf(&sb, "- %s: %s (%d messages)", b.Channel, b.Status, b.MessageCount)
		if b.Error != "" {
			fmt.Fprintf(&sb, " %s", b.Error)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
