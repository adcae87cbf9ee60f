package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrSerialization marks values that cannot be encoded into a batch artifact.
var ErrSerialization = errors.New("serialization failed")

// ConnectionError is returned when the provider session cannot be established.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RateLimitedError asks the caller to wait before repeating the request.
type RateLimitedError struct {
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.Wait)
}

// ChannelInaccessibleError is a permanent per-channel failure.
type ChannelInaccessibleError struct {
	Channel string
	Reason  string
}

func (e *ChannelInaccessibleError) Error() string {
	return fmt.Sprintf("channel %s inaccessible: %s", e.Channel, e.Reason)
}

// TransientError wraps network failures that may succeed on a later run.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
