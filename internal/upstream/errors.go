package upstream

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors classified by callers with errors.Is.
var (
	ErrRateLimited = errors.New("upstream rate limited")
	ErrNotFound    = errors.New("upstream not found")
	ErrPermanent   = errors.New("upstream rejected request")
	ErrExhausted   = errors.New("upstream retries exhausted")
	ErrDecode      = errors.New("upstream payload undecodable")
)

// StatusError carries the final status of a failed call. StatusCode is 0 when no response arrived.
type StatusError struct {
	HostClass  string
	URL        string
	StatusCode int
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d after %d attempt(s): %v", e.HostClass, e.URL, e.StatusCode, e.Attempts, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}
