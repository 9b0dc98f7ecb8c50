package requester

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeoutExceeded matches any *TimeoutExceededError via errors.Is.
	ErrTimeoutExceeded = errors.New("retry budget exhausted")

	// ErrInvalidURL is returned before any attempt when the target address is unusable.
	ErrInvalidURL = errors.New("invalid target url")

	// ErrResponseTooLarge is returned when a 2xx body exceeds Config.MaxBodyBytes.
	ErrResponseTooLarge = errors.New("response too large")
)

// TransportError is a connection-level failure: dial, TLS, reset, body read.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error calling %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError is a response with a non-2xx status.
type HTTPError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("http %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// TimeoutExceededError is returned once the time budget is spent. It wraps
// the cause of the last failed attempt.
type TimeoutExceededError struct {
	URL      string
	Timeout  time.Duration
	Elapsed  time.Duration
	Attempts int
	Err      error
}

func (e *TimeoutExceededError) Error() string {
	return fmt.Sprintf(
		"giving up on %s after %d attempts in %v (budget %v): %v",
		e.URL, e.Attempts, e.Elapsed, e.Timeout, e.Err,
	)
}

func (e *TimeoutExceededError) Unwrap() error { return e.Err }

func (e *TimeoutExceededError) Is(target error) bool {
	return target == ErrTimeoutExceeded
}
