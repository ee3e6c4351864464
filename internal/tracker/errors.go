package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a remote object does not exist.
	ErrNotFound = errors.New("remote object not found")

	// ErrRateLimited is returned when the tracker rejects a request because
	// of its request quota.
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout is returned when a request did not complete in time.
	ErrTimeout = errors.New("request timed out")
)

// APIError is a non-2xx response from a remote tracker.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	// Kind is one of the sentinel errors above, or nil.
	Kind error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tracker: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("tracker: %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets errors.Is match the sentinel kind.
func (e *APIError) Unwrap() error {
	return e.Kind
}

// IsNotFound reports whether err means the remote object is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
