package batch

import (
	"context"
	"errors"

	"github.com/roach88/treesync/internal/tracker"
)

// transient is implemented by errors that know they are worth retrying.
type transient interface {
	Transient() bool
}

// IsTransient reports whether err is a retryable remote failure:
// a rate-limit signal, a timeout, or an error that declares itself transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, tracker.ErrRateLimited) || errors.Is(err, tracker.ErrTimeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}
