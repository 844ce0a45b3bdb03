package engine

import (
	"errors"
	"time"
)

var (
	ErrDisabled    = errors.New("taskengine disabled")
	ErrStopped     = errors.New("taskengine stopped")
	ErrStopping    = errors.New("taskengine stopping")
	ErrQueueFull   = errors.New("taskengine queue full")
	ErrOverlapSkip = errors.New("task skipped due to overlap")
	ErrCircuitOpen = errors.New("task skipped: circuit open")
)

// noRetryError wraps an error to mark it as non-retryable.
type noRetryError struct{ err error }

func (e noRetryError) Error() string { return e.err.Error() }
func (e noRetryError) Unwrap() error { return e.err }

// NoRetry marks err so the engine fails the task immediately instead of
// retrying.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err was marked with NoRetry.
func IsNoRetry(err error) bool {
	var nr noRetryError
	return errors.As(err, &nr)
}

// RetryAfterError lets a task hint how long to wait before the next
// attempt (e.g. from an API rate-limit response).
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return e.err.Error() }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }

// RetryAfter wraps err with a retry delay hint.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}
