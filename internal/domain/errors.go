package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, rate limits, 5xx.
	ErrTransient = errors.New("transient failure")
	// ErrMalformed marks an upstream entry that cannot be parsed.
	ErrMalformed = errors.New("malformed data")
	// ErrFatal marks a condition the runtime cannot recover from.
	ErrFatal = errors.New("fatal")
	// ErrUnauthorized is an authorization failure from the order API.
	ErrUnauthorized = fmt.Errorf("unauthorized: %w", ErrFatal)
	// ErrInsufficientBalance is returned when a fill costs more than available cash.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrRejected is a non-retryable order rejection.
	ErrRejected = errors.New("order rejected")
	// ErrAlreadyRunning is returned by Start when the bot is already running.
	ErrAlreadyRunning = errors.New("already_running")
	// ErrNotFound is returned when a market or resource does not exist upstream.
	ErrNotFound = errors.New("not found")
)

// ExecutionError is a decision-level rejection produced by an executor.
type ExecutionError struct {
	Reason SkipReason
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err should stop the bot.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
