package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies malformed job envelopes and invalid registrations.
	ErrValidation = errors.New("jobs validation error")
	// ErrHandlerNotFound classifies jobs whose name has no registered handler.
	ErrHandlerNotFound = errors.New("jobs handler not found")
	// ErrJobFailed classifies handler failures after the retry decision was applied.
	ErrJobFailed = errors.New("jobs execution failed")
	// ErrConflict classifies state conflicts (for example an already-running worker).
	ErrConflict = errors.New("jobs conflict")
	// ErrNotInitialized classifies missing manager/worker initialization.
	ErrNotInitialized = errors.New("jobs not initialized")
)

func jobsError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
