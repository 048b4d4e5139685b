package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies invalid tasks and schedules.
	ErrValidation = errors.New("scheduler validation error")
	// ErrConflict classifies duplicate tasks, a second Start, rejected lock releases.
	ErrConflict = errors.New("scheduler conflict")
	// ErrNotFound is returned by Trigger for an unknown task.
	ErrNotFound = errors.New("scheduler task not found")
	// ErrLockBackend wraps failures of the lock backend.
	ErrLockBackend = errors.New("scheduler lock backend error")
	// ErrNotInitialized classifies nil receivers and missing collaborators.
	ErrNotInitialized = errors.New("scheduler not initialized")
)

func schedulerError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
