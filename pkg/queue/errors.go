package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionFailure classifies broker transport failures. The next operation reconnects.
	ErrConnectionFailure = errors.New("queue connection failure")
	// ErrTransportTimeout classifies a wait that elapsed without a message.
	// The consume loop converts it into a "no message" result.
	ErrTransportTimeout = errors.New("queue transport timeout")
	// ErrUnsupportedOperation classifies operations a queue variant cannot perform.
	ErrUnsupportedOperation = errors.New("queue unsupported operation")
	// ErrNotImplemented classifies operations no variant implements (for example peek).
	ErrNotImplemented = fmt.Errorf("%w: not implemented", ErrUnsupportedOperation)
	// ErrInvalidOffsetType classifies offset values inconsistent with their declared type.
	ErrInvalidOffsetType = errors.New("queue invalid offset type")
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("queue invalid argument")
	// ErrNotFound classifies unknown queue names.
	ErrNotFound = errors.New("queue not found")
	// ErrClosed classifies operations on a closed queue.
	ErrClosed = errors.New("queue closed")
)

// Error wraps kind with a message so callers can still match it with errors.Is.
func Error(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
