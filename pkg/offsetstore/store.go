// Package offsetstore persists stream read positions keyed by (queue name, consumer tag).
package offsetstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nimburion/rabbitqueue/pkg/queue"
)

var (
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("offsetstore invalid argument")
	// ErrClosed classifies operations on a closed store.
	ErrClosed = errors.New("offsetstore closed")
	// ErrBackend classifies failures of the underlying storage system.
	ErrBackend = errors.New("offsetstore backend error")
)

// Store is a durable (queue name, consumer tag) -> offset mapping.
// Fetch returns queue.PositionOffset(0) when nothing is stored.
type Store interface {
	Store(ctx context.Context, name, consumerTag string, offset queue.Offset) error
	Fetch(ctx context.Context, name, consumerTag string) (queue.Offset, error)
	Reset(ctx context.Context, name, consumerTag string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// DefaultOffset is returned by Fetch for keys that were never stored or were reset.
func DefaultOffset() queue.Offset {
	return queue.PositionOffset(0)
}

// EntryKey derives the storage key for a (name, consumerTag) pair. Raw names
// never reach the backend.
func EntryKey(name, consumerTag string) string {
	sum := sha256.Sum256([]byte(name + "_" + consumerTag))
	return hex.EncodeToString(sum[:])
}

// EncodeOffset serializes an offset for backends that store opaque values.
func EncodeOffset(offset queue.Offset) (string, error) {
	data, err := json.Marshal(offset)
	if err != nil {
		return "", Error(ErrInvalidArgument, fmt.Sprintf("encode offset: %v", err))
	}
	return string(data), nil
}

// DecodeOffset parses a value written by EncodeOffset.
func DecodeOffset(value string) (queue.Offset, error) {
	var offset queue.Offset
	if err := json.Unmarshal([]byte(value), &offset); err != nil {
		return queue.Offset{}, Error(ErrBackend, fmt.Sprintf("decode stored offset %q: %v", value, err))
	}
	return offset, nil
}

// ValidateKey rejects empty queue names. An empty consumer tag is allowed.
func ValidateKey(name string) error {
	if strings.TrimSpace(name) == "" {
		return Error(ErrInvalidArgument, "queue name is required")
	}
	return nil
}

// Error wraps kind with a message so callers can match it with errors.Is.
func Error(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
