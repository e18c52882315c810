package thread

import (
	"context"
	"errors"
)

// ErrThreadNotFound is returned when an operation names a thread the store
// does not hold.
var ErrThreadNotFound = errors.New("thread not found")

// Store is the persistence boundary for threads and messages.
type Store interface {
	// CreateThread mints a new empty thread.
	CreateThread(ctx context.Context) (*Thread, error)

	// GetThread loads a thread record, ErrThreadNotFound when absent.
	GetThread(ctx context.Context, threadID string) (*Thread, error)

	// AddMessage appends one message and returns the saved record with its
	// assigned id. An error means the message was not saved.
	AddMessage(ctx context.Context, params AddMessageParams) (*Message, error)

	// Messages returns every message of a thread in insertion order.
	Messages(ctx context.Context, threadID string) ([]Message, error)

	// LLMMessages returns the model-visible subset in insertion order.
	LLMMessages(ctx context.Context, threadID string) ([]Message, error)

	Close() error
}
