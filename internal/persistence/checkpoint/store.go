// Package checkpoint implements the checkpoint half of the persistence
// adapter (spec.md §4.4): a per-thread store of the full ConversationState,
// written atomically at every stage transition, keyed by thread_id.
package checkpoint

import (
	"context"
	"errors"
)

// ErrNotFound indicates no checkpoint exists for the given thread_id.
var ErrNotFound = errors.New("checkpoint: not found")

// Store persists ConversationState snapshots keyed by thread_id. T is the
// serialized representation used by the orchestration graph
// (convmodel.ConversationState); the store package itself stays
// representation-agnostic so it can be exercised against any value the
// caller can marshal.
type Store[T any] interface {
	// Setup prepares backing storage (indexes, collections). Idempotent.
	Setup(ctx context.Context) error

	// Load returns the stored state for threadID, or ErrNotFound.
	Load(ctx context.Context, threadID string) (T, error)

	// Save atomically replaces the stored state for threadID.
	Save(ctx context.Context, threadID string, state T) error
}
