package eventlog

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no event matches the requested index or action id.
var ErrNotFound = errors.New("event not found")

// ErrUnavailable wraps durability failures. Callers should surface it as
// retryable; it must never be silently dropped.
var ErrUnavailable = errors.New("event store unavailable")

// Store is the interface for the append-only causal event log.
// Both MemoryStore and PostgresStore implement this interface.
//
// A scope is an ordering domain, typically one per agent. Events within a
// scope are totally ordered by append; no ordering holds across scopes.
type Store interface {
	// Append adds an event to the scope's chain. The store fills in Index,
	// PrevHash, and Hash; all other fields must be set by the caller.
	// Once Append returns the event is durably part of history.
	Append(ctx context.Context, scope string, e *Event) (*Event, error)

	// Get returns the event at the given zero-based index within a scope.
	Get(ctx context.Context, scope string, index int) (*Event, error)

	// ByActionID returns the event previously appended with the given action
	// id, or ErrNotFound. This is the idempotency index lookup.
	ByActionID(ctx context.Context, actionID string) (*Event, error)

	// Len returns the number of events in a scope.
	Len(ctx context.Context, scope string) (int, error)

	// Snapshot returns a read-consistent copy of the scope's full chain in
	// append order. Evaluators work on snapshots so reads never hold the
	// chain locked for the duration of an evaluation.
	Snapshot(ctx context.Context, scope string) ([]*Event, error)

	// Tail returns the most recent event in a scope, or nil for an empty chain.
	Tail(ctx context.Context, scope string) (*Event, error)

	// Verify walks the scope's entire chain and checks hash consistency,
	// re-deriving every hash from raw fields. Returns nil if intact.
	Verify(ctx context.Context, scope string) error

	// Root returns the hash of the chain tip, or GenesisHash for an empty scope.
	Root(ctx context.Context, scope string) (string, error)

	// Scopes lists every scope that has at least one event.
	Scopes(ctx context.Context) ([]string, error)
}
