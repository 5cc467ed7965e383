package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DomainEvent is one immutable entry in an aggregate's history. Events are
// append-only: they are never mutated or deleted, and for a given aggregate
// their versions form a gap-free strictly increasing sequence starting at 1.
type DomainEvent struct {
	ID            string    `json:"id" firestore:"id"`
	AggregateID   string    `json:"aggregateId" firestore:"aggregateId"`
	AggregateType string    `json:"aggregateType" firestore:"aggregateType"`
	EventType     string    `json:"eventType" firestore:"eventType"`
	EventData     []byte    `json:"eventData" firestore:"eventData"`
	Version       int64     `json:"version" firestore:"version"`
	Timestamp     time.Time `json:"timestamp" firestore:"timestamp"`
}

// ConflictError is returned by Append when expectedVersion does not name the
// next free version of the aggregate. The caller must re-read the current
// head and either discard its event as redundant or retry with the refreshed
// version.
type ConflictError struct {
	AggregateID string
	Expected    int64
	Actual      int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on aggregate %q: expected version %d, head is %d",
		e.AggregateID, e.Expected, e.Actual)
}

// IsConflict reports whether err is an optimistic-concurrency conflict.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// EventStore is the append-only, versioned log of domain events. It is the
// only mutable shared resource in the system; no component mutates aggregate
// state except through its atomic append contract.
type EventStore interface {
	// Append stores a new event iff expectedVersion == head+1 for the
	// aggregate, and returns the stored event with its assigned version.
	// Any other expectedVersion returns a *ConflictError. Appends for the
	// same aggregate are serialized; different aggregates proceed in
	// parallel.
	Append(ctx context.Context, aggregateID, aggregateType, eventType string, data []byte, expectedVersion int64) (DomainEvent, error)

	// Read returns the complete ordered history for an aggregate. An unknown
	// aggregate returns an empty history, not an error. The history can be
	// re-read in full any number of times.
	Read(ctx context.Context, aggregateID string) ([]DomainEvent, error)

	// ListAggregates returns the ids of all aggregates of the given type,
	// for projection rebuilds and list queries.
	ListAggregates(ctx context.Context, aggregateType string) ([]string, error)
}
