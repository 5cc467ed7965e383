package eventstore

import (
	"context"
)

// ObservedStore decorates an EventStore and invokes a callback for every
// accepted event. The callback runs after the append has committed, on the
// appending goroutine; slow observers should hand off to their own worker
// (the archive batcher does exactly that).
type ObservedStore struct {
	inner    EventStore
	observer func(DomainEvent)
}

// WithObserver wraps a store so accepted events are also delivered to fn.
func WithObserver(inner EventStore, fn func(DomainEvent)) *ObservedStore {
	return &ObservedStore{inner: inner, observer: fn}
}

// Append delegates to the inner store and notifies the observer on success.
func (s *ObservedStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, data []byte, expectedVersion int64) (DomainEvent, error) {
	event, err := s.inner.Append(ctx, aggregateID, aggregateType, eventType, data, expectedVersion)
	if err != nil {
		return DomainEvent{}, err
	}
	if s.observer != nil {
		s.observer(event)
	}
	return event, nil
}

// Read delegates to the inner store.
func (s *ObservedStore) Read(ctx context.Context, aggregateID string) ([]DomainEvent, error) {
	return s.inner.Read(ctx, aggregateID)
}

// ListAggregates delegates to the inner store.
func (s *ObservedStore) ListAggregates(ctx context.Context, aggregateType string) ([]string, error) {
	return s.inner.ListAggregates(ctx, aggregateType)
}
