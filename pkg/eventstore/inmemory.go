package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// stream holds one aggregate's history. Each stream carries its own lock so
// appends for different aggregates never contend with each other.
type stream struct {
	mu            sync.Mutex
	aggregateType string
	events        []DomainEvent
}

// InMemoryEventStore is a thread-safe, in-process EventStore. It is the
// authoritative store for tests and embedded deployments; durable deployments
// use the Firestore implementation behind the same interface.
type InMemoryEventStore struct {
	mu      sync.RWMutex
	streams map[string]*stream
}

// NewInMemoryEventStore creates an empty in-memory event store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		streams: make(map[string]*stream),
	}
}

// streamFor returns the aggregate's stream, creating it only for the first
// append (expectedVersion 1). A conflicting append against an unknown id must
// not register an empty stream that would surface in ListAggregates.
func (s *InMemoryEventStore) streamFor(aggregateID, aggregateType string, expectedVersion int64) (*stream, error) {
	s.mu.RLock()
	st, ok := s.streams[aggregateID]
	s.mu.RUnlock()
	if ok {
		return st, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.streams[aggregateID]; ok {
		return st, nil
	}
	if expectedVersion != 1 {
		return nil, &ConflictError{AggregateID: aggregateID, Expected: expectedVersion, Actual: 0}
	}
	st = &stream{aggregateType: aggregateType}
	s.streams[aggregateID] = st
	return st, nil
}

// Append stores a new event under the optimistic-concurrency contract. The
// per-stream lock guarantees no two concurrent appends for the same aggregate
// can both succeed with the same resulting version.
func (s *InMemoryEventStore) Append(_ context.Context, aggregateID, aggregateType, eventType string, data []byte, expectedVersion int64) (DomainEvent, error) {
	st, err := s.streamFor(aggregateID, aggregateType, expectedVersion)
	if err != nil {
		return DomainEvent{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	head := int64(len(st.events))
	if expectedVersion != head+1 {
		return DomainEvent{}, &ConflictError{AggregateID: aggregateID, Expected: expectedVersion, Actual: head}
	}

	event := DomainEvent{
		ID:            uuid.NewString(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     data,
		Version:       expectedVersion,
		Timestamp:     time.Now().UTC(),
	}
	st.events = append(st.events, event)
	return event, nil
}

// Read returns a copy of the aggregate's full ordered history.
func (s *InMemoryEventStore) Read(_ context.Context, aggregateID string) ([]DomainEvent, error) {
	s.mu.RLock()
	st, ok := s.streams[aggregateID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	history := make([]DomainEvent, len(st.events))
	copy(history, st.events)
	return history, nil
}

// ListAggregates returns the sorted ids of all aggregates of the given type.
func (s *InMemoryEventStore) ListAggregates(_ context.Context, aggregateType string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, st := range s.streams {
		if st.aggregateType == aggregateType {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
