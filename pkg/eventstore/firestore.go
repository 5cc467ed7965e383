package eventstore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore-backed event store.
type FirestoreConfig struct {
	ProjectID string
	// CollectionName is the root collection. Each aggregate owns one head
	// document keyed by its id, with the history in an "events" subcollection.
	CollectionName string
}

// streamHead is the per-aggregate head document. It exists so the append
// transaction has a single document to contend on, and so aggregates can be
// enumerated without scanning event documents.
type streamHead struct {
	AggregateID   string `firestore:"aggregateId"`
	AggregateType string `firestore:"aggregateType"`
	Version       int64  `firestore:"version"`
}

// FirestoreEventStore is a durable EventStore backed by Firestore. The
// optimistic-concurrency contract is enforced with a transaction over the
// aggregate's head document, so two racing appends for the same aggregate can
// never both commit the same version.
type FirestoreEventStore struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreEventStore creates a store over an externally managed client.
func NewFirestoreEventStore(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreEventStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name is required")
	}
	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreEventStore initialized.")
	return &FirestoreEventStore{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreEventStore").Logger(),
	}, nil
}

func (s *FirestoreEventStore) headRef(aggregateID string) *firestore.DocumentRef {
	return s.client.Collection(s.collectionName).Doc(aggregateID)
}

func (s *FirestoreEventStore) eventRef(aggregateID string, version int64) *firestore.DocumentRef {
	return s.headRef(aggregateID).Collection("events").Doc(fmt.Sprintf("%012d", version))
}

// Append commits the event and the advanced head in one transaction.
func (s *FirestoreEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, data []byte, expectedVersion int64) (DomainEvent, error) {
	event := DomainEvent{
		ID:            uuid.NewString(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     data,
		Version:       expectedVersion,
		Timestamp:     time.Now().UTC(),
	}

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		var head streamHead
		snap, err := tx.Get(s.headRef(aggregateID))
		switch {
		case status.Code(err) == codes.NotFound:
			head = streamHead{AggregateID: aggregateID, AggregateType: aggregateType}
		case err != nil:
			return fmt.Errorf("read stream head for %s: %w", aggregateID, err)
		default:
			if err := snap.DataTo(&head); err != nil {
				return fmt.Errorf("decode stream head for %s: %w", aggregateID, err)
			}
		}

		if expectedVersion != head.Version+1 {
			return &ConflictError{AggregateID: aggregateID, Expected: expectedVersion, Actual: head.Version}
		}

		head.Version = expectedVersion
		if err := tx.Set(s.headRef(aggregateID), head); err != nil {
			return fmt.Errorf("advance stream head for %s: %w", aggregateID, err)
		}
		// Create, not Set: an existing event document at this version means
		// the head and the log disagree and the append must not clobber it.
		if err := tx.Create(s.eventRef(aggregateID, expectedVersion), event); err != nil {
			return fmt.Errorf("write event %s v%d: %w", aggregateID, expectedVersion, err)
		}
		return nil
	})
	if err != nil {
		return DomainEvent{}, err
	}

	s.logger.Debug().Str("aggregate_id", aggregateID).Str("event_type", eventType).Int64("version", expectedVersion).Msg("Appended event to Firestore.")
	return event, nil
}

// Read streams the full history in version order.
func (s *FirestoreEventStore) Read(ctx context.Context, aggregateID string) ([]DomainEvent, error) {
	iter := s.headRef(aggregateID).Collection("events").OrderBy("version", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var history []DomainEvent
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return history, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read events for %s: %w", aggregateID, err)
		}
		var event DomainEvent
		if err := snap.DataTo(&event); err != nil {
			return nil, fmt.Errorf("decode event for %s: %w", aggregateID, err)
		}
		history = append(history, event)
	}
}

// ListAggregates enumerates head documents of the given aggregate type.
func (s *FirestoreEventStore) ListAggregates(ctx context.Context, aggregateType string) ([]string, error) {
	iter := s.client.Collection(s.collectionName).
		Where("aggregateType", "==", aggregateType).
		Documents(ctx)
	defer iter.Stop()

	var ids []string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return ids, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list %s aggregates: %w", aggregateType, err)
		}
		ids = append(ids, snap.Ref.ID)
	}
}
