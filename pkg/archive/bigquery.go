package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-gateway-fleet/pkg/eventstore"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// BigQueryDatasetConfig holds configuration for a BigQuery dataset and table.
type BigQueryDatasetConfig struct {
	DatasetID       string
	TableID         string
	CredentialsFile string // Optional: Path to a service account JSON file.
}

// NewProductionBigQueryClient creates a BigQuery client suitable for
// production environments, using a credentials file when one is configured
// and Application Default Credentials otherwise.
func NewProductionBigQueryClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for BigQuery client.")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client.")
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	return client, nil
}

// BigQuerySink implements BatchSink for Google BigQuery, streaming rows of
// type T into a specified table.
type BigQuerySink[T any] struct {
	client   *bigquery.Client
	table    *bigquery.Table
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQuerySink creates a new sink for a specified BigQuery table.
//
// The provided context is used for initial API calls to verify the target
// table. If the table does not exist it is created with a schema inferred
// from T, so new row types deploy without manual table creation.
func NewBigQuerySink[T any](
	ctx context.Context,
	client *bigquery.Client,
	cfg *BigQueryDatasetConfig,
	logger zerolog.Logger,
) (*BigQuerySink[T], error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("BigQueryDatasetConfig cannot be nil")
	}

	projectID := client.Project()
	logger = logger.With().Str("project_id", projectID).Str("dataset_id", cfg.DatasetID).Str("table_id", cfg.TableID).Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	_, err := tableRef.Metadata(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "notFound") {
			logger.Warn().Msg("BigQuery table not found. Attempting to create with inferred schema.")
			var zero T
			inferredSchema, inferErr := bigquery.InferSchema(zero)
			if inferErr != nil {
				return nil, fmt.Errorf("failed to infer schema for type %T: %w", zero, inferErr)
			}
			tableMetadata := &bigquery.TableMetadata{Schema: inferredSchema}
			if createErr := tableRef.Create(ctx, tableMetadata); createErr != nil {
				return nil, fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, createErr)
			}
			logger.Info().Msg("BigQuery table created successfully.")
		} else {
			return nil, fmt.Errorf("failed to get BigQuery table metadata: %w", err)
		}
	} else {
		logger.Info().Msg("Successfully connected to existing BigQuery table.")
	}

	return &BigQuerySink[T]{
		client:   client,
		table:    tableRef,
		inserter: tableRef.Inserter(),
		logger:   logger,
	}, nil
}

// WriteBatch streams a batch of rows to the configured BigQuery table. Row
// level insertion errors are logged individually for debugging before the
// wrapping error is returned.
func (s *BigQuerySink[T]) WriteBatch(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}

	err := s.inserter.Put(ctx, items)
	if err != nil {
		s.logger.Error().Err(err).Int("batch_size", len(items)).Msg("Failed to insert rows into BigQuery.")
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				s.logger.Error().
					Int("row_index", rowErr.RowIndex).
					Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put failed: %w", err)
	}

	s.logger.Debug().Int("batch_size", len(items)).Msg("Successfully inserted batch into BigQuery.")
	return nil
}

// Close is a no-op; the BigQuery client's lifecycle is managed externally by
// the service that created it.
func (s *BigQuerySink[T]) Close() error {
	return nil
}

// EventArchiver streams every accepted domain event into a BigQuery audit
// table. Hook it to an event store via eventstore.WithObserver.
type EventArchiver struct {
	batcher *Batcher[eventstore.DomainEvent]
}

// NewEventArchiver wraps a sink in a batcher sized for event audit traffic.
func NewEventArchiver(sink BatchSink[eventstore.DomainEvent], cfg BatcherConfig, logger zerolog.Logger) *EventArchiver {
	return &EventArchiver{
		batcher: NewBatcher(cfg, sink, logger.With().Str("component", "EventArchiver").Logger()),
	}
}

// Observe is the eventstore observer callback. It never blocks the append
// path; when the buffer is full the audit copy is dropped with a warning.
func (a *EventArchiver) Observe(event eventstore.DomainEvent) {
	copied := event
	a.batcher.TrySubmit(&copied)
}

// Start launches the underlying batcher.
func (a *EventArchiver) Start(ctx context.Context) {
	a.batcher.Start(ctx)
}

// Stop flushes and stops the underlying batcher.
func (a *EventArchiver) Stop(ctx context.Context) error {
	return a.batcher.Stop(ctx)
}
