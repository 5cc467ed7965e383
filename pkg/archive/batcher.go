// Package archive provides the cold-path sinks: accepted domain events are
// streamed into BigQuery for audit queries, and raw inbound telemetry is
// batched into compressed JSONL objects in Google Cloud Storage.
package archive

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BatchSink is a generic interface for writing a batch of items. It abstracts
// the destination data store (BigQuery, GCS, a test fake).
type BatchSink[T any] interface {
	WriteBatch(ctx context.Context, items []*T) error
	Close() error
}

// BatcherConfig holds configuration for the Batcher.
type BatcherConfig struct {
	BatchSize     int
	FlushInterval time.Duration // How often to flush a partial batch.
	WriteTimeout  time.Duration // The timeout for a single flush operation.
}

// Batcher collects items of type T and flushes them to a BatchSink either
// when the batch is full or on a timer. Items are archive copies, so a failed
// flush is logged and dropped rather than retried; the hot path never depends
// on it.
type Batcher[T any] struct {
	config    BatcherConfig
	sink      BatchSink[T]
	logger    zerolog.Logger
	inputChan chan *T
	wg        sync.WaitGroup
}

// NewBatcher creates a new generic Batcher.
func NewBatcher[T any](config BatcherConfig, sink BatchSink[T], logger zerolog.Logger) *Batcher[T] {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 30 * time.Second
	}
	return &Batcher[T]{
		config:    config,
		sink:      sink,
		logger:    logger.With().Str("component", "Batcher").Logger(),
		inputChan: make(chan *T, config.BatchSize*2),
	}
}

// Input returns the channel to which items should be sent. Senders should use
// TrySubmit when loss is preferable to blocking.
func (b *Batcher[T]) Input() chan<- *T {
	return b.inputChan
}

// TrySubmit offers an item without blocking. It reports false when the input
// buffer is full and the item was discarded.
func (b *Batcher[T]) TrySubmit(item *T) bool {
	select {
	case b.inputChan <- item:
		return true
	default:
		b.logger.Warn().Msg("Archive buffer full, discarding item.")
		return false
	}
}

// Start begins the batching worker.
func (b *Batcher[T]) Start(ctx context.Context) {
	b.logger.Info().
		Int("batch_size", b.config.BatchSize).
		Dur("flush_interval", b.config.FlushInterval).
		Msg("Starting archive batcher...")
	b.wg.Add(1)
	go b.worker(ctx)
}

// Stop gracefully shuts down the Batcher, flushing any partial batch.
func (b *Batcher[T]) Stop(ctx context.Context) error {
	b.logger.Info().Msg("Stopping archive batcher...")
	close(b.inputChan)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info().Msg("Archive batcher worker stopped gracefully.")
	case <-ctx.Done():
		b.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for archive batcher worker to stop.")
		return ctx.Err()
	}

	if err := b.sink.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Error closing underlying archive sink")
	}
	b.logger.Info().Msg("Archive batcher stopped.")
	return nil
}

// worker collects items into a batch and flushes on size or timer.
func (b *Batcher[T]) worker(ctx context.Context) {
	defer b.wg.Done()
	batch := make([]*T, 0, b.config.BatchSize)
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush uses a background context so shutdown still lands
			// the last batch.
			b.flush(context.Background(), batch)
			return

		case item, ok := <-b.inputChan:
			if !ok {
				b.flush(ctx, batch)
				return
			}
			batch = append(batch, item)
			if len(batch) >= b.config.BatchSize {
				b.flush(ctx, batch)
				batch = make([]*T, 0, b.config.BatchSize)
				ticker.Reset(b.config.FlushInterval)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = make([]*T, 0, b.config.BatchSize)
			}
		}
	}
}

func (b *Batcher[T]) flush(ctx context.Context, batch []*T) {
	if len(batch) == 0 {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, b.config.WriteTimeout)
	defer cancel()

	if err := b.sink.WriteBatch(writeCtx, batch); err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to write archive batch.")
		return
	}
	b.logger.Debug().Int("batch_size", len(batch)).Msg("Successfully flushed archive batch.")
}
