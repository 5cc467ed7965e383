package archive_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-gateway-fleet/pkg/archive"
	"github.com/illmade-knight/go-gateway-fleet/pkg/eventstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Value string
}

type mockSink struct {
	mu      sync.Mutex
	batches [][]*record
	closed  bool
}

func (m *mockSink) WriteBatch(_ context.Context, items []*record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := make([]*record, len(items))
	copy(batch, items)
	m.batches = append(m.batches, batch)
	return nil
}

func (m *mockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSink) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func (m *mockSink) totalItems() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, b := range m.batches {
		total += len(b)
	}
	return total
}

func TestBatcher_FlushesOnBatchSize(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sink := &mockSink{}
	batcher := archive.NewBatcher(archive.BatcherConfig{
		BatchSize:     3,
		FlushInterval: time.Hour, // Only size triggers a flush here.
	}, sink, zerolog.Nop())
	batcher.Start(ctx)

	for i := 0; i < 3; i++ {
		batcher.Input() <- &record{Value: "item"}
	}

	require.Eventually(t, func() bool {
		return sink.batchCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "full batch should flush immediately")
	assert.Equal(t, 3, sink.totalItems())

	require.NoError(t, batcher.Stop(context.Background()))
}

func TestBatcher_FlushesOnInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sink := &mockSink{}
	batcher := archive.NewBatcher(archive.BatcherConfig{
		BatchSize:     100,
		FlushInterval: 50 * time.Millisecond,
	}, sink, zerolog.Nop())
	batcher.Start(ctx)

	batcher.Input() <- &record{Value: "lonely"}

	require.Eventually(t, func() bool {
		return sink.batchCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "partial batch should flush on the timer")

	require.NoError(t, batcher.Stop(context.Background()))
}

func TestBatcher_FlushesRemainderOnStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sink := &mockSink{}
	batcher := archive.NewBatcher(archive.BatcherConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
	}, sink, zerolog.Nop())
	batcher.Start(ctx)

	batcher.Input() <- &record{Value: "a"}
	batcher.Input() <- &record{Value: "b"}

	require.NoError(t, batcher.Stop(context.Background()))

	assert.Equal(t, 1, sink.batchCount())
	assert.Equal(t, 2, sink.totalItems())
	assert.True(t, sink.closed, "sink should be closed after Stop")
}

func TestBatcher_TrySubmitDropsWhenFull(t *testing.T) {
	sink := &mockSink{}
	// Never started, so the input buffer (BatchSize*2 = 2) fills up.
	batcher := archive.NewBatcher(archive.BatcherConfig{
		BatchSize:     1,
		FlushInterval: time.Hour,
	}, sink, zerolog.Nop())

	assert.True(t, batcher.TrySubmit(&record{Value: "1"}))
	assert.True(t, batcher.TrySubmit(&record{Value: "2"}))
	assert.False(t, batcher.TrySubmit(&record{Value: "3"}), "submit into a full buffer should report a drop")
}

type mockEventSink struct {
	mu     sync.Mutex
	events []*eventstore.DomainEvent
}

func (m *mockEventSink) WriteBatch(_ context.Context, items []*eventstore.DomainEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, items...)
	return nil
}

func (m *mockEventSink) Close() error { return nil }

func (m *mockEventSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestEventArchiver_ReceivesAcceptedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sink := &mockEventSink{}
	archiver := archive.NewEventArchiver(sink, archive.BatcherConfig{
		BatchSize:     10,
		FlushInterval: 20 * time.Millisecond,
	}, zerolog.Nop())
	archiver.Start(ctx)

	store := eventstore.WithObserver(eventstore.NewInMemoryEventStore(), archiver.Observe)

	_, err := store.Append(ctx, "gw-1", "gateway", "gateway_created", []byte(`{}`), 1)
	require.NoError(t, err)
	_, err = store.Append(ctx, "gw-1", "gateway", "gateway_heartbeat", []byte(`{}`), 2)
	require.NoError(t, err)

	// A rejected append must not reach the archive.
	_, err = store.Append(ctx, "gw-1", "gateway", "gateway_heartbeat", []byte(`{}`), 2)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return sink.count() == 2
	}, 2*time.Second, 10*time.Millisecond, "both accepted events should be archived")

	require.NoError(t, archiver.Stop(context.Background()))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "gateway_created", sink.events[0].EventType)
	assert.Equal(t, int64(1), sink.events[0].Version)
	assert.Equal(t, "gateway_heartbeat", sink.events[1].EventType)
}
