package ingest

import (
	"context"
)

// MessageConsumer is a message source (MQTT, Pub/Sub, a test fake). It fetches
// messages from a broker and hands them to the ingress loop over a channel.
type MessageConsumer interface {
	// Messages returns the read-only channel ingress workers receive from.
	Messages() <-chan Message
	// Start begins consumption. It must not block for the consumer's lifetime.
	Start(ctx context.Context) error
	// Stop gracefully ceases consumption and waits for background tasks.
	Stop(ctx context.Context) error
	// Done is closed when the consumer has completely shut down.
	Done() <-chan struct{}
}
