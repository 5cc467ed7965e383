package ingest

import (
	"time"
)

// Message is the canonical representation of an inbound telemetry message.
// It is read-only once received: rules and actions may derive new payloads
// and topics from it but never mutate it in place.
type Message struct {
	// ID is the unique identifier for the message from the source broker.
	ID string `json:"id"`

	// Topic is the concrete topic the message arrived on. Never contains
	// wildcards.
	Topic string `json:"topic"`

	// Payload is the raw byte content of the message, typically JSON.
	Payload []byte `json:"payload"`

	// QoS is the delivery quality-of-service level the broker used (0/1/2).
	QoS byte `json:"qos"`

	// PublishTime is when the message was received from the broker.
	PublishTime time.Time `json:"publishTime"`

	// Attributes holds transport metadata that does not belong in the payload.
	Attributes map[string]string `json:"-"`

	// Ack signals that the message has been handed to the dispatch layer and
	// can be removed from the source. Delivery is at-least-once; duplicate
	// redelivery is absorbed by idempotent event application downstream.
	Ack func() `json:"-"`

	// Nack signals that the message could not be dispatched and should be
	// redelivered or dead-lettered by the source.
	Nack func() `json:"-"`
}
