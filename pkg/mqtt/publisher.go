package mqtt

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Publisher republishes rendered messages back onto the broker. It satisfies
// the dispatch.Publisher interface.
type Publisher struct {
	pahoClient  mqtt.Client
	logger      zerolog.Logger
	waitTimeout time.Duration
}

// NewPublisher creates a Publisher around a connected Paho client. The client
// is usually the consumer's, so republished traffic shares one broker session.
func NewPublisher(client mqtt.Client, logger zerolog.Logger) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("mqtt client cannot be nil")
	}
	return &Publisher{
		pahoClient:  client,
		logger:      logger.With().Str("component", "MqttPublisher").Logger(),
		waitTimeout: 5 * time.Second,
	}, nil
}

// Publish sends a payload to a concrete topic, honoring QoS and retain flags.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	token := p.pahoClient.Publish(topic, qos, retain, payload)

	timeout := p.waitTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out publishing to topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	p.logger.Debug().Str("topic", topic).Uint8("qos", qos).Msg("Republished message.")
	return nil
}
