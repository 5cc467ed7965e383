package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-gateway-fleet/pkg/ingest"
	"github.com/rs/zerolog"
)

const subscribeQoS = 1

// Consumer implements the ingest.MessageConsumer interface for an MQTT source.
// It subscribes to the filters derived from the enabled rule set, so the
// broker only delivers traffic at least one rule can match.
type Consumer struct {
	pahoClient mqtt.Client
	logger     zerolog.Logger
	outputChan chan ingest.Message
	doneChan   chan struct{}
	cfg        *ClientConfig
	filters    []string
	stopOnce   sync.Once
	closeMu    sync.RWMutex
	closed     bool
}

// NewConsumer creates a new Consumer. A nil client means one is built from the
// config when Start is called; tests inject a mock client instead. It does not
// connect until Start is called. An empty filter list subscribes to "#".
func NewConsumer(client mqtt.Client, cfg *ClientConfig, filters []string, logger zerolog.Logger) (*Consumer, error) {
	if cfg.BrokerURL == "" && client == nil {
		return nil, fmt.Errorf("MQTT broker URL is required")
	}
	if len(filters) == 0 {
		filters = []string{"#"}
	}
	return &Consumer{
		pahoClient: client,
		logger:     logger.With().Str("component", "MqttConsumer").Logger(),
		outputChan: make(chan ingest.Message, 1000),
		doneChan:   make(chan struct{}),
		cfg:        cfg,
		filters:    filters,
	}, nil
}

// Messages returns the read-only channel from which raw messages can be consumed.
func (c *Consumer) Messages() <-chan ingest.Message {
	return c.outputChan
}

// Start launches the connection logic and begins consuming messages. With an
// injected client it subscribes immediately; otherwise subscription happens in
// the OnConnect handler so it is re-established after every reconnect.
func (c *Consumer) Start(ctx context.Context) error {
	handler := c.handleIncomingMessage(ctx)

	if c.pahoClient != nil {
		c.subscribe(c.pahoClient, handler)
	} else {
		opts := c.createMqttOptions(handler)
		c.pahoClient = mqtt.NewClient(opts)

		c.logger.Info().Msg("Attempting to connect to MQTT broker...")
		if token := c.pahoClient.Connect(); token.WaitTimeout(5*time.Second) && token.Error() != nil {
			c.logger.Error().Err(token.Error()).Msg("Failed to connect to MQTT broker on startup. The Paho client will continue to retry in the background.")
		} else if token.Error() == nil {
			c.logger.Info().Msg("Initial connection to MQTT broker successful.")
		}
	}

	go func() {
		<-ctx.Done()
		c.logger.Info().Msg("Shutdown signal received, ensuring consumer is stopped.")
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop gracefully ceases message consumption.
func (c *Consumer) Stop(_ context.Context) error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping MqttConsumer...")
		if c.pahoClient != nil && c.pahoClient.IsConnected() {
			if token := c.pahoClient.Unsubscribe(c.filters...); token.WaitTimeout(2*time.Second) && token.Error() != nil {
				c.logger.Warn().Err(token.Error()).Strs("filters", c.filters).Msg("Failed to unsubscribe from MQTT filters.")
			}
			c.pahoClient.Disconnect(500) // 500ms grace period
			c.logger.Info().Msg("Paho MQTT client disconnected.")
		}
		// Closing doneChan first unblocks any Paho handler waiting to send, and
		// taking the write lock then guarantees no handler is mid-send before
		// the output channel is closed.
		close(c.doneChan)
		c.closeMu.Lock()
		c.closed = true
		c.closeMu.Unlock()
		close(c.outputChan)
		c.logger.Info().Msg("MqttConsumer stopped.")
	})
	return nil
}

// Done returns a channel that is closed when the consumer has fully stopped.
func (c *Consumer) Done() <-chan struct{} {
	return c.doneChan
}

// IsConnected returns the connection status of the underlying Paho client.
// This is useful for integration tests to wait until the consumer is ready.
func (c *Consumer) IsConnected() bool {
	return c.pahoClient != nil && c.pahoClient.IsConnected()
}

func (c *Consumer) subscribe(client mqtt.Client, handler mqtt.MessageHandler) {
	subscriptions := make(map[string]byte, len(c.filters))
	for _, filter := range c.filters {
		subscriptions[filter] = subscribeQoS
	}
	token := client.SubscribeMultiple(subscriptions, handler)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			c.logger.Error().Err(token.Error()).Strs("filters", c.filters).Msg("Failed to subscribe to MQTT filters.")
		} else {
			c.logger.Info().Strs("filters", c.filters).Msg("Successfully subscribed to MQTT filters.")
		}
	}()
}

// handleIncomingMessage converts Paho messages into the ingress format,
// preserving the concrete topic and QoS the routing layer needs.
func (c *Consumer) handleIncomingMessage(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		c.logger.Debug().Str("topic", msg.Topic()).Msg("Received MQTT message")
		payloadCopy := make([]byte, len(msg.Payload()))
		copy(payloadCopy, msg.Payload())

		consumedMsg := ingest.Message{
			ID:          uuid.NewString(),
			Topic:       msg.Topic(),
			Payload:     payloadCopy,
			QoS:         msg.Qos(),
			PublishTime: time.Now().UTC(),
			Attributes:  map[string]string{"mqtt_message_id": fmt.Sprintf("%d", msg.MessageID())},
			// For MQTT with QoS > 0, the ack is handled at the protocol level
			// by the Paho client, so these satisfy the interface with no-ops.
			Ack:  func() {},
			Nack: func() {},
		}
		c.deliver(ctx, consumedMsg)
	}
}

// deliver hands a converted message to the output channel. The read lock and
// closed flag keep Stop from closing the channel under an in-flight send; a
// late Paho callback after Stop drops the message instead of panicking.
func (c *Consumer) deliver(ctx context.Context, msg ingest.Message) {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		c.logger.Warn().Str("topic", msg.Topic).Msg("Consumer is stopped, dropping MQTT message.")
		return
	}
	select {
	case c.outputChan <- msg:
	case <-c.doneChan:
		c.logger.Warn().Str("topic", msg.Topic).Msg("Consumer is shutting down, dropping MQTT message.")
	case <-ctx.Done():
		c.logger.Warn().Str("topic", msg.Topic).Msg("Consumer is shutting down, dropping MQTT message.")
	}
}

// createMqttOptions assembles the Paho client options from the config.
func (c *Consumer) createMqttOptions(handler mqtt.MessageHandler) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL)
	uniqueSuffix := time.Now().UnixNano() % 1000000
	opts.SetClientID(fmt.Sprintf("%s%d", c.cfg.ClientIDPrefix, uniqueSuffix))
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword(c.cfg.Password)
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.cfg.ReconnectWaitMax)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.logger.Info().Str("broker", c.cfg.BrokerURL).Msg("Paho client connected to MQTT broker.")
		c.subscribe(client, handler)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Error().Err(err).Msg("Paho client lost MQTT connection.")
	})

	if strings.HasPrefix(strings.ToLower(c.cfg.BrokerURL), "tls://") {
		tlsConfig, err := newTLSConfig(c.cfg)
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to create TLS config, proceeding without it.")
		} else {
			opts.SetTLSConfig(tlsConfig)
			c.logger.Info().Msg("TLS configured for MQTT client.")
		}
	}
	return opts
}
