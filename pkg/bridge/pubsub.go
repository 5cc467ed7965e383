// Package bridge mirrors republished telemetry into Google Cloud Pub/Sub so
// downstream dataflows can consume fleet traffic without a broker connection.
package bridge

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// PubsubPublisherConfig holds configuration for the Pub/Sub mirror.
type PubsubPublisherConfig struct {
	TopicID string
	// BatchSize corresponds to Pub/Sub's CountThreshold.
	BatchSize int
	// BatchDelay corresponds to Pub/Sub's DelayThreshold.
	BatchDelay time.Duration
	// TopicExistsTimeout bounds the existence check at construction.
	TopicExistsTimeout time.Duration
	// PublishConfirmationTimeout bounds the wait on each publish result.
	PublishConfirmationTimeout time.Duration
}

// NewPubsubPublisherDefaults provides a config with sensible defaults.
func NewPubsubPublisherDefaults(topicID string) *PubsubPublisherConfig {
	return &PubsubPublisherConfig{
		TopicID:                    topicID,
		BatchSize:                  100,
		BatchDelay:                 100 * time.Millisecond,
		TopicExistsTimeout:         15 * time.Second,
		PublishConfirmationTimeout: 20 * time.Second,
	}
}

// PubsubPublisher implements the dispatch.Publisher interface on top of a
// Pub/Sub topic. The rendered republish topic travels as a message attribute
// so one Pub/Sub topic can carry the whole fleet's mirrored traffic, and the
// client's built-in batching absorbs publish bursts.
type PubsubPublisher struct {
	topic                      *pubsub.Topic
	logger                     zerolog.Logger
	publishConfirmationTimeout time.Duration
}

// NewPubsubPublisher creates a new PubsubPublisher. It validates the topic's
// existence before returning a functional publisher.
func NewPubsubPublisher(
	ctx context.Context,
	cfg *PubsubPublisherConfig,
	client *pubsub.Client,
	logger zerolog.Logger,
) (*PubsubPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for publisher")
	}

	topic := client.Topic(cfg.TopicID)
	topic.PublishSettings.DelayThreshold = cfg.BatchDelay
	topic.PublishSettings.CountThreshold = cfg.BatchSize
	topic.PublishSettings.Timeout = 10 * time.Second

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("PubsubPublisher initialized successfully.")
	return &PubsubPublisher{
		topic:                      topic,
		logger:                     logger.With().Str("component", "PubsubPublisher").Str("topic_id", cfg.TopicID).Logger(),
		publishConfirmationTimeout: cfg.PublishConfirmationTimeout,
	}, nil
}

// Publish mirrors one rendered message into the Pub/Sub topic. The rendered
// broker topic, QoS, and retain flag ride along as attributes. It waits for
// the publish result so dispatch failure isolation sees real errors.
func (p *PubsubPublisher) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"broker_topic": topic,
			"qos":          strconv.Itoa(int(qos)),
			"retain":       strconv.FormatBool(retain),
		},
	})

	getCtx, cancel := context.WithTimeout(ctx, p.publishConfirmationTimeout)
	defer cancel()
	msgID, err := res.Get(getCtx)
	if err != nil {
		return fmt.Errorf("failed to publish to pubsub for topic %s: %w", topic, err)
	}
	p.logger.Debug().Str("broker_topic", topic).Str("pubsub_msg_id", msgID).Msg("Message mirrored to Pub/Sub.")
	return nil
}

// Stop flushes any buffered messages and stops the topic client, respecting
// the provided context's timeout.
func (p *PubsubPublisher) Stop(ctx context.Context) error {
	p.logger.Info().Msg("Flushing remaining messages and stopping Pub/Sub topic...")
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()
	select {
	case <-stopDone:
		p.logger.Info().Msg("Pub/Sub topic stopped.")
		return nil
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for Pub/Sub topic to flush and stop.")
		return ctx.Err()
	}
}
