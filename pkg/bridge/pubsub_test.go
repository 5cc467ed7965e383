package bridge_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-gateway-fleet/pkg/bridge"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// setupTestPubsub creates a mock Pub/Sub server, client, topic, and subscription for testing.
func setupTestPubsub(t *testing.T, projectID, topicID, subID string) (*pubsub.Client, *pubsub.Subscription) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, topicID)
	require.NoError(t, err)

	sub, err := client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	return client, sub
}

func TestPubsubPublisher_PublishAndStop(t *testing.T) {
	testCtx, testCancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(testCancel)

	uniqueSuffix := fmt.Sprintf("mirror-%d", time.Now().UnixNano())
	projectID := "proj-" + uniqueSuffix
	topicID := "topic-" + uniqueSuffix
	subID := "sub-" + uniqueSuffix

	pubsubClient, subscription := setupTestPubsub(t, projectID, topicID, subID)

	cfg := bridge.NewPubsubPublisherDefaults(topicID)
	publisher, err := bridge.NewPubsubPublisher(testCtx, cfg, pubsubClient, zerolog.Nop())
	require.NoError(t, err)

	payload := []byte(`{"uptime": 300}`)
	err = publisher.Publish(testCtx, "fanout/gw-9/heartbeat", payload, 1, true)
	require.NoError(t, err)

	var mu sync.Mutex
	var receivedMsg *pubsub.Message

	receiveCtx, receiveCancel := context.WithCancel(testCtx)
	t.Cleanup(receiveCancel)

	go func() {
		err := subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			mu.Lock()
			receivedMsg = msg
			mu.Unlock()
			msg.Ack()
			receiveCancel()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Receive error")
		}
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return receivedMsg != nil
	}, 5*time.Second, 50*time.Millisecond, "Did not receive message from subscription")

	assert.Equal(t, payload, receivedMsg.Data)
	assert.Equal(t, "fanout/gw-9/heartbeat", receivedMsg.Attributes["broker_topic"])
	assert.Equal(t, "1", receivedMsg.Attributes["qos"])
	assert.Equal(t, "true", receivedMsg.Attributes["retain"])

	stopCtx, stopCancel := context.WithTimeout(testCtx, 2*time.Second)
	t.Cleanup(stopCancel)
	require.NoError(t, publisher.Stop(stopCtx))
}

func TestNewPubsubPublisher_MissingTopic(t *testing.T) {
	testCtx, testCancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(testCancel)

	uniqueSuffix := fmt.Sprintf("missing-%d", time.Now().UnixNano())
	pubsubClient, _ := setupTestPubsub(t, "proj-"+uniqueSuffix, "topic-"+uniqueSuffix, "sub-"+uniqueSuffix)

	cfg := bridge.NewPubsubPublisherDefaults("no-such-topic")
	_, err := bridge.NewPubsubPublisher(testCtx, cfg, pubsubClient, zerolog.Nop())
	require.ErrorContains(t, err, "does not exist")
}

func TestNewPubsubPublisher_NilClient(t *testing.T) {
	_, err := bridge.NewPubsubPublisher(context.Background(), bridge.NewPubsubPublisherDefaults("t"), nil, zerolog.Nop())
	require.Error(t, err)
}
