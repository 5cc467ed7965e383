package fleetservice_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-gateway-fleet/pkg/eventstore"
	"github.com/illmade-knight/go-gateway-fleet/pkg/fleet"
	"github.com/illmade-knight/go-gateway-fleet/pkg/fleetservice"
	"github.com/illmade-knight/go-gateway-fleet/pkg/ingest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConsumer struct {
	msgChan  chan ingest.Message
	doneChan chan struct{}
	stopOnce sync.Once
}

func newStubConsumer() *stubConsumer {
	return &stubConsumer{
		msgChan:  make(chan ingest.Message, 16),
		doneChan: make(chan struct{}),
	}
}

func (c *stubConsumer) Messages() <-chan ingest.Message { return c.msgChan }
func (c *stubConsumer) Start(_ context.Context) error   { return nil }
func (c *stubConsumer) Done() <-chan struct{}           { return c.doneChan }

func (c *stubConsumer) Stop(_ context.Context) error {
	c.stopOnce.Do(func() {
		close(c.msgChan)
		close(c.doneChan)
	})
	return nil
}

const fleetRules = `[
  {
    "name": "gateway-registration",
    "topic_pattern": "devices/+/register",
    "capture_names": ["gateway_id"],
    "enabled": true,
    "actions": [{"kind": "invoke", "handler": "handleRegistration"}]
  },
  {
    "name": "gateway-heartbeat",
    "topic_pattern": "devices/+/heartbeat",
    "capture_names": ["gateway_id"],
    "enabled": true,
    "actions": [{"kind": "invoke", "handler": "handleHeartbeat"}]
  }
]`

func writeRulesFile(t *testing.T, rules string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(rules), 0o600))
	return path
}

func TestLoadRules(t *testing.T) {
	rules, err := fleetservice.LoadRules(writeRulesFile(t, fleetRules))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"devices/+/register", "devices/+/heartbeat"}, rules.SubscriptionFilters())
}

func TestLoadRules_UnknownHandler(t *testing.T) {
	bad := `[{"name": "r", "topic_pattern": "a/+", "enabled": true,
		"actions": [{"kind": "invoke", "handler": "noSuchHandler"}]}]`
	_, err := fleetservice.LoadRules(writeRulesFile(t, bad))
	require.ErrorContains(t, err, "noSuchHandler")
}

func TestFleetService_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	rulesPath := writeRulesFile(t, fleetRules)
	rules, err := fleetservice.LoadRules(rulesPath)
	require.NoError(t, err)

	cfg := fleetservice.NewConfigDefaults()
	cfg.HTTPPort = ":0"
	cfg.RulesFile = rulesPath
	cfg.Ingress.NumWorkers = 1
	cfg.Ingress.PoolWorkers = 1

	consumer := newStubConsumer()
	store := eventstore.NewInMemoryEventStore()

	service, err := fleetservice.New(cfg, rules, fleetservice.Dependencies{
		Consumer: consumer,
		Store:    store,
	}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, service.Start(ctx))

	registration, err := json.Marshal(fleet.CreatedData{Name: "Depot A"})
	require.NoError(t, err)
	consumer.msgChan <- ingest.Message{
		ID:      "m1",
		Topic:   "devices/gw-1/register",
		Payload: registration,
	}

	require.Eventually(t, func() bool {
		events, readErr := store.Read(ctx, "gw-1")
		return readErr == nil && len(events) == 1
	}, 5*time.Second, 20*time.Millisecond, "registration should be appended first")

	heartbeat, err := json.Marshal(fleet.HeartbeatData{UptimeSeconds: 60, Health: "ok"})
	require.NoError(t, err)
	consumer.msgChan <- ingest.Message{
		ID:      "m2",
		Topic:   "devices/gw-1/heartbeat",
		Payload: heartbeat,
	}

	// The registration and heartbeat race through the pool; the handler
	// layer's per-gateway locking still yields a gap-free history.
	require.Eventually(t, func() bool {
		events, readErr := store.Read(ctx, "gw-1")
		return readErr == nil && len(events) == 2
	}, 5*time.Second, 20*time.Millisecond, "both events should be appended")

	baseURL := fmt.Sprintf("http://127.0.0.1%s", service.GetHTTPPort())

	resp, err := http.Get(baseURL + "/gateways/gw-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var gateway fleet.Gateway
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&gateway))
	assert.Equal(t, "gw-1", gateway.ID)
	assert.Equal(t, "Depot A", gateway.Name)
	assert.Equal(t, fleet.StatusConnected, gateway.Status)
	assert.Equal(t, int64(2), gateway.Version)

	listResp, err := http.Get(baseURL + "/gateways")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listResp.Body.Close() })
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	var gateways []fleet.Gateway
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&gateways))
	require.Len(t, gateways, 1)

	require.NoError(t, service.Shutdown(context.Background()))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	rules, err := fleetservice.LoadRules(writeRulesFile(t, fleetRules))
	require.NoError(t, err)

	cfg := fleetservice.NewConfigDefaults() // RulesFile left empty.
	_, err = fleetservice.New(cfg, rules, fleetservice.Dependencies{
		Consumer: newStubConsumer(),
		Store:    eventstore.NewInMemoryEventStore(),
	}, zerolog.Nop())
	require.ErrorContains(t, err, "rules_file is required")
}

func TestNew_RequiresStore(t *testing.T) {
	rulesPath := writeRulesFile(t, fleetRules)
	rules, err := fleetservice.LoadRules(rulesPath)
	require.NoError(t, err)

	cfg := fleetservice.NewConfigDefaults()
	cfg.RulesFile = rulesPath
	_, err = fleetservice.New(cfg, rules, fleetservice.Dependencies{
		Consumer: newStubConsumer(),
	}, zerolog.Nop())
	require.ErrorContains(t, err, "event store cannot be nil")
}
