package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-gateway-fleet/pkg/dispatch"
	"github.com/illmade-knight/go-gateway-fleet/pkg/eventstore"
	"github.com/illmade-knight/go-gateway-fleet/pkg/ingest"
	"github.com/illmade-knight/go-gateway-fleet/pkg/routing"
	"github.com/rs/zerolog"
)

// Handler names bound to invoke actions in rule configuration.
const (
	HandlerRegistration         = "handleRegistration"
	HandlerHeartbeat            = "handleHeartbeat"
	HandlerDisconnect           = "handleDisconnect"
	HandlerConfigRequest        = "handleConfigRequest"
	HandlerNewConfig            = "handleNewConfig"
	HandlerCertificateInstalled = "handleCertificateInstalled"
	HandlerDeletion             = "handleDeletion"
)

// appendAttempts bounds the conflict retry loop. Beyond this the conflict is
// surfaced to the invoke action's caller as a permanent failure.
const appendAttempts = 3

// keyedMutex hands out one mutex per aggregate id, serializing appends for a
// gateway while leaving different gateways fully parallel.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Handlers owns every named handler the rule set may invoke. Handlers are the
// only code path that appends domain events.
type Handlers struct {
	store      eventstore.EventStore
	projection *Projection
	locks      keyedMutex
	logger     zerolog.Logger
}

// NewHandlers creates the handler set over a store and its projection.
func NewHandlers(store eventstore.EventStore, projection *Projection, logger zerolog.Logger) *Handlers {
	return &Handlers{
		store:      store,
		projection: projection,
		logger:     logger.With().Str("component", "FleetHandlers").Logger(),
	}
}

// RegisterAll registers every named handler; the returned registry names feed
// rule-set validation so unknown handlers fail at load time.
func (h *Handlers) RegisterAll(registry *dispatch.HandlerRegistry) error {
	named := map[string]dispatch.Handler{
		HandlerRegistration:         h.HandleRegistration,
		HandlerHeartbeat:            h.HandleHeartbeat,
		HandlerDisconnect:           h.HandleDisconnect,
		HandlerConfigRequest:        h.HandleConfigRequest,
		HandlerNewConfig:            h.HandleNewConfig,
		HandlerCertificateInstalled: h.HandleCertificateInstalled,
		HandlerDeletion:             h.HandleDeletion,
	}
	for name, handler := range named {
		if err := registry.Register(name, handler); err != nil {
			return err
		}
	}
	return nil
}

func gatewayID(captures routing.Captures) (string, error) {
	id, ok := captures["gateway_id"]
	if !ok || id == "" {
		return "", fmt.Errorf("rule did not capture gateway_id for topic %q", captures[routing.OriginalTopic])
	}
	return id, nil
}

// currentState reads and folds the aggregate once. A nil gateway with no
// error means the aggregate does not exist yet.
func (h *Handlers) currentState(ctx context.Context, id string) (*Gateway, int64, error) {
	events, err := h.store.Read(ctx, id)
	if err != nil {
		return nil, 0, fmt.Errorf("read history for %s: %w", id, err)
	}
	head := int64(0)
	if len(events) > 0 {
		head = events[len(events)-1].Version
	}
	var g *Gateway
	for _, event := range events {
		next, applyErr := Apply(g, event)
		if applyErr != nil {
			continue
		}
		g = next
	}
	return g, head, nil
}

// append stores one event under the optimistic-concurrency contract, with a
// bounded retry on conflicts. requireExists rejects events for aggregates
// with no history; every event is rejected once the gateway is deleted.
func (h *Handlers) append(ctx context.Context, id, eventType string, data []byte, requireExists bool) error {
	unlock := h.locks.lock(id)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		g, head, err := h.currentState(ctx, id)
		if err != nil {
			return err
		}
		if g != nil && g.Status == StatusDeleted {
			return fmt.Errorf("gateway %q is deleted; %s rejected", id, eventType)
		}
		if requireExists && head == 0 {
			return fmt.Errorf("gateway %q does not exist; %s rejected", id, eventType)
		}

		_, err = h.store.Append(ctx, id, AggregateType, eventType, data, head+1)
		if err == nil {
			if _, refreshErr := h.projection.Refresh(ctx, id); refreshErr != nil {
				h.logger.Warn().Err(refreshErr).Str("gateway_id", id).Msg("Projection refresh failed after append.")
			}
			return nil
		}
		if !eventstore.IsConflict(err) {
			return fmt.Errorf("append %s for %s: %w", eventType, id, err)
		}
		lastErr = err
		h.logger.Debug().Err(err).Str("gateway_id", id).Int("attempt", attempt+1).Msg("Append conflicted; re-reading head version.")
	}
	return fmt.Errorf("append %s for %s: retries exhausted: %w", eventType, id, lastErr)
}

// HandleRegistration appends gateway_created for a new gateway. At-least-once
// transport means duplicate registrations arrive; a redundant duplicate is
// discarded, not reapplied and not an error.
func (h *Handlers) HandleRegistration(ctx context.Context, captures routing.Captures, msg ingest.Message) error {
	id, err := gatewayID(captures)
	if err != nil {
		return err
	}

	unlock := h.locks.lock(id)
	defer unlock()

	g, head, err := h.currentState(ctx, id)
	if err != nil {
		return err
	}
	if g != nil && g.Status == StatusDeleted {
		return fmt.Errorf("gateway %q is deleted; registration rejected", id)
	}
	if head > 0 {
		h.logger.Debug().Str("gateway_id", id).Msg("Duplicate registration discarded.")
		return nil
	}

	data := normalizeEventData(msg.Payload)
	if _, err := h.store.Append(ctx, id, AggregateType, EventGatewayCreated, data, 1); err != nil {
		if eventstore.IsConflict(err) {
			// Lost a race with another registration for the same id: the
			// event is now redundant.
			h.logger.Debug().Str("gateway_id", id).Msg("Concurrent registration won the race; discarding duplicate.")
			return nil
		}
		return fmt.Errorf("append %s for %s: %w", EventGatewayCreated, id, err)
	}
	if _, refreshErr := h.projection.Refresh(ctx, id); refreshErr != nil {
		h.logger.Warn().Err(refreshErr).Str("gateway_id", id).Msg("Projection refresh failed after registration.")
	}
	return nil
}

// HandleHeartbeat records a heartbeat, which also (re)connects the gateway.
func (h *Handlers) HandleHeartbeat(ctx context.Context, captures routing.Captures, msg ingest.Message) error {
	id, err := gatewayID(captures)
	if err != nil {
		return err
	}
	return h.append(ctx, id, EventHeartbeat, normalizeEventData(msg.Payload), true)
}

// HandleDisconnect records a disconnect (for example an MQTT last-will
// message published by the broker).
func (h *Handlers) HandleDisconnect(ctx context.Context, captures routing.Captures, msg ingest.Message) error {
	id, err := gatewayID(captures)
	if err != nil {
		return err
	}
	return h.append(ctx, id, EventDisconnected, normalizeEventData(msg.Payload), true)
}

// HandleConfigRequest audits a gateway asking for its configuration. The
// configuration response itself is a republish action on the same rule.
func (h *Handlers) HandleConfigRequest(ctx context.Context, captures routing.Captures, msg ingest.Message) error {
	id, err := gatewayID(captures)
	if err != nil {
		return err
	}
	return h.append(ctx, id, EventConfigRequested, normalizeEventData(msg.Payload), true)
}

// HandleNewConfig records that a gateway acknowledged delivery of new
// configuration.
func (h *Handlers) HandleNewConfig(ctx context.Context, captures routing.Captures, msg ingest.Message) error {
	id, err := gatewayID(captures)
	if err != nil {
		return err
	}
	return h.append(ctx, id, EventConfigDelivered, normalizeEventData(msg.Payload), true)
}

// HandleCertificateInstalled records a certificate rotation on the gateway.
func (h *Handlers) HandleCertificateInstalled(ctx context.Context, captures routing.Captures, msg ingest.Message) error {
	id, err := gatewayID(captures)
	if err != nil {
		return err
	}
	return h.append(ctx, id, EventCertificateInstalled, normalizeEventData(msg.Payload), true)
}

// HandleDeletion moves the gateway to its terminal state.
func (h *Handlers) HandleDeletion(ctx context.Context, captures routing.Captures, msg ingest.Message) error {
	id, err := gatewayID(captures)
	if err != nil {
		return err
	}
	return h.append(ctx, id, EventDeleted, normalizeEventData(msg.Payload), true)
}

// normalizeEventData stores the payload as-is when it is valid JSON and wraps
// anything else so event data is always queryable JSON.
func normalizeEventData(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	if json.Valid(payload) {
		return payload
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(payload)})
	if err != nil {
		return nil
	}
	return wrapped
}
