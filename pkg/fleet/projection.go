package fleet

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-gateway-fleet/pkg/cache"
	"github.com/illmade-knight/go-gateway-fleet/pkg/eventstore"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned by Get for a gateway with no event history.
var ErrNotFound = errors.New("gateway not found")

// Projection is the read-optimized view of gateway aggregates. The event log
// owns the state; the projection can be discarded and rebuilt from it at any
// time. An optional write-through cache front-loads hot reads.
type Projection struct {
	store  eventstore.EventStore
	cache  cache.Cache[string, Gateway]
	logger zerolog.Logger
}

// NewProjection creates a projection over a store. projectionCache may be nil
// to always replay from the log.
func NewProjection(store eventstore.EventStore, projectionCache cache.Cache[string, Gateway], logger zerolog.Logger) *Projection {
	return &Projection{
		store:  store,
		cache:  projectionCache,
		logger: logger.With().Str("component", "Projection").Logger(),
	}
}

// fold replays a history into a Gateway. Illegal transitions are logged and
// skipped; the fold keeps going so one bad event cannot hide later legal
// ones. This is the deterministic core every query path shares.
func (p *Projection) fold(events []eventstore.DomainEvent) *Gateway {
	var g *Gateway
	for _, event := range events {
		next, err := Apply(g, event)
		if err != nil {
			p.logger.Warn().
				Err(err).
				Str("aggregate_id", event.AggregateID).
				Int64("version", event.Version).
				Msg("Skipping event the state machine cannot apply.")
			continue
		}
		g = next
	}
	return g
}

// Get returns the current state of one gateway, serving from the cache when
// it is fresh and replaying the event log otherwise.
func (p *Projection) Get(ctx context.Context, gatewayID string) (Gateway, error) {
	if p.cache != nil {
		if cached, err := p.cache.Get(ctx, gatewayID); err == nil {
			return cached, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			p.logger.Warn().Err(err).Str("gateway_id", gatewayID).Msg("Projection cache read failed; replaying from log.")
		}
	}
	return p.Refresh(ctx, gatewayID)
}

// Refresh replays the gateway's history from the log, bypassing and then
// updating the cache. Handlers call it after every accepted append.
func (p *Projection) Refresh(ctx context.Context, gatewayID string) (Gateway, error) {
	events, err := p.store.Read(ctx, gatewayID)
	if err != nil {
		return Gateway{}, fmt.Errorf("read history for %s: %w", gatewayID, err)
	}
	g := p.fold(events)
	if g == nil {
		return Gateway{}, ErrNotFound
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, gatewayID, *g); err != nil {
			p.logger.Warn().Err(err).Str("gateway_id", gatewayID).Msg("Projection cache write failed.")
		}
	}
	return *g, nil
}

// List returns the current state of every gateway in the fleet.
func (p *Projection) List(ctx context.Context) ([]Gateway, error) {
	ids, err := p.store.ListAggregates(ctx, AggregateType)
	if err != nil {
		return nil, fmt.Errorf("list gateway aggregates: %w", err)
	}

	gateways := make([]Gateway, 0, len(ids))
	for _, id := range ids {
		g, err := p.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// A stream whose every event was illegal folds to nothing.
			continue
		}
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, g)
	}
	return gateways, nil
}

// HeadVersion reports the last stored version for a gateway, 0 when the
// aggregate does not exist. Handlers use it to pick expected versions.
func (p *Projection) HeadVersion(ctx context.Context, gatewayID string) (int64, error) {
	events, err := p.store.Read(ctx, gatewayID)
	if err != nil {
		return 0, fmt.Errorf("read history for %s: %w", gatewayID, err)
	}
	if len(events) == 0 {
		return 0, nil
	}
	return events[len(events)-1].Version, nil
}
