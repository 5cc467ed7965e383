package fleetservice

import (
	"context"
	"fmt"
	"os"

	"github.com/illmade-knight/go-gateway-fleet/pkg/archive"
	"github.com/illmade-knight/go-gateway-fleet/pkg/cache"
	"github.com/illmade-knight/go-gateway-fleet/pkg/dispatch"
	"github.com/illmade-knight/go-gateway-fleet/pkg/eventstore"
	"github.com/illmade-knight/go-gateway-fleet/pkg/fleet"
	"github.com/illmade-knight/go-gateway-fleet/pkg/ingest"
	"github.com/illmade-knight/go-gateway-fleet/pkg/ingress"
	"github.com/illmade-knight/go-gateway-fleet/pkg/routing"
	"github.com/rs/zerolog"
)

// LoadRules reads and validates the routing rule document against the fleet's
// known handler names. Callers use the returned set both to assemble the
// service and to derive broker subscription filters.
func LoadRules(path string) (*routing.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	return routing.LoadRuleSet(data, []string{
		fleet.HandlerRegistration,
		fleet.HandlerHeartbeat,
		fleet.HandlerDisconnect,
		fleet.HandlerConfigRequest,
		fleet.HandlerNewConfig,
		fleet.HandlerCertificateInstalled,
		fleet.HandlerDeletion,
	})
}

// NewProjectionCache builds the Redis-backed projection cache when one is
// configured. An empty addr means no cache: queries replay the stream.
func NewProjectionCache(ctx context.Context, cfg RedisCacheConfig, logger zerolog.Logger) (cache.Cache[string, fleet.Gateway], error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	redisCache, err := cache.NewRedisCache[string, fleet.Gateway](ctx, &cache.RedisConfig{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		KeyPrefix: cfg.KeyPrefix,
		TTL:       cfg.TTL,
	}, logger)
	if err != nil {
		return nil, err
	}
	return redisCache, nil
}

// Dependencies holds the externally constructed collaborators. The store
// should already carry any observer decoration (the event archiver hooks in
// via eventstore.WithObserver before the store is passed here).
type Dependencies struct {
	Consumer  ingest.MessageConsumer
	Publisher dispatch.Publisher
	Store     eventstore.EventStore
	// Cache is optional; a nil cache means every query replays the stream.
	Cache cache.Cache[string, fleet.Gateway]
	// EventArchiver and RawArchiver are optional cold-path sinks whose
	// lifecycle the service manages.
	EventArchiver *archive.EventArchiver
	RawArchiver   *archive.RawArchiver
}

// FleetService wires the whole pipeline: consumer, router, dispatch pool,
// invoke handlers over the event store, the gateway projection, and the HTTP
// query surface.
type FleetService struct {
	cfg        *Config
	deps       Dependencies
	ingress    *ingress.Service
	projection *fleet.Projection
	server     *Server
	logger     zerolog.Logger
}

// New assembles a FleetService from validated configuration and a rule set.
func New(cfg *Config, rules *routing.RuleSet, deps Dependencies, logger zerolog.Logger) (*FleetService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("event store cannot be nil")
	}
	logger = logger.With().Str("service", cfg.ServiceName).Logger()

	projection := fleet.NewProjection(deps.Store, deps.Cache, logger)
	handlers := fleet.NewHandlers(deps.Store, projection, logger)

	registry := dispatch.NewHandlerRegistry()
	if err := handlers.RegisterAll(registry); err != nil {
		return nil, fmt.Errorf("failed to register invoke handlers: %w", err)
	}

	router := routing.NewRouter(rules, logger)
	dispatcher := dispatch.NewDispatcher(dispatch.Config{}, deps.Publisher, registry, logger)
	pool := dispatch.NewWorkerPool(dispatch.WorkerPoolConfig{
		Workers:    cfg.Ingress.PoolWorkers,
		QueueDepth: cfg.Ingress.PoolQueueDepth,
	}, logger)

	ingressSvc, err := ingress.NewService(
		ingress.Config{NumWorkers: cfg.Ingress.NumWorkers},
		deps.Consumer, router, dispatcher, pool, logger,
	)
	if err != nil {
		return nil, err
	}
	if deps.RawArchiver != nil {
		ingressSvc.ObserveMessages(deps.RawArchiver.Observe)
	}

	return &FleetService{
		cfg:        cfg,
		deps:       deps,
		ingress:    ingressSvc,
		projection: projection,
		server:     NewServer(projection, cfg.HTTPPort, logger),
		logger:     logger,
	}, nil
}

// Projection exposes the read model, mainly for tests and extra routes.
func (s *FleetService) Projection() *fleet.Projection {
	return s.projection
}

// GetHTTPPort returns the port the query surface is listening on.
func (s *FleetService) GetHTTPPort() string {
	return s.server.GetHTTPPort()
}

// Start brings the service up: archivers first so no accepted event or
// message is missed, then the ingress pipeline, then the HTTP surface.
func (s *FleetService) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting fleet service...")

	if s.deps.EventArchiver != nil {
		s.deps.EventArchiver.Start(ctx)
	}
	if s.deps.RawArchiver != nil {
		s.deps.RawArchiver.Start(ctx)
	}

	if err := s.ingress.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ingress pipeline: %w", err)
	}
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info().Msg("Fleet service started successfully.")
	return nil
}

// Shutdown stops in reverse order: the HTTP surface, the ingress pipeline,
// then the archivers so their final batches include everything the pipeline
// produced.
func (s *FleetService) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down fleet service...")

	var firstErr error
	if err := s.server.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if err := s.ingress.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.deps.RawArchiver != nil {
		if err := s.deps.RawArchiver.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.deps.EventArchiver != nil {
		if err := s.deps.EventArchiver.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return firstErr
	}
	s.logger.Info().Msg("Fleet service shut down cleanly.")
	return nil
}
