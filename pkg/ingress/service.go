// Package ingress connects a message consumer to the routing and dispatch
// layers. It lives above both pkg/ingest (message types) and pkg/dispatch
// (execution) so neither needs to know about the other's wiring.
package ingress

import (
	"context"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-gateway-fleet/pkg/dispatch"
	"github.com/illmade-knight/go-gateway-fleet/pkg/ingest"
	"github.com/illmade-knight/go-gateway-fleet/pkg/routing"
	"github.com/rs/zerolog"
)

// Config holds configuration for an ingress Service.
type Config struct {
	NumWorkers int
}

// Service is the single entry point for inbound broker messages. It consumes
// from a MessageConsumer, evaluates each message against the rule set, and
// enqueues the matched actions on the dispatch pool without blocking on their
// completion, so one slow forward never stalls the intake of the next message.
type Service struct {
	numWorkers int
	consumer   ingest.MessageConsumer
	router     *routing.Router
	dispatcher *dispatch.Dispatcher
	pool       *dispatch.WorkerPool
	observer   func(ingest.Message)
	logger     zerolog.Logger
	wg         sync.WaitGroup
}

// NewService creates a new ingress Service.
func NewService(
	cfg Config,
	consumer ingest.MessageConsumer,
	router *routing.Router,
	dispatcher *dispatch.Dispatcher,
	pool *dispatch.WorkerPool,
	logger zerolog.Logger,
) (*Service, error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 2
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if router == nil {
		return nil, fmt.Errorf("router cannot be nil")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	if pool == nil {
		return nil, fmt.Errorf("worker pool cannot be nil")
	}
	return &Service{
		numWorkers: cfg.NumWorkers,
		consumer:   consumer,
		router:     router,
		dispatcher: dispatcher,
		pool:       pool,
		logger:     logger.With().Str("service", "IngressService").Logger(),
	}, nil
}

// ObserveMessages registers a tap invoked for every inbound message before
// routing, matched or not. The raw telemetry archiver hooks in here. Must be
// called before Start.
func (s *Service) ObserveMessages(fn func(ingest.Message)) {
	s.observer = fn
}

// Start launches the dispatch pool, the consumer, and the ingress workers.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting ingress service...")

	s.pool.Start(ctx)
	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message consumer: %w", err)
	}
	s.logger.Info().Msg("Message consumer started.")

	s.wg.Add(s.numWorkers)
	for i := 0; i < s.numWorkers; i++ {
		go s.worker(ctx, i)
	}

	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Ingress service started successfully.")
	return nil
}

// Stop shuts down in dependency order: consumer first so no new messages
// arrive, then the ingress workers, then the dispatch pool.
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping ingress service...")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	workerDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workerDone)
	}()
	select {
	case <-workerDone:
		s.logger.Info().Msg("All ingress workers completed gracefully.")
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for ingress workers to finish.")
		return ctx.Err()
	}

	if err := s.pool.Stop(ctx); err != nil {
		return err
	}
	s.logger.Info().Msg("Ingress service stopped.")
	return nil
}

// worker consumes messages until shutdown. Cancellation is cooperative,
// observed between message dispatches.
func (s *Service) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Int("worker_id", workerID).Msg("Ingress worker shutting down.")
			return
		case msg, open := <-s.consumer.Messages():
			if !open {
				s.logger.Info().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.dispatchMessage(msg)
		}
	}
}

// dispatchMessage routes one message and enqueues a task per matched rule.
// Actions within one rule execute in declared order inside a single task;
// there is no ordering between rules. A rule whose actions include a handler
// invocation is queued as critical so state mutations are never shed.
func (s *Service) dispatchMessage(msg ingest.Message) {
	if s.observer != nil {
		s.observer(msg)
	}
	matches := s.router.Route(msg.Topic)
	if len(matches) == 0 {
		s.logger.Debug().Str("topic", msg.Topic).Msg("Message matched no rules.")
		if msg.Ack != nil {
			msg.Ack()
		}
		return
	}

	for _, match := range matches {
		match := match
		class := dispatch.ClassDroppable
		for _, action := range match.Rule.Actions {
			if action.Kind == routing.ActionInvoke {
				class = dispatch.ClassCritical
				break
			}
		}
		s.pool.Submit(class, func(taskCtx context.Context) {
			for _, action := range match.Rule.Actions {
				s.dispatcher.Execute(taskCtx, action, match.Captures, msg)
			}
		})
	}

	// The message is acknowledged once its work is queued: delivery is
	// at-least-once and event application is idempotent downstream.
	if msg.Ack != nil {
		msg.Ack()
	}
}
