package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/illmade-knight/go-gateway-fleet/pkg/ingest"
	"github.com/illmade-knight/go-gateway-fleet/pkg/routing"
	"github.com/rs/zerolog"
)

// Publisher is the outbound side of the republish action. The MQTT client and
// the Pub/Sub mirror both satisfy it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
}

// Outcome reports the result of one action execution. A failed action is
// logged and isolated; it never aborts sibling actions or the message
// dispatch.
type Outcome struct {
	OK     bool
	Reason string
	Err    error
}

func ok() Outcome {
	return Outcome{OK: true}
}

func failed(reason string, err error) Outcome {
	return Outcome{Reason: reason, Err: err}
}

// Config holds dispatcher tuning.
type Config struct {
	// HTTPTimeout bounds each forward call. Forwards are the only action kind
	// with a timeout; there is no mid-flight cancellation of other actions.
	HTTPTimeout time.Duration
}

// Dispatcher executes the three action kinds for matched rules. It owns no
// ordering or queueing policy; the worker pool does.
type Dispatcher struct {
	httpClient  *http.Client
	httpTimeout time.Duration
	publisher   Publisher
	registry    *HandlerRegistry
	logger      zerolog.Logger
}

// NewDispatcher creates a Dispatcher. The publisher may be nil when no
// republish rules are configured; executing a republish action without one
// fails that action only.
func NewDispatcher(cfg Config, publisher Publisher, registry *HandlerRegistry, logger zerolog.Logger) *Dispatcher {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &Dispatcher{
		httpClient:  &http.Client{},
		httpTimeout: cfg.HTTPTimeout,
		publisher:   publisher,
		registry:    registry,
		logger:      logger.With().Str("component", "Dispatcher").Logger(),
	}
}

// Execute runs a single action and reports its outcome. Failures are
// returned, never propagated as aborts.
func (d *Dispatcher) Execute(ctx context.Context, action routing.Action, captures routing.Captures, msg ingest.Message) Outcome {
	var outcome Outcome
	switch action.Kind {
	case routing.ActionHTTPForward:
		outcome = d.forward(ctx, action, captures, msg)
	case routing.ActionRepublish:
		outcome = d.republish(ctx, action, captures, msg)
	case routing.ActionInvoke:
		outcome = d.invoke(ctx, action, captures, msg)
	default:
		// Unreachable for a validated rule set.
		outcome = failed("unknown action kind", fmt.Errorf("unknown action kind %q", action.Kind))
	}

	if !outcome.OK {
		d.logger.Warn().
			Err(outcome.Err).
			Str("action_kind", string(action.Kind)).
			Str("topic", msg.Topic).
			Str("reason", outcome.Reason).
			Msg("Action failed.")
	}
	return outcome
}

// forwardEnvelope is the JSON body of a forward call.
type forwardEnvelope struct {
	Topic    string           `json:"topic"`
	Captures routing.Captures `json:"captures"`
	Payload  json.RawMessage  `json:"payload"`
}

func (d *Dispatcher) forward(ctx context.Context, action routing.Action, captures routing.Captures, msg ingest.Message) Outcome {
	payload := msg.Payload
	if !json.Valid(payload) {
		// Non-JSON payloads are forwarded as a JSON string.
		encoded, err := json.Marshal(string(payload))
		if err != nil {
			return failed("encode payload", err)
		}
		payload = encoded
	}
	body, err := json.Marshal(forwardEnvelope{
		Topic:    captures[routing.OriginalTopic],
		Captures: captures,
		Payload:  payload,
	})
	if err != nil {
		return failed("encode forward body", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, action.Method, action.URL, bytes.NewReader(body))
	if err != nil {
		return failed("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range action.Headers {
		req.Header.Set(key, value)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return failed("timeout", err)
		}
		return failed("network", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failed(fmt.Sprintf("http %d", resp.StatusCode), fmt.Errorf("forward to %s returned %s", action.URL, resp.Status))
	}
	d.logger.Debug().Str("url", action.URL).Str("topic", msg.Topic).Msg("Forwarded message.")
	return ok()
}

func (d *Dispatcher) republish(ctx context.Context, action routing.Action, captures routing.Captures, msg ingest.Message) Outcome {
	topic, err := routing.Render(action.TopicTemplate, captures)
	if err != nil {
		// A render failure short-circuits: nothing is published.
		return failed("render", err)
	}
	if d.publisher == nil {
		return failed("no publisher", fmt.Errorf("republish action with no publisher configured"))
	}
	if err := d.publisher.Publish(ctx, topic, msg.Payload, action.QoS, action.Retain); err != nil {
		return failed("publish", err)
	}
	d.logger.Debug().Str("rendered_topic", topic).Str("source_topic", msg.Topic).Msg("Republished message.")
	return ok()
}

func (d *Dispatcher) invoke(ctx context.Context, action routing.Action, captures routing.Captures, msg ingest.Message) Outcome {
	handler, found := d.registry.Lookup(action.Handler)
	if !found {
		// Unreachable for a validated rule set.
		return failed("unknown handler", fmt.Errorf("handler %q not registered", action.Handler))
	}
	if err := handler(ctx, captures, msg); err != nil {
		return failed("handler", err)
	}
	d.logger.Debug().Str("handler", action.Handler).Str("topic", msg.Topic).Msg("Handler invoked.")
	return ok()
}
