package dispatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/illmade-knight/go-gateway-fleet/pkg/ingest"
	"github.com/illmade-knight/go-gateway-fleet/pkg/routing"
)

// Handler is a named in-process handler invoked by an invoke action. Handlers
// are the only action kind permitted to append domain events.
type Handler func(ctx context.Context, captures routing.Captures, msg ingest.Message) error

// HandlerRegistry is the fixed mapping from handler name to handler function.
// It is populated once at startup; the rule loader validates every invoke
// action against it, so no unknown-handler error can occur at runtime.
type HandlerRegistry struct {
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register adds a named handler. Registering a duplicate name is a
// configuration error.
func (r *HandlerRegistry) Register(name string, handler Handler) error {
	if name == "" {
		return fmt.Errorf("handler name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler %q cannot be nil", name)
	}
	if _, dup := r.handlers[name]; dup {
		return fmt.Errorf("handler %q registered twice", name)
	}
	r.handlers[name] = handler
	return nil
}

// Names returns the sorted registered handler names, for rule-set validation.
func (r *HandlerRegistry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the handler registered under name.
func (r *HandlerRegistry) Lookup(name string) (Handler, bool) {
	handler, ok := r.handlers[name]
	return handler, ok
}
