package fleetservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/illmade-knight/go-gateway-fleet/pkg/fleet"
	"github.com/rs/zerolog"
)

// Server hosts the fleet query surface and health probe.
type Server struct {
	logger     zerolog.Logger
	httpPort   string
	httpServer *http.Server
	mux        *http.ServeMux
	projection *fleet.Projection
	actualAddr string
	mu         sync.RWMutex
}

// NewServer creates and initializes a new Server around a projection.
func NewServer(projection *fleet.Projection, httpPort string, logger zerolog.Logger) *Server {
	s := &Server{
		logger:     logger.With().Str("component", "Server").Logger(),
		httpPort:   httpPort,
		projection: projection,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("/healthz", HealthzHandler)
	s.mux.HandleFunc("GET /gateways", s.handleListGateways)
	s.mux.HandleFunc("GET /gateways/{id}", s.handleGetGateway)
	s.httpServer = &http.Server{
		Addr:    httpPort,
		Handler: s.mux,
	}
	return s
}

// Start initiates the HTTP server in a background goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.httpPort, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info().Str("address", s.actualAddr).Msg("HTTP server starting to listen")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	return nil
}

// Shutdown gracefully stops the HTTP server, respecting the provided
// context's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error during HTTP server shutdown.")
		return err
	}
	s.logger.Info().Msg("HTTP server stopped.")
	return nil
}

// GetHTTPPort returns the actual port the server is listening on.
func (s *Server) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, port, err := net.SplitHostPort(s.actualAddr)
	if err != nil {
		return s.httpPort
	}
	return ":" + port
}

// Mux returns the underlying ServeMux so callers can add routes.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// handleGetGateway serves the current projected state of one gateway.
func (s *Server) handleGetGateway(w http.ResponseWriter, r *http.Request) {
	gatewayID := r.PathValue("id")
	gateway, err := s.projection.Get(r.Context(), gatewayID)
	if err != nil {
		if errors.Is(err, fleet.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, fmt.Sprintf("gateway %s not found", gatewayID))
			return
		}
		s.logger.Error().Err(err).Str("gateway_id", gatewayID).Msg("Failed to load gateway projection.")
		writeJSONError(w, http.StatusInternalServerError, "failed to load gateway")
		return
	}
	writeJSON(w, http.StatusOK, gateway)
}

// handleListGateways serves the projected state of the whole fleet.
func (s *Server) handleListGateways(w http.ResponseWriter, r *http.Request) {
	gateways, err := s.projection.List(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list gateway projections.")
		writeJSONError(w, http.StatusInternalServerError, "failed to list gateways")
		return
	}
	if gateways == nil {
		gateways = []fleet.Gateway{}
	}
	writeJSON(w, http.StatusOK, gateways)
}

// HealthzHandler responds to health check probes.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
