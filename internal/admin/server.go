// Package admin serves the JSON control API of the engine.
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/chronos/internal/bridge"
	"github.com/goodtune/chronos/internal/engine"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the admin server configuration.
type Config struct {
	ListenAddr   string
	ConsoleToken string
	RateLimit    float64 // requests per second per client
	RateBurst    int

	// OnReload runs after the config document is reloaded through the API,
	// for example to reload permission policies.
	OnReload func(ctx context.Context) error
}

// Server represents the admin HTTP server.
type Server struct {
	config   Config
	engine   *engine.Engine
	presence *bridge.Presence
	server   *http.Server
	router   *mux.Router
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new admin server.
func NewServer(cfg Config, eng *engine.Engine, presence *bridge.Presence, logger zerolog.Logger) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}

	s := &Server{
		config:   cfg,
		engine:   eng,
		presence: presence,
		router:   mux.NewRouter(),
		logger:   logger.With().Str("component", "admin").Logger(),
	}
	s.setupRoutes(NewRateLimiter(cfg.RateLimit, cfg.RateBurst))

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(limiter *RateLimiter) {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RateLimitMiddleware(limiter))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(ContractorMiddleware(s.config.ConsoleToken))

	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Users
	api.HandleFunc("/users", s.handleListUsers).Methods("GET")
	api.HandleFunc("/users", s.handleCreateUser).Methods("POST")
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods("GET")
	api.HandleFunc("/users/{id}/operator", s.handleSetOperator).Methods("PUT")
	api.HandleFunc("/users/{id}/grant", s.handleGrant).Methods("POST")

	// Presence
	api.HandleFunc("/users/{id}/join", s.handleJoin).Methods("POST")
	api.HandleFunc("/users/{id}/leave", s.handleLeave).Methods("POST")

	// Gated timer control
	api.HandleFunc("/users/{id}/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/users/{id}/resume", s.handleResume).Methods("POST")
	api.HandleFunc("/timer/stop", s.handleStopTimer).Methods("POST")
	api.HandleFunc("/timer/start", s.handleStartTimer).Methods("POST")
	api.HandleFunc("/replenish", s.handleReplenish).Methods("POST")

	// Read-only state
	api.HandleFunc("/sessions", s.handleSessions).Methods("GET")
	api.HandleFunc("/replenish/amounts", s.handleAmounts).Methods("GET")

	// Engine configuration document
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handlePutConfig).Methods("PUT")
	api.HandleFunc("/config/reload", s.handleReloadConfig).Methods("POST")
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the admin HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting admin server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated admin listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Admin server error")
		}
	}()

	return nil
}

// Stop gracefully stops the admin HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping admin server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return nil
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"active_sessions": len(s.engine.ActiveSessions()),
	})
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// writeEngineError maps an engine error onto an HTTP status.
func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrSessionActive):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("operation", op).Msg("Engine operation failed")
	}

	WriteJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
		Code:    status,
		Result:  engine.Code(err),
	})
}

func decodeBody(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}
