package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session metrics
	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chronos_sessions_started_total",
			Help: "Total sessions started",
		},
	)

	SessionsStopped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronos_sessions_stopped_total",
			Help: "Total sessions stopped",
		},
		[]string{"mode"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronos_active_sessions",
			Help: "Number of running sessions",
		},
	)

	// Quota metrics
	QuotaSecondsConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chronos_quota_seconds_consumed_total",
			Help: "Total quota seconds deducted from user ledgers",
		},
	)

	QuotaBleedSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chronos_quota_bleed_seconds_total",
			Help: "Usage seconds that exceeded the available quota",
		},
	)

	NotificationsFired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chronos_leftover_notifications_total",
			Help: "Leftover threshold notifications fired",
		},
	)

	// Replenishment metrics
	ReplenishRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronos_replenish_runs_total",
			Help: "Daily replenishment runs",
		},
		[]string{"result"},
	)

	ReplenishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chronos_replenish_duration_seconds",
			Help:    "Replenishment run duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
	)

	// Event metrics
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronos_events_published_total",
			Help: "Events published on the bus",
		},
		[]string{"kind"},
	)

	EventHandlerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronos_event_handler_failures_total",
			Help: "Event subscribers that returned an error or panicked",
		},
		[]string{"kind"},
	)

	// Permission metrics
	PermissionDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronos_permission_denied_total",
			Help: "Operations rejected by the authorizer",
		},
		[]string{"operation"},
	)

	AuthzCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chronos_authz_cache_hits_total",
			Help: "Authorization verdict cache hits",
		},
	)

	AuthzCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chronos_authz_cache_misses_total",
			Help: "Authorization verdict cache misses",
		},
	)

	// Admin API metrics
	AdminRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronos_admin_requests_total",
			Help: "Admin API requests processed",
		},
		[]string{"route", "status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SessionsStarted,
		SessionsStopped,
		ActiveSessions,
		QuotaSecondsConsumed,
		QuotaBleedSeconds,
		NotificationsFired,
		ReplenishRuns,
		ReplenishDuration,
		EventsPublished,
		EventHandlerFailures,
		PermissionDenied,
		AuthzCacheHits,
		AuthzCacheMisses,
		AdminRequestsTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
