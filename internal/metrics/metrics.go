package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Usage metrics
	ShortFormSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortmeter_short_form_seconds_total",
			Help: "Total foreground short-form seconds counted",
		},
		[]string{"site_kind"},
	)

	AccumulatedSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shortmeter_accumulated_seconds",
			Help: "Short-form seconds accumulated in the current usage day",
		},
	)

	LimitSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shortmeter_limit_seconds",
			Help: "Configured daily limit in seconds",
		},
	)

	Rollovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shortmeter_rollovers_total",
			Help: "Total daily rollovers applied",
		},
	)

	// Session metrics
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortmeter_sessions_total",
			Help: "Total short-form sessions entered",
		},
		[]string{"site_kind"},
	)

	EngagementEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shortmeter_engagement_events_total",
			Help: "Total in-session navigation events counted",
		},
	)

	// Intervention metrics
	PopupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortmeter_popups_total",
			Help: "Total dissuasion popups fired",
		},
		[]string{"trigger"},
	)

	// Classifier metrics
	ClassifierCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shortmeter_classifier_cache_hits_total",
			Help: "Total policy classifier cache hits",
		},
	)

	ClassifierCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shortmeter_classifier_cache_misses_total",
			Help: "Total policy classifier cache misses",
		},
	)

	// Storage metrics
	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortmeter_store_errors_total",
			Help: "Persistence failures by operation",
		},
		[]string{"op"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		ShortFormSeconds,
		AccumulatedSeconds,
		LimitSeconds,
		Rollovers,
		SessionsTotal,
		EngagementEvents,
		PopupsTotal,
		ClassifierCacheHits,
		ClassifierCacheMisses,
		StoreErrors,
	)
}

// Server exposes /metrics and /health. It binds its own address unless a
// socket-activated listener has been handed over.
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener
}

// NewServer creates a metrics server for addr
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler returns the HTTP handler serving /metrics and /health.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener hands over a systemd socket-activated listener
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Start binds (unless a listener was set) and serves in the background. A
// bind failure is returned rather than logged.
func (s *Server) Start() error {
	if s.listener == nil {
		ln, err := net.Listen("tcp", s.server.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
		}
		s.listener = ln
	} else {
		s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
	}

	s.logger.Info().Str("addr", s.Addr()).Msg("Starting metrics server")

	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop drains in-flight scrapes for up to two seconds
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
