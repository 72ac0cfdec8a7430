package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/config"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/errtrack"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/mq"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/store"
)

// Server exposes the operational endpoints: liveness, a JSON status
// document and the Prometheus registry.
type Server struct {
	cfg          config.HTTPConfig
	client       *mq.Client
	readingStore *store.ReadingStore
	tracker      *errtrack.Tracker
	registry     *prometheus.Registry
	maxAge       time.Duration
	logger       zerolog.Logger
	httpServer   *http.Server
	startedAt    time.Time
}

type statusDevice struct {
	LastSeen time.Time `json:"last_seen"`
	Fields   int       `json:"fields"`
	Fresh    bool      `json:"fresh"`
}

type statusResponse struct {
	BrokerConnected bool                    `json:"broker_connected"`
	BrokerClientID  string                  `json:"broker_client_id"`
	Reconnects      int64                   `json:"reconnects"`
	UptimeSeconds   int64                   `json:"uptime_seconds"`
	Devices         map[string]statusDevice `json:"devices"`
	ErrorCounts     map[string]int          `json:"error_counts"`
	ErrorTotal      int                     `json:"error_total"`
}

func NewServer(
	cfg config.HTTPConfig,
	client *mq.Client,
	readingStore *store.ReadingStore,
	tracker *errtrack.Tracker,
	registry *prometheus.Registry,
	maxAge time.Duration,
	logger zerolog.Logger,
) *Server {
	return &Server{
		cfg:          cfg,
		client:       client,
		readingStore: readingStore,
		tracker:      tracker,
		registry:     registry,
		maxAge:       maxAge,
		logger:       logger,
		startedAt:    time.Now(),
	}
}

// Start runs the HTTP server in the background and returns immediately.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("http server failed")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if !s.client.IsConnected() {
		http.Error(w, "broker disconnected", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()

	devices := make(map[string]statusDevice)
	for deviceID, readings := range s.readingStore.Snapshot() {
		lastSeen, _ := s.readingStore.LastSeen(deviceID)
		devices[deviceID] = statusDevice{
			LastSeen: lastSeen,
			Fields:   len(readings),
			Fresh:    now.Sub(lastSeen) <= s.maxAge,
		}
	}

	response := statusResponse{
		BrokerConnected: s.client.IsConnected(),
		BrokerClientID:  s.client.ClientID(),
		Reconnects:      s.client.Reconnects(),
		UptimeSeconds:   int64(now.Sub(s.startedAt).Seconds()),
		Devices:         devices,
		ErrorCounts:     s.tracker.Counts(),
		ErrorTotal:      s.tracker.Total(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error().Err(err).Msg("could not encode status response")
	}
}
