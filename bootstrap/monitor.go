package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pierstocazzo/atom-game-framework/config"
	"github.com/pierstocazzo/atom-game-framework/log"
)

// HealthFunc reports the health of a set of services.
type HealthFunc func(ctx context.Context) (map[string]HealthStatus, error)

// MonitorService serves Prometheus metrics and an aggregated health
// report over HTTP.
type MonitorService struct {
	cfg      config.HTTPMonitorConfig
	gatherer prometheus.Gatherer
	health   HealthFunc
	logger   log.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	serveErr error
}

// NewMonitorService creates the service. health may be nil.
func NewMonitorService(cfg config.HTTPMonitorConfig, gatherer prometheus.Gatherer, health HealthFunc, logger log.Logger) *MonitorService {
	if logger == nil {
		logger = log.Default()
	}
	return &MonitorService{
		cfg:      cfg,
		gatherer: gatherer,
		health:   health,
		logger:   logger,
	}
}

func (s *MonitorService) Name() string { return MonitorServiceName }

// Handler returns the HTTP handler serving metrics and health.
func (s *MonitorService) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc(s.cfg.HealthPath, s.serveHealth)
	return mux
}

func (s *MonitorService) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}

	s.listener = ln
	s.serveErr = nil
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func(server *http.Server) {
		err := server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitor server error", log.Err(err))
			s.mu.Lock()
			s.serveErr = err
			s.mu.Unlock()
		}
	}(s.server)

	s.logger.Info("monitor listening", log.String("address", ln.Addr().String()))
	return nil
}

func (s *MonitorService) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *MonitorService) Health(context.Context) (HealthStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return HealthStatus{State: HealthStopped, Message: "monitor not serving"}, nil
	}
	if s.serveErr != nil {
		return HealthStatus{State: HealthUnhealthy, Message: s.serveErr.Error()}, nil
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "monitor serving",
		Data:    map[string]any{"address": s.listener.Addr().String()},
	}, nil
}

// Addr returns the bound address, or "" when not serving.
func (s *MonitorService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type healthReport struct {
	Status   HealthState             `json:"status"`
	Services map[string]HealthStatus `json:"services,omitempty"`
}

func (s *MonitorService) serveHealth(w http.ResponseWriter, r *http.Request) {
	report := healthReport{Status: HealthHealthy}
	if s.health != nil {
		services, err := s.health(r.Context())
		if err != nil {
			report.Status = HealthUnknown
		}
		report.Services = services
		for name, status := range services {
			// Our own status is whatever this response is
			if name == MonitorServiceName {
				continue
			}
			if status.State != HealthHealthy {
				report.Status = HealthUnhealthy
			}
		}
	}

	code := http.StatusOK
	if report.Status != HealthHealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.logger.Debug("failed to write health report", log.Err(err))
	}
}
