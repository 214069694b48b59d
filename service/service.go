package service

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/runforge/caserunner/metrics"
	"github.com/runforge/caserunner/runner"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = "8080"

	MetricsHost = "0.0.0.0"
	MetricsPort = "7300"

	ControlHost = "0.0.0.0"
	ControlPort = "7400"
)

// Service bundles the HTTP surfaces of the engine: health checks, prometheus
// metrics and the live run-control API.
type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer
	Control *ControlServer

	group *errgroup.Group
}

func New() *Service {
	s := &Service{
		Healthz: &HealthzServer{},
		Metrics: &MetricsServer{},
		Control: &ControlServer{},
	}
	return s
}

// SetRunner wires the control server to the runner it steers. Must be
// called before control requests arrive; requests before wiring get 503.
func (s *Service) SetRunner(r runner.TestRunner) {
	s.Control.SetRunner(r)
}

func (s *Service) Start(ctx context.Context) {
	log.Info("service starting")

	s.group, _ = errgroup.WithContext(ctx)

	s.group.Go(func() error {
		addr := net.JoinHostPort(HealthzHost, HealthzPort)
		log.Info("starting healthz server", "addr", addr)
		if err := s.Healthz.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("error starting healthz server", "err", err)
			metrics.RecordErrorDetails("error starting healthz server", err)
			return err
		}
		return nil
	})

	s.group.Go(func() error {
		addr := net.JoinHostPort(MetricsHost, MetricsPort)
		log.Info("starting metrics server", "addr", addr)
		if err := s.Metrics.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("error starting metrics server", "err", err)
			metrics.RecordErrorDetails("error starting metrics server", err)
			return err
		}
		return nil
	})

	s.group.Go(func() error {
		addr := net.JoinHostPort(ControlHost, ControlPort)
		log.Info("starting control server", "addr", addr)
		if err := s.Control.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("error starting control server", "err", err)
			metrics.RecordErrorDetails("error starting control server", err)
			return err
		}
		return nil
	})

	log.Info("service started")
}

func (s *Service) Shutdown() {
	log.Info("service shutting down")

	_ = s.Healthz.Shutdown()
	log.Info("healthz stopped")

	_ = s.Metrics.Shutdown()
	log.Info("metrics stopped")

	_ = s.Control.Shutdown()
	log.Info("control stopped")

	if s.group != nil {
		_ = s.group.Wait()
	}

	log.Info("service stopped")
}
