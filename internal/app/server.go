// Package app contains the top-level orchestration for the server and peer
// roles.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/1ureka/rojcall/internal/config"
	"github.com/1ureka/rojcall/internal/metrics"
	"github.com/1ureka/rojcall/internal/signaling"
	"github.com/1ureka/rojcall/internal/util"
)

// Server is the signaling hub behind an HTTP listener.
type Server struct {
	cfg     config.ServerConfig
	hub     *signaling.Hub
	metrics *metrics.Prometheus
	http    *http.Server
	ln      net.Listener
}

// NewServer builds the hub, its metrics and the HTTP routes. Nothing is
// bound until Listen.
func NewServer(cfg config.ServerConfig) *Server {
	collector := metrics.NewPrometheus(nil)
	hub := signaling.NewHub(cfg, collector)

	mux := http.NewServeMux()
	mux.Handle("/", hub.Handler())
	if cfg.MetricsPath != "" {
		mux.Handle(cfg.MetricsPath, collector.Handler())
	}

	return &Server{
		cfg:     cfg,
		hub:     hub,
		metrics: collector,
		http: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Listen binds cfg.Listen and returns the bound address.
func (s *Server) Listen() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	s.ln = ln
	return ln.Addr(), nil
}

// Serve accepts connections until ctx is cancelled, then disconnects every
// user and shuts the listener down within cfg.ShutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
	}

	util.StartStatsReporter(ctx, s.cfg.StatsInterval)

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(s.ln) }()

	select {
	case err := <-errCh:
		s.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("signaling server stopped: %w", err)
	case <-ctx.Done():
	}

	// Hijacked WebSocket connections are not tracked by Shutdown.
	s.hub.Close()

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown signaling server: %w", err)
	}
	return nil
}

// Hub returns the underlying hub.
func (s *Server) Hub() *signaling.Hub { return s.hub }

// RunServer runs the signaling hub until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.ServerConfig) error {
	s := NewServer(cfg)
	addr, err := s.Listen()
	if err != nil {
		return err
	}
	util.LogSuccess("signaling hub listening on %s (ws %s, metrics %s)", addr, cfg.Path, cfg.MetricsPath)
	return s.Serve(ctx)
}
