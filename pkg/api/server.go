// Package api serves the admin HTTP surface: health probes, Prometheus
// metrics, and read-only inspection of sessions, locks, and the
// namespace.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aeriedb/aerie/internal/logger"
	"github.com/aeriedb/aerie/pkg/coord/master"
)

// Config holds admin server settings.
type Config struct {
	ListenAddr     string
	RequestTimeout time.Duration
}

// Server is the admin HTTP server. Read-only: every mutation goes
// through the coordination protocol, never through HTTP.
type Server struct {
	server       *http.Server
	shutdownOnce sync.Once
}

// NewServer creates the admin server over a master.
func NewServer(cfg Config, m *master.Master) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	return &Server{
		server: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      NewRouter(m, cfg.RequestTimeout),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	logger.Info("admin API listening", "address", s.server.Addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains the server. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		logger.Info("admin API shutting down")
		err = s.server.Shutdown(ctx)
	})
	return err
}
