// Package coordadapter serves the coordination protocol over TCP: one
// goroutine per connection, synchronous request dispatch, and
// out-of-band notification push frames interleaved between responses.
package coordadapter

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/aeriedb/aerie/internal/logger"
	"github.com/aeriedb/aerie/pkg/coord/master"
)

// Server accepts coordination protocol connections and dispatches
// requests into the master.
type Server struct {
	addr   string
	master *master.Master

	mu sync.Mutex
	ln net.Listener

	wg     sync.WaitGroup
	connMu sync.Mutex
	conns  map[*conn]struct{}
}

// NewServer creates a coordination protocol server.
func NewServer(addr string, m *master.Master) *Server {
	return &Server{
		addr:   addr,
		master: m,
		conns:  make(map[*conn]struct{}),
	}
}

// Serve listens and accepts until the context is cancelled. It returns
// after every connection goroutine has drained.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	logger.Info("coordination server listening", "address", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
		s.closeConns()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Warn("accept failed", logger.KeyError, err.Error())
			continue
		}

		c := newConn(nc, s.master)
		s.connMu.Lock()
		s.conns[c] = struct{}{}
		s.connMu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.serve()
			s.connMu.Lock()
			delete(s.conns, c)
			s.connMu.Unlock()
		}()
	}

	s.wg.Wait()
	logger.Info("coordination server stopped")
	return nil
}

// Addr returns the bound listen address, for tests using port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) closeConns() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for c := range s.conns {
		c.close()
	}
}
