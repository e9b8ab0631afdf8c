// Package server owns the HTTP listener lifecycle: background start and
// context-bounded graceful shutdown.
package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"crm-gateway/internal/common/logging"
)

// Server runs the REST API listener.
type Server struct {
	inner  *http.Server
	logger logging.Logger
}

// New builds a server for the given handler on :port. Timeouts are sized
// for the bot's short request/response exchanges.
func New(handler http.Handler, port string) *Server {
	return &Server{
		inner: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logging.GetGlobalLogger().WithFields(logging.String("component", "server")),
	}
}

// Start begins serving in the background. A listener that cannot bind is
// fatal; there is nothing useful the process can do without its API.
func (s *Server) Start() error {
	go func() {
		err := s.inner.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("listener failed", err)
			os.Exit(1)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
