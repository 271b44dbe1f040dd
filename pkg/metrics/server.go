package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbroker/dbr/internal/logger"
)

// Server serves the process registry's collectors over HTTP at
// "/metrics". It follows the teacher's AuxiliaryServer shape
// (Start/Stop/Port), so cmd/dbr-forwardd can manage it alongside its
// other listeners under one shutdown path.
type Server struct {
	port   int
	srv    *http.Server
	serveErr chan error
}

// NewServer builds a metrics Server bound to port; call Start to begin
// serving.
func NewServer(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{}))
	return &Server{
		port: port,
		srv:  &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux},
	}
}

// Port reports the configured listen port.
func (s *Server) Port() int { return s.port }

// Start begins serving in the background. It returns once the listener
// is bound; a later accept/serve failure is logged, not returned.
func (s *Server) Start(ctx context.Context) error {
	s.serveErr = make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
			s.serveErr <- err
			return
		}
		s.serveErr <- nil
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
