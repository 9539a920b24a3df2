// Package service exposes the processor over HTTP (metrics, health)
// and gRPC (standard health checking + reflection), matching the
// surfaces the rest of the fleet's services expose.
package service

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/cartridge/replayproc/internal/processor"
)

// HTTPServer wires chi handlers to the processor's report renderer.
type HTTPServer struct {
	proc   *processor.Processor
	logger zerolog.Logger

	mu     sync.RWMutex
	latest string
}

// NewHTTPServer constructs an HTTPServer.
func NewHTTPServer(proc *processor.Processor, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{proc: proc, logger: logger}
}

// SetLatest caches the most recent rendered report, read back by the
// /metrics handler without re-touching the replay memory.
func (s *HTTPServer) SetLatest(report string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = report
}

// Routes builds the HTTP router exposing /metrics and /healthz.
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/metrics", s.handleMetrics)
	r.Get("/healthz", s.handleHealthz)
	return r
}

func (s *HTTPServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(s.proc.Header() + "\n" + latest + "\n")); err != nil {
		s.logger.Error().Err(err).Msg("failed to write metrics response")
	}
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
