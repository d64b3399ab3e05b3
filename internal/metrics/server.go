package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telegram-assistant-bots/internal/logging"
)

// Server exposes /metrics and /healthz.
type Server struct {
	srv *http.Server
}

// Router returns the HTTP routes served by the metrics server.
func Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return r
}

// NewServer registers the collectors and prepares a server on addr.
func NewServer(addr string) *Server {
	MustRegister()
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start serves in the background until Shutdown is called.
func (s *Server) Start() {
	go func() {
		logging.Log.Info().Str("event", "metrics_listen").Str("addr", s.srv.Addr).Msg("metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
