package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Server exposes /metrics and /healthz while a crawl runs.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
	mounts []func(chi.Router)
}

// NewServer builds a Server listening on addr. Each mount adds routes next
// to the built-in endpoints.
func NewServer(addr string, logger *zap.Logger, mounts ...func(chi.Router)) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{logger: logger, mounts: mounts}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router returns the chi router serving the endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", Handler())
	for _, mount := range s.mounts {
		mount(r)
	}
	return r
}

// Start listens and serves until ctx is done. The returned channel closes
// once the server has shut down.
func (s *Server) Start(ctx context.Context) (<-chan struct{}, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.logger.Info("metrics server listening", zap.String("addr", ln.Addr().String()))

	done := make(chan struct{})
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}()
	return done, nil
}
