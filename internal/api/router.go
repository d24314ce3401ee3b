// Package api exposes the engine's operator operations over a local HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/pwasync/internal/engine"
	"github.com/roach88/pwasync/internal/log"
)

// shutdownTimeout bounds graceful shutdown of the listener.
const shutdownTimeout = 5 * time.Second

// Server serves the operator API for one engine.
type Server struct {
	engine *engine.Engine
	log    *log.Logger
	router *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer builds the router for e.
func NewServer(e *engine.Engine, opts ...Option) *Server {
	s := &Server{engine: e}
	for _, opt := range opts {
		opt(s)
	}
	s.log = log.OrNop(s.log).Named("api")
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ping", s.handlePing).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")

	r.HandleFunc("/actions", s.handleListActions).Methods("GET")
	r.HandleFunc("/actions", s.handleEnqueue).Methods("POST")
	r.HandleFunc("/actions", s.handleDeleteActions).Methods("DELETE")
	r.HandleFunc("/actions/{id}", s.handleDeleteAction).Methods("DELETE")

	r.HandleFunc("/sync", s.handleSync).Methods("POST")
	r.HandleFunc("/resync", s.handleResync).Methods("POST")
	r.HandleFunc("/export", s.handleExport).Methods("POST")

	r.HandleFunc("/network", s.handleGetNetwork).Methods("GET")
	r.HandleFunc("/network", s.handleSetNetwork).Methods("PUT")
	r.HandleFunc("/network/connectivity", s.handleConnectivity).Methods("POST")
	r.HandleFunc("/network/check", s.handleCheckNetwork).Methods("POST")
	r.HandleFunc("/network/history", s.handleNetworkHistory).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	r.Use(s.logRequests)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()
	s.log.Info("api listening", map[string]any{"addr": l.Addr().String()})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", addr, err)
	}
	return s.Serve(ctx, l)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request", map[string]any{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		})
	})
}
