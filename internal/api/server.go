package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/libreqos/lqosd/pkg/logger"
)

const serverShutdownTimeout = 5 * time.Second

// Server is the status HTTP server (SPEC_FULL.md §2.7), reachable only
// via `lqosd serve`.
type Server struct {
	router chi.Router
	port   string
	log    *logger.Logger
}

// NewServer builds the chi router, wraps it with huma for typed/
// OpenAPI-documented handlers, and registers the status endpoints.
func NewServer(store *SnapshotStore, port string, log *logger.Logger) *Server {
	if port == "" {
		port = "8080"
	}

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)

	config := huma.DefaultConfig("lqosd status API", "1.0.0")
	config.Info.Description = "Read-only reload/reconcile status, queue tree, and per-circuit stats"
	humaAPI := humachi.New(router, config)

	NewHandler(store, log).Register(humaAPI)

	return &Server{router: router, port: port, log: log.WithComponent("api")}
}

// Handler exposes the chi router for tests that drive requests directly
// with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: ":" + s.port, Handler: s.router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.InfoContext(ctx, "status API listening", "port", s.port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: server failed: %w", err)
	}
	return nil
}
