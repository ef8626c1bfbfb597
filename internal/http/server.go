// Package httpserver exposes the orchestrator as a small JSON API.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"history_table_manager/internal/history"
)

// Service is the part of the orchestrator the API drives.
type Service interface {
	Preview(ctx context.Context, tables []history.TableRef) (*history.BatchResult, error)
	Apply(ctx context.Context, tables []history.TableRef, opts history.ApplyOptions) (*history.BatchResult, error)
	Rollback(ctx context.Context, tables []history.TableRef, opts history.RollbackOptions) (*history.BatchResult, error)
	ListTables(ctx context.Context, schemaName string) ([]history.TableStatus, error)
}

type Server struct {
	addr    string
	logger  requestLogger
	db      pinger
	tables  *TableHandler
	metrics http.Handler
}

type requestLogger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// New wires the API. metrics may be nil, in which case /metrics is not
// served.
func New(addr string, logger requestLogger, database pinger, svc Service, metrics http.Handler) *Server {
	return &Server{
		addr:    addr,
		logger:  logger,
		db:      database,
		tables:  NewTableHandler(svc, logger),
		metrics: metrics,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Batches can hold a table transaction for a while.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(s.logger))

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Method(http.MethodGet, "/health", HealthHandler{DB: s.db})
		api.Get("/tables", s.tables.List)
		api.Post("/preview", s.tables.Preview)
		api.Post("/apply", s.tables.Apply)
		api.Post("/rollback", s.tables.Rollback)
	})
	return r
}
