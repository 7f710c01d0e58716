// Package server is the HTTP boundary: a chi router mapping the REST
// surface onto the service facade. Handlers decode, delegate, and wrap
// results in the response envelope; no business logic lives here.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/logger"
	"github.com/openviking/openviking/pkg/service"
)

const (
	// defaultWaitTimeout bounds wait_processed when the caller gives none.
	defaultWaitTimeout = 10 * time.Minute
	shutdownGrace      = 5 * time.Second
)

// Server serves the REST API for one service instance.
type Server struct {
	cfg  config.ServerConfig
	svc  *service.Service
	reg  *prometheus.Registry
	http *http.Server
	log  *slog.Logger
}

// New builds the server. reg may be nil to disable /metrics.
func New(cfg config.ServerConfig, svc *service.Service, reg *prometheus.Registry) *Server {
	cfg.SetDefaults()
	s := &Server{cfg: cfg, svc: svc, reg: reg, log: logger.GetLogger("server")}
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: defaultWaitTimeout + time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
	return s
}

// Router assembles the route tree. Exposed for httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/health", s.handleHealth)
	if s.reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/system/status", s.handleSystemStatus)
		r.Post("/system/wait", s.handleSystemWait)

		r.Post("/resources", s.handleAddResource)
		r.Post("/skills", s.handleAddSkill)

		r.Route("/fs", func(r chi.Router) {
			r.Get("/ls", s.handleLs)
			r.Get("/tree", s.handleTree)
			r.Get("/stat", s.handleStat)
			r.Post("/mkdir", s.handleMkdir)
			r.Post("/mv", s.handleMv)
			r.Delete("/", s.handleRm)
		})

		r.Get("/content/read", s.handleRead)
		r.Get("/content/abstract", s.handleAbstract)
		r.Get("/content/overview", s.handleOverview)

		r.Post("/search/find", s.handleFind)
		r.Post("/search/search", s.handleSearch)
		r.Post("/search/grep", s.handleGrep)
		r.Post("/search/glob", s.handleGlob)

		r.Get("/relations", s.handleRelations)
		r.Post("/relations/link", s.handleLink)
		r.Delete("/relations/link", s.handleUnlink)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleSessionCreate)
			r.Get("/", s.handleSessionList)
			r.Get("/{id}", s.handleSessionGet)
			r.Delete("/{id}", s.handleSessionDelete)
			r.Post("/{id}/messages", s.handleSessionAddMessage)
			r.Post("/{id}/tool", s.handleSessionUpdateTool)
			r.Post("/{id}/used", s.handleSessionUsed)
			r.Post("/{id}/commit", s.handleSessionCommit)
			r.Post("/{id}/extract", s.handleSessionExtract)
		})

		r.Post("/pack/export", s.handlePackExport)
		r.Post("/pack/import", s.handlePackImport)

		r.Get("/observer/queue", s.handleObserverQueue)
		r.Get("/observer/vikingdb", s.handleObserverVikingDB)
		r.Get("/observer/vlm", s.handleObserverVLM)
		r.Get("/observer/transaction", s.handleObserverTransaction)
		r.Get("/observer/system", s.handleSystemStatus)
		r.Get("/debug/health", s.handleHealth)
	})

	return r
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("http server listening", "addr", s.http.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	s.log.Info("http server shutting down")
	return s.http.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.http.Addr }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeResult(w, map[string]string{"status": "ok"})
}
