// Package api is the HTTP edge: bearer auth, rate limiting, request
// validation, and the routes the connectors talk to. Everything behind it
// (worker supervisor, store, pub files) is injected.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/kisohq/kiso/pkg/config"
	"github.com/kisohq/kiso/pkg/metrics"
	"github.com/kisohq/kiso/pkg/pubfiles"
	"github.com/kisohq/kiso/pkg/store"
	"github.com/kisohq/kiso/pkg/worker"
)

// Server wires the HTTP routes to the runtime services.
type Server struct {
	cfg        *config.Provider
	store      *store.Store
	supervisor *worker.Supervisor
	pub        *pubfiles.Service

	httpServer *http.Server

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer builds the API server and registers all routes.
func NewServer(cfg *config.Provider, st *store.Store, sup *worker.Supervisor, pub *pubfiles.Service) *Server {
	s := &Server{
		cfg:        cfg,
		store:      st,
		supervisor: sup,
		pub:        pub,
		limiters:   map[string]*rate.Limiter{},
	}

	e := echo.New()
	e.Use(securityHeaders())

	// Unauthenticated surface.
	e.GET("/health", s.healthHandler)
	e.GET("/pub/:token/:filename", s.pubFileHandler)
	e.GET("/metrics", func(c *echo.Context) error {
		metrics.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	// Everything else requires a bearer token.
	auth := e.Group("", s.bearerAuth())
	auth.POST("/msg", s.msgHandler)
	auth.GET("/status/:session", s.statusHandler)
	auth.POST("/sessions", s.createSessionHandler)
	auth.POST("/sessions/:session/cancel", s.cancelSessionHandler)
	auth.POST("/admin/reload-env", s.reloadEnvHandler)

	s.httpServer = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer.Addr = addr
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests within the context's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
