// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeranaias/chatvault/internal/export"
	"github.com/jeranaias/chatvault/internal/logging"
	"github.com/jeranaias/chatvault/internal/model"
	"github.com/jeranaias/chatvault/internal/store"
	"github.com/jeranaias/chatvault/internal/vaulterr"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the listen address used when Config.Addr is empty.
	DefaultAddr = "127.0.0.1:8787"

	// Version is reported by /health.
	Version = "0.3.0"
)

// ============================================================================
// DEPENDENCIES
// ============================================================================

// Store is the read side of the history store used by the HTTP surface.
type Store interface {
	Ping(ctx context.Context) error
	UserByIdentifier(ctx context.Context, identifier string) (*model.User, error)
	ListThreads(ctx context.Context, userID string) ([]store.ThreadSummary, error)
	Thread(ctx context.Context, threadID string) (*model.Thread, error)
}

// Exporter produces the encrypted artifact for a resolved user id.
type Exporter interface {
	Export(ctx context.Context, userID string) (*export.Artifact, error)
}

// Deps are the collaborators a Server needs.
type Deps struct {
	Store    Store
	Exporter Exporter

	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer

	// Logger receives request and error logs. Nil discards.
	Logger *slog.Logger
}

// Config configures the HTTP surface.
type Config struct {
	Addr  string
	Token TokenConfig

	// RatePerMinute and Burst limit exports per user.
	RatePerMinute int
	Burst         int
}

// ============================================================================
// SERVER
// ============================================================================

// Server delivers encrypted exports over HTTP.
//
// Routes:
//   - GET /health           store reachability
//   - GET /metrics          Prometheus metrics
//   - GET /v1/threads       caller's threads (auth)
//   - GET /v1/threads/:id   one of the caller's threads with steps (auth)
//   - GET /v1/export        chat_history.enc attachment (auth, rate limited)
type Server struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	limiter *RateLimiter
	engine  *gin.Engine

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	started  time.Time
}

// New builds a Server. The JWT secret must be set.
func New(cfg Config, deps Deps) (*Server, error) {
	if len(cfg.Token.Secret) == 0 {
		return nil, errors.New("server: jwt secret is required")
	}
	if deps.Store == nil || deps.Exporter == nil {
		return nil, errors.New("server: store and exporter are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logging.OrDiscard(deps.Logger),
		limiter: NewRateLimiter(cfg.RatePerMinute, cfg.Burst),
		started: time.Now(),
	}
	s.engine = s.routes()
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(Recovery(s.logger), SecurityHeaders(), RequestLogger(s.logger))

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	v1.Use(RequireAuth(s.cfg.Token, s.logger))
	{
		v1.GET("/threads", s.handleThreads)
		v1.GET("/threads/:id", s.handleThread)
		v1.GET("/export", RateLimit(s.limiter, s.logger), s.handleExport)
	}
	return r
}

// ============================================================================
// HANDLERS
// ============================================================================

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	if err := s.deps.Store.Ping(c.Request.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		resp.Status = "unavailable"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type threadSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
	Steps     int    `json:"steps"`
}

func (s *Server) handleThreads(c *gin.Context) {
	user, ok := s.resolveUser(c)
	if !ok {
		return
	}
	summaries, err := s.deps.Store.ListThreads(c.Request.Context(), user.ID)
	if err != nil {
		s.fail(c, "list threads", err)
		return
	}

	out := make([]threadSummary, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, threadSummary{
			ID:        sum.ID,
			Name:      sum.Name,
			CreatedAt: sum.CreatedAt,
			Steps:     sum.StepCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"threads": out})
}

func (s *Server) handleThread(c *gin.Context) {
	user, ok := s.resolveUser(c)
	if !ok {
		return
	}
	thread, err := s.deps.Store.Thread(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "get thread", err)
		return
	}
	// Another user's thread is indistinguishable from a missing one.
	if thread.UserID == nil || *thread.UserID != user.ID {
		abortError(c, http.StatusNotFound, "not found")
		return
	}
	c.JSON(http.StatusOK, thread)
}

func (s *Server) handleExport(c *gin.Context) {
	user, ok := s.resolveUser(c)
	if !ok {
		return
	}
	art, err := s.deps.Exporter.Export(c.Request.Context(), user.ID)
	if err != nil {
		s.fail(c, "export", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	c.Header("X-Chatvault-Threads", strconv.Itoa(art.Threads))
	c.Data(http.StatusOK, art.MimeType, art.Data)
}

// ============================================================================
// HELPERS
// ============================================================================

// resolveUser maps the token subject to a stored user. It writes the error
// response itself and reports whether the handler should continue.
func (s *Server) resolveUser(c *gin.Context) (*model.User, bool) {
	identifier, ok := IdentifierFromContext(c)
	if !ok {
		abortError(c, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	user, err := s.deps.Store.UserByIdentifier(c.Request.Context(), identifier)
	if err != nil {
		s.fail(c, "resolve user", err)
		return nil, false
	}
	return user, true
}

// fail maps an error kind to a status. Details stay in the log; clients see
// a generic message.
func (s *Server) fail(c *gin.Context, action string, err error) {
	kind := vaulterr.KindOf(err)
	if kind == vaulterr.KindNotFound {
		abortError(c, http.StatusNotFound, "not found")
		return
	}
	s.logger.Error(action+" failed", "kind", kind.String(), "error", err)
	abortError(c, http.StatusInternalServerError, action+" failed")
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
// It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("server start", "addr", ln.Addr().String(), "version", Version)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address once serving, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info("server shutdown", "tracked_users", s.limiter.Visitors())
	return srv.Shutdown(ctx)
}
