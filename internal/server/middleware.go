// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// identifierKey is the gin context key holding the authenticated identifier.
const identifierKey = "chatvault.identifier"

// ============================================================================
// Auth Middleware
// ============================================================================

// RequireAuth rejects requests without a valid "Bearer" token and stores the
// token subject for IdentifierFromContext.
//
// Every rejection is the same 401 body.
func RequireAuth(cfg TokenConfig, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			logger.Info("auth denied", "ip", c.ClientIP(), "reason", "missing_bearer")
			abortError(c, http.StatusUnauthorized, "unauthorized")
			return
		}

		identifier, err := VerifyToken(cfg, strings.TrimSpace(raw))
		if err != nil {
			logger.Info("auth denied", "ip", c.ClientIP(), "reason", "invalid_token")
			abortError(c, http.StatusUnauthorized, "unauthorized")
			return
		}

		c.Set(identifierKey, identifier)
		c.Next()
	}
}

// IdentifierFromContext returns the identifier stored by RequireAuth.
func IdentifierFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(identifierKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// ============================================================================
// Rate Limiting
// ============================================================================

// RateLimiter hands out one token bucket per key. Buckets idle for longer
// than the idle window are dropped on the next Allow.
type RateLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per key with the given burst.
// perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:     limit,
		burst:     burst,
		idle:      10 * time.Minute,
		visitors:  make(map[string]*visitor),
		lastSweep: time.Now(),
	}
}

// Allow reports whether a request for key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.reserve(key).ok
}

// reserve returns a reservation for key, cancelling it if it would need to
// wait so that rejected requests do not consume tokens.
func (rl *RateLimiter) reserve(key string) decision {
	now := time.Now()

	rl.mu.Lock()
	if now.Sub(rl.lastSweep) > rl.idle {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > rl.idle {
				delete(rl.visitors, k)
			}
		}
		rl.lastSweep = now
	}
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	lim := v.limiter
	rl.mu.Unlock()

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return decision{}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return decision{retryAfter: delay}
	}
	return decision{ok: true}
}

type decision struct {
	ok         bool
	retryAfter time.Duration
}

// Visitors returns the number of tracked keys.
func (rl *RateLimiter) Visitors() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// RateLimit limits requests per authenticated identifier, falling back to the
// client IP for anonymous routes.
func RateLimit(rl *RateLimiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := IdentifierFromContext(c)
		if !ok {
			key = "ip:" + c.ClientIP()
		}

		d := rl.reserve(key)
		if !d.ok {
			retry := int(math.Ceil(d.retryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			logger.Warn("rate limit exceeded", "key", key, "path", c.FullPath())
			abortError(c, http.StatusTooManyRequests, "too many requests")
			return
		}
		c.Next()
	}
}

// ============================================================================
// Request Logging
// ============================================================================

// RequestLogger logs one line per request after it completes.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"duration", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}

// ============================================================================
// Security Headers
// ============================================================================

// SecurityHeaders sets headers that keep exports out of caches and frames.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Cache-Control", "no-store")
		h.Set("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

// ============================================================================
// Recovery
// ============================================================================

// Recovery turns panics into a logged 500.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.Error("panic recovered",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"panic", recovered,
		)
		abortError(c, http.StatusInternalServerError, "internal error")
	})
}

// ============================================================================
// Helpers
// ============================================================================

type errorBody struct {
	Error string `json:"error"`
}

func abortError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorBody{Error: message})
}
