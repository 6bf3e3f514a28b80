// Package web provides the HTTP import API.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/tidyimport/internal/config"
	"github.com/JonMunkholm/tidyimport/internal/core"
	"github.com/JonMunkholm/tidyimport/internal/export"
	"github.com/JonMunkholm/tidyimport/internal/loader"
	mw "github.com/JonMunkholm/tidyimport/internal/web/middleware"
)

// Server is the HTTP server for the import API.
type Server struct {
	cfg     *config.Config
	limiter *core.ImportLimiter
	loader  loader.Loader
	store   export.Store // nil when no database is configured
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a Server. store may be nil, in which case format=db
// requests are rejected.
func NewServer(cfg *config.Config, store export.Store) *Server {
	s := &Server{
		cfg:     cfg,
		limiter: core.NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		loader:  loader.Loader{MaxBytes: cfg.Import.MaxFileSize},
		store:   store,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.cfg.Security.RequireAPIKey, s.cfg.Security.APIKeys))

		r.Get("/specs", s.handleListSpecs)
		r.Get("/specs/{specKey}", s.handleGetSpec)

		r.Post("/import/{specKey}", s.handleImportRegistered)
		r.Post("/import", s.handleImportAdHoc)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown waits for in-flight imports, then stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if status := s.limiter.Status(); status.Active > 0 {
		slog.Info("waiting for imports to complete", "active", status.Active)
		if err := s.limiter.WaitForDrain(ctx); err != nil {
			slog.Warn("imports did not complete in time", "error", err)
		}
	}

	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Limiter returns the import limiter.
func (s *Server) Limiter() *core.ImportLimiter {
	return s.limiter
}

// securityHeaders adds security headers to all responses. The API serves no
// documents, so the CSP forbids everything.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a fixed-window request counter per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
	now      func() time.Time
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// newRateLimiter creates a rate limiter with the specified rate per window.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		now:      time.Now,
	}
}

// allow reports whether ip may make another request and consumes a token.
// Stale visitors are dropped on the way.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, v := range rl.visitors {
		if now.Sub(v.lastReset) > rl.window*2 {
			delete(rl.visitors, key)
		}
	}

	v, exists := rl.visitors[ip]
	if !exists || now.Sub(v.lastReset) > rl.window {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: now}
		return true
	}

	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

// middleware returns an HTTP middleware that rate limits by client IP.
// TrustedRealIP has already rewritten RemoteAddr for proxied requests.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			respondErrorJSON(w, rateLimitMessage, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
