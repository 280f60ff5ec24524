// Package http serves the operational probes of the tollgate binary.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/store"
	"github.com/aussiebroadwan/tollgate/pkg/httpx"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

// Pinger is any dependency whose health readyz should report.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeySet
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store store.Store

	// Cache is checked by readyz when set (the redis principal cache).
	Cache Pinger
}

func NewRouter(keys *jwtx.KeySet, buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys, r.Cache))
}
