// Package server assembles the HTTP surface of fieldgate.
package server

import (
	"log/slog"
	"net/http"

	"github.com/fieldgate/fieldgate/internal/api"
	"github.com/fieldgate/fieldgate/internal/auth"
	"github.com/fieldgate/fieldgate/internal/metrics"
	"github.com/fieldgate/fieldgate/internal/records"
	"github.com/fieldgate/fieldgate/internal/schema"
	"github.com/fieldgate/fieldgate/internal/store"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Store       store.Store
	Registry    *auth.Registry
	Issuer      *auth.Issuer
	Permissions *auth.Permissions
	Gateway     *records.Gateway
	Schema      *schema.Registry
	Consent     auth.ConsentConfig
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares to a handler, first listed outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}

	return h
}

// NewMux builds the HTTP mux: client registration, the consent and token
// endpoints, and the protected record API. Every /api/v1 route is wrapped
// in the audit middleware; the audit layer sits outside authentication so
// rejected calls are logged too.
func NewMux(cfg MuxConfig) *http.ServeMux {
	audit := auth.NewAudit(cfg.Store, cfg.Store, cfg.Logger)
	authn := auth.NewAuthenticator(cfg.Store, cfg.Store, cfg.Logger)

	public := func(h http.Handler) http.Handler {
		return Chain(h, audit.Middleware)
	}
	protected := func(h http.Handler) http.Handler {
		return Chain(h, audit.Middleware, authn.Middleware)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/register", public(auth.HandleRegistration(cfg.Registry, cfg.Logger)))
	mux.Handle("/api/v1/authorize", public(auth.HandleAuthorize(cfg.Consent, cfg.Registry, cfg.Logger)))
	mux.Handle("/api/v1/confirm", public(auth.HandleConfirm(cfg.Consent, cfg.Registry, cfg.Issuer, cfg.Logger)))
	mux.Handle("/api/v1/token", public(auth.HandleToken(cfg.Registry, cfg.Issuer, cfg.Logger)))
	mux.Handle("/api/v1/revoke", protected(auth.HandleRevoke(cfg.Issuer, cfg.Logger)))
	mux.Handle("/api/v1/records", protected(records.HandleRecords(cfg.Gateway)))
	mux.Handle("/api/v1/permissions", protected(records.HandlePermissions(cfg.Schema, cfg.Permissions, cfg.Logger)))

	mux.HandleFunc("/healthz", handleHealth(cfg.Store))

	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics.Handler())
	}

	return mux
}

func handleHealth(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Ping(r.Context()); err != nil {
			api.WriteError(w, api.ServerError("Store unavailable"))
			return
		}

		api.WriteSuccess(w, http.StatusOK, "", map[string]string{"status": "ok"})
	}
}
