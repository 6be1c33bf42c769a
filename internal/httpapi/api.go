// Package httpapi exposes the authentication subsystem over HTTP. Tokens
// travel exclusively in cookies; request bodies and responses are JSON.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"kontoros.org/internal/auth"
	"kontoros.org/internal/config"
	"kontoros.org/internal/oauth"
	"kontoros.org/internal/obs"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// API wires the auth service and federation flow onto an HTTP mux.
type API struct {
	cfg     *config.Config
	svc     *auth.Service
	flow    *oauth.Flow
	db      *sql.DB
	version string

	credentialLimiter *ipLimiter
}

// New constructs the API. flow may be nil when no federation provider is
// configured; the oauth routes then answer 404. db backs the readiness
// probe only.
func New(cfg *config.Config, svc *auth.Service, flow *oauth.Flow, db *sql.DB, version string) *API {
	return &API{
		cfg:     cfg,
		svc:     svc,
		flow:    flow,
		db:      db,
		version: version,
		// 10 credential attempts per second per IP with a small burst.
		credentialLimiter: newIPLimiter(rate.Limit(10), 20),
	}
}

// Handler returns the fully assembled HTTP handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /readyz", a.handleReady)
	mux.HandleFunc("GET /version", a.handleVersion)
	mux.Handle("GET /metrics", obs.Handler())

	mux.HandleFunc("GET /auth/csrf", a.handleCSRFToken)
	mux.HandleFunc("POST /auth/signup", a.RateLimit(a.credentialLimiter, a.requireCSRF(a.handleSignup)))
	mux.HandleFunc("POST /auth/login", a.RateLimit(a.credentialLimiter, a.requireCSRF(a.handleLogin)))
	mux.HandleFunc("POST /auth/refresh", a.RateLimit(a.credentialLimiter, a.requireCSRF(a.handleRefresh)))
	mux.HandleFunc("POST /auth/logout", a.requireCSRF(a.handleLogout))
	mux.HandleFunc("GET /auth/me", a.withSession(a.handleMe))
	mux.HandleFunc("GET /me", a.withSession(a.handleMe))

	mux.HandleFunc("GET /auth/oauth/{provider}", a.RateLimit(a.credentialLimiter, a.handleOAuthStart))
	mux.HandleFunc("GET /auth/oauth/{provider}/callback", a.RateLimit(a.credentialLimiter, a.handleOAuthCallback))

	var h http.Handler = a.EnsureCSRFCookie(mux)
	h = MaxBodyBytes(maxBodyBytes, h)
	h = CORS(a.cfg.AppOrigin, h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady pings the database when one is attached; liveness without
// readiness means the process is up but cannot serve logins yet.
func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.db.PingContext(ctx); err != nil {
			a.writeError(w, r, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": a.version})
}
