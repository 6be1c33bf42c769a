package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"kontoros.org/internal/audit"
	"kontoros.org/internal/auth"
	"kontoros.org/internal/obs"
)

// handleOAuthStart begins the authorization-code dance: persist a fresh
// state and redirect the browser to the provider. The post-auth
// destination is always the configured one; callers cannot supply their
// own, which keeps the callback's redirect off attacker-chosen hosts.
func (a *API) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if a.flow == nil {
		a.writeError(w, r, http.StatusNotFound, "not_found", "no federation provider configured")
		return
	}
	provider := r.PathValue("provider")

	url, err := a.flow.Start(r.Context(), provider, a.cfg.AfterAuthURL)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// handleOAuthCallback finishes the dance. On success the session cookies
// are set and the browser is sent to the stored post-auth destination; the
// provider's tokens never reach the client.
func (a *API) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if a.flow == nil {
		a.writeError(w, r, http.StatusNotFound, "not_found", "no federation provider configured")
		return
	}
	provider := r.PathValue("provider")

	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		obs.ObserveOAuthCallback(provider, "denied")
		a.writeError(w, r, http.StatusBadRequest, "provider_denied", errCode)
		return
	}
	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		obs.ObserveOAuthCallback(provider, "failure")
		a.writeError(w, r, http.StatusBadRequest, "invalid_state", "state and code are required")
		return
	}

	result, err := a.flow.Callback(r.Context(), provider, state, code, clientInfo(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTransientUpstream):
			obs.ObserveOAuthCallback(provider, "upstream_error")
		default:
			obs.ObserveOAuthCallback(provider, "failure")
		}
		a.writeAuthError(w, r, err)
		return
	}
	obs.ObserveOAuthCallback(provider, "success")
	_ = audit.LogEvent(r.Context(), "auth.oauth_login", map[string]any{
		"provider": provider,
		"user_id":  result.User.ID,
	})

	a.setAuthCookies(w, result.Pair)
	http.Redirect(w, r, safeRedirect(result.RedirectURI, a.cfg.AfterAuthURL), http.StatusFound)
}

// safeRedirect returns dest only when it is a same-site path. Anything
// absolute or protocol-relative ("//evil.example", "/\evil.example")
// falls back, so stored state can never bounce the browser off-site.
func safeRedirect(dest, fallback string) string {
	if dest == "" {
		return fallback
	}
	if !strings.HasPrefix(dest, "/") {
		return fallback
	}
	if strings.HasPrefix(dest, "//") || strings.HasPrefix(dest, "/\\") {
		return fallback
	}
	return dest
}
