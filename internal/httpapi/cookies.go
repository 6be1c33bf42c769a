package httpapi

import (
	"net/http"
	"time"

	"kontoros.org/internal/auth"
)

// Session transport cookies. The token cookies are HTTP-only so scripts
// never see the JWTs; the CSRF cookie is readable on purpose, that is the
// double-submit half the browser must echo back in a header.
const (
	AccessCookie  = "ko_at"
	RefreshCookie = "ko_rt"
	CSRFCookie    = "ko_csrf"
)

const (
	accessCookieTTL  = 10 * time.Minute
	refreshCookieTTL = 30 * 24 * time.Hour
	csrfCookieTTL    = 24 * time.Hour
)

func (a *API) cookie(name, value string, ttl time.Duration, httpOnly bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   a.cfg.CookieDomain,
		HttpOnly: httpOnly,
		Secure:   a.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl > 0 {
		c.MaxAge = int(ttl.Seconds())
	} else {
		c.MaxAge = -1
	}
	return c
}

func (a *API) setAuthCookies(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, a.cookie(AccessCookie, pair.Access, accessCookieTTL, true))
	http.SetCookie(w, a.cookie(RefreshCookie, pair.Refresh, refreshCookieTTL, true))
}

func (a *API) clearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, a.cookie(AccessCookie, "", 0, true))
	http.SetCookie(w, a.cookie(RefreshCookie, "", 0, true))
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
