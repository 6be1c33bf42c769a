package httpapi

import (
	"crypto/subtle"
	"net/http"

	"kontoros.org/internal/auth"
)

// CSRFHeader is the request header that must echo the CSRF cookie on
// state-changing requests.
const CSRFHeader = "X-CSRF"

const csrfTokenBytes = 24

// EnsureCSRFCookie guarantees every response carries a CSRF cookie so the
// client always has a token to echo. Token cookies are HTTP-only and
// SameSite, this readable cookie plus the header check is what stops a
// cross-site form post from riding them.
func (a *API) EnsureCSRFCookie(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookieValue(r, CSRFCookie) == "" {
			token, err := auth.RandomToken(csrfTokenBytes)
			if err != nil {
				a.writeError(w, r, http.StatusInternalServerError, "internal", "")
				return
			}
			http.SetCookie(w, a.cookie(CSRFCookie, token, csrfCookieTTL, false))
			// Downstream handlers read the request cookie, so the fresh
			// token has to be visible there on first contact too.
			r.AddCookie(&http.Cookie{Name: CSRFCookie, Value: token})
		}
		next.ServeHTTP(w, r)
	})
}

// requireCSRF enforces the double-submit check: the header must match the
// cookie byte for byte. Applied to every cookie-authenticated mutation.
func (a *API) requireCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie := cookieValue(r, CSRFCookie)
		header := r.Header.Get(CSRFHeader)
		if cookie == "" || header == "" ||
			subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
			a.writeError(w, r, http.StatusForbidden, "csrf", "missing or mismatched CSRF token")
			return
		}
		next(w, r)
	}
}
