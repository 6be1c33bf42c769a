package httpapi

import (
	"net/http"

	"kontoros.org/internal/auth"
)

// withSession authenticates the request from the access token cookie and
// attaches the session to the context. The store is not consulted; within
// its ten minute lifetime the signed token is the session.
func (a *API) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := cookieValue(r, AccessCookie)
		if raw == "" {
			a.writeError(w, r, http.StatusUnauthorized, "unauthenticated", "")
			return
		}
		claims, err := a.svc.VerifyAccess(raw)
		if err != nil {
			a.writeError(w, r, http.StatusUnauthorized, "unauthenticated", "")
			return
		}
		ctx := auth.ContextWithSession(r.Context(), auth.Session{
			UserID: claims.Subject,
			OrgID:  claims.OrgID,
		})
		next(w, r.WithContext(ctx))
	}
}
