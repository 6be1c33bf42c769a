package httpapi

import (
	"errors"
	"net/http"

	"kontoros.org/internal/audit"
	"kontoros.org/internal/auth"
	"kontoros.org/internal/obs"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	OrgName  string `json:"org_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	OrgID     string `json:"org_id,omitempty"`
	OrgSlug   string `json:"org_slug,omitempty"`
	OrgActive *bool  `json:"org_active,omitempty"`
}

// handleCSRFToken returns the current CSRF token. EnsureCSRFCookie has
// already planted the cookie; this endpoint just makes the value easy to
// read for non-browser clients.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	token := cookieValue(r, CSRFCookie)
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Email == "" || len(req.Password) < 8 {
		a.writeError(w, r, http.StatusBadRequest, "bad_request", "email and a password of at least 8 characters are required")
		return
	}

	pair, account, err := a.svc.Signup(r.Context(), req.Email, req.Password, req.OrgName, clientInfo(r))
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.signup", map[string]any{
		"user_id": account.User.ID,
		"org_id":  account.Org.ID,
	})

	a.setAuthCookies(w, pair)
	writeJSON(w, http.StatusCreated, sessionResponse{
		UserID:  account.User.ID,
		Email:   account.User.Email,
		OrgID:   account.Org.ID,
		OrgSlug: account.Org.Slug,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	pair, user, err := a.svc.Login(r.Context(), req.Email, req.Password, clientInfo(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrLocked):
			obs.ObserveLogin("locked")
			_ = audit.LogEvent(r.Context(), "auth.login_locked", map[string]any{"email": req.Email})
		case errors.Is(err, auth.ErrInvalidCredentials):
			obs.ObserveLogin("failure")
			_ = audit.LogEvent(r.Context(), "auth.login_failed", map[string]any{
				"email": req.Email,
				"ip":    clientIP(r),
			})
		}
		a.writeAuthError(w, r, err)
		return
	}
	obs.ObserveLogin("success")

	a.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID: user.ID,
		Email:  user.Email,
		OrgID:  pair.OrgID,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := cookieValue(r, RefreshCookie)
	if raw == "" {
		a.writeError(w, r, http.StatusUnauthorized, "invalid_refresh", "")
		return
	}

	pair, err := a.svc.Redeem(r.Context(), raw, clientInfo(r))
	if err != nil {
		if errors.Is(err, auth.ErrReuseDetected) {
			obs.ObserveReuse()
			_ = audit.LogEvent(r.Context(), "auth.refresh_reuse_detected", map[string]any{"ip": clientIP(r)})
			a.clearAuthCookies(w)
		}
		a.writeAuthError(w, r, err)
		return
	}
	obs.ObserveRotation()
	_ = audit.LogEvent(r.Context(), "auth.token_rotated", map[string]any{
		"family_id": pair.FamilyID,
	})

	a.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogout is idempotent: revoking an absent or already-dead token
// still clears the cookies and returns 200.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if raw := cookieValue(r, RefreshCookie); raw != "" {
		a.svc.Logout(r.Context(), raw)
		_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	}
	a.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())

	user, err := a.svc.Store().Users().Find(r.Context(), sess.UserID)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}

	resp := sessionResponse{UserID: user.ID, Email: user.Email, OrgID: sess.OrgID}
	if sess.OrgID != "" {
		active, err := a.svc.OrgActive(r.Context(), sess.OrgID)
		if err != nil {
			a.writeAuthError(w, r, err)
			return
		}
		resp.OrgActive = &active
		if org, err := a.svc.Store().Organizations().Find(r.Context(), sess.OrgID); err == nil {
			resp.OrgSlug = org.Slug
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeAuthError maps domain errors onto the HTTP taxonomy.
func (a *API) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		a.writeError(w, r, http.StatusUnauthorized, "invalid_credentials", "")
	case errors.Is(err, auth.ErrLocked):
		a.writeError(w, r, http.StatusLocked, "locked", "")
	case errors.Is(err, auth.ErrReuseDetected):
		a.writeError(w, r, http.StatusForbidden, "reuse_detected", "")
	case errors.Is(err, auth.ErrExpiredRefresh):
		a.writeError(w, r, http.StatusUnauthorized, "expired_refresh", "")
	case errors.Is(err, auth.ErrInvalidRefresh):
		a.writeError(w, r, http.StatusUnauthorized, "invalid_refresh", "")
	case errors.Is(err, auth.ErrInvalidState):
		a.writeError(w, r, http.StatusBadRequest, "invalid_state", "")
	case errors.Is(err, auth.ErrNonceMismatch):
		a.writeError(w, r, http.StatusBadRequest, "nonce_mismatch", "")
	case errors.Is(err, auth.ErrEmailExists):
		a.writeError(w, r, http.StatusConflict, "email_exists", "")
	case errors.Is(err, auth.ErrSlugExists):
		a.writeError(w, r, http.StatusConflict, "slug_exists", "")
	case errors.Is(err, auth.ErrTransientUpstream):
		a.writeError(w, r, http.StatusBadGateway, "transient_upstream", "")
	case errors.Is(err, auth.ErrNotFound):
		a.writeError(w, r, http.StatusNotFound, "not_found", "")
	default:
		a.writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
	}
}

func clientInfo(r *http.Request) auth.Client {
	return auth.Client{IP: clientIP(r), UserAgent: r.UserAgent()}
}
