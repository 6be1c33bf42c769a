package auth

import "errors"

// Sentinel errors form the externally visible taxonomy. The boundary layer
// maps each to a status code; anything not listed here surfaces as an
// internal error without detail.
var (
	// ErrInvalidCredentials covers both unknown email and wrong password;
	// the two are never distinguished externally.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrLocked             = errors.New("auth: account locked")
	// ErrReuseDetected means a syntactically valid refresh token had no
	// backing row: a replay. The whole family has been revoked.
	ErrReuseDetected     = errors.New("auth: refresh token reuse detected")
	ErrInvalidRefresh    = errors.New("auth: invalid refresh token")
	ErrExpiredRefresh    = errors.New("auth: refresh token expired or revoked")
	ErrInvalidState      = errors.New("auth: unknown or expired oauth state")
	ErrNonceMismatch     = errors.New("auth: oauth nonce mismatch")
	ErrEmailExists       = errors.New("auth: email already registered")
	ErrSlugExists        = errors.New("auth: organization slug already taken")
	ErrTransientUpstream = errors.New("auth: federation provider unavailable")
	ErrNotFound          = errors.New("auth: not found")
	ErrConflict          = errors.New("auth: already exists")
)
