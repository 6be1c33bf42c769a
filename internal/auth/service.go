package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultIssuer     = "kontoros"
	defaultAccessTTL  = 10 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour

	defaultLockoutThreshold = 5
	defaultLockoutWindow    = 15 * time.Minute
)

// Service mints, rotates and revokes token pairs and owns the credential
// checks around them. It keeps no in-process session state; every check
// re-reads the store.
type Service struct {
	store Store
	now   func() time.Time

	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration

	lockoutThreshold int
	lockoutWindow    time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithRS256Keys configures the RSA key pair used for signing and verifying
// tokens. Verification-only deployments may pass an empty private key.
func WithRS256Keys(privatePEM, publicPEM string) ServiceOption {
	return func(s *Service) error {
		publicPEM = strings.TrimSpace(publicPEM)
		if publicPEM == "" {
			return errors.New("auth: public key is required")
		}
		pub, err := parseRSAPublicKey(publicPEM)
		if err != nil {
			return fmt.Errorf("auth: parse public key: %w", err)
		}
		s.publicKey = pub

		privatePEM = strings.TrimSpace(privatePEM)
		if privatePEM != "" {
			priv, err := parseRSAPrivateKey(privatePEM)
			if err != nil {
				return fmt.Errorf("auth: parse private key: %w", err)
			}
			s.privateKey = priv
		}
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if iss := strings.TrimSpace(issuer); iss != "" {
			s.issuer = iss
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithLockout configures the failed-login threshold and lockout window.
func WithLockout(threshold int, window time.Duration) ServiceOption {
	return func(s *Service) error {
		if threshold > 0 {
			s.lockoutThreshold = threshold
		}
		if window > 0 {
			s.lockoutWindow = window
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	svc := &Service{
		store:            store,
		now:              time.Now,
		issuer:           defaultIssuer,
		accessTTL:        defaultAccessTTL,
		refreshTTL:       defaultRefreshTTL,
		lockoutThreshold: defaultLockoutThreshold,
		lockoutWindow:    defaultLockoutWindow,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Store exposes the backing store for collaborators that share it, such as
// the federation flow.
func (s *Service) Store() Store { return s.store }

// IssuePair mints an access/refresh token pair for the user. An empty
// familyID starts a new rotation family (fresh login); a non-empty one
// continues an existing chain (rotation). The persisted row is keyed by
// the fingerprint of the signed refresh token and shares the id embedded
// in its claims.
func (s *Service) IssuePair(ctx context.Context, userID, orgID, familyID string, client Client) (TokenPair, error) {
	if s.privateKey == nil {
		return TokenPair{}, errors.New("auth: signing key not configured")
	}
	fam := familyID
	if fam == "" {
		fam = uuid.NewString()
	}
	tokenID := uuid.NewString()
	now := s.now().UTC()

	refresh, err := s.signRefresh(userID, fam, tokenID, now)
	if err != nil {
		return TokenPair{}, err
	}
	access, err := s.signAccess(userID, orgID, now)
	if err != nil {
		return TokenPair{}, err
	}

	rec := &RefreshToken{
		ID:        tokenID,
		UserID:    userID,
		OrgID:     orgID,
		TokenHash: Fingerprint(refresh),
		FamilyID:  fam,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
		IP:        client.IP,
		UserAgent: client.UserAgent,
	}
	if err := s.store.RefreshTokens().Create(ctx, rec); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh, TokenID: tokenID, FamilyID: fam, OrgID: orgID}, nil
}

// Rotate retires the presented token row and issues a successor in the
// same family. Only the caller that actually flips revoked_at proceeds;
// a racing second redemption of the same row observes it as revoked and
// fails closed.
func (s *Service) Rotate(ctx context.Context, oldTokenID, userID, orgID, familyID string, client Client) (TokenPair, error) {
	revoked, err := s.store.RefreshTokens().Revoke(ctx, oldTokenID)
	if err != nil {
		return TokenPair{}, err
	}
	if !revoked {
		return TokenPair{}, ErrInvalidRefresh
	}
	return s.IssuePair(ctx, userID, orgID, familyID, client)
}

// RevokeFamily revokes every live token descended from one login event.
func (s *Service) RevokeFamily(ctx context.Context, familyID string) error {
	return s.store.RefreshTokens().RevokeFamily(ctx, familyID)
}

// Redeem verifies a presented refresh token and rotates it. A token whose
// signature checks out but has no backing row is a replay of a
// rotated-away token: the whole family is revoked and the caller treated
// as compromised.
func (s *Service) Redeem(ctx context.Context, rawRefresh string, client Client) (TokenPair, error) {
	claims, err := s.VerifyRefresh(rawRefresh)
	if err != nil {
		return TokenPair{}, ErrInvalidRefresh
	}

	row, err := s.store.RefreshTokens().FindByFingerprint(ctx, Fingerprint(rawRefresh))
	if errors.Is(err, ErrNotFound) {
		if revokeErr := s.RevokeFamily(ctx, claims.FamilyID); revokeErr != nil {
			return TokenPair{}, revokeErr
		}
		return TokenPair{}, ErrReuseDetected
	}
	if err != nil {
		return TokenPair{}, err
	}
	if row.RevokedAt != nil || s.now().After(row.ExpiresAt) {
		return TokenPair{}, ErrExpiredRefresh
	}
	return s.Rotate(ctx, row.ID, row.UserID, row.OrgID, row.FamilyID, client)
}

// Login authenticates an email/password pair. Unknown email and wrong
// password are indistinguishable to the caller; an active lockout wins
// over both. Failed attempts bump the counter in a single statement so
// concurrent attempts cannot lose updates.
func (s *Service) Login(ctx context.Context, email, password string, client Client) (TokenPair, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, nil, err
	}
	if user.LockedUntil != nil && user.LockedUntil.After(s.now()) {
		return TokenPair{}, nil, ErrLocked
	}
	if user.PasswordHash == "" || !VerifyPassword(user.PasswordHash, password) {
		if recErr := s.store.Users().RecordLoginFailure(ctx, user.ID, s.lockoutThreshold, s.lockoutWindow); recErr != nil {
			return TokenPair{}, nil, recErr
		}
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if err := s.store.Users().ResetLoginFailures(ctx, user.ID); err != nil {
		return TokenPair{}, nil, err
	}

	orgID, err := s.primaryOrg(ctx, user.ID)
	if err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := s.IssuePair(ctx, user.ID, orgID, "", client)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Logout revokes the presented refresh token's row. Best effort: malformed
// or already-revoked tokens are ignored so cookie clearing never fails.
func (s *Service) Logout(ctx context.Context, rawRefresh string) {
	if rawRefresh == "" {
		return
	}
	claims, err := s.VerifyRefresh(rawRefresh)
	if err != nil {
		return
	}
	_, _ = s.store.RefreshTokens().Revoke(ctx, claims.ID)
}

// OrgActive reports whether the organization's subscription currently
// grants access: an active paid period, a running trial, or the grace
// window after it.
func (s *Service) OrgActive(ctx context.Context, orgID string) (bool, error) {
	sub, err := s.store.Subscriptions().Find(ctx, orgID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	now := s.now()
	switch {
	case sub.Status == SubscriptionActive && sub.CurrentPeriodEnd != nil && now.Before(*sub.CurrentPeriodEnd):
		return true, nil
	case sub.Status == SubscriptionTrialing && now.Before(sub.TrialEndsAt):
		return true, nil
	case now.Before(sub.GraceEndsAt):
		return true, nil
	}
	return false, nil
}

func (s *Service) primaryOrg(ctx context.Context, userID string) (string, error) {
	m, err := s.store.Memberships().FirstForUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.OrgID, nil
}
