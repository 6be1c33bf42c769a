package auth

import "time"

// User is an identity row. PasswordHash is empty for accounts that only
// ever signed in through a federation provider.
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	FailedLoginCount int
	LockedUntil      *time.Time
	OAuthProvider    string
	OAuthSubject     string
	EmailVerifiedAt  *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Organization is the tenant container. Every organization is created
// together with its owner membership and a trial subscription.
type Organization struct {
	ID          string
	Name        string
	Slug        string
	OwnerUserID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrgMembership joins a user to an organization with a role.
type OrgMembership struct {
	OrgID     string
	UserID    string
	Role      string
	CreatedAt time.Time
}

// Membership roles.
const (
	RoleOwner = "owner"
)

// Subscription is the one-to-one billing state of an organization.
// Trial windows are fixed at creation: trial end is start plus seven days,
// grace end is trial end plus three days.
type Subscription struct {
	OrgID            string
	Plan             string
	Status           string
	TrialStartsAt    time.Time
	TrialEndsAt      time.Time
	GraceEndsAt      time.Time
	CurrentPeriodEnd *time.Time
}

// Subscription statuses.
const (
	SubscriptionTrialing = "trialing"
	SubscriptionActive   = "active"
)

// RefreshToken is the persisted record of one issued refresh token.
// Only the fingerprint of the signed token is stored, never the token
// itself; lookups happen by fingerprint equality. Rows are never deleted,
// revocation sets RevokedAt.
type RefreshToken struct {
	ID        string
	UserID    string
	OrgID     string
	TokenHash string
	FamilyID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	IP        string
	UserAgent string
}

// OAuthState is the ephemeral per-federation-attempt record, keyed by the
// random state value. Rows are single-use and expire after a short TTL.
type OAuthState struct {
	State        string
	CodeVerifier string
	Nonce        string
	Provider     string
	RedirectURI  string
	ExpiresAt    time.Time
}

// Client carries the request origin recorded with every issued token.
type Client struct {
	IP        string
	UserAgent string
}

// TokenPair is the result of an issuance or rotation.
type TokenPair struct {
	Access   string
	Refresh  string
	TokenID  string
	FamilyID string
	OrgID    string
}
