package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// InTx returns a Store whose writes share one transaction; multi-row
// invariants (bootstrap atomicity, one live token per family) rely on it
// instead of application-level locking.
type Store interface {
	Users() UserStore
	Organizations() OrganizationStore
	Memberships() MembershipStore
	Subscriptions() SubscriptionStore
	RefreshTokens() RefreshTokenStore
	OAuthStates() OAuthStateStore
	InTx(ctx context.Context, fn func(Store) error) error
}

// UserStore manages identity rows and their auth bookkeeping fields.
type UserStore interface {
	// Create inserts the user. A duplicate email maps to ErrEmailExists,
	// a duplicate federated identity to ErrConflict.
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	// FindByEmail matches case-insensitively.
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByFederatedIdentity(ctx context.Context, provider, subject string) (*User, error)
	// LinkFederatedIdentity attaches a (provider, subject) pair to an
	// existing account and marks the email verified if it was not yet.
	LinkFederatedIdentity(ctx context.Context, userID, provider, subject string) error
	// RecordLoginFailure increments the failure counter in a single
	// statement and sets the lockout once the threshold is reached.
	RecordLoginFailure(ctx context.Context, userID string, threshold int, lockFor time.Duration) error
	ResetLoginFailures(ctx context.Context, userID string) error
}

// OrganizationStore manages tenant containers.
type OrganizationStore interface {
	// Create inserts the organization. A duplicate slug maps to ErrSlugExists.
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	SlugTaken(ctx context.Context, slug string) (bool, error)
}

// MembershipStore manages the user/organization join rows.
type MembershipStore interface {
	Create(ctx context.Context, m *OrgMembership) error
	// FirstForUser returns the owner membership if one exists, otherwise
	// the oldest membership.
	FirstForUser(ctx context.Context, userID string) (*OrgMembership, error)
}

// SubscriptionStore manages the per-organization billing state. CreateTrial
// works both standalone and on a transaction-bound store.
type SubscriptionStore interface {
	CreateTrial(ctx context.Context, orgID string, now time.Time) (*Subscription, error)
	Find(ctx context.Context, orgID string) (*Subscription, error)
}

// RefreshTokenStore manages the refresh token audit trail. Rows are never
// deleted.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	FindByFingerprint(ctx context.Context, fingerprint string) (*RefreshToken, error)
	// Revoke marks a single row revoked and reports whether this call did
	// the revoking. A false return means the row was missing or already
	// revoked, which a racing rotation must treat as fail-closed.
	Revoke(ctx context.Context, id string) (bool, error)
	RevokeFamily(ctx context.Context, familyID string) error
}

// OAuthStateStore manages ephemeral federation-attempt state.
type OAuthStateStore interface {
	Create(ctx context.Context, st *OAuthState) error
	// Consume atomically claims an unexpired state row. A second call for
	// the same state returns ErrNotFound even inside the TTL.
	Consume(ctx context.Context, state string, now time.Time) (*OAuthState, error)
}
