package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kontoros.org/internal/audit"
	"kontoros.org/internal/auth"
)

const (
	defaultStateTTL = 10 * time.Minute

	stateBytes    = 24
	nonceBytes    = 24
	verifierBytes = 48
)

// Flow drives the authorization-code dance for all registered providers
// and lands the asserted identity on a local account. It shares the auth
// service's store so state consumption, linking and bootstrap all hit the
// same database.
type Flow struct {
	svc       *auth.Service
	store     auth.Store
	providers map[string]Provider
	now       func() time.Time
	stateTTL  time.Duration
}

// FlowOption configures Flow behavior.
type FlowOption func(*Flow)

// WithStateTTL overrides how long a pending authorization attempt stays
// redeemable.
func WithStateTTL(ttl time.Duration) FlowOption {
	return func(f *Flow) {
		if ttl > 0 {
			f.stateTTL = ttl
		}
	}
}

// WithFlowClock overrides the time source (useful for tests).
func WithFlowClock(fn func() time.Time) FlowOption {
	return func(f *Flow) {
		if fn != nil {
			f.now = fn
		}
	}
}

// NewFlow constructs a Flow over the given providers.
func NewFlow(svc *auth.Service, providers []Provider, opts ...FlowOption) *Flow {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	f := &Flow{
		svc:       svc,
		store:     svc.Store(),
		providers: byName,
		now:       time.Now,
		stateTTL:  defaultStateTTL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Providers lists the registered provider names.
func (f *Flow) Providers() []string {
	names := make([]string, 0, len(f.providers))
	for name := range f.providers {
		names = append(names, name)
	}
	return names
}

// Start persists a fresh state/nonce/verifier triple and returns the
// provider authorization URL to redirect the browser to. Only the hash of
// the verifier leaves the server; the verifier itself stays in the state
// row until the callback.
func (f *Flow) Start(ctx context.Context, providerName, redirectURI string) (string, error) {
	p, ok := f.providers[providerName]
	if !ok {
		return "", fmt.Errorf("%w: unknown provider %q", auth.ErrInvalidState, providerName)
	}

	state, err := auth.RandomToken(stateBytes)
	if err != nil {
		return "", err
	}
	nonce, err := auth.RandomToken(nonceBytes)
	if err != nil {
		return "", err
	}
	verifier, err := auth.RandomToken(verifierBytes)
	if err != nil {
		return "", err
	}

	err = f.store.OAuthStates().Create(ctx, &auth.OAuthState{
		State:        state,
		CodeVerifier: verifier,
		Nonce:        nonce,
		Provider:     providerName,
		RedirectURI:  redirectURI,
		ExpiresAt:    f.now().UTC().Add(f.stateTTL),
	})
	if err != nil {
		return "", err
	}
	return p.AuthCodeURL(state, nonce, auth.Fingerprint(verifier)), nil
}

// CallbackResult is the outcome of a completed federation round trip.
type CallbackResult struct {
	Pair        auth.TokenPair
	User        *auth.User
	RedirectURI string
}

// Callback redeems the authorization code, validates the identity
// assertion against the stored attempt and signs the user in, creating
// the account on first contact. The state row is consumed before any
// upstream call, so a replayed callback dies on ErrInvalidState no matter
// how the first attempt ended.
func (f *Flow) Callback(ctx context.Context, providerName, state, code string, client auth.Client) (*CallbackResult, error) {
	st, err := f.store.OAuthStates().Consume(ctx, state, f.now().UTC())
	if errors.Is(err, auth.ErrNotFound) {
		return nil, auth.ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	if st.Provider != providerName {
		return nil, auth.ErrInvalidState
	}
	p, ok := f.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", auth.ErrInvalidState, providerName)
	}

	tokens, err := p.Exchange(ctx, code, st.CodeVerifier)
	if err != nil {
		return nil, err
	}
	identity, err := p.Identity(ctx, tokens)
	if err != nil {
		return nil, err
	}
	if identity.Nonce != "" && identity.Nonce != st.Nonce {
		return nil, auth.ErrNonceMismatch
	}

	user, err := f.resolveAccount(ctx, providerName, identity)
	if err != nil {
		return nil, err
	}

	orgID, err := f.primaryOrg(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	pair, err := f.svc.IssuePair(ctx, user.ID, orgID, "", client)
	if err != nil {
		return nil, err
	}
	return &CallbackResult{Pair: pair, User: user, RedirectURI: st.RedirectURI}, nil
}

// resolveAccount maps an asserted identity to a local user. Order matters:
// an existing federated link wins, then an account with the same email is
// linked, then a fresh account is bootstrapped. A concurrent callback for
// the same brand-new identity loses the insert race and falls back to the
// winner's row.
func (f *Flow) resolveAccount(ctx context.Context, providerName string, identity *Identity) (*auth.User, error) {
	user, err := f.store.Users().FindByFederatedIdentity(ctx, providerName, identity.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return nil, err
	}

	email := strings.TrimSpace(strings.ToLower(identity.Email))
	if email != "" {
		user, err = f.store.Users().FindByEmail(ctx, email)
		if err == nil {
			if err := f.store.Users().LinkFederatedIdentity(ctx, user.ID, providerName, identity.Subject); err != nil {
				return nil, err
			}
			_ = audit.LogEvent(ctx, "oauth.identity_linked", map[string]any{
				"provider": providerName,
				"user_id":  user.ID,
			})
			return f.store.Users().Find(ctx, user.ID)
		}
		if !errors.Is(err, auth.ErrNotFound) {
			return nil, err
		}
	}
	if email == "" {
		return nil, fmt.Errorf("%s identity %s has no email", providerName, identity.Subject)
	}

	account, err := f.svc.Bootstrap(ctx, auth.BootstrapParams{
		Email:         email,
		OrgName:       identity.Name,
		Provider:      providerName,
		Subject:       identity.Subject,
		EmailVerified: identity.EmailVerified,
	})
	if err == nil {
		_ = audit.LogEvent(ctx, "oauth.account_created", map[string]any{
			"provider": providerName,
			"user_id":  account.User.ID,
			"org_id":   account.Org.ID,
		})
		return account.User, nil
	}
	// Lost an insert race against a concurrent callback or signup: the
	// winner's row is authoritative, so re-run the matching lookup.
	if errors.Is(err, auth.ErrConflict) {
		return f.store.Users().FindByFederatedIdentity(ctx, providerName, identity.Subject)
	}
	if errors.Is(err, auth.ErrEmailExists) {
		user, lookupErr := f.store.Users().FindByEmail(ctx, email)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if linkErr := f.store.Users().LinkFederatedIdentity(ctx, user.ID, providerName, identity.Subject); linkErr != nil {
			return nil, linkErr
		}
		return f.store.Users().Find(ctx, user.ID)
	}
	return nil, err
}

func (f *Flow) primaryOrg(ctx context.Context, userID string) (string, error) {
	m, err := f.store.Memberships().FirstForUser(ctx, userID)
	if errors.Is(err, auth.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.OrgID, nil
}
