package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	slugBaseMaxLen = 40
	slugMaxLen     = 50
	slugMaxProbes  = 100
)

// BootstrapParams describes a first-time account. Exactly one of
// PasswordHash or the Provider/Subject pair is set.
type BootstrapParams struct {
	Email         string
	PasswordHash  string
	OrgName       string
	Provider      string
	Subject       string
	EmailVerified bool
}

// Account is the result of a successful bootstrap.
type Account struct {
	User *User
	Org  *Organization
}

// Signup creates a password account and, after the bootstrap transaction
// has committed, issues the first token pair. A crash between commit and
// issuance leaves a valid, login-able account.
func (s *Service) Signup(ctx context.Context, email, password, orgName string, client Client) (TokenPair, *Account, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return TokenPair{}, nil, err
	}
	account, err := s.Bootstrap(ctx, BootstrapParams{
		Email:        email,
		PasswordHash: hash,
		OrgName:      orgName,
	})
	if err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := s.IssuePair(ctx, account.User.ID, account.Org.ID, "", client)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, account, nil
}

// Bootstrap atomically creates the user, its organization, the owner
// membership and the trial subscription. Partial creation cannot be
// observed: the transaction either commits all four rows or none.
func (s *Service) Bootstrap(ctx context.Context, p BootstrapParams) (*Account, error) {
	email := strings.TrimSpace(strings.ToLower(p.Email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	user := &User{
		Email:         email,
		PasswordHash:  p.PasswordHash,
		OAuthProvider: p.Provider,
		OAuthSubject:  p.Subject,
	}
	if p.EmailVerified {
		now := s.now().UTC()
		user.EmailVerifiedAt = &now
	}

	orgName := strings.TrimSpace(p.OrgName)
	if orgName == "" {
		orgName = "My Organization"
	}
	base := SlugBase(firstNonEmpty(p.OrgName, localPart(email)))
	if base == "" {
		base = "org"
	}

	var org *Organization
	err := s.store.InTx(ctx, func(tx Store) error {
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		created, err := s.createOrgWithUniqueSlug(ctx, tx, orgName, base, user.ID)
		if err != nil {
			return err
		}
		org = created

		if err := tx.Memberships().Create(ctx, &OrgMembership{
			OrgID:  org.ID,
			UserID: user.ID,
			Role:   RoleOwner,
		}); err != nil {
			return err
		}
		if _, err := tx.Subscriptions().CreateTrial(ctx, org.ID, s.now().UTC()); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Account{User: user, Org: org}, nil
}

// createOrgWithUniqueSlug probes slug candidates inside the surrounding
// transaction. The pre-check keeps the common case cheap; the unique index
// remains the authority, and the insert absorbs a lost race as a zero-row
// ErrSlugExists rather than an aborted transaction, so the next suffix can
// be tried on the same connection.
func (s *Service) createOrgWithUniqueSlug(ctx context.Context, tx Store, name, base, ownerID string) (*Organization, error) {
	slug := base
	for i := 2; i <= slugMaxProbes; i++ {
		taken, err := tx.Organizations().SlugTaken(ctx, slug)
		if err != nil {
			return nil, err
		}
		if !taken {
			org := &Organization{Name: name, Slug: slug, OwnerUserID: ownerID}
			err := tx.Organizations().Create(ctx, org)
			if err == nil {
				return org, nil
			}
			if !errors.Is(err, ErrSlugExists) {
				return nil, err
			}
		}
		slug = truncate(fmt.Sprintf("%s-%d", base, i), slugMaxLen)
	}
	return nil, ErrSlugExists
}

// SlugBase derives a URL-safe slug candidate from a display name: lower
// case, anything outside [a-z0-9-] becomes a dash, runs of dashes
// collapse, leading/trailing dashes are trimmed, and the result is capped.
func SlugBase(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastDash := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return truncate(strings.Trim(b.String(), "-"), slugBaseMaxLen)
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

func localPart(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
