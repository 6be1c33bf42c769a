package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"kontoros.org/internal/ids"
)

const (
	pgErrUniqueViolation = "23505"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. The zero q is the pool; a
// transaction-bound copy shares one *sql.Tx.
type PGStore struct {
	db *sql.DB
	q  querier
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, q: db}
}

func (s *PGStore) Users() UserStore                 { return &userStore{q: s.q} }
func (s *PGStore) Organizations() OrganizationStore { return &orgStore{q: s.q} }
func (s *PGStore) Memberships() MembershipStore     { return &membershipStore{q: s.q} }
func (s *PGStore) Subscriptions() SubscriptionStore { return &subscriptionStore{q: s.q} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &refreshTokenStore{q: s.q} }
func (s *PGStore) OAuthStates() OAuthStateStore     { return &oauthStateStore{q: s.q} }

// InTx runs fn against a transaction-bound Store. Nested calls reuse the
// surrounding transaction.
func (s *PGStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&PGStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// User store ---------------------------------------------------------------

type userStore struct{ q querier }

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into users (id, email, password_hash, oauth_provider, oauth_sub, email_verified_at)
		values ($1, lower($2), $3, $4, $5, $6)
	`, u.ID, u.Email, nullIfEmpty(u.PasswordHash), nullIfEmpty(u.OAuthProvider), nullIfEmpty(u.OAuthSubject), nullTime(u.EmailVerifiedAt))
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

const userColumns = `id, email, coalesce(password_hash, ''), failed_login_count, locked_until,
	coalesce(oauth_provider, ''), coalesce(oauth_sub, ''), email_verified_at, created_at, updated_at`

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.q.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.q.QueryRowContext(ctx, `select `+userColumns+` from users where email = lower($1)`, email)
	return scanUser(row)
}

func (s *userStore) FindByFederatedIdentity(ctx context.Context, provider, subject string) (*User, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where oauth_provider = $1 and oauth_sub = $2`,
		provider, subject)
	return scanUser(row)
}

func (s *userStore) LinkFederatedIdentity(ctx context.Context, userID, provider, subject string) error {
	_, err := s.q.ExecContext(ctx, `
		update users
		set oauth_provider = $2, oauth_sub = $3,
		    email_verified_at = coalesce(email_verified_at, now()),
		    updated_at = now()
		where id = $1
	`, userID, provider, subject)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

func (s *userStore) RecordLoginFailure(ctx context.Context, userID string, threshold int, lockFor time.Duration) error {
	_, err := s.q.ExecContext(ctx, `
		update users
		set failed_login_count = failed_login_count + 1,
		    locked_until = case when failed_login_count + 1 >= $2
		                        then now() + make_interval(secs => $3)
		                        else null end,
		    updated_at = now()
		where id = $1
	`, userID, threshold, int64(lockFor.Seconds()))
	return err
}

func (s *userStore) ResetLoginFailures(ctx context.Context, userID string) error {
	_, err := s.q.ExecContext(ctx, `
		update users
		set failed_login_count = 0, locked_until = null, updated_at = now()
		where id = $1
	`, userID)
	return err
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u        User
		locked   sql.NullTime
		verified sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FailedLoginCount, &locked,
		&u.OAuthProvider, &u.OAuthSubject, &verified, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if locked.Valid {
		u.LockedUntil = &locked.Time
	}
	if verified.Valid {
		u.EmailVerifiedAt = &verified.Time
	}
	return &u, nil
}

// Organization store -------------------------------------------------------

type orgStore struct{ q querier }

// Create inserts the organization. The slug conflict is absorbed with ON
// CONFLICT DO NOTHING instead of letting the unique index raise: a raised
// 23505 would abort the surrounding bootstrap transaction and kill the
// slug retry loop, while a zero-row insert leaves the transaction usable.
func (s *orgStore) Create(ctx context.Context, org *Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	res, err := s.q.ExecContext(ctx, `
		insert into orgs (id, name, slug, owner_user_id)
		values ($1, $2, $3, $4)
		on conflict (slug) do nothing
	`, org.ID, org.Name, org.Slug, org.OwnerUserID)
	if err != nil {
		return mapUniqueViolation(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSlugExists
	}
	return nil
}

func (s *orgStore) Find(ctx context.Context, id string) (*Organization, error) {
	var org Organization
	err := s.q.QueryRowContext(ctx, `
		select id, name, slug, owner_user_id, created_at, updated_at
		from orgs where id = $1
	`, id).Scan(&org.ID, &org.Name, &org.Slug, &org.OwnerUserID, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (s *orgStore) SlugTaken(ctx context.Context, slug string) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx, `select 1 from orgs where slug = $1`, slug).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Membership store ----------------------------------------------------------

type membershipStore struct{ q querier }

func (s *membershipStore) Create(ctx context.Context, m *OrgMembership) error {
	_, err := s.q.ExecContext(ctx, `
		insert into org_members (org_id, user_id, role)
		values ($1, $2, $3)
	`, m.OrgID, m.UserID, m.Role)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

func (s *membershipStore) FirstForUser(ctx context.Context, userID string) (*OrgMembership, error) {
	var m OrgMembership
	err := s.q.QueryRowContext(ctx, `
		select org_id, user_id, role, created_at
		from org_members
		where user_id = $1
		order by (role = 'owner') desc, created_at asc
		limit 1
	`, userID).Scan(&m.OrgID, &m.UserID, &m.Role, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Subscription store ---------------------------------------------------------

type subscriptionStore struct{ q querier }

func (s *subscriptionStore) CreateTrial(ctx context.Context, orgID string, now time.Time) (*Subscription, error) {
	sub := &Subscription{
		OrgID:         orgID,
		Plan:          "starter",
		Status:        SubscriptionTrialing,
		TrialStartsAt: now,
		TrialEndsAt:   now.Add(7 * 24 * time.Hour),
		GraceEndsAt:   now.Add((7 + 3) * 24 * time.Hour),
	}
	_, err := s.q.ExecContext(ctx, `
		insert into org_subscriptions (org_id, plan, status, trial_starts_at, trial_ends_at, grace_ends_at)
		values ($1, $2, $3, $4, $5, $6)
	`, sub.OrgID, sub.Plan, sub.Status, sub.TrialStartsAt, sub.TrialEndsAt, sub.GraceEndsAt)
	if err != nil {
		return nil, mapUniqueViolation(err)
	}
	return sub, nil
}

func (s *subscriptionStore) Find(ctx context.Context, orgID string) (*Subscription, error) {
	var (
		sub       Subscription
		periodEnd sql.NullTime
	)
	err := s.q.QueryRowContext(ctx, `
		select org_id, plan, status, trial_starts_at, trial_ends_at, grace_ends_at, current_period_end
		from org_subscriptions where org_id = $1
	`, orgID).Scan(&sub.OrgID, &sub.Plan, &sub.Status, &sub.TrialStartsAt, &sub.TrialEndsAt, &sub.GraceEndsAt, &periodEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if periodEnd.Valid {
		sub.CurrentPeriodEnd = &periodEnd.Time
	}
	return &sub, nil
}

// Refresh token store ---------------------------------------------------------

type refreshTokenStore struct{ q querier }

func (s *refreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.q.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, org_id, token_hash, family_id, issued_at, expires_at, ip, user_agent)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, tok.ID, tok.UserID, nullIfEmpty(tok.OrgID), tok.TokenHash, tok.FamilyID,
		tok.IssuedAt, tok.ExpiresAt, nullIfEmpty(tok.IP), nullIfEmpty(tok.UserAgent))
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

func (s *refreshTokenStore) FindByFingerprint(ctx context.Context, fingerprint string) (*RefreshToken, error) {
	var (
		tok     RefreshToken
		orgID   sql.NullString
		revoked sql.NullTime
		ip      sql.NullString
		ua      sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		select id, user_id, org_id, token_hash, family_id, issued_at, expires_at, revoked_at, ip, user_agent
		from refresh_tokens where token_hash = $1
	`, fingerprint).Scan(&tok.ID, &tok.UserID, &orgID, &tok.TokenHash, &tok.FamilyID,
		&tok.IssuedAt, &tok.ExpiresAt, &revoked, &ip, &ua)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tok.OrgID = orgID.String
	tok.IP = ip.String
	tok.UserAgent = ua.String
	if revoked.Valid {
		tok.RevokedAt = &revoked.Time
	}
	return &tok, nil
}

func (s *refreshTokenStore) Revoke(ctx context.Context, id string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		update refresh_tokens set revoked_at = now()
		where id = $1 and revoked_at is null
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *refreshTokenStore) RevokeFamily(ctx context.Context, familyID string) error {
	_, err := s.q.ExecContext(ctx, `
		update refresh_tokens set revoked_at = now()
		where family_id = $1 and revoked_at is null
	`, familyID)
	return err
}

// OAuth state store -----------------------------------------------------------

type oauthStateStore struct{ q querier }

func (s *oauthStateStore) Create(ctx context.Context, st *OAuthState) error {
	_, err := s.q.ExecContext(ctx, `
		insert into oauth_states (state, code_verifier, nonce, provider, redirect_uri, expires_at)
		values ($1, $2, $3, $4, $5, $6)
	`, st.State, st.CodeVerifier, st.Nonce, st.Provider, st.RedirectURI, st.ExpiresAt)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

// Consume deletes the row as it reads it, so a replayed state observes
// ErrNotFound even before the TTL elapses.
func (s *oauthStateStore) Consume(ctx context.Context, state string, now time.Time) (*OAuthState, error) {
	var st OAuthState
	err := s.q.QueryRowContext(ctx, `
		delete from oauth_states
		where state = $1 and expires_at > $2
		returning state, code_verifier, nonce, provider, redirect_uri, expires_at
	`, state, now).Scan(&st.State, &st.CodeVerifier, &st.Nonce, &st.Provider, &st.RedirectURI, &st.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// helpers ---------------------------------------------------------------------

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
		switch {
		case strings.Contains(pgErr.ConstraintName, "users_email"):
			return ErrEmailExists
		case strings.Contains(pgErr.ConstraintName, "orgs_slug"):
			return ErrSlugExists
		default:
			return ErrConflict
		}
	}
	return err
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
