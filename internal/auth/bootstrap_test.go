package auth

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestSlugBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Acme Corp", "acme-corp"},
		{"  Acme   Corp  ", "acme-corp"},
		{"Acme!!!Corp", "acme-corp"},
		{"ACME", "acme"},
		{"--acme--", "acme"},
		{"a&b, c/d", "a-b-c-d"},
		{"日本語", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SlugBase(tc.in); got != tc.want {
			t.Fatalf("SlugBase(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := "the quick brown fox jumps over the lazy dog again and again"
	if got := SlugBase(long); len(got) > slugBaseMaxLen {
		t.Fatalf("base slug too long: %d", len(got))
	}
}

func TestBootstrapHappyPath(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, mock := newMockService(t, now)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`insert into users`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`select 1 from orgs where slug = $1`)).
		WithArgs("acme-corp").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(regexp.QuoteMeta(`insert into orgs`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`insert into org_members`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`insert into org_subscriptions`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	account, err := svc.Bootstrap(context.Background(), BootstrapParams{
		Email:        "Owner@Acme.com",
		PasswordHash: "hash",
		OrgName:      "Acme Corp",
	})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if account.User.Email != "owner@acme.com" {
		t.Fatalf("email = %q, want normalized", account.User.Email)
	}
	if account.Org.Slug != "acme-corp" {
		t.Fatalf("slug = %q, want acme-corp", account.Org.Slug)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBootstrapSlugCollisionRetries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, mock := newMockService(t, now)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`insert into users`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// First candidate exists, the suffixed one is free.
	mock.ExpectQuery(regexp.QuoteMeta(`select 1 from orgs where slug = $1`)).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`select 1 from orgs where slug = $1`)).
		WithArgs("acme-2").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(regexp.QuoteMeta(`insert into orgs`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`insert into org_members`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`insert into org_subscriptions`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	account, err := svc.Bootstrap(context.Background(), BootstrapParams{
		Email:        "owner@acme.com",
		PasswordHash: "hash",
		OrgName:      "Acme",
	})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if account.Org.Slug != "acme-2" {
		t.Fatalf("slug = %q, want acme-2", account.Org.Slug)
	}
}

func TestBootstrapSlugInsertRace(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, mock := newMockService(t, now)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`insert into users`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// Pre-check says free, but a concurrent signup wins the insert. ON
	// CONFLICT DO NOTHING absorbs that as a zero-row result, so no error
	// aborts the transaction and the remaining statements run on the same
	// connection.
	mock.ExpectQuery(regexp.QuoteMeta(`select 1 from orgs where slug = $1`)).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(regexp.QuoteMeta(`insert into orgs`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`select 1 from orgs where slug = $1`)).
		WithArgs("acme-2").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(regexp.QuoteMeta(`insert into orgs`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`insert into org_members`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`insert into org_subscriptions`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	account, err := svc.Bootstrap(context.Background(), BootstrapParams{
		Email:        "owner@acme.com",
		PasswordHash: "hash",
		OrgName:      "Acme",
	})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if account.Org.Slug != "acme-2" {
		t.Fatalf("slug = %q, want acme-2", account.Org.Slug)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestOrgCreateSlugConflictDoesNotRaise(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := NewPGStore(db)

	// A taken slug must come back as ErrSlugExists from a zero-row insert,
	// not as a driver error: inside a transaction a raised unique violation
	// would poison every statement after it.
	mock.ExpectExec(regexp.QuoteMeta(`on conflict (slug) do nothing`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.Organizations().Create(context.Background(), &Organization{
		Name: "Acme", Slug: "acme", OwnerUserID: "user-1",
	})
	if !errors.Is(err, ErrSlugExists) {
		t.Fatalf("err = %v, want ErrSlugExists", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBootstrapEmailConflictRollsBack(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, mock := newMockService(t, now)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`insert into users`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})
	mock.ExpectRollback()

	_, err := svc.Bootstrap(context.Background(), BootstrapParams{
		Email:        "owner@acme.com",
		PasswordHash: "hash",
		OrgName:      "Acme",
	})
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("err = %v, want ErrEmailExists", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBootstrapMidTxFailureRollsBack(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, mock := newMockService(t, now)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`insert into users`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`select 1 from orgs where slug = $1`)).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(regexp.QuoteMeta(`insert into orgs`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`insert into org_members`)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := svc.Bootstrap(context.Background(), BootstrapParams{
		Email:        "owner@acme.com",
		PasswordHash: "hash",
		OrgName:      "Acme",
	})
	if err == nil {
		t.Fatal("expected bootstrap to fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBootstrapDefaultsFromEmail(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, mock := newMockService(t, now)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`insert into users`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// Slug base falls back to the email local part.
	mock.ExpectQuery(regexp.QuoteMeta(`select 1 from orgs where slug = $1`)).
		WithArgs("jane-doe").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(regexp.QuoteMeta(`insert into orgs`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`insert into org_members`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`insert into org_subscriptions`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	account, err := svc.Bootstrap(context.Background(), BootstrapParams{
		Email:        "jane.doe@example.com",
		PasswordHash: "hash",
	})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if account.Org.Name != "My Organization" {
		t.Fatalf("name = %q, want default", account.Org.Name)
	}
	if account.Org.Slug != "jane-doe" {
		t.Fatalf("slug = %q, want jane-doe", account.Org.Slug)
	}
}
