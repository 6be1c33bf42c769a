package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, nil, now)

	token, err := svc.signAccess("user-1", "org-1", now)
	if err != nil {
		t.Fatalf("signAccess: %v", err)
	}
	claims, err := svc.VerifyAccess(token)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject = %q, want user-1", claims.Subject)
	}
	if claims.OrgID != "org-1" {
		t.Fatalf("org = %q, want org-1", claims.OrgID)
	}
}

func TestAccessTokenExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	svc := newTestService(t, nil, now, WithClock(func() time.Time { return clock }))

	token, err := svc.signAccess("user-1", "", now)
	if err != nil {
		t.Fatalf("signAccess: %v", err)
	}
	if _, err := svc.VerifyAccess(token); err != nil {
		t.Fatalf("token should verify before expiry: %v", err)
	}

	clock = now.Add(11 * time.Minute)
	if _, err := svc.VerifyAccess(token); err == nil {
		t.Fatal("expected expired token to fail verification")
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, nil, now)

	token, err := svc.signRefresh("user-1", "fam-1", "tok-1", now)
	if err != nil {
		t.Fatalf("signRefresh: %v", err)
	}
	claims, err := svc.VerifyRefresh(token)
	if err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
	if claims.Subject != "user-1" || claims.FamilyID != "fam-1" || claims.ID != "tok-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRefreshTampered(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, nil, now)

	token, err := svc.signRefresh("user-1", "fam-1", "tok-1", now)
	if err != nil {
		t.Fatalf("signRefresh: %v", err)
	}

	parts := strings.Split(token, ".")
	parts[2] = strings.Repeat("A", len(parts[2]))
	tampered := strings.Join(parts, ".")

	if _, err := svc.VerifyRefresh(tampered); !errors.Is(err, ErrInvalidRefresh) {
		t.Fatalf("err = %v, want ErrInvalidRefresh", err)
	}
	if _, err := svc.VerifyRefresh("not.a.jwt"); !errors.Is(err, ErrInvalidRefresh) {
		t.Fatalf("err = %v, want ErrInvalidRefresh", err)
	}
}

func TestVerifyRefreshWrongIssuer(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := newTestService(t, nil, now, WithIssuer("someone-else"))
	verifier := newTestService(t, nil, now)

	token, err := signer.signRefresh("user-1", "fam-1", "tok-1", now)
	if err != nil {
		t.Fatalf("signRefresh: %v", err)
	}
	if _, err := verifier.VerifyRefresh(token); !errors.Is(err, ErrInvalidRefresh) {
		t.Fatalf("err = %v, want ErrInvalidRefresh", err)
	}
}
