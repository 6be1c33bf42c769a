package auth

import (
	"strings"
	"testing"
)

func TestRandomToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := RandomToken(24)
		if err != nil {
			t.Fatalf("RandomToken: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token: %s", tok)
		}
		seen[tok] = true
		if strings.ContainsAny(tok, "+/=") {
			t.Fatalf("token is not URL-safe: %s", tok)
		}
	}

	if _, err := RandomToken(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("token-a")
	b := Fingerprint("token-b")
	if a == b {
		t.Fatal("distinct inputs must not collide")
	}
	if a != Fingerprint("token-a") {
		t.Fatal("fingerprint must be deterministic")
	}
	// 32 bytes of SHA-256, raw URL encoding.
	if len(a) != 43 {
		t.Fatalf("unexpected fingerprint length %d", len(a))
	}
}
