package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
	"time"
)

var (
	testKeyOnce sync.Once
	testPrivPEM string
	testPubPEM  string
)

// testKeys generates one RSA key pair per test binary run.
func testKeys(t *testing.T) (privPEM, pubPEM string) {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testPrivPEM = string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
		pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			panic(err)
		}
		testPubPEM = string(pem.EncodeToMemory(&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: pub,
		}))
	})
	return testPrivPEM, testPubPEM
}

// newTestService builds a Service over the given store with test keys and
// a fixed clock.
func newTestService(t *testing.T, store Store, at time.Time, opts ...ServiceOption) *Service {
	t.Helper()
	priv, pub := testKeys(t)
	base := []ServiceOption{
		WithRS256Keys(priv, pub),
		WithClock(func() time.Time { return at }),
	}
	svc, err := NewService(store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}
