package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestJWKSClientCachesAndServesStale(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	var hits atomic.Int32
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		if down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "kid-1",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	c := NewJWKSClient(srv.URL, time.Minute)
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	pub, err := c.Get(ctx, "kid-1")
	if err != nil || pub.N.Cmp(key.N) != 0 {
		t.Fatalf("expected key, got %v %v", pub, err)
	}
	if _, err := c.Get(ctx, "kid-1"); err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if _, err := c.Get(ctx, "kid-unknown"); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected one fetch, got %d", got)
	}

	down.Store(true)
	now = now.Add(2 * time.Minute)
	if _, err := c.Get(ctx, "kid-1"); err != nil {
		t.Fatalf("expected stale key while endpoint is down, got %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected a refetch after ttl, got %d fetches", got)
	}
}

func TestVerifierUsesJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "kid-1",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	tok, err := signRS256(Claims{Sub: "dispatcher-2", Role: "admin", Exp: time.Now().Add(time.Hour).Unix()}, key, "kid-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := NewVerifier("", NewJWKSClient(srv.URL, time.Minute)).Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Sub != "dispatcher-2" {
		t.Fatalf("unexpected subject %q", claims.Sub)
	}
}
