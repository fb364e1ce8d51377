package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

func newSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func serveJWKS(t *testing.T, key *rsa.PrivateKey, kid string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     kid,
			Algorithm: jwt.SigningMethodRS256.Alg(),
			Use:       "sig",
		}}}
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(server.Close)
	return server
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWKSCacheCachesKeys(t *testing.T) {
	key := newSigningKey(t)
	var hits atomic.Int32
	server := serveJWKS(t, key, "k1", &hits)

	cache := NewJWKSCache(server.URL)
	for i := 0; i < 3; i++ {
		if _, err := cache.Key(context.Background(), "k1"); err != nil {
			t.Fatalf("Key: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one fetch, got %d", hits.Load())
	}
	if _, err := cache.Key(context.Background(), "missing"); err == nil {
		t.Fatalf("expected unknown kid error")
	}
	if hits.Load() != 2 {
		t.Fatalf("expected unknown kid to force refresh, got %d fetches", hits.Load())
	}
}

func TestRequireOIDC(t *testing.T) {
	key := newSigningKey(t)
	var hits atomic.Int32
	server := serveJWKS(t, key, "k1", &hits)
	validator := NewOIDCValidator(NewJWKSCache(server.URL))

	const audience = "https://api.example.com/internal"
	issuers := []string{"https://accounts.google.com"}
	valid := jwt.MapClaims{
		"iss":   "https://accounts.google.com",
		"aud":   audience,
		"sub":   "123",
		"email": "scheduler@demo.iam.gserviceaccount.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}

	tests := []struct {
		name     string
		claims   jwt.MapClaims
		accounts []string
		status   int
	}{
		{name: "valid", claims: valid, status: http.StatusNoContent},
		{name: "allowed account", claims: valid, accounts: []string{"scheduler@demo.iam.gserviceaccount.com"}, status: http.StatusNoContent},
		{name: "other account", claims: valid, accounts: []string{"push@demo.iam.gserviceaccount.com"}, status: http.StatusForbidden},
		{name: "wrong audience", claims: with(valid, "aud", "https://other"), status: http.StatusUnauthorized},
		{name: "wrong issuer", claims: with(valid, "iss", "https://evil.example.com"), status: http.StatusUnauthorized},
		{name: "expired", claims: with(valid, "exp", time.Now().Add(-time.Hour).Unix()), status: http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var identity *ServiceIdentity
			handler := validator.RequireOIDC(audience, issuers, tc.accounts...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				identity, _ = ServiceIdentityFromContext(r.Context())
				w.WriteHeader(http.StatusNoContent)
			}))
			req := httptest.NewRequest(http.MethodPost, "/internal/views/reconcile", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, key, "k1", tc.claims))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d body=%s", tc.status, rec.Code, rec.Body.String())
			}
			if tc.status == http.StatusNoContent && (identity == nil || identity.Email != "scheduler@demo.iam.gserviceaccount.com") {
				t.Fatalf("expected service identity, got %+v", identity)
			}
		})
	}
}

func TestRequireOIDCWithoutAudience(t *testing.T) {
	handler := NewOIDCValidator(NewJWKSCache("http://127.0.0.1:1")).RequireOIDC("", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func with(claims jwt.MapClaims, key string, value any) jwt.MapClaims {
	out := jwt.MapClaims{}
	for k, v := range claims {
		out[k] = v
	}
	out[key] = value
	return out
}
