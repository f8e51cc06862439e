package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

const (
	pushAudience = "https://commerce.example.com/internal/events"
	pushIssuer   = "https://accounts.google.com"
	pushAccount  = "pubsub-push@qc-prod.iam.gserviceaccount.com"
)

type verificationSample struct {
	success bool
	reason  string
}

type recordingMetrics struct {
	samples []verificationSample
}

func (m *recordingMetrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	if kind != "push" {
		return
	}
	m.samples = append(m.samples, verificationSample{success: success, reason: reason})
}

type signingKey struct {
	key     *rsa.PrivateKey
	server  *httptest.Server
	fetches atomic.Int32
}

func newSigningKey(t *testing.T) *signingKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sk := &signingKey{key: key}
	sk.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		sk.fetches.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     "push-key",
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}}})
	}))
	t.Cleanup(sk.server.Close)
	return sk
}

func (sk *signingKey) sign(t *testing.T, mutate func(*pushClaims)) string {
	t.Helper()
	now := time.Now()
	claims := pushClaims{
		Email:         pushAccount,
		EmailVerified: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    pushIssuer,
			Subject:   "109876543210",
			Audience:  jwt.ClaimStrings{pushAudience},
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	if mutate != nil {
		mutate(&claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "push-key"
	signed, err := token.SignedString(sk.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func servePush(v *PushVerifier, token string) (*httptest.ResponseRecorder, PushCaller) {
	var seen PushCaller
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PushCallerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/internal/events/order-placed", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestPushVerifierAcceptsSignedDelivery(t *testing.T) {
	sk := newSigningKey(t)
	metrics := &recordingMetrics{}
	v := NewPushVerifier(NewKeySet(sk.server.URL, nil), PushConfig{
		Audience:        pushAudience,
		Issuers:         []string{pushIssuer},
		ServiceAccounts: []string{pushAccount},
	}, WithPushMetrics(metrics))

	rec, caller := servePush(v, sk.sign(t, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if caller.Email != pushAccount || caller.Subject != "109876543210" {
		t.Fatalf("unexpected caller %+v", caller)
	}
	if len(metrics.samples) != 1 || !metrics.samples[0].success {
		t.Fatalf("expected one successful sample, got %+v", metrics.samples)
	}
}

func TestPushVerifierRejections(t *testing.T) {
	sk := newSigningKey(t)
	cases := []struct {
		name   string
		mutate func(*pushClaims)
		token  string
		status int
		reason string
	}{
		{name: "missing token", token: "-", status: http.StatusUnauthorized, reason: "token_missing"},
		{name: "garbage token", token: "not-a-jwt", status: http.StatusUnauthorized, reason: "token_invalid"},
		{
			name:   "expired",
			mutate: func(c *pushClaims) { c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute)) },
			status: http.StatusUnauthorized,
			reason: "token_invalid",
		},
		{
			name:   "wrong audience",
			mutate: func(c *pushClaims) { c.Audience = jwt.ClaimStrings{"https://other.example.com"} },
			status: http.StatusUnauthorized,
			reason: "audience_mismatch",
		},
		{
			name:   "wrong issuer",
			mutate: func(c *pushClaims) { c.Issuer = "https://evil.example.com" },
			status: http.StatusUnauthorized,
			reason: "issuer_mismatch",
		},
		{
			name:   "foreign service account",
			mutate: func(c *pushClaims) { c.Email = "intruder@other.iam.gserviceaccount.com" },
			status: http.StatusForbidden,
			reason: "account_not_allowed",
		},
		{
			name:   "unverified email",
			mutate: func(c *pushClaims) { c.EmailVerified = false },
			status: http.StatusForbidden,
			reason: "account_not_allowed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			metrics := &recordingMetrics{}
			v := NewPushVerifier(NewKeySet(sk.server.URL, nil), PushConfig{
				Audience:        pushAudience,
				Issuers:         []string{pushIssuer},
				ServiceAccounts: []string{pushAccount},
			}, WithPushMetrics(metrics))

			token := tc.token
			switch token {
			case "":
				token = sk.sign(t, tc.mutate)
			case "-":
				token = ""
			}
			rec, _ := servePush(v, token)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if len(metrics.samples) != 1 || metrics.samples[0].success || metrics.samples[0].reason != tc.reason {
				t.Fatalf("expected failed sample %q, got %+v", tc.reason, metrics.samples)
			}
		})
	}
}

func TestPushVerifierKeysUnavailable(t *testing.T) {
	sk := newSigningKey(t)
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(down.Close)

	v := NewPushVerifier(NewKeySet(down.URL, nil), PushConfig{Audience: pushAudience})
	_, err := v.Verify(context.Background(), sk.sign(t, nil))

	var rejection *PushRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("expected PushRejection, got %v", err)
	}
	if rejection.Status != http.StatusServiceUnavailable || !errors.Is(err, ErrKeySetUnavailable) {
		t.Fatalf("unexpected rejection %+v", rejection)
	}

	rec, _ := servePush(v, sk.sign(t, nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error != "verification_unavailable" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestPushVerifierWithoutAudienceRefusesEverything(t *testing.T) {
	sk := newSigningKey(t)
	v := NewPushVerifier(NewKeySet(sk.server.URL, nil), PushConfig{Audience: "  "})

	rec, _ := servePush(v, sk.sign(t, nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestKeySetCachesUntilMaxAge(t *testing.T) {
	sk := newSigningKey(t)
	keys := NewKeySet(sk.server.URL, nil)
	now := time.Unix(1_700_000_000, 0)
	keys.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := keys.Key(context.Background(), "push-key"); err != nil {
			t.Fatalf("key: %v", err)
		}
	}
	if got := sk.fetches.Load(); got != 1 {
		t.Fatalf("expected one fetch, got %d", got)
	}

	now = now.Add(11 * time.Minute)
	if _, err := keys.Key(context.Background(), "push-key"); err != nil {
		t.Fatalf("key after expiry: %v", err)
	}
	if got := sk.fetches.Load(); got != 2 {
		t.Fatalf("expected refetch after max-age, got %d fetches", got)
	}

	if _, err := keys.Key(context.Background(), "rotated"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
	if got := sk.fetches.Load(); got != 3 {
		t.Fatalf("expected unknown kid to force a refetch, got %d fetches", got)
	}
}

func TestMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"public, max-age=19302, must-revalidate": 19302 * time.Second,
		"no-store":                               defaultKeySetTTL,
		"max-age=abc":                            defaultKeySetTTL,
		"":                                       defaultKeySetTTL,
	}
	for header, want := range cases {
		if got := maxAge(header); got != want {
			t.Fatalf("maxAge(%q) = %v, want %v", header, got, want)
		}
	}
}
