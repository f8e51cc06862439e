package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

// ErrKeySetUnavailable wraps failures to download Google's signing keys.
var ErrKeySetUnavailable = errors.New("auth: signing keys unavailable")

const defaultKeySetTTL = time.Hour

// MetricsRecorder receives one sample per push verification.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// KeySet caches the JWKS document published at url until its Cache-Control max-age runs out.
// An unknown kid forces one refetch, which covers key rotation.
type KeySet struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu      sync.Mutex
	keys    map[string]any
	expires time.Time
}

func NewKeySet(url string, client *http.Client) *KeySet {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &KeySet{url: url, client: client, now: time.Now}
}

// Key returns the public key for kid.
func (k *KeySet) Key(ctx context.Context, kid string) (any, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if key, ok := k.keys[kid]; ok && k.now().Before(k.expires) {
		return key, nil
	}
	if err := k.fetch(ctx); err != nil {
		return nil, err
	}
	key, ok := k.keys[kid]
	if !ok {
		return nil, fmt.Errorf("auth: no signing key %q", kid)
	}
	return key, nil
}

func (k *KeySet) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrKeySetUnavailable, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrKeySetUnavailable, err)
	}
	keys := make(map[string]any, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk.Key
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrKeySetUnavailable)
	}

	k.keys = keys
	k.expires = k.now().Add(maxAge(resp.Header.Get("Cache-Control")))
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultKeySetTTL
}

// PushConfig names what a push token must carry.
type PushConfig struct {
	Audience string
	Issuers  []string
	// ServiceAccounts restricts callers to these verified emails. Empty admits any account.
	ServiceAccounts []string
}

// PushCaller is the Google service account behind an accepted push delivery.
type PushCaller struct {
	Subject string
	Email   string
}

type pushCallerKey struct{}

func PushCallerFromContext(ctx context.Context) (PushCaller, bool) {
	caller, ok := ctx.Value(pushCallerKey{}).(PushCaller)
	return caller, ok
}

type pushClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// PushRejection explains why a push delivery was refused.
type PushRejection struct {
	Status int
	Reason string
	Err    error
}

func (r *PushRejection) Error() string {
	if r.Err != nil {
		return "push rejected: " + r.Reason + ": " + r.Err.Error()
	}
	return "push rejected: " + r.Reason
}

func (r *PushRejection) Unwrap() error { return r.Err }

// PushVerifier guards the internal event routes that Pub/Sub push subscriptions call.
type PushVerifier struct {
	keys     *KeySet
	cfg      PushConfig
	accounts map[string]struct{}
	logger   *zap.Logger
	metrics  MetricsRecorder
	parser   *jwt.Parser
}

type PushOption func(*PushVerifier)

func WithPushLogger(logger *zap.Logger) PushOption {
	return func(v *PushVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithPushMetrics(metrics MetricsRecorder) PushOption {
	return func(v *PushVerifier) { v.metrics = metrics }
}

func NewPushVerifier(keys *KeySet, cfg PushConfig, opts ...PushOption) *PushVerifier {
	v := &PushVerifier{
		keys:   keys,
		cfg:    cfg,
		logger: zap.NewNop(),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})),
	}
	v.cfg.Audience = strings.TrimSpace(cfg.Audience)
	for _, account := range cfg.ServiceAccounts {
		if account = strings.ToLower(strings.TrimSpace(account)); account != "" {
			if v.accounts == nil {
				v.accounts = make(map[string]struct{})
			}
			v.accounts[account] = struct{}{}
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify checks the raw bearer token. Failures are *PushRejection.
func (v *PushVerifier) Verify(ctx context.Context, raw string) (PushCaller, error) {
	if v.cfg.Audience == "" || v.keys == nil {
		return PushCaller{}, &PushRejection{Status: http.StatusServiceUnavailable, Reason: "not_configured"}
	}

	var claims pushClaims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid")
		}
		return v.keys.Key(ctx, kid)
	})
	switch {
	case errors.Is(err, ErrKeySetUnavailable):
		return PushCaller{}, &PushRejection{Status: http.StatusServiceUnavailable, Reason: "keys_unavailable", Err: err}
	case err != nil:
		return PushCaller{}, &PushRejection{Status: http.StatusUnauthorized, Reason: "token_invalid", Err: err}
	}

	if len(v.cfg.Issuers) > 0 && !slices.Contains(v.cfg.Issuers, claims.Issuer) {
		return PushCaller{}, &PushRejection{Status: http.StatusUnauthorized, Reason: "issuer_mismatch"}
	}
	if !claims.VerifyAudience(v.cfg.Audience, true) {
		return PushCaller{}, &PushRejection{Status: http.StatusUnauthorized, Reason: "audience_mismatch"}
	}
	if v.accounts != nil {
		if _, ok := v.accounts[strings.ToLower(claims.Email)]; !ok || !claims.EmailVerified {
			return PushCaller{}, &PushRejection{Status: http.StatusForbidden, Reason: "account_not_allowed"}
		}
	}
	return PushCaller{Subject: claims.Subject, Email: claims.Email}, nil
}

// Middleware rejects requests without a valid push token and records the caller in the context.
func (v *PushVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()

		var (
			caller PushCaller
			err    error
		)
		if raw, ok := bearerToken(r); ok {
			caller, err = v.Verify(ctx, raw)
		} else {
			err = &PushRejection{Status: http.StatusUnauthorized, Reason: "token_missing"}
		}

		var rejection *PushRejection
		if errors.As(err, &rejection) {
			v.logger.Warn("auth.push.rejected", zap.String("reason", rejection.Reason), zap.Error(rejection.Err))
			v.record(ctx, false, rejection.Reason, start)
			code := "invalid_token"
			switch rejection.Status {
			case http.StatusServiceUnavailable:
				code = "verification_unavailable"
			case http.StatusForbidden:
				code = "forbidden"
			}
			(&authFailure{rejection.Status, code, "push token rejected: " + rejection.Reason}).write(w)
			return
		}

		v.record(ctx, true, "ok", start)
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, pushCallerKey{}, caller)))
	})
}

func (v *PushVerifier) record(ctx context.Context, ok bool, reason string, start time.Time) {
	if v.metrics != nil {
		v.metrics.RecordVerification(ctx, "push", ok, reason, time.Since(start))
	}
}
