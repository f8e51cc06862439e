package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/quickcart/commerce/internal/platform/config"
)

type stubAccessClient struct {
	mu     sync.Mutex
	values map[string]string
	err    error
	calls  []string
}

func (s *stubAccessClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req.GetName())
	if s.err != nil {
		return nil, s.err
	}
	value, ok := s.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "no such secret")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (s *stubAccessClient) Close() error { return nil }

func newTestResolver(t *testing.T, client *stubAccessClient, local string) *Resolver {
	t.Helper()
	cfg := config.SecretsConfig{
		DefaultProject: "qc-dev",
		Projects:       map[string]string{"prod": "qc-prod"},
	}
	if local != "" {
		cfg.FallbackFile = filepath.Join(t.TempDir(), ".secrets.local")
		if err := os.WriteFile(cfg.FallbackFile, []byte(local), 0o600); err != nil {
			t.Fatalf("write local secrets: %v", err)
		}
	}
	return NewResolver(context.Background(), cfg, "prod", nil, WithClient(client))
}

func TestResolveSecretCachesRemoteValue(t *testing.T) {
	client := &stubAccessClient{values: map[string]string{
		"projects/qc-prod/secrets/kafka-password/versions/latest": "s3cret",
	}}
	r := newTestResolver(t, client, "")

	for i := 0; i < 3; i++ {
		value, err := r.ResolveSecret(context.Background(), "sm://kafka-password")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if value != "s3cret" {
			t.Fatalf("unexpected value %q", value)
		}
	}
	if len(client.calls) != 1 {
		t.Fatalf("expected one Secret Manager call, got %v", client.calls)
	}
}

func TestResolveSecretReferenceForms(t *testing.T) {
	client := &stubAccessClient{values: map[string]string{
		"projects/qc-prod/secrets/a/versions/latest": "a",
		"projects/shared/secrets/b/versions/latest":  "b",
		"projects/qc-prod/secrets/c/versions/3":      "c3",
		"projects/other/secrets/d/versions/latest":   "d",
	}}
	r := newTestResolver(t, client, "")

	cases := map[string]string{
		"secret://a":                 "a",
		"secret://shared/b":          "b",
		"secret://c?version=3":       "c3",
		"secret://d?project=other":   "d",
		" sm://shared/b ":            "b",
		"secret://a?version=latest ": "a",
	}
	for ref, want := range cases {
		got, err := r.ResolveSecret(context.Background(), ref)
		if err != nil {
			t.Fatalf("%s: %v", ref, err)
		}
		if got != want {
			t.Fatalf("%s: got %q, want %q", ref, got, want)
		}
	}

	for _, bad := range []string{"", "https://a", "secret://", "secret://a/b/c"} {
		if _, err := r.ResolveSecret(context.Background(), bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestResolveSecretFallsBackWhenUnreachable(t *testing.T) {
	client := &stubAccessClient{err: status.Error(codes.PermissionDenied, "no access")}
	r := newTestResolver(t, client, "# local development\nkafka-password = local-pass\nshared/redis=local-redis\n")

	value, err := r.ResolveSecret(context.Background(), "secret://kafka-password?version=7")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if value != "local-pass" {
		t.Fatalf("expected local value, got %q", value)
	}
	value, err = r.ResolveSecret(context.Background(), "secret://shared/redis")
	if err != nil || value != "local-redis" {
		t.Fatalf("expected project-scoped local value, got %q %v", value, err)
	}

	if _, err := r.ResolveSecret(context.Background(), "secret://unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveSecretKeepsNotFound(t *testing.T) {
	client := &stubAccessClient{values: map[string]string{}}
	r := newTestResolver(t, client, "missing=local\n")

	_, err := r.ResolveSecret(context.Background(), "secret://missing")
	if status.Code(errors.Unwrap(err)) != codes.NotFound {
		t.Fatalf("expected NotFound to surface, got %v", err)
	}
}

func TestResolveSecretWithoutProjectUsesLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("healthz=ok\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	client := &stubAccessClient{}
	r := NewResolver(context.Background(), config.SecretsConfig{FallbackFile: path}, "local", nil, WithClient(client))

	value, err := r.ResolveSecret(context.Background(), "secret://healthz")
	if err != nil || value != "ok" {
		t.Fatalf("expected local value, got %q %v", value, err)
	}
	if len(client.calls) != 0 {
		t.Fatalf("expected no remote calls without a project, got %v", client.calls)
	}
}

func TestResolverSatisfiesConfig(t *testing.T) {
	client := &stubAccessClient{values: map[string]string{
		"projects/qc-prod/secrets/redis/versions/latest": "redis-pass",
	}}
	r := newTestResolver(t, client, "")

	cfg := config.Config{Idempotency: config.IdempotencyConfig{Redis: config.RedisConfig{Password: "sm://redis"}}}
	if err := cfg.ResolveSecrets(context.Background(), r); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Idempotency.Redis.Password != "redis-pass" {
		t.Fatalf("unexpected password %q", cfg.Idempotency.Redis.Password)
	}
}
