package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// SecretResolver looks up a normalised secret:// reference.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// SecretError reports a reference the resolver could not serve.
type SecretError struct {
	Field string
	Ref   string
	Err   error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve %s (%s): %v", e.Field, e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists credentials that ended up empty even though the selected backend
// needs them.
type MissingSecretsError struct {
	Fields []string
}

func (e *MissingSecretsError) Error() string {
	return "config: missing required secrets [" + strings.Join(e.RedactedNames(), ", ") + "]"
}

// RedactedNames hashes each field name so logs never reveal which credential is absent.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		sum := sha256.Sum256([]byte(field))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	slices.Sort(out)
	return out
}

// ResolveSecrets replaces every sm:// or secret:// reference with its value. A credential whose
// backend is in use and which resolves to nothing yields *MissingSecretsError.
func (c *Config) ResolveSecrets(ctx context.Context, resolver SecretResolver) error {
	fields := []struct {
		name     string
		value    *string
		required bool
	}{
		{"Events.Kafka.SASLPassword", &c.Events.Kafka.SASLPassword, c.Events.Kafka.SASLUsername != ""},
		{"Idempotency.Redis.Password", &c.Idempotency.Redis.Password, false},
	}

	var missing []string
	for _, f := range fields {
		ref, isRef := secretReference(*f.value)
		if isRef {
			if resolver == nil {
				return &SecretError{Field: f.name, Ref: ref, Err: fmt.Errorf("no secret resolver configured")}
			}
			value, err := resolver.ResolveSecret(ctx, ref)
			if err != nil {
				return &SecretError{Field: f.name, Ref: ref, Err: err}
			}
			*f.value = strings.TrimSpace(value)
		}
		if *f.value == "" && (f.required || isRef) {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &MissingSecretsError{Fields: missing}
	}
	return nil
}

// secretReference normalises sm://name to secret://name.
func secretReference(value string) (string, bool) {
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest, true
	}
	return value, strings.HasPrefix(value, "secret://")
}
