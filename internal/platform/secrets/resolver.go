// Package secrets resolves secret:// references against Google Secret Manager, with a local file
// for development machines that have no Secret Manager access.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/quickcart/commerce/internal/platform/config"
)

// ErrNotFound is returned when neither Secret Manager nor the local file knows a reference.
var ErrNotFound = errors.New("secrets: not found")

// AccessClient is the slice of the Secret Manager client the resolver calls.
type AccessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver caches every resolved value for the life of the process.
type Resolver struct {
	client  AccessClient
	owned   bool
	project string
	local   localFile
	logger  *zap.Logger
	latency metric.Float64Histogram

	mu    sync.RWMutex
	cache map[string]string
}

type Option func(*Resolver)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMeter(meter metric.Meter) Option {
	return func(r *Resolver) {
		if meter == nil {
			return
		}
		if h, err := meter.Float64Histogram("secrets.resolve.duration", metric.WithUnit("ms")); err == nil {
			r.latency = h
		}
	}
}

// WithClient skips dialling Secret Manager. The caller keeps ownership of client.
func WithClient(client AccessClient) Option {
	return func(r *Resolver) { r.client = client }
}

// NewResolver picks the Secret Manager project for environment from cfg.Projects, falling back to
// cfg.DefaultProject. A client that cannot be built leaves the resolver on the local file only.
func NewResolver(ctx context.Context, cfg config.SecretsConfig, environment string, clientOpts []option.ClientOption, opts ...Option) *Resolver {
	r := &Resolver{
		project: cfg.DefaultProject,
		local:   localFile{path: cfg.FallbackFile},
		logger:  zap.NewNop(),
		cache:   make(map[string]string),
	}
	if project := cfg.Projects[strings.ToLower(environment)]; project != "" {
		r.project = project
	}
	r.latency, _ = noop.NewMeterProvider().Meter("").Float64Histogram("secrets.resolve.duration")
	for _, opt := range opts {
		opt(r)
	}

	if r.client == nil {
		client, err := secretmanager.NewClient(ctx, clientOpts...)
		if err != nil {
			r.logger.Warn("secrets: secret manager unavailable; using local file only", zap.Error(err))
		} else {
			r.client, r.owned = client, true
		}
	}
	return r
}

func (r *Resolver) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}

// ResolveSecret implements config.SecretResolver. Secret Manager errors that mean "unreachable
// from here" fall through to the local file; any other error, NotFound included, is returned.
func (r *Resolver) ResolveSecret(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := parseRef(raw)
	if err != nil {
		return "", err
	}

	r.mu.RLock()
	value, ok := r.cache[ref.key()]
	r.mu.RUnlock()
	if ok {
		r.observe(ctx, start, "cache")
		return value, nil
	}

	source := "local"
	if project := ref.projectOr(r.project); project != "" && r.client != nil {
		value, err = r.access(ctx, project, ref)
		switch {
		case err == nil:
			source = "remote"
		case unreachable(err):
			r.logger.Debug("secrets: falling back to local file", zap.String("secret", ref.name), zap.Error(err))
		default:
			r.observe(ctx, start, "error")
			return "", fmt.Errorf("secrets: access %s: %w", ref.name, err)
		}
	}
	if source == "local" {
		if value, err = r.local.lookup(ref); err != nil {
			r.observe(ctx, start, "error")
			return "", err
		}
	}

	r.mu.Lock()
	r.cache[ref.key()] = value
	r.mu.Unlock()
	r.observe(ctx, start, source)
	return value, nil
}

func (r *Resolver) access(ctx context.Context, project string, ref reference) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.version)
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	return string(resp.GetPayload().GetData()), nil
}

func (r *Resolver) observe(ctx context.Context, start time.Time, source string) {
	r.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000, metric.WithAttributes(attribute.String("source", source)))
}

func unreachable(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

// reference is a parsed secret://[project/]name[?version=N&project=P].
type reference struct {
	project string
	name    string
	version string
}

func parseRef(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: %q is not a secret:// reference", raw)
	}

	var ref reference
	switch parts := strings.Split(strings.Trim(u.Host+u.Path, "/"), "/"); len(parts) {
	case 1:
		ref.name = parts[0]
	case 2:
		ref.project, ref.name = parts[0], parts[1]
	default:
		return reference{}, fmt.Errorf("secrets: %q has too many segments", raw)
	}
	if ref.name == "" {
		return reference{}, fmt.Errorf("secrets: %q names no secret", raw)
	}
	query := u.Query()
	if p := query.Get("project"); p != "" {
		ref.project = p
	}
	ref.version = query.Get("version")
	if ref.version == "" {
		ref.version = "latest"
	}
	return ref, nil
}

func (r reference) projectOr(fallback string) string {
	if r.project != "" {
		return r.project
	}
	return fallback
}

func (r reference) key() string {
	return r.project + "/" + r.name + "@" + r.version
}

// localFile holds "name=value" or "project/name=value" lines. It is read once, on first use,
// and serves every version of a secret.
type localFile struct {
	path   string
	once   sync.Once
	values map[string]string
	err    error
}

func (f *localFile) lookup(ref reference) (string, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", f.err
	}
	if value, ok := f.values[ref.project+"/"+ref.name]; ok && ref.project != "" {
		return value, nil
	}
	if value, ok := f.values[ref.name]; ok {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, ref.name)
}

func (f *localFile) load() {
	f.values = make(map[string]string)
	if f.path == "" {
		return
	}
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		f.err = fmt.Errorf("secrets: open %s: %w", f.path, err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		if name, value, ok := strings.Cut(line, "="); ok && strings.TrimSpace(name) != "" {
			f.values[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	f.err = scanner.Err()
}
