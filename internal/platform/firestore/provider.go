// Package firestore holds the shared Firestore client and the typed collection helpers the
// repositories build on.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/quickcart/commerce/internal/platform/config"
)

const connectTimeout = 10 * time.Second

var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider opens one Firestore client on first use and hands it to every repository. A failed
// connect is not cached; the next caller tries again.
type Provider struct {
	cfg        config.FirestoreConfig
	clientOpts []option.ClientOption
	timeout    time.Duration

	// slot is a one-token lock so waiters can give up when their context ends.
	slot   chan struct{}
	client *firestore.Client
	closed bool
}

type ProviderOption func(*Provider)

func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) { p.clientOpts = append(p.clientOpts, opts...) }
}

func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{cfg: cfg, timeout: connectTimeout, slot: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) acquire(ctx context.Context) error {
	select {
	case p.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) release() { <-p.slot }

// Client returns the shared client, connecting if needed.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	}
	client, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

func (p *Provider) connect(ctx context.Context) (*firestore.Client, error) {
	project := firstNonEmpty(p.cfg.ProjectID, os.Getenv("GOOGLE_CLOUD_PROJECT"))
	if project == "" {
		return nil, errors.New("firestore: project id is required")
	}

	opts := append([]option.ClientOption(nil), p.clientOpts...)
	if host := firstNonEmpty(p.cfg.EmulatorHost, os.Getenv("FIRESTORE_EMULATOR_HOST")); host != "" {
		// The client library also reads the variable for its own emulator detection.
		if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
			_ = os.Setenv("FIRESTORE_EMULATOR_HOST", host)
		}
		opts = append(opts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	client, err := firestore.NewClient(dialCtx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: connect to %s: %w", project, err)
	}
	return client, nil
}

// Close shuts the client down. Later calls to Client fail with ErrProviderClosed.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.acquire(ctx); err != nil {
		return err
	}
	client := p.client
	p.client, p.closed = nil, true
	p.release()

	if client == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- client.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping reads a document that need not exist; only transport and permission failures count.
func (p *Provider) Ping(ctx context.Context, collection string) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(firstNonEmpty(collection, "health")).Doc("_ping").Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return WrapError("firestore.ping", err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
