package idempotency

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quickcart/commerce/internal/platform/auth"
	"github.com/quickcart/commerce/internal/platform/httpx"
)

const (
	maxKeyLength = 255
	replayHeader = "Idempotent-Replayed"
)

// hop-by-hop and per-response headers never replayed.
var volatileHeaders = map[string]bool{
	"Content-Length":    true,
	"Date":              true,
	"Connection":        true,
	"Transfer-Encoding": true,
}

type guard struct {
	store  Store
	header string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*guard)

func WithHeader(name string) Option {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *guard) {
		if now != nil {
			g.now = now
		}
	}
}

// Middleware makes the wrapped handler replay its first answer for a repeated key. Keys are
// scoped to the authenticated caller, so it must run after authentication. Requests without
// the header pass straight through. A key reused with a different request body is a conflict,
// as is a retry that arrives while the first attempt is still running. 5xx answers are not
// remembered.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	g := &guard{store: store, header: "Idempotency-Key", ttl: DefaultTTL, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return func(next http.Handler) http.Handler {
		if g.store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(g.header))
	if key == "" {
		next.ServeHTTP(w, r)
		return
	}
	if len(key) > maxKeyLength {
		fail(ctx, w, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key too long")
		return
	}

	var body []byte
	if r.Body != nil {
		var err error
		if body, err = io.ReadAll(r.Body); err != nil {
			fail(ctx, w, http.StatusBadRequest, "invalid_body", "unable to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	caller := callerOf(ctx)
	id := digest(caller, key)
	fingerprint := digest(r.Method, r.URL.Path, r.URL.RawQuery, string(body))
	now := g.now().UTC()

	existing, claimed, err := g.store.Claim(ctx, id, Entry{Fingerprint: fingerprint, ExpiresAt: now.Add(g.ttl)}, now)
	switch {
	case err != nil:
		g.logger.Error("idempotency claim failed", zap.Error(err))
		fail(ctx, w, http.StatusInternalServerError, "idempotency_unavailable", "unable to process idempotency key")
		return
	case claimed:
	case existing.Fingerprint != fingerprint:
		fail(ctx, w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	case !existing.Done:
		fail(ctx, w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	default:
		replay(w, existing)
		return
	}

	rec := &capture{header: make(http.Header), status: http.StatusOK}
	next.ServeHTTP(rec, r)

	if rec.status >= http.StatusInternalServerError {
		g.drop(ctx, id, caller)
		rec.flush(w)
		return
	}

	done := Entry{
		Fingerprint: fingerprint,
		Done:        true,
		Status:      rec.status,
		Header:      storable(rec.header),
		Body:        rec.body.Bytes(),
		ExpiresAt:   g.now().UTC().Add(g.ttl),
	}
	if err := g.store.Finish(ctx, id, done); err != nil {
		// Never leave a pending entry behind a completed request.
		g.logger.Error("idempotency finish failed", zap.String("caller", caller), zap.Error(err))
		g.drop(ctx, id, caller)
	}
	rec.flush(w)
}

func (g *guard) drop(ctx context.Context, id, caller string) {
	if err := g.store.Drop(ctx, id); err != nil {
		g.logger.Warn("idempotency drop failed", zap.String("caller", caller), zap.Error(err))
	}
}

func callerOf(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UserID != "" {
		return identity.UserID
	}
	if caller, ok := auth.PushCallerFromContext(ctx); ok && caller.Subject != "" {
		return "push:" + caller.Subject
	}
	return "anonymous"
}

func replay(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeader, "true")
	w.WriteHeader(entry.Status)
	_, _ = w.Write(entry.Body)
}

func storable(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		if !volatileHeaders[http.CanonicalHeaderKey(name)] {
			out[name] = append([]string(nil), values...)
		}
	}
	return out
}

func fail(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// capture buffers the handler's answer until it is known whether it will be remembered.
type capture struct {
	header http.Header
	status int
	body   bytes.Buffer
	wrote  bool
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(status int) {
	if !c.wrote {
		c.status, c.wrote = status, true
	}
}

func (c *capture) Write(p []byte) (int, error) {
	c.wrote = true
	return c.body.Write(p)
}

func (c *capture) flush(w http.ResponseWriter) {
	for name, values := range c.header {
		w.Header()[name] = values
	}
	w.WriteHeader(c.status)
	_, _ = w.Write(c.body.Bytes())
}
