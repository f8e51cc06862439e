package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quickcart/commerce/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func placeOrder(handler http.Handler, key, body string, identity *auth.Identity) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func createdHandler(calls *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Location", "/api/v1/orders/ord_1")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ord_` + string(rune('0'+n)) + `"}`))
	})
}

func TestMiddlewareWithoutKeyPassesThrough(t *testing.T) {
	var calls atomic.Int32
	handler := Middleware(NewMemoryStore())(createdHandler(&calls))

	for i := 0; i < 2; i++ {
		if rec := placeOrder(handler, "", `{"shipping_address_id":"addr_1"}`, nil); rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("expected both requests to reach the handler, got %d", calls.Load())
	}
}

func TestMiddlewareReplaysFirstAnswer(t *testing.T) {
	var calls atomic.Int32
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(createdHandler(&calls))

	first := placeOrder(handler, "abc-123", `{"payment_method":"COD"}`, nil)
	second := placeOrder(handler, "abc-123", `{"payment_method":"COD"}`, nil)

	if calls.Load() != 1 {
		t.Fatalf("expected one handler call, got %d", calls.Load())
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replay of %d %s, got %d %s", first.Code, first.Body, second.Code, second.Body)
	}
	if second.Header().Get(replayHeader) != "true" || first.Header().Get(replayHeader) != "" {
		t.Fatal("only the replay carries the replay header")
	}
	if second.Header().Get("Location") != "/api/v1/orders/ord_1" {
		t.Fatalf("expected stored headers, got %v", second.Header())
	}
}

func TestMiddlewareRejectsKeyReuseWithDifferentBody(t *testing.T) {
	var calls atomic.Int32
	handler := Middleware(NewMemoryStore())(createdHandler(&calls))

	placeOrder(handler, "same-key", `{"payment_method":"COD"}`, nil)
	rec := placeOrder(handler, "same-key", `{"payment_method":"CARD"}`, nil)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	assertErrorCode(t, rec, "idempotency_key_conflict")
}

func TestMiddlewareRejectsRetryWhileFirstIsRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusCreated)
	}))

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- placeOrder(handler, "slow-key", `{}`, nil) }()
	<-started

	rec := placeOrder(handler, "slow-key", `{}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while in flight, got %d", rec.Code)
	}
	assertErrorCode(t, rec, "idempotency_in_progress")

	close(release)
	if first := <-done; first.Code != http.StatusCreated {
		t.Fatalf("expected first request to finish with 201, got %d", first.Code)
	}
}

func TestMiddlewareConcurrentRetriesRunHandlerOnce(t *testing.T) {
	var calls atomic.Int32
	handler := Middleware(NewMemoryStore())(createdHandler(&calls))

	var (
		wg    sync.WaitGroup
		gate  = make(chan struct{})
		codes = make([]int, 16)
	)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-gate
			codes[i] = placeOrder(handler, "burst-key", `{"payment_method":"COD"}`, nil).Code
		}(i)
	}
	close(gate)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected exactly one order placement, got %d", calls.Load())
	}
	for _, code := range codes {
		if code != http.StatusCreated && code != http.StatusConflict {
			t.Fatalf("unexpected status %d in %v", code, codes)
		}
	}
}

func TestMiddlewareForgetsServerErrors(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := placeOrder(handler, "retry-key", `{}`, nil)
	second := placeOrder(handler, "retry-key", `{}`, nil)
	if first.Code != http.StatusServiceUnavailable || second.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry after 503, got %d then %d after %d calls", first.Code, second.Code, calls)
	}
}

func TestMiddlewareScopesKeysPerUser(t *testing.T) {
	var calls atomic.Int32
	handler := Middleware(NewMemoryStore())(createdHandler(&calls))

	for _, user := range []string{"usr_alice", "usr_bob"} {
		rec := placeOrder(handler, "shared-key", `{}`, &auth.Identity{UID: "fb-" + user, UserID: user})
		if rec.Code != http.StatusCreated || rec.Header().Get(replayHeader) != "" {
			t.Fatalf("%s: expected a fresh 201, got %d", user, rec.Code)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one handler call per user, got %d", calls.Load())
	}
}

func TestMiddlewareRejectsOversizedKey(t *testing.T) {
	var calls atomic.Int32
	rec := placeOrder(Middleware(NewMemoryStore())(createdHandler(&calls)), strings.Repeat("k", maxKeyLength+1), `{}`, nil)
	if rec.Code != http.StatusBadRequest || calls.Load() != 0 {
		t.Fatalf("expected 400 without calling the handler, got %d", rec.Code)
	}
	assertErrorCode(t, rec, "idempotency_key_invalid")
}

func TestMiddlewareFinishFailureDropsEntry(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), finishErr: errors.New("firestore unavailable")}
	var calls atomic.Int32
	handler := Middleware(store)(createdHandler(&calls))

	rec := placeOrder(handler, "fail-key", `{}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected the handler's answer, got %d", rec.Code)
	}
	if !store.dropped {
		t.Fatal("expected the pending entry to be dropped")
	}
	placeOrder(handler, "fail-key", `{}`, nil)
	if calls.Load() != 2 {
		t.Fatalf("expected retry to reach the handler, got %d calls", calls.Load())
	}
}

func TestMiddlewareClaimFailure(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), claimErr: errors.New("redis down")}
	var calls atomic.Int32

	rec := placeOrder(Middleware(store)(createdHandler(&calls)), "key", `{}`, nil)
	if rec.Code != http.StatusInternalServerError || calls.Load() != 0 {
		t.Fatalf("expected 500 without calling the handler, got %d", rec.Code)
	}
	assertErrorCode(t, rec, "idempotency_unavailable")
}

func TestMemoryStoreReclaimsAndPurgesExpiredEntries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	pending := Entry{Fingerprint: "fp-1", ExpiresAt: fixedTime.Add(time.Minute)}

	if _, claimed, _ := store.Claim(ctx, "k", pending, fixedTime); !claimed {
		t.Fatal("expected first claim to succeed")
	}
	existing, claimed, _ := store.Claim(ctx, "k", Entry{Fingerprint: "fp-2"}, fixedTime.Add(30*time.Second))
	if claimed || existing.Fingerprint != "fp-1" {
		t.Fatalf("expected live entry to block the claim, got %+v", existing)
	}
	if _, claimed, _ := store.Claim(ctx, "k", Entry{Fingerprint: "fp-2", ExpiresAt: fixedTime.Add(3 * time.Minute)}, fixedTime.Add(2*time.Minute)); !claimed {
		t.Fatal("expected expired entry to be reclaimed")
	}

	_ = store.Finish(ctx, "other", Entry{Done: true, ExpiresAt: fixedTime})
	purged, err := store.Purge(ctx, fixedTime.Add(time.Hour), 10)
	if err != nil || purged != 2 {
		t.Fatalf("expected two purged entries, got %d (%v)", purged, err)
	}
}

type failingStore struct {
	*MemoryStore
	claimErr  error
	finishErr error
	dropped   bool
}

func (s *failingStore) Claim(ctx context.Context, id string, pending Entry, now time.Time) (Entry, bool, error) {
	if s.claimErr != nil {
		return Entry{}, false, s.claimErr
	}
	return s.MemoryStore.Claim(ctx, id, pending, now)
}

func (s *failingStore) Finish(context.Context, string, Entry) error { return s.finishErr }

func (s *failingStore) Drop(ctx context.Context, id string) error {
	s.dropped = true
	return s.MemoryStore.Drop(ctx, id)
}

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error != want {
		t.Fatalf("expected error %s, got %s", want, body.Error)
	}
}
