// Package idempotency replays the stored response when a client retries an order placement with
// the same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultTTL is how long a key is remembered.
const DefaultTTL = 24 * time.Hour

// Entry is the state kept for one scoped key. Done is false while the first request is still
// being handled.
type Entry struct {
	Fingerprint string              `firestore:"fingerprint" json:"fingerprint"`
	Done        bool                `firestore:"done" json:"done"`
	Status      int                 `firestore:"status,omitempty" json:"status,omitempty"`
	Header      map[string][]string `firestore:"header,omitempty" json:"header,omitempty"`
	Body        []byte              `firestore:"body,omitempty" json:"body,omitempty"`
	ExpiresAt   time.Time           `firestore:"expiresAt" json:"expiresAt"`
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store keeps entries by id. Implementations must make Claim atomic.
type Store interface {
	// Claim saves pending under id unless a live entry exists; that entry is returned instead
	// with claimed false. Entries that expired before now count as absent.
	Claim(ctx context.Context, id string, pending Entry, now time.Time) (existing Entry, claimed bool, err error)
	// Finish overwrites id with the completed entry.
	Finish(ctx context.Context, id string, done Entry) error
	// Drop forgets id so the client may retry.
	Drop(ctx context.Context, id string) error
	// Purge deletes up to limit entries that expired before now.
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
