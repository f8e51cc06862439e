package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const firestoreCollection = "idempotencyKeys"

// FirestoreStore keeps one document per id in the idempotencyKeys collection. A TTL policy on
// expiresAt may delete documents too; Purge covers projects without one.
type FirestoreStore struct {
	client *firestore.Client
	keys   *firestore.CollectionRef
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client, keys: client.Collection(firestoreCollection)}
}

func (s *FirestoreStore) Claim(ctx context.Context, id string, pending Entry, now time.Time) (Entry, bool, error) {
	ref := s.keys.Doc(id)
	var (
		existing Entry
		claimed  bool
	)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		existing, claimed = Entry{}, false
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			if !existing.expired(now) {
				return nil
			}
			existing = Entry{}
		}
		claimed = true
		return tx.Set(ref, pending)
	})
	if err != nil {
		return Entry{}, false, err
	}
	return existing, claimed, nil
}

func (s *FirestoreStore) Finish(ctx context.Context, id string, done Entry) error {
	_, err := s.keys.Doc(id).Set(ctx, done)
	return err
}

func (s *FirestoreStore) Drop(ctx context.Context, id string) error {
	_, err := s.keys.Doc(id).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.keys.Where("expiresAt", "<=", now).Limit(limit).Documents(ctx).GetAll()
	if err != nil || len(docs) == 0 {
		return 0, err
	}
	bw := s.client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return 0, err
		}
	}
	bw.End()
	return len(docs), nil
}
