package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/quickcart/commerce/internal/platform/firestore"
	"github.com/quickcart/commerce/internal/repositories"
)

type txKey struct{}

// txState is the transaction bound to a context together with the snapshots read through it.
// Firestore rejects reads that follow a write, so repositories read once, cache the snapshot
// and consult the cache when they later write the same document.
type txState struct {
	tx    *firestore.Transaction
	snaps map[string]*firestore.DocumentSnapshot
}

func (s *txState) get(ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if snap, ok := s.snaps[ref.Path]; ok {
		if !snap.Exists() {
			return snap, status.Errorf(codes.NotFound, "%s not found", ref.Path)
		}
		return snap, nil
	}
	snap, err := s.tx.Get(ref)
	if err != nil && status.Code(err) != codes.NotFound {
		return nil, err
	}
	s.snaps[ref.Path] = snap
	return snap, err
}

func txFromContext(ctx context.Context) (*txState, bool) {
	state, ok := ctx.Value(txKey{}).(*txState)
	return state, ok && state != nil
}

// UnitOfWork implements repositories.UnitOfWork on Firestore transactions. Firestore retries
// the transaction function on contention, so state is rebuilt for every attempt.
type UnitOfWork struct {
	provider *pfirestore.Provider
}

var _ repositories.UnitOfWork = (*UnitOfWork)(nil)

// NewUnitOfWork constructs a transactional boundary over the provider's client.
func NewUnitOfWork(provider *pfirestore.Provider) (*UnitOfWork, error) {
	if provider == nil {
		return nil, errors.New("unit of work requires firestore provider")
	}
	return &UnitOfWork{provider: provider}, nil
}

// RunInTx runs fn inside a transaction. Calls nested in an existing transaction join it.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return runInTx(ctx, u.provider, func(ctx context.Context, _ *txState) error {
		return fn(ctx)
	})
}

// runInTx executes fn with the transaction carried by ctx, or opens one when ctx has none.
// Domain errors returned by fn are passed through unchanged.
func runInTx(ctx context.Context, provider *pfirestore.Provider, fn func(ctx context.Context, state *txState) error) error {
	if state, ok := txFromContext(ctx); ok {
		return fn(ctx, state)
	}
	var fnErr error
	err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		state := &txState{tx: tx, snaps: make(map[string]*firestore.DocumentSnapshot)}
		fnErr = fn(context.WithValue(ctx, txKey{}, state), state)
		return fnErr
	})
	if err != nil && fnErr != nil && !isRetryableTxError(fnErr) {
		return fnErr
	}
	return err
}

func isRetryableTxError(err error) bool {
	return status.Code(err) == codes.Aborted
}

// readDoc loads a snapshot through the active transaction when there is one.
func readDoc(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if state, ok := txFromContext(ctx); ok {
		return state.get(ref)
	}
	return ref.Get(ctx)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
