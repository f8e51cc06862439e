package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/quickcart/commerce/internal/platform/config"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code                            codes.Code
		notFound, conflict, unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.FailedPrecondition, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.ResourceExhausted, unavailable: true},
		{code: codes.PermissionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := WrapError("orders.get", status.Error(tc.code, "boom"))
			var wrapped *Error
			if !errors.As(err, &wrapped) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if wrapped.IsNotFound() != tc.notFound || wrapped.IsConflict() != tc.conflict || wrapped.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification for %s: %+v", tc.code, wrapped)
			}
			if wrapped.Error() != "orders.get: rpc error: code = "+tc.code.String()+" desc = boom" {
				t.Fatalf("unexpected message %q", wrapped.Error())
			}
		})
	}
}

func TestWrapErrorPassesCancellationThrough(t *testing.T) {
	if err := WrapError("op", status.Error(codes.Canceled, "gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.DeadlineExceeded, "slow")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatal("nil stays nil")
	}
}

func TestWrapErrorKeepsFirstOperation(t *testing.T) {
	inner := WrapError("", status.Error(codes.NotFound, "missing"))
	outer := WrapError("returns.get", inner)
	var wrapped *Error
	if !errors.As(outer, &wrapped) || wrapped.Op != "returns.get" {
		t.Fatalf("expected op to be filled in, got %v", outer)
	}
	if again := WrapError("ignored", outer); again.(*Error).Op != "returns.get" {
		t.Fatalf("expected existing op to win, got %v", again)
	}
}

func TestProviderRejectsUseAfterClose(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{ProjectID: "demo"})
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}

func TestProviderClientHonoursContext(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{ProjectID: "demo"})
	p.slot <- struct{}{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Client(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled while another caller connects, got %v", err)
	}
}
