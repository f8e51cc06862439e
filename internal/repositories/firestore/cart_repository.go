package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/quickcart/commerce/internal/domain"
	pfirestore "github.com/quickcart/commerce/internal/platform/firestore"
	"github.com/quickcart/commerce/internal/repositories"
)

const cartsCollection = "carts"

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"quantity"`
}

// CartRepository stores one cart document per user at carts/{userId}.
type CartRepository struct {
	base *pfirestore.Collection[cartDocument]
}

var _ repositories.CartRepository = (*CartRepository)(nil)

func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base: pfirestore.NewCollection[cartDocument](provider, cartsCollection),
	}, nil
}

// Get returns the user's cart, or an empty cart when none is stored.
func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, errors.New("user id is required")
	}
	ref, err := r.base.Doc(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	snap, err := readDoc(ctx, ref)
	if err != nil {
		if isNotFound(err) {
			return domain.Cart{UserID: userID}, nil
		}
		return domain.Cart{}, pfirestore.WrapError("carts.get", err)
	}
	var doc cartDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Cart{}, fmt.Errorf("decode cart %s: %w", userID, err)
	}
	cart := domain.Cart{UserID: userID, UpdatedAt: doc.UpdatedAt.UTC()}
	for _, item := range doc.Items {
		cart.Items = append(cart.Items, domain.CartItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return cart, nil
}

// Clear deletes the cart document. Clearing a missing cart succeeds.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}
	ref, err := r.base.Doc(ctx, userID)
	if err != nil {
		return err
	}
	if state, ok := txFromContext(ctx); ok {
		return state.tx.Delete(ref)
	}
	if _, err := ref.Delete(ctx); err != nil && !isNotFound(err) {
		return pfirestore.WrapError("carts.clear", err)
	}
	return nil
}
