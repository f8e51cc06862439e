package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/quickcart/commerce/internal/domain"
	pfirestore "github.com/quickcart/commerce/internal/platform/firestore"
	"github.com/quickcart/commerce/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Name      string    `firestore:"name"`
	ImageURL  string    `firestore:"imageUrl,omitempty"`
	Price     string    `firestore:"price"`
	Stock     int       `firestore:"stock"`
	Active    bool      `firestore:"active"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// ProductRepository is the stock ledger. Stock mutations run in a transaction, so Firestore
// serialises concurrent read-check-write sequences on the same product.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[productDocument]
	clock    func() time.Time
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		base:     pfirestore.NewCollection[productDocument](provider, productsCollection),
		clock:    time.Now,
	}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	ref, err := r.base.Doc(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	snap, err := readDoc(ctx, ref)
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.get", err)
	}
	return decodeProduct(snap)
}

func (r *ProductRepository) DecrementStock(ctx context.Context, productID string, quantity int) (domain.Product, error) {
	return r.adjustStock(ctx, "products.decrement", productID, quantity, true)
}

func (r *ProductRepository) IncrementStock(ctx context.Context, productID string, quantity int) (domain.Product, error) {
	return r.adjustStock(ctx, "products.increment", productID, quantity, false)
}

func (r *ProductRepository) Save(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product save: id is required")
	}
	updatedAt := product.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = r.clock().UTC()
	}
	return r.base.Set(ctx, product.ID, productDocument{
		Name:      product.Name,
		ImageURL:  product.ImageURL,
		Price:     moneyString(product.Price),
		Stock:     product.Stock,
		Active:    product.Active,
		UpdatedAt: updatedAt,
	})
}

func (r *ProductRepository) adjustStock(ctx context.Context, op, productID string, quantity int, decrement bool) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if quantity <= 0 {
		err := repositories.NewStockError(repositories.StockErrorInvalidQuantity, productID, "quantity must be positive", nil)
		err.Op = op
		return domain.Product{}, err
	}

	var updated domain.Product
	err := runInTx(ctx, r.provider, func(ctx context.Context, state *txState) error {
		ref, err := r.base.Doc(ctx, productID)
		if err != nil {
			return err
		}
		snap, err := state.get(ref)
		if err != nil {
			if isNotFound(err) {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, productID, fmt.Sprintf("product %s not found", productID), err)
			}
			return err
		}
		product, err := decodeProduct(snap)
		if err != nil {
			return err
		}
		if decrement {
			if !product.Active {
				return repositories.NewStockError(repositories.StockErrorProductInactive, productID, fmt.Sprintf("product %s is inactive", productID), nil)
			}
			if product.Stock < quantity {
				return repositories.InsufficientStock(productID, quantity, product.Stock)
			}
			product.Stock -= quantity
		} else {
			product.Stock += quantity
		}
		product.UpdatedAt = r.clock().UTC()
		if err := state.tx.Update(ref, []firestore.Update{
			{Path: "stock", Value: product.Stock},
			{Path: "updatedAt", Value: product.UpdatedAt},
		}); err != nil {
			return err
		}
		updated = product
		return nil
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			stockErr.Op = op
			return domain.Product{}, stockErr
		}
		return domain.Product{}, pfirestore.WrapError(op, err)
	}
	return updated, nil
}

func decodeProduct(snap *firestore.DocumentSnapshot) (domain.Product, error) {
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
	}
	price, err := parseMoney("price", doc.Price)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:        snap.Ref.ID,
		Name:      doc.Name,
		ImageURL:  doc.ImageURL,
		Price:     price,
		Stock:     doc.Stock,
		Active:    doc.Active,
		UpdatedAt: doc.UpdatedAt.UTC(),
	}, nil
}
