package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/quickcart/commerce/internal/platform/firestore"
	"github.com/quickcart/commerce/internal/repositories"
)

// Registry wires every Firestore repository to a single provider.
type Registry struct {
	*UnitOfWork

	provider        *pfirestore.Provider
	orders          *OrderRepository
	returns         *ReturnRepository
	products        *ProductRepository
	addresses       *AddressRepository
	carts           *CartRepository
	users           *UserRepository
	processedEvents *ProcessedEventRepository
	counters        *CounterRepository
	health          repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repositories. health may be nil when readiness is reported elsewhere.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider, health: health}
	var err error
	if reg.UnitOfWork, err = NewUnitOfWork(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.returns, err = NewReturnRepository(provider); err != nil {
		return nil, err
	}
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.addresses, err = NewAddressRepository(provider); err != nil {
		return nil, err
	}
	if reg.carts, err = NewCartRepository(provider); err != nil {
		return nil, err
	}
	if reg.users, err = NewUserRepository(provider); err != nil {
		return nil, err
	}
	if reg.processedEvents, err = NewProcessedEventRepository(provider); err != nil {
		return nil, err
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, err
	}
	return reg, nil
}

// Ping issues a cheap read to confirm Firestore is reachable. It is used as a readiness check.
func (r *Registry) Ping(ctx context.Context) error {
	return r.provider.Ping(ctx, countersCollection)
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

// Client exposes the shared Firestore client for stores living outside the registry.
func (r *Registry) Client(ctx context.Context) (*firestore.Client, error) {
	return r.provider.Client(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository                   { return r.orders }
func (r *Registry) Returns() repositories.ReturnRepository                 { return r.returns }
func (r *Registry) Products() repositories.ProductRepository               { return r.products }
func (r *Registry) Addresses() repositories.AddressRepository              { return r.addresses }
func (r *Registry) Carts() repositories.CartRepository                     { return r.carts }
func (r *Registry) Users() repositories.UserRepository                     { return r.users }
func (r *Registry) ProcessedEvents() repositories.ProcessedEventRepository { return r.processedEvents }
func (r *Registry) Counters() repositories.CounterRepository               { return r.counters }

// Health returns the configured health repository, or nil.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// WithHealth installs the readiness repository after construction, since checks usually need Ping.
func (r *Registry) WithHealth(health repositories.HealthRepository) *Registry {
	r.health = health
	return r
}
