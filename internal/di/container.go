package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/quickcart/commerce/internal/platform/auth"
	"github.com/quickcart/commerce/internal/platform/config"
	"github.com/quickcart/commerce/internal/platform/observability"
	"github.com/quickcart/commerce/internal/repositories"
	"github.com/quickcart/commerce/internal/services"
)

// Services bundles the service-layer contracts that handlers and consumers rely upon.
type Services struct {
	Orders    services.OrderService
	Returns   services.ReturnService
	Inventory services.InventoryService
	Users     services.UserLifecycleService
	System    services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	closers []func(context.Context) error
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	events services.EventPublisher
	alerts services.AlertRecorder
	health repositories.HealthRepository
	logger *zap.Logger
	clock  func() time.Time
	ids    func() string
	build  services.BuildInfo
	close  []func(context.Context) error
}

// WithEventPublisher installs the publisher receiving order and return events.
func WithEventPublisher(publisher services.EventPublisher) Option {
	return func(o *containerOptions) {
		o.events = publisher
	}
}

// WithAlerts installs the recorder for stock inconsistencies.
func WithAlerts(alerts services.AlertRecorder) Option {
	return func(o *containerOptions) {
		o.alerts = alerts
	}
}

// WithHealthRepository overrides the registry's readiness collector.
func WithHealthRepository(health repositories.HealthRepository) Option {
	return func(o *containerOptions) {
		o.health = health
	}
}

// WithLogger sets the base logger handed to every service.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock injects the clock shared by all services.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithIDGenerator overrides ULID identifiers, mostly for tests.
func WithIDGenerator(ids func() string) Option {
	return func(o *containerOptions) {
		if ids != nil {
			o.ids = ids
		}
	}
}

// WithBuildInfo sets the metadata reported by the health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithCloser registers a release hook run by Close after the repositories shut down.
func WithCloser(fn func(context.Context) error) Option {
	return func(o *containerOptions) {
		if fn != nil {
			o.close = append(o.close, fn)
		}
	}
}

// NewContainer constructs the runtime dependencies over reg.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	options := containerOptions{
		logger: zap.NewNop(),
		clock:  time.Now,
		ids:    func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.health == nil {
		options.health = reg.Health()
	}
	if options.build.StartedAt.IsZero() {
		options.build.StartedAt = options.clock().UTC()
	}
	if options.build.Environment == "" {
		options.build.Environment = cfg.Security.Environment
	}

	svc, err := buildServices(ctx, reg, cfg, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		closers:      options.close,
	}, nil
}

// PrincipalResolver maps verified Firebase emails to application users.
func (c *Container) PrincipalResolver() auth.PrincipalResolver {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return NewPrincipalResolver(c.Repositories.Users())
}

// Close releases repository clients and any registered infrastructure.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, fn := range c.closers {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, opts containerOptions) (Services, error) {
	var svc Services

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products: reg.Products(),
		Alerts:   opts.alerts,
		Backoff:  restockBackoff(cfg.Restock),
		Logger:   observability.ServiceLogger(opts.logger.Named("inventory")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      reg.Orders(),
		Products:    reg.Products(),
		Addresses:   reg.Addresses(),
		Carts:       reg.Carts(),
		Counters:    reg.Counters(),
		Inventory:   inventorySvc,
		UnitOfWork:  reg,
		Events:      opts.events,
		CartBackoff: restockBackoff(cfg.Restock),
		Clock:       opts.clock,
		IDGenerator: opts.ids,
		Logger:      observability.ServiceLogger(opts.logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	returnSvc, err := services.NewReturnService(services.ReturnServiceDeps{
		Returns:     reg.Returns(),
		Orders:      reg.Orders(),
		Inventory:   inventorySvc,
		UnitOfWork:  reg,
		Events:      opts.events,
		Clock:       opts.clock,
		IDGenerator: opts.ids,
		Logger:      observability.ServiceLogger(opts.logger.Named("returns")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build return service: %w", err)
	}
	svc.Returns = returnSvc

	userSvc, err := services.NewUserLifecycleService(services.UserLifecycleServiceDeps{
		Carts:           reg.Carts(),
		ProcessedEvents: reg.ProcessedEvents(),
		UnitOfWork:      reg,
		Clock:           opts.clock,
		Logger:          observability.ServiceLogger(opts.logger.Named("users")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build user lifecycle service: %w", err)
	}
	svc.Users = userSvc

	if opts.health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: opts.health,
			Clock:            opts.clock,
			Build:            opts.build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

func restockBackoff(cfg config.RestockConfig) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		if cfg.InitialInterval > 0 {
			b.InitialInterval = cfg.InitialInterval
		}
		if cfg.MaxElapsed > 0 {
			b.MaxElapsedTime = cfg.MaxElapsed
		}
		return b
	}
}

// NewPrincipalResolver resolves principals by email. Unknown emails map to auth.ErrUnknownPrincipal
// so the middleware answers 403 rather than 503.
func NewPrincipalResolver(users repositories.UserRepository) auth.PrincipalResolver {
	return auth.PrincipalResolverFunc(func(ctx context.Context, email string) (auth.Principal, error) {
		if users == nil {
			return auth.Principal{}, errors.New("principal resolver: user repository not configured")
		}
		user, err := users.FindByEmail(ctx, strings.TrimSpace(email))
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return auth.Principal{}, auth.ErrUnknownPrincipal
			}
			return auth.Principal{}, err
		}
		return auth.Principal{
			UserID: user.ID,
			Role:   strings.ToLower(string(user.Role)),
		}, nil
	})
}

// AlertRecorder forwards stock inconsistencies to the alert counters and the error log.
type AlertRecorder struct {
	alerts *observability.Alerts
	logger *zap.Logger
}

var _ services.AlertRecorder = (*AlertRecorder)(nil)

// NewAlertRecorder adapts the otel alert counters to the inventory service.
func NewAlertRecorder(alerts *observability.Alerts, logger *zap.Logger) *AlertRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertRecorder{alerts: alerts, logger: logger}
}

// PartialReservation records a reservation whose earlier lines could not all be released.
func (r *AlertRecorder) PartialReservation(ctx context.Context, outstanding []services.StockLine) {
	units := 0
	products := make([]string, 0, len(outstanding))
	for _, line := range outstanding {
		units += line.Quantity
		products = append(products, line.ProductID)
	}
	r.alerts.PartialReservation(ctx, len(outstanding), units)
	r.logger.Error("inventory.reservation.partial",
		zap.Strings("productIds", products),
		zap.Int("outstandingUnits", units),
	)
}

// RestockFailed records a stock line that stayed unreturned after retries.
func (r *AlertRecorder) RestockFailed(ctx context.Context, source string, line services.StockLine, err error) {
	r.alerts.RestockFailed(ctx, source, line.ProductID)
	r.logger.Error("inventory.restock.failed",
		zap.String("source", source),
		zap.String("productId", line.ProductID),
		zap.Int("quantity", line.Quantity),
		zap.Error(err),
	)
}
