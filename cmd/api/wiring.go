package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/quickcart/commerce/internal/di"
	"github.com/quickcart/commerce/internal/handlers"
	"github.com/quickcart/commerce/internal/platform/auth"
	"github.com/quickcart/commerce/internal/platform/config"
	"github.com/quickcart/commerce/internal/platform/idempotency"
	"github.com/quickcart/commerce/internal/platform/jobs"
	"github.com/quickcart/commerce/internal/platform/observability"
	"github.com/quickcart/commerce/internal/platform/secrets"
	"github.com/quickcart/commerce/internal/repositories"
	"github.com/quickcart/commerce/internal/services"
)

func newApplication(ctx context.Context, cfg config.Config, build services.BuildInfo, logger *zap.Logger, resolver *secrets.Resolver, clientOpts []option.ClientOption) (*application, error) {
	infra, err := di.OpenInfrastructure(ctx, cfg, logger.Named("infra"), clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("infrastructure: %w", err)
	}
	infra.AddCheck(secretManagerCheck(resolver))

	container, err := newContainer(ctx, cfg, build, logger, infra)
	if err != nil {
		_ = infra.Close(context.Background())
		return nil, err
	}
	app := &application{container: container}

	firebase, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, clientOpts...)
	if err != nil {
		app.close(logger)
		return nil, err
	}
	authenticator := auth.NewAuthenticator(firebase,
		auth.WithPrincipalResolver(container.PrincipalResolver()),
		auth.WithLogger(logger.Named("auth")),
	)

	idem := cfg.Idempotency
	idemLogger := logger.Named("idempotency")
	placeOrderOnce := idempotency.Middleware(infra.Idempotency,
		idempotency.WithHeader(idem.Header),
		idempotency.WithTTL(idem.TTL),
		idempotency.WithLogger(idemLogger),
	)
	app.workers = append(app.workers, func(ctx context.Context) {
		idempotency.RunCleanup(ctx, infra.Idempotency, idem.CleanupInterval, idem.CleanupBatchSize, idemLogger)
	})

	if cfg.Events.Backend == config.EventsBackendKafka {
		consumer, err := newUserDeletedConsumer(cfg, container.Services.Users, logger.Named("kafka"))
		if err != nil {
			app.close(logger)
			return nil, err
		}
		app.workers = append(app.workers, func(ctx context.Context) {
			defer consumer.Close()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("kafka consumer stopped", zap.Error(err))
			}
		})
	}

	svc := container.Services
	orders := handlers.NewOrderHandlers(authenticator, svc.Orders, handlers.WithPlaceOrderMiddleware(placeOrderOnce))
	health := handlers.NewHealthHandlers(build, svc.System)

	projectID := cfg.Firebase.ProjectID
	if projectID == "" {
		projectID = cfg.Firestore.ProjectID
	}
	httpLogger := logger.Named("http")
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithGroup(handlers.GroupOrders, orders.Routes),
		handlers.WithGroup(handlers.GroupOrderItems, orders.ItemRoutes),
		handlers.WithGroup(handlers.GroupReturns, handlers.NewReturnHandlers(authenticator, svc.Returns).Routes),
		handlers.WithGroup(handlers.GroupAdmin, handlers.NewAdminHandlers(authenticator, svc.Orders, svc.Returns).Routes),
		handlers.WithGroup(handlers.GroupInternal, handlers.NewInternalEventHandlers(svc.Users).Routes),
	}
	if push := pushVerifier(cfg.Security.OIDC, logger.Named("auth")); push != nil {
		opts = append(opts, handlers.WithGroupMiddlewares(handlers.GroupInternal, push.Middleware))
	}
	app.router = handlers.NewRouter(opts...)
	return app, nil
}

func newContainer(ctx context.Context, cfg config.Config, build services.BuildInfo, logger *zap.Logger, infra *di.Infrastructure) (*di.Container, error) {
	health, err := infra.HealthRepository()
	if err != nil {
		return nil, fmt.Errorf("health checks: %w", err)
	}
	alerts, err := observability.NewAlerts(observability.DefaultMeter())
	if err != nil {
		return nil, fmt.Errorf("alert counters: %w", err)
	}

	opts := []di.Option{
		di.WithLogger(logger),
		di.WithAlerts(di.NewAlertRecorder(alerts, logger.Named("inventory"))),
		di.WithHealthRepository(health),
		di.WithBuildInfo(build),
		di.WithCloser(infra.Close),
	}
	if infra.Events != nil {
		opts = append(opts, di.WithEventPublisher(infra.Events))
	}
	return di.NewContainer(ctx, cfg, infra.Registry, opts...)
}

func newUserDeletedConsumer(cfg config.Config, users services.UserLifecycleService, logger *zap.Logger) (*jobs.KafkaUserDeletedConsumer, error) {
	reader, err := jobs.NewKafkaReader(di.KafkaConfigFor(cfg.Events.Kafka, cfg.Events.Kafka.UserDeletedTopic))
	if err != nil {
		return nil, err
	}
	consumer, err := jobs.NewKafkaUserDeletedConsumer(reader, users, jobs.WithConsumerLogger(logger))
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	return consumer, nil
}

// pushVerifier guards /internal/events. It is nil when no key set is configured, which leaves the
// internal routes open for local development.
func pushVerifier(cfg config.OIDCConfig, logger *zap.Logger) *auth.PushVerifier {
	if cfg.JWKSURL == "" {
		return nil
	}
	opts := []auth.PushOption{auth.WithPushLogger(logger)}
	if metrics, err := observability.NewVerificationMetrics(observability.DefaultMeter()); err != nil {
		logger.Warn("auth: verification metrics unavailable", zap.Error(err))
	} else {
		opts = append(opts, auth.WithPushMetrics(metrics))
	}
	if cfg.Audience == "" {
		logger.Warn("auth: push audience not configured; internal routes will reject requests")
	}
	return auth.NewPushVerifier(auth.NewKeySet(cfg.JWKSURL, nil), auth.PushConfig{
		Audience:        cfg.Audience,
		Issuers:         cfg.Issuers,
		ServiceAccounts: cfg.ServiceAccounts,
	}, opts...)
}

// secretManagerCheck reports Secret Manager as reachable when the health secret resolves or is
// merely absent.
func secretManagerCheck(resolver *secrets.Resolver) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := resolver.ResolveSecret(ctx, "secret://system-healthz")
			if err == nil || status.Code(errors.Unwrap(err)) == codes.NotFound || errors.Is(err, secrets.ErrNotFound) {
				return nil
			}
			return err
		},
	}
}
