package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/quickcart/commerce/internal/platform/config"
	pfirestore "github.com/quickcart/commerce/internal/platform/firestore"
	"github.com/quickcart/commerce/internal/platform/idempotency"
	"github.com/quickcart/commerce/internal/platform/jobs"
	"github.com/quickcart/commerce/internal/repositories"
	firestorerepo "github.com/quickcart/commerce/internal/repositories/firestore"
	"github.com/quickcart/commerce/internal/repositories/memory"
	"github.com/quickcart/commerce/internal/services"
)

const redisKeyPrefix = "commerce:idempotency:"

// Infrastructure holds the backends selected by configuration: the repository registry, the
// domain event publisher, and the idempotency store, plus the readiness checks covering them.
type Infrastructure struct {
	Registry    repositories.Registry
	Events      services.EventPublisher
	Idempotency idempotency.Store

	checks  []repositories.DependencyCheck
	closers []func(context.Context) error
	logger  *zap.Logger
}

// OpenInfrastructure connects every backend named in cfg. On error, anything already opened is closed.
func OpenInfrastructure(ctx context.Context, cfg config.Config, logger *zap.Logger, clientOpts ...option.ClientOption) (*Infrastructure, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	infra := &Infrastructure{logger: logger}

	if err := infra.openRegistry(ctx, cfg, clientOpts); err != nil {
		_ = infra.Close(context.Background())
		return nil, err
	}
	if err := infra.openEvents(ctx, cfg, clientOpts); err != nil {
		_ = infra.Close(context.Background())
		return nil, err
	}
	if err := infra.openIdempotency(ctx, cfg); err != nil {
		_ = infra.Close(context.Background())
		return nil, err
	}
	return infra, nil
}

// AddCheck registers an extra readiness check, e.g. Secret Manager reachability.
func (i *Infrastructure) AddCheck(check repositories.DependencyCheck) {
	i.checks = append(i.checks, check)
}

// HealthRepository checks every registered dependency, falling back to the registry's own report.
func (i *Infrastructure) HealthRepository() (repositories.HealthRepository, error) {
	if len(i.checks) == 0 {
		return i.Registry.Health(), nil
	}
	checker, err := repositories.NewHealthChecker(i.checks...)
	if err != nil {
		return nil, err
	}
	return checker, nil
}

// Close releases clients in reverse order of opening.
func (i *Infrastructure) Close(ctx context.Context) error {
	if i == nil {
		return nil
	}
	var errs []error
	for idx := len(i.closers) - 1; idx >= 0; idx-- {
		if err := i.closers[idx](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	i.closers = nil
	return errors.Join(errs...)
}

func (i *Infrastructure) onClose(fn func(context.Context) error) {
	i.closers = append(i.closers, fn)
}

func (i *Infrastructure) openRegistry(ctx context.Context, cfg config.Config, clientOpts []option.ClientOption) error {
	switch cfg.Persistence.Driver {
	case config.PersistenceMemory:
		i.logger.Warn("persistence: using in-memory repositories; data is lost on restart")
		i.Registry = memory.New()
		return nil
	case config.PersistenceFirestore, "":
	default:
		return fmt.Errorf("persistence: unsupported driver %q", cfg.Persistence.Driver)
	}

	provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOpts...))
	if _, err := provider.Client(ctx); err != nil {
		return fmt.Errorf("persistence: connect firestore: %w", err)
	}
	registry, err := firestorerepo.NewRegistry(provider, nil)
	if err != nil {
		_ = provider.Close(ctx)
		return fmt.Errorf("persistence: build firestore registry: %w", err)
	}
	i.Registry = registry
	i.onClose(registry.Close)
	i.AddCheck(repositories.DependencyCheck{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check:   registry.Ping,
	})
	return nil
}

func (i *Infrastructure) openEvents(ctx context.Context, cfg config.Config, clientOpts []option.ClientOption) error {
	switch cfg.Events.Backend {
	case config.EventsBackendNone, "":
		i.logger.Info("events: publishing disabled")
		return nil
	case config.EventsBackendPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Events.PubSub.ProjectID, clientOpts...)
		if err != nil {
			return fmt.Errorf("events: connect pubsub: %w", err)
		}
		publisher, err := jobs.NewPubSubEventPublisher(client.Topic(cfg.Events.PubSub.OrderTopic))
		if err != nil {
			_ = client.Close()
			return err
		}
		i.Events = publisher
		i.onClose(func(context.Context) error {
			_ = publisher.Close()
			return client.Close()
		})
		i.AddCheck(repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 2 * time.Second,
			Check:   publisher.Check,
		})
		return nil
	case config.EventsBackendKafka:
		kafkaCfg := KafkaConfigFor(cfg.Events.Kafka, cfg.Events.Kafka.OrderTopic)
		writer, err := jobs.NewKafkaWriter(kafkaCfg)
		if err != nil {
			return fmt.Errorf("events: build kafka writer: %w", err)
		}
		publisher, err := jobs.NewKafkaEventPublisher(writer)
		if err != nil {
			_ = writer.Close()
			return err
		}
		i.Events = publisher
		i.onClose(func(context.Context) error { return publisher.Close() })
		i.AddCheck(repositories.DependencyCheck{
			Name:    "kafka",
			Timeout: 5 * time.Second,
			Check: func(ctx context.Context) error {
				return jobs.PingKafka(ctx, kafkaCfg)
			},
		})
		return nil
	default:
		return fmt.Errorf("events: unsupported backend %q", cfg.Events.Backend)
	}
}

func (i *Infrastructure) openIdempotency(ctx context.Context, cfg config.Config) error {
	switch strings.ToLower(cfg.Idempotency.Backend) {
	case config.IdempotencyMemory:
		i.Idempotency = idempotency.NewMemoryStore()
		return nil
	case config.IdempotencyRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Idempotency.Redis.Addr,
			Password: cfg.Idempotency.Redis.Password,
		})
		store := idempotency.NewRedisStore(client, redisKeyPrefix)
		i.Idempotency = store
		i.onClose(func(context.Context) error { return client.Close() })
		i.AddCheck(repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check:   store.Ping,
		})
		return nil
	case config.IdempotencyFirestore, "":
	default:
		return fmt.Errorf("idempotency: unsupported backend %q", cfg.Idempotency.Backend)
	}

	registry, ok := i.Registry.(*firestorerepo.Registry)
	if !ok {
		// Memory persistence keeps idempotency records alongside it.
		i.logger.Warn("idempotency: firestore backend requires firestore persistence; using memory store")
		i.Idempotency = idempotency.NewMemoryStore()
		return nil
	}
	client, err := registry.Client(ctx)
	if err != nil {
		return fmt.Errorf("idempotency: firestore client: %w", err)
	}
	i.Idempotency = idempotency.NewFirestoreStore(client)
	return nil
}

// KafkaConfigFor maps the broker settings onto a reader or writer bound to topic.
func KafkaConfigFor(cfg config.KafkaConfig, topic string) jobs.KafkaConfig {
	return jobs.KafkaConfig{
		Brokers:      cfg.Brokers,
		Topic:        topic,
		GroupID:      cfg.ConsumerGroup,
		SASLUsername: cfg.SASLUsername,
		SASLPassword: cfg.SASLPassword,
	}
}
