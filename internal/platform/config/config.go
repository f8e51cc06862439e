package config

import (
	"time"
)

// Persistence drivers.
const (
	PersistenceFirestore = "firestore"
	PersistenceMemory    = "memory"
)

// Event publisher backends.
const (
	EventsBackendPubSub = "pubsub"
	EventsBackendKafka  = "kafka"
	EventsBackendNone   = "none"
)

// Idempotency stores.
const (
	IdempotencyFirestore = "firestore"
	IdempotencyRedis     = "redis"
	IdempotencyMemory    = "memory"
)

// Config is the runtime configuration of the commerce API. Load fills it from the environment;
// ResolveSecrets then swaps secret references for their values.
type Config struct {
	Server      ServerConfig
	Logging     LoggingConfig
	Build       BuildConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Persistence PersistenceConfig
	Events      EventsConfig
	Security    SecurityConfig
	Secrets     SecretsConfig
	Idempotency IdempotencyConfig
	Restock     RestockConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level string
}

// BuildConfig is reported by the health endpoints.
type BuildConfig struct {
	Version string
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

type PersistenceConfig struct {
	Driver string
}

// EventsConfig selects where order events go and where user-deleted events come from.
type EventsConfig struct {
	Backend string
	PubSub  PubSubConfig
	Kafka   KafkaConfig
}

type PubSubConfig struct {
	ProjectID  string
	OrderTopic string
}

// KafkaConfig carries optional SASL/PLAIN credentials. SASLPassword may be a secret reference.
type KafkaConfig struct {
	Brokers          []string
	OrderTopic       string
	UserDeletedTopic string
	ConsumerGroup    string
	SASLUsername     string
	SASLPassword     string
}

type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig describes the Google-signed tokens that Pub/Sub push deliveries carry.
type OIDCConfig struct {
	JWKSURL string
	// Audience wins over Audiences, which is keyed by Security.Environment.
	Audience        string
	Audiences       map[string]string
	Issuers         []string
	ServiceAccounts []string
}

// SecretsConfig locates Secret Manager projects per environment.
type SecretsConfig struct {
	DefaultProject string
	Projects       map[string]string
	FallbackFile   string
}

type IdempotencyConfig struct {
	Backend          string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
	Redis            RedisConfig
}

// RedisConfig may carry a secret reference in Password.
type RedisConfig struct {
	Addr     string
	Password string
}

// RestockConfig bounds the retry that returns stock after a committed cancellation or refund.
type RestockConfig struct {
	MaxElapsed      time.Duration
	InitialInterval time.Duration
}

func (c Config) validate() error {
	var v validation

	v.require(c.Server.Port != "", "Server.Port")
	v.oneOf(c.Logging.Level, "Logging.Level", "debug", "info", "warn", "error")
	v.require(c.Firebase.ProjectID != "", "Firebase.ProjectID")

	if v.oneOf(c.Persistence.Driver, "Persistence.Driver", PersistenceFirestore, PersistenceMemory) {
		v.require(c.Persistence.Driver != PersistenceFirestore || c.Firestore.ProjectID != "", "Firestore.ProjectID")
	}

	if v.oneOf(c.Events.Backend, "Events.Backend", EventsBackendNone, EventsBackendPubSub, EventsBackendKafka) {
		switch c.Events.Backend {
		case EventsBackendPubSub:
			v.require(c.Events.PubSub.ProjectID != "", "Events.PubSub.ProjectID")
			v.require(c.Events.PubSub.OrderTopic != "", "Events.PubSub.OrderTopic")
		case EventsBackendKafka:
			v.require(len(c.Events.Kafka.Brokers) > 0, "Events.Kafka.Brokers")
			v.require(c.Events.Kafka.OrderTopic != "", "Events.Kafka.OrderTopic")
		}
	}

	idem := c.Idempotency
	if v.oneOf(idem.Backend, "Idempotency.Backend", IdempotencyFirestore, IdempotencyRedis, IdempotencyMemory) {
		// The firestore store shares the repository client, so it needs firestore persistence.
		v.require(idem.Backend != IdempotencyFirestore || c.Persistence.Driver == PersistenceFirestore, "Idempotency.Backend")
		v.require(idem.Backend != IdempotencyRedis || idem.Redis.Addr != "", "Idempotency.Redis.Addr")
	}
	v.require(idem.Header != "", "Idempotency.Header")
	v.require(idem.TTL > 0, "Idempotency.TTL")
	v.require(idem.CleanupInterval > 0, "Idempotency.CleanupInterval")
	v.require(idem.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	v.require(c.Restock.MaxElapsed > 0, "Restock.MaxElapsed")
	v.require(c.Restock.InitialInterval > 0, "Restock.InitialInterval")

	return v.err()
}
