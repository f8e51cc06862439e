package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultEnvFile = ".env"

type Option func(*loader)

type loader struct {
	envFile   string
	overrides map[string]string
	systemEnv bool
}

// WithEnvFile points Load at a dotenv file other than ./.env. An empty path skips the file.
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFile = path }
}

// WithEnvMap supplies values that win over both the process environment and the dotenv file.
func WithEnvMap(values map[string]string) Option {
	return func(l *loader) { l.overrides = values }
}

func WithoutSystemEnv() Option {
	return func(l *loader) { l.systemEnv = false }
}

// Load reads the configuration from the dotenv file, the process environment and any
// WithEnvMap overrides, in increasing precedence. Secret references are left untouched.
func Load(opts ...Option) (Config, error) {
	l := loader{envFile: defaultEnvFile, systemEnv: true}
	for _, opt := range opts {
		opt(&l)
	}

	e, err := l.environment()
	if err != nil {
		return Config{}, err
	}
	cfg := e.config()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l loader) environment() (env, error) {
	e, err := readDotEnv(l.envFile)
	if err != nil {
		return nil, err
	}
	if l.systemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && key != "" {
				e[key] = value
			}
		}
	}
	for key, value := range l.overrides {
		e[key] = value
	}
	return e, nil
}

func (e env) config() Config {
	cfg := Config{
		Server: ServerConfig{
			Port:         e.str("API_SERVER_PORT", "8080"),
			ReadTimeout:  e.duration("API_SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: e.duration("API_SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  e.duration("API_SERVER_IDLE_TIMEOUT", 2*time.Minute),
		},
		Logging: LoggingConfig{Level: e.lower("LOG_LEVEL", "info")},
		Build:   BuildConfig{Version: e.str("API_BUILD_VERSION", "dev")},
		Firebase: FirebaseConfig{
			ProjectID:       e.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: e.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: e.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Persistence: PersistenceConfig{Driver: e.lower("API_PERSISTENCE_DRIVER", PersistenceFirestore)},
		Events: EventsConfig{
			Backend: e.lower("API_EVENTS_BACKEND", EventsBackendNone),
			PubSub: PubSubConfig{
				ProjectID:  e.str("API_PUBSUB_PROJECT_ID", ""),
				OrderTopic: e.str("API_PUBSUB_ORDER_TOPIC", "order-events"),
			},
			Kafka: KafkaConfig{
				Brokers:          e.list("API_KAFKA_BROKERS"),
				OrderTopic:       e.str("API_KAFKA_ORDER_TOPIC", "order-events"),
				UserDeletedTopic: e.str("API_KAFKA_USER_DELETED_TOPIC", "user-deleted-topic"),
				ConsumerGroup:    e.str("API_KAFKA_CONSUMER_GROUP", "commerce-api"),
				SASLUsername:     e.str("API_KAFKA_SASL_USERNAME", ""),
				SASLPassword:     e.str("API_KAFKA_SASL_PASSWORD", ""),
			},
		},
		Security: SecurityConfig{
			Environment: e.lower("API_SECURITY_ENVIRONMENT", "local"),
			OIDC: OIDCConfig{
				JWKSURL:         e.str("API_SECURITY_OIDC_JWKS_URL", "https://www.googleapis.com/oauth2/v3/certs"),
				Audience:        e.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences:       e.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:         e.list("API_SECURITY_OIDC_ISSUERS"),
				ServiceAccounts: e.list("API_SECURITY_OIDC_SERVICE_ACCOUNTS"),
			},
		},
		Secrets: SecretsConfig{
			DefaultProject: e.str("API_SECRET_DEFAULT_PROJECT_ID", ""),
			Projects:       e.pairs("API_SECRET_PROJECT_IDS"),
			FallbackFile:   e.str("API_SECRET_FALLBACK_FILE", ".secrets.local"),
		},
		Idempotency: IdempotencyConfig{
			Backend:          e.lower("API_IDEMPOTENCY_BACKEND", IdempotencyFirestore),
			Header:           e.str("API_IDEMPOTENCY_HEADER", "Idempotency-Key"),
			TTL:              e.duration("API_IDEMPOTENCY_TTL", 24*time.Hour),
			CleanupInterval:  e.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", time.Hour),
			CleanupBatchSize: e.integer("API_IDEMPOTENCY_CLEANUP_BATCH", 200),
			Redis: RedisConfig{
				Addr:     e.str("API_REDIS_ADDR", ""),
				Password: e.str("API_REDIS_PASSWORD", ""),
			},
		},
		Restock: RestockConfig{
			MaxElapsed:      e.duration("API_RESTOCK_MAX_ELAPSED", 30*time.Second),
			InitialInterval: e.duration("API_RESTOCK_INITIAL_INTERVAL", 200*time.Millisecond),
		},
	}

	// Project ids cascade: Firebase -> Firestore -> Pub/Sub and Secret Manager.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.PubSub.ProjectID == "" {
		cfg.Events.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Secrets.DefaultProject == "" {
		cfg.Secrets.DefaultProject = cfg.Firebase.ProjectID
	}

	oidc := &cfg.Security.OIDC
	if len(oidc.Issuers) == 0 {
		oidc.Issuers = []string{"https://accounts.google.com", "accounts.google.com"}
	}
	if oidc.Audience == "" {
		oidc.Audience = oidc.Audiences[cfg.Security.Environment]
	}
	return cfg
}

// env is the merged key/value view Load reads from. Blank values count as unset.
type env map[string]string

func (e env) str(key, fallback string) string {
	if value := strings.TrimSpace(e[key]); value != "" {
		return value
	}
	return fallback
}

func (e env) lower(key, fallback string) string {
	return strings.ToLower(e.str(key, fallback))
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(e.str(key, "")); err == nil {
		return d
	}
	return fallback
}

func (e env) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(e.str(key, "")); err == nil {
		return n
	}
	return fallback
}

// list splits a comma separated value, dropping blanks.
func (e env) list(key string) []string {
	var out []string
	for _, item := range strings.Split(e[key], ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// pairs parses "a=x,b=y". Keys are lower-cased.
func (e env) pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, item := range e.list(key) {
		name, value, ok := strings.Cut(item, "=")
		name, value = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}

func readDotEnv(path string) (env, error) {
	e := make(env)
	if path == "" {
		return e, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return e, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if key = strings.TrimSpace(key); ok && key != "" {
			e[key] = strings.Trim(strings.TrimSpace(value), `"'`)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return e, nil
}
