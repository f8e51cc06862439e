package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
)

// KafkaConfig describes the brokers and credentials shared by readers and writers.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	GroupID      string
	SASLUsername string
	SASLPassword string
}

func (c KafkaConfig) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	if strings.TrimSpace(c.Topic) == "" {
		return errors.New("kafka: topic is required")
	}
	return nil
}

func (c KafkaConfig) mechanism() sasl.Mechanism {
	if strings.TrimSpace(c.SASLUsername) == "" {
		return nil
	}
	return plain.Mechanism{Username: c.SASLUsername, Password: c.SASLPassword}
}

// NewKafkaWriter builds a writer keyed by hash so events for one order stay on one partition.
func NewKafkaWriter(cfg KafkaConfig) (*kafka.Writer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	if mech := cfg.mechanism(); mech != nil {
		writer.Transport = &kafka.Transport{SASL: mech}
	}
	return writer, nil
}

// NewKafkaReader builds a consumer-group reader with explicit commits.
func NewKafkaReader(cfg KafkaConfig) (*kafka.Reader, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("kafka: consumer group is required")
	}
	readerCfg := kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	}
	if mech := cfg.mechanism(); mech != nil {
		readerCfg.Dialer = &kafka.Dialer{
			Timeout:       10 * time.Second,
			DualStack:     true,
			SASLMechanism: mech,
		}
	}
	return kafka.NewReader(readerCfg), nil
}

// headerCarrier adapts kafka headers to the otel propagation carrier.
type headerCarrier struct {
	headers *[]kafka.Header
}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

// PingKafka dials the brokers in order and succeeds on the first accepted connection.
func PingKafka(ctx context.Context, cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	dialer := &kafka.Dialer{
		Timeout:       5 * time.Second,
		DualStack:     true,
		SASLMechanism: cfg.mechanism(),
	}
	var lastErr error
	for _, broker := range cfg.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("kafka: no broker reachable: %w", lastErr)
}
