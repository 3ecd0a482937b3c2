package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/yugo-dao/yugo-sync/pkg/config"
)

// ErrNoBrokers is returned when a producer is built without seed brokers
var ErrNoBrokers = errors.New("kafka: no brokers configured")

// Message is anything that can be keyed onto a topic
type Message interface {
	Key() string
}

// Producer publishes JSON-encoded records synchronously
type Producer struct {
	client *kgo.Client
}

// ProducerConfig holds producer settings
type ProducerConfig struct {
	Brokers  []string
	ClientID string
}

// FromConfig converts the application kafka section
func FromConfig(c *config.KafkaConfig) *ProducerConfig {
	return &ProducerConfig{Brokers: c.Brokers, ClientID: c.ClientID}
}

// NewProducer creates a franz-go client configured for idempotent produce
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Producer{client: client}, nil
}

// Produce writes one record and waits for the broker ack
func (p *Producer) Produce(ctx context.Context, topic string, key string, value []byte) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}
	return nil
}

// ProduceMessage JSON-encodes msg and produces it under msg.Key()
func (p *Producer) ProduceMessage(ctx context.Context, topic string, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.Produce(ctx, topic, msg.Key(), value)
}

// Ping checks broker reachability
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes pending records and closes the client
func (p *Producer) Close() {
	p.client.Close()
}
