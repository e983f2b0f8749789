package msg

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer wraps a Kafka producer
type Producer struct {
	client       *kgo.Client
	produceCount int64
	errorCount   int64
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, clientID string) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	log.Info().Str("component", "kafka_producer").Strs("brokers", brokers).Msg("producer initialized")
	return &Producer{client: client}, nil
}

// ProduceJSON produces a JSON message to the specified topic
func (p *Producer) ProduceJSON(ctx context.Context, topic string, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	}

	produceCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.client.ProduceSync(produceCtx, record).FirstErr(); err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		return fmt.Errorf("failed to produce message: %w", err)
	}

	atomic.AddInt64(&p.produceCount, 1)
	return nil
}

// Close flushes and closes the producer
func (p *Producer) Close() {
	if p.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		log.Warn().Err(err).Str("component", "kafka_producer").Msg("failed to flush producer")
	}
	p.client.Close()
	log.Info().
		Str("component", "kafka_producer").
		Int64("produced", atomic.LoadInt64(&p.produceCount)).
		Int64("errors", atomic.LoadInt64(&p.errorCount)).
		Msg("producer closed")
}
