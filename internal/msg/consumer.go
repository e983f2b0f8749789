package msg

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Consumer wraps a Kafka consumer group client
type Consumer struct {
	client     *kgo.Client
	logger     zerolog.Logger
	topics     []string
	group      string
	running    int32
	handled    int64
	errorCount int64
}

// NewConsumer creates a consumer for topics in group
func NewConsumer(brokers []string, clientID, group string, topics []string) (*Consumer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	logger := log.With().
		Str("component", "kafka_consumer").
		Str("group", group).
		Strs("topics", topics).
		Logger()
	logger.Info().Strs("brokers", brokers).Msg("consumer initialized")

	return &Consumer{
		client: client,
		logger: logger,
		topics: topics,
		group:  group,
	}, nil
}

// Run consumes records and calls handler for each until ctx is done.
// Offsets are committed only after the handler succeeds.
func (c *Consumer) Run(ctx context.Context, handler func(context.Context, Record) error) error {
	c.logger.Info().Msg("starting consumer")

	atomic.StoreInt32(&c.running, 1)
	defer atomic.StoreInt32(&c.running, 0)

	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			c.logger.Info().Msg("consumer stopping")
			return ctx.Err()
		}
		if fetches.IsClientClosed() {
			return fmt.Errorf("kafka client closed")
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("fetch error")
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			rec := Record{
				Topic:     record.Topic,
				Key:       string(record.Key),
				Value:     record.Value,
				Partition: record.Partition,
				Offset:    record.Offset,
				Timestamp: record.Timestamp.UnixMilli(),
			}

			if err := c.handleWithRetry(ctx, rec, handler); err != nil {
				c.logger.Error().
					Err(err).
					Str("topic", rec.Topic).
					Str("key", rec.Key).
					Int64("offset", rec.Offset).
					Msg("handler failed after retries")
				atomic.AddInt64(&c.errorCount, 1)
			} else {
				atomic.AddInt64(&c.handled, 1)
			}

			if err := c.client.CommitRecords(ctx, record); err != nil && ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("failed to commit offset")
			}
		}
	}
}

// handleWithRetry calls handler with bounded retries
func (c *Consumer) handleWithRetry(ctx context.Context, rec Record, handler func(context.Context, Record) error) error {
	maxRetries := 3
	backoff := 100 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err = handler(ctx, rec); err == nil {
			return nil
		}
		if attempt < maxRetries-1 {
			c.logger.Warn().
				Err(err).
				Str("topic", rec.Topic).
				Str("key", rec.Key).
				Int("attempt", attempt+1).
				Msg("handler failed, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("handler failed after %d attempts: %w", maxRetries, err)
}

// Close closes the consumer
func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
	c.logger.Info().
		Int64("handled", atomic.LoadInt64(&c.handled)).
		Int64("errors", atomic.LoadInt64(&c.errorCount)).
		Msg("consumer closed")
}

// IsRunning returns whether the consumer is running
func (c *Consumer) IsRunning() bool {
	return atomic.LoadInt32(&c.running) == 1
}
