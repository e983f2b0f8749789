package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/ksred/klear-fx/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler processes one journal entry
type Handler func(ctx context.Context, entry JournalEntry) error

const (
	consumerBatch      = 100
	handlerMaxAttempts = 3
	handlerBackoff     = 100 * time.Millisecond
)

// Consumer follows the journal of a component from a durable position
type Consumer struct {
	store     *Store
	name      string
	component string
	interval  time.Duration
	handler   Handler
	logger    zerolog.Logger
}

func NewConsumer(store *Store, name, component string, interval time.Duration, handler Handler) *Consumer {
	return &Consumer{
		store:     store,
		name:      name,
		component: component,
		interval:  interval,
		handler:   handler,
		logger: log.With().
			Str("component", "consumer").
			Str("consumer", name).
			Str("source", component).
			Logger(),
	}
}

// Start polls the journal until ctx is done
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info().Msg("starting consumer")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("shutting down consumer")
			return
		case <-ticker.C:
			for {
				n, err := c.Poll(ctx)
				if err != nil {
					if ctx.Err() == nil {
						c.logger.Error().Err(err).Msg("failed to poll journal")
					}
					break
				}
				if n < consumerBatch {
					break
				}
			}
		}
	}
}

// Poll handles the next batch of entries and returns how many were read
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	position, err := c.store.LoadPosition(ctx, c.name)
	if err != nil {
		return 0, fmt.Errorf("failed to load position: %w", err)
	}

	entries, err := c.store.EntriesAfter(ctx, c.component, position, consumerBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to read journal: %w", err)
	}

	for _, entry := range entries {
		start := time.Now()
		if err := c.handleWithRetry(ctx, entry); err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			c.logger.Error().
				Err(err).
				Uint("entry_id", entry.ID).
				Str("key", entry.EntityKey).
				Str("kind", entry.Kind).
				Msg("handler failed after retries, skipping entry")
			metrics.ConsumerFailures.WithLabelValues(c.name).Inc()
		}
		metrics.ConsumerLatency.WithLabelValues(c.name).Observe(time.Since(start).Seconds())

		if err := c.store.SavePosition(ctx, c.name, entry.ID); err != nil {
			return 0, fmt.Errorf("failed to save position: %w", err)
		}
	}

	return len(entries), nil
}

func (c *Consumer) handleWithRetry(ctx context.Context, entry JournalEntry) error {
	backoff := handlerBackoff
	var err error
	for attempt := 0; attempt < handlerMaxAttempts; attempt++ {
		if err = c.handler(ctx, entry); err == nil {
			return nil
		}
		if attempt < handlerMaxAttempts-1 {
			c.logger.Warn().
				Err(err).
				Uint("entry_id", entry.ID).
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
	return fmt.Errorf("handler failed after %d attempts: %w", handlerMaxAttempts, err)
}
