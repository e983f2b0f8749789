package quotes

import (
	"context"
	"fmt"
	"time"

	"github.com/ksred/klear-fx/internal/runtime"
	"github.com/ksred/klear-fx/internal/types"
	"github.com/rs/zerolog/log"
)

const broadcastBatch = 500

// Journal is the source the broadcast tails
type Journal interface {
	Head(ctx context.Context, component string) (uint, error)
	EntriesAfter(ctx context.Context, component string, after uint, limit int) ([]runtime.JournalEntry, error)
}

// Broadcast pushes every newly stored quote to the listeners of its client.
// It starts from the records present when it first runs and restarts with
// backoff when the journal read fails, resuming where it stopped.
type Broadcast struct {
	journal  Journal
	hub      *runtime.Hub[types.Quote]
	backoff  runtime.Backoff
	interval time.Duration

	primed   bool
	position uint
}

func NewBroadcast(journal Journal, backoff runtime.Backoff, interval time.Duration) *Broadcast {
	return &Broadcast{
		journal:  journal,
		hub:      runtime.NewHub[types.Quote](64),
		backoff:  backoff,
		interval: interval,
	}
}

// Start runs the broadcast until ctx is done
func (b *Broadcast) Start(ctx context.Context) {
	log.Info().Str("component", "quote_broadcast").Msg("starting quote broadcast")
	runtime.RestartWithBackoff(ctx, "quote-broadcast", b.backoff, b.stream)
}

// Subscribe returns the live quotes of clientID
func (b *Broadcast) Subscribe(clientID string) (<-chan types.Quote, func()) {
	return b.hub.Subscribe(clientID)
}

func (b *Broadcast) prime(ctx context.Context) error {
	if b.primed {
		return nil
	}
	head, err := b.journal.Head(ctx, Component)
	if err != nil {
		return fmt.Errorf("failed to read quote journal head: %w", err)
	}
	b.position = head
	b.primed = true
	return nil
}

func (b *Broadcast) stream(ctx context.Context) error {
	if err := b.prime(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		if err := b.drain(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Broadcast) drain(ctx context.Context) error {
	for {
		entries, err := b.journal.EntriesAfter(ctx, Component, b.position, broadcastBatch)
		if err != nil {
			return fmt.Errorf("failed to read quote journal: %w", err)
		}

		for _, entry := range entries {
			b.position = entry.ID
			rec, err := decodeRecord(entry)
			if err != nil {
				log.Error().Err(err).Str("component", "quote_broadcast").Msg("skipping unreadable quote record")
				continue
			}
			for _, cq := range rec.Quotes {
				b.hub.Publish(cq.ClientID, types.NewQuote(rec.CcyPair, rec.PriceRate, cq))
			}
		}

		if len(entries) < broadcastBatch {
			return nil
		}
	}
}
