package pricing

import (
	"context"
	"time"

	"github.com/ksred/klear-fx/internal/runtime"
	"github.com/ksred/klear-fx/internal/types"
	"github.com/rs/zerolog/log"
)

// RateFeed is the upstream FX rate source a pair is subscribed on
type RateFeed interface {
	Subscribe(ctx context.Context, instrument types.Instrument) error
	Unsubscribe(ctx context.Context, instrument types.Instrument) error
}

// FeedManager keeps the upstream feed subscribed for exactly the pairs that have listeners
type FeedManager struct {
	feed RateFeed
}

func NewFeedManager(feed RateFeed) *FeedManager {
	return &FeedManager{feed: feed}
}

// Consumer follows the price journal and drives the feed from it
func (m *FeedManager) Consumer(store *runtime.Store, interval time.Duration) *runtime.Consumer {
	return runtime.NewConsumer(store, "price-feed-manager", Component, interval, m.Handle)
}

func (m *FeedManager) Handle(ctx context.Context, entry runtime.JournalEntry) error {
	ev, err := DecodeEvent(entry)
	if err != nil {
		return err
	}

	switch e := ev.(type) {
	case FirstSubscribed:
		instrument := types.Instrument{CcyPair: e.CcyPair, Tenor: types.TenorSpot}
		log.Info().Str("component", "feed_manager").Str("ccy_pair", e.CcyPair).Msg("subscribing to fx feed")
		return m.feed.Subscribe(ctx, instrument)
	case AllUnsubscribed:
		instrument := types.Instrument{CcyPair: e.CcyPair, Tenor: types.TenorSpot}
		log.Info().Str("component", "feed_manager").Str("ccy_pair", e.CcyPair).Msg("unsubscribing from fx feed")
		return m.feed.Unsubscribe(ctx, instrument)
	default:
		return nil
	}
}
