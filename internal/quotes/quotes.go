package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ksred/klear-fx/internal/pricing"
	"github.com/ksred/klear-fx/internal/runtime"
	"github.com/ksred/klear-fx/internal/types"
	"github.com/rs/zerolog/log"
)

// Component is the journal name of quote records
const Component = "quote-record"

// Record is every quote issued for one price rate
type Record struct {
	CcyPair   string              `json:"ccyPair"`
	PriceRate types.PriceRate     `json:"priceRate"`
	Quotes    []types.ClientQuote `json:"quotes"`
}

// Quote returns the quote issued to clientID, if any
func (r *Record) Quote(clientID string) (*types.Quote, bool) {
	for _, cq := range r.Quotes {
		if cq.ClientID == clientID {
			q := types.NewQuote(r.CcyPair, r.PriceRate, cq)
			return &q, true
		}
	}
	return nil, false
}

// Store keeps quote records addressable by price rate id
type Store struct {
	store *runtime.Store
}

func NewStore(store *runtime.Store) *Store {
	return &Store{store: store}
}

// Add stores the record of a price rate, replacing any earlier one
func (s *Store) Add(ctx context.Context, ccyPair string, rate types.PriceRate, quotes []types.ClientQuote) error {
	rec := Record{CcyPair: ccyPair, PriceRate: rate, Quotes: quotes}
	if err := s.store.SaveSnapshot(ctx, Component, rate.PriceRateID, "", rec); err != nil {
		return fmt.Errorf("failed to store quotes of %s: %w", rate.PriceRateID, err)
	}
	return nil
}

// Get returns the quote clientID received for priceRateID, or nil when there is none
func (s *Store) Get(ctx context.Context, priceRateID, clientID string) (*types.Quote, error) {
	var rec Record
	found, err := s.store.LoadSnapshot(ctx, Component, priceRateID, &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	q, _ := rec.Quote(clientID)
	return q, nil
}

// Consumer copies every accepted price rate with quotes into the store
func (s *Store) Consumer(store *runtime.Store, interval time.Duration) *runtime.Consumer {
	return runtime.NewConsumer(store, "quote-record-store", pricing.Component, interval, s.Handle)
}

func (s *Store) Handle(ctx context.Context, entry runtime.JournalEntry) error {
	if entry.Kind != pricing.KindPriceRateAdded {
		return nil
	}
	ev, err := pricing.DecodeEvent(entry)
	if err != nil {
		return err
	}
	added := ev.(pricing.PriceRateAdded)
	if len(added.Quotes) == 0 {
		return nil
	}

	log.Debug().
		Str("component", "quote_store").
		Str("ccy_pair", added.CcyPair).
		Str("price_rate_id", added.PriceRate.PriceRateID).
		Int("quotes", len(added.Quotes)).
		Msg("storing quotes")
	return s.Add(ctx, added.CcyPair, added.PriceRate, added.Quotes)
}

func decodeRecord(entry runtime.JournalEntry) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(entry.Payload), &rec); err != nil {
		return rec, fmt.Errorf("failed to decode quote record %d: %w", entry.ID, err)
	}
	return rec, nil
}
