package pricing

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ksred/klear-fx/internal/runtime"
	"github.com/ksred/klear-fx/internal/types"
)

// Component is the journal name of the price entity
const Component = "price"

const (
	KindSubscribed      = "subscribed"
	KindFirstSubscribed = "first-subscribed"
	KindUnsubscribed    = "unsubscribed"
	KindAllUnsubscribed = "all-unsubscribed"
	KindPriceRateAdded  = "price-rate-added"
)

var ErrUnknownEvent = errors.New("unknown price event")

// Event is one fact recorded by the price entity of a currency pair
type Event interface {
	Kind() string
}

type Subscribed struct {
	CcyPair  string `json:"ccyPair"`
	ClientID string `json:"clientId"`
}

// FirstSubscribed follows the Subscribed that took the set from empty to one
type FirstSubscribed struct {
	CcyPair string `json:"ccyPair"`
}

type Unsubscribed struct {
	CcyPair  string `json:"ccyPair"`
	ClientID string `json:"clientId"`
}

// AllUnsubscribed follows the Unsubscribed that emptied the set
type AllUnsubscribed struct {
	CcyPair string `json:"ccyPair"`
}

// PriceRateAdded records an accepted rate and the quote issued to every subscriber
type PriceRateAdded struct {
	CcyPair   string              `json:"ccyPair"`
	PriceRate types.PriceRate     `json:"priceRate"`
	Quotes    []types.ClientQuote `json:"quotes"`
}

func (Subscribed) Kind() string      { return KindSubscribed }
func (FirstSubscribed) Kind() string { return KindFirstSubscribed }
func (Unsubscribed) Kind() string    { return KindUnsubscribed }
func (AllUnsubscribed) Kind() string { return KindAllUnsubscribed }
func (PriceRateAdded) Kind() string  { return KindPriceRateAdded }

func records(events []Event) []runtime.Record {
	out := make([]runtime.Record, len(events))
	for i, ev := range events {
		out[i] = runtime.Record{Kind: ev.Kind(), Payload: ev}
	}
	return out
}

// DecodeEvent rebuilds the event stored in a journal entry
func DecodeEvent(entry runtime.JournalEntry) (Event, error) {
	switch entry.Kind {
	case KindSubscribed:
		return decode[Subscribed](entry)
	case KindFirstSubscribed:
		return decode[FirstSubscribed](entry)
	case KindUnsubscribed:
		return decode[Unsubscribed](entry)
	case KindAllUnsubscribed:
		return decode[AllUnsubscribed](entry)
	case KindPriceRateAdded:
		return decode[PriceRateAdded](entry)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, entry.Kind)
	}
}

func decode[E Event](entry runtime.JournalEntry) (Event, error) {
	var ev E
	if err := json.Unmarshal([]byte(entry.Payload), &ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s event %d: %w", entry.Kind, entry.ID, err)
	}
	return ev, nil
}
