package trading

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ksred/klear-fx/internal/runtime"
	"gorm.io/gorm"
)

// TradesByClient lists the trades of each client. It trails the booking
// journal and pushes every row change to the client's listeners.
type TradesByClient struct {
	db  *Database
	hub *runtime.Hub[TradeEntry]
}

func NewTradesByClient(db *gorm.DB) *TradesByClient {
	return &TradesByClient{
		db:  NewDatabase(db),
		hub: runtime.NewHub[TradeEntry](32),
	}
}

// Trades returns the client's trades, oldest first
func (v *TradesByClient) Trades(ctx context.Context, clientID string) ([]TradeEntry, error) {
	return v.db.GetClientTrades(ctx, clientID)
}

// Subscribe returns live row updates for clientID
func (v *TradesByClient) Subscribe(clientID string) (<-chan TradeEntry, func()) {
	return v.hub.Subscribe(clientID)
}

// Consumer follows booking state changes into the view
func (v *TradesByClient) Consumer(store *runtime.Store, interval time.Duration) *runtime.Consumer {
	return runtime.NewConsumer(store, "trades-by-client", Component, interval, v.Handle)
}

func (v *TradesByClient) Handle(ctx context.Context, entry runtime.JournalEntry) error {
	if entry.Kind != runtime.KindState {
		return nil
	}
	var b Booking
	if err := json.Unmarshal([]byte(entry.Payload), &b); err != nil {
		return fmt.Errorf("failed to decode trade state %d: %w", entry.ID, err)
	}

	row := entryFor(b)
	if err := v.db.UpsertTrade(ctx, &row); err != nil {
		return err
	}
	v.hub.Publish(row.ClientID, row)
	return nil
}
