package trading

import (
	"time"

	"github.com/ksred/klear-fx/internal/types"
)

// Component is the journal name of trade booking state
const Component = "trade"

// Booking is the state of one trade booking.
// Step is the workflow step still to run, empty once the trade is final.
type Booking struct {
	TradeID        string               `json:"tradeId"`
	Quote          types.Quote          `json:"quote"`
	Side           types.Side           `json:"side"`
	Quantity       float64              `json:"quantity"`
	PreTradeResult types.PreTradeResult `json:"preTradeResult,omitempty"`
	Status         types.TradeStatus    `json:"status"`
	Step           string               `json:"step,omitempty"`
}

// TradeID derives the trade id for a client accepting a quote
func TradeID(clientID, quoteID string) string {
	return clientID + "_" + quoteID
}

// Response is the public shape of the booking
func (b Booking) Response() types.TradeStateResponse {
	return types.TradeStateResponse{
		TradeID:        b.TradeID,
		QuoteID:        b.Quote.QuoteID,
		Status:         b.Status,
		PreTradeResult: b.PreTradeResult,
	}
}

func (b Booking) notification(status types.NotificationStatus) types.TradeNotification {
	n := types.TradeNotification{
		QuoteID:        b.Quote.QuoteID,
		TradeID:        b.TradeID,
		PreTradeResult: b.PreTradeResult,
		Status:         status,
	}
	if status == types.NotificationConfirmed {
		n.Side = b.Side
		n.Quantity = b.Quantity
	}
	return n
}

// TradeEntry is a row of the trades by client view
type TradeEntry struct {
	TradeID        string    `gorm:"primaryKey" json:"tradeId"`
	ClientID       string    `gorm:"index;not null" json:"clientId"`
	CcyPair        string    `json:"ccyPair"`
	Side           string    `json:"side"`
	Quantity       float64   `json:"quantity"`
	Status         string    `gorm:"index" json:"status"`
	PreTradeResult string    `json:"preTradeResult"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"-"`
}

func entryFor(b Booking) TradeEntry {
	return TradeEntry{
		TradeID:        b.TradeID,
		ClientID:       b.Quote.ClientID,
		CcyPair:        b.Quote.CcyPair,
		Side:           string(b.Side),
		Quantity:       b.Quantity,
		Status:         string(b.Status),
		PreTradeResult: string(b.PreTradeResult),
	}
}
