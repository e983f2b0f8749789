package types

import "github.com/shopspring/decimal"

// ClientStateResponse is the public view of a client's subscription state
type ClientStateResponse struct {
	ClientID      string       `json:"clientId"`
	Subscriptions []string     `json:"subscriptions"`
	CreditStatus  CreditStatus `json:"creditStatus"`
	Status        string       `json:"status"`
	PendingPair   string       `json:"pendingPair,omitempty"`
}

// AcceptQuoteRequest is the body of a trade acceptance
type AcceptQuoteRequest struct {
	QuoteID     string  `json:"quotaId" binding:"required"`
	PriceRateID string  `json:"priceRateId" binding:"required"`
	ClientID    string  `json:"clientId" binding:"required"`
	Side        Side    `json:"side" binding:"required"`
	Quantity    float64 `json:"quantity" binding:"required,gt=0"`
}

// AcceptQuoteResponse carries the id of the booked trade
type AcceptQuoteResponse struct {
	TradeID string `json:"tradeId"`
}

// TradeStateResponse is the public view of a trade booking
type TradeStateResponse struct {
	TradeID        string         `json:"tradeId"`
	QuoteID        string         `json:"quotaId"`
	Status         TradeStatus    `json:"status"`
	PreTradeResult PreTradeResult `json:"preTradeResult,omitempty"`
}

// RateUpdateRequest is a simulated tick from the FX feed
type RateUpdateRequest struct {
	CcyPair     string          `json:"ccyPair" binding:"required"`
	Tenor       string          `json:"tenor"`
	Bid         decimal.Decimal `json:"bid"`
	Ask         decimal.Decimal `json:"ask"`
	Seq         int64           `json:"seq"`
	TsMs        int64           `json:"tsMs"`
	PriceRateID string          `json:"priceRateId,omitempty"`
}

// CreditUpdateRequest is a simulated credit status change
type CreditUpdateRequest struct {
	ClientID string       `json:"clientId" binding:"required"`
	Status   CreditStatus `json:"status" binding:"required"`
}
