package types

// Side is the direction of a client trade
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// PreTradeResult is the outcome of the pre-trade credit gate
type PreTradeResult string

const (
	PreTradeOK                  PreTradeResult = "OK"
	PreTradeCreditCheckFailed   PreTradeResult = "CREDIT_CHECK_FAILED"
	PreTradeCreditStatusUnknown PreTradeResult = "CREDIT_STATUS_UNKNOWN"
)

// PreTradeResultFor maps a quote's credit status to the gate outcome
func PreTradeResultFor(status CreditStatus) PreTradeResult {
	switch status {
	case CreditOK:
		return PreTradeOK
	case CreditFail:
		return PreTradeCreditCheckFailed
	default:
		return PreTradeCreditStatusUnknown
	}
}

// TradeStatus is the lifecycle status of a booked trade
type TradeStatus string

const (
	TradeStatusPending       TradeStatus = "PENDING"
	TradeStatusPreTradeCheck TradeStatus = "PRE_TRADE_CHECK"
	TradeStatusHedging       TradeStatus = "HEDGING"
	TradeStatusConfirmed     TradeStatus = "CONFIRMED"
	TradeStatusRejected      TradeStatus = "REJECTED"
)

// Terminal reports whether no further transitions follow s
func (s TradeStatus) Terminal() bool {
	return s == TradeStatusConfirmed || s == TradeStatusRejected
}

// NotificationStatus is the outcome pushed to trade notification listeners
type NotificationStatus string

const (
	NotificationConfirmed NotificationStatus = "CONFIRMED"
	NotificationRejected  NotificationStatus = "REJECTED"
)

// TradeNotification is the terminal outcome of a trade booking.
// PreTradeResult is empty when the gate never ran.
type TradeNotification struct {
	QuoteID        string             `json:"quotaId"`
	TradeID        string             `json:"tradeId"`
	Side           Side               `json:"side,omitempty"`
	Quantity       float64            `json:"quantity"`
	PreTradeResult PreTradeResult     `json:"preTradeResult,omitempty"`
	Status         NotificationStatus `json:"status"`
}

// HedgeRequest is handed to the auto hedger after a trade passes the credit gate
type HedgeRequest struct {
	Instrument Instrument `json:"instrument"`
	Side       Side       `json:"side"`
	Quantity   float64    `json:"quantity"`
	TradeID    string     `json:"tradeId"`
}
