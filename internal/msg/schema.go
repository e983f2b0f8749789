package msg

import (
	"github.com/ksred/klear-fx/internal/types"
	"github.com/shopspring/decimal"
)

// Default topic names
const (
	TopicFxRates      = "fx-rate-events"
	TopicCreditChecks = "credit-check-events"
	TopicHedges       = "hedge-requests"
)

// FxRateEvent is a tick published by the FX rate service
type FxRateEvent struct {
	Instrument types.Instrument `json:"instrument"`
	Bid        decimal.Decimal  `json:"bid"`
	Ask        decimal.Decimal  `json:"ask"`
	Seq        int64            `json:"seq"`
	TsMs       int64            `json:"tsMs"`
}

// CreditStatusEvent is a credit status change published by the credit check service
type CreditStatusEvent struct {
	ClientID string             `json:"clientId"`
	Status   types.CreditStatus `json:"status"`
	Reason   string             `json:"reason,omitempty"`
	TsMs     int64              `json:"tsMs"`
}
