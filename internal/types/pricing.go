package types

import (
	"github.com/shopspring/decimal"
)

func init() {
	// Bid and ask travel as JSON numbers on the API and the wire.
	decimal.MarshalJSONWithoutQuotes = true
}

// CreditStatus is the last known credit standing of a client
type CreditStatus string

const (
	CreditUnknown CreditStatus = "UNKNOWN"
	CreditOK      CreditStatus = "OK"
	CreditFail    CreditStatus = "FAIL"
)

// Valid reports whether s is one of the known credit statuses
func (s CreditStatus) Valid() bool {
	switch s {
	case CreditUnknown, CreditOK, CreditFail:
		return true
	}
	return false
}

// TenorSpot is the only tenor the FX feed is subscribed with
const TenorSpot = "SPOT"

// Instrument identifies a tradable rate stream
type Instrument struct {
	CcyPair string `json:"ccyPair"`
	Tenor   string `json:"tenor"`
}

// PriceRate is a single accepted two-way price for a currency pair
type PriceRate struct {
	PriceRateID string          `json:"priceRateId"`
	Tenor       string          `json:"tenor"`
	Bid         decimal.Decimal `json:"bid"`
	Ask         decimal.Decimal `json:"ask"`
	Seq         int64           `json:"seq"`
	Timestamp   int64           `json:"timestamp"`
}

// SamePrice reports whether r carries the same bid and ask as other.
// Only the prices are compared, seq and timestamp are ignored.
func (r PriceRate) SamePrice(other PriceRate) bool {
	return r.Bid.Equal(other.Bid) && r.Ask.Equal(other.Ask)
}

// ClientQuote pairs a subscriber with the quote id issued to it for one price rate
type ClientQuote struct {
	QuoteID      string       `json:"quotaId"`
	ClientID     string       `json:"clientId"`
	CreditStatus CreditStatus `json:"creditStatus"`
}

// Quote is the tradable offer a client sees for one price rate
type Quote struct {
	QuoteID      string          `json:"quotaId"`
	PriceRateID  string          `json:"priceRateId"`
	ClientID     string          `json:"clientId"`
	CcyPair      string          `json:"ccyPair"`
	Tenor        string          `json:"tenor"`
	Bid          decimal.Decimal `json:"bid"`
	Ask          decimal.Decimal `json:"ask"`
	CreditStatus CreditStatus    `json:"creditStatus"`
	Timestamp    int64           `json:"timestamp"`
}

// NewQuote builds the quote a client receives for rate
func NewQuote(ccyPair string, rate PriceRate, cq ClientQuote) Quote {
	return Quote{
		QuoteID:      cq.QuoteID,
		PriceRateID:  rate.PriceRateID,
		ClientID:     cq.ClientID,
		CcyPair:      ccyPair,
		Tenor:        rate.Tenor,
		Bid:          rate.Bid,
		Ask:          rate.Ask,
		CreditStatus: cq.CreditStatus,
		Timestamp:    rate.Timestamp,
	}
}
