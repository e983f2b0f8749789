package pricing

import (
	"slices"

	"github.com/ksred/klear-fx/internal/types"
)

// Price is the state of one currency pair: who listens and the last accepted rate
type Price struct {
	CcyPair       string           `json:"ccyPair"`
	Subscriptions []string         `json:"subscriptions"`
	LastPriceRate *types.PriceRate `json:"lastPriceRate,omitempty"`
}

func (p *Price) IsSubscribed(clientID string) bool {
	_, found := slices.BinarySearch(p.Subscriptions, clientID)
	return found
}

func (p *Price) HasSubscriptions() bool {
	return len(p.Subscriptions) > 0
}

// IsDuplicate reports whether rate repeats the prices of the last accepted rate
func (p *Price) IsDuplicate(rate types.PriceRate) bool {
	return p.LastPriceRate != nil && p.LastPriceRate.SamePrice(rate)
}

func (p *Price) apply(ev Event) {
	switch e := ev.(type) {
	case Subscribed:
		if i, found := slices.BinarySearch(p.Subscriptions, e.ClientID); !found {
			p.Subscriptions = slices.Insert(p.Subscriptions, i, e.ClientID)
		}
	case Unsubscribed:
		if i, found := slices.BinarySearch(p.Subscriptions, e.ClientID); found {
			p.Subscriptions = slices.Delete(p.Subscriptions, i, i+1)
		}
	case PriceRateAdded:
		rate := e.PriceRate
		p.LastPriceRate = &rate
	case FirstSubscribed, AllUnsubscribed:
		// signals only
	}
}

func (p *Price) clone() Price {
	out := Price{
		CcyPair:       p.CcyPair,
		Subscriptions: slices.Clone(p.Subscriptions),
	}
	if p.LastPriceRate != nil {
		rate := *p.LastPriceRate
		out.LastPriceRate = &rate
	}
	if out.Subscriptions == nil {
		out.Subscriptions = []string{}
	}
	return out
}
