// Package feed brings rate ticks and credit status changes into the system,
// from the simulate endpoints or from Kafka topics.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ksred/klear-fx/internal/msg"
	"github.com/ksred/klear-fx/internal/pricing"
	"github.com/ksred/klear-fx/internal/types"
	"github.com/rs/zerolog/log"
)

var ErrInvalidRate = errors.New("invalid rate")

// RatePricer accepts rate ticks for a pair
type RatePricer interface {
	RateUpdate(ctx context.Context, ccyPair string, rate types.PriceRate) (*pricing.PriceRateAdded, error)
}

// CreditUpdater takes credit status changes for a client
type CreditUpdater interface {
	CreditCheckStatus(ctx context.Context, clientID string, status types.CreditStatus) error
}

// StubFxRateService stands in for the upstream FX rate service and only logs
type StubFxRateService struct{}

func (StubFxRateService) Subscribe(ctx context.Context, instrument types.Instrument) error {
	log.Info().
		Str("component", "fx_rate_service").
		Str("ccy_pair", instrument.CcyPair).
		Str("tenor", instrument.Tenor).
		Msg("fx rate subscription requested")
	return nil
}

func (StubFxRateService) Unsubscribe(ctx context.Context, instrument types.Instrument) error {
	log.Info().
		Str("component", "fx_rate_service").
		Str("ccy_pair", instrument.CcyPair).
		Str("tenor", instrument.Tenor).
		Msg("fx rate unsubscription requested")
	return nil
}

// Processor turns raw ticks into price rates for the price entity
type Processor struct {
	prices RatePricer
}

func NewProcessor(prices RatePricer) *Processor {
	return &Processor{prices: prices}
}

// Process validates a tick and hands it to the pair's price entity.
// The tenor defaults to SPOT. It returns nil when the tick produced no quotes.
func (p *Processor) Process(ctx context.Context, req types.RateUpdateRequest) (*pricing.PriceRateAdded, error) {
	if !req.Bid.IsPositive() || !req.Ask.IsPositive() {
		return nil, fmt.Errorf("%w: bid and ask must be positive", ErrInvalidRate)
	}
	if req.Tenor == "" {
		req.Tenor = types.TenorSpot
	}

	rate := types.PriceRate{
		PriceRateID: req.PriceRateID,
		Tenor:       req.Tenor,
		Bid:         req.Bid,
		Ask:         req.Ask,
		Seq:         req.Seq,
		Timestamp:   req.TsMs,
	}
	return p.prices.RateUpdate(ctx, req.CcyPair, rate)
}

// Listener dispatches records from the rate and credit topics
type Listener struct {
	processor   *Processor
	credit      CreditUpdater
	rateTopic   string
	creditTopic string
}

func NewListener(processor *Processor, credit CreditUpdater, rateTopic, creditTopic string) *Listener {
	return &Listener{
		processor:   processor,
		credit:      credit,
		rateTopic:   rateTopic,
		creditTopic: creditTopic,
	}
}

// Topics returns the topics the listener consumes
func (l *Listener) Topics() []string {
	return []string{l.rateTopic, l.creditTopic}
}

// Handle processes one record. Malformed records are logged and dropped.
func (l *Listener) Handle(ctx context.Context, rec msg.Record) error {
	switch rec.Topic {
	case l.rateTopic:
		var ev msg.FxRateEvent
		if err := json.Unmarshal(rec.Value, &ev); err != nil {
			log.Warn().Err(err).Str("topic", rec.Topic).Int64("offset", rec.Offset).Msg("dropping malformed fx rate event")
			return nil
		}
		_, err := l.processor.Process(ctx, types.RateUpdateRequest{
			CcyPair: ev.Instrument.CcyPair,
			Tenor:   ev.Instrument.Tenor,
			Bid:     ev.Bid,
			Ask:     ev.Ask,
			Seq:     ev.Seq,
			TsMs:    ev.TsMs,
		})
		if errors.Is(err, ErrInvalidRate) {
			log.Warn().Err(err).Str("ccy_pair", ev.Instrument.CcyPair).Msg("dropping invalid fx rate event")
			return nil
		}
		return err

	case l.creditTopic:
		var ev msg.CreditStatusEvent
		if err := json.Unmarshal(rec.Value, &ev); err != nil || ev.ClientID == "" || !ev.Status.Valid() {
			log.Warn().Err(err).Str("topic", rec.Topic).Int64("offset", rec.Offset).Msg("dropping malformed credit status event")
			return nil
		}
		return l.credit.CreditCheckStatus(ctx, ev.ClientID, ev.Status)

	default:
		return nil
	}
}
