package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/ksred/klear-fx/internal/hedging"
	"github.com/ksred/klear-fx/internal/metrics"
	"github.com/ksred/klear-fx/internal/runtime"
	"github.com/ksred/klear-fx/internal/types"
	"github.com/rs/zerolog/log"
)

var (
	ErrQuoteNotFound = errors.New("quote not found")
	ErrNotStarted    = errors.New("trade not started")
)

const (
	stepPreTradeCheck = "pre-trade-check"
	stepTradeHedge    = "trade-hedge"
	stepFailover      = "failover"
)

// PricingClient resolves the quote a client received for a price rate.
// It returns nil without error when there is no such quote.
type PricingClient interface {
	GetQuote(ctx context.Context, clientID, priceRateID string) (*types.Quote, error)
}

// Service books trades against quotes: a credit gate, then a hedge, then a
// confirmation. Terminal outcomes are pushed to the trade's listeners.
type Service struct {
	store   *runtime.Store
	arena   *runtime.Arena
	runner  *runtime.Runner
	pricing PricingClient
	hedger  hedging.Hedger
	hub     *runtime.Hub[types.TradeNotification]
}

func NewService(store *runtime.Store, pricing PricingClient, hedger hedging.Hedger, settings runtime.WorkflowSettings) *Service {
	s := &Service{
		store:   store,
		arena:   runtime.NewArena(Component, 16, 256),
		pricing: pricing,
		hedger:  hedger,
		hub:     runtime.NewHub[types.TradeNotification](8),
	}
	s.runner = runtime.NewRunner(runtime.Workflow{
		Name:     "trade-booking",
		Settings: settings,
		Steps: map[string]runtime.StepFunc{
			stepPreTradeCheck: s.preTradeCheck,
			stepTradeHedge:    s.tradeHedge,
			stepFailover:      s.failover,
		},
		FailoverStep: stepFailover,
	})
	return s
}

// Recover resumes bookings that were interrupted mid-step
func (s *Service) Recover(ctx context.Context) error {
	pending, err := s.store.PendingSnapshots(ctx, Component)
	if err != nil {
		return fmt.Errorf("failed to load pending trades: %w", err)
	}
	for _, snap := range pending {
		log.Info().
			Str("component", "trade_workflow").
			Str("trade_id", snap.EntityKey).
			Str("step", snap.Step).
			Msg("resuming trade booking")
		s.runner.Start(snap.EntityKey, snap.Step)
	}
	return nil
}

// Wait blocks until running bookings settle
func (s *Service) Wait() {
	s.runner.Wait()
}

func (s *Service) Close() {
	s.runner.Stop()
	s.arena.Close()
}

// AcceptQuote starts booking a trade for the quote and returns its id.
// Accepting the same quote again returns the existing trade id.
func (s *Service) AcceptQuote(ctx context.Context, req types.AcceptQuoteRequest) (string, error) {
	tradeID := TradeID(req.ClientID, req.QuoteID)

	if _, found, err := s.booking(ctx, tradeID); err != nil {
		return "", err
	} else if found {
		return tradeID, nil
	}

	quote, err := s.pricing.GetQuote(ctx, req.ClientID, req.PriceRateID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve quote: %w", err)
	}
	if quote == nil || quote.QuoteID != req.QuoteID {
		return "", fmt.Errorf("%w: %s for %s on %s", ErrQuoteNotFound, req.QuoteID, req.ClientID, req.PriceRateID)
	}

	started := false
	err = s.arena.Do(ctx, tradeID, func() error {
		var existing Booking
		found, err := s.store.LoadSnapshot(ctx, Component, tradeID, &existing)
		if err != nil || found {
			return err
		}
		b := Booking{
			TradeID:  tradeID,
			Quote:    *quote,
			Side:     req.Side,
			Quantity: req.Quantity,
			Status:   types.TradeStatusPending,
			Step:     stepPreTradeCheck,
		}
		if err := s.save(ctx, b); err != nil {
			return err
		}
		started = true
		return nil
	})
	if err != nil {
		return "", err
	}

	if started {
		log.Info().
			Str("component", "trade_workflow").
			Str("trade_id", tradeID).
			Str("ccy_pair", quote.CcyPair).
			Str("side", string(req.Side)).
			Float64("quantity", req.Quantity).
			Msg("quote accepted")
		s.runner.Start(tradeID, stepPreTradeCheck)
	}
	return tradeID, nil
}

// State returns the booking, failing with ErrNotStarted for unknown trades
func (s *Service) State(ctx context.Context, tradeID string) (Booking, error) {
	b, found, err := s.booking(ctx, tradeID)
	if err != nil {
		return Booking{}, err
	}
	if !found {
		return Booking{}, fmt.Errorf("%w: %s", ErrNotStarted, tradeID)
	}
	return b, nil
}

// Notifications returns the live terminal outcomes of tradeID
func (s *Service) Notifications(tradeID string) (<-chan types.TradeNotification, func()) {
	return s.hub.Subscribe(tradeID)
}

func (s *Service) preTradeCheck(ctx context.Context, tradeID string) (string, error) {
	var next string
	var rejected *Booking
	err := s.transition(ctx, tradeID, func(b *Booking) {
		result := types.PreTradeResultFor(b.Quote.CreditStatus)
		b.PreTradeResult = result
		if result == types.PreTradeOK {
			b.Status = types.TradeStatusPreTradeCheck
			b.Step = stepTradeHedge
			next = stepTradeHedge
			return
		}
		b.Status = types.TradeStatusRejected
		b.Step = ""
		out := *b
		rejected = &out
	})
	if err != nil {
		return "", err
	}

	if rejected != nil {
		log.Info().
			Str("component", "trade_workflow").
			Str("trade_id", tradeID).
			Str("pre_trade_result", string(rejected.PreTradeResult)).
			Msg("trade rejected by pre-trade check")
		s.publish(*rejected, types.NotificationRejected)
	}
	return next, nil
}

func (s *Service) tradeHedge(ctx context.Context, tradeID string) (string, error) {
	b, err := s.State(ctx, tradeID)
	if err != nil {
		return "", err
	}
	if b.Status != types.TradeStatusHedging {
		err = s.transition(ctx, tradeID, func(b *Booking) {
			b.Status = types.TradeStatusHedging
		})
		if err != nil {
			return "", err
		}
	}

	req := types.HedgeRequest{
		Instrument: types.Instrument{CcyPair: b.Quote.CcyPair, Tenor: b.Quote.Tenor},
		Side:       b.Side,
		Quantity:   b.Quantity,
		TradeID:    tradeID,
	}
	if err := s.hedger.Submit(ctx, req); err != nil {
		return "", fmt.Errorf("failed to submit hedge: %w", err)
	}

	var confirmed Booking
	err = s.transition(ctx, tradeID, func(b *Booking) {
		b.Status = types.TradeStatusConfirmed
		b.Step = ""
		confirmed = *b
	})
	if err != nil {
		return "", err
	}

	log.Info().
		Str("component", "trade_workflow").
		Str("trade_id", tradeID).
		Msg("trade confirmed")
	s.publish(confirmed, types.NotificationConfirmed)
	return "", nil
}

// failover rejects the trade, keeping whatever pre-trade result was reached
func (s *Service) failover(ctx context.Context, tradeID string) (string, error) {
	var rejected Booking
	err := s.transition(ctx, tradeID, func(b *Booking) {
		b.Status = types.TradeStatusRejected
		b.Step = ""
		rejected = *b
	})
	if err != nil {
		return "", err
	}

	log.Warn().
		Str("component", "trade_workflow").
		Str("trade_id", tradeID).
		Str("pre_trade_result", string(rejected.PreTradeResult)).
		Msg("trade booking failed, rejecting")
	s.publish(rejected, types.NotificationRejected)
	return "", nil
}

func (s *Service) publish(b Booking, status types.NotificationStatus) {
	metrics.TradeOutcomes.WithLabelValues(string(status)).Inc()
	s.hub.Publish(b.TradeID, b.notification(status))
}

func (s *Service) booking(ctx context.Context, tradeID string) (Booking, bool, error) {
	var b Booking
	var found bool
	err := s.arena.Do(ctx, tradeID, func() error {
		var err error
		found, err = s.store.LoadSnapshot(ctx, Component, tradeID, &b)
		return err
	})
	return b, found, err
}

func (s *Service) transition(ctx context.Context, tradeID string, mutate func(b *Booking)) error {
	return s.arena.Do(ctx, tradeID, func() error {
		var b Booking
		found, err := s.store.LoadSnapshot(ctx, Component, tradeID, &b)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrNotStarted, tradeID)
		}
		mutate(&b)
		return s.save(ctx, b)
	})
}

func (s *Service) save(ctx context.Context, b Booking) error {
	if err := s.store.SaveSnapshot(ctx, Component, b.TradeID, b.Step, b); err != nil {
		return fmt.Errorf("failed to save trade %s: %w", b.TradeID, err)
	}
	return nil
}
