package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/ksred/klear-fx/internal/metrics"
	"github.com/ksred/klear-fx/internal/runtime"
	"github.com/ksred/klear-fx/internal/types"
	"github.com/rs/zerolog/log"
)

var ErrNotSubscribed = errors.New("client not subscribed")

// CreditLookup resolves the last known credit status of clients.
// Clients it does not know are treated as UNKNOWN.
type CreditLookup interface {
	CreditStatuses(ctx context.Context, clientIDs []string) (map[string]types.CreditStatus, error)
}

// Service owns the price entity of every currency pair. Commands for a pair
// are applied one at a time and journaled before they take effect.
type Service struct {
	store  *runtime.Store
	arena  *runtime.Arena
	credit CreditLookup
	newID  func() string

	mu     sync.Mutex
	states map[string]*Price
}

func NewService(store *runtime.Store, credit CreditLookup) *Service {
	return &Service{
		store:  store,
		arena:  runtime.NewArena(Component, 16, 256),
		credit: credit,
		newID:  func() string { return uuid.New().String() },
		states: make(map[string]*Price),
	}
}

// Close stops accepting commands
func (s *Service) Close() {
	s.arena.Close()
}

// Subscribe adds clientID to the pair. Subscribing twice is a no-op.
// It returns the events recorded, if any.
func (s *Service) Subscribe(ctx context.Context, ccyPair, clientID string) ([]Event, error) {
	var emitted []Event
	err := s.arena.Do(ctx, ccyPair, func() error {
		state, err := s.load(ctx, ccyPair)
		if err != nil {
			return err
		}
		if state.IsSubscribed(clientID) {
			return nil
		}

		events := []Event{Subscribed{CcyPair: ccyPair, ClientID: clientID}}
		if !state.HasSubscriptions() {
			events = append(events, FirstSubscribed{CcyPair: ccyPair})
		}
		if err := s.persist(ctx, state, events); err != nil {
			return err
		}
		emitted = events
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(emitted) > 0 {
		log.Info().
			Str("component", "price_entity").
			Str("ccy_pair", ccyPair).
			Str("client_id", clientID).
			Int("events", len(emitted)).
			Msg("client subscribed")
	}
	return emitted, nil
}

// Unsubscribe removes clientID from the pair, failing with ErrNotSubscribed when absent
func (s *Service) Unsubscribe(ctx context.Context, ccyPair, clientID string) ([]Event, error) {
	var emitted []Event
	err := s.arena.Do(ctx, ccyPair, func() error {
		state, err := s.load(ctx, ccyPair)
		if err != nil {
			return err
		}
		if !state.IsSubscribed(clientID) {
			return fmt.Errorf("%w: %s on %s", ErrNotSubscribed, clientID, ccyPair)
		}

		events := []Event{Unsubscribed{CcyPair: ccyPair, ClientID: clientID}}
		if len(state.Subscriptions) == 1 {
			events = append(events, AllUnsubscribed{CcyPair: ccyPair})
		}
		if err := s.persist(ctx, state, events); err != nil {
			return err
		}
		emitted = events
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("component", "price_entity").
		Str("ccy_pair", ccyPair).
		Str("client_id", clientID).
		Int("events", len(emitted)).
		Msg("client unsubscribed")
	return emitted, nil
}

// RateUpdate accepts a rate for the pair and issues one quote per subscriber.
// It returns nil without error when the pair has no subscribers or the rate
// repeats the last accepted bid and ask. A missing PriceRateID is generated.
func (s *Service) RateUpdate(ctx context.Context, ccyPair string, rate types.PriceRate) (*PriceRateAdded, error) {
	logger := log.With().
		Str("component", "price_entity").
		Str("ccy_pair", ccyPair).
		Logger()

	var added *PriceRateAdded
	err := s.arena.Do(ctx, ccyPair, func() error {
		state, err := s.load(ctx, ccyPair)
		if err != nil {
			return err
		}
		if !state.HasSubscriptions() {
			logger.Debug().Msg("no subscribers, rate ignored")
			metrics.RateTicks.WithLabelValues("no_subscribers").Inc()
			return nil
		}
		if state.IsDuplicate(rate) {
			logger.Debug().
				Str("bid", rate.Bid.String()).
				Str("ask", rate.Ask.String()).
				Msg("duplicate rate ignored")
			metrics.RateTicks.WithLabelValues("duplicate").Inc()
			return nil
		}

		if rate.PriceRateID == "" {
			rate.PriceRateID = s.newID()
		}

		statuses, err := s.credit.CreditStatuses(ctx, state.Subscriptions)
		if err != nil {
			return fmt.Errorf("failed to resolve credit statuses: %w", err)
		}

		quotes := make([]types.ClientQuote, 0, len(state.Subscriptions))
		for _, clientID := range state.Subscriptions {
			status, ok := statuses[clientID]
			if !ok {
				status = types.CreditUnknown
			}
			quotes = append(quotes, types.ClientQuote{
				QuoteID:      s.newID(),
				ClientID:     clientID,
				CreditStatus: status,
			})
		}

		ev := PriceRateAdded{CcyPair: ccyPair, PriceRate: rate, Quotes: quotes}
		if err := s.persist(ctx, state, []Event{ev}); err != nil {
			return err
		}
		added = &ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	if added != nil {
		metrics.RateTicks.WithLabelValues("accepted").Inc()
		metrics.QuotesGenerated.Add(float64(len(added.Quotes)))
		logger.Info().
			Str("price_rate_id", added.PriceRate.PriceRateID).
			Int("quotes", len(added.Quotes)).
			Msg("price rate added")
	}
	return added, nil
}

// State returns a copy of the pair's current state
func (s *Service) State(ctx context.Context, ccyPair string) (Price, error) {
	var out Price
	err := s.arena.Do(ctx, ccyPair, func() error {
		state, err := s.load(ctx, ccyPair)
		if err != nil {
			return err
		}
		out = state.clone()
		return nil
	})
	return out, err
}

// Subscriptions returns the clients subscribed to the pair
func (s *Service) Subscriptions(ctx context.Context, ccyPair string) ([]string, error) {
	state, err := s.State(ctx, ccyPair)
	if err != nil {
		return nil, err
	}
	return state.Subscriptions, nil
}

// load returns the cached state of the pair, replaying its journal on first use.
// Callers must run on the pair's arena lane.
func (s *Service) load(ctx context.Context, ccyPair string) (*Price, error) {
	s.mu.Lock()
	state, ok := s.states[ccyPair]
	s.mu.Unlock()
	if ok {
		return state, nil
	}

	entries, err := s.store.Events(ctx, Component, ccyPair)
	if err != nil {
		return nil, fmt.Errorf("failed to load journal of %s: %w", ccyPair, err)
	}

	state = &Price{CcyPair: ccyPair}
	for _, entry := range entries {
		ev, err := DecodeEvent(entry)
		if err != nil {
			return nil, err
		}
		state.apply(ev)
	}

	s.mu.Lock()
	s.states[ccyPair] = state
	s.mu.Unlock()
	return state, nil
}

func (s *Service) persist(ctx context.Context, state *Price, events []Event) error {
	if err := s.store.Append(ctx, Component, state.CcyPair, records(events)...); err != nil {
		return fmt.Errorf("failed to persist %s events: %w", state.CcyPair, err)
	}
	for _, ev := range events {
		state.apply(ev)
	}
	return nil
}
