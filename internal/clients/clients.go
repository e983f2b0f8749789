package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/ksred/klear-fx/internal/metrics"
	"github.com/ksred/klear-fx/internal/pricing"
	"github.com/ksred/klear-fx/internal/runtime"
	"github.com/ksred/klear-fx/internal/types"
	"github.com/rs/zerolog/log"
)

var ErrBusy = errors.New("client busy")

const (
	stepSubscribePriceRate   = "subscribe-price-rate"
	stepSubscribeCreditCheck = "subscribe-credit-check"
	stepUnsubscribePriceRate = "unsubscribe-price-rate"
	stepUnsubscribeCredit    = "unsubscribe-credit-check"
	stepComplete             = "complete"
	stepFailover             = "failover"
)

// PriceSubscriber is the price entity as seen by the client workflow
type PriceSubscriber interface {
	Subscribe(ctx context.Context, ccyPair, clientID string) ([]pricing.Event, error)
	Unsubscribe(ctx context.Context, ccyPair, clientID string) ([]pricing.Event, error)
}

// Service runs the subscription workflow of every client. Commands for a
// client are serialized; the subscription set is updated up front and the
// external registrations follow as workflow steps.
type Service struct {
	store  *runtime.Store
	arena  *runtime.Arena
	runner *runtime.Runner
	prices PriceSubscriber
	credit CreditCheck
}

func NewService(store *runtime.Store, prices PriceSubscriber, credit CreditCheck, settings runtime.WorkflowSettings) *Service {
	s := &Service{
		store:  store,
		arena:  runtime.NewArena(Component, 16, 256),
		prices: prices,
		credit: credit,
	}
	s.runner = runtime.NewRunner(runtime.Workflow{
		Name:     "client-subscription",
		Settings: settings,
		Steps: map[string]runtime.StepFunc{
			stepSubscribePriceRate:   s.checkpoint(s.subscribePriceRate),
			stepSubscribeCreditCheck: s.checkpoint(s.subscribeCreditCheck),
			stepUnsubscribePriceRate: s.checkpoint(s.unsubscribePriceRate),
			stepUnsubscribeCredit:    s.checkpoint(s.unsubscribeCreditCheck),
			stepComplete:             s.complete,
			stepFailover:             s.failover,
		},
		FailoverStep: stepFailover,
	})
	return s
}

// Recover resumes workflows that were interrupted mid-step
func (s *Service) Recover(ctx context.Context) error {
	pending, err := s.store.PendingSnapshots(ctx, Component)
	if err != nil {
		return fmt.Errorf("failed to load pending client workflows: %w", err)
	}
	for _, snap := range pending {
		log.Info().
			Str("component", "client_workflow").
			Str("client_id", snap.EntityKey).
			Str("step", snap.Step).
			Msg("resuming client workflow")
		s.runner.Start(snap.EntityKey, snap.Step)
	}
	return nil
}

// Wait blocks until running workflows settle
func (s *Service) Wait() {
	s.runner.Wait()
}

// Close stops running workflows, keeping their pending steps, and the command lane
func (s *Service) Close() {
	s.runner.Stop()
	s.arena.Close()
}

// Subscribe adds ccyPair to the client's subscriptions and starts registering it
func (s *Service) Subscribe(ctx context.Context, clientID, ccyPair string) error {
	started := false
	err := s.arena.Do(ctx, clientID, func() error {
		st, err := s.load(ctx, clientID)
		if err != nil {
			return err
		}

		// held or already being added
		if st.IsSubscribed(ccyPair) {
			return nil
		}
		if st.Status != StatusIdle {
			return fmt.Errorf("%w: %s is %s %s", ErrBusy, clientID, st.Status, st.PendingPair)
		}

		st.addSubscription(ccyPair)
		st.Status = StatusSubscribing
		st.PendingPair = ccyPair
		st.Step = stepSubscribePriceRate
		if err := s.save(ctx, st); err != nil {
			return err
		}
		started = true
		return nil
	})
	if err != nil {
		return err
	}

	if started {
		log.Info().
			Str("component", "client_workflow").
			Str("client_id", clientID).
			Str("ccy_pair", ccyPair).
			Msg("subscribing client")
		metrics.ClientTransitions.WithLabelValues(string(StatusSubscribing)).Inc()
		s.runner.Start(clientID, stepSubscribePriceRate)
	}
	return nil
}

// Unsubscribe removes ccyPair from the client's subscriptions and starts deregistering it.
// Removing a pair the client does not hold is a no-op.
func (s *Service) Unsubscribe(ctx context.Context, clientID, ccyPair string) error {
	started := false
	err := s.arena.Do(ctx, clientID, func() error {
		st, err := s.load(ctx, clientID)
		if err != nil {
			return err
		}

		// not held, or already being removed
		if !st.IsSubscribed(ccyPair) {
			return nil
		}
		if st.Status != StatusIdle {
			return fmt.Errorf("%w: %s is %s %s", ErrBusy, clientID, st.Status, st.PendingPair)
		}

		st.removeSubscription(ccyPair)
		st.Status = StatusUnsubscribing
		st.PendingPair = ccyPair
		st.Step = stepUnsubscribePriceRate
		if err := s.save(ctx, st); err != nil {
			return err
		}
		started = true
		return nil
	})
	if err != nil {
		return err
	}

	if started {
		log.Info().
			Str("component", "client_workflow").
			Str("client_id", clientID).
			Str("ccy_pair", ccyPair).
			Msg("unsubscribing client")
		metrics.ClientTransitions.WithLabelValues(string(StatusUnsubscribing)).Inc()
		s.runner.Start(clientID, stepUnsubscribePriceRate)
	}
	return nil
}

// CreditCheckStatus records the client's latest credit status. It is refused
// with ErrBusy while a subscription change is in flight.
func (s *Service) CreditCheckStatus(ctx context.Context, clientID string, status types.CreditStatus) error {
	return s.arena.Do(ctx, clientID, func() error {
		st, err := s.load(ctx, clientID)
		if err != nil {
			return err
		}
		if st.Status != StatusIdle {
			return fmt.Errorf("%w: %s is %s %s", ErrBusy, clientID, st.Status, st.PendingPair)
		}

		st.CreditStatus = status
		if err := s.save(ctx, st); err != nil {
			return err
		}
		log.Info().
			Str("component", "client_workflow").
			Str("client_id", clientID).
			Str("credit_status", string(status)).
			Msg("credit status updated")
		return nil
	})
}

// State returns the client's current state, the initial state for unknown clients
func (s *Service) State(ctx context.Context, clientID string) (State, error) {
	var out State
	err := s.arena.Do(ctx, clientID, func() error {
		st, err := s.load(ctx, clientID)
		if err != nil {
			return err
		}
		out = st
		return nil
	})
	return out, err
}

func (s *Service) subscribePriceRate(ctx context.Context, st State) (string, error) {
	if _, err := s.prices.Subscribe(ctx, st.PendingPair, st.ClientID); err != nil {
		return "", err
	}
	return stepSubscribeCreditCheck, nil
}

func (s *Service) subscribeCreditCheck(ctx context.Context, st State) (string, error) {
	if err := s.credit.Subscribe(ctx, st.ClientID); err != nil {
		return "", err
	}
	return stepComplete, nil
}

func (s *Service) unsubscribePriceRate(ctx context.Context, st State) (string, error) {
	_, err := s.prices.Unsubscribe(ctx, st.PendingPair, st.ClientID)
	if errors.Is(err, pricing.ErrNotSubscribed) {
		// an earlier attempt already went through
		log.Debug().
			Str("component", "client_workflow").
			Str("client_id", st.ClientID).
			Str("ccy_pair", st.PendingPair).
			Msg("price entity already unsubscribed")
		err = nil
	}
	if err != nil {
		return "", err
	}
	return stepUnsubscribeCredit, nil
}

func (s *Service) unsubscribeCreditCheck(ctx context.Context, st State) (string, error) {
	if err := s.credit.Unsubscribe(ctx, st.ClientID); err != nil {
		return "", err
	}
	return stepComplete, nil
}

func (s *Service) complete(ctx context.Context, clientID string) (string, error) {
	err := s.transition(ctx, clientID, func(st *State) {
		log.Info().
			Str("component", "client_workflow").
			Str("client_id", clientID).
			Str("status", string(st.Status)).
			Str("ccy_pair", st.PendingPair).
			Msg("subscription change completed")
		st.toIdle()
	})
	if err != nil {
		return "", err
	}
	metrics.ClientTransitions.WithLabelValues(string(StatusIdle)).Inc()
	return "", nil
}

// failover returns the client to Idle. The subscription set keeps the change
// made when the command was accepted.
func (s *Service) failover(ctx context.Context, clientID string) (string, error) {
	err := s.transition(ctx, clientID, func(st *State) {
		log.Warn().
			Str("component", "client_workflow").
			Str("client_id", clientID).
			Str("status", string(st.Status)).
			Str("ccy_pair", st.PendingPair).
			Msg("subscription change failed, returning to idle")
		st.toIdle()
	})
	if err != nil {
		return "", err
	}
	metrics.ClientTransitions.WithLabelValues(string(StatusIdle)).Inc()
	return "", nil
}

// checkpoint wraps a step so that, once it succeeds, the next step is saved for recovery
func (s *Service) checkpoint(fn func(ctx context.Context, st State) (string, error)) runtime.StepFunc {
	return func(ctx context.Context, clientID string) (string, error) {
		st, err := s.State(ctx, clientID)
		if err != nil {
			return "", err
		}
		next, err := fn(ctx, st)
		if err != nil {
			return "", err
		}
		if err := s.transition(ctx, clientID, func(st *State) { st.Step = next }); err != nil {
			return "", err
		}
		return next, nil
	}
}

func (s *Service) transition(ctx context.Context, clientID string, mutate func(st *State)) error {
	return s.arena.Do(ctx, clientID, func() error {
		st, err := s.load(ctx, clientID)
		if err != nil {
			return err
		}
		mutate(&st)
		return s.save(ctx, st)
	})
}

func (s *Service) load(ctx context.Context, clientID string) (State, error) {
	st := initialState(clientID)
	if _, err := s.store.LoadSnapshot(ctx, Component, clientID, &st); err != nil {
		return st, fmt.Errorf("failed to load client %s: %w", clientID, err)
	}
	if st.Subscriptions == nil {
		st.Subscriptions = []string{}
	}
	return st, nil
}

func (s *Service) save(ctx context.Context, st State) error {
	if err := s.store.SaveSnapshot(ctx, Component, st.ClientID, st.Step, st); err != nil {
		return fmt.Errorf("failed to save client %s: %w", st.ClientID, err)
	}
	return nil
}
