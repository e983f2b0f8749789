package hedging

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/klear-fx/internal/types"
	"github.com/rs/zerolog/log"
)

// Venue is a simulated liquidity provider hedges are routed to
type Venue struct {
	ID              string
	Name            string
	MinLatency      int // in milliseconds
	MaxLatency      int
	LiquidityFactor float64 // 0-1, share of the request the venue can usually fill
	SuccessRate     float64 // 0-1, probability of a fill
}

// Fill is a venue's execution of part of a hedge
type Fill struct {
	FillID   string
	VenueID  string
	TradeID  string
	Quantity float64
}

// DefaultVenues is the simulated liquidity pool
var DefaultVenues = []*Venue{
	{ID: "LP1", Name: "Primary Bank", MinLatency: 5, MaxLatency: 30, LiquidityFactor: 0.9, SuccessRate: 0.95},
	{ID: "LP2", Name: "Secondary Bank", MinLatency: 10, MaxLatency: 50, LiquidityFactor: 0.7, SuccessRate: 0.90},
	{ID: "ECN", Name: "ECN", MinLatency: 15, MaxLatency: 70, LiquidityFactor: 0.5, SuccessRate: 0.85},
}

// execute simulates one venue filling up to quantity
func (v *Venue) execute(ctx context.Context, rnd *rand.Rand, tradeID string, quantity float64) (*Fill, error) {
	logger := log.With().
		Str("venue_id", v.ID).
		Str("trade_id", tradeID).
		Float64("quantity", quantity).
		Logger()

	latency := rnd.Intn(v.MaxLatency-v.MinLatency+1) + v.MinLatency
	select {
	case <-time.After(time.Duration(latency) * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if rnd.Float64() > v.SuccessRate {
		logger.Warn().Float64("success_rate", v.SuccessRate).Msg("hedge rejected by venue")
		return nil, fmt.Errorf("hedge rejected on venue %s", v.ID)
	}

	filled := quantity
	if rnd.Float64() > v.LiquidityFactor {
		filled = quantity * v.LiquidityFactor
		logger.Debug().
			Float64("liquidity_factor", v.LiquidityFactor).
			Float64("filled", filled).
			Msg("partial fill due to liquidity")
	}

	return &Fill{
		FillID:   fmt.Sprintf("FILL-%s-%s", v.ID, uuid.New().String()[:8]),
		VenueID:  v.ID,
		TradeID:  tradeID,
		Quantity: filled,
	}, nil
}

// SimulatedHedger routes each hedge in the background across simulated venues
type SimulatedHedger struct {
	venues   []*Venue
	attempts int

	mu  sync.Mutex
	rnd *rand.Rand
	wg  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSimulatedHedger(venues []*Venue) *SimulatedHedger {
	ctx, cancel := context.WithCancel(context.Background())
	return &SimulatedHedger{
		venues:   venues,
		attempts: 3,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit hands the request to a background router and returns at once
func (h *SimulatedHedger) Submit(ctx context.Context, req types.HedgeRequest) error {
	if h.ctx.Err() != nil {
		return fmt.Errorf("hedger stopped")
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.route(req)
	}()
	return nil
}

// Close abandons routing in progress and waits for it to stop
func (h *SimulatedHedger) Close() {
	h.cancel()
	h.wg.Wait()
}

// Wait blocks until submitted hedges are routed
func (h *SimulatedHedger) Wait() {
	h.wg.Wait()
}

func (h *SimulatedHedger) route(req types.HedgeRequest) []*Fill {
	logger := log.With().
		Str("component", "auto_hedger").
		Str("trade_id", req.TradeID).
		Str("ccy_pair", req.Instrument.CcyPair).
		Str("side", string(req.Side)).
		Logger()

	remaining := req.Quantity
	var fills []*Fill
	for i := 0; i < h.attempts && remaining > 0; i++ {
		venue := h.pickVenue()
		fill, err := venue.execute(h.ctx, h.random(), req.TradeID, remaining)
		if err != nil {
			if h.ctx.Err() != nil {
				return fills
			}
			logger.Warn().Err(err).Str("venue_id", venue.ID).Msg("hedge attempt failed")
			continue
		}
		fills = append(fills, fill)
		remaining -= fill.Quantity
	}

	if len(fills) == 0 {
		logger.Error().Msg("hedge not filled on any venue")
		return nil
	}
	logger.Info().
		Int("fills", len(fills)).
		Float64("filled", req.Quantity-remaining).
		Float64("unfilled", remaining).
		Msg("hedge routed")
	return fills
}

// pickVenue selects a venue weighted by liquidity and success rate
func (h *SimulatedHedger) pickVenue() *Venue {
	total := 0.0
	for _, v := range h.venues {
		total += v.LiquidityFactor * v.SuccessRate
	}

	choice := h.random().Float64() * total
	current := 0.0
	for _, v := range h.venues {
		current += v.LiquidityFactor * v.SuccessRate
		if current >= choice {
			return v
		}
	}
	return h.venues[0]
}

// random returns a source private to the caller; rand.Rand is not safe for concurrent use
func (h *SimulatedHedger) random() *rand.Rand {
	h.mu.Lock()
	defer h.mu.Unlock()
	return rand.New(rand.NewSource(h.rnd.Int63()))
}
