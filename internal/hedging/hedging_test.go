package hedging

import (
	"context"
	"testing"
	"time"

	"github.com/ksred/klear-fx/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reliableVenues() []*Venue {
	return []*Venue{
		{ID: "A", Name: "A", MinLatency: 1, MaxLatency: 2, LiquidityFactor: 1, SuccessRate: 1},
		{ID: "B", Name: "B", MinLatency: 1, MaxLatency: 2, LiquidityFactor: 1, SuccessRate: 1},
	}
}

func hedgeRequest() types.HedgeRequest {
	return types.HedgeRequest{
		Instrument: types.Instrument{CcyPair: "EURUSD", Tenor: types.TenorSpot},
		Side:       types.SideBuy,
		Quantity:   1000,
		TradeID:    "c1_q1",
	}
}

func TestSimulatedHedger_RouteFillsFully(t *testing.T) {
	h := NewSimulatedHedger(reliableVenues())
	defer h.Close()

	fills := h.route(hedgeRequest())
	require.Len(t, fills, 1)
	assert.Equal(t, 1000.0, fills[0].Quantity)
	assert.Equal(t, "c1_q1", fills[0].TradeID)
}

func TestSimulatedHedger_RouteGivesUpOnDeadVenues(t *testing.T) {
	h := NewSimulatedHedger([]*Venue{
		{ID: "X", Name: "X", MinLatency: 1, MaxLatency: 1, LiquidityFactor: 1, SuccessRate: 0},
	})
	defer h.Close()

	assert.Empty(t, h.route(hedgeRequest()))
}

func TestSimulatedHedger_SubmitDoesNotWaitForFill(t *testing.T) {
	h := NewSimulatedHedger([]*Venue{
		{ID: "SLOW", Name: "Slow", MinLatency: 200, MaxLatency: 200, LiquidityFactor: 1, SuccessRate: 1},
	})

	start := time.Now()
	require.NoError(t, h.Submit(context.Background(), hedgeRequest()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	h.Close()
	assert.Error(t, h.Submit(context.Background(), hedgeRequest()))
}

func TestSimulatedHedger_PickVenueStaysInPool(t *testing.T) {
	venues := reliableVenues()
	h := NewSimulatedHedger(venues)
	defer h.Close()

	for i := 0; i < 50; i++ {
		assert.Contains(t, venues, h.pickVenue())
	}
}

func TestStubHedger_Accepts(t *testing.T) {
	assert.NoError(t, StubHedger{}.Submit(context.Background(), hedgeRequest()))
}
