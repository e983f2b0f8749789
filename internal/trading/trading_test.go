package trading

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ksred/klear-fx/internal/runtime"
	"github.com/ksred/klear-fx/internal/testutil"
	"github.com/ksred/klear-fx/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSettings = runtime.WorkflowSettings{StepTimeout: time.Second, MaxAttempts: 2, RetryDelay: 10 * time.Millisecond}

type fakePricing struct {
	quotes map[string]*types.Quote
}

func (f *fakePricing) GetQuote(ctx context.Context, clientID, priceRateID string) (*types.Quote, error) {
	return f.quotes[clientID+"/"+priceRateID], nil
}

type recordingHedger struct {
	mu       sync.Mutex
	requests []types.HedgeRequest
	err      error
}

func (h *recordingHedger) Submit(ctx context.Context, req types.HedgeRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, req)
	return h.err
}

func (h *recordingHedger) submitted() []types.HedgeRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.HedgeRequest(nil), h.requests...)
}

func testQuote(clientID string, status types.CreditStatus) *types.Quote {
	return &types.Quote{
		QuoteID:      "q1",
		PriceRateID:  "pr1",
		ClientID:     clientID,
		CcyPair:      "EURUSD",
		Tenor:        types.TenorSpot,
		Bid:          decimal.RequireFromString("1.1000"),
		Ask:          decimal.RequireFromString("1.1002"),
		CreditStatus: status,
	}
}

func newTestService(t *testing.T, status types.CreditStatus, hedger *recordingHedger) (*Service, *runtime.Store) {
	t.Helper()
	store := testutil.NewStore(t)
	pricing := &fakePricing{quotes: map[string]*types.Quote{"c1/pr1": testQuote("c1", status)}}
	svc := NewService(store, pricing, hedger, testSettings)
	t.Cleanup(svc.Close)
	return svc, store
}

func acceptRequest() types.AcceptQuoteRequest {
	return types.AcceptQuoteRequest{
		QuoteID:     "q1",
		PriceRateID: "pr1",
		ClientID:    "c1",
		Side:        types.SideBuy,
		Quantity:    1_000_000,
	}
}

func receive(t *testing.T, ch <-chan types.TradeNotification) types.TradeNotification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no trade notification")
		return types.TradeNotification{}
	}
}

func TestAcceptQuote_ConfirmsWhenCreditOK(t *testing.T) {
	hedger := &recordingHedger{}
	svc, _ := newTestService(t, types.CreditOK, hedger)

	updates, cancel := svc.Notifications(TradeID("c1", "q1"))
	defer cancel()

	tradeID, err := svc.AcceptQuote(context.Background(), acceptRequest())
	require.NoError(t, err)
	assert.Equal(t, "c1_q1", tradeID)

	n := receive(t, updates)
	assert.Equal(t, types.NotificationConfirmed, n.Status)
	assert.Equal(t, "q1", n.QuoteID)
	assert.Equal(t, tradeID, n.TradeID)
	assert.Equal(t, types.SideBuy, n.Side)
	assert.Equal(t, 1_000_000.0, n.Quantity)
	assert.Equal(t, types.PreTradeOK, n.PreTradeResult)

	svc.Wait()
	b, err := svc.State(context.Background(), tradeID)
	require.NoError(t, err)
	assert.Equal(t, types.TradeStatusConfirmed, b.Status)
	assert.Empty(t, b.Step)

	hedges := hedger.submitted()
	require.Len(t, hedges, 1)
	assert.Equal(t, types.Instrument{CcyPair: "EURUSD", Tenor: types.TenorSpot}, hedges[0].Instrument)
	assert.Equal(t, types.SideBuy, hedges[0].Side)
	assert.Equal(t, tradeID, hedges[0].TradeID)
}

// gatedHedger holds every submission until release is closed
type gatedHedger struct {
	release chan struct{}
}

func (h *gatedHedger) Submit(ctx context.Context, req types.HedgeRequest) error {
	select {
	case <-h.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func journaledStatuses(t *testing.T, store *runtime.Store, tradeID string) []types.TradeStatus {
	t.Helper()
	entries, err := store.Events(context.Background(), Component, tradeID)
	require.NoError(t, err)

	var statuses []types.TradeStatus
	for _, entry := range entries {
		if entry.Kind != runtime.KindState {
			continue
		}
		var b Booking
		require.NoError(t, json.Unmarshal([]byte(entry.Payload), &b))
		statuses = append(statuses, b.Status)
	}
	return statuses
}

func TestAcceptQuote_StatusProgression(t *testing.T) {
	store := testutil.NewStore(t)
	pricing := &fakePricing{quotes: map[string]*types.Quote{"c1/pr1": testQuote("c1", types.CreditOK)}}
	hedger := &gatedHedger{release: make(chan struct{})}
	svc := NewService(store, pricing, hedger, testSettings)
	defer svc.Close()
	ctx := context.Background()

	tradeID, err := svc.AcceptQuote(ctx, acceptRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b, err := svc.State(ctx, tradeID)
		return err == nil && b.Status == types.TradeStatusHedging
	}, 2*time.Second, 5*time.Millisecond)

	b, err := svc.State(ctx, tradeID)
	require.NoError(t, err)
	assert.Equal(t, types.PreTradeOK, b.PreTradeResult)
	assert.Equal(t, stepTradeHedge, b.Step)

	close(hedger.release)
	svc.Wait()

	assert.Equal(t, []types.TradeStatus{
		types.TradeStatusPending,
		types.TradeStatusPreTradeCheck,
		types.TradeStatusHedging,
		types.TradeStatusConfirmed,
	}, journaledStatuses(t, store, tradeID))
}

func TestAcceptQuote_RejectsOnCreditStatus(t *testing.T) {
	cases := []struct {
		status types.CreditStatus
		result types.PreTradeResult
	}{
		{types.CreditFail, types.PreTradeCreditCheckFailed},
		{types.CreditUnknown, types.PreTradeCreditStatusUnknown},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			hedger := &recordingHedger{}
			svc, _ := newTestService(t, tc.status, hedger)

			updates, cancel := svc.Notifications(TradeID("c1", "q1"))
			defer cancel()

			_, err := svc.AcceptQuote(context.Background(), acceptRequest())
			require.NoError(t, err)

			n := receive(t, updates)
			assert.Equal(t, types.NotificationRejected, n.Status)
			assert.Equal(t, tc.result, n.PreTradeResult)
			assert.Empty(t, n.Side)

			svc.Wait()
			b, err := svc.State(context.Background(), "c1_q1")
			require.NoError(t, err)
			assert.Equal(t, types.TradeStatusRejected, b.Status)
			assert.Empty(t, hedger.submitted())
		})
	}
}

func TestAcceptQuote_UnknownQuote(t *testing.T) {
	svc, _ := newTestService(t, types.CreditOK, &recordingHedger{})

	req := acceptRequest()
	req.PriceRateID = "missing"
	_, err := svc.AcceptQuote(context.Background(), req)
	assert.ErrorIs(t, err, ErrQuoteNotFound)

	req = acceptRequest()
	req.QuoteID = "other"
	_, err = svc.AcceptQuote(context.Background(), req)
	assert.ErrorIs(t, err, ErrQuoteNotFound)
}

func TestAcceptQuote_Idempotent(t *testing.T) {
	hedger := &recordingHedger{}
	svc, _ := newTestService(t, types.CreditOK, hedger)

	first, err := svc.AcceptQuote(context.Background(), acceptRequest())
	require.NoError(t, err)
	svc.Wait()

	second, err := svc.AcceptQuote(context.Background(), acceptRequest())
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, first, second)
	assert.Len(t, hedger.submitted(), 1)
}

func TestAcceptQuote_HedgeFailureRejects(t *testing.T) {
	hedger := &recordingHedger{err: errors.New("venue down")}
	svc, _ := newTestService(t, types.CreditOK, hedger)

	updates, cancel := svc.Notifications(TradeID("c1", "q1"))
	defer cancel()

	_, err := svc.AcceptQuote(context.Background(), acceptRequest())
	require.NoError(t, err)

	n := receive(t, updates)
	assert.Equal(t, types.NotificationRejected, n.Status)
	assert.Equal(t, types.PreTradeOK, n.PreTradeResult)

	svc.Wait()
	assert.Len(t, hedger.submitted(), testSettings.MaxAttempts)

	b, err := svc.State(context.Background(), "c1_q1")
	require.NoError(t, err)
	assert.Equal(t, types.TradeStatusRejected, b.Status)
}

func TestState_NotStarted(t *testing.T) {
	svc, _ := newTestService(t, types.CreditOK, &recordingHedger{})

	_, err := svc.State(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestRecover_ResumesPendingHedge(t *testing.T) {
	store := testutil.NewStore(t)
	b := Booking{
		TradeID:        "c1_q1",
		Quote:          *testQuote("c1", types.CreditOK),
		Side:           types.SideSell,
		Quantity:       500,
		PreTradeResult: types.PreTradeOK,
		Status:         types.TradeStatusHedging,
		Step:           stepTradeHedge,
	}
	require.NoError(t, store.SaveSnapshot(context.Background(), Component, b.TradeID, b.Step, b))

	hedger := &recordingHedger{}
	svc := NewService(store, &fakePricing{}, hedger, testSettings)
	defer svc.Close()

	require.NoError(t, svc.Recover(context.Background()))
	svc.Wait()

	got, err := svc.State(context.Background(), "c1_q1")
	require.NoError(t, err)
	assert.Equal(t, types.TradeStatusConfirmed, got.Status)
	require.Len(t, hedger.submitted(), 1)
	assert.Equal(t, types.SideSell, hedger.submitted()[0].Side)
}
