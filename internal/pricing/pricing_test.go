package pricing

import (
	"context"
	"sync"
	"testing"

	"github.com/ksred/klear-fx/internal/runtime"
	"github.com/ksred/klear-fx/internal/testutil"
	"github.com/ksred/klear-fx/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type creditTable struct {
	mu       sync.Mutex
	statuses map[string]types.CreditStatus
}

func (c *creditTable) set(clientID string, status types.CreditStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[clientID] = status
}

func (c *creditTable) CreditStatuses(ctx context.Context, clientIDs []string) (map[string]types.CreditStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]types.CreditStatus)
	for _, id := range clientIDs {
		if s, ok := c.statuses[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func newTestService(t *testing.T) (*Service, *runtime.Store, *creditTable) {
	t.Helper()
	store := testutil.NewStore(t)
	credit := &creditTable{statuses: make(map[string]types.CreditStatus)}
	svc := NewService(store, credit)
	t.Cleanup(svc.Close)
	return svc, store, credit
}

func rate(bid, ask string) types.PriceRate {
	return types.PriceRate{
		Tenor:     types.TenorSpot,
		Bid:       decimal.RequireFromString(bid),
		Ask:       decimal.RequireFromString(ask),
		Seq:       1,
		Timestamp: 1700000000000,
	}
}

func kinds(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Kind()
	}
	return out
}

func TestSubscribe_FirstSubscriberSignalsFirstSubscribed(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	events, err := svc.Subscribe(ctx, "EURUSD", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{KindSubscribed, KindFirstSubscribed}, kinds(events))

	events, err = svc.Subscribe(ctx, "EURUSD", "c2")
	require.NoError(t, err)
	assert.Equal(t, []string{KindSubscribed}, kinds(events))
}

func TestSubscribe_IsIdempotent(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Subscribe(ctx, "EURUSD", "c1")
	require.NoError(t, err)
	events, err := svc.Subscribe(ctx, "EURUSD", "c1")
	require.NoError(t, err)
	assert.Empty(t, events)

	journal, err := store.Events(ctx, Component, "EURUSD")
	require.NoError(t, err)
	assert.Len(t, journal, 2)

	subs, err := svc.Subscriptions(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, subs)
}

func TestUnsubscribe_NotSubscribed(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Unsubscribe(ctx, "EURUSD", "c1")
	assert.ErrorIs(t, err, ErrNotSubscribed)

	journal, err := store.Events(ctx, Component, "EURUSD")
	require.NoError(t, err)
	assert.Empty(t, journal)
}

func TestUnsubscribe_LastSubscriberSignalsAllUnsubscribed(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, c := range []string{"c1", "c2"} {
		_, err := svc.Subscribe(ctx, "EURUSD", c)
		require.NoError(t, err)
	}

	events, err := svc.Unsubscribe(ctx, "EURUSD", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{KindUnsubscribed}, kinds(events))

	events, err = svc.Unsubscribe(ctx, "EURUSD", "c2")
	require.NoError(t, err)
	assert.Equal(t, []string{KindUnsubscribed, KindAllUnsubscribed}, kinds(events))

	state, err := svc.State(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Empty(t, state.Subscriptions)
}

func TestRateUpdate_IgnoredWithoutSubscribers(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	added, err := svc.RateUpdate(ctx, "EURUSD", rate("1.1050", "1.1055"))
	require.NoError(t, err)
	assert.Nil(t, added)

	journal, err := store.Events(ctx, Component, "EURUSD")
	require.NoError(t, err)
	assert.Empty(t, journal)

	state, err := svc.State(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Nil(t, state.LastPriceRate)
}

func TestRateUpdate_QuotesEverySubscriberWithCreditStatus(t *testing.T) {
	svc, _, credit := newTestService(t)
	ctx := context.Background()
	credit.set("c1", types.CreditOK)

	for _, c := range []string{"c1", "c2"} {
		_, err := svc.Subscribe(ctx, "EURUSD", c)
		require.NoError(t, err)
	}

	added, err := svc.RateUpdate(ctx, "EURUSD", rate("1.1050", "1.1055"))
	require.NoError(t, err)
	require.NotNil(t, added)

	assert.NotEmpty(t, added.PriceRate.PriceRateID)
	require.Len(t, added.Quotes, 2)

	byClient := map[string]types.ClientQuote{}
	for _, q := range added.Quotes {
		byClient[q.ClientID] = q
	}
	assert.Equal(t, types.CreditOK, byClient["c1"].CreditStatus)
	assert.Equal(t, types.CreditUnknown, byClient["c2"].CreditStatus)
	assert.NotEqual(t, byClient["c1"].QuoteID, byClient["c2"].QuoteID)
}

func TestRateUpdate_KeepsSuppliedPriceRateID(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Subscribe(ctx, "EURUSD", "c1")
	require.NoError(t, err)

	r := rate("1.1050", "1.1055")
	r.PriceRateID = "pr-1"
	added, err := svc.RateUpdate(ctx, "EURUSD", r)
	require.NoError(t, err)
	require.NotNil(t, added)
	assert.Equal(t, "pr-1", added.PriceRate.PriceRateID)
}

func TestRateUpdate_DeduplicatesOnBidAndAsk(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Subscribe(ctx, "EURUSD", "c1")
	require.NoError(t, err)

	first, err := svc.RateUpdate(ctx, "EURUSD", rate("1.1050", "1.1055"))
	require.NoError(t, err)
	require.NotNil(t, first)

	// same prices written differently, new seq and timestamp
	again := rate("1.105", "1.10550")
	again.Seq = 2
	again.Timestamp++
	dup, err := svc.RateUpdate(ctx, "EURUSD", again)
	require.NoError(t, err)
	assert.Nil(t, dup)

	moved, err := svc.RateUpdate(ctx, "EURUSD", rate("1.1051", "1.1055"))
	require.NoError(t, err)
	require.NotNil(t, moved)

	journal, err := store.Events(ctx, Component, "EURUSD")
	require.NoError(t, err)
	added := 0
	for _, e := range journal {
		if e.Kind == KindPriceRateAdded {
			added++
		}
	}
	assert.Equal(t, 2, added)
}

func TestService_ReplaysJournalOnLoad(t *testing.T) {
	store := testutil.NewStore(t)
	credit := &creditTable{statuses: map[string]types.CreditStatus{}}
	ctx := context.Background()

	first := NewService(store, credit)
	_, err := first.Subscribe(ctx, "EURUSD", "c1")
	require.NoError(t, err)
	_, err = first.Subscribe(ctx, "EURUSD", "c2")
	require.NoError(t, err)
	_, err = first.Unsubscribe(ctx, "EURUSD", "c1")
	require.NoError(t, err)
	_, err = first.RateUpdate(ctx, "EURUSD", rate("1.1050", "1.1055"))
	require.NoError(t, err)
	first.Close()

	second := NewService(store, credit)
	defer second.Close()

	state, err := second.State(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, state.Subscriptions)
	require.NotNil(t, state.LastPriceRate)
	assert.True(t, state.LastPriceRate.Bid.Equal(decimal.RequireFromString("1.1050")))

	// the replayed last rate still deduplicates
	dup, err := second.RateUpdate(ctx, "EURUSD", rate("1.1050", "1.1055"))
	require.NoError(t, err)
	assert.Nil(t, dup)
}

type recordingFeed struct {
	subscribed   []types.Instrument
	unsubscribed []types.Instrument
}

func (f *recordingFeed) Subscribe(ctx context.Context, i types.Instrument) error {
	f.subscribed = append(f.subscribed, i)
	return nil
}

func (f *recordingFeed) Unsubscribe(ctx context.Context, i types.Instrument) error {
	f.unsubscribed = append(f.unsubscribed, i)
	return nil
}

func TestFeedManager_FollowsFirstAndLastSubscriber(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	feed := &recordingFeed{}
	consumer := NewFeedManager(feed).Consumer(store, 0)

	_, err := svc.Subscribe(ctx, "EURUSD", "c1")
	require.NoError(t, err)
	_, err = svc.Subscribe(ctx, "EURUSD", "c2")
	require.NoError(t, err)
	_, err = consumer.Poll(ctx)
	require.NoError(t, err)

	assert.Equal(t, []types.Instrument{{CcyPair: "EURUSD", Tenor: types.TenorSpot}}, feed.subscribed)
	assert.Empty(t, feed.unsubscribed)

	_, err = svc.Unsubscribe(ctx, "EURUSD", "c1")
	require.NoError(t, err)
	_, err = svc.Unsubscribe(ctx, "EURUSD", "c2")
	require.NoError(t, err)
	_, err = consumer.Poll(ctx)
	require.NoError(t, err)

	assert.Equal(t, []types.Instrument{{CcyPair: "EURUSD", Tenor: types.TenorSpot}}, feed.unsubscribed)
}
