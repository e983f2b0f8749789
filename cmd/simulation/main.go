package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/klear-fx/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ccyPairs = []string{"EURUSD", "GBPUSD", "USDJPY", "AUDUSD"}
	mids     = map[string]decimal.Decimal{
		"EURUSD": decimal.RequireFromString("1.0850"),
		"GBPUSD": decimal.RequireFromString("1.2700"),
		"USDJPY": decimal.RequireFromString("151.20"),
		"AUDUSD": decimal.RequireFromString("0.6550"),
	}
	sides = []types.Side{types.SideBuy, types.SideSell}

	errNoQuote = errors.New("no quote")
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) record(d time.Duration, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if err != nil {
		rs.failures++
	}
}

// calculate returns min, max, mean, median, 95th and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]
	return
}

// simulationClient drives the API over HTTP
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	order     []string
	stats     map[string]*routeStats
}

func newSimulationClient(baseURL string) *simulationClient {
	return &simulationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		order:   []string{"auth", "subscribe", "credit", "state", "rate", "quote", "accept", "trade"},
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"subscribe": {name: "Subscribe"},
			"credit":    {name: "Credit Update"},
			"state":     {name: "Client State"},
			"rate":      {name: "Rate Update"},
			"quote":     {name: "Get Quote"},
			"accept":    {name: "Accept Quote"},
			"trade":     {name: "Trade State"},
		},
	}
}

// call sends a JSON request and decodes a 200 response into out.
// A 404 is reported as errNoQuote for the quote route.
func (sc *simulationClient) call(route, method, path string, in, out any) (err error) {
	start := time.Now()
	defer func() {
		if !errors.Is(err, errNoQuote) {
			sc.stats[route].record(time.Since(start), err)
		}
	}()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", route).Str("response", string(respBody)).Msg("API response")

	if route == "quote" && resp.StatusCode == http.StatusNotFound {
		return errNoQuote
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
		}
	}
	return nil
}

func (sc *simulationClient) authenticate(apiKey, apiSecret string) error {
	var result struct {
		Token string `json:"jwt_token"`
	}
	creds := map[string]string{"api_key": apiKey, "api_secret": apiSecret}
	if err := sc.call("auth", http.MethodPost, "/auth/token", creds, &result); err != nil {
		return err
	}
	sc.authToken = result.Token
	return nil
}

// waitIdle polls the client state until its workflow has settled
func (sc *simulationClient) waitIdle(clientID string) (*types.ClientStateResponse, error) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var st types.ClientStateResponse
		if err := sc.call("state", http.MethodGet, "/clients/"+clientID+"/state", nil, &st); err != nil {
			return nil, err
		}
		if st.Status == "IDLE" {
			return &st, nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil, fmt.Errorf("client %s did not settle", clientID)
}

// waitQuote polls until the quote store has caught up with the rate
func (sc *simulationClient) waitQuote(clientID, priceRateID string) (*types.Quote, error) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var q types.Quote
		err := sc.call("quote", http.MethodGet, "/clients/"+clientID+"/price-rate/"+priceRateID+"/quota", nil, &q)
		if err == nil {
			return &q, nil
		}
		if !errors.Is(err, errNoQuote) {
			return nil, err
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil, fmt.Errorf("no quote for %s on %s", clientID, priceRateID)
}

// waitTrade polls the trade until it is final
func (sc *simulationClient) waitTrade(tradeID string) (*types.TradeStateResponse, error) {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		var st types.TradeStateResponse
		if err := sc.call("trade", http.MethodGet, "/trades/"+tradeID, nil, &st); err != nil {
			return nil, err
		}
		if st.Status.Terminal() {
			return &st, nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil, fmt.Errorf("trade %s did not finish", tradeID)
}

func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, key := range sc.order {
		stats := sc.stats[key]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

type tally struct {
	mu       sync.Mutex
	outcomes map[string]int
	pairs    map[string]int
}

func (t *tally) add(ccyPair string, st *types.TradeStateResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := string(st.Status)
	if st.PreTradeResult != "" && st.PreTradeResult != types.PreTradeOK {
		key += " (" + string(st.PreTradeResult) + ")"
	}
	t.outcomes[key]++
	t.pairs[ccyPair]++
}

// runClient subscribes one client, sets its credit, then prices and trades rounds times
func runClient(sc *simulationClient, clientID string, status types.CreditStatus, rounds int, results *tally) {
	logger := log.With().Str("client_id", clientID).Logger()
	ccyPair := ccyPairs[rand.Intn(len(ccyPairs))]

	if err := sc.call("subscribe", http.MethodPost, "/clients/"+clientID+"/subscribe/"+ccyPair, nil, nil); err != nil {
		logger.Error().Err(err).Msg("Failed to subscribe")
		return
	}
	if _, err := sc.waitIdle(clientID); err != nil {
		logger.Error().Err(err).Msg("Subscription did not settle")
		return
	}
	credit := types.CreditUpdateRequest{ClientID: clientID, Status: status}
	if err := sc.call("credit", http.MethodPost, "/clients/simulate/credit-update", credit, nil); err != nil {
		logger.Error().Err(err).Msg("Failed to update credit")
		return
	}
	// the quote side reads credit through an eventually consistent view
	time.Sleep(300 * time.Millisecond)

	mid := mids[ccyPair]
	for i := 0; i < rounds; i++ {
		bps := decimal.NewFromInt(int64(rand.Intn(41) - 20)).Div(decimal.NewFromInt(10000))
		price := mid.Mul(decimal.NewFromInt(1).Add(bps)).Round(5)
		spread := price.Mul(decimal.RequireFromString("0.0001")).Round(5)

		rate := types.RateUpdateRequest{
			CcyPair:     ccyPair,
			Tenor:       types.TenorSpot,
			Bid:         price.Sub(spread),
			Ask:         price.Add(spread),
			Seq:         int64(i + 1),
			TsMs:        time.Now().UnixMilli(),
			PriceRateID: uuid.New().String(),
		}
		if err := sc.call("rate", http.MethodPost, "/clients/simulate/rate-update", rate, nil); err != nil {
			logger.Error().Err(err).Msg("Failed to publish rate")
			continue
		}

		quote, err := sc.waitQuote(clientID, rate.PriceRateID)
		if err != nil {
			// repeated prices and ticks shared with other clients of the pair produce no quote of our own
			logger.Debug().Err(err).Msg("No quote for rate")
			continue
		}

		accept := types.AcceptQuoteRequest{
			QuoteID:     quote.QuoteID,
			PriceRateID: quote.PriceRateID,
			ClientID:    clientID,
			Side:        sides[rand.Intn(len(sides))],
			Quantity:    float64((rand.Intn(50) + 1) * 100_000),
		}
		var accepted types.AcceptQuoteResponse
		if err := sc.call("accept", http.MethodPost, "/trades/accept", accept, &accepted); err != nil {
			logger.Error().Err(err).Msg("Failed to accept quote")
			continue
		}

		st, err := sc.waitTrade(accepted.TradeID)
		if err != nil {
			logger.Error().Err(err).Msg("Trade did not finish")
			continue
		}
		results.add(ccyPair, st)
		logger.Info().
			Str("trade_id", st.TradeID).
			Str("ccy_pair", ccyPair).
			Str("side", string(accept.Side)).
			Float64("quantity", accept.Quantity).
			Str("status", string(st.Status)).
			Msg("Trade finished")

		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
	}
}

// main runs a load simulation against a running server
func main() {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	clients := flag.Int("clients", 8, "number of simulated clients")
	rounds := flag.Int("rounds", 10, "rate ticks per client")
	failRatio := flag.Float64("fail-ratio", 0.25, "share of clients with failing credit")
	apiKey := flag.String("api-key", "", "API key, enables authentication when set")
	apiSecret := flag.String("api-secret", "", "API secret")
	flag.Parse()

	sc := newSimulationClient(*addr)
	if *apiKey != "" {
		if err := sc.authenticate(*apiKey, *apiSecret); err != nil {
			log.Fatal().Err(err).Msg("Failed to authenticate")
		}
	}

	results := &tally{outcomes: make(map[string]int), pairs: make(map[string]int)}
	start := time.Now()
	log.Info().Int("clients", *clients).Int("rounds", *rounds).Msg("Starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < *clients; i++ {
		status := types.CreditOK
		if rand.Float64() < *failRatio {
			status = types.CreditFail
		}
		wg.Add(1)
		go func(clientID string, status types.CreditStatus) {
			defer wg.Done()
			runClient(sc, clientID, status, *rounds, results)
		}(fmt.Sprintf("CLIENT_%d", i), status)
	}
	wg.Wait()

	duration := time.Since(start)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("FX SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	total := 0
	fmt.Println("\nTrade Outcomes")
	fmt.Println("--------------")
	for outcome, count := range results.outcomes {
		fmt.Printf("%-40s %d\n", outcome, count)
		total += count
	}

	fmt.Println("\nPair Distribution")
	fmt.Println("-----------------")
	for pair, count := range results.pairs {
		bar := strings.Repeat("#", int(float64(count)/float64(max(total, 1))*40))
		fmt.Printf("%-7s: %s (%d)\n", pair, bar, count)
	}
	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("trades", total).
		Int("confirmed", results.outcomes[string(types.TradeStatusConfirmed)]).
		Dur("duration", duration).
		Msg("Simulation completed")

	sc.printPerformanceStats()
}
