package trading

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ksred/klear-fx/internal/quotes"
	"github.com/ksred/klear-fx/internal/types"
)

// LocalPricingClient reads quotes from the in-process quote store
type LocalPricingClient struct {
	quotes *quotes.Store
}

func NewLocalPricingClient(store *quotes.Store) *LocalPricingClient {
	return &LocalPricingClient{quotes: store}
}

func (c *LocalPricingClient) GetQuote(ctx context.Context, clientID, priceRateID string) (*types.Quote, error) {
	return c.quotes.Get(ctx, priceRateID, clientID)
}

// HTTPPricingClient reads quotes from a remote pricing service
type HTTPPricingClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPPricingClient(baseURL string, timeout time.Duration) *HTTPPricingClient {
	return &HTTPPricingClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPPricingClient) GetQuote(ctx context.Context, clientID, priceRateID string) (*types.Quote, error) {
	endpoint := fmt.Sprintf("%s/clients/%s/price-rate/%s/quota",
		c.baseURL, url.PathEscape(clientID), url.PathEscape(priceRateID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("pricing service returned %d", resp.StatusCode)
	}

	var quote types.Quote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}
	return &quote, nil
}
