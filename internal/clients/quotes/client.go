// Package quotes provides the price oracle client used for order pricing and
// portfolio valuation.
package quotes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnavailable is returned when the oracle cannot resolve a price for an
// instrument (unknown code, suspended instrument, or upstream outage).
var ErrUnavailable = errors.New("quote unavailable")

// Provider resolves the current market price of an instrument.
type Provider interface {
	GetCurrentPrice(code string) (float64, error)
}

// Client fetches quotes from the HTTP quote service.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new quote service client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		log:     log.With().Str("client", "quotes").Logger(),
	}
}

// GetCurrentPrice fetches the current price for an instrument code.
// Returns ErrUnavailable (wrapped) when no tradable price exists.
func (c *Client) GetCurrentPrice(code string) (float64, error) {
	reqURL := fmt.Sprintf("%s/quote?code=%s", c.baseURL, url.QueryEscape(code))
	c.log.Debug().Str("url", reqURL).Msg("Fetching quote")

	resp, err := c.client.Get(reqURL)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("%w: unknown code %s", ErrUnavailable, code)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: quote service returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var result struct {
		Code  string  `json:"code"`
		Price float64 `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("%w: failed to parse response: %v", ErrUnavailable, err)
	}

	if result.Price <= 0 {
		return 0, fmt.Errorf("%w: non-positive price %.4f for %s", ErrUnavailable, result.Price, code)
	}

	return result.Price, nil
}
