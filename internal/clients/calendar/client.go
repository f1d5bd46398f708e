// Package calendar provides the trading-calendar client used for holding-day
// calculations.
package calendar

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Client fetches trading-day counts from the calendar service. The calendar is
// advisory: when the service is not configured or unreachable, callers get an
// estimate instead of an error.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new calendar client. baseURL may be empty, in which case
// all lookups fall back to the estimate.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		log:     log.With().Str("client", "calendar").Logger(),
	}
}

const dateLayout = "2006-01-02"

// TradingDaysBetween returns the number of trading days in (from, to].
// Never fails: if the calendar service cannot answer, returns an estimate of
// five trading days per seven calendar days.
func (c *Client) TradingDaysBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}

	if c.baseURL != "" {
		if days, err := c.fetch(from, to); err == nil {
			return days
		} else {
			c.log.Warn().Err(err).Msg("Calendar lookup failed, using estimate")
		}
	}

	return estimateTradingDays(from, to)
}

func (c *Client) fetch(from, to time.Time) (int, error) {
	reqURL := fmt.Sprintf("%s/trading-days?from=%s&to=%s",
		c.baseURL,
		url.QueryEscape(from.Format(dateLayout)),
		url.QueryEscape(to.Format(dateLayout)))

	resp, err := c.client.Get(reqURL)
	if err != nil {
		return 0, fmt.Errorf("calendar request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("calendar service returned status %d", resp.StatusCode)
	}

	var result struct {
		Days int `json:"days"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to parse calendar response: %w", err)
	}
	if result.Days < 0 {
		return 0, fmt.Errorf("calendar service returned negative day count %d", result.Days)
	}

	return result.Days, nil
}

// estimateTradingDays approximates trading days as 5/7 of calendar days.
func estimateTradingDays(from, to time.Time) int {
	calendarDays := int(to.Sub(from).Hours() / 24)
	return calendarDays * 5 / 7
}
