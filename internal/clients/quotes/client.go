package quotes

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/signal-sentinel/internal/domain"
)

// Client fetches quote snapshots from the configured market-data feed.
// One batched request per tick: the feed accepts a comma-separated symbol
// list and returns a snapshot per symbol.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new quote client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "quotes").Logger(),
	}
}

// quoteResponse is the feed's batch quote payload
type quoteResponse struct {
	Quotes []struct {
		Symbol        string  `json:"symbol"`
		Last          float64 `json:"last"`
		High          float64 `json:"high"`
		Change        float64 `json:"change"`
		ChangePercent float64 `json:"change_percent"`
		Volume        float64 `json:"volume"`
		AvgVolume     float64 `json:"avg_volume"`
	} `json:"quotes"`
	Error string `json:"error,omitempty"`
}

// FetchQuotes fetches snapshots for a batch of symbols. Symbols the feed
// does not know are simply absent from the result; callers treat a
// missing quote per rule, not per batch.
func (c *Client) FetchQuotes(symbols []string) ([]domain.Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Add("symbols", strings.Join(symbols, ","))

	reqURL := c.baseURL + "/v1/quotes?" + params.Encode()

	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("quote feed returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var result quoteResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse quote response: %w", err)
	}

	if result.Error != "" {
		return nil, fmt.Errorf("quote feed error: %s", result.Error)
	}

	out := make([]domain.Quote, 0, len(result.Quotes))
	for _, q := range result.Quotes {
		out = append(out, domain.Quote{
			Symbol:        strings.ToUpper(q.Symbol),
			Last:          q.Last,
			High:          q.High,
			Change:        q.Change,
			ChangePercent: q.ChangePercent,
			Volume:        q.Volume,
			AvgVolume:     q.AvgVolume,
		})
	}

	c.log.Debug().
		Int("requested", len(symbols)).
		Int("received", len(out)).
		Msg("Fetched quote batch")

	return out, nil
}
