package automation

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DeliveryResult captures the outcome of one webhook attempt. Any 2xx
// status counts as delivered; everything else keeps the status and body
// for the decision record.
type DeliveryResult struct {
	OK         bool
	StatusCode int
	Body       string
}

// Deliverer posts an instruction line to a webhook destination
type Deliverer interface {
	Deliver(url, payload string) (DeliveryResult, error)
}

// WebhookClient is the outbound delivery client. Single attempt, no retry:
// a failed delivery is recorded on the decision and left for the operator.
type WebhookClient struct {
	client *http.Client
	log    zerolog.Logger
}

// NewWebhookClient creates a new webhook client
func NewWebhookClient(log zerolog.Logger) *WebhookClient {
	return &WebhookClient{
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.With().Str("component", "webhook").Logger(),
	}
}

// Deliver posts the payload as plain text. The error return is for
// transport failures only; a non-2xx response is reported through the
// result.
func (c *WebhookClient) Deliver(url, payload string) (DeliveryResult, error) {
	resp, err := c.client.Post(url, "text/plain", strings.NewReader(payload))
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	result := DeliveryResult{
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}

	if !result.OK {
		c.log.Warn().
			Int("status", result.StatusCode).
			Str("body", result.Body).
			Msg("Webhook delivery rejected")
	}

	return result, nil
}

// FormatEntry renders the entry instruction line. The shape is consumed
// by an external automation platform and must not change.
func FormatEntry(symbol string, lastPrice, targetPrice, stopLoss float64) string {
	return fmt.Sprintf("enter sym=%s lp=%.2f tp=%.2f sl=%.2f", symbol, lastPrice, targetPrice, stopLoss)
}

// FormatExit renders the exit instruction line, with an optional target
func FormatExit(symbol, reason string, targetPrice *float64) string {
	line := fmt.Sprintf("exit sym=%s reason=%q", symbol, reason)
	if targetPrice != nil {
		line += fmt.Sprintf(" tp=%.2f", *targetPrice)
	}
	return line
}
