package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sjin4861/deepcatch-agent/internal/config"
	"github.com/sjin4861/deepcatch-agent/internal/phone"
)

// PlacementError indicates the carrier rejected or could not place a call.
// It is fatal for that call; the engine does not retry past the client's own
// retry budget.
type PlacementError struct {
	StatusCode int
	Message    string
}

func (e *PlacementError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("call placement rejected (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("call placement failed: %s", e.Message)
}

// Placement is the carrier's acknowledgement of a placed call.
type Placement struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// Client places calls against a Twilio-compatible API.
type Client struct {
	config     config.CarrierConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a call placement client.
func NewClient(cfg config.CarrierConfig, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.GetTimeoutDuration(),
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// PlaceCall validates the target number and asks the carrier to dial it.
// streamURL is the websocket endpoint the carrier connects its media stream
// to; statusURL receives lifecycle callbacks. In simulated mode no request
// is made and a synthetic SID is returned.
func (c *Client) PlaceCall(ctx context.Context, to, streamURL, statusURL string) (*Placement, error) {
	normalized, err := phone.Validate(to)
	if err != nil {
		return nil, &PlacementError{Message: err.Error()}
	}

	if c.config.Simulated() {
		p := &Placement{
			SID:    "SIM-" + uuid.NewString(),
			Status: StatusQueued,
		}
		c.logger.Info("simulated call placement",
			slog.String("call_sid", p.SID),
			slog.String("to", normalized))
		return p, nil
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &PlacementError{Message: ctx.Err().Error()}
			}
		}

		placement, err := c.doPlace(ctx, normalized, streamURL, statusURL)
		if err == nil {
			c.logger.Info("call placed",
				slog.String("call_sid", placement.SID),
				slog.String("to", normalized),
				slog.String("status", placement.Status))
			return placement, nil
		}

		lastErr = err
		if !isRetryable(err) {
			break
		}
		c.logger.Warn("call placement attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}

	if pe, ok := lastErr.(*PlacementError); ok {
		return nil, pe
	}
	return nil, &PlacementError{Message: lastErr.Error()}
}

func (c *Client) doPlace(ctx context.Context, to, streamURL, statusURL string) (*Placement, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.config.FromNumber)
	form.Set("Url", streamURL)
	if statusURL != "" {
		form.Set("StatusCallback", statusURL)
		for _, ev := range StatusCallbackEvents {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json",
		strings.TrimRight(c.config.BaseURL, "/"), c.config.AccountSID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create placement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.config.AccountSID, c.config.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("placement request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read placement response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &PlacementError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	var placement Placement
	if err := json.Unmarshal(body, &placement); err != nil {
		return nil, fmt.Errorf("failed to parse placement response: %w", err)
	}
	if placement.SID == "" {
		return nil, &PlacementError{Message: "carrier returned no call SID"}
	}

	return &placement, nil
}

// isRetryable reports whether a placement attempt is worth repeating.
// Carrier 4xx rejections are final; transport problems and 5xx are not.
func isRetryable(err error) bool {
	if pe, ok := err.(*PlacementError); ok {
		return pe.StatusCode >= 500 || pe.StatusCode == http.StatusTooManyRequests
	}

	msg := err.Error()
	return strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "refused")
}
