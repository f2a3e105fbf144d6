// Package backend is the HTTP client for the balance, pre-trade check and
// order persistence services.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-engine/internal/config"
	apperrors "market-engine/internal/errors"
	"market-engine/internal/logging"
	"market-engine/internal/order"
	"market-engine/internal/resilience"
)

// Endpoint paths.
const (
	PathLedgerBalance      = "/getLedgerBalance"
	PathCheckBeforeTrade   = "/checkBeforeTrade"
	PathCheckBeforePending = "/checkBeforeTradeForPending"
	PathSaveOrder          = "/saveOrder"
)

const maxResponseBytes = 1 << 20

// Client calls the backend services. Every call has its own timeout and
// goes through a per-endpoint circuit breaker. Transport failures,
// timeouts, 5xx responses and open circuits all wrap ErrNetwork.
type Client struct {
	baseURL  string
	timeout  time.Duration
	http     *http.Client
	breakers *resilience.Registry
	logger   zerolog.Logger
}

// NewClient creates a backend client from configuration.
func NewClient(cfg config.BackendConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger = logging.WithComponent(logger, "backend")
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
		breakers: resilience.NewRegistry(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			ResetTimeout:     cfg.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.CircuitState) {
				logger.Warn().
					Str("endpoint", name).
					Str("from", string(from)).
					Str("to", string(to)).
					Msg("Circuit breaker state changed")
			},
		}),
		logger: logger,
	}
}

// Breakers returns the client's circuit breakers.
func (c *Client) Breakers() *resilience.Registry {
	return c.breakers
}

// LedgerBalance returns the margin available to userID.
func (c *Client) LedgerBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	path := PathLedgerBalance + "?userId=" + url.QueryEscape(userID)
	body, err := c.do(ctx, http.MethodGet, PathLedgerBalance, path, nil)
	if err != nil {
		return decimal.Zero, err
	}
	return parseBalance(body)
}

// CheckBeforeTrade runs the pre-trade check for a market order.
func (c *Client) CheckBeforeTrade(ctx context.Context, p order.Payload) (string, error) {
	return c.post(ctx, PathCheckBeforeTrade, p)
}

// CheckBeforeTradeForPending runs the pre-trade check for a limit order.
func (c *Client) CheckBeforeTradeForPending(ctx context.Context, p order.Payload) (string, error) {
	return c.post(ctx, PathCheckBeforePending, p)
}

// SaveOrder persists an approved order.
func (c *Client) SaveOrder(ctx context.Context, p order.Payload) (string, error) {
	return c.post(ctx, PathSaveOrder, p)
}

func (c *Client) post(ctx context.Context, path string, p order.Payload) (string, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, path, path, payload)
	if err != nil {
		return "", err
	}
	return responseText(body), nil
}

func (c *Client) do(ctx context.Context, method, endpoint, path string, payload []byte) ([]byte, error) {
	start := time.Now()
	body, err := resilience.ExecuteWithResult(ctx, c.breakers.Get(endpoint), func(ctx context.Context) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.roundTrip(ctx, method, path, payload)
	})
	logging.LogAPICall(c.logger, method, endpoint, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrNetwork, endpoint, err)
	}
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return body, nil
}

// responseText unwraps a JSON string response and trims whitespace, so
// "true", true and "\"true\"" all read as true.
func responseText(body []byte) string {
	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal([]byte(text), &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	return text
}

type balanceResponse struct {
	Balance json.Number `json:"balance"`
}

// parseBalance accepts a bare number, a quoted number or {"balance": n}.
func parseBalance(body []byte) (decimal.Decimal, error) {
	text := responseText(body)
	if strings.HasPrefix(text, "{") {
		var br balanceResponse
		if err := json.Unmarshal([]byte(text), &br); err != nil {
			return decimal.Zero, fmt.Errorf("decoding balance: %w", err)
		}
		text = br.Balance.String()
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing balance %q: %w", text, err)
	}
	return d, nil
}

var (
	_ order.BalanceService  = (*Client)(nil)
	_ order.PreTradeChecker = (*Client)(nil)
	_ order.OrderSaver      = (*Client)(nil)
)
