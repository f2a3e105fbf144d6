// Package currency maintains the USD to local-currency exchange rate.
package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "market-engine/internal/errors"
)

// Config holds converter configuration.
type Config struct {
	RateURL         string
	Currency        string
	RefreshInterval time.Duration
	DefaultRate     float64
	Timeout         time.Duration
}

// DefaultConfig returns the default converter configuration.
func DefaultConfig() Config {
	return Config{
		Currency:        "INR",
		RefreshInterval: 5 * time.Minute,
		DefaultRate:     83.0,
		Timeout:         10 * time.Second,
	}
}

// Converter holds the latest USD to local multiplier. Reads are lock-free
// and never observe a partially written rate.
type Converter struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger

	rate      atomic.Pointer[decimal.Decimal]
	updatedAt atomic.Int64 // Unix nanoseconds of the last successful refresh
}

// NewConverter creates a converter seeded with the configured default rate.
func NewConverter(cfg Config, logger zerolog.Logger) *Converter {
	def := DefaultConfig()
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.DefaultRate <= 0 {
		cfg.DefaultRate = def.DefaultRate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	c := &Converter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "currency").Logger(),
	}
	initial := decimal.NewFromFloat(cfg.DefaultRate)
	c.rate.Store(&initial)
	return c
}

// Rate returns the latest known USD to local multiplier.
func (c *Converter) Rate() decimal.Decimal {
	return *c.rate.Load()
}

// RateFloat returns Rate as a float64.
func (c *Converter) RateFloat() float64 {
	f, _ := c.Rate().Float64()
	return f
}

// ToLocal converts a USD amount to local currency at the current rate.
func (c *Converter) ToLocal(usd float64) float64 {
	f, _ := decimal.NewFromFloat(usd).Mul(c.Rate()).Float64()
	return f
}

// UpdatedAt returns the time of the last successful refresh, or the zero
// time if the default rate is still in effect.
func (c *Converter) UpdatedAt() time.Time {
	ns := c.updatedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

type rateResponse struct {
	Rates map[string]json.Number `json:"rates"`
}

// Refresh fetches a new rate and replaces the stored value only on success.
func (c *Converter) Refresh(ctx context.Context) (decimal.Decimal, error) {
	rate, err := c.fetch(ctx)
	if err != nil {
		return decimal.Decimal{}, apperrors.NewRateFetchError(c.cfg.RateURL, err)
	}
	c.rate.Store(&rate)
	c.updatedAt.Store(time.Now().UnixNano())
	return rate, nil
}

func (c *Converter) fetch(ctx context.Context) (decimal.Decimal, error) {
	if c.cfg.RateURL == "" {
		return decimal.Decimal{}, fmt.Errorf("no rate url configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.RateURL, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("requesting rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("rate service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("reading response: %w", err)
	}

	var parsed rateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decoding response: %w", err)
	}

	raw, ok := parsed.Rates[strings.ToUpper(c.cfg.Currency)]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("rate for %s missing from response", c.cfg.Currency)
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing rate %q: %w", raw, err)
	}
	if !rate.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("non-positive rate %s", rate)
	}
	return rate, nil
}

// Run refreshes immediately and then on every refresh interval until ctx is
// cancelled. Failures are logged and the previous rate stays in effect.
func (c *Converter) Run(ctx context.Context) error {
	c.refreshAndLog(ctx)

	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.refreshAndLog(ctx)
		}
	}
}

func (c *Converter) refreshAndLog(ctx context.Context) {
	rate, err := c.Refresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn().Err(err).Str("rate", c.Rate().String()).Msg("Rate refresh failed, keeping previous rate")
		return
	}
	c.logger.Debug().Str("rate", rate.String()).Msg("Rate refreshed")
}
