// Package exposure computes the margin required to open a position from
// per-exchange-class exposure parameters.
package exposure

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"market-engine/internal/config"
	"market-engine/internal/models"
)

// Provider is a read-only key/value store of exposure parameters. Values
// are string-encoded numbers or mode names; ok is false for absent keys.
type Provider interface {
	Lookup(ctx context.Context, key string) (value string, ok bool, err error)
}

// ModeKey returns the key holding the exposure mode of class.
func ModeKey(class models.ExchangeClass) string {
	return strings.ToUpper(string(class)) + ".mode"
}

// RatioKey returns the key holding the flat ratio of class for horizon.
func RatioKey(class models.ExchangeClass, h models.Horizon) string {
	return strings.ToUpper(string(class)) + ".ratio." + string(h)
}

// PerLotKey returns the key holding the per-lot amount of a root symbol.
func PerLotKey(class models.ExchangeClass, h models.Horizon, root string) string {
	return strings.ToUpper(string(class)) + ".per_lot." + string(h) + "." + NormalizeRoot(root)
}

// NormalizeRoot upper-cases and trims a root symbol for use in keys.
func NormalizeRoot(root string) string {
	return strings.ToUpper(strings.TrimSpace(root))
}

// StaticProvider serves exposure parameters from memory.
type StaticProvider struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStaticProvider creates a provider over a copy of values.
func NewStaticProvider(values map[string]string) *StaticProvider {
	p := &StaticProvider{values: make(map[string]string, len(values))}
	for k, v := range values {
		p.values[k] = v
	}
	return p
}

// NewStaticProviderFromConfig flattens the configured exposure classes into
// provider keys.
func NewStaticProviderFromConfig(cfg config.ExposureConfig) *StaticProvider {
	values := make(map[string]string)
	for name, ce := range cfg.Classes {
		class := models.ExchangeClass(strings.ToUpper(name))
		if ce.Mode != "" {
			values[ModeKey(class)] = ce.Mode
		}
		if ce.IntradayRatio > 0 {
			values[RatioKey(class, models.HorizonIntraday)] = formatFloat(ce.IntradayRatio)
		}
		if ce.HoldingRatio > 0 {
			values[RatioKey(class, models.HorizonHolding)] = formatFloat(ce.HoldingRatio)
		}
		for root, amounts := range ce.PerLot {
			values[PerLotKey(class, models.HorizonIntraday, root)] = formatFloat(amounts.Intraday)
			values[PerLotKey(class, models.HorizonHolding, root)] = formatFloat(amounts.Holding)
		}
	}
	return &StaticProvider{values: values}
}

// Lookup implements Provider.
func (p *StaticProvider) Lookup(_ context.Context, key string) (string, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok, nil
}

// Keys returns the number of stored keys.
func (p *StaticProvider) Keys() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.values)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
