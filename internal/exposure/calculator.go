package exposure

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-engine/internal/models"
)

// DefaultRatio is used when a flat-ratio class has no ratio configured.
var DefaultRatio = decimal.NewFromInt(10)

// HorizonParams holds the parameters of one horizon. Zero means the value
// was not configured.
type HorizonParams struct {
	Ratio  decimal.Decimal
	PerLot decimal.Decimal
}

// Params are the resolved exposure parameters for one symbol.
type Params struct {
	Mode     models.ExposureMode
	Intraday HorizonParams
	Holding  HorizonParams
}

func (p Params) horizon(h models.Horizon) HorizonParams {
	if h == models.HorizonHolding {
		return p.Holding
	}
	return p.Intraday
}

// ComputeMargin returns the unrounded intraday and holding margin.
//
// per_lot:    lotSize × perLotAmount (zero when the root is unconfigured)
// flat_ratio: price × lotSize × lotUnitSize / ratio (ratio defaults to 10)
func ComputeMargin(lotSize, lotUnitSize, priceLocal float64, p Params) models.MarginQuote {
	return models.MarginQuote{
		Intraday: horizonMargin(lotSize, lotUnitSize, priceLocal, p.Mode, p.horizon(models.HorizonIntraday)),
		Holding:  horizonMargin(lotSize, lotUnitSize, priceLocal, p.Mode, p.horizon(models.HorizonHolding)),
	}
}

func horizonMargin(lotSize, lotUnitSize, price float64, mode models.ExposureMode, hp HorizonParams) decimal.Decimal {
	lots := decimal.NewFromFloat(lotSize)
	if mode == models.ExposurePerLot {
		return lots.Mul(hp.PerLot)
	}

	ratio := hp.Ratio
	if !ratio.IsPositive() {
		ratio = DefaultRatio
	}
	if !(lotUnitSize > 0) || math.IsInf(lotUnitSize, 0) {
		lotUnitSize = 1
	}
	effectiveLots := lots.Mul(decimal.NewFromFloat(lotUnitSize))
	return decimal.NewFromFloat(price).Mul(effectiveLots).Div(ratio)
}

// Calculator resolves exposure parameters from a Provider and computes
// margins.
type Calculator struct {
	provider Provider
	logger   zerolog.Logger
}

// NewCalculator creates a calculator reading parameters from provider.
func NewCalculator(provider Provider, logger zerolog.Logger) *Calculator {
	return &Calculator{
		provider: provider,
		logger:   logger.With().Str("component", "exposure").Logger(),
	}
}

// Params resolves the exposure parameters for sym. A class without a
// configured mode uses flat_ratio.
func (c *Calculator) Params(ctx context.Context, sym models.Symbol) (Params, error) {
	p := Params{Mode: models.ExposureFlatRatio}

	mode, ok, err := c.provider.Lookup(ctx, ModeKey(sym.Class))
	if err != nil {
		return p, fmt.Errorf("reading exposure mode: %w", err)
	}
	if ok {
		switch m := models.ExposureMode(strings.ToLower(strings.TrimSpace(mode))); m {
		case models.ExposureFlatRatio, models.ExposurePerLot:
			p.Mode = m
		default:
			c.logger.Warn().Str("class", string(sym.Class)).Str("mode", mode).Msg("Unknown exposure mode, using flat_ratio")
		}
	}

	for _, h := range []models.Horizon{models.HorizonIntraday, models.HorizonHolding} {
		var hp HorizonParams
		if p.Mode == models.ExposurePerLot {
			hp.PerLot, err = c.number(ctx, PerLotKey(sym.Class, h, sym.Root()))
		} else {
			hp.Ratio, err = c.number(ctx, RatioKey(sym.Class, h))
		}
		if err != nil {
			return p, err
		}
		if h == models.HorizonHolding {
			p.Holding = hp
		} else {
			p.Intraday = hp
		}
	}

	if p.Mode == models.ExposurePerLot && p.Intraday.PerLot.IsZero() {
		c.logger.Warn().
			Str("symbol", sym.Name).
			Str("root", sym.Root()).
			Msg("No per-lot exposure configured, margin is zero")
	}
	return p, nil
}

func (c *Calculator) number(ctx context.Context, key string) (decimal.Decimal, error) {
	raw, ok, err := c.provider.Lookup(ctx, key)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reading %s: %w", key, err)
	}
	if !ok {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		c.logger.Warn().Str("key", key).Str("value", raw).Msg("Ignoring non-numeric exposure value")
		return decimal.Zero, nil
	}
	return d, nil
}

// Margin resolves parameters for sym and computes the margin of lotSize
// lots at priceLocal.
func (c *Calculator) Margin(ctx context.Context, sym models.Symbol, lotSize, priceLocal float64) (models.MarginQuote, error) {
	p, err := c.Params(ctx, sym)
	if err != nil {
		return models.MarginQuote{}, err
	}
	return ComputeMargin(lotSize, sym.LotUnitSize, priceLocal, p), nil
}
