package exposure

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-engine/internal/config"
	"market-engine/internal/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeMargin_FlatRatio(t *testing.T) {
	p := Params{
		Mode:     models.ExposureFlatRatio,
		Intraday: HorizonParams{Ratio: dec("10")},
		Holding:  HorizonParams{Ratio: dec("4")},
	}

	got := ComputeMargin(2, 10, 1000, p)
	if !got.Intraday.Equal(dec("2000")) {
		t.Errorf("intraday = %s, want 2000", got.Intraday)
	}
	if !got.Holding.Equal(dec("5000")) {
		t.Errorf("holding = %s, want 5000", got.Holding)
	}
}

func TestComputeMargin_PerLotIgnoresPrice(t *testing.T) {
	p := Params{
		Mode:     models.ExposurePerLot,
		Intraday: HorizonParams{PerLot: dec("500")},
		Holding:  HorizonParams{PerLot: dec("1200")},
	}

	for _, price := range []float64{1, 1000, 99999} {
		got := ComputeMargin(3, 10, price, p)
		if !got.Intraday.Equal(dec("1500")) {
			t.Errorf("price %v: intraday = %s, want 1500", price, got.Intraday)
		}
		if !got.Holding.Equal(dec("3600")) {
			t.Errorf("price %v: holding = %s, want 3600", price, got.Holding)
		}
	}
}

func TestComputeMargin_Defaults(t *testing.T) {
	// No ratio configured: default 10. No lot unit: 1.
	got := ComputeMargin(1, 0, 500, Params{Mode: models.ExposureFlatRatio})
	if !got.Intraday.Equal(dec("50")) || !got.Holding.Equal(dec("50")) {
		t.Errorf("margin = %+v, want 50/50", got)
	}
	for _, unit := range []float64{math.Inf(1), math.NaN()} {
		got = ComputeMargin(1, unit, 500, Params{Mode: models.ExposureFlatRatio})
		if !got.Intraday.Equal(dec("50")) {
			t.Errorf("lot unit %v: margin = %s, want 50", unit, got.Intraday)
		}
	}

	// Per-lot with no amount configured is zero.
	got = ComputeMargin(5, 1, 500, Params{Mode: models.ExposurePerLot})
	if !got.Intraday.IsZero() {
		t.Errorf("unconfigured per-lot margin = %s, want 0", got.Intraday)
	}
}

func TestComputeMargin_FractionalForexLots(t *testing.T) {
	p := Params{Mode: models.ExposureFlatRatio, Intraday: HorizonParams{Ratio: dec("100")}}
	got := ComputeMargin(0.05, 100000, 90, p)
	if !got.Intraday.Equal(dec("4500")) {
		t.Errorf("intraday = %s, want 4500", got.Intraday)
	}
}

// Property: flat-ratio margin is linear in lot size.
func TestProperty_FlatRatioMarginLinearInLots(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("margin(k*lots) == k*margin(lots)", prop.ForAll(
		func(lots int, k int, price float64, ratio int) bool {
			p := Params{Mode: models.ExposureFlatRatio, Intraday: HorizonParams{Ratio: decimal.NewFromInt(int64(ratio))}}
			one := ComputeMargin(float64(lots), 10, price, p).Intraday
			many := ComputeMargin(float64(lots*k), 10, price, p).Intraday
			diff := many.Sub(one.Mul(decimal.NewFromInt(int64(k)))).Abs()
			return diff.LessThan(dec("0.000001"))
		},
		gen.IntRange(1, 100),
		gen.IntRange(1, 20),
		gen.Float64Range(1, 100000),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

func TestCalculator_PerLotFromStaticConfig(t *testing.T) {
	cfg := config.ExposureConfig{
		Classes: map[string]config.ClassExposure{
			"mcx": {
				Mode: "per_lot",
				PerLot: map[string]config.PerLotAmounts{
					"gold": {Intraday: 500, Holding: 1500},
				},
			},
			"nse": {Mode: "flat_ratio", IntradayRatio: 5, HoldingRatio: 2},
		},
	}
	calc := NewCalculator(NewStaticProviderFromConfig(cfg), zerolog.Nop())
	ctx := context.Background()

	gold := models.Symbol{Token: "1", Name: "GOLD_24DEC", Class: models.ClassMCX, LotUnitSize: 100}
	got, err := calc.Margin(ctx, gold, 3, 72000)
	if err != nil {
		t.Fatalf("Margin() error = %v", err)
	}
	if !got.Intraday.Equal(dec("1500")) || !got.Holding.Equal(dec("4500")) {
		t.Errorf("GOLD margin = %+v, want 1500/4500", got)
	}

	silver := models.Symbol{Token: "2", Name: "SILVER_24DEC", Class: models.ClassMCX, LotUnitSize: 30}
	got, err = calc.Margin(ctx, silver, 1, 90000)
	if err != nil {
		t.Fatalf("Margin() error = %v", err)
	}
	if !got.Intraday.IsZero() {
		t.Errorf("unconfigured root margin = %s, want 0", got.Intraday)
	}

	reliance := models.Symbol{Token: "3", Name: "RELIANCE", Class: models.ClassNSE, LotUnitSize: 1}
	got, err = calc.Margin(ctx, reliance, 10, 2900)
	if err != nil {
		t.Fatalf("Margin() error = %v", err)
	}
	if !got.Intraday.Equal(dec("5800")) || !got.Holding.Equal(dec("14500")) {
		t.Errorf("RELIANCE margin = %+v, want 5800/14500", got)
	}
}

func TestCalculator_UnconfiguredClassUsesDefaultRatio(t *testing.T) {
	calc := NewCalculator(NewStaticProvider(nil), zerolog.Nop())
	sym := models.Symbol{Name: "EURUSD", Class: models.ClassForex, LotUnitSize: 100000}

	p, err := calc.Params(context.Background(), sym)
	if err != nil {
		t.Fatalf("Params() error = %v", err)
	}
	if p.Mode != models.ExposureFlatRatio {
		t.Errorf("mode = %s, want flat_ratio", p.Mode)
	}

	got, _ := calc.Margin(context.Background(), sym, 0.01, 90)
	if !got.Intraday.Equal(dec("9000")) {
		t.Errorf("margin = %s, want 9000", got.Intraday)
	}
}

func TestCalculator_BadValues(t *testing.T) {
	calc := NewCalculator(NewStaticProvider(map[string]string{
		"CRYPTO.mode":           "weird",
		"CRYPTO.ratio.intraday": "abc",
		"CRYPTO.ratio.holding":  " 4 ",
	}), zerolog.Nop())
	sym := models.Symbol{Name: "BTCUSD", Class: models.ClassCrypto, LotUnitSize: 1}

	p, err := calc.Params(context.Background(), sym)
	if err != nil {
		t.Fatalf("Params() error = %v", err)
	}
	if p.Mode != models.ExposureFlatRatio {
		t.Errorf("unknown mode should fall back to flat_ratio, got %s", p.Mode)
	}
	if !p.Intraday.Ratio.IsZero() {
		t.Errorf("non-numeric ratio = %s, want 0", p.Intraday.Ratio)
	}
	if !p.Holding.Ratio.Equal(dec("4")) {
		t.Errorf("holding ratio = %s, want 4", p.Holding.Ratio)
	}
}

type failingProvider struct{}

func (failingProvider) Lookup(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

func TestCalculator_ProviderError(t *testing.T) {
	calc := NewCalculator(failingProvider{}, zerolog.Nop())
	_, err := calc.Margin(context.Background(), models.Symbol{Name: "GOLD", Class: models.ClassMCX}, 1, 100)
	if err == nil {
		t.Error("expected provider error to propagate")
	}
}
