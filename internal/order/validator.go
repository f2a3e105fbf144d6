// Package order validates order requests against live quotes and available
// margin, and drives submission through the external risk and persistence
// services.
package order

import (
	"context"
	"math"

	"github.com/shopspring/decimal"

	apperrors "market-engine/internal/errors"
	"market-engine/internal/models"
)

// MarginCalculator computes the unrounded margin of a position.
type MarginCalculator interface {
	Margin(ctx context.Context, sym models.Symbol, lotSize, priceLocal float64) (models.MarginQuote, error)
}

// Validator runs the order preconditions in a fixed order and stops at the
// first failure.
type Validator struct {
	margins MarginCalculator
}

// NewValidator creates a validator using margins for exposure.
func NewValidator(margins MarginCalculator) *Validator {
	return &Validator{margins: margins}
}

// Validate checks order for sym against the live snapshot and the margin
// available to the user. The returned margins are rounded to whole currency
// units.
func (v *Validator) Validate(ctx context.Context, order models.OrderRequest, sym *models.Symbol, snap models.MarketSnapshot, available decimal.Decimal) (models.ValidatedOrder, error) {
	price, priceUSD, err := v.resolve(order, sym, snap)
	if err != nil {
		return models.ValidatedOrder{}, err
	}

	margin, err := v.margins.Margin(ctx, *sym, order.LotSize, price)
	if err != nil {
		return models.ValidatedOrder{}, apperrors.NewValidationError("margin", order.LotSize, "exposure data unavailable", err)
	}
	if margin.Intraday.GreaterThan(available) {
		return models.ValidatedOrder{}, apperrors.NewValidationError(
			"margin", margin.Intraday.Round(0).String(), "insufficient margin", apperrors.ErrInsufficientMargin)
	}

	return models.ValidatedOrder{
		Request:  order,
		Symbol:   *sym,
		Kind:     Classify(order, sym.Class, snap),
		Price:    price,
		PriceUSD: priceUSD,
		Margin:   margin.Rounded(),
	}, nil
}

// Preview computes the unrounded margin order would require, without
// checking it against available margin.
func (v *Validator) Preview(ctx context.Context, order models.OrderRequest, sym *models.Symbol, snap models.MarketSnapshot) (models.MarginQuote, error) {
	price, _, err := v.resolve(order, sym, snap)
	if err != nil {
		return models.MarginQuote{}, err
	}
	return v.margins.Margin(ctx, *sym, order.LotSize, price)
}

// Check runs the symbol, lot and price checks that need neither exposure
// data nor the user's balance.
func (v *Validator) Check(order models.OrderRequest, sym *models.Symbol, snap models.MarketSnapshot) error {
	_, _, err := v.resolve(order, sym, snap)
	return err
}

// resolve runs the symbol, lot and price checks and returns the local and
// USD price of the order.
func (v *Validator) resolve(order models.OrderRequest, sym *models.Symbol, snap models.MarketSnapshot) (float64, float64, error) {
	if sym == nil || sym.IsZero() {
		return 0, 0, apperrors.NewValidationError("symbol", nil, "no symbol selected", apperrors.ErrNoSymbol)
	}
	if err := CheckLotSize(order.LotSize, sym.Class); err != nil {
		return 0, 0, err
	}
	if order.Class == models.OrderClassLimit && !finitePositive(order.LimitPrice) {
		return 0, 0, apperrors.NewValidationError("limit_price", order.LimitPrice, "limit price is required", apperrors.ErrLimitPriceRequired)
	}
	return ResolvePrice(order, sym.Class, snap)
}

// CheckLotSize enforces the positive, minimum and whole-lot rules of class.
func CheckLotSize(lotSize float64, class models.ExchangeClass) error {
	if !finitePositive(lotSize) {
		return apperrors.NewValidationError("lot_size", lotSize, "lot size must be greater than zero", apperrors.ErrInvalidLotSize)
	}
	if lotSize < class.MinLotSize() {
		return apperrors.NewValidationError("lot_size", lotSize, "lot size below minimum", apperrors.ErrLotBelowMinimum)
	}
	if class.WholeLotsOnly() && lotSize != math.Trunc(lotSize) {
		return apperrors.NewValidationError("lot_size", lotSize, "lot size must be a whole number", apperrors.ErrLotNotWhole)
	}
	return nil
}

// ResolvePrice returns the local-currency price of order, and its USD price
// for FX classes.
//
// Market orders take the ask for BUY and the bid for SELL. FX limit prices
// are entered in USD and converted at the rate implied by the displayed
// ask, so margin matches the quote on screen.
func ResolvePrice(order models.OrderRequest, class models.ExchangeClass, snap models.MarketSnapshot) (float64, float64, error) {
	if order.Class == models.OrderClassLimit {
		if !class.IsFX() {
			return order.LimitPrice, 0, nil
		}
		rate, ok := ImpliedRate(snap)
		if !ok {
			return 0, 0, apperrors.NewValidationError("price", order.LimitPrice, "no live quote to convert the limit price", apperrors.ErrNoQuote)
		}
		local := order.LimitPrice * rate
		if !finitePositive(local) {
			return 0, 0, apperrors.NewValidationError("limit_price", order.LimitPrice, "limit price out of range", apperrors.ErrLimitPriceRequired)
		}
		return local, order.LimitPrice, nil
	}

	local, usd := snap.Local.Ask, snap.USD.Ask
	if order.Side == models.OrderSideSell {
		local, usd = snap.Local.Bid, snap.USD.Bid
	}
	if !finitePositive(local) {
		return 0, 0, apperrors.NewValidationError("price", local, "no live quote available", apperrors.ErrNoQuote)
	}
	if !class.IsFX() {
		usd = 0
	}
	return local, usd, nil
}

// ImpliedRate returns the USD to local multiplier implied by the snapshot's
// local and USD ask.
func ImpliedRate(snap models.MarketSnapshot) (float64, bool) {
	if !snap.HasUSD || !finitePositive(snap.USD.Ask) || !finitePositive(snap.Local.Ask) {
		return 0, false
	}
	return snap.Local.Ask / snap.USD.Ask, true
}

// finitePositive reports whether v is a usable price or lot size.
func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// Classify tags a limit order priced through the opposite side of the
// market as a stop order. FX classes compare USD prices. A side with no
// quote never triggers, so the order stays a plain limit.
func Classify(order models.OrderRequest, class models.ExchangeClass, snap models.MarketSnapshot) models.OrderKind {
	if order.Class != models.OrderClassLimit {
		return models.OrderKindMarket
	}

	quote := snap.Local
	if class.IsFX() {
		quote = snap.USD
	}
	price := order.LimitPrice

	switch order.Side {
	case models.OrderSideSell:
		if quote.Bid > 0 && price <= quote.Bid {
			return models.OrderKindStopLoss
		}
	case models.OrderSideBuy:
		if quote.Ask > 0 && price > quote.Ask {
			return models.OrderKindStopLoss
		}
	}
	return models.OrderKindLimit
}
