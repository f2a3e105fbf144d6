package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderClass represents how the order is priced.
type OrderClass string

const (
	OrderClassMarket OrderClass = "MARKET"
	OrderClassLimit  OrderClass = "LIMIT"
)

// OrderKind is the routing classification of a validated order.
type OrderKind string

const (
	OrderKindMarket   OrderKind = "MARKET"
	OrderKindLimit    OrderKind = "LIMIT"
	OrderKindStopLoss OrderKind = "STOP"
)

// OrderStatus is the status persisted with a saved order.
type OrderStatus string

const (
	OrderStatusActive  OrderStatus = "Active"
	OrderStatusPending OrderStatus = "Pending"
)

// OrderRequest is the user's intent to open a position.
type OrderRequest struct {
	Side    OrderSide
	Class   OrderClass
	LotSize float64
	// LimitPrice is required for LIMIT orders. FX-class symbols take it in
	// USD, every other class in local currency. Zero means not supplied.
	LimitPrice float64
	StopLoss   float64 // Advisory
	TakeProfit float64 // Advisory
}

// ExposureMode is the margin computation strategy of an exchange class.
type ExposureMode string

const (
	ExposureFlatRatio ExposureMode = "flat_ratio"
	ExposurePerLot    ExposureMode = "per_lot"
)

// Horizon is the holding period a margin figure applies to.
type Horizon string

const (
	HorizonIntraday Horizon = "intraday"
	HorizonHolding  Horizon = "holding"
)

// MarginQuote holds the margin required to open a position, in local currency.
type MarginQuote struct {
	Intraday decimal.Decimal `json:"intraday"`
	Holding  decimal.Decimal `json:"holding"`
}

// Rounded returns the quote rounded to the nearest whole currency unit.
func (m MarginQuote) Rounded() MarginQuote {
	return MarginQuote{
		Intraday: m.Intraday.Round(0),
		Holding:  m.Holding.Round(0),
	}
}

// ValidatedOrder is an order that passed every validation check.
type ValidatedOrder struct {
	Request  OrderRequest
	Symbol   Symbol
	Kind     OrderKind
	Price    float64 // Resolved price in local currency
	PriceUSD float64 // Entered or quoted USD price for FX-class symbols
	Margin   MarginQuote
}

// Status returns the persistence status of the order.
func (o ValidatedOrder) Status() OrderStatus {
	if o.Request.Class == OrderClassLimit {
		return OrderStatusPending
	}
	return OrderStatusActive
}

// OrderAttempt records one user-initiated submission and its outcome.
type OrderAttempt struct {
	ID          string
	Symbol      string
	Exchange    ExchangeClass
	Side        OrderSide
	Class       OrderClass
	Kind        OrderKind
	LotSize     float64
	Price       float64
	Margin      decimal.Decimal
	State       string
	Reason      string
	SubmittedAt time.Time
	CompletedAt time.Time
}
