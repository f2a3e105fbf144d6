package order

import (
	"github.com/shopspring/decimal"

	"market-engine/internal/models"
)

// Payload is the order document sent to the pre-trade check and save
// endpoints. The save call carries a subset of the fields.
type Payload struct {
	OrderID       string          `json:"orderId"`
	UserID        string          `json:"userId"`
	Symbol        string          `json:"symbol"`
	Token         string          `json:"token,omitempty"`
	Exchange      string          `json:"exchange,omitempty"`
	Side          string          `json:"side"`
	OrderType     string          `json:"orderType,omitempty"`
	Lot           float64         `json:"lot"`
	Price         float64         `json:"price"`
	PriceUSD      float64         `json:"priceUsd,omitempty"`
	Margin        decimal.Decimal `json:"margin"`
	HoldingMargin decimal.Decimal `json:"holdingMargin"`
	StopLoss      float64         `json:"stopLoss,omitempty"`
	TakeProfit    float64         `json:"takeProfit,omitempty"`
	Status        string          `json:"status,omitempty"`
}

// CheckPayload builds the payload for the pre-trade check.
func CheckPayload(id, userID string, o models.ValidatedOrder) Payload {
	return Payload{
		OrderID:       id,
		UserID:        userID,
		Symbol:        o.Symbol.Name,
		Token:         o.Symbol.Token,
		Exchange:      string(o.Symbol.Class),
		Side:          string(o.Request.Side),
		OrderType:     string(o.Kind),
		Lot:           o.Request.LotSize,
		Price:         o.Price,
		PriceUSD:      o.PriceUSD,
		Margin:        o.Margin.Intraday,
		HoldingMargin: o.Margin.Holding,
		StopLoss:      o.Request.StopLoss,
		TakeProfit:    o.Request.TakeProfit,
	}
}

// SavePayload builds the payload for persisting an approved order.
func SavePayload(id, userID string, o models.ValidatedOrder) Payload {
	return Payload{
		OrderID: id,
		UserID:  userID,
		Symbol:  o.Symbol.Name,
		Side:    string(o.Request.Side),
		Lot:     o.Request.LotSize,
		Price:   o.Price,
		Margin:  o.Margin.Intraday,
		Status:  string(o.Status()),
	}
}
