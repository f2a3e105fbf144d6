// Package store provides persistence of closed candles and order attempts.
package store

import (
	"context"
	"time"

	"market-engine/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Candles
	SaveCandle(ctx context.Context, c models.Candle) error
	GetCandles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error)
	LatestCandle(ctx context.Context, symbol string) (*models.Candle, error)

	// Order attempts
	RecordAttempt(ctx context.Context, a models.OrderAttempt) error
	GetAttempts(ctx context.Context, filter AttemptFilter) ([]models.OrderAttempt, error)

	// Lifecycle
	Close() error
}

// AttemptFilter represents filters for querying order attempts.
type AttemptFilter struct {
	Symbol    string
	State     string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}
