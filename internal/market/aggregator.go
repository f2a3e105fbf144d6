package market

import (
	"sync"

	"market-engine/internal/models"
)

// DefaultHistorySize is the number of closed candles kept per symbol.
const DefaultHistorySize = 500

// BucketStart returns the start second of the candle bucket containing ts.
func BucketStart(ts int64) int64 {
	r := ts % models.CandleInterval
	if r < 0 {
		r += models.CandleInterval
	}
	return ts - r
}

// Aggregator builds one-minute candles from ticks. Each symbol has at most
// one open candle; closed candles are immutable and kept in a bounded
// history. There is no gap filling: a symbol with no ticks for several
// minutes gets no candles for those minutes.
type Aggregator struct {
	mu          sync.Mutex
	open        map[string]*models.Candle
	history     map[string][]models.Candle
	historySize int
}

// NewAggregator creates an aggregator keeping historySize closed candles
// per symbol.
func NewAggregator(historySize int) *Aggregator {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Aggregator{
		open:        make(map[string]*models.Candle),
		history:     make(map[string][]models.Candle),
		historySize: historySize,
	}
}

// Update applies a tick to the symbol's open candle. A tick in a different
// bucket closes the open candle and opens a new one seeded at the tick price.
func (a *Aggregator) Update(symbol string, tick models.Tick) models.BarEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	bucket := BucketStart(tick.Timestamp)
	price := tick.Price

	current, ok := a.open[symbol]
	if ok && current.BucketStart == bucket {
		if price > current.High {
			current.High = price
		}
		if price < current.Low {
			current.Low = price
		}
		current.Close = price
		return models.BarEvent{Kind: models.BarExtended, Candle: *current}
	}

	event := models.BarEvent{Kind: models.BarOpened}
	if ok {
		closed := *current
		a.appendHistory(symbol, closed)
		event.Closed = &closed
	}

	next := &models.Candle{
		Symbol:      symbol,
		BucketStart: bucket,
		Open:        price,
		High:        price,
		Low:         price,
		Close:       price,
	}
	a.open[symbol] = next
	event.Candle = *next
	return event
}

func (a *Aggregator) appendHistory(symbol string, c models.Candle) {
	h := append(a.history[symbol], c)
	if len(h) > a.historySize {
		h = h[len(h)-a.historySize:]
	}
	a.history[symbol] = h
}

// OpenCandle returns the symbol's open candle.
func (a *Aggregator) OpenCandle(symbol string) (models.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.open[symbol]
	if !ok {
		return models.Candle{}, false
	}
	return *c, true
}

// History returns a copy of the symbol's closed candles, oldest first.
func (a *Aggregator) History(symbol string) []models.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := a.history[symbol]
	out := make([]models.Candle, len(h))
	copy(out, h)
	return out
}

// Discard drops the symbol's open candle and history.
func (a *Aggregator) Discard(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.open, symbol)
	delete(a.history, symbol)
}
