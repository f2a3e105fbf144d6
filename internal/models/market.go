package models

import (
	"time"
)

// Quote holds the price fields tracked for a symbol in one currency.
type Quote struct {
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	LTP          float64 `json:"ltp"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Open         float64 `json:"open"`
	Close        float64 `json:"close"`
	Change       float64 `json:"change"`
	OpenInterest float64 `json:"open_interest"`
	Volume       float64 `json:"volume"`
}

// MarketSnapshot is the continuously updated market state of one symbol.
// USD is populated only for FX-class symbols.
type MarketSnapshot struct {
	Symbol    string    `json:"symbol"`
	Local     Quote     `json:"local"`
	USD       Quote     `json:"usd"`
	HasUSD    bool      `json:"has_usd"`
	Ticks     int64     `json:"ticks"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QuoteDelta carries the fields a single message populated. Nil fields
// were absent from the message and leave the prior value untouched.
type QuoteDelta struct {
	Bid          *float64
	Ask          *float64
	LTP          *float64
	High         *float64
	Low          *float64
	Open         *float64
	Close        *float64
	Change       *float64
	OpenInterest *float64
	Volume       *float64
}

// IsEmpty reports whether the delta carries no fields.
func (d QuoteDelta) IsEmpty() bool {
	return d.Bid == nil && d.Ask == nil && d.LTP == nil && d.High == nil &&
		d.Low == nil && d.Open == nil && d.Close == nil && d.Change == nil &&
		d.OpenInterest == nil && d.Volume == nil
}

// SnapshotDelta is the change a normalized message applies to a snapshot.
type SnapshotDelta struct {
	Local QuoteDelta
	USD   *QuoteDelta
}

// IsEmpty reports whether the delta would leave a snapshot unchanged.
func (d SnapshotDelta) IsEmpty() bool {
	return d.Local.IsEmpty() && (d.USD == nil || d.USD.IsEmpty())
}

// Apply merges the delta into the quote. Absent and zero values never
// overwrite a populated field.
func (q *Quote) Apply(d QuoteDelta) {
	merge(&q.Bid, d.Bid)
	merge(&q.Ask, d.Ask)
	merge(&q.LTP, d.LTP)
	merge(&q.High, d.High)
	merge(&q.Low, d.Low)
	merge(&q.Open, d.Open)
	merge(&q.Close, d.Close)
	merge(&q.Change, d.Change)
	merge(&q.OpenInterest, d.OpenInterest)
	merge(&q.Volume, d.Volume)
}

func merge(dst *float64, v *float64) {
	if v == nil || *v == 0 {
		return
	}
	*dst = *v
}

// Apply merges the delta into the snapshot.
func (s *MarketSnapshot) Apply(d SnapshotDelta, at time.Time) {
	s.Local.Apply(d.Local)
	if d.USD != nil {
		s.USD.Apply(*d.USD)
		s.HasUSD = true
	}
	s.Ticks++
	s.UpdatedAt = at
}

// Tick is one canonical price update.
type Tick struct {
	Price     float64 // Local currency
	PriceUSD  float64 // Set only when HasUSD
	HasUSD    bool
	Timestamp int64 // Unix seconds
}

// NormalizedTick is the output of normalizing one feed message.
type NormalizedTick struct {
	Tick  Tick
	Delta SnapshotDelta
}

// HasTrade reports whether the message carried a price that belongs in a
// candle. Quote-only messages update the snapshot alone.
func (t NormalizedTick) HasTrade() bool {
	return t.Tick.Price > 0
}

// CandleInterval is the candle bucket width in seconds.
const CandleInterval int64 = 60

// Candle represents OHLC data for one bucket.
type Candle struct {
	Symbol      string  `json:"symbol"`
	BucketStart int64   `json:"bucket_start"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
}

// Time returns the bucket start as a time.
func (c Candle) Time() time.Time {
	return time.Unix(c.BucketStart, 0).UTC()
}

// BarEventKind distinguishes a newly opened bar from an extended one.
type BarEventKind string

const (
	BarOpened   BarEventKind = "opened"
	BarExtended BarEventKind = "extended"
)

// BarEvent is emitted for every tick accepted by the candle aggregator.
type BarEvent struct {
	Kind   BarEventKind `json:"kind"`
	Candle Candle       `json:"candle"`
	// Closed is the candle finalized by a BarOpened event, if any.
	Closed *Candle `json:"closed,omitempty"`
}

// UpdateKind identifies what a MarketUpdate carries.
type UpdateKind string

const (
	UpdateTick        UpdateKind = "tick"
	UpdateFeedStopped UpdateKind = "feed_stopped"
)

// MarketUpdate is distributed to consumers after each processed message.
type MarketUpdate struct {
	Kind     UpdateKind     `json:"kind"`
	Symbol   string         `json:"symbol"`
	Snapshot MarketSnapshot `json:"snapshot"`
	Bar      *BarEvent      `json:"bar,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}
