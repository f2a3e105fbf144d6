// Package feed connects to the upstream tick feeds and normalizes their
// messages into canonical ticks and snapshot deltas.
package feed

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"market-engine/internal/models"
)

// RateSource provides the USD to local multiplier used for FX prices.
type RateSource interface {
	RateFloat() float64
}

// Normalizer turns raw feed messages into NormalizedTicks.
type Normalizer struct {
	rates RateSource
	now   func() time.Time
}

// NewNormalizer creates a normalizer converting FX prices with rates.
func NewNormalizer(rates RateSource) *Normalizer {
	return &Normalizer{rates: rates, now: time.Now}
}

// SetClock overrides the clock used for messages that carry no timestamp.
func (n *Normalizer) SetClock(now func() time.Time) {
	n.now = now
}

// Normalize parses one raw message for the subscribed symbol. It reports
// false for heartbeats, undecodable payloads and messages for other symbols.
func (n *Normalizer) Normalize(raw []byte, kind models.FeedKind, sym models.Symbol) (models.NormalizedTick, bool) {
	trimmed := bytes.TrimSpace(raw)
	if isHeartbeat(trimmed) {
		return models.NormalizedTick{}, false
	}

	switch kind {
	case models.FeedDomestic:
		return n.normalizeDomestic(trimmed, sym)
	case models.FeedInternational:
		return n.normalizeInternational(trimmed, sym)
	default:
		return models.NormalizedTick{}, false
	}
}

func isHeartbeat(b []byte) bool {
	s := string(b)
	return s == "" || s == "true" || s == `""` || s == `"true"`
}

// flexFloat accepts JSON numbers, numeric strings and null. NaN and
// infinities are treated as absent.
type flexFloat struct {
	value float64
	set   bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	f.value, f.set = v, true
	return nil
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*f = flexString(str)
		return nil
	}
	*f = flexString(s)
	return nil
}

type domesticMessage struct {
	InstrumentToken flexString `json:"instrument_token"`
	LastPrice       flexFloat  `json:"last_price"`
	Bid             flexFloat  `json:"bid"`
	Ask             flexFloat  `json:"ask"`
	Change          flexFloat  `json:"change"`
	High            flexFloat  `json:"high_"`
	Low             flexFloat  `json:"low_"`
	Open            flexFloat  `json:"open_"`
	Close           flexFloat  `json:"close_"`
	OI              flexFloat  `json:"oi"`
	Volume          flexFloat  `json:"volume"`
	Timestamp       flexFloat  `json:"timestamp"` // milliseconds
}

func decodeDomestic(raw []byte) (domesticMessage, bool) {
	var msg domesticMessage
	if err := json.Unmarshal(raw, &msg); err == nil {
		return msg, true
	}
	obj, ok := firstObject(raw)
	if !ok {
		return msg, false
	}
	msg = domesticMessage{}
	if err := json.Unmarshal(obj, &msg); err != nil {
		return msg, false
	}
	return msg, true
}

func (n *Normalizer) normalizeDomestic(raw []byte, sym models.Symbol) (models.NormalizedTick, bool) {
	msg, ok := decodeDomestic(raw)
	if !ok {
		return models.NormalizedTick{}, false
	}
	if string(msg.InstrumentToken) != sym.Token {
		return models.NormalizedTick{}, false
	}
	var ltp float64
	var d models.QuoteDelta
	if msg.LastPrice.set && msg.LastPrice.value > 0 {
		ltp = msg.LastPrice.value
		d.LTP = ptr(ltp)
	}
	// Exchange convention: a zero quote means "use LTP". Without a trade
	// price a zero quote carries nothing.
	if msg.Bid.set {
		if v := orElse(msg.Bid.value, ltp); v != 0 {
			d.Bid = ptr(v)
		}
	}
	if msg.Ask.set {
		if v := orElse(msg.Ask.value, ltp); v != 0 {
			d.Ask = ptr(v)
		}
	}
	d.Change = optional(msg.Change)
	d.High = optional(msg.High)
	d.Low = optional(msg.Low)
	d.Open = optional(msg.Open)
	d.Close = optional(msg.Close)
	d.OpenInterest = optional(msg.OI)
	d.Volume = optional(msg.Volume)
	if d.IsEmpty() {
		return models.NormalizedTick{}, false
	}

	ts := n.now().Unix()
	if msg.Timestamp.set && msg.Timestamp.value > 0 {
		ts = int64(msg.Timestamp.value) / 1000
	}

	// A quote-only message leaves Tick.Price zero and updates no candle.
	return models.NormalizedTick{
		Tick:  models.Tick{Price: ltp, Timestamp: ts},
		Delta: models.SnapshotDelta{Local: d},
	}, true
}

type bookLevel struct {
	Price  flexFloat `json:"Price"`
	Volume flexFloat `json:"Volume"`
}

type internationalMessage struct {
	Type string `json:"type"`
	Data struct {
		Symbol    string      `json:"Symbol"`
		BestBid   *bookLevel  `json:"BestBid"`
		BestAsk   *bookLevel  `json:"BestAsk"`
		Bids      []bookLevel `json:"Bids"`
		Asks      []bookLevel `json:"Asks"`
		Timestamp flexFloat   `json:"Timestamp"` // milliseconds, optional
	} `json:"data"`
}

func (n *Normalizer) normalizeInternational(raw []byte, sym models.Symbol) (models.NormalizedTick, bool) {
	var msg internationalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return models.NormalizedTick{}, false
	}
	if msg.Type != "tick" {
		return models.NormalizedTick{}, false
	}
	if msg.Data.Symbol == "" || (msg.Data.Symbol != sym.Name && msg.Data.Symbol != sym.Root()) {
		return models.NormalizedTick{}, false
	}

	bid := levelPrice(msg.Data.BestBid)
	ask := levelPrice(msg.Data.BestAsk)
	mid := midPrice(bid, ask)
	if mid <= 0 {
		return models.NormalizedTick{}, false
	}

	high, low, volume := bookStats(msg.Data.Bids, msg.Data.Asks)

	usd := models.QuoteDelta{LTP: ptr(mid)}
	if bid > 0 {
		usd.Bid = ptr(bid)
	}
	if ask > 0 {
		usd.Ask = ptr(ask)
	}
	if high > 0 {
		usd.High = ptr(high)
	}
	if low > 0 {
		usd.Low = ptr(low)
	}
	if volume > 0 {
		usd.Volume = ptr(volume)
	}

	rate := n.rates.RateFloat()
	local := models.QuoteDelta{
		Bid:    scale(usd.Bid, rate),
		Ask:    scale(usd.Ask, rate),
		LTP:    scale(usd.LTP, rate),
		High:   scale(usd.High, rate),
		Low:    scale(usd.Low, rate),
		Volume: usd.Volume,
	}

	ts := n.now().Unix()
	if msg.Data.Timestamp.set && msg.Data.Timestamp.value > 0 {
		ts = int64(msg.Data.Timestamp.value) / 1000
	}

	return models.NormalizedTick{
		Tick: models.Tick{
			Price:     mid * rate,
			PriceUSD:  mid,
			HasUSD:    true,
			Timestamp: ts,
		},
		Delta: models.SnapshotDelta{Local: local, USD: &usd},
	}, true
}

func levelPrice(l *bookLevel) float64 {
	if l == nil || !l.Price.set {
		return 0
	}
	return l.Price.value
}

// midPrice averages bid and ask when both are quoted, else returns the side
// that is, else zero.
func midPrice(bid, ask float64) float64 {
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	case ask > 0:
		return ask
	default:
		return 0
	}
}

// bookStats returns the highest ask, the lowest bid and the total volume of
// the supplied order-book levels.
func bookStats(bids, asks []bookLevel) (high, low, volume float64) {
	for _, l := range asks {
		if l.Price.value > high {
			high = l.Price.value
		}
		volume += l.Volume.value
	}
	for _, l := range bids {
		if l.Price.value > 0 && (low == 0 || l.Price.value < low) {
			low = l.Price.value
		}
		volume += l.Volume.value
	}
	return high, low, volume
}

// firstObject returns the first balanced {...} substring of raw, skipping
// braces inside JSON strings.
func firstObject(raw []byte) ([]byte, bool) {
	start := bytes.IndexByte(raw, '{')
	if start < 0 {
		return nil, false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return nil, false
}

func ptr(v float64) *float64 { return &v }

func orElse(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

func optional(f flexFloat) *float64 {
	if !f.set {
		return nil
	}
	return ptr(f.value)
}

func scale(v *float64, rate float64) *float64 {
	if v == nil {
		return nil
	}
	return ptr(*v * rate)
}
