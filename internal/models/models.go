// Package models provides domain models for the market data and order risk engine.
package models

import (
	"strings"
)

// ExchangeClass represents the exchange segment an instrument trades on.
type ExchangeClass string

const (
	ClassMCX       ExchangeClass = "MCX"
	ClassNSE       ExchangeClass = "NSE"
	ClassCDSOpt    ExchangeClass = "CDS_OPT" // Currency derivatives, margined as options
	ClassForex     ExchangeClass = "FOREX"
	ClassCrypto    ExchangeClass = "CRYPTO"
	ClassCommodity ExchangeClass = "COMMODITY"
)

// ExchangeClasses lists every known exchange class.
var ExchangeClasses = []ExchangeClass{
	ClassMCX, ClassNSE, ClassCDSOpt, ClassForex, ClassCrypto, ClassCommodity,
}

// ParseExchangeClass parses a case-insensitive exchange class name.
func ParseExchangeClass(s string) (ExchangeClass, bool) {
	c := ExchangeClass(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range ExchangeClasses {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// IsFX reports whether the class is quoted in USD by the international feed.
func (c ExchangeClass) IsFX() bool {
	return c == ClassForex || c == ClassCrypto
}

// MinLotSize returns the smallest tradable lot for the class.
func (c ExchangeClass) MinLotSize() float64 {
	if c == ClassForex {
		return 0.01
	}
	return 1
}

// WholeLotsOnly reports whether lot sizes must be integers.
func (c ExchangeClass) WholeLotsOnly() bool {
	return c != ClassForex
}

// FeedKind returns the upstream feed that serves the class.
// Routing is mutually exclusive: a class is served by exactly one feed.
func (c ExchangeClass) FeedKind() FeedKind {
	if c.IsFX() {
		return FeedInternational
	}
	return FeedDomestic
}

// FeedKind identifies one of the two upstream feed protocols.
type FeedKind string

const (
	FeedDomestic      FeedKind = "domestic"
	FeedInternational FeedKind = "international"
)

// Symbol identifies a tradable instrument.
type Symbol struct {
	Token       string
	Name        string
	Class       ExchangeClass
	LotUnitSize float64 // Contract units per lot, may be fractional for FOREX
}

// RootSeparator separates a root symbol from its contract qualifier.
const RootSeparator = "_"

// Root returns the instrument name's leading segment before the first "_".
func (s Symbol) Root() string {
	return RootSymbol(s.Name)
}

// RootSymbol returns the segment of name before the first "_".
func RootSymbol(name string) string {
	if i := strings.Index(name, RootSeparator); i >= 0 {
		return name[:i]
	}
	return name
}

// Key returns the identifier used to index per-symbol state.
func (s Symbol) Key() string {
	if s.Token != "" {
		return s.Token
	}
	return s.Name
}

// IsZero reports whether the symbol is unset.
func (s Symbol) IsZero() bool {
	return s.Token == "" && s.Name == ""
}
