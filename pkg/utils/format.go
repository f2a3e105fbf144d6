// Package utils provides shared formatting helpers.
package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RupeeSymbol prefixes local-currency amounts.
const RupeeSymbol = "₹"

// FormatIndianCurrency formats a number in Indian currency format (lakhs, crores).
func FormatIndianCurrency(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")

	result := RupeeSymbol + formatIndianNumber(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

// FormatMargin formats a margin amount in Indian currency format.
func FormatMargin(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return FormatIndianCurrency(f)
}

// formatIndianNumber formats an integer string in the Indian numbering
// system: 1,00,00,000 rather than 10,000,000.
func formatIndianNumber(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	// First group of 3 from right
	result := s[n-3:]
	s = s[:n-3]

	// Then groups of 2
	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}

	return result
}

// FormatUSD formats a USD price.
func FormatUSD(v float64) string {
	return "$" + FormatPrice(v)
}

// FormatPrice formats a price with two decimals, or five below 10 so FX
// quotes keep their pips.
func FormatPrice(v float64) string {
	if v != 0 && v < 10 && v > -10 {
		return fmt.Sprintf("%.5f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

// FormatLots formats a lot size without trailing zeros.
func FormatLots(lots float64) string {
	return decimal.NewFromFloat(lots).String()
}

// FormatCompact formats a number in compact form (L/Cr).
func FormatCompact(amount float64) string {
	abs := amount
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs >= 10000000:
		return fmt.Sprintf("%.2f Cr", amount/10000000)
	case abs >= 100000:
		return fmt.Sprintf("%.2f L", amount/100000)
	default:
		return FormatIndianCurrency(amount)
	}
}
