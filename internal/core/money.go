// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing prices from form input, coercing
// prices read back from a document store, and formatting totals.
package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// SortableTime is the layout used when a store persists times as text.
// It is fixed width in UTC, so lexical order equals chronological order.
const SortableTime = "2006-01-02T15:04:05.000000000Z07:00"

// MaxPriceDigits bounds the significant digits of a price. Stores keep prices
// as float64, which holds 15 decimal digits exactly.
const MaxPriceDigits = 15

// ParsePrice converts a decimal string to a non-negative price.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Signs,
// exponents and any other characters are rejected. Zero is a valid price.
// The value is kept at full precision; rounding happens only on display.
// Prices with more than MaxPriceDigits significant digits are rejected.
//
// Examples:
//
//	ParsePrice("3.5")   -> 3.5, nil
//	ParsePrice("3,50")  -> 3.5, nil
//	ParsePrice("1.005") -> 1.005, nil
//	ParsePrice("abc")   -> 0, ErrInvalidPrice
func ParsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrEmptyPrice
	}
	s = strings.ReplaceAll(s, ",", ".")
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Zero, ErrInvalidPrice
	}
	if parts[0] == "" && (len(parts) == 1 || parts[1] == "") {
		return decimal.Zero, ErrInvalidPrice
	}
	for _, part := range parts {
		for _, r := range part {
			if !unicode.IsDigit(r) || r > unicode.MaxASCII {
				return decimal.Zero, ErrInvalidPrice
			}
		}
	}
	if significantDigits(parts) > MaxPriceDigits {
		return decimal.Zero, ErrInvalidPrice
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidPrice
	}
	return d, nil
}

// significantDigits counts the digits of a split decimal string from the first
// non-zero digit on, ignoring trailing zeros after the point.
func significantDigits(parts []string) int {
	digits := parts[0]
	if len(parts) == 2 {
		digits += strings.TrimRight(parts[1], "0")
	}
	return len(strings.TrimLeft(digits, "0"))
}

// PriceFromAny coerces a stored price to a number. Stores may hand back
// floats, integers, JSON numbers or text depending on the backend.
func PriceFromAny(v any) (decimal.Decimal, error) {
	var d decimal.Decimal
	switch p := v.(type) {
	case decimal.Decimal:
		d = p
	case float64:
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return decimal.Zero, ErrInvalidPrice
		}
		d = decimal.NewFromFloat(p)
	case float32:
		if math.IsNaN(float64(p)) || math.IsInf(float64(p), 0) {
			return decimal.Zero, ErrInvalidPrice
		}
		d = decimal.NewFromFloat32(p)
	case int:
		d = decimal.NewFromInt(int64(p))
	case int64:
		d = decimal.NewFromInt(p)
	case json.Number:
		parsed, err := decimal.NewFromString(p.String())
		if err != nil {
			return decimal.Zero, ErrInvalidPrice
		}
		d = parsed
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(strings.ReplaceAll(p, ",", ".")))
		if err != nil {
			return decimal.Zero, ErrInvalidPrice
		}
		d = parsed
	case nil:
		return decimal.Zero, ErrEmptyPrice
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported type %T", ErrInvalidPrice, v)
	}
	if d.IsNegative() {
		return decimal.Zero, ErrInvalidPrice
	}
	return d, nil
}

// TimeFromAny coerces a stored creation time.
func TimeFromAny(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time %q: %w", t, err)
		}
		return parsed, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported time type %T", v)
	}
}

// Total sums the prices of all items.
func Total(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price)
	}
	return total
}

// FormatAmount renders an amount with exactly two decimals, rounding half up
// (half away from zero, which is the same for non-negative amounts).
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
