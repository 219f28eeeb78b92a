// Package money holds the decimal helpers shared by extraction, formula
// evaluation and voucher building.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places every amount is rounded to.
const Places = 2

// Tolerance is the largest debit/credit difference a voucher may carry.
var Tolerance = decimal.New(1, -Places)

// ErrInvalidNumber is returned by Parse when the input is not a number.
var ErrInvalidNumber = errors.New("invalid number")

// Round rounds d to two places, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Balanced reports whether the two totals are within Tolerance of each other.
func Balanced(debit, credit decimal.Decimal) bool {
	return debit.Sub(credit).Abs().LessThanOrEqual(Tolerance)
}

// Format renders d with exactly two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}

// Parse converts a captured amount such as "399,00", "1,234.50" or
// "1 299,00" into a decimal. A comma is a decimal separator only when the
// string contains no point; otherwise commas are grouping and dropped.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\u00a0', '\u2009', '\u202f':
			return -1
		}
		return r
	}, s)

	if strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", "")
	} else {
		s = strings.ReplaceAll(s, ",", ".")
	}

	s = strings.TrimSuffix(s, ".")

	if !validNumber(s) {
		return decimal.Zero, ErrInvalidNumber
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidNumber
	}
	return d, nil
}

// validNumber accepts an optional leading minus, digits and at most one point.
// decimal.NewFromString alone would also take exponents.
func validNumber(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" || s == "." {
		return false
	}
	seenPoint := false
	for _, r := range s {
		switch {
		case r == '.':
			if seenPoint {
				return false
			}
			seenPoint = true
		case r < '0' || r > '9':
			return false
		}
	}
	return true
}
