// Package money implements a fixed-point monetary value with exact
// arithmetic: no floating point is ever involved.
package money

import (
	"fmt"
)

// Money is an amount of a single ISO-4217 currency, represented as an
// integer count of minor units (cents) to avoid floating-point drift.
type Money struct {
	minorUnits int64
	currency   string
}

// New constructs a Money value from a decimal amount with at most two
// fractional digits (e.g. amount=1050 currency="USD" means $10.50, when
// passed as minor units via NewFromMinorUnits) and whole-major-unit amount
// otherwise. New takes whole currency units and cents separately to avoid
// ambiguity about rounding at the construction boundary.
func New(majorUnits int64, cents int64, currency string) (Money, error) {
	if cents < -99 || cents > 99 {
		return Money{}, fmt.Errorf("money: cents %d out of range [-99,99]", cents)
	}
	if currency == "" {
		return Money{}, fmt.Errorf("money: currency must not be empty")
	}
	sign := int64(1)
	if majorUnits < 0 {
		sign = -1
	}
	return Money{minorUnits: majorUnits*100 + sign*abs64(cents), currency: currency}, nil
}

// NewFromMinorUnits constructs a Money value directly from its minor-unit
// (cent) representation.
func NewFromMinorUnits(minorUnits int64, currency string) (Money, error) {
	if currency == "" {
		return Money{}, fmt.Errorf("money: currency must not be empty")
	}
	return Money{minorUnits: minorUnits, currency: currency}, nil
}

// Zero returns the zero amount in the given currency.
func Zero(currency string) Money {
	return Money{currency: currency}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Currency returns the ISO-4217 code.
func (m Money) Currency() string { return m.currency }

// MinorUnits returns the amount as an integer count of minor units (cents).
func (m Money) MinorUnits() int64 { return m.minorUnits }

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.minorUnits == 0 }

// IsNegative reports whether the amount is less than zero.
func (m Money) IsNegative() bool { return m.minorUnits < 0 }

// String renders the amount with two fractional digits, e.g. "10.50 USD".
func (m Money) String() string {
	sign := ""
	v := m.minorUnits
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, v/100, v%100, m.currency)
}

func (m Money) requireSameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("money: currency mismatch %s != %s", m.currency, other.currency)
	}
	return nil
}

// Add returns m+other. Fails if the currencies differ.
func (m Money) Add(other Money) (Money, error) {
	if err := m.requireSameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{minorUnits: m.minorUnits + other.minorUnits, currency: m.currency}, nil
}

// Sub returns m-other. Fails if the currencies differ.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.requireSameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{minorUnits: m.minorUnits - other.minorUnits, currency: m.currency}, nil
}

// MulScalar multiplies the amount by a non-negative integer scalar, such as
// a line-item quantity.
func (m Money) MulScalar(scalar int64) (Money, error) {
	if scalar < 0 {
		return Money{}, fmt.Errorf("money: scalar must be non-negative, got %d", scalar)
	}
	return Money{minorUnits: m.minorUnits * scalar, currency: m.currency}, nil
}

// DivScalar divides the amount by a positive integer divisor, rounding
// half-to-even (banker's rounding) so repeated splits do not drift the sum.
func (m Money) DivScalar(divisor int64) (Money, error) {
	if divisor <= 0 {
		return Money{}, fmt.Errorf("money: divisor must be positive, got %d", divisor)
	}
	q, r := m.minorUnits/divisor, m.minorUnits%divisor
	if r == 0 {
		return Money{minorUnits: q, currency: m.currency}, nil
	}
	twice := 2 * abs64(r)
	switch {
	case twice < divisor:
		// round down (toward q)
	case twice > divisor:
		q += sign64(m.minorUnits) * sign64(divisor)
	default:
		// exactly half: round to even
		if q%2 != 0 {
			q += sign64(m.minorUnits) * sign64(divisor)
		}
	}
	return Money{minorUnits: q, currency: m.currency}, nil
}

func sign64(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}

// Equal reports value equality (amount and currency).
func (m Money) Equal(other Money) bool {
	return m.minorUnits == other.minorUnits && m.currency == other.currency
}

// Compare returns -1, 0, or 1 comparing m to other. Panics if currencies
// differ, since ordering across currencies is meaningless without an
// exchange rate this package does not own.
func (m Money) Compare(other Money) int {
	if m.currency != other.currency {
		panic(fmt.Sprintf("money: cannot compare %s to %s", m.currency, other.currency))
	}
	switch {
	case m.minorUnits < other.minorUnits:
		return -1
	case m.minorUnits > other.minorUnits:
		return 1
	default:
		return 0
	}
}

// Sum adds a slice of Money values, all of which must share a currency.
func Sum(amounts []Money) (Money, error) {
	if len(amounts) == 0 {
		return Money{}, fmt.Errorf("money: Sum of empty slice is undefined")
	}
	total := Zero(amounts[0].currency)
	for _, a := range amounts {
		var err error
		total, err = total.Add(a)
		if err != nil {
			return Money{}, err
		}
	}
	return total, nil
}
