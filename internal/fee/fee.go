// Package fee computes the platform fee taken from the winning bid when an
// auction settles. The fee accrues to the insurance pool; the remainder is
// paid out to the seller.
package fee

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidRate is returned when the rate is negative or not below 1.
	ErrInvalidRate = errors.New("fee: rate must be in [0, 1)")

	// DefaultRate is the 1.1% platform fee.
	DefaultRate = decimal.RequireFromString("0.011")

	// Scale is the number of decimal places fees are rounded to.
	Scale int32 = 8
)

// Schedule applies a flat percentage fee. It is stateless and safe for
// concurrent use.
type Schedule struct {
	rate decimal.Decimal
}

// NewSchedule creates a fee schedule with the given rate (0.011 = 1.1%).
func NewSchedule(rate decimal.Decimal) (*Schedule, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, ErrInvalidRate
	}
	return &Schedule{rate: rate}, nil
}

// Default returns the schedule charging DefaultRate.
func Default() *Schedule {
	return &Schedule{rate: DefaultRate}
}

// Rate returns the fee rate.
func (s *Schedule) Rate() decimal.Decimal {
	return s.rate
}

// Apply splits a settlement amount into the platform fee and the seller's
// net proceeds. fee + net always equals amount exactly.
func (s *Schedule) Apply(amount decimal.Decimal) (fee, net decimal.Decimal) {
	if !amount.IsPositive() {
		return decimal.Zero, amount
	}
	fee = amount.Mul(s.rate).Round(Scale)
	return fee, amount.Sub(fee)
}
