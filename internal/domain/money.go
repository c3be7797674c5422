package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// MinorUnitScale is the number of decimal places a ledger amount may carry.
const MinorUnitScale = 2

// Money is a fixed-precision monetary amount.
type Money = decimal.Decimal

// ParseMoney parses a decimal string and checks it fits MinorUnitScale.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal", ErrInvalidAmount, s)
	}
	if err := CheckScale(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// CheckScale rejects amounts with more precision than MinorUnitScale.
func CheckScale(amount Money) error {
	if !amount.Equal(amount.Truncate(MinorUnitScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount.String(), MinorUnitScale)
	}
	return nil
}

var (
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
	minMinorUnits = decimal.NewFromInt(math.MinInt64)
)

// MaxAmount is the largest amount a single operation may move. It is the
// largest value every store can hold as int64 minor units.
var MaxAmount = FromMinorUnits(math.MaxInt64)

// CheckRange rejects amounts whose minor unit count does not fit in an int64.
func CheckRange(amount Money) error {
	shifted := amount.Shift(MinorUnitScale)
	if shifted.GreaterThan(maxMinorUnits) || shifted.LessThan(minMinorUnits) {
		return fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, amount.String())
	}
	return nil
}

// ToMinorUnits converts an amount to an integer count of minor units (cents).
func ToMinorUnits(amount Money) (int64, error) {
	if err := CheckRange(amount); err != nil {
		return 0, err
	}
	return amount.Shift(MinorUnitScale).IntPart(), nil
}

// FromMinorUnits converts a minor unit count back to an amount.
func FromMinorUnits(units int64) Money {
	return decimal.New(units, -MinorUnitScale)
}
