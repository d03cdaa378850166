package entities

import (
	"errors"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount         = errors.New("amount is not a valid decimal number")
	ErrNonPositiveAmount     = errors.New("amount must be greater than zero")
	ErrAmountPrecisionExceed = errors.New("amount has more fractional digits than the asset supports")
)

// ParseAmount converts a human decimal string such as "50.000000" into the
// asset's minor units. Values that cannot be represented exactly are rejected.
func ParseAmount(s string, decimals int32) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, ErrAmountPrecisionExceed
	}
	return shifted.BigInt(), nil
}

// FormatAmount renders minor units with exactly `decimals` fractional digits.
func FormatAmount(minor *big.Int, decimals int32) string {
	if minor == nil {
		minor = new(big.Int)
	}
	return decimal.NewFromBigInt(minor, -decimals).StringFixed(decimals)
}

// MinorToDecimal returns the display value of an amount in minor units.
func MinorToDecimal(minor *big.Int, decimals int32) decimal.Decimal {
	if minor == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(minor, -decimals)
}

// ParseMinorUnits parses an integer string of minor units, as stored in NUMERIC columns.
func ParseMinorUnits(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		// NUMERIC(78,0) never carries a fraction, but tolerate a ".0" suffix.
		if strings.Trim(s[i+1:], "0") != "" {
			return nil, ErrAmountPrecisionExceed
		}
		s = s[:i]
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, ErrInvalidAmount
	}
	return v, nil
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
