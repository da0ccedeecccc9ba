/*
This file contains common utility functions for converting between raw
principal units and USD decimals, with strict precision handling.
*/

package utils

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrPriceInvalid     = errors.New("price is not positive")
)

// pow10Dec returns 10^precision as a LegacyDec.
func pow10Dec(precision int) sdkmath.LegacyDec {
	factor := sdkmath.LegacyOneDec()
	ten := sdkmath.LegacyNewDec(10)
	for i := 0; i < precision; i++ {
		factor = factor.Mul(ten)
	}
	return factor
}

// AmountToUSD converts a raw integer amount with the given decimal precision
// into a USD value at the given unit price.
func AmountToUSD(amount sdkmath.Int, precision int, priceUSD sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if precision < 0 || precision > 18 {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNil() {
		return sdkmath.LegacyZeroDec(), ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.LegacyZeroDec(), ErrAmountNegative
	}
	if priceUSD.IsNil() || !priceUSD.IsPositive() {
		return sdkmath.LegacyZeroDec(), ErrPriceInvalid
	}

	whole := sdkmath.LegacyNewDecFromInt(amount).Quo(pow10Dec(precision))
	return whole.Mul(priceUSD), nil
}

// USDToAmount converts a USD value into a raw integer amount with the given
// decimal precision at the given unit price, truncating dust.
func USDToAmount(usd sdkmath.LegacyDec, precision int, priceUSD sdkmath.LegacyDec) (sdkmath.Int, error) {
	if precision < 0 || precision > 18 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if usd.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if usd.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if priceUSD.IsNil() || !priceUSD.IsPositive() {
		return sdkmath.ZeroInt(), ErrPriceInvalid
	}

	whole := usd.Quo(priceUSD)
	return whole.Mul(pow10Dec(precision)).TruncateInt(), nil
}
