package types

import (
	sdkmath "cosmossdk.io/math"
)

// The engine does all value accounting in SDK decimal types: Int for raw
// principal units, Dec for USD values, shares and ratios. Aliased here so the
// rest of the codebase does not import cosmossdk.io/math directly.
type (
	Int = sdkmath.Int
	Dec = sdkmath.LegacyDec
)

func ZeroInt() Int { return sdkmath.ZeroInt() }
func NewInt(v int64) Int { return sdkmath.NewInt(v) }

func ZeroDec() Dec { return sdkmath.LegacyZeroDec() }
func OneDec() Dec  { return sdkmath.LegacyOneDec() }

func NewDec(v int64) Dec { return sdkmath.LegacyNewDec(v) }

// MustNewDecFromStr parses a decimal string, panicking on malformed input.
// Only used for constants and test fixtures.
func MustNewDecFromStr(s string) Dec { return sdkmath.LegacyMustNewDecFromStr(s) }

// BpsToDec converts a basis-point quantity into its decimal fraction.
func BpsToDec(bps uint64) Dec {
	return sdkmath.LegacyNewDec(int64(bps)).Quo(sdkmath.LegacyNewDec(10000))
}
