// Package fixed implements the integer fixed-point arithmetic used for all
// monetary quantities in the vault engine.
//
// USD amounts carry 30 decimals of precision so that conversions between
// assets with differing native decimals never lose information in the
// common scale. Token amounts stay in native decimals. All arithmetic is
// *big.Int with truncating division, never float64 for money; decimal is
// used only at the API boundary for display.
package fixed

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// USDDecimals is the number of decimals in the USD fixed-point scale.
	USDDecimals = 30

	// UnitDecimals is the number of decimals carried by the synthetic
	// accounting unit.
	UnitDecimals = 18

	// BasisPointsDivisor converts basis points to a fraction.
	BasisPointsDivisor = 10_000

	// FundingRatePrecision scales cumulative funding rates.
	FundingRatePrecision = 1_000_000
)

// PricePrecision is 10^30, the scale of every USD-denominated quantity.
var PricePrecision = Pow10(USDDecimals)

var pow10Table = func() []*big.Int {
	table := make([]*big.Int, 37)
	v := big.NewInt(1)
	ten := big.NewInt(10)
	for i := range table {
		table[i] = new(big.Int).Set(v)
		v.Mul(v, ten)
	}
	return table
}()

// Pow10 returns 10^n as a fresh big.Int.
func Pow10(n uint32) *big.Int {
	if int(n) < len(pow10Table) {
		return new(big.Int).Set(pow10Table[n])
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// USD returns n whole dollars at the USD fixed-point scale.
func USD(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), PricePrecision)
}

// MulDiv returns a * b / c, truncated toward zero. Every ledger call
// site passes non-negative operands, where truncation and flooring
// coincide. It never mutates its arguments. Panics if c is zero,
// matching big.Int division semantics.
func MulDiv(a, b, c *big.Int) *big.Int {
	r := new(big.Int).Mul(a, b)
	return r.Quo(r, c)
}

// TokenToUSD converts a token amount in native decimals to the USD scale
// at the given price (price is USD fixed-point per whole token).
func TokenToUSD(amount, price *big.Int, decimals uint32) *big.Int {
	return MulDiv(amount, price, Pow10(decimals))
}

// USDToToken converts a USD fixed-point amount to token-native units at
// the given price. Division truncates, so round-trips lose dust, never
// gain.
func USDToToken(usd, price *big.Int, decimals uint32) *big.Int {
	return MulDiv(usd, Pow10(decimals), price)
}

// AdjustDecimals rescales an amount from one decimal basis to another.
func AdjustDecimals(amount *big.Int, from, to uint32) *big.Int {
	if from == to {
		return new(big.Int).Set(amount)
	}
	if to > from {
		return new(big.Int).Mul(amount, Pow10(to-from))
	}
	return new(big.Int).Quo(new(big.Int).Set(amount), Pow10(from-to))
}

// BasisPointsOf returns amount * bps / 10_000, truncated.
func BasisPointsOf(amount *big.Int, bps uint64) *big.Int {
	return MulDiv(amount, new(big.Int).SetUint64(bps), big.NewInt(BasisPointsDivisor))
}

// AfterFee returns the amount remaining once feeBps basis points are
// deducted: amount * (10_000 - feeBps) / 10_000, truncated.
func AfterFee(amount *big.Int, feeBps uint64) *big.Int {
	keep := new(big.Int).SetUint64(BasisPointsDivisor - feeBps)
	return MulDiv(amount, keep, big.NewInt(BasisPointsDivisor))
}

// USDToDecimal renders a USD fixed-point amount as a human-readable
// decimal. Display only — never fed back into ledger arithmetic.
func USDToDecimal(usd *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(usd, -USDDecimals)
}

// TokenToDecimal renders a token-native amount as a human-readable
// decimal given the asset's decimals.
func TokenToDecimal(amount *big.Int, decimals uint32) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -int32(decimals))
}
