// Package policy implements the pluggable fee and liquidation strategies
// consulted by the vault ledger.
//
// Both policies are pure: they compute over explicit state snapshots
// passed as arguments and hold no ledger state of their own, so
// alternative policies can be injected without touching ledger internals.
//
// The dynamic fee follows a mean-reversion rule over accounting-unit
// debt. Flows that move an asset's debt toward its target weight earn a
// rebate; flows that move it away pay a surcharge computed on the average
// of the before/after deviations, which makes one large swap cost the
// same as the equivalent series of small swaps.
package policy

import (
	"math/big"

	"github.com/perpx/vault-engine/internal/fixed"
)

// FeeInput is the ledger-state snapshot for one fee quote.
type FeeInput struct {
	// BaseBps is the flat fee in basis points when dynamic fees are off.
	BaseBps uint64

	// TaxBps scales the dynamic tax/rebate.
	TaxBps uint64

	// Dynamic enables the mean-reversion adjustment.
	Dynamic bool

	// InitialDebt is the asset's current accounting-unit debt.
	InitialDebt *big.Int

	// DebtDelta is the unsigned debt change the action would cause.
	DebtDelta *big.Int

	// TargetDebt is weight * totalUnitSupply / totalWeight for the asset.
	TargetDebt *big.Int

	// Increment is true when the action adds debt to the asset.
	Increment bool
}

// FeePolicy computes fee basis points and margin fees from ledger-state
// snapshots.
type FeePolicy interface {
	// FeeBasisPoints returns the swap/mint/burn fee in basis points.
	FeeBasisPoints(in FeeInput) uint64

	// PositionFee returns the USD fee for a notional size change.
	PositionFee(sizeDelta *big.Int, marginFeeBps uint64) *big.Int

	// FundingFee returns the USD funding owed on a position since its
	// entry-rate snapshot.
	FundingFee(size, entryRate, cumulativeRate *big.Int) *big.Int

	// FundingRate returns the accumulator increment for a number of
	// elapsed funding intervals at the given utilization.
	FundingRate(factor uint64, reserved, pool *big.Int, intervals int64) *big.Int
}

// StandardFees is the default FeePolicy.
type StandardFees struct{}

// NewStandardFees creates the default fee policy.
func NewStandardFees() *StandardFees {
	return &StandardFees{}
}

// FeeBasisPoints implements the mean-reversion tax/rebate.
func (StandardFees) FeeBasisPoints(in FeeInput) uint64 {
	if !in.Dynamic {
		return in.BaseBps
	}
	if in.TargetDebt == nil || in.TargetDebt.Sign() == 0 {
		return in.BaseBps
	}

	initial := in.InitialDebt
	if initial == nil {
		initial = new(big.Int)
	}
	next := new(big.Int)
	if in.Increment {
		next.Add(initial, in.DebtDelta)
	} else if in.DebtDelta.Cmp(initial) < 0 {
		next.Sub(initial, in.DebtDelta)
	}

	initialDiff := new(big.Int).Sub(initial, in.TargetDebt)
	initialDiff.Abs(initialDiff)
	nextDiff := new(big.Int).Sub(next, in.TargetDebt)
	nextDiff.Abs(nextDiff)

	tax := new(big.Int).SetUint64(in.TaxBps)

	// Action rebalances toward target: rebate, floored at zero.
	if nextDiff.Cmp(initialDiff) < 0 {
		rebate := fixed.MulDiv(tax, initialDiff, in.TargetDebt).Uint64()
		if rebate > in.BaseBps {
			return 0
		}
		return in.BaseBps - rebate
	}

	// Action worsens imbalance: surcharge on the average deviation so
	// splitting a flow into pieces changes nothing.
	averageDiff := new(big.Int).Add(initialDiff, nextDiff)
	averageDiff.Rsh(averageDiff, 1)
	if averageDiff.Cmp(in.TargetDebt) > 0 {
		averageDiff.Set(in.TargetDebt)
	}
	return in.BaseBps + fixed.MulDiv(tax, averageDiff, in.TargetDebt).Uint64()
}

// PositionFee is sizeDelta * marginFeeBps / 10_000.
func (StandardFees) PositionFee(sizeDelta *big.Int, marginFeeBps uint64) *big.Int {
	if sizeDelta == nil || sizeDelta.Sign() == 0 {
		return new(big.Int)
	}
	afterFee := fixed.AfterFee(sizeDelta, marginFeeBps)
	return new(big.Int).Sub(sizeDelta, afterFee)
}

// FundingFee is size * (cumulativeRate - entryRate) / FundingRatePrecision.
func (StandardFees) FundingFee(size, entryRate, cumulativeRate *big.Int) *big.Int {
	if size == nil || size.Sign() == 0 {
		return new(big.Int)
	}
	accrued := new(big.Int).Sub(cumulativeRate, entryRate)
	if accrued.Sign() <= 0 {
		return new(big.Int)
	}
	return fixed.MulDiv(size, accrued, big.NewInt(fixed.FundingRatePrecision))
}

// FundingRate is factor * reserved * intervals / pool, zero when the pool
// is empty.
func (StandardFees) FundingRate(factor uint64, reserved, pool *big.Int, intervals int64) *big.Int {
	if pool == nil || pool.Sign() == 0 {
		return new(big.Int)
	}
	r := new(big.Int).SetUint64(factor)
	r.Mul(r, reserved)
	r.Mul(r, big.NewInt(intervals))
	return r.Quo(r, pool)
}
