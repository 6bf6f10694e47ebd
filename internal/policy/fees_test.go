package policy

import (
	"math/big"
	"testing"

	"github.com/perpx/vault-engine/internal/fixed"
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixed.Pow10(fixed.UnitDecimals))
}

func feeInput(initial, delta, target int64, increment bool) FeeInput {
	return FeeInput{
		BaseBps:     30,
		TaxBps:      50,
		Dynamic:     true,
		InitialDebt: units(initial),
		DebtDelta:   units(delta),
		TargetDebt:  units(target),
		Increment:   increment,
	}
}

func TestFeeBasisPointsStatic(t *testing.T) {
	in := feeInput(0, 1000, 1000, true)
	in.Dynamic = false
	if got := (StandardFees{}).FeeBasisPoints(in); got != 30 {
		t.Errorf("static fee = %d, want 30", got)
	}
}

func TestFeeBasisPointsZeroTargetFallsBack(t *testing.T) {
	in := feeInput(500, 100, 0, true)
	if got := (StandardFees{}).FeeBasisPoints(in); got != 30 {
		t.Errorf("zero-target fee = %d, want base 30", got)
	}
}

func TestFeeBasisPointsRebate(t *testing.T) {
	// Debt 500 below a 1000 target; adding 400 moves toward it.
	// Rebate = 50 * 500/1000 = 25, fee = 30 - 25 = 5.
	in := feeInput(500, 400, 1000, true)
	if got := (StandardFees{}).FeeBasisPoints(in); got != 5 {
		t.Errorf("rebalancing fee = %d, want 5", got)
	}
}

func TestFeeBasisPointsRebateFloorsAtZero(t *testing.T) {
	// Deviation equal to the target: rebate 50 exceeds base 30.
	in := feeInput(2000, 500, 1000, false)
	if got := (StandardFees{}).FeeBasisPoints(in); got != 0 {
		t.Errorf("fee = %d, want 0", got)
	}
}

func TestFeeBasisPointsSurcharge(t *testing.T) {
	// At target; adding 400 moves away. Average deviation is 200, so
	// surcharge = 50 * 200/1000 = 10, fee = 30 + 10 = 40.
	in := feeInput(1000, 400, 1000, true)
	if got := (StandardFees{}).FeeBasisPoints(in); got != 40 {
		t.Errorf("imbalancing fee = %d, want 40", got)
	}
}

func TestFeeBasisPointsSurchargeCapsAtTarget(t *testing.T) {
	// Huge flow: average deviation clamps to the target, so the
	// surcharge tops out at the full tax.
	in := feeInput(1000, 100_000, 1000, true)
	if got := (StandardFees{}).FeeBasisPoints(in); got != 80 {
		t.Errorf("capped fee = %d, want 80", got)
	}
}

func TestFeeBasisPointsSplitFlowCostsSame(t *testing.T) {
	// One swap of 400 away from target must cost the same bps-weighted
	// fee as two swaps of 200 each.
	var fees StandardFees

	whole := fees.FeeBasisPoints(feeInput(1000, 400, 1000, true))
	wholeCost := new(big.Int).Mul(units(400), new(big.Int).SetUint64(whole))

	first := fees.FeeBasisPoints(feeInput(1000, 200, 1000, true))
	second := fees.FeeBasisPoints(feeInput(1200, 200, 1000, true))
	splitCost := new(big.Int).Mul(units(200), new(big.Int).SetUint64(first))
	splitCost.Add(splitCost, new(big.Int).Mul(units(200), new(big.Int).SetUint64(second)))

	if wholeCost.Cmp(splitCost) != 0 {
		t.Errorf("whole cost %s != split cost %s", wholeCost, splitCost)
	}
}

func TestPositionFee(t *testing.T) {
	got := StandardFees{}.PositionFee(fixed.USD(9000), 10)
	if got.Cmp(fixed.USD(9)) != 0 {
		t.Errorf("position fee = %s, want %s", got, fixed.USD(9))
	}
	if got := (StandardFees{}).PositionFee(nil, 10); got.Sign() != 0 {
		t.Errorf("nil size fee = %s, want 0", got)
	}
}

func TestFundingFee(t *testing.T) {
	size := fixed.USD(100_000)
	entry := big.NewInt(1000)
	cum := big.NewInt(1600)

	// 100_000 * 600 / 1e6 = $60.
	got := StandardFees{}.FundingFee(size, entry, cum)
	if got.Cmp(fixed.USD(60)) != 0 {
		t.Errorf("funding fee = %s, want %s", got, fixed.USD(60))
	}
}

func TestFundingFeeZeroWhenNothingAccrued(t *testing.T) {
	size := fixed.USD(100_000)
	if got := (StandardFees{}).FundingFee(size, big.NewInt(500), big.NewInt(500)); got.Sign() != 0 {
		t.Errorf("funding fee = %s, want 0", got)
	}
	if got := (StandardFees{}).FundingFee(new(big.Int), big.NewInt(0), big.NewInt(900)); got.Sign() != 0 {
		t.Errorf("funding fee on zero size = %s, want 0", got)
	}
}

func TestFundingRate(t *testing.T) {
	reserved := big.NewInt(3_000_000)
	pool := big.NewInt(10_000_000)

	// 600 * 3e6 * 2 / 1e7 = 360.
	got := StandardFees{}.FundingRate(600, reserved, pool, 2)
	if got.Cmp(big.NewInt(360)) != 0 {
		t.Errorf("funding rate = %s, want 360", got)
	}
}

func TestFundingRateEmptyPool(t *testing.T) {
	if got := (StandardFees{}).FundingRate(600, big.NewInt(100), new(big.Int), 1); got.Sign() != 0 {
		t.Errorf("funding rate on empty pool = %s, want 0", got)
	}
}
