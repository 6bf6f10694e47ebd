package policy

import (
	"errors"
	"math/big"
	"testing"

	"github.com/perpx/vault-engine/internal/fixed"
	"github.com/perpx/vault-engine/internal/model"
)

func liqInput() LiquidationInput {
	return LiquidationInput{
		Size:              fixed.USD(10_000),
		Collateral:        fixed.USD(1000),
		HasProfit:         false,
		Delta:             new(big.Int),
		MarginFees:        fixed.USD(10),
		LiquidationFeeUSD: fixed.USD(5),
		MaxLeverage:       50 * fixed.BasisPointsDivisor,
	}
}

func TestEvaluateHealthy(t *testing.T) {
	out := StandardLiquidation{}.Evaluate(liqInput())
	if out.State != model.LiquidationHealthy {
		t.Fatalf("state = %v, want healthy", out.State)
	}
	if out.Reason != nil {
		t.Errorf("reason = %v, want nil", out.Reason)
	}
	if out.Fees.Cmp(fixed.USD(10)) != 0 {
		t.Errorf("fees = %s, want %s", out.Fees, fixed.USD(10))
	}
}

func TestEvaluateLossesExceedCollateral(t *testing.T) {
	in := liqInput()
	in.Delta = fixed.USD(1000) // loss == collateral counts as wiped out

	out := StandardLiquidation{}.Evaluate(in)
	if out.State != model.LiquidationInsolvent {
		t.Fatalf("state = %v, want insolvent", out.State)
	}
	if !errors.Is(out.Reason, ErrLossesExceedCollateral) {
		t.Errorf("reason = %v, want ErrLossesExceedCollateral", out.Reason)
	}
	if out.Fees.Cmp(fixed.USD(10)) != 0 {
		t.Errorf("fees = %s, want full margin fees", out.Fees)
	}
}

func TestEvaluateFeesExceedRemaining(t *testing.T) {
	// $1000 collateral, $996 loss: only $4 left against $10 margin
	// fees, so the collectable fee is capped at the remainder.
	in := liqInput()
	in.Delta = fixed.USD(996)

	out := StandardLiquidation{}.Evaluate(in)
	if out.State != model.LiquidationInsolvent {
		t.Fatalf("state = %v, want insolvent", out.State)
	}
	if !errors.Is(out.Reason, ErrFeesExceedCollateral) {
		t.Errorf("reason = %v, want ErrFeesExceedCollateral", out.Reason)
	}
	if out.Fees.Cmp(fixed.USD(4)) != 0 {
		t.Errorf("fees = %s, want %s", out.Fees, fixed.USD(4))
	}
}

func TestEvaluateLiquidationFeeDoesNotFit(t *testing.T) {
	// Margin fees fit but the flat liquidation fee does not; margin
	// fees stay collectable in full.
	in := liqInput()
	in.Delta = fixed.USD(988) // remaining $12 < $10 + $5

	out := StandardLiquidation{}.Evaluate(in)
	if out.State != model.LiquidationInsolvent {
		t.Fatalf("state = %v, want insolvent", out.State)
	}
	if !errors.Is(out.Reason, ErrFeesExceedCollateral) {
		t.Errorf("reason = %v, want ErrFeesExceedCollateral", out.Reason)
	}
	if out.Fees.Cmp(fixed.USD(10)) != 0 {
		t.Errorf("fees = %s, want %s", out.Fees, fixed.USD(10))
	}
}

func TestEvaluateMaxLeverage(t *testing.T) {
	// Loss leaves $150 against $10,000 notional: 66x, over the 50x cap
	// but still solvent.
	in := liqInput()
	in.Delta = fixed.USD(850)

	out := StandardLiquidation{}.Evaluate(in)
	if out.State != model.LiquidationMaxLeverage {
		t.Fatalf("state = %v, want max leverage", out.State)
	}
	if !errors.Is(out.Reason, ErrMaxLeverageExceeded) {
		t.Errorf("reason = %v, want ErrMaxLeverageExceeded", out.Reason)
	}
}

func TestEvaluateProfitIgnoresDelta(t *testing.T) {
	// A profitable position with thin collateral is still healthy as
	// long as fees fit and leverage is in range.
	in := liqInput()
	in.HasProfit = true
	in.Delta = fixed.USD(5000)
	in.Collateral = fixed.USD(250) // 40x

	out := StandardLiquidation{}.Evaluate(in)
	if out.State != model.LiquidationHealthy {
		t.Fatalf("state = %v, want healthy", out.State)
	}
}
