package policy

import (
	"errors"
	"math/big"

	"github.com/perpx/vault-engine/internal/fixed"
	"github.com/perpx/vault-engine/internal/model"
)

var (
	// ErrLossesExceedCollateral marks a position whose unrealized loss
	// meets or exceeds its collateral.
	ErrLossesExceedCollateral = errors.New("policy: losses exceed collateral")

	// ErrFeesExceedCollateral marks a position whose collateral cannot
	// cover the accrued margin and liquidation fees.
	ErrFeesExceedCollateral = errors.New("policy: fees exceed collateral")

	// ErrMaxLeverageExceeded marks a solvent position above the leverage
	// ceiling.
	ErrMaxLeverageExceeded = errors.New("policy: max leverage exceeded")
)

// LiquidationInput is the snapshot a classification runs over. The caller
// evaluates unrealized PnL and margin fees first; the policy only
// classifies.
type LiquidationInput struct {
	Size       *big.Int // USD notional
	Collateral *big.Int // USD

	// HasProfit and Delta describe unrealized PnL at current prices.
	HasProfit bool
	Delta     *big.Int // unsigned USD

	// MarginFees is funding fee plus position fee at current size, USD.
	MarginFees *big.Int

	// LiquidationFeeUSD is the flat fee paid to the liquidation executor.
	LiquidationFeeUSD *big.Int

	// MaxLeverage is the leverage ceiling in basis points (50x = 500000).
	MaxLeverage uint64
}

// Outcome is a liquidation classification. Fees is the amount collectable
// from the position, capped to what the collateral can bear. Reason is
// non-nil for any non-healthy state and names the binding constraint.
type Outcome struct {
	State  model.LiquidationState
	Fees   *big.Int
	Reason error
}

// LiquidationPolicy classifies a position's solvency.
type LiquidationPolicy interface {
	Evaluate(in LiquidationInput) Outcome
}

// StandardLiquidation is the default LiquidationPolicy.
type StandardLiquidation struct{}

// NewStandardLiquidation creates the default liquidation policy.
func NewStandardLiquidation() *StandardLiquidation {
	return &StandardLiquidation{}
}

// Evaluate runs the three-state classification.
func (StandardLiquidation) Evaluate(in LiquidationInput) Outcome {
	// Loss meets or exceeds collateral: seized, full margin fee reported.
	if !in.HasProfit && in.Collateral.Cmp(in.Delta) <= 0 {
		return Outcome{
			State:  model.LiquidationInsolvent,
			Fees:   new(big.Int).Set(in.MarginFees),
			Reason: ErrLossesExceedCollateral,
		}
	}

	remaining := new(big.Int).Set(in.Collateral)
	if !in.HasProfit {
		remaining.Sub(remaining, in.Delta)
	}

	// Collateral net of losses cannot cover margin fees: collectable
	// fees are capped to what is left.
	if remaining.Cmp(in.MarginFees) < 0 {
		return Outcome{
			State:  model.LiquidationInsolvent,
			Fees:   remaining,
			Reason: ErrFeesExceedCollateral,
		}
	}

	// Margin fees fit but the flat liquidation fee does not.
	withLiqFee := new(big.Int).Add(in.MarginFees, in.LiquidationFeeUSD)
	if remaining.Cmp(withLiqFee) < 0 {
		return Outcome{
			State:  model.LiquidationInsolvent,
			Fees:   new(big.Int).Set(in.MarginFees),
			Reason: ErrFeesExceedCollateral,
		}
	}

	// Solvent but over the leverage ceiling.
	lhs := new(big.Int).Mul(remaining, new(big.Int).SetUint64(in.MaxLeverage))
	rhs := new(big.Int).Mul(in.Size, big.NewInt(fixed.BasisPointsDivisor))
	if lhs.Cmp(rhs) < 0 {
		return Outcome{
			State:  model.LiquidationMaxLeverage,
			Fees:   new(big.Int).Set(in.MarginFees),
			Reason: ErrMaxLeverageExceeded,
		}
	}

	return Outcome{
		State: model.LiquidationHealthy,
		Fees:  new(big.Int).Set(in.MarginFees),
	}
}
