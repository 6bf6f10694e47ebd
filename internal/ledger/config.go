package ledger

import (
	"fmt"
	"math/big"
	"time"

	"github.com/perpx/vault-engine/internal/fixed"
)

// Config holds the ledger's fee, funding, and risk parameters. All basis
// points divide by 10_000.
type Config struct {
	// Governance account allowed to change configuration and withdraw
	// fees.
	Gov string

	// Mint/burn and swap fees.
	MintBurnFeeBps   uint64
	SwapFeeBps       uint64
	StableSwapFeeBps uint64
	TaxBps           uint64
	StableTaxBps     uint64
	DynamicFees      bool

	// Margin and liquidation.
	MarginFeeBps      uint64
	LiquidationFeeUSD *big.Int // USD fixed-point, paid flat to the executor
	MaxLeverage       uint64   // bps: 50x = 500_000

	// Funding accrual.
	FundingInterval         time.Duration
	FundingRateFactor       uint64
	StableFundingRateFactor uint64

	// Unrealized profit below MinProfitBps of size is treated as zero
	// within MinProfitTime of the last increase.
	MinProfitTime time.Duration
}

// DefaultConfig returns production-shaped defaults.
func DefaultConfig(gov string) Config {
	return Config{
		Gov:                     gov,
		MintBurnFeeBps:          30,
		SwapFeeBps:              30,
		StableSwapFeeBps:        4,
		TaxBps:                  50,
		StableTaxBps:            20,
		DynamicFees:             false,
		MarginFeeBps:            10,
		LiquidationFeeUSD:       fixed.USD(5),
		MaxLeverage:             50 * fixed.BasisPointsDivisor,
		FundingInterval:         8 * time.Hour,
		FundingRateFactor:       600,
		StableFundingRateFactor: 600,
		MinProfitTime:           0,
	}
}

const (
	maxFeeBps          = 500
	maxFundingFactor   = 10_000
	minLeverageBps     = 2 * fixed.BasisPointsDivisor
	minFundingInterval = time.Minute
)

// Validate rejects configuration outside sane bounds.
func (c Config) Validate() error {
	for name, bps := range map[string]uint64{
		"mint_burn_fee": c.MintBurnFeeBps,
		"swap_fee":      c.SwapFeeBps,
		"stable_swap":   c.StableSwapFeeBps,
		"tax":           c.TaxBps,
		"stable_tax":    c.StableTaxBps,
		"margin_fee":    c.MarginFeeBps,
	} {
		if bps > maxFeeBps {
			return fmt.Errorf("%w: %s %d bps exceeds %d", ErrInvalidConfig, name, bps, maxFeeBps)
		}
	}
	if c.MaxLeverage < minLeverageBps {
		return fmt.Errorf("%w: max leverage %d below %d bps", ErrInvalidConfig, c.MaxLeverage, minLeverageBps)
	}
	if c.FundingRateFactor > maxFundingFactor || c.StableFundingRateFactor > maxFundingFactor {
		return fmt.Errorf("%w: funding factor exceeds %d", ErrInvalidConfig, maxFundingFactor)
	}
	if c.FundingInterval < minFundingInterval {
		return fmt.Errorf("%w: funding interval %s too short", ErrInvalidConfig, c.FundingInterval)
	}
	if c.LiquidationFeeUSD == nil || c.LiquidationFeeUSD.Sign() < 0 {
		return fmt.Errorf("%w: liquidation fee unset", ErrInvalidConfig)
	}
	return nil
}
