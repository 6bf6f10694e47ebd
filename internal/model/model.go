// Package model defines the core domain types shared across the vault
// engine. All USD quantities are *big.Int at the 10^30 fixed-point scale;
// token amounts are *big.Int in the asset's native decimals.
package model

import (
	"math/big"
	"time"
)

// Asset describes one whitelisted token and its risk parameters.
type Asset struct {
	Symbol       string `json:"symbol"`
	Decimals     uint32 `json:"decimals"`
	Weight       uint64 `json:"weight"` // target share of pooled value
	IsStable     bool   `json:"is_stable"`
	IsShortable  bool   `json:"is_shortable"`
	MinProfitBps uint64 `json:"min_profit_bps"`

	// MaxDebtCeiling caps outstanding accounting-unit debt attributed to
	// this asset, in unit decimals. Zero means unlimited.
	MaxDebtCeiling *big.Int `json:"max_debt_ceiling"`
}

// PoolEntry is the per-asset pool ledger entry. Token-native integer
// units unless noted otherwise.
type PoolEntry struct {
	// ObservedBalance is the last-known actual held balance. Inbound
	// amounts are always derived from custody deltas against it, never
	// from caller-declared amounts.
	ObservedBalance *big.Int `json:"observed_balance"`

	// PoolAmount is the liquidity available for leverage and redemption.
	PoolAmount *big.Int `json:"pool_amount"`

	// ReservedAmount is earmarked to pay out open positions.
	// Invariant: ReservedAmount <= PoolAmount.
	ReservedAmount *big.Int `json:"reserved_amount"`

	// BufferAmount is the floor below which PoolAmount may not fall
	// from a swap-out or redemption.
	BufferAmount *big.Int `json:"buffer_amount"`

	// FeeReserve accumulates fees, withdrawable by governance. Held
	// outside PoolAmount.
	FeeReserve *big.Int `json:"fee_reserve"`

	// DebtUnits is the outstanding accounting-unit debt attributed to
	// this asset, in unit decimals. Drives the mean-reversion fee skew.
	DebtUnits *big.Int `json:"debt_units"`

	// GuaranteedUSD is the aggregate (size - collateral) over open longs,
	// USD fixed-point.
	GuaranteedUSD *big.Int `json:"guaranteed_usd"`

	// CumulativeFundingRate is the monotonic funding accumulator at
	// FundingRatePrecision scale.
	CumulativeFundingRate *big.Int `json:"cumulative_funding_rate"`

	// LastFundingTime is the interval-aligned unix timestamp of the last
	// accrual. Zero until first touch.
	LastFundingTime int64 `json:"last_funding_time"`

	// Aggregate short exposure where this asset is the index.
	GlobalShortSize         *big.Int `json:"global_short_size"`          // USD
	GlobalShortAveragePrice *big.Int `json:"global_short_average_price"` // USD
	MaxGlobalShortSize      *big.Int `json:"max_global_short_size"`      // USD, 0 = uncapped
}

// NewPoolEntry returns a zeroed pool entry with all amounts allocated.
func NewPoolEntry() *PoolEntry {
	return &PoolEntry{
		ObservedBalance:         new(big.Int),
		PoolAmount:              new(big.Int),
		ReservedAmount:          new(big.Int),
		BufferAmount:            new(big.Int),
		FeeReserve:              new(big.Int),
		DebtUnits:               new(big.Int),
		GuaranteedUSD:           new(big.Int),
		CumulativeFundingRate:   new(big.Int),
		GlobalShortSize:         new(big.Int),
		GlobalShortAveragePrice: new(big.Int),
		MaxGlobalShortSize:      new(big.Int),
	}
}

// Clone returns a deep copy. Mutators work on clones and commit them on
// success so a failed operation never leaves partial state behind.
func (e *PoolEntry) Clone() *PoolEntry {
	c := *e
	c.ObservedBalance = new(big.Int).Set(e.ObservedBalance)
	c.PoolAmount = new(big.Int).Set(e.PoolAmount)
	c.ReservedAmount = new(big.Int).Set(e.ReservedAmount)
	c.BufferAmount = new(big.Int).Set(e.BufferAmount)
	c.FeeReserve = new(big.Int).Set(e.FeeReserve)
	c.DebtUnits = new(big.Int).Set(e.DebtUnits)
	c.GuaranteedUSD = new(big.Int).Set(e.GuaranteedUSD)
	c.CumulativeFundingRate = new(big.Int).Set(e.CumulativeFundingRate)
	c.GlobalShortSize = new(big.Int).Set(e.GlobalShortSize)
	c.GlobalShortAveragePrice = new(big.Int).Set(e.GlobalShortAveragePrice)
	c.MaxGlobalShortSize = new(big.Int).Set(e.MaxGlobalShortSize)
	return &c
}

// PositionKey identifies one leveraged exposure record.
type PositionKey struct {
	Account         string `json:"account"`
	CollateralAsset string `json:"collateral_asset"`
	IndexAsset      string `json:"index_asset"`
	IsLong          bool   `json:"is_long"`
}

// Position is a leveraged exposure record. USD fixed-point unless noted.
// Invariants: Size == 0 implies Collateral == 0; Size > 0 implies
// Size >= Collateral.
type Position struct {
	Size              *big.Int `json:"size"`               // notional, USD
	Collateral        *big.Int `json:"collateral"`         // USD
	AveragePrice      *big.Int `json:"average_price"`      // USD
	EntryFundingRate  *big.Int `json:"entry_funding_rate"` // accumulator snapshot
	ReserveAmount     *big.Int `json:"reserve_amount"`     // token-native units
	RealisedPnl       *big.Int `json:"realised_pnl"`       // signed USD
	LastIncreasedTime int64    `json:"last_increased_time"`
}

// NewPosition returns a zeroed position with all amounts allocated.
func NewPosition() *Position {
	return &Position{
		Size:             new(big.Int),
		Collateral:       new(big.Int),
		AveragePrice:     new(big.Int),
		EntryFundingRate: new(big.Int),
		ReserveAmount:    new(big.Int),
		RealisedPnl:      new(big.Int),
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	c := *p
	c.Size = new(big.Int).Set(p.Size)
	c.Collateral = new(big.Int).Set(p.Collateral)
	c.AveragePrice = new(big.Int).Set(p.AveragePrice)
	c.EntryFundingRate = new(big.Int).Set(p.EntryFundingRate)
	c.ReserveAmount = new(big.Int).Set(p.ReserveAmount)
	c.RealisedPnl = new(big.Int).Set(p.RealisedPnl)
	return &c
}

// LiquidationState is the three-way solvency classification.
type LiquidationState int

const (
	// LiquidationHealthy means nothing to liquidate.
	LiquidationHealthy LiquidationState = iota

	// LiquidationInsolvent means losses or fees exceed collateral; the
	// position is seized.
	LiquidationInsolvent

	// LiquidationMaxLeverage means the leverage ceiling is exceeded but
	// the position remains solvent; it is closed normally with proceeds
	// to the owner.
	LiquidationMaxLeverage
)

func (s LiquidationState) String() string {
	switch s {
	case LiquidationHealthy:
		return "healthy"
	case LiquidationInsolvent:
		return "insolvent"
	case LiquidationMaxLeverage:
		return "max_leverage"
	default:
		return "unknown"
	}
}

// Change-record operation names.
const (
	OpBuy          = "buy"
	OpSell         = "sell"
	OpSwap         = "swap"
	OpIncrease     = "increase_position"
	OpDecrease     = "decrease_position"
	OpLiquidate    = "liquidate_position"
	OpFunding      = "accrue_funding"
	OpWithdrawFees = "withdraw_fees"
)

// ChangeRecord is an immutable journal entry emitted by every successful
// ledger mutation. Once created, these are never modified or deleted.
type ChangeRecord struct {
	ID            string    `json:"id" db:"id"`
	Op            string    `json:"op" db:"op"`
	Asset         string    `json:"asset" db:"asset"`
	CounterAsset  string    `json:"counter_asset,omitempty" db:"counter_asset"` // swap out-leg or index asset
	Account       string    `json:"account,omitempty" db:"account"`
	TokenDelta    *big.Int  `json:"token_delta" db:"token_delta"` // signed, native units
	USDDelta      *big.Int  `json:"usd_delta" db:"usd_delta"`     // signed, USD fixed-point
	PoolAfter     *big.Int  `json:"pool_after" db:"pool_after"`
	ReservedAfter *big.Int  `json:"reserved_after" db:"reserved_after"`
	DebtAfter     *big.Int  `json:"debt_after" db:"debt_after"`
	FundingAfter  *big.Int  `json:"funding_after" db:"funding_after"` // cumulative funding rate
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
}
