package ledger

import (
	"errors"

	"github.com/perpx/vault-engine/internal/policy"
)

// Errors are grouped by kind so callers can distinguish a retryable
// rejection (adjust parameters, resubmit) from a permanent one. Classify
// with errors.Is, or coarsely with Kind.

// Authorization errors.
var (
	ErrUnauthorized = errors.New("ledger: caller not authorized")
)

// Validation errors.
var (
	ErrAssetNotWhitelisted = errors.New("ledger: asset not whitelisted")
	ErrZeroAmount          = errors.New("ledger: zero amount")
	ErrSameAssets          = errors.New("ledger: in and out assets are identical")
	ErrInvalidPair         = errors.New("ledger: invalid collateral/index pair")
	ErrLeverageDisabled    = errors.New("ledger: leverage is disabled")
	ErrInvalidConfig       = errors.New("ledger: invalid configuration")
)

// Solvency errors.
var (
	ErrReserveExceedsPool     = errors.New("ledger: reserved amount exceeds pool")
	ErrPoolExceedsBalance     = errors.New("ledger: pool amount exceeds observed balance")
	ErrInsufficientPool       = errors.New("ledger: insufficient pool amount")
	ErrBufferBreached         = errors.New("ledger: pool would fall below buffer")
	ErrDebtCeilingExceeded    = errors.New("ledger: debt ceiling exceeded")
	ErrInsufficientCollateral = errors.New("ledger: insufficient collateral")
	ErrSizeBelowCollateral    = errors.New("ledger: size below collateral")
	ErrMaxShortsExceeded      = errors.New("ledger: max global short size exceeded")
)

// State errors.
var (
	ErrPositionNotFound = errors.New("ledger: position does not exist")
	ErrPositionHealthy  = errors.New("ledger: position cannot be liquidated")
	ErrReentrantCall    = errors.New("ledger: reentrant call rejected")
)

// Kind buckets for error classification.
const (
	KindAuthorization = "authorization"
	KindValidation    = "validation"
	KindSolvency      = "solvency"
	KindState         = "state"
	KindInternal      = "internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrUnauthorized, KindAuthorization},
	{ErrAssetNotWhitelisted, KindValidation},
	{ErrZeroAmount, KindValidation},
	{ErrSameAssets, KindValidation},
	{ErrInvalidPair, KindValidation},
	{ErrLeverageDisabled, KindValidation},
	{ErrInvalidConfig, KindValidation},
	{ErrReserveExceedsPool, KindSolvency},
	{ErrPoolExceedsBalance, KindSolvency},
	{ErrInsufficientPool, KindSolvency},
	{ErrBufferBreached, KindSolvency},
	{ErrDebtCeilingExceeded, KindSolvency},
	{ErrInsufficientCollateral, KindSolvency},
	{ErrSizeBelowCollateral, KindSolvency},
	{ErrMaxShortsExceeded, KindSolvency},
	{policy.ErrLossesExceedCollateral, KindSolvency},
	{policy.ErrFeesExceedCollateral, KindSolvency},
	{policy.ErrMaxLeverageExceeded, KindSolvency},
	{ErrPositionNotFound, KindState},
	{ErrPositionHealthy, KindState},
	{ErrReentrantCall, KindState},
}

// Kind returns the taxonomy bucket for a ledger error, or KindInternal
// for anything unrecognized.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
