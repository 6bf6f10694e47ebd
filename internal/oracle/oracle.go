// Package oracle defines the price feed consumed by the ledger and a
// settable in-memory implementation used by the server and tests.
//
// Prices are USD fixed-point per whole token (10^30 scale). Quote options
// are threaded explicitly through every call for the duration of one
// ledger operation — never held as ambient mutable state.
package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// ErrNoPrice is returned when no quote exists for an asset.
var ErrNoPrice = errors.New("oracle: no price for asset")

// Quote carries per-call pricing options.
type Quote struct {
	// SwapPricing requests the feed's swap-specific pricing mode, if it
	// has one. The in-memory feed has a single price per side and
	// ignores it.
	SwapPricing bool

	// ExcludeSecondary drops the auxiliary price source from the quote.
	// Liquidations set this so a manipulated auxiliary feed cannot
	// influence their own price evaluation.
	ExcludeSecondary bool
}

// Oracle supplies min/max USD quotes per asset. Implementations must be
// queried fresh per operation; the ledger never caches quotes across
// calls.
type Oracle interface {
	MinPrice(asset string, q Quote) (*big.Int, error)
	MaxPrice(asset string, q Quote) (*big.Int, error)
}

// Static is a settable in-memory oracle. The primary price is
// authoritative; an optional secondary price widens the min/max band
// unless the caller excludes it.
type Static struct {
	mu        sync.RWMutex
	primary   map[string]*big.Int
	secondary map[string]*big.Int
}

// NewStatic creates an empty static oracle.
func NewStatic() *Static {
	return &Static{
		primary:   make(map[string]*big.Int),
		secondary: make(map[string]*big.Int),
	}
}

// SetPrice sets the primary USD price for an asset.
func (o *Static) SetPrice(asset string, price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.primary[asset] = new(big.Int).Set(price)
}

// SetSecondaryPrice sets the auxiliary price for an asset. Pass nil to
// clear it.
func (o *Static) SetSecondaryPrice(asset string, price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if price == nil {
		delete(o.secondary, asset)
		return
	}
	o.secondary[asset] = new(big.Int).Set(price)
}

func (o *Static) quote(asset string, q Quote, maximise bool) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	p, ok := o.primary[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, asset)
	}
	best := p
	if s, ok := o.secondary[asset]; ok && !q.ExcludeSecondary {
		if maximise == (s.Cmp(best) > 0) {
			best = s
		}
	}
	return new(big.Int).Set(best), nil
}

// MinPrice returns the lower bound of the quote band.
func (o *Static) MinPrice(asset string, q Quote) (*big.Int, error) {
	return o.quote(asset, q, false)
}

// MaxPrice returns the upper bound of the quote band.
func (o *Static) MaxPrice(asset string, q Quote) (*big.Int, error) {
	return o.quote(asset, q, true)
}
