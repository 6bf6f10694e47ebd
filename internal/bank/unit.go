package bank

import (
	"fmt"
	"math/big"
	"sync"
)

// Unit is the synthetic accounting unit minted against deposits. It
// carries 18 decimals. The ledger is the sole holder of mint/burn
// authority: nothing else in the engine is handed a *Unit, only balance
// reads and transfers through the service layer.
type Unit struct {
	mu       sync.RWMutex
	balances map[string]*big.Int
	supply   *big.Int
}

// NewUnit creates the accounting unit with zero supply.
func NewUnit() *Unit {
	return &Unit{
		balances: make(map[string]*big.Int),
		supply:   new(big.Int),
	}
}

// TotalSupply returns the outstanding unit supply.
func (u *Unit) TotalSupply() *big.Int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return new(big.Int).Set(u.supply)
}

// BalanceOf returns a holder's unit balance.
func (u *Unit) BalanceOf(holder string) *big.Int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if cur, ok := u.balances[holder]; ok {
		return new(big.Int).Set(cur)
	}
	return new(big.Int)
}

// Mint creates amount units for receiver.
func (u *Unit) Mint(receiver string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: mint", ErrNonPositiveAmount)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	cur, ok := u.balances[receiver]
	if !ok {
		cur = new(big.Int)
		u.balances[receiver] = cur
	}
	cur.Add(cur, amount)
	u.supply.Add(u.supply, amount)
	return nil
}

// Burn destroys amount units held by holder.
func (u *Unit) Burn(holder string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: burn", ErrNonPositiveAmount)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	cur, ok := u.balances[holder]
	if !ok || cur.Cmp(amount) < 0 {
		return fmt.Errorf("%w: burn from %s", ErrInsufficientBalance, holder)
	}
	cur.Sub(cur, amount)
	u.supply.Sub(u.supply, amount)
	return nil
}

// Transfer moves units between holders.
func (u *Unit) Transfer(from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: transfer", ErrNonPositiveAmount)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	src, ok := u.balances[from]
	if !ok || src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: transfer from %s", ErrInsufficientBalance, from)
	}
	dst, ok := u.balances[to]
	if !ok {
		dst = new(big.Int)
		u.balances[to] = dst
	}
	src.Sub(src, amount)
	dst.Add(dst, amount)
	return nil
}
