// Package bank provides the asset custody book and the synthetic
// accounting unit backing the vault ledger.
//
// The ledger never trusts caller-declared transfer amounts: it derives
// inbound amounts from the custody balance delta since its last
// observation, which is why Custody only exposes balances and outbound
// transfers.
package bank

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

var (
	// ErrInsufficientBalance is returned when a transfer-out exceeds the
	// held balance.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")

	// ErrNonPositiveAmount is returned for zero or negative amounts.
	ErrNonPositiveAmount = errors.New("bank: amount must be positive")
)

// Custody is the asset-transfer collaborator seen by the ledger.
type Custody interface {
	// Balance returns the engine's current held balance for an asset.
	Balance(asset string) *big.Int

	// TransferOut debits the engine's held balance and credits the
	// receiver.
	TransferOut(asset, receiver string, amount *big.Int) error
}

// Book is an in-memory custody ledger: engine-held balances per asset
// plus credited balances per external receiver.
type Book struct {
	mu       sync.RWMutex
	held     map[string]*big.Int
	credited map[string]map[string]*big.Int // receiver -> asset -> amount
}

// NewBook creates an empty custody book.
func NewBook() *Book {
	return &Book{
		held:     make(map[string]*big.Int),
		credited: make(map[string]map[string]*big.Int),
	}
}

// Deposit credits the engine's held balance. This models an external
// inbound transfer; the ledger discovers it via the balance delta.
func (b *Book) Deposit(asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: deposit %s", ErrNonPositiveAmount, asset)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.held[asset]
	if !ok {
		cur = new(big.Int)
		b.held[asset] = cur
	}
	cur.Add(cur, amount)
	return nil
}

// Balance returns the engine's held balance for an asset.
func (b *Book) Balance(asset string) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if cur, ok := b.held[asset]; ok {
		return new(big.Int).Set(cur)
	}
	return new(big.Int)
}

// TransferOut debits the engine and credits the receiver.
func (b *Book) TransferOut(asset, receiver string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: transfer out %s", ErrNonPositiveAmount, asset)
	}
	if amount.Sign() == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.held[asset]
	if !ok || cur.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, asset)
	}
	cur.Sub(cur, amount)

	acct, ok := b.credited[receiver]
	if !ok {
		acct = make(map[string]*big.Int)
		b.credited[receiver] = acct
	}
	got, ok := acct[asset]
	if !ok {
		got = new(big.Int)
		acct[asset] = got
	}
	got.Add(got, amount)
	return nil
}

// Credited returns what a receiver has been paid out in an asset.
func (b *Book) Credited(receiver, asset string) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if acct, ok := b.credited[receiver]; ok {
		if got, ok := acct[asset]; ok {
			return new(big.Int).Set(got)
		}
	}
	return new(big.Int)
}
