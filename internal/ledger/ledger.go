// Package ledger implements the vault: a central ledger of pooled
// collateral per whitelisted asset that mints and burns a synthetic
// accounting unit against deposits, swaps between pooled assets, and
// carries leveraged long/short positions with funding-rate accrual, fee
// computation, and liquidation.
//
// Every public mutating operation is atomic: it works on clones of the
// affected pool entries and positions and commits them only after all
// validation passes, so a failed call never leaves partial state behind.
// A reentrancy latch rejects any ledger call made from within another
// (for example via an oracle or custody callback). Inbound amounts are
// always derived from custody balance deltas, never from caller-declared
// amounts.
//
// Fee and liquidation decisions are delegated to the injected
// policy.FeePolicy and policy.LiquidationPolicy strategies.
package ledger

import (
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/perpx/vault-engine/internal/bank"
	"github.com/perpx/vault-engine/internal/fixed"
	"github.com/perpx/vault-engine/internal/model"
	"github.com/perpx/vault-engine/internal/oracle"
	"github.com/perpx/vault-engine/internal/policy"
)

// LedgerAccount is the unit-token account under which the ledger holds
// accounting units transferred in for redemption.
const LedgerAccount = "vault"

// Ledger owns all pool and position state.
type Ledger struct {
	cfg     Config
	oracle  oracle.Oracle
	custody bank.Custody
	unit    *bank.Unit
	fees    policy.FeePolicy
	liq     policy.LiquidationPolicy

	// latch rejects reentrant invocation; the service layer serializes
	// concurrent callers above this.
	latch atomic.Bool

	mu          sync.RWMutex
	assets      map[string]*model.Asset
	assetOrder  []string
	totalWeight uint64
	pool        map[string]*model.PoolEntry
	positions   map[model.PositionKey]*model.Position

	// observedUnits is the ledger's last-known accounting-unit balance,
	// used to measure unit transfer-ins the same way as asset deposits.
	observedUnits *big.Int

	router            string
	delegates         map[string]map[string]bool // account -> delegate
	liquidators       map[string]bool
	publicLiquidation bool
	leverageEnabled   bool

	now func() time.Time

	onChange func(model.ChangeRecord)
}

// New constructs a ledger around its collaborators.
func New(cfg Config, o oracle.Oracle, custody bank.Custody, unit *bank.Unit,
	fees policy.FeePolicy, liq policy.LiquidationPolicy) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		cfg:             cfg,
		oracle:          o,
		custody:         custody,
		unit:            unit,
		fees:            fees,
		liq:             liq,
		assets:          make(map[string]*model.Asset),
		pool:            make(map[string]*model.PoolEntry),
		positions:       make(map[model.PositionKey]*model.Position),
		observedUnits:   new(big.Int),
		delegates:       make(map[string]map[string]bool),
		liquidators:     make(map[string]bool),
		leverageEnabled: true,
		now:             time.Now,
	}, nil
}

// SetChangeHook installs the callback invoked with each change record
// after a successful mutation commits. Must be set before use, not
// concurrently with operations.
func (v *Ledger) SetChangeHook(fn func(model.ChangeRecord)) {
	v.onChange = fn
}

// Restore installs pool and position snapshots saved by a previous run.
// Call once on a freshly constructed ledger, before whitelisting assets
// or serving traffic; custody must already hold each entry's observed
// balance so balance-delta accounting lines up.
func (v *Ledger) Restore(entries map[string]*model.PoolEntry,
	positions map[model.PositionKey]*model.Position) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.pool) > 0 || len(v.positions) > 0 {
		return fmt.Errorf("%w: restore into a non-empty ledger", ErrInvalidConfig)
	}
	for asset, e := range entries {
		if e.PoolAmount.Cmp(e.ObservedBalance) > 0 {
			return fmt.Errorf("%w: %s snapshot pool %s > balance %s", ErrPoolExceedsBalance,
				asset, e.PoolAmount, e.ObservedBalance)
		}
		if bal := v.custody.Balance(asset); bal.Cmp(e.ObservedBalance) < 0 {
			return fmt.Errorf("%w: %s custody %s < snapshot balance %s", ErrPoolExceedsBalance,
				asset, bal, e.ObservedBalance)
		}
		v.pool[asset] = e.Clone()
	}
	for key, p := range positions {
		if p.Size.Sign() == 0 {
			continue
		}
		v.positions[key] = p.Clone()
	}
	return nil
}

// enter acquires the reentrancy latch.
func (v *Ledger) enter() error {
	if !v.latch.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (v *Ledger) exit() {
	v.latch.Store(false)
}

// --- Governance / configuration ---

func (v *Ledger) requireGov(caller string) error {
	if caller != v.cfg.Gov {
		return fmt.Errorf("%w: %s is not governance", ErrUnauthorized, caller)
	}
	return nil
}

// WhitelistAsset registers or updates an asset's configuration. A fresh
// asset gets a zeroed pool entry; updating, or re-registering after a
// Restore, keeps the existing entry.
func (v *Ledger) WhitelistAsset(caller string, a model.Asset) error {
	if err := v.requireGov(caller); err != nil {
		return err
	}
	if a.Symbol == "" || a.Decimals == 0 || a.Weight == 0 {
		return fmt.Errorf("%w: asset %q needs symbol, decimals and weight", ErrInvalidConfig, a.Symbol)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	cp := a
	if cp.MaxDebtCeiling == nil {
		cp.MaxDebtCeiling = new(big.Int)
	} else {
		cp.MaxDebtCeiling = new(big.Int).Set(a.MaxDebtCeiling)
	}
	if prev, ok := v.assets[a.Symbol]; ok {
		v.totalWeight -= prev.Weight
	} else {
		v.assetOrder = append(v.assetOrder, a.Symbol)
		if _, ok := v.pool[a.Symbol]; !ok {
			v.pool[a.Symbol] = model.NewPoolEntry()
		}
	}
	v.totalWeight += cp.Weight
	v.assets[a.Symbol] = &cp
	return nil
}

// SetBufferAmount sets the swap-out floor for an asset's pool.
func (v *Ledger) SetBufferAmount(caller, asset string, amount *big.Int) error {
	if err := v.requireGov(caller); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.pool[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, asset)
	}
	e.BufferAmount.Set(amount)
	return nil
}

// SetMaxGlobalShortSize caps aggregate short exposure against an index
// asset. Zero removes the cap.
func (v *Ledger) SetMaxGlobalShortSize(caller, asset string, usd *big.Int) error {
	if err := v.requireGov(caller); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.pool[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, asset)
	}
	e.MaxGlobalShortSize.Set(usd)
	return nil
}

// SetRouter designates the single trusted relayer allowed to act for any
// account.
func (v *Ledger) SetRouter(caller, router string) error {
	if err := v.requireGov(caller); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.router = router
	return nil
}

// ApproveDelegate lets handler act on account's positions.
func (v *Ledger) ApproveDelegate(account, handler string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, ok := v.delegates[account]
	if !ok {
		m = make(map[string]bool)
		v.delegates[account] = m
	}
	m[handler] = true
}

// DenyDelegate revokes a delegate approval.
func (v *Ledger) DenyDelegate(account, handler string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if m, ok := v.delegates[account]; ok {
		delete(m, handler)
	}
}

// SetLiquidator adds or removes a whitelisted liquidator.
func (v *Ledger) SetLiquidator(caller, liquidator string, ok bool) error {
	if err := v.requireGov(caller); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if ok {
		v.liquidators[liquidator] = true
	} else {
		delete(v.liquidators, liquidator)
	}
	return nil
}

// SetPublicLiquidation toggles open liquidation access.
func (v *Ledger) SetPublicLiquidation(caller string, open bool) error {
	if err := v.requireGov(caller); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.publicLiquidation = open
	return nil
}

// SetLeverageEnabled toggles position opening.
func (v *Ledger) SetLeverageEnabled(caller string, enabled bool) error {
	if err := v.requireGov(caller); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.leverageEnabled = enabled
	return nil
}

// WithdrawFees drains an asset's fee reserve to a receiver. Returns the
// amount withdrawn.
func (v *Ledger) WithdrawFees(caller, asset, receiver string) (*big.Int, error) {
	if err := v.requireGov(caller); err != nil {
		return nil, err
	}
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()
	v.mu.Lock()
	defer v.mu.Unlock()

	t := v.begin()
	e, err := t.entry(asset)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Set(e.FeeReserve)
	if amount.Sign() == 0 {
		return amount, nil
	}
	e.FeeReserve.SetInt64(0)
	if err := t.transferOut(asset, receiver, amount); err != nil {
		return nil, err
	}
	t.record(model.OpWithdrawFees, asset, "", receiver, new(big.Int).Neg(amount), nil)
	t.commit()
	return amount, nil
}

// --- Read accessors ---

// Asset returns a copy of an asset's configuration.
func (v *Ledger) Asset(symbol string) (model.Asset, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	a, ok := v.assets[symbol]
	if !ok {
		return model.Asset{}, fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, symbol)
	}
	cp := *a
	cp.MaxDebtCeiling = new(big.Int).Set(a.MaxDebtCeiling)
	return cp, nil
}

// Assets returns whitelisted assets in registration order.
func (v *Ledger) Assets() []model.Asset {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]model.Asset, 0, len(v.assetOrder))
	for _, sym := range v.assetOrder {
		a := v.assets[sym]
		cp := *a
		cp.MaxDebtCeiling = new(big.Int).Set(a.MaxDebtCeiling)
		out = append(out, cp)
	}
	return out
}

// PoolEntry returns a copy of an asset's pool ledger entry.
func (v *Ledger) PoolEntry(asset string) (*model.PoolEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.pool[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, asset)
	}
	return e.Clone(), nil
}

// Position returns a copy of a position, reporting whether it exists.
func (v *Ledger) Position(key model.PositionKey) (*model.Position, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.positions[key]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Positions returns copies of all open positions keyed by account.
func (v *Ledger) Positions(account string) map[model.PositionKey]*model.Position {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[model.PositionKey]*model.Position)
	for k, p := range v.positions {
		if k.Account == account {
			out[k] = p.Clone()
		}
	}
	return out
}

// Delta returns the unrealized PnL of a position at current prices.
func (v *Ledger) Delta(key model.PositionKey) (hasProfit bool, delta *big.Int, err error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.positions[key]
	if !ok {
		return false, nil, fmt.Errorf("%w: %s %s/%s", ErrPositionNotFound, key.Account, key.CollateralAsset, key.IndexAsset)
	}
	return v.getDelta(key.IndexAsset, p.Size, p.AveragePrice, key.IsLong, p.LastIncreasedTime, oracle.Quote{})
}

// TargetDebtUnits returns weight * totalUnitSupply / totalWeight for an
// asset, the debt level at which its dynamic fee skew is neutral.
func (v *Ledger) TargetDebtUnits(asset string) (*big.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	a, ok := v.assets[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, asset)
	}
	return v.targetDebtUnits(a), nil
}

func (v *Ledger) targetDebtUnits(a *model.Asset) *big.Int {
	if v.totalWeight == 0 {
		return new(big.Int)
	}
	supply := v.unit.TotalSupply()
	return fixed.MulDiv(supply, new(big.Int).SetUint64(a.Weight), new(big.Int).SetUint64(v.totalWeight))
}

// Config returns a copy of the ledger configuration.
func (v *Ledger) Config() Config {
	cfg := v.cfg
	cfg.LiquidationFeeUSD = new(big.Int).Set(v.cfg.LiquidationFeeUSD)
	return cfg
}

func (v *Ledger) getAsset(symbol string) (*model.Asset, error) {
	a, ok := v.assets[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, symbol)
	}
	return a, nil
}

// --- Price helpers (quote options threaded per call) ---

func (v *Ledger) minPrice(asset string, q oracle.Quote) (*big.Int, error) {
	p, err := v.oracle.MinPrice(asset, q)
	if err != nil {
		return nil, fmt.Errorf("min price %s: %w", asset, err)
	}
	return p, nil
}

func (v *Ledger) maxPrice(asset string, q oracle.Quote) (*big.Int, error) {
	p, err := v.oracle.MaxPrice(asset, q)
	if err != nil {
		return nil, fmt.Errorf("max price %s: %w", asset, err)
	}
	return p, nil
}

// tokenToUSDMin values a token amount at the asset's minimum quote.
func (v *Ledger) tokenToUSDMin(a *model.Asset, amount *big.Int, q oracle.Quote) (*big.Int, error) {
	price, err := v.minPrice(a.Symbol, q)
	if err != nil {
		return nil, err
	}
	return fixed.TokenToUSD(amount, price, a.Decimals), nil
}

// usdToTokenMin converts USD to the smallest defensible token amount
// (divides by the maximum quote).
func (v *Ledger) usdToTokenMin(a *model.Asset, usd *big.Int, q oracle.Quote) (*big.Int, error) {
	price, err := v.maxPrice(a.Symbol, q)
	if err != nil {
		return nil, err
	}
	return fixed.USDToToken(usd, price, a.Decimals), nil
}

// usdToTokenMax converts USD to the largest defensible token amount
// (divides by the minimum quote).
func (v *Ledger) usdToTokenMax(a *model.Asset, usd *big.Int, q oracle.Quote) (*big.Int, error) {
	price, err := v.minPrice(a.Symbol, q)
	if err != nil {
		return nil, err
	}
	return fixed.USDToToken(usd, price, a.Decimals), nil
}

// --- In-flight operation state ---

// txn stages an operation's mutations on clones of the affected state.
// commit writes the clones back and emits the collected change records;
// abandoning the txn on error discards everything.
type txn struct {
	v         *Ledger
	entries   map[string]*model.PoolEntry
	positions map[model.PositionKey]*model.Position
	units     *big.Int
	records   []model.ChangeRecord
}

func (v *Ledger) begin() *txn {
	return &txn{
		v:         v,
		entries:   make(map[string]*model.PoolEntry),
		positions: make(map[model.PositionKey]*model.Position),
	}
}

// entry returns the staged clone of an asset's pool entry.
func (t *txn) entry(asset string) (*model.PoolEntry, error) {
	if e, ok := t.entries[asset]; ok {
		return e, nil
	}
	e, ok := t.v.pool[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, asset)
	}
	c := e.Clone()
	t.entries[asset] = c
	return c, nil
}

// position returns the staged clone of a position, creating an empty one
// if absent.
func (t *txn) position(key model.PositionKey) *model.Position {
	if p, ok := t.positions[key]; ok {
		return p
	}
	var c *model.Position
	if p, ok := t.v.positions[key]; ok {
		c = p.Clone()
	} else {
		c = model.NewPosition()
	}
	t.positions[key] = c
	return c
}

func (t *txn) commit() {
	for sym, e := range t.entries {
		t.v.pool[sym] = e
	}
	for key, p := range t.positions {
		if p.Size.Sign() == 0 {
			delete(t.v.positions, key)
		} else {
			t.v.positions[key] = p
		}
	}
	if t.units != nil {
		t.v.observedUnits = t.units
	}
	if t.v.onChange != nil {
		for _, r := range t.records {
			t.v.onChange(r)
		}
	}
}

// record captures a change record against the staged entry state.
func (t *txn) record(op, asset, counter, account string, tokenDelta, usdDelta *big.Int) {
	e := t.entries[asset]
	if tokenDelta == nil {
		tokenDelta = new(big.Int)
	}
	if usdDelta == nil {
		usdDelta = new(big.Int)
	}
	t.records = append(t.records, model.ChangeRecord{
		ID:            uuid.NewString(),
		Op:            op,
		Asset:         asset,
		CounterAsset:  counter,
		Account:       account,
		TokenDelta:    tokenDelta,
		USDDelta:      usdDelta,
		PoolAfter:     new(big.Int).Set(e.PoolAmount),
		ReservedAfter: new(big.Int).Set(e.ReservedAmount),
		DebtAfter:     new(big.Int).Set(e.DebtUnits),
		FundingAfter:  new(big.Int).Set(e.CumulativeFundingRate),
		Timestamp:     t.v.now().UTC(),
	})
}

// --- Custody movement ---

// transferIn measures the inbound amount for an asset as the custody
// balance delta since the last observation.
func (t *txn) transferIn(asset string) (*big.Int, error) {
	e, err := t.entry(asset)
	if err != nil {
		return nil, err
	}
	bal := t.v.custody.Balance(asset)
	delta := new(big.Int).Sub(bal, e.ObservedBalance)
	e.ObservedBalance.Set(bal)
	if delta.Sign() < 0 {
		delta.SetInt64(0)
	}
	return delta, nil
}

// transferInUnits measures inbound accounting units the same way.
func (t *txn) transferInUnits() *big.Int {
	bal := t.v.unit.BalanceOf(LedgerAccount)
	prev := t.v.observedUnits
	if t.units != nil {
		prev = t.units
	}
	delta := new(big.Int).Sub(bal, prev)
	t.units = bal
	if delta.Sign() < 0 {
		delta.SetInt64(0)
	}
	return delta
}

// transferOut pays tokens to a receiver and refreshes the observation.
// Only called after all validation has passed.
func (t *txn) transferOut(asset, receiver string, amount *big.Int) error {
	e, err := t.entry(asset)
	if err != nil {
		return err
	}
	if err := t.v.custody.TransferOut(asset, receiver, amount); err != nil {
		return err
	}
	e.ObservedBalance.Set(t.v.custody.Balance(asset))
	return nil
}

// --- Pool mutators with invariant checks ---

func (t *txn) increasePool(asset string, amount *big.Int) error {
	e, err := t.entry(asset)
	if err != nil {
		return err
	}
	e.PoolAmount.Add(e.PoolAmount, amount)
	if e.PoolAmount.Cmp(e.ObservedBalance) > 0 {
		return fmt.Errorf("%w: %s pool %s > balance %s", ErrPoolExceedsBalance,
			asset, e.PoolAmount, e.ObservedBalance)
	}
	return nil
}

func (t *txn) decreasePool(asset string, amount *big.Int) error {
	e, err := t.entry(asset)
	if err != nil {
		return err
	}
	e.PoolAmount.Sub(e.PoolAmount, amount)
	if e.PoolAmount.Sign() < 0 {
		return fmt.Errorf("%w: %s short by %s", ErrInsufficientPool, asset,
			new(big.Int).Neg(e.PoolAmount))
	}
	if e.ReservedAmount.Cmp(e.PoolAmount) > 0 {
		return fmt.Errorf("%w: %s reserved %s > pool %s", ErrReserveExceedsPool,
			asset, e.ReservedAmount, e.PoolAmount)
	}
	return nil
}

func (t *txn) increaseReserved(asset string, amount *big.Int) error {
	e, err := t.entry(asset)
	if err != nil {
		return err
	}
	e.ReservedAmount.Add(e.ReservedAmount, amount)
	if e.ReservedAmount.Cmp(e.PoolAmount) > 0 {
		return fmt.Errorf("%w: %s reserved %s > pool %s", ErrReserveExceedsPool,
			asset, e.ReservedAmount, e.PoolAmount)
	}
	return nil
}

func (t *txn) decreaseReserved(asset string, amount *big.Int) error {
	e, err := t.entry(asset)
	if err != nil {
		return err
	}
	e.ReservedAmount.Sub(e.ReservedAmount, amount)
	if e.ReservedAmount.Sign() < 0 {
		return fmt.Errorf("%w: %s reserved went negative", ErrReserveExceedsPool, asset)
	}
	return nil
}

func (t *txn) increaseDebt(asset string, a *model.Asset, amount *big.Int) error {
	e, err := t.entry(asset)
	if err != nil {
		return err
	}
	e.DebtUnits.Add(e.DebtUnits, amount)
	if a.MaxDebtCeiling.Sign() > 0 && e.DebtUnits.Cmp(a.MaxDebtCeiling) > 0 {
		return fmt.Errorf("%w: %s debt %s > ceiling %s", ErrDebtCeilingExceeded,
			asset, e.DebtUnits, a.MaxDebtCeiling)
	}
	return nil
}

// decreaseDebt clamps at zero: rounding on the redemption path can ask
// for slightly more than remains.
func (t *txn) decreaseDebt(asset string, amount *big.Int) error {
	e, err := t.entry(asset)
	if err != nil {
		return err
	}
	if e.DebtUnits.Cmp(amount) <= 0 {
		e.DebtUnits.SetInt64(0)
		return nil
	}
	e.DebtUnits.Sub(e.DebtUnits, amount)
	return nil
}

func (t *txn) increaseGuaranteed(asset string, usd *big.Int) error {
	e, err := t.entry(asset)
	if err != nil {
		return err
	}
	e.GuaranteedUSD.Add(e.GuaranteedUSD, usd)
	return nil
}

func (t *txn) decreaseGuaranteed(asset string, usd *big.Int) error {
	e, err := t.entry(asset)
	if err != nil {
		return err
	}
	e.GuaranteedUSD.Sub(e.GuaranteedUSD, usd)
	if e.GuaranteedUSD.Sign() < 0 {
		e.GuaranteedUSD.SetInt64(0)
	}
	return nil
}

// --- Funding accrual ---

// accrueFunding advances the collateral asset's cumulative funding rate.
// Idempotent within a funding interval: the accumulator changes at most
// once per interval. First touch only aligns the timestamp.
func (t *txn) accrueFunding(collateralAsset string) error {
	a, err := t.v.getAsset(collateralAsset)
	if err != nil {
		return err
	}
	e, err := t.entry(collateralAsset)
	if err != nil {
		return err
	}

	interval := int64(t.v.cfg.FundingInterval / time.Second)
	now := t.v.now().Unix()

	if e.LastFundingTime == 0 {
		e.LastFundingTime = now / interval * interval
		return nil
	}
	if e.LastFundingTime+interval > now {
		return nil
	}

	intervals := (now - e.LastFundingTime) / interval
	factor := t.v.cfg.FundingRateFactor
	if a.IsStable {
		factor = t.v.cfg.StableFundingRateFactor
	}
	rate := t.v.fees.FundingRate(factor, e.ReservedAmount, e.PoolAmount, intervals)
	e.CumulativeFundingRate.Add(e.CumulativeFundingRate, rate)
	e.LastFundingTime = now / interval * interval

	if rate.Sign() > 0 {
		t.record(model.OpFunding, collateralAsset, "", "", nil, nil)
	}
	return nil
}

// UpdateFunding is the public funding-accrual entry point.
func (v *Ledger) UpdateFunding(collateralAsset string) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()
	v.mu.Lock()
	defer v.mu.Unlock()

	t := v.begin()
	if err := t.accrueFunding(collateralAsset); err != nil {
		return err
	}
	t.commit()
	return nil
}
