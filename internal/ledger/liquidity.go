package ledger

import (
	"fmt"
	"math/big"

	"github.com/perpx/vault-engine/internal/fixed"
	"github.com/perpx/vault-engine/internal/model"
	"github.com/perpx/vault-engine/internal/oracle"
	"github.com/perpx/vault-engine/internal/policy"
)

// collectFees deducts feeBps from amount into the asset's fee reserve
// and returns the remainder. Fee tokens stay in custody but outside the
// pool.
func (t *txn) collectFees(asset string, amount *big.Int, feeBps uint64) (*big.Int, error) {
	e, err := t.entry(asset)
	if err != nil {
		return nil, err
	}
	after := fixed.AfterFee(amount, feeBps)
	fee := new(big.Int).Sub(amount, after)
	e.FeeReserve.Add(e.FeeReserve, fee)
	return after, nil
}

func (v *Ledger) feeInput(e *model.PoolEntry, a *model.Asset, baseBps, taxBps uint64,
	debtDelta *big.Int, increment bool) policy.FeeInput {
	return policy.FeeInput{
		BaseBps:     baseBps,
		TaxBps:      taxBps,
		Dynamic:     v.cfg.DynamicFees,
		InitialDebt: new(big.Int).Set(e.DebtUnits),
		DebtDelta:   debtDelta,
		TargetDebt:  v.targetDebtUnits(a),
		Increment:   increment,
	}
}

// Buy deposits the pending custody inflow of asset into the pool and
// mints accounting units to receiver. The inbound amount is the custody
// balance delta since the last observation. Returns the minted amount.
func (v *Ledger) Buy(asset, receiver string) (*big.Int, error) {
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()
	v.mu.Lock()
	defer v.mu.Unlock()

	q := oracle.Quote{SwapPricing: true}
	a, err := v.getAsset(asset)
	if err != nil {
		return nil, err
	}

	t := v.begin()
	amount, err := t.transferIn(asset)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("%w: no inbound %s", ErrZeroAmount, asset)
	}
	if err := t.accrueFunding(asset); err != nil {
		return nil, err
	}

	price, err := v.minPrice(asset, q)
	if err != nil {
		return nil, err
	}
	usdValue := fixed.TokenToUSD(amount, price, a.Decimals)

	// Hypothetical debt delta for the fee quote, in unit decimals.
	unitDelta := fixed.AdjustDecimals(
		fixed.MulDiv(amount, price, fixed.PricePrecision), a.Decimals, fixed.UnitDecimals)
	if unitDelta.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s deposit too small to mint", ErrZeroAmount, asset)
	}

	e, err := t.entry(asset)
	if err != nil {
		return nil, err
	}
	feeBps := v.fees.FeeBasisPoints(
		v.feeInput(e, a, v.cfg.MintBurnFeeBps, v.cfg.TaxBps, unitDelta, true))

	afterFee, err := t.collectFees(asset, amount, feeBps)
	if err != nil {
		return nil, err
	}
	mintAmount := fixed.AdjustDecimals(
		fixed.MulDiv(afterFee, price, fixed.PricePrecision), a.Decimals, fixed.UnitDecimals)
	if mintAmount.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s deposit too small to mint", ErrZeroAmount, asset)
	}

	if err := t.increasePool(asset, afterFee); err != nil {
		return nil, err
	}
	if err := t.increaseDebt(asset, a, mintAmount); err != nil {
		return nil, err
	}
	if err := v.unit.Mint(receiver, mintAmount); err != nil {
		return nil, err
	}

	t.record(model.OpBuy, asset, "", receiver, amount, usdValue)
	t.commit()
	return mintAmount, nil
}

// Sell burns the accounting units transferred to the ledger's unit
// account and redeems asset to receiver at the maximum quote. Returns
// the asset amount paid out.
func (v *Ledger) Sell(asset, receiver string) (*big.Int, error) {
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()
	v.mu.Lock()
	defer v.mu.Unlock()

	q := oracle.Quote{SwapPricing: true}
	a, err := v.getAsset(asset)
	if err != nil {
		return nil, err
	}

	t := v.begin()
	unitAmount := t.transferInUnits()
	if unitAmount.Sign() == 0 {
		return nil, fmt.Errorf("%w: no inbound units", ErrZeroAmount)
	}
	if err := t.accrueFunding(asset); err != nil {
		return nil, err
	}

	price, err := v.maxPrice(asset, q)
	if err != nil {
		return nil, err
	}
	redemption := fixed.AdjustDecimals(
		fixed.MulDiv(unitAmount, fixed.PricePrecision, price), fixed.UnitDecimals, a.Decimals)
	if redemption.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s redemption rounds to zero", ErrZeroAmount, asset)
	}

	// Fee quote on the pre-redemption debt snapshot.
	e, err := t.entry(asset)
	if err != nil {
		return nil, err
	}
	feeBps := v.fees.FeeBasisPoints(
		v.feeInput(e, a, v.cfg.MintBurnFeeBps, v.cfg.TaxBps, unitAmount, false))

	if err := t.decreaseDebt(asset, unitAmount); err != nil {
		return nil, err
	}
	if err := t.decreasePool(asset, redemption); err != nil {
		return nil, err
	}
	if e.PoolAmount.Cmp(e.BufferAmount) < 0 {
		return nil, fmt.Errorf("%w: %s pool %s < buffer %s", ErrBufferBreached,
			asset, e.PoolAmount, e.BufferAmount)
	}

	amountOut, err := t.collectFees(asset, redemption, feeBps)
	if err != nil {
		return nil, err
	}
	if amountOut.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s redemption rounds to zero", ErrZeroAmount, asset)
	}

	if err := v.unit.Burn(LedgerAccount, unitAmount); err != nil {
		return nil, err
	}
	t.units = v.unit.BalanceOf(LedgerAccount)

	if err := t.transferOut(asset, receiver, amountOut); err != nil {
		return nil, err
	}

	usdValue := fixed.AdjustDecimals(unitAmount, fixed.UnitDecimals, fixed.USDDecimals)
	t.record(model.OpSell, asset, "", receiver, new(big.Int).Neg(amountOut), new(big.Int).Neg(usdValue))
	t.commit()
	return amountOut, nil
}

// Swap exchanges the pending custody inflow of assetIn for assetOut paid
// to receiver. The fee is the higher of the two legs' quotes so routing
// through the cheaper side gains nothing. Returns the amount paid out.
func (v *Ledger) Swap(assetIn, assetOut, receiver string) (*big.Int, error) {
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()
	v.mu.Lock()
	defer v.mu.Unlock()

	if assetIn == assetOut {
		return nil, fmt.Errorf("%w: %s", ErrSameAssets, assetIn)
	}
	q := oracle.Quote{SwapPricing: true}
	aIn, err := v.getAsset(assetIn)
	if err != nil {
		return nil, err
	}
	aOut, err := v.getAsset(assetOut)
	if err != nil {
		return nil, err
	}

	t := v.begin()
	if err := t.accrueFunding(assetIn); err != nil {
		return nil, err
	}
	if err := t.accrueFunding(assetOut); err != nil {
		return nil, err
	}

	amountIn, err := t.transferIn(assetIn)
	if err != nil {
		return nil, err
	}
	if amountIn.Sign() == 0 {
		return nil, fmt.Errorf("%w: no inbound %s", ErrZeroAmount, assetIn)
	}

	priceIn, err := v.minPrice(assetIn, q)
	if err != nil {
		return nil, err
	}
	priceOut, err := v.maxPrice(assetOut, q)
	if err != nil {
		return nil, err
	}

	amountOut := fixed.AdjustDecimals(
		fixed.MulDiv(amountIn, priceIn, priceOut), aIn.Decimals, aOut.Decimals)
	if amountOut.Sign() == 0 {
		return nil, fmt.Errorf("%w: swap output rounds to zero", ErrZeroAmount)
	}

	// USD-unit debt shifted from assetIn to assetOut.
	debtDelta := fixed.AdjustDecimals(
		fixed.MulDiv(amountIn, priceIn, fixed.PricePrecision), aIn.Decimals, fixed.UnitDecimals)

	baseBps, taxBps := v.cfg.SwapFeeBps, v.cfg.TaxBps
	if aIn.IsStable && aOut.IsStable {
		baseBps, taxBps = v.cfg.StableSwapFeeBps, v.cfg.StableTaxBps
	}
	eIn, err := t.entry(assetIn)
	if err != nil {
		return nil, err
	}
	eOut, err := t.entry(assetOut)
	if err != nil {
		return nil, err
	}
	bpsIn := v.fees.FeeBasisPoints(v.feeInput(eIn, aIn, baseBps, taxBps, debtDelta, true))
	bpsOut := v.fees.FeeBasisPoints(v.feeInput(eOut, aOut, baseBps, taxBps, debtDelta, false))
	feeBps := bpsIn
	if bpsOut > feeBps {
		feeBps = bpsOut
	}

	if err := t.increaseDebt(assetIn, aIn, debtDelta); err != nil {
		return nil, err
	}
	if err := t.decreaseDebt(assetOut, debtDelta); err != nil {
		return nil, err
	}
	if err := t.increasePool(assetIn, amountIn); err != nil {
		return nil, err
	}
	if err := t.decreasePool(assetOut, amountOut); err != nil {
		return nil, err
	}
	if eOut.PoolAmount.Cmp(eOut.BufferAmount) < 0 {
		return nil, fmt.Errorf("%w: %s pool %s < buffer %s", ErrBufferBreached,
			assetOut, eOut.PoolAmount, eOut.BufferAmount)
	}

	amountOutAfterFees, err := t.collectFees(assetOut, amountOut, feeBps)
	if err != nil {
		return nil, err
	}
	if amountOutAfterFees.Sign() == 0 {
		return nil, fmt.Errorf("%w: swap output rounds to zero", ErrZeroAmount)
	}
	if err := t.transferOut(assetOut, receiver, amountOutAfterFees); err != nil {
		return nil, err
	}

	usdValue := fixed.TokenToUSD(amountIn, priceIn, aIn.Decimals)
	t.record(model.OpSwap, assetIn, assetOut, receiver, amountIn, usdValue)
	t.record(model.OpSwap, assetOut, assetIn, receiver,
		new(big.Int).Neg(amountOutAfterFees), new(big.Int).Neg(usdValue))
	t.commit()
	return amountOutAfterFees, nil
}
