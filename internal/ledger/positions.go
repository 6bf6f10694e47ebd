package ledger

import (
	"fmt"
	"math/big"

	"github.com/perpx/vault-engine/internal/fixed"
	"github.com/perpx/vault-engine/internal/model"
	"github.com/perpx/vault-engine/internal/oracle"
	"github.com/perpx/vault-engine/internal/policy"
)

// authorize checks the caller may act on account's positions: the
// account itself, the designated router, or an approved delegate.
func (v *Ledger) authorize(caller, account string) error {
	if caller == account {
		return nil
	}
	if v.router != "" && caller == v.router {
		return nil
	}
	if v.delegates[account][caller] {
		return nil
	}
	return fmt.Errorf("%w: %s cannot act for %s", ErrUnauthorized, caller, account)
}

// validatePair enforces the collateral/index rules: longs collateralize
// with the non-stable index asset itself; shorts collateralize with a
// stable asset against a shortable non-stable index.
func (v *Ledger) validatePair(aCol, aIdx *model.Asset, isLong bool) error {
	if isLong {
		if aCol.Symbol != aIdx.Symbol {
			return fmt.Errorf("%w: long collateral %s must equal index %s", ErrInvalidPair, aCol.Symbol, aIdx.Symbol)
		}
		if aCol.IsStable {
			return fmt.Errorf("%w: long collateral %s must not be stable", ErrInvalidPair, aCol.Symbol)
		}
		return nil
	}
	if !aCol.IsStable {
		return fmt.Errorf("%w: short collateral %s must be stable", ErrInvalidPair, aCol.Symbol)
	}
	if aIdx.IsStable {
		return fmt.Errorf("%w: short index %s must not be stable", ErrInvalidPair, aIdx.Symbol)
	}
	if !aIdx.IsShortable {
		return fmt.Errorf("%w: index %s is not shortable", ErrInvalidPair, aIdx.Symbol)
	}
	return nil
}

// getDelta computes the unsigned unrealized PnL of an exposure at
// current prices. Longs are valued at the minimum quote and shorts at
// the maximum, conservatively against the holder. Profit below the
// asset's min-profit threshold within MinProfitTime of the last increase
// is treated as zero.
func (v *Ledger) getDelta(indexAsset string, size, avgPrice *big.Int, isLong bool,
	lastIncreasedTime int64, q oracle.Quote) (bool, *big.Int, error) {
	a, err := v.getAsset(indexAsset)
	if err != nil {
		return false, nil, err
	}
	if avgPrice.Sign() == 0 {
		return false, nil, fmt.Errorf("%w: average price is zero", ErrPositionNotFound)
	}

	var price *big.Int
	if isLong {
		price, err = v.minPrice(indexAsset, q)
	} else {
		price, err = v.maxPrice(indexAsset, q)
	}
	if err != nil {
		return false, nil, err
	}

	priceDelta := new(big.Int).Sub(avgPrice, price)
	priceDelta.Abs(priceDelta)
	delta := fixed.MulDiv(size, priceDelta, avgPrice)

	var hasProfit bool
	if isLong {
		hasProfit = price.Cmp(avgPrice) > 0
	} else {
		hasProfit = avgPrice.Cmp(price) > 0
	}

	minBps := uint64(0)
	if v.now().Unix() <= lastIncreasedTime+int64(v.cfg.MinProfitTime.Seconds()) {
		minBps = a.MinProfitBps
	}
	if hasProfit && minBps > 0 {
		scaled := new(big.Int).Mul(delta, big.NewInt(fixed.BasisPointsDivisor))
		threshold := new(big.Int).Mul(size, new(big.Int).SetUint64(minBps))
		if scaled.Cmp(threshold) <= 0 {
			delta = new(big.Int)
		}
	}
	return hasProfit, delta, nil
}

// nextAveragePrice blends a position's entry price across a size
// increase so unrealized PnL stays continuous: the divisor absorbs the
// current delta instead of crystallizing it.
func (v *Ledger) nextAveragePrice(indexAsset string, size, avgPrice *big.Int, isLong bool,
	nextPrice, sizeDelta *big.Int, lastIncreasedTime int64, q oracle.Quote) (*big.Int, error) {
	hasProfit, delta, err := v.getDelta(indexAsset, size, avgPrice, isLong, lastIncreasedTime, q)
	if err != nil {
		return nil, err
	}
	nextSize := new(big.Int).Add(size, sizeDelta)
	divisor := new(big.Int)
	if isLong == hasProfit {
		divisor.Add(nextSize, delta)
	} else {
		divisor.Sub(nextSize, delta)
	}
	return fixed.MulDiv(nextPrice, nextSize, divisor), nil
}

// nextGlobalShortAveragePrice applies the same blend to aggregate short
// exposure.
func (v *Ledger) nextGlobalShortAveragePrice(e *model.PoolEntry, nextPrice, sizeDelta *big.Int) *big.Int {
	size := e.GlobalShortSize
	avg := e.GlobalShortAveragePrice

	priceDelta := new(big.Int).Sub(avg, nextPrice)
	priceDelta.Abs(priceDelta)
	delta := fixed.MulDiv(size, priceDelta, avg)
	hasProfit := avg.Cmp(nextPrice) > 0

	nextSize := new(big.Int).Add(size, sizeDelta)
	divisor := new(big.Int)
	if hasProfit {
		divisor.Sub(nextSize, delta)
	} else {
		divisor.Add(nextSize, delta)
	}
	return fixed.MulDiv(nextPrice, nextSize, divisor)
}

// collectMarginFees charges the funding fee on the existing size plus
// the position fee on the size change, moving the token equivalent into
// the fee reserve. Returns the total in USD.
func (t *txn) collectMarginFees(aCol *model.Asset, p *model.Position, sizeDelta *big.Int,
	q oracle.Quote) (*big.Int, error) {
	e, err := t.entry(aCol.Symbol)
	if err != nil {
		return nil, err
	}
	feeUSD := t.v.fees.PositionFee(sizeDelta, t.v.cfg.MarginFeeBps)
	feeUSD.Add(feeUSD, t.v.fees.FundingFee(p.Size, p.EntryFundingRate, e.CumulativeFundingRate))
	if feeUSD.Sign() > 0 {
		feeTokens, err := t.v.usdToTokenMin(aCol, feeUSD, q)
		if err != nil {
			return nil, err
		}
		e.FeeReserve.Add(e.FeeReserve, feeTokens)
	}
	return feeUSD, nil
}

// evaluateLiquidation snapshots a position's PnL and accrued fees and
// runs the liquidation policy over them.
func (v *Ledger) evaluateLiquidation(t *txn, key model.PositionKey, p *model.Position,
	q oracle.Quote) (policy.Outcome, error) {
	hasProfit, delta, err := v.getDelta(key.IndexAsset, p.Size, p.AveragePrice, key.IsLong,
		p.LastIncreasedTime, q)
	if err != nil {
		return policy.Outcome{}, err
	}
	e, err := t.entry(key.CollateralAsset)
	if err != nil {
		return policy.Outcome{}, err
	}
	marginFees := v.fees.FundingFee(p.Size, p.EntryFundingRate, e.CumulativeFundingRate)
	marginFees.Add(marginFees, v.fees.PositionFee(p.Size, v.cfg.MarginFeeBps))

	return v.liq.Evaluate(policy.LiquidationInput{
		Size:              p.Size,
		Collateral:        p.Collateral,
		HasProfit:         hasProfit,
		Delta:             delta,
		MarginFees:        marginFees,
		LiquidationFeeUSD: v.cfg.LiquidationFeeUSD,
		MaxLeverage:       v.cfg.MaxLeverage,
	}), nil
}

// validateLiquidation is the raise-mode check: any non-healthy state
// fails the enclosing operation.
func (v *Ledger) validateLiquidation(t *txn, key model.PositionKey, p *model.Position,
	q oracle.Quote) error {
	out, err := v.evaluateLiquidation(t, key, p, q)
	if err != nil {
		return err
	}
	if out.State != model.LiquidationHealthy {
		return fmt.Errorf("position %s %s/%s: %w", key.Account, key.CollateralAsset,
			key.IndexAsset, out.Reason)
	}
	return nil
}

// IncreasePosition opens or grows a leveraged exposure. The inbound
// collateral is the custody balance delta for the collateral asset; a
// zero sizeDelta is a pure collateral deposit.
func (v *Ledger) IncreasePosition(caller, account, collateralAsset, indexAsset string,
	sizeDelta *big.Int, isLong bool) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.leverageEnabled {
		return ErrLeverageDisabled
	}
	if err := v.authorize(caller, account); err != nil {
		return err
	}
	aCol, err := v.getAsset(collateralAsset)
	if err != nil {
		return err
	}
	aIdx, err := v.getAsset(indexAsset)
	if err != nil {
		return err
	}
	if err := v.validatePair(aCol, aIdx, isLong); err != nil {
		return err
	}
	if sizeDelta == nil {
		sizeDelta = new(big.Int)
	}
	if sizeDelta.Sign() < 0 {
		return fmt.Errorf("%w: negative size delta", ErrZeroAmount)
	}

	q := oracle.Quote{}
	t := v.begin()
	if err := t.accrueFunding(collateralAsset); err != nil {
		return err
	}

	key := model.PositionKey{Account: account, CollateralAsset: collateralAsset,
		IndexAsset: indexAsset, IsLong: isLong}
	p := t.position(key)

	// Execution price is conservative toward the trader's cost.
	var price *big.Int
	if isLong {
		price, err = v.maxPrice(indexAsset, q)
	} else {
		price, err = v.minPrice(indexAsset, q)
	}
	if err != nil {
		return err
	}

	if p.Size.Sign() == 0 {
		p.AveragePrice.Set(price)
	} else if sizeDelta.Sign() > 0 {
		next, err := v.nextAveragePrice(indexAsset, p.Size, p.AveragePrice, isLong,
			price, sizeDelta, p.LastIncreasedTime, q)
		if err != nil {
			return err
		}
		p.AveragePrice = next
	}

	feeUSD, err := t.collectMarginFees(aCol, p, sizeDelta, q)
	if err != nil {
		return err
	}

	collateralDelta, err := t.transferIn(collateralAsset)
	if err != nil {
		return err
	}
	collateralDeltaUSD, err := v.tokenToUSDMin(aCol, collateralDelta, q)
	if err != nil {
		return err
	}
	p.Collateral.Add(p.Collateral, collateralDeltaUSD)
	if p.Collateral.Cmp(feeUSD) < 0 {
		return fmt.Errorf("%w: collateral %s cannot cover fee %s", ErrInsufficientCollateral,
			p.Collateral, feeUSD)
	}
	p.Collateral.Sub(p.Collateral, feeUSD)

	e, err := t.entry(collateralAsset)
	if err != nil {
		return err
	}
	p.EntryFundingRate.Set(e.CumulativeFundingRate)
	p.Size.Add(p.Size, sizeDelta)
	p.LastIncreasedTime = v.now().Unix()

	if p.Size.Sign() == 0 {
		return fmt.Errorf("%w: position size is zero", ErrZeroAmount)
	}
	if p.Size.Cmp(p.Collateral) < 0 {
		return fmt.Errorf("%w: size %s < collateral %s", ErrSizeBelowCollateral, p.Size, p.Collateral)
	}
	if err := v.validateLiquidation(t, key, p, q); err != nil {
		return err
	}

	// Reserve enough tokens at the minimum quote to pay the position out.
	reserveDelta, err := v.usdToTokenMax(aCol, sizeDelta, q)
	if err != nil {
		return err
	}
	p.ReserveAmount.Add(p.ReserveAmount, reserveDelta)
	if err := t.increaseReserved(collateralAsset, reserveDelta); err != nil {
		return err
	}

	if isLong {
		// guaranteedUsd tracks aggregate (size - collateral): the fee is
		// collateral the position no longer has.
		guaranteed := new(big.Int).Add(sizeDelta, feeUSD)
		if err := t.increaseGuaranteed(collateralAsset, guaranteed); err != nil {
			return err
		}
		if err := t.decreaseGuaranteed(collateralAsset, collateralDeltaUSD); err != nil {
			return err
		}
		if err := t.increasePool(collateralAsset, collateralDelta); err != nil {
			return err
		}
		feeTokens, err := v.usdToTokenMin(aCol, feeUSD, q)
		if err != nil {
			return err
		}
		if err := t.decreasePool(collateralAsset, feeTokens); err != nil {
			return err
		}
	} else if sizeDelta.Sign() > 0 {
		eIdx, err := t.entry(indexAsset)
		if err != nil {
			return err
		}
		if eIdx.GlobalShortSize.Sign() == 0 {
			eIdx.GlobalShortAveragePrice.Set(price)
		} else {
			eIdx.GlobalShortAveragePrice = v.nextGlobalShortAveragePrice(eIdx, price, sizeDelta)
		}
		eIdx.GlobalShortSize.Add(eIdx.GlobalShortSize, sizeDelta)
		if eIdx.MaxGlobalShortSize.Sign() > 0 &&
			eIdx.GlobalShortSize.Cmp(eIdx.MaxGlobalShortSize) > 0 {
			return fmt.Errorf("%w: %s shorts %s > cap %s", ErrMaxShortsExceeded,
				indexAsset, eIdx.GlobalShortSize, eIdx.MaxGlobalShortSize)
		}
	}

	t.record(model.OpIncrease, collateralAsset, indexAsset, account, collateralDelta,
		new(big.Int).Set(sizeDelta))
	t.commit()
	return nil
}

// DecreasePosition shrinks or closes a leveraged exposure, withdrawing
// collateralDelta USD of collateral, and pays the net proceeds to
// receiver. Returns the token amount paid out.
func (v *Ledger) DecreasePosition(caller, account, collateralAsset, indexAsset string,
	collateralDelta, sizeDelta *big.Int, isLong bool, receiver string) (*big.Int, error) {
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.authorize(caller, account); err != nil {
		return nil, err
	}
	t := v.begin()
	out, err := v.decreasePosition(t, account, collateralAsset, indexAsset,
		collateralDelta, sizeDelta, isLong, receiver, oracle.Quote{})
	if err != nil {
		return nil, err
	}
	t.commit()
	return out, nil
}

func (v *Ledger) decreasePosition(t *txn, account, collateralAsset, indexAsset string,
	collateralDelta, sizeDelta *big.Int, isLong bool, receiver string,
	q oracle.Quote) (*big.Int, error) {
	aCol, err := v.getAsset(collateralAsset)
	if err != nil {
		return nil, err
	}
	if _, err := v.getAsset(indexAsset); err != nil {
		return nil, err
	}
	if collateralDelta == nil {
		collateralDelta = new(big.Int)
	}
	if sizeDelta == nil || sizeDelta.Sign() <= 0 {
		return nil, fmt.Errorf("%w: size delta must be positive", ErrZeroAmount)
	}

	if err := t.accrueFunding(collateralAsset); err != nil {
		return nil, err
	}

	key := model.PositionKey{Account: account, CollateralAsset: collateralAsset,
		IndexAsset: indexAsset, IsLong: isLong}
	p := t.position(key)
	if p.Size.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s %s/%s", ErrPositionNotFound, account,
			collateralAsset, indexAsset)
	}
	if sizeDelta.Cmp(p.Size) > 0 {
		return nil, fmt.Errorf("%w: size delta %s > size %s", ErrInsufficientCollateral,
			sizeDelta, p.Size)
	}
	if collateralDelta.Cmp(p.Collateral) > 0 {
		return nil, fmt.Errorf("%w: withdrawal %s > collateral %s", ErrInsufficientCollateral,
			collateralDelta, p.Collateral)
	}

	// Release the proportional share of the reserve.
	reserveDelta := fixed.MulDiv(p.ReserveAmount, sizeDelta, p.Size)
	p.ReserveAmount.Sub(p.ReserveAmount, reserveDelta)
	if err := t.decreaseReserved(collateralAsset, reserveDelta); err != nil {
		return nil, err
	}

	collateralBefore := new(big.Int).Set(p.Collateral)
	usdOut, usdOutAfterFee, err := v.reduceCollateral(t, key, p, aCol, collateralDelta, sizeDelta, q)
	if err != nil {
		return nil, err
	}

	p.Size.Sub(p.Size, sizeDelta)
	if p.Size.Sign() > 0 {
		e, err := t.entry(collateralAsset)
		if err != nil {
			return nil, err
		}
		p.EntryFundingRate.Set(e.CumulativeFundingRate)
		if p.Size.Cmp(p.Collateral) < 0 {
			return nil, fmt.Errorf("%w: size %s < collateral %s", ErrSizeBelowCollateral,
				p.Size, p.Collateral)
		}
		if err := v.validateLiquidation(t, key, p, q); err != nil {
			return nil, err
		}
	}

	if isLong {
		freed := new(big.Int).Sub(collateralBefore, p.Collateral)
		if err := t.increaseGuaranteed(collateralAsset, freed); err != nil {
			return nil, err
		}
		if err := t.decreaseGuaranteed(collateralAsset, sizeDelta); err != nil {
			return nil, err
		}
	} else {
		if err := t.decreaseGlobalShort(indexAsset, sizeDelta); err != nil {
			return nil, err
		}
	}

	amountOut := new(big.Int)
	if usdOut.Sign() > 0 {
		if isLong {
			// Long payouts come out of the pool; the collateral was
			// pool-resident.
			poolTokens, err := v.usdToTokenMin(aCol, usdOut, q)
			if err != nil {
				return nil, err
			}
			if err := t.decreasePool(collateralAsset, poolTokens); err != nil {
				return nil, err
			}
		}
		amountOut, err = v.usdToTokenMin(aCol, usdOutAfterFee, q)
		if err != nil {
			return nil, err
		}
		if err := t.transferOut(collateralAsset, receiver, amountOut); err != nil {
			return nil, err
		}
	}

	t.record(model.OpDecrease, collateralAsset, indexAsset, account,
		new(big.Int).Neg(amountOut), new(big.Int).Neg(sizeDelta))
	return amountOut, nil
}

// reduceCollateral realizes PnL proportional to the size change, applies
// the requested withdrawal, and settles the margin fee. Returns the
// gross and net USD payable.
func (v *Ledger) reduceCollateral(t *txn, key model.PositionKey, p *model.Position,
	aCol *model.Asset, collateralDelta, sizeDelta *big.Int, q oracle.Quote) (*big.Int, *big.Int, error) {
	feeUSD, err := t.collectMarginFees(aCol, p, sizeDelta, q)
	if err != nil {
		return nil, nil, err
	}

	hasProfit, delta, err := v.getDelta(key.IndexAsset, p.Size, p.AveragePrice, key.IsLong,
		p.LastIncreasedTime, q)
	if err != nil {
		return nil, nil, err
	}
	adjustedDelta := fixed.MulDiv(delta, sizeDelta, p.Size)

	usdOut := new(big.Int)
	if adjustedDelta.Sign() > 0 {
		if hasProfit {
			usdOut.Set(adjustedDelta)
			p.RealisedPnl.Add(p.RealisedPnl, adjustedDelta)
			// Short profits are paid from the pool; long pool effects
			// flow through guaranteedUsd instead.
			if !key.IsLong {
				tokens, err := v.usdToTokenMin(aCol, adjustedDelta, q)
				if err != nil {
					return nil, nil, err
				}
				if err := t.decreasePool(key.CollateralAsset, tokens); err != nil {
					return nil, nil, err
				}
			}
		} else {
			p.Collateral.Sub(p.Collateral, adjustedDelta)
			if p.Collateral.Sign() < 0 {
				return nil, nil, fmt.Errorf("%w: loss %s exceeds collateral", ErrInsufficientCollateral,
					adjustedDelta)
			}
			p.RealisedPnl.Sub(p.RealisedPnl, adjustedDelta)
			if !key.IsLong {
				tokens, err := v.usdToTokenMin(aCol, adjustedDelta, q)
				if err != nil {
					return nil, nil, err
				}
				if err := t.increasePool(key.CollateralAsset, tokens); err != nil {
					return nil, nil, err
				}
			}
		}
	}

	if collateralDelta.Sign() > 0 {
		usdOut.Add(usdOut, collateralDelta)
		p.Collateral.Sub(p.Collateral, collateralDelta)
	}

	// Full close pays out whatever collateral remains.
	if sizeDelta.Cmp(p.Size) == 0 {
		usdOut.Add(usdOut, p.Collateral)
		p.Collateral.SetInt64(0)
	}

	usdOutAfterFee := new(big.Int).Set(usdOut)
	if usdOut.Cmp(feeUSD) > 0 {
		usdOutAfterFee.Sub(usdOut, feeUSD)
	} else {
		if p.Collateral.Cmp(feeUSD) < 0 {
			return nil, nil, fmt.Errorf("%w: collateral %s cannot cover fee %s",
				ErrInsufficientCollateral, p.Collateral, feeUSD)
		}
		p.Collateral.Sub(p.Collateral, feeUSD)
		if key.IsLong {
			tokens, err := v.usdToTokenMin(aCol, feeUSD, q)
			if err != nil {
				return nil, nil, err
			}
			if err := t.decreasePool(key.CollateralAsset, tokens); err != nil {
				return nil, nil, err
			}
		}
	}
	return usdOut, usdOutAfterFee, nil
}

func (t *txn) decreaseGlobalShort(asset string, usd *big.Int) error {
	e, err := t.entry(asset)
	if err != nil {
		return err
	}
	if e.GlobalShortSize.Cmp(usd) <= 0 {
		e.GlobalShortSize.SetInt64(0)
		return nil
	}
	e.GlobalShortSize.Sub(e.GlobalShortSize, usd)
	return nil
}

// LiquidatePosition settles an unhealthy position. Secondary pricing is
// excluded for the whole call so a manipulated auxiliary feed cannot
// steer the evaluation. A position over the leverage ceiling but still
// solvent is closed normally with proceeds to its owner; an insolvent
// one is seized, with a flat fee paid to feeReceiver. Returns the state
// the position was settled in.
func (v *Ledger) LiquidatePosition(caller, account, collateralAsset, indexAsset string,
	isLong bool, feeReceiver string) (model.LiquidationState, error) {
	healthy := model.LiquidationHealthy
	if err := v.enter(); err != nil {
		return healthy, err
	}
	defer v.exit()
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.publicLiquidation && !v.liquidators[caller] {
		return healthy, fmt.Errorf("%w: %s is not a liquidator", ErrUnauthorized, caller)
	}
	aCol, err := v.getAsset(collateralAsset)
	if err != nil {
		return healthy, err
	}
	if _, err := v.getAsset(indexAsset); err != nil {
		return healthy, err
	}

	q := oracle.Quote{ExcludeSecondary: true}
	key := model.PositionKey{Account: account, CollateralAsset: collateralAsset,
		IndexAsset: indexAsset, IsLong: isLong}

	t := v.begin()
	if err := t.accrueFunding(collateralAsset); err != nil {
		return healthy, err
	}
	p := t.position(key)
	if p.Size.Sign() == 0 {
		return healthy, fmt.Errorf("%w: %s %s/%s", ErrPositionNotFound, account, collateralAsset, indexAsset)
	}

	outcome, err := v.evaluateLiquidation(t, key, p, q)
	if err != nil {
		return healthy, err
	}
	switch outcome.State {
	case model.LiquidationHealthy:
		return healthy, fmt.Errorf("%w: %s %s/%s", ErrPositionHealthy, account, collateralAsset, indexAsset)

	case model.LiquidationMaxLeverage:
		// Over-leveraged but solvent: close normally, proceeds to the
		// owner rather than the liquidator.
		sizeDelta := new(big.Int).Set(p.Size)
		if _, err := v.decreasePosition(t, account, collateralAsset, indexAsset,
			new(big.Int), sizeDelta, isLong, account, q); err != nil {
			return healthy, err
		}
		t.commit()
		return model.LiquidationMaxLeverage, nil
	}

	// Insolvent: seize. Margin fees go to the fee reserve.
	feeUSD := outcome.Fees
	feeTokens, err := v.usdToTokenMin(aCol, feeUSD, q)
	if err != nil {
		return healthy, err
	}
	e, err := t.entry(collateralAsset)
	if err != nil {
		return healthy, err
	}
	e.FeeReserve.Add(e.FeeReserve, feeTokens)

	if err := t.decreaseReserved(collateralAsset, p.ReserveAmount); err != nil {
		return healthy, err
	}
	if isLong {
		guaranteed := new(big.Int).Sub(p.Size, p.Collateral)
		if err := t.decreaseGuaranteed(collateralAsset, guaranteed); err != nil {
			return healthy, err
		}
		if err := t.decreasePool(collateralAsset, feeTokens); err != nil {
			return healthy, err
		}
	} else {
		if feeUSD.Cmp(p.Collateral) < 0 {
			remaining := new(big.Int).Sub(p.Collateral, feeUSD)
			tokens, err := v.usdToTokenMin(aCol, remaining, q)
			if err != nil {
				return healthy, err
			}
			if err := t.increasePool(collateralAsset, tokens); err != nil {
				return healthy, err
			}
		}
		if err := t.decreaseGlobalShort(indexAsset, p.Size); err != nil {
			return healthy, err
		}
	}

	sizeClosed := new(big.Int).Set(p.Size)
	p.Size.SetInt64(0)
	p.Collateral.SetInt64(0)
	p.ReserveAmount.SetInt64(0)

	// Flat liquidation fee from the pool to the executor.
	liqFeeTokens, err := v.usdToTokenMin(aCol, v.cfg.LiquidationFeeUSD, q)
	if err != nil {
		return healthy, err
	}
	if err := t.decreasePool(collateralAsset, liqFeeTokens); err != nil {
		return healthy, err
	}
	if err := t.transferOut(collateralAsset, feeReceiver, liqFeeTokens); err != nil {
		return healthy, err
	}

	t.record(model.OpLiquidate, collateralAsset, indexAsset, account,
		new(big.Int).Neg(liqFeeTokens), new(big.Int).Neg(sizeClosed))
	t.commit()
	return model.LiquidationInsolvent, nil
}
