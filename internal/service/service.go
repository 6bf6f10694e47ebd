// Package service provides the HTTP handlers over the vault ledger:
// liquidity operations, leveraged positions, liquidation, funding, and
// the read views backed by the persistence layer.
//
// Request amounts arrive as decimal strings in human units and are
// scaled to the ledger's integer fixed point; responses carry both the
// raw integer and a display decimal.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/perpx/vault-engine/internal/bank"
	"github.com/perpx/vault-engine/internal/fixed"
	"github.com/perpx/vault-engine/internal/ledger"
	"github.com/perpx/vault-engine/internal/metrics"
	"github.com/perpx/vault-engine/internal/model"
	"github.com/perpx/vault-engine/internal/oracle"
	"github.com/perpx/vault-engine/internal/store"
)

// Service handles vault operations. Uses a mutex for serialized mutation
// on top of the ledger's reentrancy latch (single-instance). For
// horizontal scaling, replace with distributed locking.
type Service struct {
	ledger  *ledger.Ledger
	custody *bank.Book
	unit    *bank.Unit
	prices  *oracle.Static // nil when prices come from elsewhere
	store   store.Store
	mu      sync.Mutex
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new vault service and installs the ledger change
// hook that persists the journal, updates metrics, and broadcasts.
// Pass nil for hub if WebSocket broadcasting is not needed, and nil for
// prices if the oracle is not operator-fed.
func NewService(led *ledger.Ledger, custody *bank.Book, unit *bank.Unit,
	prices *oracle.Static, st store.Store, hub *WSHub) *Service {
	s := &Service{
		ledger:  led,
		custody: custody,
		unit:    unit,
		prices:  prices,
		store:   st,
		wsHub:   hub,
	}
	led.SetChangeHook(s.onChange)
	return s
}

// onChange runs inside the ledger commit for every change record.
func (s *Service) onChange(rec model.ChangeRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.InsertChange(ctx, &rec); err != nil {
		slog.Error("journal insert failed", "op", rec.Op, "id", rec.ID, "err", err)
	}

	metrics.PoolAmount.WithLabelValues(rec.Asset).Set(bigFloat(rec.PoolAfter))
	metrics.ReservedAmount.WithLabelValues(rec.Asset).Set(bigFloat(rec.ReservedAfter))
	metrics.DebtUnits.WithLabelValues(rec.Asset).Set(bigFloat(rec.DebtAfter))

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         "change",
			Op:           rec.Op,
			Asset:        rec.Asset,
			CounterAsset: rec.CounterAsset,
			Account:      rec.Account,
			TokenDelta:   rec.TokenDelta.String(),
			USDDelta:     rec.USDDelta.String(),
			PoolAfter:    rec.PoolAfter.String(),
			Timestamp:    rec.Timestamp.Format(time.RFC3339Nano),
		})
	}
}

func bigFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

// Routes mounts all service endpoints on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/deposit", s.Deposit)
	r.Post("/buy", s.Buy)
	r.Post("/sell", s.Sell)
	r.Post("/swap", s.Swap)
	r.Post("/funding", s.UpdateFunding)

	r.Post("/positions/increase", s.IncreasePosition)
	r.Post("/positions/decrease", s.DecreasePosition)
	r.Post("/positions/liquidate", s.LiquidatePosition)
	r.Get("/positions/{account}", s.GetPositions)

	r.Get("/pool/{asset}", s.GetPool)
	r.Get("/journal", s.GetJournal)

	r.Post("/admin/assets", s.WhitelistAsset)
	r.Post("/admin/prices", s.SetPrice)
	r.Post("/admin/fees/withdraw", s.WithdrawFees)
}

// --- Request/Response types ---

// DepositRequest credits the custody book; the next operation discovers
// the amount via the balance delta.
type DepositRequest struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"` // human units
}

// BuyRequest is the JSON body for POST /buy. A positive Amount is
// deposited to custody first; zero relies on a prior deposit.
type BuyRequest struct {
	Asset    string          `json:"asset"`
	Amount   decimal.Decimal `json:"amount"`
	Receiver string          `json:"receiver"`
}

// SellRequest redeems accounting units held by Account.
type SellRequest struct {
	Asset      string          `json:"asset"`
	Account    string          `json:"account"`
	UnitAmount decimal.Decimal `json:"unit_amount"`
	Receiver   string          `json:"receiver"`
}

// SwapRequest is the JSON body for POST /swap.
type SwapRequest struct {
	AssetIn  string          `json:"asset_in"`
	AssetOut string          `json:"asset_out"`
	Amount   decimal.Decimal `json:"amount"`
	Receiver string          `json:"receiver"`
}

// IncreasePositionRequest opens or grows a leveraged exposure.
type IncreasePositionRequest struct {
	Caller           string          `json:"caller"`
	Account          string          `json:"account"`
	CollateralAsset  string          `json:"collateral_asset"`
	IndexAsset       string          `json:"index_asset"`
	CollateralAmount decimal.Decimal `json:"collateral_amount"` // human token units, optional
	SizeUSD          decimal.Decimal `json:"size_usd"`
	IsLong           bool            `json:"is_long"`
}

// DecreasePositionRequest shrinks or closes a leveraged exposure.
type DecreasePositionRequest struct {
	Caller          string          `json:"caller"`
	Account         string          `json:"account"`
	CollateralAsset string          `json:"collateral_asset"`
	IndexAsset      string          `json:"index_asset"`
	CollateralUSD   decimal.Decimal `json:"collateral_usd"`
	SizeUSD         decimal.Decimal `json:"size_usd"`
	IsLong          bool            `json:"is_long"`
	Receiver        string          `json:"receiver"`
}

// LiquidatePositionRequest settles an unhealthy position.
type LiquidatePositionRequest struct {
	Caller          string `json:"caller"`
	Account         string `json:"account"`
	CollateralAsset string `json:"collateral_asset"`
	IndexAsset      string `json:"index_asset"`
	IsLong          bool   `json:"is_long"`
	FeeReceiver     string `json:"fee_receiver"`
}

// AmountResponse reports an integer amount with a display decimal.
type AmountResponse struct {
	Raw     string          `json:"raw"`
	Display decimal.Decimal `json:"display"`
}

func tokenResponse(amount *big.Int, decimals uint32) AmountResponse {
	return AmountResponse{Raw: amount.String(), Display: fixed.TokenToDecimal(amount, decimals)}
}

func usdResponse(amount *big.Int) AmountResponse {
	return AmountResponse{Raw: amount.String(), Display: fixed.USDToDecimal(amount)}
}

// --- Liquidity handlers ---

// Deposit handles POST /api/v1/deposit.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a, err := s.ledger.Asset(req.Asset)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	amount := req.Amount.Shift(int32(a.Decimals)).BigInt()
	if err := s.custody.Deposit(req.Asset, amount); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]AmountResponse{
		"balance": tokenResponse(s.custody.Balance(req.Asset), a.Decimals),
	})
}

// Buy handles POST /api/v1/buy: deposit collateral, mint accounting
// units to the receiver.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Receiver == "" {
		writeError(w, "receiver is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.ledger.Asset(req.Asset)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if req.Amount.IsPositive() {
		if err := s.custody.Deposit(req.Asset, req.Amount.Shift(int32(a.Decimals)).BigInt()); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	minted, err := s.timed(model.OpBuy, func() (*big.Int, error) {
		return s.ledger.Buy(req.Asset, req.Receiver)
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	s.syncPool(r.Context(), req.Asset)

	slog.Info("units minted", "asset", req.Asset, "receiver", req.Receiver, "minted", minted.String())
	writeJSON(w, http.StatusOK, map[string]AmountResponse{
		"minted": tokenResponse(minted, fixed.UnitDecimals),
	})
}

// Sell handles POST /api/v1/sell: burn the account's accounting units,
// pay collateral to the receiver.
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" || req.Receiver == "" {
		writeError(w, "account and receiver are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.ledger.Asset(req.Asset)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	units := req.UnitAmount.Shift(fixed.UnitDecimals).BigInt()
	if err := s.unit.Transfer(req.Account, ledger.LedgerAccount, units); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	out, err := s.timed(model.OpSell, func() (*big.Int, error) {
		return s.ledger.Sell(req.Asset, req.Receiver)
	})
	if err != nil {
		// The ledger did not commit; hand the units back.
		if rerr := s.unit.Transfer(ledger.LedgerAccount, req.Account, units); rerr != nil {
			slog.Error("unit refund failed", "account", req.Account, "units", units.String(), "err", rerr)
		}
		writeLedgerError(w, err)
		return
	}
	s.syncPool(r.Context(), req.Asset)

	writeJSON(w, http.StatusOK, map[string]AmountResponse{
		"amount_out": tokenResponse(out, a.Decimals),
	})
}

// Swap handles POST /api/v1/swap.
func (s *Service) Swap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Receiver == "" {
		writeError(w, "receiver is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	in, err := s.ledger.Asset(req.AssetIn)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	out, err := s.ledger.Asset(req.AssetOut)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if req.Amount.IsPositive() {
		if err := s.custody.Deposit(req.AssetIn, req.Amount.Shift(int32(in.Decimals)).BigInt()); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	amountOut, err := s.timed(model.OpSwap, func() (*big.Int, error) {
		return s.ledger.Swap(req.AssetIn, req.AssetOut, req.Receiver)
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	s.syncPool(r.Context(), req.AssetIn, req.AssetOut)

	writeJSON(w, http.StatusOK, map[string]AmountResponse{
		"amount_out": tokenResponse(amountOut, out.Decimals),
	})
}

// UpdateFunding handles POST /api/v1/funding.
func (s *Service) UpdateFunding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset string `json:"asset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.timed(model.OpFunding, func() (*big.Int, error) {
		return nil, s.ledger.UpdateFunding(req.Asset)
	}); err != nil {
		writeLedgerError(w, err)
		return
	}
	s.syncPool(r.Context(), req.Asset)

	entry, err := s.ledger.PoolEntry(req.Asset)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"cumulative_funding_rate": entry.CumulativeFundingRate.String(),
		"last_funding_time":       strconv.FormatInt(entry.LastFundingTime, 10),
	})
}

// --- Position handlers ---

// IncreasePosition handles POST /api/v1/positions/increase.
func (s *Service) IncreasePosition(w http.ResponseWriter, r *http.Request) {
	var req IncreasePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Caller == "" || req.Account == "" {
		writeError(w, "caller and account are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.ledger.Asset(req.CollateralAsset)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if req.CollateralAmount.IsPositive() {
		if err := s.custody.Deposit(req.CollateralAsset,
			req.CollateralAmount.Shift(int32(a.Decimals)).BigInt()); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	sizeDelta := req.SizeUSD.Shift(fixed.USDDecimals).BigInt()

	if _, err := s.timed(model.OpIncrease, func() (*big.Int, error) {
		return nil, s.ledger.IncreasePosition(req.Caller, req.Account,
			req.CollateralAsset, req.IndexAsset, sizeDelta, req.IsLong)
	}); err != nil {
		writeLedgerError(w, err)
		return
	}
	key := model.PositionKey{Account: req.Account, CollateralAsset: req.CollateralAsset,
		IndexAsset: req.IndexAsset, IsLong: req.IsLong}
	s.syncPool(r.Context(), req.CollateralAsset, req.IndexAsset)
	s.syncPosition(r.Context(), key)

	p, _ := s.ledger.Position(key)
	writeJSON(w, http.StatusOK, newPositionView(key, p))
}

// DecreasePosition handles POST /api/v1/positions/decrease.
func (s *Service) DecreasePosition(w http.ResponseWriter, r *http.Request) {
	var req DecreasePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Caller == "" || req.Account == "" || req.Receiver == "" {
		writeError(w, "caller, account and receiver are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.ledger.Asset(req.CollateralAsset)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	collateralDelta := req.CollateralUSD.Shift(fixed.USDDecimals).BigInt()
	sizeDelta := req.SizeUSD.Shift(fixed.USDDecimals).BigInt()

	out, err := s.timed(model.OpDecrease, func() (*big.Int, error) {
		return s.ledger.DecreasePosition(req.Caller, req.Account,
			req.CollateralAsset, req.IndexAsset, collateralDelta, sizeDelta,
			req.IsLong, req.Receiver)
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	key := model.PositionKey{Account: req.Account, CollateralAsset: req.CollateralAsset,
		IndexAsset: req.IndexAsset, IsLong: req.IsLong}
	s.syncPool(r.Context(), req.CollateralAsset, req.IndexAsset)
	s.syncPosition(r.Context(), key)

	writeJSON(w, http.StatusOK, map[string]AmountResponse{
		"amount_out": tokenResponse(out, a.Decimals),
	})
}

// LiquidatePosition handles POST /api/v1/positions/liquidate.
func (s *Service) LiquidatePosition(w http.ResponseWriter, r *http.Request) {
	var req LiquidatePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Caller == "" || req.FeeReceiver == "" {
		writeError(w, "caller and fee_receiver are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var state model.LiquidationState
	if _, err := s.timed(model.OpLiquidate, func() (*big.Int, error) {
		var err error
		state, err = s.ledger.LiquidatePosition(req.Caller, req.Account,
			req.CollateralAsset, req.IndexAsset, req.IsLong, req.FeeReceiver)
		return nil, err
	}); err != nil {
		writeLedgerError(w, err)
		return
	}
	metrics.Liquidations.WithLabelValues(state.String()).Inc()

	key := model.PositionKey{Account: req.Account, CollateralAsset: req.CollateralAsset,
		IndexAsset: req.IndexAsset, IsLong: req.IsLong}
	s.syncPool(r.Context(), req.CollateralAsset, req.IndexAsset)
	s.syncPosition(r.Context(), key)

	slog.Info("position liquidated",
		"account", req.Account,
		"collateral", req.CollateralAsset,
		"index", req.IndexAsset,
		"long", req.IsLong,
		"state", state.String(),
	)
	writeJSON(w, http.StatusOK, map[string]string{"state": state.String()})
}

// --- Read handlers ---

// GetPool handles GET /api/v1/pool/{asset}.
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	target, err := s.ledger.TargetDebtUnits(asset)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	// Serve the snapshot through the cache layer; the ledger answers
	// until the first mutation persists one.
	entry, err := s.store.GetPoolEntry(r.Context(), asset)
	if err != nil || entry == nil {
		if entry, err = s.ledger.PoolEntry(asset); err != nil {
			writeLedgerError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entry":             entry,
		"target_debt_units": target.String(),
	})
}

// positionView is the JSON shape returned for a single position.
type positionView struct {
	Key          model.PositionKey `json:"key"`
	Size         AmountResponse    `json:"size"`
	Collateral   AmountResponse    `json:"collateral"`
	AveragePrice AmountResponse    `json:"average_price"`
	RealisedPnl  AmountResponse    `json:"realised_pnl"`
	HasProfit    *bool             `json:"has_profit,omitempty"`
	Delta        *AmountResponse   `json:"delta,omitempty"`
}

func newPositionView(key model.PositionKey, p *model.Position) positionView {
	if p == nil {
		return positionView{Key: key}
	}
	return positionView{
		Key:          key,
		Size:         usdResponse(p.Size),
		Collateral:   usdResponse(p.Collateral),
		AveragePrice: usdResponse(p.AveragePrice),
		RealisedPnl:  usdResponse(p.RealisedPnl),
	}
}

// GetPositions handles GET /api/v1/positions/{account}: all open
// positions with unrealized PnL at current prices. The snapshot store
// serves the account view so hot accounts hit the cache layer.
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	positions, err := s.store.GetPositionsByAccount(r.Context(), account)
	if err != nil {
		slog.Warn("position snapshot read failed", "account", account, "err", err)
		positions = s.ledger.Positions(account)
	}

	views := make([]positionView, 0, len(positions))
	for key, p := range positions {
		view := newPositionView(key, p)
		if hasProfit, delta, err := s.ledger.Delta(key); err == nil {
			d := usdResponse(delta)
			view.HasProfit = &hasProfit
			view.Delta = &d
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

// GetJournal handles GET /api/v1/journal?asset=&account=&limit=.
func (s *Service) GetJournal(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	var records []model.ChangeRecord
	var err error
	switch {
	case r.URL.Query().Get("account") != "":
		records, err = s.store.GetChangesByAccount(r.Context(), r.URL.Query().Get("account"), limit)
	case r.URL.Query().Get("asset") != "":
		records, err = s.store.GetChangesByAsset(r.Context(), r.URL.Query().Get("asset"), limit)
	default:
		writeError(w, "asset or account query parameter is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, "failed to load journal", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.ChangeRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// --- Admin handlers ---

// WhitelistAssetRequest registers or updates an asset.
type WhitelistAssetRequest struct {
	Caller         string          `json:"caller"`
	Symbol         string          `json:"symbol"`
	Decimals       uint32          `json:"decimals"`
	Weight         uint64          `json:"weight"`
	IsStable       bool            `json:"is_stable"`
	IsShortable    bool            `json:"is_shortable"`
	MinProfitBps   uint64          `json:"min_profit_bps"`
	MaxDebtCeiling decimal.Decimal `json:"max_debt_ceiling"` // unit human amount, 0 = unlimited
}

// WhitelistAsset handles POST /api/v1/admin/assets.
func (s *Service) WhitelistAsset(w http.ResponseWriter, r *http.Request) {
	var req WhitelistAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a := model.Asset{
		Symbol:         req.Symbol,
		Decimals:       req.Decimals,
		Weight:         req.Weight,
		IsStable:       req.IsStable,
		IsShortable:    req.IsShortable,
		MinProfitBps:   req.MinProfitBps,
		MaxDebtCeiling: req.MaxDebtCeiling.Shift(fixed.UnitDecimals).BigInt(),
	}
	if err := s.ledger.WhitelistAsset(req.Caller, a); err != nil {
		writeLedgerError(w, err)
		return
	}
	slog.Info("asset whitelisted", "symbol", req.Symbol, "decimals", req.Decimals,
		"weight", req.Weight, "stable", req.IsStable)
	writeJSON(w, http.StatusCreated, a)
}

// SetPriceRequest feeds the operator oracle.
type SetPriceRequest struct {
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`               // USD per whole token
	Secondary decimal.Decimal `json:"secondary,omitempty"` // optional secondary quote
}

// SetPrice handles POST /api/v1/admin/prices.
func (s *Service) SetPrice(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		writeError(w, "price submission is not enabled", http.StatusNotFound)
		return
	}
	var req SetPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Price.IsPositive() {
		writeError(w, "price must be positive", http.StatusBadRequest)
		return
	}
	s.prices.SetPrice(req.Asset, req.Price.Shift(fixed.USDDecimals).BigInt())
	if req.Secondary.IsPositive() {
		s.prices.SetSecondaryPrice(req.Asset, req.Secondary.Shift(fixed.USDDecimals).BigInt())
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WithdrawFeesRequest drains an asset's fee reserve.
type WithdrawFeesRequest struct {
	Caller   string `json:"caller"`
	Asset    string `json:"asset"`
	Receiver string `json:"receiver"`
}

// WithdrawFees handles POST /api/v1/admin/fees/withdraw.
func (s *Service) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req WithdrawFeesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.ledger.Asset(req.Asset)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	amount, err := s.timed(model.OpWithdrawFees, func() (*big.Int, error) {
		return s.ledger.WithdrawFees(req.Caller, req.Asset, req.Receiver)
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	s.syncPool(r.Context(), req.Asset)

	writeJSON(w, http.StatusOK, map[string]AmountResponse{
		"withdrawn": tokenResponse(amount, a.Decimals),
	})
}

// --- Helpers ---

// timed wraps a ledger mutation with operation metrics.
func (s *Service) timed(op string, fn func() (*big.Int, error)) (*big.Int, error) {
	start := time.Now()
	out, err := fn()
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = ledger.Kind(err)
	}
	metrics.OperationsTotal.WithLabelValues(op, outcome).Inc()
	return out, err
}

// syncPool persists the latest pool snapshots for the given assets.
func (s *Service) syncPool(ctx context.Context, assets ...string) {
	for _, asset := range assets {
		entry, err := s.ledger.PoolEntry(asset)
		if err != nil {
			continue
		}
		if err := s.store.SavePoolEntry(ctx, asset, entry); err != nil {
			slog.Error("pool snapshot failed", "asset", asset, "err", err)
		}
	}
}

// syncPosition persists or deletes a position snapshot.
func (s *Service) syncPosition(ctx context.Context, key model.PositionKey) {
	p, ok := s.ledger.Position(key)
	if !ok {
		if err := s.store.DeletePosition(ctx, key); err != nil {
			slog.Error("position delete failed", "account", key.Account, "err", err)
		}
		return
	}
	if err := s.store.SavePosition(ctx, key, p); err != nil {
		slog.Error("position snapshot failed", "account", key.Account, "err", err)
	}
}

// writeLedgerError maps a ledger error kind to an HTTP status.
func writeLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch ledger.Kind(err) {
	case ledger.KindAuthorization:
		status = http.StatusForbidden
	case ledger.KindValidation:
		status = http.StatusBadRequest
	case ledger.KindSolvency:
		status = http.StatusConflict
	case ledger.KindState:
		if errors.Is(err, ledger.ErrPositionNotFound) {
			status = http.StatusNotFound
		} else {
			status = http.StatusConflict
		}
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
