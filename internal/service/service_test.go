package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/perpx/vault-engine/internal/bank"
	"github.com/perpx/vault-engine/internal/ledger"
	"github.com/perpx/vault-engine/internal/model"
	"github.com/perpx/vault-engine/internal/oracle"
	"github.com/perpx/vault-engine/internal/policy"
	"github.com/perpx/vault-engine/internal/service"
	"github.com/perpx/vault-engine/internal/store"
)

type testEnv struct {
	svc    *service.Service
	ledger *ledger.Ledger
	unit   *bank.Unit
	store  *store.MemoryStore
	router chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	prices := oracle.NewStatic()
	book := bank.NewBook()
	unit := bank.NewUnit()
	led, err := ledger.New(ledger.DefaultConfig("gov"), prices, book, unit,
		policy.NewStandardFees(), policy.NewStandardLiquidation())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	memStore := store.NewMemoryStore()
	svc := service.NewService(led, book, unit, prices, memStore, nil)
	r := chi.NewRouter()
	svc.Routes(r)
	return &testEnv{svc: svc, ledger: led, unit: unit, store: memStore, router: r}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

// seedAsset whitelists an asset as governance and sets its price.
func (env *testEnv) seedAsset(t *testing.T, symbol string, decimals uint32, stable, shortable bool, price string) {
	t.Helper()
	w := env.do(t, http.MethodPost, "/admin/assets", map[string]any{
		"caller":       "gov",
		"symbol":       symbol,
		"decimals":     decimals,
		"weight":       10_000,
		"is_stable":    stable,
		"is_shortable": shortable,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("whitelist %s: status %d: %s", symbol, w.Code, w.Body)
	}
	w = env.do(t, http.MethodPost, "/admin/prices", map[string]any{
		"asset": symbol,
		"price": price,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("set price %s: status %d: %s", symbol, w.Code, w.Body)
	}
}

type amountField struct {
	Raw     string `json:"raw"`
	Display string `json:"display"`
}

func TestWhitelistRequiresGovernance(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/admin/assets", map[string]any{
		"caller":   "mallory",
		"symbol":   "USDC",
		"decimals": 6,
		"weight":   10_000,
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestBuyMintsAndJournals(t *testing.T) {
	env := newTestEnv(t)
	env.seedAsset(t, "USDC", 6, true, false, "1")

	w := env.do(t, http.MethodPost, "/buy", map[string]any{
		"asset":    "USDC",
		"amount":   "1000",
		"receiver": "alice",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("buy: status %d: %s", w.Code, w.Body)
	}
	var resp map[string]amountField
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["minted"].Raw != "997000000000000000000" {
		t.Errorf("minted raw = %s", resp["minted"].Raw)
	}
	if resp["minted"].Display != "997" {
		t.Errorf("minted display = %s", resp["minted"].Display)
	}

	// The change hook journaled the buy.
	records, err := env.store.GetChangesByAsset(context.Background(), "USDC", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Op != model.OpBuy {
		t.Fatalf("journal = %+v", records)
	}

	// And the handler snapshotted the pool.
	entry, err := env.store.GetPoolEntry(context.Background(), "USDC")
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil || entry.PoolAmount.String() != "997000000" {
		t.Errorf("pool snapshot = %+v", entry)
	}
}

func TestBuyUnknownAsset(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/buy", map[string]any{
		"asset":    "DOGE",
		"amount":   "10",
		"receiver": "alice",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSellRefundsUnitsOnFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedAsset(t, "USDC", 6, true, false, "1")
	env.do(t, http.MethodPost, "/buy", map[string]any{
		"asset": "USDC", "amount": "1000", "receiver": "alice",
	})

	// A buffer above the pool makes the redemption fail after the units
	// moved; the handler must hand them back.
	if err := env.ledger.SetBufferAmount("gov", "USDC", big.NewInt(997_000_000)); err != nil {
		t.Fatal(err)
	}
	sell := map[string]any{
		"asset":       "USDC",
		"account":     "alice",
		"unit_amount": "997",
		"receiver":    "alice",
	}
	w := env.do(t, http.MethodPost, "/sell", sell)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body)
	}
	want := new(big.Int).Mul(big.NewInt(997), big.NewInt(1e18))
	if got := env.unit.BalanceOf("alice"); got.Cmp(want) != 0 {
		t.Errorf("units after failed sell = %s, want %s", got, want)
	}

	// With the buffer lifted the same units redeem, proving they were
	// returned rather than stranded.
	if err := env.ledger.SetBufferAmount("gov", "USDC", big.NewInt(0)); err != nil {
		t.Fatal(err)
	}
	w = env.do(t, http.MethodPost, "/sell", sell)
	if w.Code != http.StatusOK {
		t.Fatalf("second sell status = %d, want 200: %s", w.Code, w.Body)
	}
}

func TestSwapOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.seedAsset(t, "USDC", 6, true, false, "1")
	env.seedAsset(t, "WETH", 18, false, true, "3000")
	env.do(t, http.MethodPost, "/buy", map[string]any{
		"asset": "USDC", "amount": "30000", "receiver": "lp",
	})
	env.do(t, http.MethodPost, "/buy", map[string]any{
		"asset": "WETH", "amount": "10", "receiver": "lp",
	})

	w := env.do(t, http.MethodPost, "/swap", map[string]any{
		"asset_in":  "USDC",
		"asset_out": "WETH",
		"amount":    "3000",
		"receiver":  "alice",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("swap: status %d: %s", w.Code, w.Body)
	}
	var resp map[string]amountField
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["amount_out"].Display != "0.997" {
		t.Errorf("amount out = %s, want 0.997", resp["amount_out"].Display)
	}
}

func TestPositionLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.seedAsset(t, "WETH", 18, false, true, "3000")
	env.do(t, http.MethodPost, "/buy", map[string]any{
		"asset": "WETH", "amount": "10", "receiver": "lp",
	})

	w := env.do(t, http.MethodPost, "/positions/increase", map[string]any{
		"caller":            "alice",
		"account":           "alice",
		"collateral_asset":  "WETH",
		"index_asset":       "WETH",
		"collateral_amount": "1",
		"size_usd":          "9000",
		"is_long":           true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("increase: status %d: %s", w.Code, w.Body)
	}
	var view struct {
		Size       amountField `json:"size"`
		Collateral amountField `json:"collateral"`
	}
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if view.Size.Display != "9000" {
		t.Errorf("size = %s, want 9000", view.Size.Display)
	}
	if view.Collateral.Display != "2991" {
		t.Errorf("collateral = %s, want 2991", view.Collateral.Display)
	}

	w = env.do(t, http.MethodGet, "/positions/alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get positions: status %d", w.Code)
	}
	var views []struct {
		Key       model.PositionKey `json:"key"`
		HasProfit *bool             `json:"has_profit"`
	}
	if err := json.NewDecoder(w.Body).Decode(&views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 {
		t.Fatalf("positions = %d, want 1", len(views))
	}
	if views[0].Key.IndexAsset != "WETH" || !views[0].Key.IsLong {
		t.Errorf("key = %+v", views[0].Key)
	}
	if views[0].HasProfit == nil {
		t.Error("missing unrealized pnl")
	}

	w = env.do(t, http.MethodPost, "/positions/decrease", map[string]any{
		"caller":           "alice",
		"account":          "alice",
		"collateral_asset": "WETH",
		"index_asset":      "WETH",
		"size_usd":         "9000",
		"is_long":          true,
		"receiver":         "alice",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("decrease: status %d: %s", w.Code, w.Body)
	}

	w = env.do(t, http.MethodGet, "/positions/alice", nil)
	if err := json.NewDecoder(w.Body).Decode(&views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 0 {
		t.Errorf("positions after close = %d, want 0", len(views))
	}

	// The closed position is gone from the snapshot store too.
	positions, err := env.store.GetPositionsByAccount(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 0 {
		t.Errorf("stored positions = %d, want 0", len(positions))
	}
}

func TestLiquidateStatusMapping(t *testing.T) {
	env := newTestEnv(t)
	env.seedAsset(t, "WETH", 18, false, true, "3000")

	// Unauthorized caller.
	w := env.do(t, http.MethodPost, "/positions/liquidate", map[string]any{
		"caller":           "rando",
		"account":          "alice",
		"collateral_asset": "WETH",
		"index_asset":      "WETH",
		"is_long":          true,
		"fee_receiver":     "rando",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestDecreaseMissingPositionIs404(t *testing.T) {
	env := newTestEnv(t)
	env.seedAsset(t, "WETH", 18, false, true, "3000")

	w := env.do(t, http.MethodPost, "/positions/decrease", map[string]any{
		"caller":           "alice",
		"account":          "alice",
		"collateral_asset": "WETH",
		"index_asset":      "WETH",
		"size_usd":         "100",
		"is_long":          true,
		"receiver":         "alice",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404: %s", w.Code, w.Body)
	}
}

func TestJournalQuery(t *testing.T) {
	env := newTestEnv(t)
	env.seedAsset(t, "USDC", 6, true, false, "1")
	for i := 0; i < 3; i++ {
		env.do(t, http.MethodPost, "/buy", map[string]any{
			"asset": "USDC", "amount": "100", "receiver": fmt.Sprintf("acct-%d", i),
		})
	}

	w := env.do(t, http.MethodGet, "/journal?asset=USDC&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("journal: status %d", w.Code)
	}
	var records []model.ChangeRecord
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Account != "acct-1" || records[1].Account != "acct-2" {
		t.Errorf("order = %s, %s", records[0].Account, records[1].Account)
	}

	w = env.do(t, http.MethodGet, "/journal?account=acct-0", nil)
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("account records = %d, want 1", len(records))
	}

	// A filter is required.
	w = env.do(t, http.MethodGet, "/journal", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unfiltered status = %d, want 400", w.Code)
	}
}

func TestRestartResumesFromStore(t *testing.T) {
	env := newTestEnv(t)
	env.seedAsset(t, "USDC", 6, true, false, "1")
	w := env.do(t, http.MethodPost, "/buy", map[string]any{
		"asset": "USDC", "amount": "1000", "receiver": "alice",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("buy: status %d: %s", w.Code, w.Body)
	}

	// A new process over the same store: fresh collaborators, custody
	// re-credited to the snapshots, then the ledger rehydrated.
	ctx := context.Background()
	prices := oracle.NewStatic()
	book := bank.NewBook()
	unit := bank.NewUnit()
	led, err := ledger.New(ledger.DefaultConfig("gov"), prices, book, unit,
		policy.NewStandardFees(), policy.NewStandardLiquidation())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	entries, err := env.store.ListPoolEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	positions, err := env.store.ListPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for asset, e := range entries {
		if e.ObservedBalance.Sign() > 0 {
			if err := book.Deposit(asset, e.ObservedBalance); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := led.Restore(entries, positions); err != nil {
		t.Fatalf("restore: %v", err)
	}

	svc := service.NewService(led, book, unit, prices, env.store, nil)
	r := chi.NewRouter()
	svc.Routes(r)
	env2 := &testEnv{svc: svc, ledger: led, unit: unit, store: env.store, router: r}
	env2.seedAsset(t, "USDC", 6, true, false, "1")

	// The pool picks up where the previous run left off.
	w = env2.do(t, http.MethodGet, "/pool/USDC", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get pool: status %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Entry model.PoolEntry `json:"entry"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Entry.PoolAmount.String() != "997000000" {
		t.Errorf("pool after restart = %s, want 997000000", resp.Entry.PoolAmount)
	}

	// And the ledger itself holds the restored entry, not just the store.
	entry, err := led.PoolEntry("USDC")
	if err != nil {
		t.Fatal(err)
	}
	if entry.PoolAmount.String() != "997000000" {
		t.Errorf("ledger pool after restart = %s, want 997000000", entry.PoolAmount)
	}
}

func TestGetPool(t *testing.T) {
	env := newTestEnv(t)
	env.seedAsset(t, "USDC", 6, true, false, "1")
	env.do(t, http.MethodPost, "/buy", map[string]any{
		"asset": "USDC", "amount": "1000", "receiver": "alice",
	})

	w := env.do(t, http.MethodGet, "/pool/USDC", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get pool: status %d", w.Code)
	}
	var resp struct {
		Entry           model.PoolEntry `json:"entry"`
		TargetDebtUnits string          `json:"target_debt_units"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Entry.PoolAmount.String() != "997000000" {
		t.Errorf("pool = %s", resp.Entry.PoolAmount)
	}
	if resp.TargetDebtUnits != "997000000000000000000" {
		t.Errorf("target debt = %s", resp.TargetDebtUnits)
	}

	w = env.do(t, http.MethodGet, "/pool/DOGE", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown asset status = %d, want 400", w.Code)
	}
}
