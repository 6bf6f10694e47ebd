package store

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/perpx/vault-engine/internal/model"
)

func record(op, asset, counter, account string, seq int64) *model.ChangeRecord {
	return &model.ChangeRecord{
		ID:            fmt.Sprintf("rec-%d", seq),
		Op:            op,
		Asset:         asset,
		CounterAsset:  counter,
		Account:       account,
		TokenDelta:    big.NewInt(seq),
		USDDelta:      big.NewInt(seq * 1000),
		PoolAfter:     big.NewInt(seq),
		ReservedAfter: new(big.Int),
		DebtAfter:     new(big.Int),
		FundingAfter:  new(big.Int),
		Timestamp:     time.Unix(1_700_000_000+seq, 0).UTC(),
	}
}

func TestMemoryStoreJournalByAsset(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i, rec := range []*model.ChangeRecord{
		record(model.OpBuy, "USDC", "", "alice", 1),
		record(model.OpBuy, "WETH", "", "bob", 2),
		record(model.OpSwap, "USDC", "WETH", "alice", 3),
	} {
		if err := s.InsertChange(ctx, rec); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	// Counter-asset matches count too.
	got, err := s.GetChangesByAsset(ctx, "WETH", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	if got[0].ID != "rec-2" || got[1].ID != "rec-3" {
		t.Errorf("order = %s, %s; want rec-2, rec-3", got[0].ID, got[1].ID)
	}

	// Limit keeps the newest, still oldest-first.
	got, err = s.GetChangesByAsset(ctx, "USDC", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "rec-3" {
		t.Fatalf("limited = %v", got)
	}
}

func TestMemoryStoreJournalByAccount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for seq := int64(1); seq <= 5; seq++ {
		account := "alice"
		if seq%2 == 0 {
			account = "bob"
		}
		if err := s.InsertChange(ctx, record(model.OpBuy, "USDC", "", account, seq)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.GetChangesByAccount(ctx, "alice", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	if got[0].ID != "rec-3" || got[1].ID != "rec-5" {
		t.Errorf("order = %s, %s; want rec-3, rec-5", got[0].ID, got[1].ID)
	}

	got, err = s.GetChangesByAccount(ctx, "nobody", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("records = %d, want 0", len(got))
	}
}

func TestMemoryStorePoolEntries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if e, err := s.GetPoolEntry(ctx, "USDC"); err != nil || e != nil {
		t.Fatalf("missing entry = (%v, %v), want (nil, nil)", e, err)
	}

	e := model.NewPoolEntry()
	e.PoolAmount.SetInt64(1000)
	if err := s.SavePoolEntry(ctx, "USDC", e); err != nil {
		t.Fatal(err)
	}

	// The store holds a copy, not the caller's value.
	e.PoolAmount.SetInt64(0)
	got, err := s.GetPoolEntry(ctx, "USDC")
	if err != nil {
		t.Fatal(err)
	}
	if got.PoolAmount.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("pool = %s, want 1000", got.PoolAmount)
	}

	all, err := s.ListPoolEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all["USDC"] == nil {
		t.Errorf("list = %v", all)
	}
}

func TestMemoryStorePositions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	key := model.PositionKey{Account: "alice", CollateralAsset: "WETH",
		IndexAsset: "WETH", IsLong: true}
	p := model.NewPosition()
	p.Size.SetInt64(9000)
	if err := s.SavePosition(ctx, key, p); err != nil {
		t.Fatal(err)
	}

	other := key
	other.Account = "bob"
	if err := s.SavePosition(ctx, other, model.NewPosition()); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetPositionsByAccount(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("positions = %d, want 1", len(got))
	}
	if got[key].Size.Cmp(big.NewInt(9000)) != 0 {
		t.Errorf("size = %s, want 9000", got[key].Size)
	}

	if err := s.DeletePosition(ctx, key); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetPositionsByAccount(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("positions after delete = %d, want 0", len(got))
	}
}

func TestMemoryStoreListPositions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	key := model.PositionKey{Account: "alice", CollateralAsset: "WETH",
		IndexAsset: "WETH", IsLong: true}
	other := key
	other.Account = "bob"
	for _, k := range []model.PositionKey{key, other} {
		if err := s.SavePosition(ctx, k, model.NewPosition()); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("positions = %d, want 2", len(all))
	}
	if all[key] == nil || all[other] == nil {
		t.Errorf("list = %v", all)
	}
}
