package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/perpx/vault-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// cachedPosition pairs a key with its position for JSON round-trips;
// PositionKey cannot serve as a JSON object key.
type cachedPosition struct {
	Key model.PositionKey `json:"key"`
	Pos *model.Position   `json:"pos"`
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertChange(ctx context.Context, rec *model.ChangeRecord) error {
	if err := s.primary.InsertChange(ctx, rec); err != nil {
		return err
	}
	if rec.Account != "" {
		s.rdb.Del(ctx, positionsKey(rec.Account))
	}
	return nil
}

func (s *CachedStore) SavePoolEntry(ctx context.Context, asset string, e *model.PoolEntry) error {
	if err := s.primary.SavePoolEntry(ctx, asset, e); err != nil {
		return err
	}
	s.cachePoolEntry(ctx, asset, e)
	return nil
}

func (s *CachedStore) SavePosition(ctx context.Context, key model.PositionKey, p *model.Position) error {
	if err := s.primary.SavePosition(ctx, key, p); err != nil {
		return err
	}
	// Invalidate; next read re-populates the whole account view.
	s.rdb.Del(ctx, positionsKey(key.Account))
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, key model.PositionKey) error {
	if err := s.primary.DeletePosition(ctx, key); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(key.Account))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPoolEntry(ctx context.Context, asset string) (*model.PoolEntry, error) {
	data, err := s.rdb.Get(ctx, poolKey(asset)).Bytes()
	if err == nil {
		e := model.NewPoolEntry()
		if json.Unmarshal(data, e) == nil {
			return e, nil
		}
	}

	e, err := s.primary.GetPoolEntry(ctx, asset)
	if err != nil {
		return nil, err
	}
	if e != nil {
		s.cachePoolEntry(ctx, asset, e)
	}
	return e, nil
}

func (s *CachedStore) GetPositionsByAccount(ctx context.Context, account string) (map[model.PositionKey]*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(account)).Bytes()
	if err == nil {
		var cached []cachedPosition
		if json.Unmarshal(data, &cached) == nil {
			out := make(map[model.PositionKey]*model.Position, len(cached))
			for _, c := range cached {
				out[c.Key] = c.Pos
			}
			return out, nil
		}
	}

	positions, err := s.primary.GetPositionsByAccount(ctx, account)
	if err != nil {
		return nil, err
	}

	cached := make([]cachedPosition, 0, len(positions))
	for k, p := range positions {
		cached = append(cached, cachedPosition{Key: k, Pos: p})
	}
	if data, err := json.Marshal(cached); err == nil {
		s.rdb.Set(ctx, positionsKey(account), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetChangesByAsset(ctx context.Context, asset string, limit int) ([]model.ChangeRecord, error) {
	return s.primary.GetChangesByAsset(ctx, asset, limit)
}

func (s *CachedStore) GetChangesByAccount(ctx context.Context, account string, limit int) ([]model.ChangeRecord, error) {
	return s.primary.GetChangesByAccount(ctx, account, limit)
}

func (s *CachedStore) ListPoolEntries(ctx context.Context) (map[string]*model.PoolEntry, error) {
	return s.primary.ListPoolEntries(ctx)
}

func (s *CachedStore) ListPositions(ctx context.Context) (map[model.PositionKey]*model.Position, error) {
	return s.primary.ListPositions(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cachePoolEntry(ctx context.Context, asset string, e *model.PoolEntry) {
	if data, err := json.Marshal(e); err == nil {
		s.rdb.Set(ctx, poolKey(asset), data, s.ttl)
	}
}

func poolKey(asset string) string        { return fmt.Sprintf("pool:%s", asset) }
func positionsKey(account string) string { return fmt.Sprintf("positions:%s", account) }
