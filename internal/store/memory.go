package store

import (
	"context"
	"sync"

	"github.com/perpx/vault-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	journal   []model.ChangeRecord
	pools     map[string]*model.PoolEntry
	positions map[model.PositionKey]*model.Position
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:     make(map[string]*model.PoolEntry),
		positions: make(map[model.PositionKey]*model.Position),
	}
}

func (s *MemoryStore) InsertChange(_ context.Context, rec *model.ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = append(s.journal, *rec)
	return nil
}

func (s *MemoryStore) GetChangesByAsset(_ context.Context, asset string, limit int) ([]model.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ChangeRecord
	for _, r := range s.journal {
		if r.Asset == asset || r.CounterAsset == asset {
			result = append(result, r)
		}
	}
	return tail(result, limit), nil
}

func (s *MemoryStore) GetChangesByAccount(_ context.Context, account string, limit int) ([]model.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ChangeRecord
	for _, r := range s.journal {
		if r.Account == account {
			result = append(result, r)
		}
	}
	return tail(result, limit), nil
}

func tail(records []model.ChangeRecord, limit int) []model.ChangeRecord {
	if limit > 0 && len(records) > limit {
		return records[len(records)-limit:]
	}
	return records
}

func (s *MemoryStore) SavePoolEntry(_ context.Context, asset string, e *model.PoolEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[asset] = e.Clone()
	return nil
}

func (s *MemoryStore) GetPoolEntry(_ context.Context, asset string) (*model.PoolEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.pools[asset]
	if !ok {
		return nil, nil
	}
	return e.Clone(), nil
}

func (s *MemoryStore) ListPoolEntries(_ context.Context) (map[string]*model.PoolEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*model.PoolEntry, len(s.pools))
	for asset, e := range s.pools {
		out[asset] = e.Clone()
	}
	return out, nil
}

func (s *MemoryStore) SavePosition(_ context.Context, key model.PositionKey, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[key] = p.Clone()
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, key model.PositionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, key)
	return nil
}

func (s *MemoryStore) GetPositionsByAccount(_ context.Context, account string) (map[model.PositionKey]*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.PositionKey]*model.Position)
	for k, p := range s.positions {
		if k.Account == account {
			out[k] = p.Clone()
		}
	}
	return out, nil
}

func (s *MemoryStore) ListPositions(_ context.Context) (map[model.PositionKey]*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.PositionKey]*model.Position, len(s.positions))
	for k, p := range s.positions {
		out[k] = p.Clone()
	}
	return out, nil
}
