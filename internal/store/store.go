// Package store defines the persistence interface for the vault engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The ledger itself is authoritative in memory; the store carries the
// immutable change journal and the latest pool/position snapshots so
// state can be inspected and rebuilt.
package store

import (
	"context"

	"github.com/perpx/vault-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Immutable change journal ---

	// InsertChange appends a change record.
	InsertChange(ctx context.Context, rec *model.ChangeRecord) error

	// GetChangesByAsset returns the most recent records touching an asset,
	// oldest first. limit <= 0 means no limit.
	GetChangesByAsset(ctx context.Context, asset string, limit int) ([]model.ChangeRecord, error)

	// GetChangesByAccount returns the most recent records for an account,
	// oldest first. limit <= 0 means no limit.
	GetChangesByAccount(ctx context.Context, account string, limit int) ([]model.ChangeRecord, error)

	// --- Pool snapshots ---

	// SavePoolEntry upserts the latest pool state for an asset.
	SavePoolEntry(ctx context.Context, asset string, e *model.PoolEntry) error

	// GetPoolEntry retrieves the latest pool state for an asset.
	GetPoolEntry(ctx context.Context, asset string) (*model.PoolEntry, error)

	// ListPoolEntries returns all pool snapshots keyed by asset.
	ListPoolEntries(ctx context.Context) (map[string]*model.PoolEntry, error)

	// --- Position snapshots ---

	// SavePosition upserts the latest state of a position.
	SavePosition(ctx context.Context, key model.PositionKey, p *model.Position) error

	// DeletePosition removes a closed position.
	DeletePosition(ctx context.Context, key model.PositionKey) error

	// GetPositionsByAccount returns an account's open positions.
	GetPositionsByAccount(ctx context.Context, account string) (map[model.PositionKey]*model.Position, error)

	// ListPositions returns every saved position, used to rehydrate the
	// ledger on startup.
	ListPositions(ctx context.Context) (map[model.PositionKey]*model.Position, error)
}
