package store

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perpx/vault-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All fixed-point amounts are stored as NUMERIC for exact precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertChange(ctx context.Context, r *model.ChangeRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO change_journal (id, op, asset, counter_asset, account,
		         token_delta, usd_delta, pool_after, reserved_after, debt_after, funding_after, ts)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12)`,
		r.ID, r.Op, r.Asset, r.CounterAsset, r.Account,
		r.TokenDelta.String(), r.USDDelta.String(),
		r.PoolAfter.String(), r.ReservedAfter.String(),
		r.DebtAfter.String(), r.FundingAfter.String(),
		r.Timestamp,
	)
	return err
}

const changeColumns = `id, op, asset, counter_asset, account,
	token_delta::TEXT, usd_delta::TEXT,
	pool_after::TEXT, reserved_after::TEXT, debt_after::TEXT, funding_after::TEXT, ts`

func (s *PostgresStore) GetChangesByAsset(ctx context.Context, asset string, limit int) ([]model.ChangeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+changeColumns+`
		 FROM change_journal WHERE asset = $1 OR counter_asset = $1
		 ORDER BY ts`+limitClause(limit), asset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChanges(rows)
}

func (s *PostgresStore) GetChangesByAccount(ctx context.Context, account string, limit int) ([]model.ChangeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+changeColumns+`
		 FROM change_journal WHERE account = $1
		 ORDER BY ts`+limitClause(limit), account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChanges(rows)
}

func limitClause(limit int) string {
	if limit > 0 {
		return fmt.Sprintf(" LIMIT %d", limit)
	}
	return ""
}

func (s *PostgresStore) SavePoolEntry(ctx context.Context, asset string, e *model.PoolEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pool_entries (asset, observed_balance, pool_amount, reserved_amount,
		         buffer_amount, fee_reserve, debt_units, guaranteed_usd,
		         cumulative_funding_rate, last_funding_time,
		         global_short_size, global_short_average_price, max_global_short_size)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC,
		         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC)
		 ON CONFLICT (asset) DO UPDATE SET
		         observed_balance = EXCLUDED.observed_balance,
		         pool_amount = EXCLUDED.pool_amount,
		         reserved_amount = EXCLUDED.reserved_amount,
		         buffer_amount = EXCLUDED.buffer_amount,
		         fee_reserve = EXCLUDED.fee_reserve,
		         debt_units = EXCLUDED.debt_units,
		         guaranteed_usd = EXCLUDED.guaranteed_usd,
		         cumulative_funding_rate = EXCLUDED.cumulative_funding_rate,
		         last_funding_time = EXCLUDED.last_funding_time,
		         global_short_size = EXCLUDED.global_short_size,
		         global_short_average_price = EXCLUDED.global_short_average_price,
		         max_global_short_size = EXCLUDED.max_global_short_size`,
		asset,
		e.ObservedBalance.String(), e.PoolAmount.String(), e.ReservedAmount.String(),
		e.BufferAmount.String(), e.FeeReserve.String(), e.DebtUnits.String(),
		e.GuaranteedUSD.String(), e.CumulativeFundingRate.String(), e.LastFundingTime,
		e.GlobalShortSize.String(), e.GlobalShortAveragePrice.String(), e.MaxGlobalShortSize.String(),
	)
	return err
}

const poolColumns = `observed_balance::TEXT, pool_amount::TEXT, reserved_amount::TEXT,
	buffer_amount::TEXT, fee_reserve::TEXT, debt_units::TEXT, guaranteed_usd::TEXT,
	cumulative_funding_rate::TEXT, last_funding_time,
	global_short_size::TEXT, global_short_average_price::TEXT, max_global_short_size::TEXT`

func (s *PostgresStore) GetPoolEntry(ctx context.Context, asset string) (*model.PoolEntry, error) {
	var observed, pool, reserved, buffer, fees, debt, guaranteed string
	var funding, shortSize, shortAvg, maxShort string
	e := model.NewPoolEntry()

	err := s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pool_entries WHERE asset = $1`, asset).
		Scan(&observed, &pool, &reserved, &buffer, &fees, &debt, &guaranteed,
			&funding, &e.LastFundingTime, &shortSize, &shortAvg, &maxShort)
	if err != nil {
		return nil, fmt.Errorf("get pool entry %s: %w", asset, err)
	}

	setBig(e.ObservedBalance, observed)
	setBig(e.PoolAmount, pool)
	setBig(e.ReservedAmount, reserved)
	setBig(e.BufferAmount, buffer)
	setBig(e.FeeReserve, fees)
	setBig(e.DebtUnits, debt)
	setBig(e.GuaranteedUSD, guaranteed)
	setBig(e.CumulativeFundingRate, funding)
	setBig(e.GlobalShortSize, shortSize)
	setBig(e.GlobalShortAveragePrice, shortAvg)
	setBig(e.MaxGlobalShortSize, maxShort)
	return e, nil
}

func (s *PostgresStore) ListPoolEntries(ctx context.Context) (map[string]*model.PoolEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asset, `+poolColumns+` FROM pool_entries ORDER BY asset`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*model.PoolEntry)
	for rows.Next() {
		var asset string
		var observed, pool, reserved, buffer, fees, debt, guaranteed string
		var funding, shortSize, shortAvg, maxShort string
		e := model.NewPoolEntry()
		if err := rows.Scan(&asset, &observed, &pool, &reserved, &buffer, &fees,
			&debt, &guaranteed, &funding, &e.LastFundingTime,
			&shortSize, &shortAvg, &maxShort); err != nil {
			return nil, err
		}
		setBig(e.ObservedBalance, observed)
		setBig(e.PoolAmount, pool)
		setBig(e.ReservedAmount, reserved)
		setBig(e.BufferAmount, buffer)
		setBig(e.FeeReserve, fees)
		setBig(e.DebtUnits, debt)
		setBig(e.GuaranteedUSD, guaranteed)
		setBig(e.CumulativeFundingRate, funding)
		setBig(e.GlobalShortSize, shortSize)
		setBig(e.GlobalShortAveragePrice, shortAvg)
		setBig(e.MaxGlobalShortSize, maxShort)
		out[asset] = e
	}
	return out, rows.Err()
}

func (s *PostgresStore) SavePosition(ctx context.Context, key model.PositionKey, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (account, collateral_asset, index_asset, is_long,
		         size, collateral, average_price, entry_funding_rate,
		         reserve_amount, realised_pnl, last_increased_time)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
		         $9::NUMERIC, $10::NUMERIC, $11)
		 ON CONFLICT (account, collateral_asset, index_asset, is_long) DO UPDATE SET
		         size = EXCLUDED.size,
		         collateral = EXCLUDED.collateral,
		         average_price = EXCLUDED.average_price,
		         entry_funding_rate = EXCLUDED.entry_funding_rate,
		         reserve_amount = EXCLUDED.reserve_amount,
		         realised_pnl = EXCLUDED.realised_pnl,
		         last_increased_time = EXCLUDED.last_increased_time`,
		key.Account, key.CollateralAsset, key.IndexAsset, key.IsLong,
		p.Size.String(), p.Collateral.String(), p.AveragePrice.String(),
		p.EntryFundingRate.String(), p.ReserveAmount.String(),
		p.RealisedPnl.String(), p.LastIncreasedTime,
	)
	return err
}

func (s *PostgresStore) DeletePosition(ctx context.Context, key model.PositionKey) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM positions
		 WHERE account = $1 AND collateral_asset = $2 AND index_asset = $3 AND is_long = $4`,
		key.Account, key.CollateralAsset, key.IndexAsset, key.IsLong)
	return err
}

const positionColumns = `account, collateral_asset, index_asset, is_long,
	size::TEXT, collateral::TEXT, average_price::TEXT, entry_funding_rate::TEXT,
	reserve_amount::TEXT, realised_pnl::TEXT, last_increased_time`

func (s *PostgresStore) GetPositionsByAccount(ctx context.Context, account string) (map[model.PositionKey]*model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE account = $1`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ListPositions(ctx context.Context) (map[model.PositionKey]*model.Position, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+positionColumns+` FROM positions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func scanPositions(rows pgxRows) (map[model.PositionKey]*model.Position, error) {
	out := make(map[model.PositionKey]*model.Position)
	for rows.Next() {
		var key model.PositionKey
		var size, collateral, avg, entry, reserve, pnl string
		p := model.NewPosition()
		if err := rows.Scan(&key.Account, &key.CollateralAsset, &key.IndexAsset, &key.IsLong,
			&size, &collateral, &avg, &entry, &reserve, &pnl, &p.LastIncreasedTime); err != nil {
			return nil, err
		}
		setBig(p.Size, size)
		setBig(p.Collateral, collateral)
		setBig(p.AveragePrice, avg)
		setBig(p.EntryFundingRate, entry)
		setBig(p.ReserveAmount, reserve)
		setBig(p.RealisedPnl, pnl)
		out[key] = p
	}
	return out, rows.Err()
}

// scanChanges reads pgx rows into ChangeRecord slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanChanges(rows pgxRows) ([]model.ChangeRecord, error) {
	var records []model.ChangeRecord
	for rows.Next() {
		var r model.ChangeRecord
		var tokenDelta, usdDelta, poolAfter, reservedAfter, debtAfter, fundingAfter string

		if err := rows.Scan(&r.ID, &r.Op, &r.Asset, &r.CounterAsset, &r.Account,
			&tokenDelta, &usdDelta, &poolAfter, &reservedAfter, &debtAfter,
			&fundingAfter, &r.Timestamp); err != nil {
			return nil, err
		}

		r.TokenDelta = bigFromString(tokenDelta)
		r.USDDelta = bigFromString(usdDelta)
		r.PoolAfter = bigFromString(poolAfter)
		r.ReservedAfter = bigFromString(reservedAfter)
		r.DebtAfter = bigFromString(debtAfter)
		r.FundingAfter = bigFromString(fundingAfter)

		records = append(records, r)
	}
	return records, rows.Err()
}

func bigFromString(s string) *big.Int {
	n := new(big.Int)
	setBig(n, s)
	return n
}

func setBig(dst *big.Int, s string) {
	if _, ok := dst.SetString(s, 10); !ok {
		dst.SetInt64(0)
	}
}
