package sqlquery

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier runs one read-only query and returns at most maxRows rows.
type Querier interface {
	QueryRows(ctx context.Context, query string, maxRows int, statementTimeout time.Duration) ([]map[string]any, error)
	Close()
}

// PoolConfig configures the dedicated connection pool for user queries. It
// is separate from any pool the platform uses for its own data.
type PoolConfig struct {
	URL             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// NewPool opens a size-bounded pgx pool for submissions.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse sql engine url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "codearena-sql-engine"
	poolCfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open sql engine pool: %w", err)
	}
	return pool, nil
}

// PoolQuerier executes queries inside read-only transactions on a pgx pool.
type PoolQuerier struct {
	pool *pgxpool.Pool
}

// NewPoolQuerier wraps pool.
func NewPoolQuerier(pool *pgxpool.Pool) *PoolQuerier {
	return &PoolQuerier{pool: pool}
}

// QueryRows implements Querier. The transaction is always rolled back.
func (q *PoolQuerier) QueryRows(ctx context.Context, query string, maxRows int, statementTimeout time.Duration) ([]map[string]any, error) {
	tx, err := q.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if statementTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", statementTimeout.Milliseconds())); err != nil {
			return nil, fmt.Errorf("set statement timeout: %w", err)
		}
	}

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]map[string]any, 0)
	for rows.Next() {
		if maxRows > 0 && len(out) >= maxRows {
			break
		}
		row, err := pgx.RowToMap(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the pool.
func (q *PoolQuerier) Close() {
	q.pool.Close()
}
