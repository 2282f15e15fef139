// Package postgres implements the entity store backend on Postgres via pgx.
package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/clip-harvester/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// dbPool is satisfied by *pgxpool.Pool and pgxmock pools.
type dbPool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Backend persists harvested records. Writes share one transaction that is
// opened on the first write and closed by Commit or Rollback.
type Backend struct {
	pool dbPool

	mu sync.Mutex
	tx pgx.Tx
}

var _ store.Backend = (*Backend)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Backend{pool: pool}, nil
}

// NewWithPool constructs a backend from an existing pool (primarily for testing).
func NewWithPool(pool dbPool) (*Backend, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Backend{pool: pool}, nil
}

// Close rolls back any open transaction and releases the pool.
func (b *Backend) Close() {
	if b == nil || b.pool == nil {
		return
	}
	_ = b.Rollback(context.Background())
	b.pool.Close()
}

// writer returns the open transaction, beginning one if needed.
func (b *Backend) writer(ctx context.Context) (pgx.Tx, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx != nil {
		return b.tx, nil
	}
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	b.tx = tx
	return tx, nil
}

// reader sees pending writes when a transaction is open.
func (b *Backend) reader() querier {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx != nil {
		return b.tx
	}
	return b.pool
}

func (b *Backend) exec(ctx context.Context, what, sql string, args ...any) error {
	tx, err := b.writer(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func (b *Backend) insertID(ctx context.Context, what, sql string, args ...any) (int64, error) {
	tx, err := b.writer(ctx)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := tx.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return id, nil
}

func (b *Backend) query(ctx context.Context, what, sql string, args ...any) (pgx.Rows, error) {
	rows, err := b.reader().Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return rows, nil
}

// Commit commits the open transaction, if any.
func (b *Backend) Commit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx == nil {
		return nil
	}
	tx := b.tx
	b.tx = nil
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback discards the open transaction, if any.
func (b *Backend) Rollback(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx == nil {
		return nil
	}
	tx := b.tx
	b.tx = nil
	if err := tx.Rollback(ctx); err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

func nullYear(year int) *int {
	if year == 0 {
		return nil
	}
	return &year
}

func yearOf(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringOf(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
