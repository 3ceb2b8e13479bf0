package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"checkout-service/internal/models"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// Supported database/sql drivers.
const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

// Options tune the connection pool and per-transaction lock wait.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LockTimeout     time.Duration
}

// DefaultOptions mirrors the pool sizing the service has always run with.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		LockTimeout:     5 * time.Second,
	}
}

type Store struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

var _ Repository = (*Store)(nil)

// NewStore creates a new database store
func NewStore(driver, databaseURL string, opts Options) (*Store, error) {
	if driver == "" {
		driver = DriverPQ
	}
	if driver != DriverPQ && driver != DriverPGX {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Connect(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, lockTimeout: opts.LockTimeout}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent and sent
// one at a time so the pgx driver can prepare them.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// WithTx runs fn inside a READ COMMITTED transaction. Row locks taken with
// SELECT ... FOR UPDATE serialize concurrent writers.
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	if err := fn(&txn{tx: sqlTx}); err != nil {
		return classify(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// StockLevels reads cached stock without locking
func (s *Store) StockLevels(ctx context.Context, variantIDs []int64) (map[int64]int, error) {
	return stockLevels(ctx, s.db, variantIDs)
}

// txn implements Tx on top of a *sqlx.Tx
type txn struct {
	tx *sqlx.Tx
}

var _ Tx = (*txn)(nil)

func (t *txn) StockLevels(ctx context.Context, variantIDs []int64) (map[int64]int, error) {
	return stockLevels(ctx, t.tx, variantIDs)
}

type variantStock struct {
	ID            int64 `db:"id"`
	StockQuantity int   `db:"stock_quantity"`
}

func stockLevels(ctx context.Context, q sqlx.ExtContext, variantIDs []int64) (map[int64]int, error) {
	levels := make(map[int64]int, len(variantIDs))
	if len(variantIDs) == 0 {
		return levels, nil
	}

	query, args, err := sqlx.In("SELECT id, stock_quantity FROM product_variants WHERE id IN (?)", variantIDs)
	if err != nil {
		return nil, err
	}
	query = q.Rebind(query)

	var rows []variantStock
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to read stock levels: %w", err)
	}
	for _, r := range rows {
		levels[r.ID] = r.StockQuantity
	}
	return levels, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

func notFound(what string, id interface{}) error {
	return fmt.Errorf("%w: %s %v", models.ErrNotFound, what, id)
}
