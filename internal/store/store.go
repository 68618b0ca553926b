package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"payment-sub/internal/errs"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Querier is the subset of sqlx satisfied by both *sqlx.DB and *sqlx.Tx,
// so every repository method runs unchanged inside or outside a transaction.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// queries holds every per-entity repository method over a Querier
type queries struct {
	q Querier
}

// Store is the datastore root. Methods called on it directly run in
// auto-commit mode; WithTx scopes them to one transaction.
type Store struct {
	db *sqlx.DB
	queries
}

// Tx is a transaction-scoped view of the repositories
type Tx struct {
	queries
}

// NewStore connects to the database
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, queries: queries{q: db}}, nil
}

// NewStoreWithDB wraps an existing connection (used by driver-level tests)
func NewStoreWithDB(db *sqlx.DB) *Store {
	return &Store{db: db, queries: queries{q: db}}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside one transaction: commit on nil, full rollback on
// any error. The caller's context deadline bounds the whole transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return errs.FromStorage(err, "begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{queries: queries{q: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return errs.FromStorage(err, "commit transaction")
	}
	return nil
}

// IsEventProcessed checks if a broker event has been handled already
func (r queries) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.q.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	if err != nil {
		return false, errs.FromStorage(err, "processed event %s", eventID)
	}
	return exists, nil
}

// MarkEventProcessed records a broker event as handled
func (r queries) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := r.q.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return errs.FromStorage(err, "processed event %s", eventID)
}
