package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/capdeploy/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	updateMaxRetries = 3
	updateBaseDelay  = 50 * time.Millisecond
)

// SQLite implements Store on a single kv table. Update maps onto a real
// database transaction opened with BEGIN IMMEDIATE.
type SQLite struct {
	Locker

	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; immediate transactions so writers take the
	// write lock up front instead of failing on upgrade.
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS kv (
		namespace TEXT NOT NULL,
		user_id TEXT NOT NULL,
		id TEXT NOT NULL DEFAULT '',
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, user_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_kv_updated ON kv(namespace, updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Get retrieves a value, returning (nil, nil) when absent.
func (s *SQLite) Get(ctx context.Context, key Key) ([]byte, error) {
	return sqliteKV{q: s.db}.Get(ctx, key)
}

// Set upserts a value.
func (s *SQLite) Set(ctx context.Context, key Key, value []byte) error {
	return shared.RetryOnConflict(ctx, updateMaxRetries, updateBaseDelay, func() error {
		return sqliteKV{q: s.db}.Set(ctx, key, value)
	})
}

// Delete removes a value.
func (s *SQLite) Delete(ctx context.Context, key Key) error {
	return shared.RetryOnConflict(ctx, updateMaxRetries, updateBaseDelay, func() error {
		return sqliteKV{q: s.db}.Delete(ctx, key)
	})
}

// Update runs fn in a transaction, retrying the whole transaction with
// exponential backoff when SQLite reports SQLITE_BUSY.
func (s *SQLite) Update(ctx context.Context, fn func(tx KV) error) error {
	return shared.RetryOnConflict(ctx, updateMaxRetries, updateBaseDelay, func() error {
		return s.updateOnce(ctx, fn)
	})
}

func (s *SQLite) updateOnce(ctx context.Context, fn func(tx KV) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back transaction", "error", rbErr)
		}
	}()

	if err := fn(sqliteKV{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// List returns all keys in namespace.
func (s *SQLite) List(ctx context.Context, namespace string) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, id FROM kv WHERE namespace = ? ORDER BY user_id, id`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list %s keys: %w", namespace, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close list rows", "error", closeErr)
		}
	}()

	var keys []Key
	for rows.Next() {
		k := Key{Namespace: namespace}
		if err := rows.Scan(&k.UserID, &k.ID); err != nil {
			return nil, fmt.Errorf("scan key row: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// Lock serializes operations for one user within this process.
func (s *SQLite) Lock(userID string) func() {
	return s.Locker.Lock(userID)
}

// Ping verifies database connectivity.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteKV struct {
	q querier
}

func (k sqliteKV) Get(ctx context.Context, key Key) ([]byte, error) {
	var value []byte
	err := k.q.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE namespace = ? AND user_id = ? AND id = ?`,
		key.Namespace, key.UserID, key.ID,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (k sqliteKV) Set(ctx context.Context, key Key, value []byte) error {
	query := `
	INSERT INTO kv (namespace, user_id, id, value, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(namespace, user_id, id) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`
	if _, err := k.q.ExecContext(ctx, query,
		key.Namespace, key.UserID, key.ID, value, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (k sqliteKV) Delete(ctx context.Context, key Key) error {
	if _, err := k.q.ExecContext(ctx,
		`DELETE FROM kv WHERE namespace = ? AND user_id = ? AND id = ?`,
		key.Namespace, key.UserID, key.ID,
	); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
