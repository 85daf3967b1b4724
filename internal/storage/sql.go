package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/anstrom/scanconsole/internal/errors"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

const (
	createStateTable = `CREATE TABLE IF NOT EXISTS client_state (state_key VARCHAR(64) PRIMARY KEY, state_value TEXT NOT NULL, updated_at TIMESTAMP NOT NULL)`
	selectState      = `SELECT state_value FROM client_state WHERE state_key = ?`
	upsertState      = `INSERT INTO client_state (state_key, state_value, updated_at) VALUES (?, ?, ?) ON CONFLICT (state_key) DO UPDATE SET state_value = excluded.state_value, updated_at = excluded.updated_at`
	deleteState      = `DELETE FROM client_state WHERE state_key = ?`
)

// SQLStore keeps client state in a single table of a SQLite or PostgreSQL
// database. SQLite suits a single workstation; PostgreSQL lets several
// operator machines share one session profile.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// OpenSQL connects to the database, verifies the connection and ensures the
// state table exists.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		// Never surface the DSN, it may carry a password
		return nil, sanitizeError("connect "+driver, err)
	}

	store := NewSQLStore(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an existing connection. The table is not created.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// Migrate creates the state table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createStateTable); err != nil {
		return sanitizeError("migrate", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind(selectState), key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, sanitizeError("get "+key, err)
	}
	return value, true, nil
}

// Set implements Store.
func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(upsertState), key, value, s.now().UTC()); err != nil {
		return sanitizeError("set "+key, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(deleteState), key); err != nil {
		return sanitizeError("delete "+key, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// sanitizeError converts raw driver errors into storage errors whose text does
// not leak SQL or connection details. The original error stays in Cause.
func sanitizeError(operation string, err error) error {
	serr := errors.WrapStorageError(operation, err)
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code.Class() {
		case "08":
			serr.Message = "Client state database connection error"
		case "42":
			serr.Message = "Client state schema error"
		default:
			serr.Message = fmt.Sprintf("Client state database error (%s)", pqErr.Code)
		}
	}
	return serr
}
