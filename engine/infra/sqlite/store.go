package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/recordstore/engine/store"
	"github.com/compozy/recordstore/pkg/logger"
	"github.com/georgysavva/scany/v2/sqlscan"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	driverName   = "sqlite"
	recordsTable = "records"
	backend      = store.BackendSQLite
)

var recordColumns = []string{"email", "name", "credential"}

const selectRecordsLayout = `SELECT name, "notnull" != 0 AS not_null, pk > 0 AS primary_key FROM pragma_table_info(?)`

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

// Store is the SQLite backend. It owns a single database connection between
// Connect and Disconnect.
type Store struct {
	cfg   Config
	mu    sync.Mutex
	db    *sql.DB
	state store.State
}

var _ store.Store = (*Store)(nil)

// New returns a disconnected store for cfg.
func New(cfg *Config) *Store {
	s := &Store{}
	if cfg != nil {
		s.cfg = *cfg
	}
	return s
}

func (s *Store) Backend() store.Backend { return backend }

// DB exposes the underlying handle while connected; nil otherwise.
func (s *Store) DB() *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

// Connect opens or creates the database file, applies the schema and checks
// the layout of the records table.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.RequireDisconnected(s.state, backend); err != nil {
		return err
	}
	if s.cfg.Path == "" {
		return store.Errorf(store.KindConnection, backend, "connect", "path is required")
	}
	db, err := sql.Open(driverName, buildDSN(&s.cfg))
	if err != nil {
		return store.NewError(store.KindConnection, backend, "connect", err)
	}
	// One connection: an in-memory database must not be dropped by the pool
	// and a single handle keeps statement ordering trivial.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	if err := s.prepare(ctx, db); err != nil {
		if cerr := db.Close(); cerr != nil {
			logger.FromContext(ctx).Warn("sqlite: close after failed connect", "path", s.cfg.Path, "error", cerr)
		}
		return store.NewError(store.KindConnection, backend, "connect", err)
	}
	s.db = db
	s.state = store.StateConnected
	logger.FromContext(ctx).With(
		"store_driver", backend,
		"path", s.cfg.Path,
		"busy_timeout", s.cfg.busyTimeout(),
	).Info("Store initialized")
	return nil
}

func (s *Store) prepare(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		return err
	}
	return verifySchema(ctx, db)
}

// verifySchema fails unless the records table keys on email and requires
// name and credential.
func verifySchema(ctx context.Context, db *sql.DB) error {
	var cols []store.Column
	if err := sqlscan.Select(ctx, db, &cols, selectRecordsLayout, recordsTable); err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	return store.CheckRecordsLayout(cols)
}

// Insert stores rec. A primary key conflict maps to ErrDuplicate.
func (s *Store) Insert(ctx context.Context, rec *store.Record) error {
	if err := rec.Validate(); err != nil {
		return store.NewError(store.KindValidation, backend, "insert", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.RequireConnected(s.state, backend, "insert"); err != nil {
		return err
	}
	query, args, err := psql.Insert(recordsTable).
		Columns(recordColumns...).
		Values(rec.Email, rec.Name, rec.Credential).
		ToSql()
	if err != nil {
		return store.NewError(store.KindIO, backend, "insert", fmt.Errorf("building insert query: %w", err))
	}
	err = withTx(ctx, s.db, "insert", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if isConstraintViolation(err) {
				return store.NewError(store.KindDuplicate, backend, "insert", err)
			}
			return store.NewError(store.KindIO, backend, "insert", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Debug("sqlite: record inserted", "email", rec.Email)
	return nil
}

// Remove deletes the row for email; zero affected rows maps to ErrNotFound.
func (s *Store) Remove(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.RequireConnected(s.state, backend, "remove"); err != nil {
		return err
	}
	query, args, err := psql.Delete(recordsTable).Where(squirrel.Eq{"email": email}).ToSql()
	if err != nil {
		return store.NewError(store.KindIO, backend, "remove", fmt.Errorf("building delete query: %w", err))
	}
	err = withTx(ctx, s.db, "remove", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return store.NewError(store.KindIO, backend, "remove", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return store.NewError(store.KindIO, backend, "remove", fmt.Errorf("rows affected: %w", err))
		}
		if n == 0 {
			return store.Errorf(store.KindNotFound, backend, "remove", "email %q", email)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Debug("sqlite: record removed", "email", email)
	return nil
}

func (s *Store) Get(ctx context.Context, email string) (*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.RequireConnected(s.state, backend, "get"); err != nil {
		return nil, err
	}
	query, args, err := psql.Select(recordColumns...).
		From(recordsTable).
		Where(squirrel.Eq{"email": email}).
		ToSql()
	if err != nil {
		return nil, store.NewError(store.KindIO, backend, "get", fmt.Errorf("building select query: %w", err))
	}
	var rec store.Record
	if err := sqlscan.Get(ctx, s.db, &rec, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, store.Errorf(store.KindNotFound, backend, "get", "email %q", email)
		}
		return nil, store.NewError(store.KindIO, backend, "get", err)
	}
	return &rec, nil
}

// List returns every record ordered by email.
func (s *Store) List(ctx context.Context) ([]*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.RequireConnected(s.state, backend, "list"); err != nil {
		return nil, err
	}
	query, args, err := psql.Select(recordColumns...).From(recordsTable).OrderBy("email").ToSql()
	if err != nil {
		return nil, store.NewError(store.KindIO, backend, "list", fmt.Errorf("building select query: %w", err))
	}
	var recs []*store.Record
	if err := sqlscan.Select(ctx, s.db, &recs, query, args...); err != nil {
		return nil, store.NewError(store.KindIO, backend, "list", err)
	}
	return recs, nil
}

// Disconnect closes the handle. database/sql rolls back anything pending.
func (s *Store) Disconnect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == store.StateDisconnected {
		return
	}
	if err := s.db.Close(); err != nil {
		logger.FromContext(ctx).Warn("sqlite: close failed", "path", s.cfg.Path, "error", err)
	}
	s.db = nil
	s.state = store.StateDisconnected
	logger.FromContext(ctx).Info("SQLite store closed", "path", s.cfg.Path)
}

// withTx runs fn in a transaction that is committed only when fn succeeds.
func withTx(ctx context.Context, db *sql.DB, op string, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return store.NewError(store.KindIO, backend, op, fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if err != nil {
			if rb := tx.Rollback(); rb != nil {
				logger.FromContext(ctx).Warn("sqlite: rollback failed", "error", rb)
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return store.NewError(store.KindIO, backend, op, fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func isConstraintViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT:
		return true
	default:
		return false
	}
}

// uriPathEscaper escapes the characters that would end the path part of a
// file: URI. SQLite decodes %HH sequences in the path.
var uriPathEscaper = strings.NewReplacer("%", "%25", "?", "%3F", "#", "%23")

// buildDSN renders a modernc DSN with the pragmas every connection needs.
func buildDSN(cfg *Config) string {
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", cfg.busyTimeout().Milliseconds()),
		"_pragma=foreign_keys(ON)",
	}
	if cfg.Path == memoryPath {
		return "file::memory:?" + strings.Join(pragmas, "&")
	}
	pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	return "file:" + uriPathEscaper.Replace(cfg.Path) + "?" + strings.Join(pragmas, "&")
}
