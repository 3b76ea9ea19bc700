package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/recordstore/engine/store"
	"github.com/compozy/recordstore/pkg/logger"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	backend      = store.BackendPostgres
	recordsTable = "records"
	closeTimeout = 3 * time.Second

	uniqueViolation = "23505"
)

const createRecordsTable = `CREATE TABLE IF NOT EXISTS records (email TEXT PRIMARY KEY, name TEXT NOT NULL, credential TEXT NOT NULL)`

const selectRecordsLayout = `SELECT c.column_name::text AS name,
       c.is_nullable = 'NO' AS not_null,
       EXISTS (
           SELECT 1
           FROM information_schema.table_constraints tc
           JOIN information_schema.key_column_usage k
             ON k.constraint_schema = tc.constraint_schema
            AND k.constraint_name = tc.constraint_name
           WHERE tc.constraint_type = 'PRIMARY KEY'
             AND tc.table_schema = c.table_schema
             AND tc.table_name = c.table_name
             AND k.column_name = c.column_name
       ) AS primary_key
FROM information_schema.columns c
WHERE c.table_schema = current_schema() AND c.table_name = $1`

var recordColumns = []string{"email", "name", "credential"}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// DBInterface is the subset of *pgx.Conn the store relies on. It is also
// satisfied by pgxmock connections.
type DBInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Dialer opens the network connection described by cfg.
type Dialer func(ctx context.Context, cfg *pgx.ConnConfig) (DBInterface, error)

func dialPgx(ctx context.Context, cfg *pgx.ConnConfig) (DBInterface, error) {
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Store is the PostgreSQL backend. It owns one network connection while
// connected and never retries a failed round trip itself.
type Store struct {
	cfg   Config
	dial  Dialer
	mu    sync.Mutex
	conn  DBInterface
	state store.State
}

type Option func(*Store)

// WithDialer replaces the function used to open the connection.
func WithDialer(d Dialer) Option {
	return func(s *Store) {
		s.dial = d
	}
}

var _ store.Store = (*Store)(nil)

// New returns a disconnected store for cfg.
func New(cfg *Config, opts ...Option) *Store {
	s := &Store{dial: dialPgx}
	if cfg != nil {
		s.cfg = *cfg
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Backend() store.Backend { return backend }

// Connect dials the server, authenticates, and makes sure the records table
// exists with email as its primary key and required name and credential.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.RequireDisconnected(s.state, backend); err != nil {
		return err
	}
	connCfg, err := pgx.ParseConfig(s.cfg.DSN())
	if err != nil {
		return store.NewError(store.KindConnection, backend, "connect", fmt.Errorf("parse config: %w", err))
	}
	connCfg.ConnectTimeout = s.cfg.connectTimeout()
	conn, err := s.dial(ctx, connCfg)
	if err != nil {
		return store.NewError(store.KindConnection, backend, "connect", err)
	}
	if err := ensureSchema(ctx, conn); err != nil {
		closeQuietly(ctx, conn)
		return store.NewError(store.KindConnection, backend, "connect", err)
	}
	s.conn = conn
	s.state = store.StateConnected
	logger.FromContext(ctx).With(
		"store_driver", backend,
		"host", connCfg.Host,
		"port", connCfg.Port,
		"db_name", connCfg.Database,
		"user", connCfg.User,
	).Info("Store initialized")
	return nil
}

func ensureSchema(ctx context.Context, conn DBInterface) error {
	if _, err := conn.Exec(ctx, createRecordsTable); err != nil {
		return fmt.Errorf("create records table: %w", err)
	}
	var cols []store.Column
	if err := pgxscan.Select(ctx, conn, &cols, selectRecordsLayout, recordsTable); err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	return store.CheckRecordsLayout(cols)
}

// Insert stores rec. A unique violation maps to ErrDuplicate and a failed
// round trip to ErrConnectionLost; in the latter case the server side
// outcome is unknown.
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
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	if _, err := s.conn.Exec(opCtx, query, args...); err != nil {
		return s.classify("insert", err)
	}
	logger.FromContext(ctx).Debug("postgres: record inserted", "email", rec.Email)
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
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	tag, err := s.conn.Exec(opCtx, query, args...)
	if err != nil {
		return s.classify("remove", err)
	}
	if tag.RowsAffected() == 0 {
		return store.Errorf(store.KindNotFound, backend, "remove", "email %q", email)
	}
	logger.FromContext(ctx).Debug("postgres: record removed", "email", email)
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
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	var rec store.Record
	if err := pgxscan.Get(opCtx, s.conn, &rec, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, store.Errorf(store.KindNotFound, backend, "get", "email %q", email)
		}
		return nil, s.classify("get", err)
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
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	var recs []*store.Record
	if err := pgxscan.Select(opCtx, s.conn, &recs, query, args...); err != nil {
		return nil, s.classify("list", err)
	}
	return recs, nil
}

// Disconnect closes the connection, tolerating one the server already
// dropped.
func (s *Store) Disconnect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == store.StateDisconnected {
		return
	}
	closeQuietly(ctx, s.conn)
	s.conn = nil
	s.state = store.StateDisconnected
	logger.FromContext(ctx).Info("Postgres store closed")
}

func (s *Store) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OperationTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.OperationTimeout)
	}
	return ctx, func() {}
}

// classify maps a failed round trip to a store error kind. Server reported
// errors are IO (or duplicate) unless they signal a connection exception;
// anything that never produced a server response is a lost connection.
func (s *Store) classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolation:
			return store.NewError(store.KindDuplicate, backend, op, err)
		case isConnectionExceptionCode(pgErr.Code):
			return store.NewError(store.KindConnectionLost, backend, op, err)
		default:
			return store.NewError(store.KindIO, backend, op, err)
		}
	}
	if s.connClosed() || isTransportError(err) {
		return store.NewError(store.KindConnectionLost, backend, op, err)
	}
	return store.NewError(store.KindIO, backend, op, err)
}

func (s *Store) connClosed() bool {
	c, ok := s.conn.(interface{ IsClosed() bool })
	return ok && c.IsClosed()
}

// isConnectionExceptionCode covers SQLSTATE class 08 and the admin/crash
// shutdown codes of class 57.
func isConnectionExceptionCode(code string) bool {
	if strings.HasPrefix(code, "08") {
		return true
	}
	switch code {
	case "57P01", "57P02", "57P03":
		return true
	}
	return false
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func closeQuietly(ctx context.Context, conn DBInterface) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := conn.Close(cctx); err != nil {
		logger.FromContext(ctx).Warn("postgres: close failed", "error", err)
	}
}
