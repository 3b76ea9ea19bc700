package factory

import (
	"context"
	"errors"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/compozy/recordstore/engine/infra/flatfile"
	"github.com/compozy/recordstore/engine/infra/monitoring"
	"github.com/compozy/recordstore/engine/infra/postgres"
	"github.com/compozy/recordstore/engine/infra/sqlite"
	"github.com/compozy/recordstore/engine/store"
	"github.com/compozy/recordstore/pkg/config"
	"github.com/compozy/recordstore/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	return logger.ContextWithLogger(t.Context(), logger.NewForTests())
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.FlatFile.Path = "/data/records.tsv"
	cfg.SQLite.Path = ":memory:"
	cfg.Factory.ConnectBackoff = time.Millisecond
	return cfg
}

// expectPostgresSchema queues the statements a postgres connect issues
// against a database that already has the records table.
func expectPostgresSchema(mock pgxmock.PgxConnIface) {
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS records")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns c")).
		WithArgs("records").
		WillReturnRows(mock.NewRows([]string{"name", "not_null", "primary_key"}).
			AddRow("email", true, true).
			AddRow("name", true, false).
			AddRow("credential", true, false))
}

var john = &store.Record{Name: "John Doe", Email: "johndoe@example.com", Credential: "secret"}

func TestCreate(t *testing.T) {
	t.Run("Should build and connect each backend kind", func(t *testing.T) {
		ctx := testCtx(t)
		fs := afero.NewMemMapFs()
		cfg := testConfig()

		ff, err := Create(ctx, "flatfile", cfg, WithFs(fs))
		require.NoError(t, err)
		defer ff.Disconnect(ctx)
		assert.IsType(t, &flatfile.Store{}, ff)
		exists, err := afero.Exists(fs, "/data/records.tsv")
		require.NoError(t, err)
		assert.True(t, exists)

		for _, kind := range []string{"sqlite", "sqlite3", " SQLite "} {
			s, err := Create(ctx, kind, cfg)
			require.NoError(t, err, kind)
			assert.IsType(t, &sqlite.Store{}, s)
			assert.Equal(t, store.BackendSQLite, s.Backend())
			s.Disconnect(ctx)
		}
	})

	t.Run("Should reject unknown kinds without touching any resource", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		for _, kind := range []string{"mongodb", "", "flat file"} {
			s, err := Create(testCtx(t), kind, testConfig(), WithFs(fs))
			assert.Nil(t, s)
			assert.ErrorIs(t, err, store.ErrUnknownBackend, kind)
		}
		entries, err := afero.ReadDir(fs, "/")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("Should propagate a connect failure from the backend", func(t *testing.T) {
		fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
		s, err := Create(testCtx(t), "flatfile", testConfig(), WithFs(fs))
		assert.Nil(t, s)
		assert.ErrorIs(t, err, store.ErrConnection)
	})

	t.Run("Should map postgres settings onto the dial config", func(t *testing.T) {
		mock, err := pgxmock.NewConn()
		require.NoError(t, err)
		expectPostgresSchema(mock)
		var seen *pgx.ConnConfig
		dial := func(_ context.Context, cc *pgx.ConnConfig) (postgres.DBInterface, error) {
			seen = cc
			return mock, nil
		}

		s, err := Create(testCtx(t), "postgres", testConfig(), WithPostgresDialer(dial))

		require.NoError(t, err)
		assert.IsType(t, &postgres.Store{}, s)
		require.NotNil(t, seen)
		assert.Equal(t, "dbserver.my.net", seen.Host)
		assert.Equal(t, "mydb", seen.Database)
		assert.Equal(t, "dbuser", seen.User)
		assert.Equal(t, "dbpass", seen.Password)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should instrument stores when a registerer is given", func(t *testing.T) {
		ctx := testCtx(t)
		reg := prometheus.NewRegistry()
		s, err := Create(ctx, "flatfile", testConfig(), WithFs(afero.NewMemMapFs()), WithRegisterer(reg))
		require.NoError(t, err)
		defer s.Disconnect(ctx)

		require.IsType(t, &monitoring.InstrumentedStore{}, s)
		require.NoError(t, s.Insert(ctx, john))
		assert.ErrorIs(t, s.Insert(ctx, john), store.ErrDuplicate)
		count, err := testutil.GatherAndCount(reg, "recordstore_operations_total")
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})
}

func TestCreate_Retry(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	t.Run("Should not retry by default", func(t *testing.T) {
		calls := 0
		dial := func(context.Context, *pgx.ConnConfig) (postgres.DBInterface, error) {
			calls++
			return nil, refused
		}
		_, err := Create(testCtx(t), "postgres", testConfig(), WithPostgresDialer(dial))
		assert.ErrorIs(t, err, store.ErrConnection)
		assert.Equal(t, 1, calls)
	})

	t.Run("Should retry connection errors up to the configured attempts", func(t *testing.T) {
		cfg := testConfig()
		cfg.Factory.ConnectAttempts = 3
		calls := 0
		dial := func(context.Context, *pgx.ConnConfig) (postgres.DBInterface, error) {
			calls++
			return nil, refused
		}

		_, err := Create(testCtx(t), "postgres", cfg, WithPostgresDialer(dial))

		var se *store.Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, store.KindConnection, se.Kind)
		assert.ErrorIs(t, err, refused)
		assert.Equal(t, 3, calls)
	})

	t.Run("Should stop retrying once connect succeeds", func(t *testing.T) {
		cfg := testConfig()
		cfg.Factory.ConnectAttempts = 5
		mock, err := pgxmock.NewConn()
		require.NoError(t, err)
		expectPostgresSchema(mock)
		calls := 0
		dial := func(context.Context, *pgx.ConnConfig) (postgres.DBInterface, error) {
			calls++
			if calls < 2 {
				return nil, refused
			}
			return mock, nil
		}

		s, err := Create(testCtx(t), "postgres", cfg, WithPostgresDialer(dial))

		require.NoError(t, err)
		assert.NotNil(t, s)
		assert.Equal(t, 2, calls)
	})

	t.Run("Should keep the connection error when the deadline ends the backoff", func(t *testing.T) {
		cfg := testConfig()
		cfg.Factory.ConnectAttempts = 3
		cfg.Factory.ConnectBackoff = 200 * time.Millisecond
		calls := 0
		dial := func(context.Context, *pgx.ConnConfig) (postgres.DBInterface, error) {
			calls++
			return nil, refused
		}
		ctx, cancel := context.WithTimeout(testCtx(t), 50*time.Millisecond)
		defer cancel()

		s, err := Create(ctx, "postgres", cfg, WithPostgresDialer(dial))

		assert.Nil(t, s)
		assert.ErrorIs(t, err, store.ErrConnection)
		assert.ErrorIs(t, err, refused)
		assert.Equal(t, store.KindConnection, store.KindOf(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("Should report a connection error when the context is already done", func(t *testing.T) {
		cfg := testConfig()
		cfg.Factory.ConnectAttempts = 3
		calls := 0
		dial := func(context.Context, *pgx.ConnConfig) (postgres.DBInterface, error) {
			calls++
			return nil, refused
		}
		ctx, cancel := context.WithCancel(testCtx(t))
		cancel()

		_, err := Create(ctx, "postgres", cfg, WithPostgresDialer(dial))

		assert.ErrorIs(t, err, store.ErrConnection)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, calls)
	})
}

func TestWith(t *testing.T) {
	t.Run("Should disconnect after fn returns", func(t *testing.T) {
		ctx := testCtx(t)
		fs := afero.NewMemMapFs()
		var held store.Store
		err := With(ctx, "flatfile", testConfig(), func(ctx context.Context, s store.Store) error {
			held = s
			return s.Insert(ctx, john)
		}, WithFs(fs))

		require.NoError(t, err)
		assert.ErrorIs(t, held.Insert(ctx, john), store.ErrConnection)
		data, err := afero.ReadFile(fs, "/data/records.tsv")
		require.NoError(t, err)
		assert.Equal(t, "johndoe@example.com\tJohn Doe\tsecret\n", string(data))
	})

	t.Run("Should disconnect and return the fn error", func(t *testing.T) {
		ctx := testCtx(t)
		var held store.Store
		err := With(ctx, "sqlite", testConfig(), func(ctx context.Context, s store.Store) error {
			held = s
			return s.Remove(ctx, "janedoe@example.com")
		})

		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = held.List(ctx)
		assert.ErrorIs(t, err, store.ErrConnection)
	})

	t.Run("Should disconnect when fn panics", func(t *testing.T) {
		ctx := testCtx(t)
		var held store.Store
		assert.Panics(t, func() {
			_ = With(ctx, "sqlite", testConfig(), func(_ context.Context, s store.Store) error {
				held = s
				panic("boom")
			})
		})
		_, err := held.List(ctx)
		assert.ErrorIs(t, err, store.ErrConnection)
	})

	t.Run("Should not call fn for an unknown backend", func(t *testing.T) {
		called := false
		err := With(testCtx(t), "oracle", testConfig(), func(context.Context, store.Store) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, store.ErrUnknownBackend)
		assert.False(t, called)
	})
}
