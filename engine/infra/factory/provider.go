package factory

import (
	"os"

	"github.com/compozy/recordstore/engine/infra/flatfile"
	"github.com/compozy/recordstore/engine/infra/postgres"
	"github.com/compozy/recordstore/engine/infra/sqlite"
	"github.com/compozy/recordstore/engine/store"
	"github.com/compozy/recordstore/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
)

// Provider builds backend stores from application configuration. It returns
// disconnected stores; Create is the usual entry point.
type Provider struct {
	cfg        *config.Config
	fs         afero.Fs
	registerer prometheus.Registerer
	dialer     postgres.Dialer
}

type Option func(*Provider)

// WithFs sets the filesystem used by the flat file backend.
func WithFs(fs afero.Fs) Option {
	return func(p *Provider) {
		p.fs = fs
	}
}

// WithRegisterer instruments every created store with metrics registered on
// reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Provider) {
		p.registerer = reg
	}
}

// WithPostgresDialer replaces how the postgres backend opens its connection.
func WithPostgresDialer(d postgres.Dialer) Option {
	return func(p *Provider) {
		p.dialer = d
	}
}

// NewProvider returns a provider for cfg, falling back to config.Default.
func NewProvider(cfg *config.Config, opts ...Option) *Provider {
	if cfg == nil {
		cfg = config.Default()
	}
	p := &Provider{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewStore returns the disconnected store for b.
func (p *Provider) NewStore(b store.Backend) (store.Store, error) {
	switch b {
	case store.BackendFlatFile:
		return p.NewFlatFileStore(), nil
	case store.BackendSQLite:
		return p.NewSQLiteStore(), nil
	case store.BackendPostgres:
		return p.NewPostgresStore(), nil
	default:
		return nil, store.Errorf(store.KindUnknownBackend, "", "create", "%q", b)
	}
}

func (p *Provider) NewFlatFileStore() *flatfile.Store {
	var opts []flatfile.Option
	if p.fs != nil {
		opts = append(opts, flatfile.WithFs(p.fs))
	}
	return flatfile.New(FlatFileConfig(p.cfg), opts...)
}

func (p *Provider) NewSQLiteStore() *sqlite.Store {
	return sqlite.New(SQLiteConfig(p.cfg))
}

func (p *Provider) NewPostgresStore() *postgres.Store {
	var opts []postgres.Option
	if p.dialer != nil {
		opts = append(opts, postgres.WithDialer(p.dialer))
	}
	return postgres.New(PostgresConfig(p.cfg), opts...)
}

// FlatFileConfig maps application settings onto the flat file backend.
func FlatFileConfig(cfg *config.Config) *flatfile.Config {
	return &flatfile.Config{
		Path:     cfg.FlatFile.Path,
		FileMode: os.FileMode(cfg.FlatFile.FileMode),
	}
}

// SQLiteConfig maps application settings onto the sqlite backend.
func SQLiteConfig(cfg *config.Config) *sqlite.Config {
	return &sqlite.Config{
		Path:        cfg.SQLite.Path,
		BusyTimeout: cfg.SQLite.BusyTimeout,
	}
}

// PostgresConfig maps application settings onto the postgres backend.
func PostgresConfig(cfg *config.Config) *postgres.Config {
	db := cfg.Postgres
	return &postgres.Config{
		ConnString:       db.ConnString,
		Host:             db.Host,
		Port:             db.Port,
		User:             db.User,
		Password:         db.Password.Value(),
		DBName:           db.DBName,
		SSLMode:          db.SSLMode,
		ConnectTimeout:   db.ConnectTimeout,
		OperationTimeout: db.OperationTimeout,
	}
}
