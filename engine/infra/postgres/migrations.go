package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/compozy/recordstore/pkg/logger"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"

	// Register pgx stdlib driver for database/sql usage in migrations.
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockID keys the session advisory lock held while migrating.
const migrationLockID int64 = 0x7265636f726473

// Lock polling: every 5s, giving up after 9 failed polls.
const (
	lockPollSeconds  = 5
	lockPollAttempts = 9
)

// Migrate brings the records schema at dsn up to date. Concurrent runners
// serialize on a session advisory lock.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db for migrations: %w", err)
	}
	defer db.Close()
	p, err := newMigrationProvider(db)
	if err != nil {
		return err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	log := logger.FromContext(ctx)
	for _, r := range results {
		log.Info("Migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

func newMigrationProvider(db *sql.DB) (*goose.Provider, error) {
	locker, err := lock.NewPostgresSessionLocker(
		lock.WithLockID(migrationLockID),
		lock.WithLockTimeout(lockPollSeconds, lockPollAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("create migration locker: %w", err)
	}
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys, goose.WithSessionLocker(locker))
	if err != nil {
		return nil, fmt.Errorf("create migration provider: %w", err)
	}
	return p, nil
}
