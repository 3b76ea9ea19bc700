package cli

import (
	"fmt"

	"github.com/compozy/recordstore/engine/infra/factory"
	"github.com/compozy/recordstore/engine/infra/postgres"
	"github.com/compozy/recordstore/engine/infra/sqlite"
	"github.com/compozy/recordstore/engine/store"
	"github.com/compozy/recordstore/pkg/config"
	"github.com/compozy/recordstore/pkg/logger"
	"github.com/spf13/cobra"
)

// MigrateCmd applies the embedded schema migrations of a SQL backend.
func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <sqlite|postgres>",
		Short: "Apply schema migrations without running the demonstration",
		Args:  backendArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := store.ParseBackend(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			cfg := config.FromContext(ctx)
			switch b {
			case store.BackendSQLite:
				err = sqlite.ApplyMigrations(ctx, cfg.SQLite.Path)
			case store.BackendPostgres:
				err = postgres.Migrate(ctx, factory.PostgresConfig(cfg).DSN())
			default:
				return fmt.Errorf("%s has no schema to migrate", b)
			}
			if err != nil {
				return fmt.Errorf("migrate %s: %w", b, err)
			}
			logger.FromContext(ctx).Info("Migrations applied", "store_driver", b)
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s\n", b)
			return nil
		},
	}
}
