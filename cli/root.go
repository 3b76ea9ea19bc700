package cli

import (
	"fmt"

	"github.com/compozy/recordstore/engine/store"
	"github.com/compozy/recordstore/pkg/config"
	"github.com/compozy/recordstore/pkg/logger"
	"github.com/compozy/recordstore/pkg/version"
	"github.com/spf13/cobra"
)

const (
	demoName       = "John Doe"
	demoEmail      = "johndoe@example.com"
	demoCredential = "secret"
)

// RootCmd returns the recordstore command: one positional backend argument
// followed by the insert and remove demonstration.
func RootCmd() *cobra.Command {
	var (
		removeEmail string
		dumpMetrics bool
	)
	root := &cobra.Command{
		Use:   "recordstore <flatfile|sqlite|postgres>",
		Short: "Store and remove a record through a pluggable backend",
		Long: `Connects to the selected backend, inserts a sample record, removes a record
by email and disconnects. Backend settings come from defaults, the YAML config
file, the environment and flags, in increasing order of precedence.`,
		Args:              backendArg,
		PersistentPreRunE: setupGlobalConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, args[0], removeEmail, dumpMetrics)
		},
		SilenceErrors: true,
		Version:       version.Get().String(),
	}
	addGlobalFlags(root)
	root.Flags().StringVar(&removeEmail, "remove-email", demoEmail, "Email removed after the sample insert")
	root.Flags().BoolVar(&dumpMetrics, "metrics", false, "Print store metrics in Prometheus text format on exit")
	root.AddCommand(MigrateCmd())
	return root
}

func addGlobalFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "recordstore.yaml", "Path to the YAML config file")
	f.String("env-file", ".env", "Path to an environment file loaded before the config")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.Bool("log-json", false, "Emit logs as JSON")
	f.Bool("log-source", false, "Include the source location in logs")
	f.String("flatfile-path", "", "Flat file backend path")
	f.String("sqlite-path", "", "SQLite database path or :memory:")
	f.String("db-conn-string", "", "PostgreSQL connection string")
	f.String("db-host", "", "PostgreSQL host")
	f.String("db-port", "", "PostgreSQL port")
	f.String("db-user", "", "PostgreSQL user")
	f.String("db-name", "", "PostgreSQL database name")
}

// backendArg accepts exactly one known backend identifier.
func backendArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return fmt.Errorf("a backend argument is required: %w", err)
	}
	_, err := store.ParseBackend(args[0])
	return err
}

// setupGlobalConfig loads the env file and configuration, installs the
// logger and attaches both to the command context.
func setupGlobalConfig(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	if _, err := loadEnvFile(cmd); err != nil {
		return err
	}
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	flags := make(map[string]any)
	extractCLIFlags(cmd, flags)
	sources := []config.Source{config.NewCLIProvider(flags)}
	if configFile != "" {
		sources = append(sources, config.NewYAMLProvider(configFile))
	}
	svc := config.NewService()
	cfg, err := svc.Load(cmd.Context(), sources...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	_, _, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.SetupLogger(cmd.ErrOrStderr(), cfg.Runtime.LogLevel, cfg.Runtime.LogJSON, logSource)
	logSettings(log, svc.Settings())
	ctx := logger.ContextWithLogger(cmd.Context(), log)
	ctx = config.ContextWithConfig(ctx, cfg)
	cmd.SetContext(ctx)
	return nil
}

// logSettings dumps the effective configuration at debug level.
func logSettings(log logger.Logger, settings []config.Setting) {
	for _, s := range settings {
		fields := []any{"key", s.Path, "value", s.Value, "source", s.Source}
		if s.EnvVar != "" {
			fields = append(fields, "env", s.EnvVar)
		}
		log.Debug("Config setting", fields...)
	}
}
