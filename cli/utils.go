package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// extractCLIFlags copies explicitly set flags into flags, keyed by flag name.
func extractCLIFlags(cmd *cobra.Command, flags map[string]any) {
	getString := func(name string) (any, error) { return cmd.Flags().GetString(name) }
	getBool := func(name string) (any, error) { return cmd.Flags().GetBool(name) }
	flagDefs := []struct {
		name   string
		getter func(string) (any, error)
	}{
		{"log-level", getString},
		{"log-json", getBool},
		{"flatfile-path", getString},
		{"sqlite-path", getString},
		{"db-conn-string", getString},
		{"db-host", getString},
		{"db-port", getString},
		{"db-user", getString},
		{"db-name", getString},
	}
	for _, def := range flagDefs {
		if !cmd.Flags().Changed(def.name) {
			continue
		}
		if value, err := def.getter(def.name); err == nil {
			flags[def.name] = value
		}
	}
}

// loadEnvFile loads the env-file flag into the process environment without
// overriding variables that are already set. A missing file is not an error.
func loadEnvFile(cmd *cobra.Command) (string, error) {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return "", fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if envFile == "" {
		return "", nil
	}
	absPath, err := filepath.Abs(filepath.Clean(envFile))
	if err != nil {
		return "", fmt.Errorf("failed to resolve env file path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return absPath, nil
		}
		return "", fmt.Errorf("failed to stat env file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("env file path '%s' is not a regular file", envFile)
	}
	if err := godotenv.Load(absPath); err != nil {
		return "", fmt.Errorf("failed to load env file %s: %w", absPath, err)
	}
	return absPath, nil
}
