package config

import (
	"encoding/json"
	"time"
)

// Config is the complete recordstore configuration.
type Config struct {
	FlatFile FlatFileConfig `koanf:"flatfile"`
	SQLite   SQLiteConfig   `koanf:"sqlite"`
	Postgres PostgresConfig `koanf:"postgres"`
	Factory  FactoryConfig  `koanf:"factory"`
	Runtime  RuntimeConfig  `koanf:"runtime"`
}

// FlatFileConfig configures the flat file backend.
type FlatFileConfig struct {
	Path     string `koanf:"path"      validate:"required"  env:"FLATFILE_PATH"      flag:"flatfile-path"`
	FileMode uint32 `koanf:"file_mode" validate:"max=511"   env:"FLATFILE_FILE_MODE"`
}

// SQLiteConfig configures the embedded SQL backend.
type SQLiteConfig struct {
	Path        string        `koanf:"path"         validate:"required" env:"SQLITE_PATH"         flag:"sqlite-path"`
	BusyTimeout time.Duration `koanf:"busy_timeout" validate:"gte=0"    env:"SQLITE_BUSY_TIMEOUT"`
}

// PostgresConfig configures the networked SQL backend.
type PostgresConfig struct {
	ConnString       string          `koanf:"conn_string"       env:"DB_CONN_STRING"       sensitive:"true"     flag:"db-conn-string"`
	Host             string          `koanf:"host"              env:"DB_HOST"                                  flag:"db-host"`
	Port             string          `koanf:"port"              env:"DB_PORT"                                  flag:"db-port"`
	User             string          `koanf:"user"              env:"DB_USER"                                  flag:"db-user"`
	Password         SensitiveString `koanf:"password"          env:"DB_PASSWORD"`
	DBName           string          `koanf:"name"              env:"DB_NAME"                                  flag:"db-name"`
	SSLMode          string          `koanf:"ssl_mode"          env:"DB_SSL_MODE"`
	ConnectTimeout   time.Duration   `koanf:"connect_timeout"   env:"DB_CONNECT_TIMEOUT"   validate:"gte=0"`
	OperationTimeout time.Duration   `koanf:"operation_timeout" env:"DB_OPERATION_TIMEOUT" validate:"gte=0"`
}

// FactoryConfig controls how the factory acquires a connection.
type FactoryConfig struct {
	ConnectAttempts int           `koanf:"connect_attempts" validate:"min=1" env:"FACTORY_CONNECT_ATTEMPTS"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff"  validate:"gte=0" env:"FACTORY_CONNECT_BACKOFF"`
}

// RuntimeConfig contains process level settings.
type RuntimeConfig struct {
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error" env:"RUNTIME_LOG_LEVEL" flag:"log-level"`
	LogJSON  bool   `koanf:"log_json"                                         env:"RUNTIME_LOG_JSON"  flag:"log-json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		FlatFile: FlatFileConfig{
			Path:     "/tmp/flatfile.csv",
			FileMode: 0o600,
		},
		SQLite: SQLiteConfig{
			Path:        "/etc/sqlite3/mystore.db",
			BusyTimeout: 5 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:             "dbserver.my.net",
			Port:             "5432",
			User:             "dbuser",
			Password:         SensitiveString("dbpass"),
			DBName:           "mydb",
			SSLMode:          "disable",
			ConnectTimeout:   5 * time.Second,
			OperationTimeout: 30 * time.Second,
		},
		Factory: FactoryConfig{
			ConnectAttempts: 1,
			ConnectBackoff:  500 * time.Millisecond,
		},
		Runtime: RuntimeConfig{
			LogLevel: "info",
		},
	}
}

const redacted = "[REDACTED]"

// SensitiveString holds a secret that must not leak through logs or JSON.
type SensitiveString string

// String redacts non-empty values.
func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// Value returns the actual secret.
func (s SensitiveString) Value() string {
	return string(s)
}

func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SensitiveString) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = SensitiveString(v)
	return nil
}
