package postgres

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultHost           = "localhost"
	defaultPort           = "5432"
	defaultUser           = "postgres"
	defaultDBName         = "postgres"
	defaultSSLMode        = "disable"
	defaultConnectTimeout = 5 * time.Second
)

// Config holds PostgreSQL connection settings for the driver.
// Prefer providing a DSN via ConnString. When empty, a DSN will be
// synthesized from the individual fields.
type Config struct {
	ConnString string
	Host       string
	Port       string
	User       string
	Password   string
	DBName     string
	SSLMode    string

	// ConnectTimeout bounds dialing and authentication.
	ConnectTimeout time.Duration
	// OperationTimeout bounds each insert, remove and lookup round trip.
	// Zero leaves only the caller's context in charge.
	OperationTimeout time.Duration
}

// DSN returns ConnString or a keyword/value DSN built from the fields.
func (c *Config) DSN() string {
	if c.ConnString != "" {
		return c.ConnString
	}
	parts := []string{
		kv("host", orDefault(c.Host, defaultHost)),
		kv("port", orDefault(c.Port, defaultPort)),
		kv("user", orDefault(c.User, defaultUser)),
		kv("dbname", orDefault(c.DBName, defaultDBName)),
		kv("sslmode", orDefault(c.SSLMode, defaultSSLMode)),
	}
	if c.Password != "" {
		parts = append(parts, kv("password", c.Password))
	}
	return strings.Join(parts, " ")
}

func (c *Config) connectTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return defaultConnectTimeout
	}
	return c.ConnectTimeout
}

// kv quotes values so spaces, quotes and backslashes survive parsing.
func kv(key, value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
	return fmt.Sprintf("%s='%s'", key, escaped)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
