package sqlite

import "time"

const (
	memoryPath         = ":memory:"
	defaultBusyTimeout = 5 * time.Second
)

// Config captures SQLite store configuration derived from application settings.
type Config struct {
	// Path is the database location or ":memory:" for a private in-memory
	// database that lives as long as the connection.
	Path string

	// BusyTimeout configures sqlite busy timeout via PRAGMA busy_timeout.
	BusyTimeout time.Duration
}

func (c *Config) busyTimeout() time.Duration {
	if c.BusyTimeout <= 0 {
		return defaultBusyTimeout
	}
	return c.BusyTimeout
}
