package app

import (
	"fmt"
	"time"
)

// Config is everything the server needs to come up.
type Config struct {
	Addr          string
	Driver        string // "sqlite3" or "postgres"
	DSN           string
	MigrationsDir string // empty disables startup migrations
	TxWarnAfter   time.Duration
}

func (c Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address is required")
	}
	switch c.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	return nil
}
