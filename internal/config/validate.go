package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateFlow(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateFlow() error {
	if c.Flow.MinDwellMS < 0 {
		return errors.New("flow.min_dwell_ms must be zero or positive")
	}
	switch c.Flow.RuleEngine {
	case "expr", "cel", "js":
		return nil
	default:
		return fmt.Errorf("flow.rule_engine: unsupported value %q", c.Flow.RuleEngine)
	}
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case DriverMemory:
		return nil
	case DriverSQLite:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the sqlite driver")
		}
		return nil
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the postgres driver (or set ONBOARD_DATABASE_URL)")
		}
		return nil
	default:
		return fmt.Errorf("storage.driver: unsupported value %q", c.Storage.Driver)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "text", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
