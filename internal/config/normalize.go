package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.Flow.RuleEngine = strings.ToLower(strings.TrimSpace(c.Flow.RuleEngine))
	if c.Flow.RuleEngine == "" {
		c.Flow.RuleEngine = defaultRuleEngine
	}
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeTelemetry()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeStorage() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.DSN == "" {
		if value, ok := os.LookupEnv("ONBOARD_DATABASE_URL"); ok {
			c.Storage.DSN = value
		}
	}
	c.Storage.DSN = strings.TrimSpace(c.Storage.DSN)

	if c.Storage.Driver != DriverSQLite {
		return nil
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = defaultStatePath
	}
	var err error
	if c.Storage.Path, err = expandPath(c.Storage.Path); err != nil {
		return fmt.Errorf("storage.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeTelemetry() {
	c.Telemetry.Channel = strings.TrimSpace(c.Telemetry.Channel)
	if c.Telemetry.Channel == "" {
		c.Telemetry.Channel = defaultChannel
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}
