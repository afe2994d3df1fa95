package config

import (
	"errors"
	"fmt"
	"net"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DBPath == "" {
		return errors.New("paths.db_path must be set")
	}
	if c.Paths.PolicyDir == "" {
		return errors.New("paths.policy_dir must be set")
	}
	if c.Paths.LockDir == "" {
		return errors.New("paths.lock_dir must be set")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.BusyTimeoutSeconds < 0 {
		return errors.New("storage.busy_timeout_seconds must be non-negative")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be non-negative")
	}
	return nil
}
