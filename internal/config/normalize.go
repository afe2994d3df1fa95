package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeProtected(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeLogging()
	if c.Storage.BusyTimeoutSeconds == 0 {
		c.Storage.BusyTimeoutSeconds = defaultBusyTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		key      string
		value    *string
		fallback string
	}{
		{"paths.db_path", &c.Paths.DBPath, defaultDBPath},
		{"paths.policy_dir", &c.Paths.PolicyDir, defaultPolicyDir},
		{"paths.lock_dir", &c.Paths.LockDir, defaultLockDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeProtected() error {
	if c.ProtectedPaths == nil {
		c.ProtectedPaths = append([]string(nil), DefaultProtectedPaths...)
	}
	seen := make(map[string]struct{}, len(c.ProtectedPaths))
	out := c.ProtectedPaths[:0]
	for _, raw := range c.ProtectedPaths {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		expanded, err := expandPath(trimmed)
		if err != nil {
			return fmt.Errorf("protected_paths: %w", err)
		}
		if _, dup := seen[expanded]; dup {
			continue
		}
		seen[expanded] = struct{}{}
		out = append(out, expanded)
	}
	c.ProtectedPaths = out
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("CLEANUPD_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
