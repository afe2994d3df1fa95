package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"cleanupd/internal/config"
	"cleanupd/internal/logging"
	"cleanupd/internal/pathguard"
	"cleanupd/internal/policy"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// commandLogger is the stderr-only logger used by commands that do not run
// a role session.
func (c *commandContext) commandLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err == nil {
			if logger, _, logErr := logging.NewFromConfig(cfg, "", ""); logErr == nil {
				c.logger = logger
				return
			}
		}
		c.logger = logging.NewNop()
	})
	return c.logger
}

func (c *commandContext) policyStore() (*policy.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return policy.NewStore(cfg.Paths.PolicyDir, pathguard.New(cfg.ProtectedPaths), c.commandLogger()), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
