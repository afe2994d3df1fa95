package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"cleanupd/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Add directory policies with `cleanupd policy set` before scheduling index and evict.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate the configuration and check its directories are writable",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}

			checks := []struct {
				label string
				dir   string
			}{
				{"policy_dir", cfg.Paths.PolicyDir},
				{"lock_dir", cfg.Paths.LockDir},
				{"log_dir", cfg.Paths.LogDir},
				{"db_path", filepath.Dir(cfg.Paths.DBPath)},
			}
			var failures []string
			for _, check := range checks {
				if err := unix.Access(check.dir, unix.W_OK|unix.X_OK); err != nil {
					failures = append(failures, fmt.Sprintf("%s %s is not writable: %v", check.label, check.dir, err))
					fmt.Fprintf(out, "  %-12s %s [not writable]\n", check.label+":", check.dir)
					continue
				}
				fmt.Fprintf(out, "  %-12s %s\n", check.label+":", check.dir)
			}
			fmt.Fprintf(out, "  %-12s %s\n", "api.bind:", cfg.API.Bind)
			fmt.Fprintf(out, "  %-12s %s\n", "api.token:", yesNo(cfg.API.Token != ""))
			fmt.Fprintf(out, "  %-12s %d\n", "protected:", len(cfg.ProtectedPaths))

			if len(failures) > 0 {
				return errors.New(strings.Join(failures, "; "))
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
