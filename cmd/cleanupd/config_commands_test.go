package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Config path: "+env.configPath)
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "nested", "cleanupd.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigValidateRejectsBadLogging(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Logging.Format = "xml"
	writeTestConfig(t, env.configPath, env.cfg)

	_, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err == nil {
		t.Fatal("expected validation error")
	}
	requireContains(t, err.Error(), "logging.format")
}
