package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunExitCodes(t *testing.T) {
	env := setupCLITestEnv(t)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--config", env.configPath, "policy", "list"}, &stdout, &stderr); code != 0 {
		t.Fatalf("policy list exit code = %d, stderr=%s", code, stderr.String())
	}
	requireContains(t, stdout.String(), "No policies in")

	stdout.Reset()
	stderr.Reset()
	if code := run([]string{"--config", env.configPath, "policy", "show", "missing"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1 for missing policy, got %d", code)
	}
	if !strings.HasPrefix(stderr.String(), "cleanupd: ") {
		t.Fatalf("expected prefixed error on stderr, got %q", stderr.String())
	}
}

func TestConfigInitSkipsConfigLoad(t *testing.T) {
	env := setupCLITestEnv(t)
	writeRaw(t, env.configPath, "this is = = not toml")

	if _, _, err := runCLI(t, []string{"policy", "list"}, env.configPath); err == nil {
		t.Fatal("expected a broken config to fail ordinary commands")
	}
	target := t.TempDir() + "/fresh.toml"
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, env.configPath); err != nil {
		t.Fatalf("config init must not load the config: %v", err)
	}
}
