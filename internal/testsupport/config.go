package testsupport

import (
	"path/filepath"
	"testing"

	"cleanupd/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config whose database, policy, lock, and log locations
// live under a fresh temp directory. Protected paths default to the real
// system roots so tests exercise the production guard.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DBPath = filepath.Join(base, "state", "index.db")
	cfgVal.Paths.PolicyDir = filepath.Join(base, "policies.d")
	cfgVal.Paths.LockDir = filepath.Join(base, "run")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Storage.BusyTimeoutSeconds = 5
	cfgVal.API.Bind = "127.0.0.1:0"

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithProtectedPaths replaces the protected roots on the test config.
func WithProtectedPaths(paths ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.ProtectedPaths = append([]string(nil), paths...)
	}
}

// WithAPIToken sets the control-plane bearer token.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.PolicyDir)
}
