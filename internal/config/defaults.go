package config

import "time"

const (
	defaultConfigPath         = "~/.config/cleanupd/config.toml"
	defaultDBPath             = "~/.local/share/cleanupd/index.db"
	defaultPolicyDir          = "~/.config/cleanupd/policies.d"
	defaultLockDir            = "~/.local/state/cleanupd/run"
	defaultLogDir             = "~/.local/state/cleanupd/logs"
	defaultBusyTimeoutSeconds = 300
	defaultAPIBind            = "127.0.0.1:8000"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 30
)

// DefaultProtectedPaths are the system roots no policy may target.
var DefaultProtectedPaths = []string{
	"/", "/etc", "/usr", "/var", "/lib", "/sbin", "/bin",
	"/root", "/boot", "/dev", "/proc", "/sys", "/run",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	protected := make([]string, len(DefaultProtectedPaths))
	copy(protected, DefaultProtectedPaths)
	return Config{
		Paths: Paths{
			DBPath:    defaultDBPath,
			PolicyDir: defaultPolicyDir,
			LockDir:   defaultLockDir,
			LogDir:    defaultLogDir,
		},
		ProtectedPaths: protected,
		Storage: Storage{
			BusyTimeoutSeconds: defaultBusyTimeoutSeconds,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

// BusyTimeout returns the SQLite busy timeout as a duration.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Storage.BusyTimeoutSeconds) * time.Second
}
