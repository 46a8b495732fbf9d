package config

import "os"

// Environment variable names for overrides, all prefixed ANKISYNCD_ so they
// never collide with unrelated process environment.
const (
	EnvDataRoot        = "ANKISYNCD_DATA_ROOT"
	EnvBindAddr        = "ANKISYNCD_BIND_ADDR"
	EnvCredentialsFile = "ANKISYNCD_CREDENTIALS_FILE"
	EnvLogLevel        = "ANKISYNCD_LOG_LEVEL"
)

// ApplyEnvOverrides mutates cfg in place with any ANKISYNCD_* environment
// variables that are set, leaving unset fields untouched. Mirrors the
// teacher's ReadEnvOverrides + manual-apply split, collapsed into one step
// since this server has no profile layer to resolve against first.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvDataRoot); v != "" {
		cfg.DataRoot = v
	}

	if v := os.Getenv(EnvBindAddr); v != "" {
		cfg.BindAddr = v
	}

	if v := os.Getenv(EnvCredentialsFile); v != "" {
		cfg.CredentialsFile = v
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
}
