// Package config loads ankisyncd's server configuration from a TOML file,
// environment variable overrides, and CLI flags, in that order of
// increasing priority.
package config

import "time"

// Config is the fully-resolved server configuration.
type Config struct {
	// DataRoot is the base directory for per-user state
	// (<data_root>/<username>/{collection.anki2,collection.media,...}).
	DataRoot string `toml:"data_root"`

	// BindAddr is the address the HTTP server listens on, e.g. ":27701".
	BindAddr string `toml:"bind_addr"`

	// CredentialsFile is the path to the reference credential oracle's
	// username -> password-hash store.
	CredentialsFile string `toml:"credentials_file"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `toml:"log_level"`

	// IdleSessionTTL is how long a session may sit with no requests before
	// the idle-session reaper aborts its transaction and evicts it. Zero
	// disables the reaper.
	IdleSessionTTL time.Duration `toml:"idle_session_ttl"`

	// PIDFile is the path the serve command locks and records its PID in,
	// preventing two servers from sharing one data root.
	PIDFile string `toml:"pid_file"`
}

// Default returns the baseline configuration applied before the file,
// environment, and flag layers are merged in.
func Default() Config {
	return Config{
		DataRoot:        "./data",
		BindAddr:        ":27701",
		CredentialsFile: "./data/credentials.toml",
		LogLevel:        "info",
		IdleSessionTTL:  30 * time.Minute,
		PIDFile:         "./data/ankisyncd.pid",
	}
}
