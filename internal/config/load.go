package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load resolves the effective configuration: defaults, then the TOML file at
// path (if it exists — a missing file is not an error, matching a fresh
// install with no config yet), then environment variable overrides. CLI
// flags are applied by the caller afterward, since cobra owns flag parsing.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	ApplyEnvOverrides(&cfg)

	return cfg, nil
}
