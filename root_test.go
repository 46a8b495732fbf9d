package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankisyncd/ankisyncd-go/internal/config"
)

func TestBuildLogger_Default(t *testing.T) {
	logger := buildLogger(config.Config{})

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestBuildLogger_ConfigDebug(t *testing.T) {
	logger := buildLogger(config.Config{LogLevel: "debug"})
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_VerboseOverridesConfig(t *testing.T) {
	flagVerbose = true
	defer func() { flagVerbose = false }()

	logger := buildLogger(config.Config{LogLevel: "error"})

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_QuietOverridesConfig(t *testing.T) {
	flagQuiet = true
	defer func() { flagQuiet = false }()

	logger := buildLogger(config.Config{LogLevel: "debug"})
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"serve", "hash-password", "reload", "version"} {
		assert.True(t, names[name], "expected subcommand %q", name)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "verbose", "debug", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "expected flag %q", name)
	}
}

func TestNewRootCmd_MutualExclusivity(t *testing.T) {
	pairs := [][]string{
		{"--verbose", "--debug"},
		{"--verbose", "--quiet"},
		{"--debug", "--quiet"},
	}

	for _, flags := range pairs {
		cmd := newRootCmd()
		cmd.SetArgs(append(flags, "reload", "--config", "/nonexistent.toml"))

		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "none of the others can be")
	}
}

func TestHashPasswordCmd_RequiresUser(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"hash-password", "secret"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user")
}

func TestHashPasswordCmd_PrintsStanza(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"hash-password", "--user", "alice", "secret"})

	require.NoError(t, cmd.Execute())
}

func TestReloadCmd_NoRunningServer(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"reload", "--config", "/nonexistent.toml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no running daemon")
}
