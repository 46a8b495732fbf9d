package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ankisyncd/ankisyncd-go/internal/authn"
	"github.com/ankisyncd/ankisyncd-go/internal/config"
	"github.com/ankisyncd/ankisyncd-go/internal/httpapi"
	"github.com/ankisyncd/ankisyncd-go/internal/sessions"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ankisyncd",
		Short:   "Self-hosted Anki sync server",
		Long:    "A self-hosted server implementing the Anki collection and media sync protocol.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHashPasswordCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// newVersionCmd prints the build version, alongside the --version flag
// cobra derives from the root command's Version field.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

// newReloadCmd builds the "reload" subcommand: sends SIGHUP to the running
// server (located via its PID file), which makes it re-read the credentials
// file without dropping connections.
func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask a running server to reload its credentials file",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(flagConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			return sendSIGHUP(cfg.PIDFile)
		},
	}
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Pass a zero Config for pre-config bootstrap. Config-file log
// level provides the baseline; --verbose, --debug, and --quiet override it
// because CLI flags always win. The flags are mutually exclusive (enforced
// by Cobra).
func buildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelWarn

	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newServeCmd builds the "serve" subcommand: the only long-running process
// this binary has. It loads configuration, wires the session store, the
// credential oracle, and the HTTP routing shell, then blocks serving
// requests until a shutdown signal arrives.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := buildLogger(cfg)

	cleanupPID, err := writePIDFile(cfg.PIDFile)
	if err != nil {
		return err
	}
	defer cleanupPID()

	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		return fmt.Errorf("creating data root: %w", err)
	}

	auth, err := authn.NewReloadable(cfg.CredentialsFile)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	store := sessions.NewStore()
	issuer := sessions.NewIssuer(auth, store, cfg.DataRoot)
	server := httpapi.New(store, issuer, logger)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx := shutdownContext(ctx, logger)

	g, gctx := errgroup.WithContext(shutdownCtx)

	g.Go(func() error {
		logger.Info("listening", slog.String("addr", cfg.BindAddr))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serving: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownTimeout, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.Info("shutting down")

		return httpServer.Shutdown(shutdownTimeout)
	})

	if cfg.IdleSessionTTL > 0 {
		g.Go(func() error {
			reapIdleSessions(gctx, server, cfg.IdleSessionTTL)
			return nil
		})
	}

	g.Go(func() error {
		watchSIGHUP(gctx, auth, logger)
		return nil
	})

	return g.Wait()
}

// reapIdleSessions periodically evicts sessions that have sat idle longer
// than ttl, aborting any transaction they left open. Runs until ctx is
// canceled.
func reapIdleSessions(ctx context.Context, server *httpapi.Server, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			server.EvictIdle(ctx, ttl)
		}
	}
}

// watchSIGHUP reloads the credentials file whenever the process receives
// SIGHUP, so an operator can add or remove users without restarting the
// server. Runs until ctx is canceled.
func watchSIGHUP(ctx context.Context, auth *authn.Reloadable, logger *slog.Logger) {
	ch := sighupChannel()
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if err := auth.Reload(); err != nil {
				logger.Error("reloading credentials", slog.String("err", err.Error()))
				continue
			}

			logger.Info("reloaded credentials file")
		}
	}
}

// newHashPasswordCmd builds the "hash-password" subcommand: a provisioning
// helper that prints a [users.<name>] TOML stanza for the credentials file,
// using a freshly generated salt.
func newHashPasswordCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Generate a credentials.toml stanza for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if username == "" {
				return fmt.Errorf("--user is required")
			}

			salt := make([]byte, 16)
			if _, err := rand.Read(salt); err != nil {
				return fmt.Errorf("generating salt: %w", err)
			}

			hash := authn.HashPassword(salt, args[0])

			fmt.Printf("[users.%s]\nsalt = \"%x\"\nhash = \"%s\"\n", username, salt, hash)

			return nil
		},
	}

	cmd.Flags().StringVar(&username, "user", "", "username to provision")

	return cmd
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
