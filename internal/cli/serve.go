package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/auth"
	"github.com/roach88/grove/internal/config"
	"github.com/roach88/grove/internal/server"
	"github.com/roach88/grove/internal/store"
	"github.com/roach88/grove/internal/store/postgres"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr        string
	Database    string
	DatabaseURL string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the authoritative event log",
		Long: `Serve the event log over HTTP until interrupted.

The log is stored in SQLite (--db) or Postgres (--database-url). Every
request must carry a bearer token signed with GROVE_JWT_SECRET; issue one
with 'grove token'.

Environment:
  GROVE_ADDR, GROVE_DB, GROVE_DATABASE_URL, GROVE_JWT_SECRET

Example:
  GROVE_JWT_SECRET=... grove serve --addr :8080 --db ./grove.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default $GROVE_ADDR or :8080)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database path (default $GROVE_DB)")
	cmd.Flags().StringVar(&opts.DatabaseURL, "database-url", "", "Postgres URL (default $GROVE_DATABASE_URL)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose, slog.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := loadServerConfig(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	log, err := openLog(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	srv := server.New(log, auth.NewManager(cfg.JWTSecret), logger)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s. Press Ctrl-C to stop.\n", cfg.Addr)

	if err := srv.ListenAndServe(ctx, cfg.Addr); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}

// loadServerConfig reads GROVE_* variables and applies flag overrides.
func loadServerConfig(opts *ServeOptions) (config.Server, error) {
	cfg, err := config.LoadServer()
	if err != nil {
		return config.Server{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.DatabaseURL != "" {
		cfg.DatabaseURL = opts.DatabaseURL
	}
	if err := cfg.Validate(); err != nil {
		return config.Server{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// openLog opens Postgres when a URL is configured and SQLite otherwise.
func openLog(ctx context.Context, cfg config.Server) (store.Log, error) {
	if cfg.DatabaseURL != "" {
		slog.Info("opening database", "backend", "postgres")
		return postgres.Open(ctx, cfg.DatabaseURL)
	}
	slog.Info("opening database", "backend", "sqlite", "path", cfg.Database)
	return store.Open(cfg.Database)
}
