// Command pgadapter runs a PostgreSQL wire-protocol proxy in front of a
// Cloud Spanner PostgreSQL-dialect database.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloudspannerecosystem/pgadapter-go"
	"github.com/cloudspannerecosystem/pgadapter-go/internal/backend"
	"github.com/cloudspannerecosystem/pgadapter-go/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		project       string
		instance      string
		database      string
		tcpPort       int
		unixSocketDir string
		sslMode       string
		configPath    string
		logLevel      string
	)

	cmd := &cobra.Command{
		Use:   "pgadapter",
		Short: "PostgreSQL wire-protocol proxy for Cloud Spanner",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(logLevel)

			watcher, err := config.NewWatcher(configPath, logger)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			defer watcher.Close()

			cfg := watcher.Current()
			if project != "" {
				cfg.Project = project
			}
			if instance != "" {
				cfg.Instance = instance
			}
			if database != "" {
				cfg.Database = database
			}
			if tcpPort != 0 {
				cfg.TCPPort = tcpPort
			}
			if unixSocketDir != "" {
				cfg.UnixSocketDir = unixSocketDir
			}
			if sslMode != "" {
				cfg.SSLMode = config.SSLMode(sslMode)
			}

			if cfg.Project == "" || cfg.Instance == "" || cfg.Database == "" {
				return fmt.Errorf("project, instance and database are required (flags -p/-i/-d or the config file)")
			}

			return run(cmd.Context(), cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&project, "project", "p", "", "Google Cloud project ID")
	flags.StringVarP(&instance, "instance", "i", "", "Cloud Spanner instance ID")
	flags.StringVarP(&database, "database", "d", "", "default Cloud Spanner database")
	flags.IntVarP(&tcpPort, "server-port", "s", 0, "TCP port to listen on (default 5432, or the config file's port)")
	flags.StringVar(&unixSocketDir, "dir", "", "directory to create a Unix domain socket in, in addition to TCP")
	flags.StringVar(&sslMode, "ssl", "", "SSL mode: disable, allow, require, enable")
	flags.StringVar(&configPath, "config", "", "path to an ini-formatted configuration file")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the pgadapter version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	spannerBackend, err := backend.NewSpannerBackend(ctx, backend.Config{
		Project:  cfg.Project,
		Instance: cfg.Instance,
		Database: cfg.Database,
	}, logger)
	if err != nil {
		return err
	}
	defer spannerBackend.Close()

	srv, err := pgadapter.NewServer(
		pgadapter.NewSpannerParseFn(spannerBackend),
		pgadapter.WithBackend(spannerBackend),
		pgadapter.WithVersion(version),
		pgadapter.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("constructing server: %w", err)
	}

	if cfg.UnixSocketDir != "" {
		go func() {
			socketPath := fmt.Sprintf("%s/.s.PGSQL.%d", cfg.UnixSocketDir, cfg.TCPPort)
			logger.Info("listening on unix socket", "path", socketPath)
			if err := srv.ListenAndServeUnix(socketPath); err != nil {
				logger.Error("unix socket listener stopped", "err", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		srv.Close()
	}()

	addr := fmt.Sprintf(":%d", cfg.TCPPort)
	logger.Info("listening", "addr", addr, "project", cfg.Project, "instance", cfg.Instance, "database", cfg.Database)
	return srv.ListenAndServe(addr)
}
