// Package main implements the codexd daemon: the control plane that resolves
// requests to isolated per-project databases.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/config"
	codexdhttp "github.com/fyrsmithlabs/codexd/internal/http"
	"github.com/fyrsmithlabs/codexd/internal/logging"
	"github.com/fyrsmithlabs/codexd/internal/project"
	"github.com/fyrsmithlabs/codexd/internal/session"
	"github.com/fyrsmithlabs/codexd/internal/workspace"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "codexd",
	Short:   "Multi-tenant control plane for the codexd indexing service",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/codexd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the codexd daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Registry pool: the shared database holding the projects relation.
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("parsing postgres URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxConns)

	registryPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connecting to registry: %w", err)
	}
	defer registryPool.Close()

	if err := registryPool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging registry: %w", err)
	}

	store, err := project.NewPostgresStore(registryPool, logger.Named("store"))
	if err != nil {
		return err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	pools := project.NewPoolManager(cfg.Postgres.URL, int32(cfg.Postgres.MaxConns), logger.Named("pools"))
	defer pools.Close()

	provisioner, err := project.NewPostgresProvisioner(registryPool, pools, logger.Named("provisioner"))
	if err != nil {
		return err
	}

	sessions := session.NewTracker()

	var integration project.Integration
	if cfg.Workspace.IntegrationURL != "" {
		client, err := workspace.NewClient(workspace.ClientConfig{
			BaseURL:  cfg.Workspace.IntegrationURL,
			Timeout:  cfg.Workspace.Timeout.Duration(),
			CacheTTL: cfg.Workspace.CacheTTL.Duration(),
		}, logger.Named("integration"))
		if err != nil {
			return fmt.Errorf("building workspace integration client: %w", err)
		}
		integration = client
	}

	resolver, err := project.NewResolver(project.Deps{
		Store:       store,
		Provisioner: provisioner,
		Configs:     workspace.NewLocator(logger.Named("configfile")),
		Sessions:    sessions,
		Integration: integration,
		Logger:      logger.Named("resolver"),
	})
	if err != nil {
		return err
	}

	server, err := codexdhttp.NewServer(resolver, store, sessions, logger.Named("http"), &codexdhttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	logger.Info("codexd started",
		zap.String("version", version),
		zap.Bool("integration_enabled", integration != nil),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	return nil
}
