package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/abusefilter/internal/core/api"
	"github.com/solatis/abusefilter/internal/core/auth"
	"github.com/solatis/abusefilter/internal/core/config"
	"github.com/solatis/abusefilter/internal/core/db"
	"github.com/solatis/abusefilter/internal/core/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC filter API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	serveCmd.Flags().Int("port", 50051, "gRPC server port")
	serveCmd.Flags().String("metrics-addr", "", "address serving /metrics (empty disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if cmd.Flags().Changed("host") {
		a.cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		a.cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("metrics-addr") {
		a.cfg.Server.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}

	if err := requireMigrated(ctx, a); err != nil {
		return err
	}

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set AF_HMAC_SECRET environment variable)")
	}
	authenticator := auth.NewAuthenticator(secrets, a.queries)

	runner, err := a.newRunner()
	if err != nil {
		return err
	}
	service, err := api.NewFilterService(runner, a.store.Rules, a.store.Logs, a.cfg.Server.RequestTimeout, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(a.cfg.Server, service, authenticator, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	var metrics *server.MetricsServer
	errChan := make(chan error, 2)
	if a.cfg.Server.MetricsAddr != "" {
		metrics = server.NewMetricsServer(a.cfg.Server.MetricsAddr)
		go func() {
			errChan <- metrics.Start()
		}()
	}

	a.logger.Info("starting filter API",
		"version", Version,
		"host", a.cfg.Server.Host,
		"port", a.cfg.Server.Port,
		"redis", a.cfg.Redis.URL != "")
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if metrics != nil {
			if err := metrics.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("metrics shutdown failed", "error", err)
			}
		}
		return grpcServer.Shutdown(shutdownCtx)
	}
}

// requireMigrated refuses to start against a schema with pending
// migrations.
func requireMigrated(ctx context.Context, a *app) error {
	statuses, err := db.MigrateStatus(ctx, a.db)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			return fmt.Errorf("migration %s not applied - run 'abusefilter migrate up' first", s.ID)
		}
	}
	return nil
}
