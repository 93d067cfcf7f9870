package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codetrek/replikit/internal/auth"
	"github.com/codetrek/replikit/internal/config"
	"github.com/codetrek/replikit/internal/logging"
	"github.com/codetrek/replikit/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "replikit",
		Short: "Offline-first document replication server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), loadConfig(cmd))
		},
	}

	rootCmd.PersistentFlags().Int("port", 0, "HTTP listen port (overrides config)")
	rootCmd.PersistentFlags().String("storage", "", "storage backend: mongo or memory (overrides config)")
	rootCmd.PersistentFlags().String("bus", "", "bus backend: nats or memory (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (overrides config)")

	issueCmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue a bearer token for the replication API",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			return issueToken(loadConfig(cmd), subject)
		},
	}
	issueCmd.Flags().String("subject", "admin", "token subject")
	rootCmd.AddCommand(issueCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) *config.Config {
	cfg := config.LoadConfig()

	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.API.Port = port
	}
	if backend, _ := cmd.Flags().GetString("storage"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if backend, _ := cmd.Flags().GetString("bus"); backend != "" {
		cfg.Bus.Backend = backend
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	mgr := services.NewManager(cfg, logger)

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := mgr.Init(initCtx); err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr.Start(signalCtx)

	<-signalCtx.Done()
	logger.Info("shutting down", zap.Duration("timeout", shutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	mgr.Shutdown(shutdownCtx)

	return nil
}

func issueToken(cfg *config.Config, subject string) error {
	key, err := auth.LoadPrivateKey(cfg.Auth.PrivateKeyPath)
	if os.IsNotExist(err) {
		if key, err = auth.GeneratePrivateKey(); err != nil {
			return err
		}
		if err = auth.SavePrivateKey(cfg.Auth.PrivateKeyPath, key); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	token, err := auth.NewTokenService(key, 24*time.Hour).Issue(subject)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
