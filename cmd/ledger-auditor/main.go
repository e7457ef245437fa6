package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/audit"
	"github.com/hackgods/telemed-queue/internal/config"
	"github.com/hackgods/telemed-queue/internal/db"
	"github.com/hackgods/telemed-queue/internal/events"
	"github.com/hackgods/telemed-queue/internal/logging"
)

func main() {
	var once bool
	var queueName string

	rootCmd := &cobra.Command{
		Use:   "ledger-auditor",
		Short: "Check wallet balances against their transaction history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(once, queueName)
		},
	}
	rootCmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	rootCmd.Flags().StringVar(&queueName, "queue", "ledger-auditor", "queue to bind when RABBIT_URL is set")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(once bool, queueName string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "ledger-auditor").Logger()
	logger.Info().Dur("interval", cfg.AuditInterval).Msg("ledger-auditor starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	auditor := audit.NewAuditor(appointment.NewPgStore(pgPool), logger)

	// Run once at startup
	runOnce(rootCtx, auditor, logger)
	if once {
		return nil
	}

	if cfg.RabbitURL != "" {
		go consume(rootCtx, cfg, queueName, auditor, logger)
	}

	ticker := time.NewTicker(cfg.AuditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping ledger-auditor")
			return nil
		case <-ticker.C:
			runOnce(rootCtx, auditor, logger)
		}
	}
}

func runOnce(ctx context.Context, auditor *audit.Auditor, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	start := time.Now()
	report, err := auditor.RunOnce(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("audit run error")
		return
	}
	logger.Info().
		Int("wallets", report.Wallets).
		Int("drifting", len(report.Drifting)).
		Dur("took", time.Since(start)).
		Msg("audit run complete")
}

// consume audits the wallets touched by each money-moving event so drift is
// reported without waiting for the next sweep.
func consume(ctx context.Context, cfg config.Config, queueName string, auditor *audit.Auditor, logger zerolog.Logger) {
	consumer, err := events.NewConsumer(cfg.RabbitURL, cfg.EventsExchange, queueName, audit.Keys)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq unavailable, running sweeps only")
		return
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing rabbitmq consumer")
		}
	}()

	logger.Info().Str("queue", queueName).Strs("keys", audit.Keys).Msg("consuming settlement events")
	if err := consumer.Consume(ctx, auditor.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("event consumer stopped")
	}
}
