package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/telemed-queue/internal/api"
	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/auth"
	"github.com/hackgods/telemed-queue/internal/config"
	"github.com/hackgods/telemed-queue/internal/db"
	"github.com/hackgods/telemed-queue/internal/events"
	"github.com/hackgods/telemed-queue/internal/logging"
	"github.com/hackgods/telemed-queue/internal/queue"
	redisclient "github.com/hackgods/telemed-queue/internal/redis"
	"github.com/hackgods/telemed-queue/internal/settlement"
	"github.com/hackgods/telemed-queue/internal/telemetry"
	"github.com/hackgods/telemed-queue/internal/wallet"
)

const (
	serviceName = "telemed-api"
	version     = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "api-server",
		Short: "Telemedicine appointment and wallet API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Env, cfg.LogLevel)

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			logger.Info().Msg("schema applied")
			return nil
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", serviceName).Logger()
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(rootCtx, serviceName, cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled")
		shutdownTracer = func(context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown")
		}
	}()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	publisher, closePublisher := newPublisher(cfg, logger)
	defer closePublisher()

	store := appointment.NewPgStore(pgPool)
	settler := settlement.NewSettler(settlement.Policy{
		CommissionRate:      cfg.Clinic.CommissionRate,
		CancellationFeeRate: cfg.Clinic.CancellationFeeRate,
	}, logger)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)

	handler := api.NewRouter(api.RouterConfig{
		Appointments:   appointment.NewService(store, locker, settler, publisher, cfg.Clinic, logger),
		Queue:          queue.NewService(store, queue.NewPredictor(cfg.Clinic)),
		Wallet:         wallet.NewService(store, logger),
		Tokens:         auth.NewTokens(cfg.JWTSecret),
		Checks:         readinessChecks(pgPool, rdb),
		Logger:         logger,
		Location:       cfg.Clinic.Location,
		AllowedOrigins: cfg.CORSOrigins,
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newPublisher returns the AMQP publisher when RABBIT_URL is set, otherwise
// events are only logged.
func newPublisher(cfg config.Config, logger zerolog.Logger) (events.Publisher, func()) {
	if cfg.RabbitURL == "" {
		logger.Info().Msg("RABBIT_URL not set, domain events will be logged only")
		return events.NewLogPublisher(logger), func() {}
	}

	pub, err := events.NewAMQPPublisher(cfg.RabbitURL, cfg.EventsExchange)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq unavailable, falling back to log publisher")
		return events.NewLogPublisher(logger), func() {}
	}
	logger.Info().Str("exchange", cfg.EventsExchange).Msg("connected to RabbitMQ")

	return pub, func() {
		if err := pub.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing rabbitmq publisher")
		}
	}
}

// Postgres is required to serve anything; a Redis outage only degrades
// booking and settlement locks.
func readinessChecks(pool *pgxpool.Pool, rdb *redis.Client) []api.Check {
	return []api.Check{
		{Name: "postgres", Critical: true, Ping: pool.Ping},
		{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}
}
