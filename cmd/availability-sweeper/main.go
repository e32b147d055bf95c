package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/gateway"
	"github.com/hackgods/clinic-appointments/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load error", zap.Error(err))
	}

	logger := logging.New(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("availability sweeper starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.SweepInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, poolOptions(cfg))
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	gw := gateway.NewPgStore(pgPool)

	// Run once at startup
	runOnce(rootCtx, gw, logger)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping sweeper")
			return
		case <-ticker.C:
			runOnce(rootCtx, gw, logger)
		}
	}
}

// runOnce removes availability blocks that have already ended.
func runOnce(ctx context.Context, gw gateway.Gateway, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	removed, err := appointment.PruneElapsedAvailability(runCtx, gw, appointment.MillisFromTime(start))
	if err != nil {
		logger.Error("sweep run error", zap.Int("removed", removed), zap.Error(err))
		return
	}
	logger.Info("sweep run complete",
		zap.Int("removed", removed),
		zap.Duration("took", time.Since(start)),
	)
}

func poolOptions(cfg config.Config) db.PoolOptions {
	return db.PoolOptions{
		AppName:  "clinic-availability-sweeper",
		MaxConns: int32(cfg.PostgresMaxConns),
		MinConns: int32(cfg.PostgresMinConns),
	}
}
