package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/api"
	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/booking"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/gateway"
	"github.com/hackgods/clinic-appointments/internal/logging"
	"github.com/hackgods/clinic-appointments/internal/profile"
	redisclient "github.com/hackgods/clinic-appointments/internal/redis"
	"github.com/hackgods/clinic-appointments/internal/session"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load error", zap.Error(err))
	}

	logger := logging.New(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
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

	migrator, err := db.NewMigrator(pgPool, logger)
	if err != nil {
		logger.Fatal("migrator setup error", zap.Error(err))
	}
	if err := migrator.Up(rootCtx); err != nil {
		logger.Fatal("migration error", zap.Error(err))
	}
	_ = migrator.Close()

	// Redis is optional: without it slot locks and sign-out revocation are off.
	var (
		rdb     *redis.Client
		locker  redisclient.Locker = redisclient.NoopLocker{}
		revoker session.Revoker    = session.NoRevocation{}
	)
	rdb, err = redisclient.NewRedisClient(redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Warn("redis unavailable, running without slot locks", zap.Error(err))
		rdb = nil
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		}()
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		revoker = redisclient.NewRevocationList(rdb)
		logger.Info("connected to Redis")
	}

	gw := gateway.NewPgStore(pgPool)
	blobs := gateway.NewPgBlobStore(pgPool)

	broker := session.NewBroker()
	changes, unsubscribe := broker.Subscribe(16)
	defer unsubscribe()
	go func() {
		for c := range changes {
			logger.Info("session change",
				zap.String("kind", string(c.Kind)),
				zap.String("uid", c.User.UID),
				zap.String("role", string(c.User.Role)),
			)
		}
	}()

	sessions := session.NewManager(gw, revoker, broker, cfg.JWTSecret, cfg.SessionTTL, logger)
	store := appointment.NewStore(gw, logger)
	profiles := profile.NewService(gw, blobs, logger)

	var notifier booking.Notifier = booking.LogNotifier{Logger: logger}
	if cfg.SMTPEnabled() {
		notifier = booking.NewMailNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
		logger.Info("mail notifications enabled", zap.String("smtp_host", cfg.SMTPHost))
	}

	ctrl := booking.NewController(store, profiles, locker, notifier, logger)

	if err := store.FetchAppointments(rootCtx); err != nil {
		logger.Warn("initial appointment fetch failed", zap.Error(err))
	}

	router := api.NewRouter(api.RouterConfig{
		Sessions: sessions,
		Booking:  ctrl,
		Store:    store,
		Profiles: profiles,
		Blobs:    blobs,
		Postgres: pgPool,
		Redis:    rdb,
		Logger:   logger,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		os.Exit(1)
	}
}

func poolOptions(cfg config.Config) db.PoolOptions {
	return db.PoolOptions{
		AppName:  "clinic-api-server",
		MaxConns: int32(cfg.PostgresMaxConns),
		MinConns: int32(cfg.PostgresMinConns),
	}
}
