package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/auth"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/config"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/password"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/quotegate"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/rbac"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/server"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", "eis-api", "env", cfg.Env)
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}

	db, err := store.Open(cfg.Postgres.DSN)
	if err != nil {
		return err
	}

	accounts := store.NewAccountStore(db)
	quotes := store.NewQuoteStore(db)

	authCfg := auth.DefaultConfig()
	authCfg.ProductionMode = cfg.Production()
	authCfg.JWT.Secret = []byte(cfg.Auth.JWTSecret)
	authCfg.JWT.Method = cfg.Auth.JWTMethod
	authCfg.JWT.Issuer = cfg.Auth.Issuer
	authCfg.JWT.AccessTTL = cfg.Auth.AccessTTL
	authCfg.Session.TTL = cfg.Auth.SessionTTL
	authCfg.TOTP.Issuer = cfg.Auth.TOTPIssuer

	sink := auth.MultiSink{
		auth.SlogSink{Logger: logger},
		store.NewGormSink(db),
	}

	engine, err := auth.New().
		WithConfig(authCfg).
		WithRedis(redisClient).
		WithAccounts(accounts).
		WithAuditSink(sink).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := seedAdmin(ctx, cfg, accounts, authCfg); err != nil {
		return err
	}

	gate, err := quotegate.New(redisClient, quotegate.Config{
		MinFillTime:     cfg.Gate.MinFillTime,
		MaxFormAge:      cfg.Gate.MaxFormAge,
		DuplicateWindow: cfg.Gate.DuplicateWindow,
		DailyCap:        cfg.Gate.DailyCap,
		AllowedFields:   cfg.Gate.AllowedFields,
		FailOpen:        cfg.Gate.FailOpen,
	}, sink)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	notifier := server.NewRecordingNotifier(server.NopNotifier{}, logger, 256)
	go drainNotifyFailures(ctx, notifier, logger)

	srv := server.New(server.Config{
		Addr:             cfg.HTTP.Addr,
		ReadTimeout:      cfg.HTTP.ReadTimeout,
		WriteTimeout:     cfg.HTTP.WriteTimeout,
		ShutdownTimeout:  cfg.HTTP.ShutdownTimeout,
		SecureCookies:    cfg.Production(),
		RefreshCookieTTL: cfg.Auth.SessionTTL,
	}, engine, gate, quotes, notifier, logger, registry)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr)
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// seedAdmin creates the bootstrap super admin when configured and absent.
func seedAdmin(ctx context.Context, cfg *config.Config, accounts *store.AccountStore, authCfg auth.Config) error {
	if cfg.Auth.SeedEmail == "" || cfg.Auth.SeedPassword == "" {
		return nil
	}

	if _, err := accounts.GetByEmail(ctx, cfg.Auth.SeedEmail); err == nil {
		return nil
	} else if !errors.Is(err, auth.ErrAccountNotFound) {
		return err
	}

	hasher, err := password.New(authCfg.Password)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(cfg.Auth.SeedPassword)
	if err != nil {
		return err
	}
	_, err = accounts.Create(ctx, cfg.Auth.SeedEmail, hash, rbac.RoleSuperAdmin)
	return err
}

func drainNotifyFailures(ctx context.Context, notifier *server.RecordingNotifier, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case failure := <-notifier.Failures():
			logger.Warn("quote notification failed",
				"quote_id", failure.QuoteID,
				"email", auth.MaskEmail(failure.Email),
				"err", failure.Err,
			)
		}
	}
}
