package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lendledger/core/ledger"
	"lendledger/observability"
	"lendledger/observability/logging"
	telemetry "lendledger/observability/otel"
	"lendledger/services/auditd/config"
	"lendledger/services/auditd/server"
	"lendledger/storage/backend"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "auditd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/auditd/config.yaml", "path to auditd configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("LENDLEDGER_ENV"))
	logger := logging.Setup(logging.Options{
		Service:    "auditd",
		Env:        env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	telemetryCfg := cfg.Telemetry
	telemetryCfg.ServiceName = "auditd"
	telemetryCfg.Environment = env
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	store, closer, err := backend.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Warn("close storage", slog.Any("error", err))
		}
	}()

	engine, err := ledger.NewEngine(store,
		ledger.WithLogger(logger),
		ledger.WithObserver(observability.LedgerMetrics()),
	)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}

	srv, err := server.New(server.Config{
		Ledger:    engine,
		Directory: server.StaticDirectory(cfg.Participants),
		Auth: server.AuthConfig{
			Disabled:   cfg.Auth.Disabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			RoleClaim:  cfg.Auth.RoleClaim,
			AdminRole:  cfg.Auth.AdminRole,
			ClockSkew:  cfg.Auth.ClockSkew,
		},
		ValidateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.ValidatePerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		Logger:            logger,
		ServiceName:       "auditd",
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	if cfg.Auth.Disabled {
		logger.Warn("admin authentication disabled")
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("auditd listening",
			slog.String("address", cfg.ListenAddress),
			slog.String("driver", cfg.Storage.Driver))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		logger.Info("auditd shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
