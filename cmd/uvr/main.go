package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/uvr-coop/uvr/internal/app"
	"github.com/uvr-coop/uvr/internal/auth"
	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/bankaccounts"
	"github.com/uvr-coop/uvr/internal/cashflow"
	"github.com/uvr-coop/uvr/internal/changereq"
	"github.com/uvr-coop/uvr/internal/ledger"
	"github.com/uvr-coop/uvr/internal/observability"
	"github.com/uvr-coop/uvr/internal/platform/cache"
	"github.com/uvr-coop/uvr/internal/platform/db"
	"github.com/uvr-coop/uvr/internal/shared"
	"github.com/uvr-coop/uvr/jobs"
	"github.com/uvr-coop/uvr/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := app.SignalContext(context.Background())
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			logger.Error("migrate schema", slog.Any("error", err))
			os.Exit(1)
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, StatementTimeout: cfg.AppRequestTimeout})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services, err := app.NewServices(cfg, logger, pool, redisClient, metrics)
	if err != nil {
		logger.Error("wire services", slog.Any("error", err))
		os.Exit(1)
	}

	sessionManager := shared.NewSessionManager(redisClient, "uvr_session", cfg.SessionTTL, cfg.IsProduction())

	pdfClient := report.NewClient(cfg.GotenbergURL)
	renderer := report.NewStatementRenderer(pdfClient)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:                logger,
		Config:                cfg,
		SessionManager:        sessionManager,
		Authenticator:         authz.Middleware{Users: services.UserRepo, Logger: logger},
		Metrics:               metrics,
		AuthHandler:           auth.NewHandler(logger, services.Auth, sessionManager),
		LedgerHandler:         ledger.NewHandler(logger, services.Ledger, services.Gate, services.Requests),
		CashflowHandler:       cashflow.NewHandler(logger, services.Cashflow, services.Gate, services.Requests, renderer),
		BankAccountsHandler:   bankaccounts.NewHandler(logger, services.BankAccounts, services.Gate, services.Requests),
		ChangeRequestsHandler: changereq.NewHandler(logger, services.Requests),
		ReportHandler:         report.NewHandler(pdfClient, logger),
		JobHandler:            jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
