package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-pallets/cmd/palletd/cli"
	"github.com/odyssey-erp/odyssey-pallets/internal/app"
	"github.com/odyssey-erp/odyssey-pallets/internal/observability"
	"github.com/odyssey-erp/odyssey-pallets/internal/pallet"
	"github.com/odyssey-erp/odyssey-pallets/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-pallets/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pallets/internal/platform/retry"
	"github.com/odyssey-erp/odyssey-pallets/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	printClient := jobs.NewPrintClient(asynq.NewClient(redisOpts), cfg.PrintUniqueTTL, logger)
	defer func() {
		if err := printClient.Close(); err != nil {
			logger.Warn("print client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	if args, ok := jobsCommand(os.Args); ok {
		if err := cli.NewJobsCLI(printClient, inspector).Run(ctx, args, os.Stdout); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := cache.Optional(ctx, cfg.RedisAddr, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	isolation, err := db.ParseIsolation(cfg.TxIsolation)
	if err != nil {
		logger.Error("parse isolation", slog.Any("error", err))
		os.Exit(1)
	}
	metrics := observability.NewMetrics()

	repo := pallet.NewRetryingRepository(
		pallet.NewRepository(pool, db.NewTxManager(pool, isolation)),
		retry.Policy{MaxAttempts: cfg.TxMaxAttempts, BaseDelay: cfg.TxBaseDelay},
		db.IsTransient,
		logger,
		metrics,
	)
	service := pallet.NewService(
		repo,
		printClient,
		pallet.NewClosedCache(redisClient, cfg.CacheTTL),
		metrics,
		logger,
		pallet.ServiceConfig{Classifier: pallet.Classifier{Code: cfg.SpecialClientCode, Name: cfg.SpecialClientName}},
	)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		PalletHandler: pallet.NewHandler(logger, service, app.NewCapabilityChecker(cfg)),
		JobHandler:    jobs.NewHandler(inspector, logger),
		Database:      pool,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return app.Serve(groupCtx, server, logger)
	})
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shut down")
}

// jobsCommand reports whether argv selects the jobs subcommand and returns its arguments.
func jobsCommand(argv []string) ([]string, bool) {
	if len(argv) < 2 || argv[1] != "jobs" {
		return nil, false
	}
	return argv[2:], true
}
