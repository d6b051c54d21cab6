package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pallets/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-pallets/internal/jobs"
	"github.com/odyssey-erp/odyssey-pallets/internal/pallet"
	"github.com/odyssey-erp/odyssey-pallets/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-pallets/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pallets/jobs"
	"github.com/odyssey-erp/odyssey-pallets/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
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

	// read side only; the worker never prints on its own so no printer is wired
	service := pallet.NewService(
		pallet.NewRepository(pool, nil),
		nil,
		pallet.NewClosedCache(redisClient, cfg.CacheTTL),
		nil,
		logger,
		pallet.ServiceConfig{Classifier: pallet.Classifier{Code: cfg.SpecialClientCode, Name: cfg.SpecialClientName}},
	)

	var spooler jobs.Spooler = jobs.LogSpooler{Logger: logger}
	if cfg.GotenbergURL != "" {
		pdfClient := report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout)
		if err := pdfClient.Ping(ctx); err != nil {
			logger.Warn("gotenberg not reachable yet", slog.String("url", cfg.GotenbergURL), slog.Any("error", err))
		}
		pdfSpooler, err := report.NewPDFSpooler(pdfClient, cfg.PrintSpoolDir, logger)
		if err != nil {
			logger.Error("init pdf spooler", slog.Any("error", err))
			os.Exit(1)
		}
		spooler = pdfSpooler
	}

	printJob := jobs.NewPrintJob(service, spooler, jobs.PrinterRoutes{
		PalletList:   cfg.PrinterListQueue,
		ItemLabel:    cfg.PrinterLabelQueue,
		SpecialLabel: cfg.PrinterSpecialName,
	}, logger, jobmetrics.NewMetrics(nil))

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    printJob.Handlers(),
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
