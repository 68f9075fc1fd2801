package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ncmcheck/internal/config"
	"ncmcheck/internal/dataset"
	"ncmcheck/internal/listener"
	"ncmcheck/internal/logger"
	"ncmcheck/internal/metrics"
	"ncmcheck/internal/ncm"
	"ncmcheck/internal/pipeline"
	"ncmcheck/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.LogDevelopment})
	must(err)
	defer func() { _ = log.Sync() }()

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	m := metrics.New()
	store := ncm.NewStore()
	sync := dataset.NewSyncService(db, cfg, store, m, log)
	processor := pipeline.NewProcessingService(db, cfg, pipeline.NewChecker(store, m, cfg.Location()), m, log)

	svc := listener.NewService(db, cfg, sync, processor, log)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
