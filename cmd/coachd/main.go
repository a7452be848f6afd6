package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"coaching_framework/internal/app"
	"coaching_framework/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if cfg.EnableWatcher {
		if err := application.Backfill(ctx); err != nil {
			log.Printf("backfill: %v", err)
		}
	}
	if err := application.Run(ctx); err != nil {
		log.Fatalf("run: %v", err)
	}
}
