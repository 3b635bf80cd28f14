package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"decertify/internal/config"
	httpinfra "decertify/internal/infra/http"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init service: %v", err)
	}
	defer a.close()

	a.reconciler.Start()
	defer a.reconciler.Stop()

	srv := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Requests: a.requests,
		DBMode:   a.dbMode,
	})
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
