package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	apiconfig "codehunt/internal/app/api/config"
	apiserver "codehunt/internal/app/api/server"
)

func main() {
	_ = godotenv.Load()
	cfg := apiconfig.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := apiserver.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize api server: %v", err)
	}
	defer srv.Close()

	log.Printf("api listening on %s", cfg.Port)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("api server stopped: %v", err)
	}
}
