package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"marketdash/config"
	"marketdash/internal/app"
	"marketdash/internal/logger"
)

func main() {
	cfg, err := config.Load(getEnv("CONFIG_PATH", "marketdash.yaml"))
	if err != nil {
		log.Fatalf("[server] %v", err)
	}
	logger.Init("marketdash", logger.ParseLevel(cfg.LogLevel))

	a, err := app.New(cfg, app.Options{})
	if err != nil {
		log.Fatalf("[server] init failed: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		log.Printf("[server] %v", err)
		a.Close()
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
