package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nevindra/relay/internal/app"
	"github.com/nevindra/relay/internal/config"
	"github.com/nevindra/relay/server"
)

func main() {
	// 1. Load config (.env first so RELAY_* overrides pick it up)
	_ = godotenv.Load()
	cfg := config.Load(os.Getenv("RELAY_CONFIG"))

	// 2. Assemble orchestrator
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("relayd: %v", err)
	}
	defer a.Shutdown(context.Background())

	// 3. Serve REST + SSE
	srv := server.New(a.Orch, server.WithLogger(a.Logger))
	a.Logger.Info("relayd listening", "addr", cfg.Server.Addr)
	if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
		log.Fatalf("relayd: %v", err)
	}
}
