package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nevindra/relay/frontend/telegram"
	"github.com/nevindra/relay/internal/app"
	"github.com/nevindra/relay/internal/config"
)

func main() {
	// 1. Load config (.env first so RELAY_* overrides pick it up)
	_ = godotenv.Load()
	cfg := config.Load(os.Getenv("RELAY_CONFIG"))
	if cfg.Telegram.Token == "" {
		log.Fatal("relaybot: telegram token not configured (RELAY_TELEGRAM_TOKEN)")
	}

	// 2. Assemble orchestrator
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("relaybot: %v", err)
	}
	defer a.Shutdown(context.Background())

	// 3. Start the Telegram frontend
	opts := []telegram.Option{telegram.WithLogger(a.Logger)}
	if cfg.Telegram.AllowedUserID != "" {
		opts = append(opts, telegram.WithAllowedUser(cfg.Telegram.AllowedUserID))
	}
	f, err := telegram.New(cfg.Telegram.Token, a.Orch, opts...)
	if err != nil {
		log.Fatalf("relaybot: %v", err)
	}
	f.Run(ctx)
}
