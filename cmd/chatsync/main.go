package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/anthonyharley32/chatsync/internal/client/cli"
	"github.com/anthonyharley32/chatsync/internal/client/config"
	"github.com/anthonyharley32/chatsync/internal/logging"
)

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()
	logger := logging.NewTextLogger(os.Stderr, parseLevel(cfg.LogLevel))

	app, err := cli.NewApp(cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	app.Run(ctx)
}
