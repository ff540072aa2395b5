package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/anthonyharley32/chatsync/internal/devserver"
	"github.com/anthonyharley32/chatsync/internal/logging"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("a", ":8080", "address to listen on")
	flag.Parse()

	secret := os.Getenv("CHATSYNC_JWT_SECRET")
	if secret == "" {
		secret = "dev-secret"
	}

	logger := logging.NewTextLogger(os.Stderr, slog.LevelDebug)
	srv := devserver.New([]byte(secret), logger)

	ctx := context.Background()
	logger.Info(ctx, "dev server listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, srv.Router()); err != nil {
		logger.Error(ctx, "server stopped", "error", err)
		os.Exit(1)
	}
}
