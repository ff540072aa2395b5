package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// parseEnv overlays cfg with environment variables, loading a .env file
// first if one exists. godotenv never overrides variables already set in
// the process environment, so real env wins over the file.
func parseEnv(cfg *Config) {
	_ = godotenv.Load()

	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}

	setString("CHATSYNC_SERVER_URL", &cfg.ServerURL)
	setString("CHATSYNC_WS_URL", &cfg.WSURL)
	setString("CHATSYNC_CACHE_DSN", &cfg.CacheDSN)
	setString("CHATSYNC_LOG_LEVEL", &cfg.LogLevel)
	setString("CHATSYNC_UNREAD_RESET_CRON", &cfg.UnreadResetCron)

	if v, ok := os.LookupEnv("CHATSYNC_BATCH_DELAY"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.BatchDelay = d
		}
	}
	if v, ok := os.LookupEnv("CHATSYNC_MAX_UNREAD_PER_DAY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxUnreadPerDay = n
		}
	}
}
