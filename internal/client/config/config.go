// Package config loads the client's runtime settings. Sources are applied
// in order, later ones overriding earlier ones:
//
//	defaults -> JSON file (-c/-config) -> .env / environment -> flags
package config

import "time"

// Config holds runtime settings for the chat client.
type Config struct {
	// ServerURL is the base URL of the backend REST API.
	ServerURL string
	// WSURL is the push-socket endpoint. Empty means "derive from
	// ServerURL" by swapping the scheme and appending /ws.
	WSURL string
	// CacheDSN is the sqlite DSN of the local snapshot cache.
	CacheDSN string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// BatchDelay is the quiet period the unread aggregator waits after
	// activity before refreshing.
	BatchDelay time.Duration
	// MaxUnreadPerDay caps accepted unread refresh triggers per day.
	MaxUnreadPerDay int
	// UnreadResetCron schedules the daily quota reset.
	UnreadResetCron string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.WSURL = ""
	c.CacheDSN = "file:chatsync.db"
	c.LogLevel = "info"
	c.BatchDelay = 2 * time.Second
	c.MaxUnreadPerDay = 10
	c.UnreadResetCron = "0 0 * * *"
}

// LoadConfig constructs a Config, applies defaults, then overlays the JSON
// file, environment and command-line flags. Later sources take precedence.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
