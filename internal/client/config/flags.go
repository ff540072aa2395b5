package config

import (
	"flag"
	"os"
	"time"

	"github.com/anthonyharley32/chatsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   base URL of the backend REST API
//	-w string   push-socket endpoint URL
//	-d string   sqlite DSN of the local cache
//	-l string   log level (debug, info, warn, error)
//	-b int      unread batch delay in seconds
//
// Arguments are filtered through flagx.FilterArgs so parsing here does not
// trip over flags owned by other components (such as -c/-config).
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-w", "-d", "-l", "-b"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "base URL of the backend server")
	fs.StringVar(&cfg.WSURL, "w", cfg.WSURL, "push socket endpoint")
	fs.StringVar(&cfg.CacheDSN, "d", cfg.CacheDSN, "sqlite DSN of the local cache")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	batchDelay := fs.Int("b", int(cfg.BatchDelay.Seconds()), "unread batch delay (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.BatchDelay = time.Duration(*batchDelay) * time.Second
}
