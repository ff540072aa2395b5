package config

import (
	"encoding/json"
	"os"

	"github.com/anthonyharley32/chatsync/internal/flagx"
	"github.com/anthonyharley32/chatsync/internal/timex"
)

// jsonConfig is the DTO used only for JSON unmarshalling. It relies on
// timex.Duration so intervals can be written either as strings like "2s"
// or as integer nanoseconds.
type jsonConfig struct {
	ServerURL       *string         `json:"server_url"`
	WSURL           *string         `json:"ws_url"`
	CacheDSN        *string         `json:"cache_dsn"`
	LogLevel        *string         `json:"log_level"`
	BatchDelay      *timex.Duration `json:"batch_delay"`
	MaxUnreadPerDay *int            `json:"max_unread_per_day"`
	UnreadResetCron *string         `json:"unread_reset_cron"`
}

// parseJSON overlays cfg with values from the JSON file named by the -c or
// -config flag. Absent flag means no file is loaded. Absent fields keep
// their current values. Read or unmarshal errors panic; configuration is
// resolved once at startup and a broken file should be loud.
func parseJSON(cfg *Config) {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerURL != nil {
		cfg.ServerURL = *jc.ServerURL
	}
	if jc.WSURL != nil {
		cfg.WSURL = *jc.WSURL
	}
	if jc.CacheDSN != nil {
		cfg.CacheDSN = *jc.CacheDSN
	}
	if jc.LogLevel != nil {
		cfg.LogLevel = *jc.LogLevel
	}
	if jc.BatchDelay != nil {
		cfg.BatchDelay = jc.BatchDelay.Duration
	}
	if jc.MaxUnreadPerDay != nil {
		cfg.MaxUnreadPerDay = *jc.MaxUnreadPerDay
	}
	if jc.UnreadResetCron != nil {
		cfg.UnreadResetCron = *jc.UnreadResetCron
	}
}
