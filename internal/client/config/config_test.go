package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "http://127.0.0.1:8080", c.ServerURL)
	assert.Equal(t, "file:chatsync.db", c.CacheDSN)
	assert.Equal(t, 2*time.Second, c.BatchDelay)
	assert.Equal(t, 10, c.MaxUnreadPerDay)
	assert.Equal(t, "0 0 * * *", c.UnreadResetCron)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"testbin"}

	cfg := LoadConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.ServerURL)
	assert.Equal(t, 2*time.Second, cfg.BatchDelay)
}

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJSON_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("loads fields named in the file", func(t *testing.T) {
		path := writeTempJSON(t, map[string]any{
			"server_url":  "http://backend:9000",
			"batch_delay": "5s",
		})
		os.Args = []string{"testbin", "-config", path}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJSON(cfg)

		assert.Equal(t, "http://backend:9000", cfg.ServerURL)
		assert.Equal(t, 5*time.Second, cfg.BatchDelay)
		// Untouched fields keep their defaults.
		assert.Equal(t, 10, cfg.MaxUnreadPerDay)
	})

	t.Run("no flag means no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{ServerURL: "http://kept:1234"}
		parseJSON(cfg)

		assert.Equal(t, "http://kept:1234", cfg.ServerURL)
	})

	t.Run("invalid JSON panics", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ nope`), 0o600))
		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJSON(cfg) })
	})
}

func Test_parseEnv(t *testing.T) {
	t.Setenv("CHATSYNC_SERVER_URL", "http://env:7000")
	t.Setenv("CHATSYNC_BATCH_DELAY", "3s")
	t.Setenv("CHATSYNC_MAX_UNREAD_PER_DAY", "25")

	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)

	assert.Equal(t, "http://env:7000", cfg.ServerURL)
	assert.Equal(t, 3*time.Second, cfg.BatchDelay)
	assert.Equal(t, 25, cfg.MaxUnreadPerDay)
}

func Test_parseEnv_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("CHATSYNC_BATCH_DELAY", "soon")
	t.Setenv("CHATSYNC_MAX_UNREAD_PER_DAY", "lots")

	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)

	assert.Equal(t, 2*time.Second, cfg.BatchDelay)
	assert.Equal(t, 10, cfg.MaxUnreadPerDay)
}

func Test_parseFlags_OverridesEarlierSources(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"testbin", "-a", "http://flag:9999", "-b", "7"}

	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.ServerURL = "http://json-or-env:1"
	parseFlags(cfg)

	assert.Equal(t, "http://flag:9999", cfg.ServerURL)
	assert.Equal(t, 7*time.Second, cfg.BatchDelay)
}
