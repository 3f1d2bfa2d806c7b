package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultListen, cfg.Listen)
	assert.Equal(t, defaultMaxOccurrences, cfg.MaxOccurrencesPerEvent)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadNormalizesPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
listen: ":9000"
timezone: Asia/Seoul
week_start: Sunday
log_level: debug
holiday_feeds:
  - id: kr
    name: Korean holidays
    url: https://example.com/kr.ics
    school_id: north
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "sunday", cfg.WeekStart)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, defaultReminderCron, cfg.ReminderCron)
	assert.Equal(t, defaultMaxWindowDays, cfg.MaxWindowDays)
	require.Len(t, cfg.HolidayFeeds, 1)
	assert.Equal(t, "north", cfg.HolidayFeeds[0].SchoolID)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "Asia/Seoul", cfg.Location().String())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [oops"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "secret"}
	cfg.ReminderLookaheadMinutes = 90

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded.BasicAuth)
	assert.Equal(t, "admin", loaded.BasicAuth.Username)
	assert.Equal(t, 90*time.Minute, loaded.ReminderLookahead())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: true},
		{
			name: "feed without school",
			mutate: func(c *Config) {
				c.HolidayFeeds = []HolidayFeed{{ID: "kr", URL: "https://example.com/kr.ics"}}
			},
			wantErr: true,
		},
		{
			name: "duplicate feed id",
			mutate: func(c *Config) {
				f := HolidayFeed{ID: "kr", URL: "https://example.com/kr.ics", SchoolID: "north"}
				c.HolidayFeeds = []HolidayFeed{f, f}
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SCHOOLCAL_LISTEN", ":7000")
	t.Setenv("SCHOOLCAL_MAX_WINDOW_DAYS", "31")
	t.Setenv("SCHOOLCAL_BASIC_AUTH_USERNAME", "ops")
	t.Setenv("SCHOOLCAL_BASIC_AUTH_PASSWORD", "pw")
	t.Setenv("SCHOOLCAL_REDIS_ADDR", "127.0.0.1:6379")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, 31, cfg.MaxWindowDays)
	require.NotNil(t, cfg.BasicAuth)
	assert.Equal(t, "ops", cfg.BasicAuth.Username)
	assert.Equal(t, "pw", cfg.BasicAuth.Password)
	require.NotNil(t, cfg.ReminderQueue)
	assert.Equal(t, "127.0.0.1:6379", cfg.ReminderQueue.RedisAddr)
	assert.Equal(t, "reminders", cfg.ReminderQueue.Queue)
}

func TestNormalizeDropsEmptySections(t *testing.T) {
	cfg := &Config{
		ReminderQueue: &ReminderQueueConfig{Queue: "x"},
		BasicAuth:     &BasicAuthConfig{},
		WeekStart:     "friday",
		LogLevel:      "loud",
	}
	cfg.Normalize()
	assert.Nil(t, cfg.ReminderQueue)
	assert.Nil(t, cfg.BasicAuth)
	assert.Equal(t, "monday", cfg.WeekStart)
	assert.Equal(t, "INFO", cfg.LogLevel)
}

func TestApplyEnvRejectsBadNumber(t *testing.T) {
	t.Setenv("SCHOOLCAL_MAX_OCCURRENCES_PER_EVENT", "many")

	cfg := DefaultConfig()
	assert.Error(t, cfg.ApplyEnv())
}
