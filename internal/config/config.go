package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen            = "127.0.0.1:8080"
	defaultTimezone          = "UTC"
	defaultReminderCron      = "* * * * *"
	defaultFeedRefreshCron   = "0 */6 * * *"
	defaultLookaheadMinutes  = 60 * 24 * 7
	defaultMaxOccurrences    = 5000
	defaultMaxWindowDays     = 400
	defaultLogLevel          = "INFO"
	defaultReminderQueue     = "reminders"
	envPrefix                = "SCHOOLCAL_"
	configTempFilePattern    = ".schoolcal-config-*.tmp"
	defaultCacheDirComponent = "schoolcal"
)

// HolidayFeed describes an external ICS feed whose events are imported
// into one school's calendar.
type HolidayFeed struct {
	// ID is a stable identifier; imported event IDs are prefixed with it.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label used in logs.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// SchoolID is the school that owns imported events.
	SchoolID string `yaml:"school_id" json:"school_id"`
	// CategoryID is assigned to every imported event.
	CategoryID string `yaml:"category_id" json:"category_id"`
}

// ReminderQueueConfig enables hand-off of due reminders to a Redis-backed
// task queue consumed by an external delivery worker.
type ReminderQueueConfig struct {
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
	// Queue is the asynq queue name; defaults to "reminders".
	Queue string `yaml:"queue" json:"queue"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone occurrences are rendered in
	// (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday". It becomes the WKST of
	// exported recurrence rules that do not set one.
	WeekStart string `yaml:"week_start" json:"week_start"`

	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// DataFile is the YAML snapshot backing the event store. Empty keeps
	// events in memory only.
	DataFile string `yaml:"data_file" json:"data_file"`

	// CacheDir holds cached feed bodies and their validators.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// ReminderCron is the cron schedule of the reminder sweep.
	ReminderCron string `yaml:"reminder_cron" json:"reminder_cron"`

	// ReminderLookaheadMinutes bounds how far ahead the sweep expands
	// events. It must cover the largest reminder lead time in use.
	ReminderLookaheadMinutes int `yaml:"reminder_lookahead_minutes" json:"reminder_lookahead_minutes"`

	// FeedRefreshCron is the cron schedule of holiday feed syncs.
	FeedRefreshCron string `yaml:"feed_refresh_cron" json:"feed_refresh_cron"`

	// MaxOccurrencesPerEvent caps the instances generated per event and
	// expansion window.
	MaxOccurrencesPerEvent int `yaml:"max_occurrences_per_event" json:"max_occurrences_per_event"`

	// MaxWindowDays caps the span of occurrence queries.
	MaxWindowDays int `yaml:"max_window_days" json:"max_window_days"`

	// HolidayFeeds lists the ICS feeds imported on every feed refresh.
	HolidayFeeds []HolidayFeed `yaml:"holiday_feeds" json:"holiday_feeds"`

	// ReminderQueue, if non-nil, routes due reminders to a task queue
	// instead of the log.
	ReminderQueue *ReminderQueueConfig `yaml:"reminder_queue,omitempty" json:"reminder_queue,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health. Password may be a bcrypt hash.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                   defaultListen,
		Timezone:                 defaultTimezone,
		WeekStart:                "monday",
		LogLevel:                 defaultLogLevel,
		DataFile:                 "",
		CacheDir:                 defaultCacheDir(),
		ReminderCron:             defaultReminderCron,
		ReminderLookaheadMinutes: defaultLookaheadMinutes,
		FeedRefreshCron:          defaultFeedRefreshCron,
		MaxOccurrencesPerEvent:   defaultMaxOccurrences,
		MaxWindowDays:            defaultMaxWindowDays,
		HolidayFeeds:             []HolidayFeed{},
		BasicAuth:                nil,
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, defaultCacheDirComponent)
	}
	return filepath.Join(os.TempDir(), defaultCacheDirComponent)
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		c.WeekStart = "monday"
	}
	c.LogLevel = strings.ToUpper(strings.TrimSpace(c.LogLevel))
	switch c.LogLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		c.LogLevel = defaultLogLevel
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir()
	}
	if c.ReminderCron == "" {
		c.ReminderCron = defaultReminderCron
	}
	if c.ReminderLookaheadMinutes <= 0 {
		c.ReminderLookaheadMinutes = defaultLookaheadMinutes
	}
	if c.FeedRefreshCron == "" {
		c.FeedRefreshCron = defaultFeedRefreshCron
	}
	if c.MaxOccurrencesPerEvent <= 0 {
		c.MaxOccurrencesPerEvent = defaultMaxOccurrences
	}
	if c.MaxWindowDays <= 0 {
		c.MaxWindowDays = defaultMaxWindowDays
	}
	if c.HolidayFeeds == nil {
		c.HolidayFeeds = []HolidayFeed{}
	}
	if c.ReminderQueue != nil {
		if c.ReminderQueue.RedisAddr == "" {
			c.ReminderQueue = nil
		} else if c.ReminderQueue.Queue == "" {
			c.ReminderQueue.Queue = defaultReminderQueue
		}
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Validate reports configuration that Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errors.Wrapf(err, "config: invalid timezone %q", c.Timezone)
	}
	seen := make(map[string]bool, len(c.HolidayFeeds))
	for i, f := range c.HolidayFeeds {
		if f.ID == "" || f.URL == "" || f.SchoolID == "" {
			return errors.Errorf("config: holiday_feeds[%d] needs id, url and school_id", i)
		}
		if seen[f.ID] {
			return errors.Errorf("config: duplicate holiday feed id %q", f.ID)
		}
		seen[f.ID] = true
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ReminderLookahead returns ReminderLookaheadMinutes as a duration.
func (c *Config) ReminderLookahead() time.Duration {
	return time.Duration(c.ReminderLookaheadMinutes) * time.Minute
}

// ApplyEnv overrides fields from SCHOOLCAL_* environment variables.
// Supported: LISTEN, TIMEZONE, LOG_LEVEL, DATA_FILE, CACHE_DIR,
// REMINDER_CRON, REMINDER_LOOKAHEAD_MINUTES, FEED_REFRESH_CRON,
// MAX_OCCURRENCES_PER_EVENT, MAX_WINDOW_DAYS, REDIS_ADDR,
// BASIC_AUTH_USERNAME and BASIC_AUTH_PASSWORD.
func (c *Config) ApplyEnv() error {
	strFields := map[string]*string{
		"LISTEN":            &c.Listen,
		"TIMEZONE":          &c.Timezone,
		"LOG_LEVEL":         &c.LogLevel,
		"DATA_FILE":         &c.DataFile,
		"CACHE_DIR":         &c.CacheDir,
		"REMINDER_CRON":     &c.ReminderCron,
		"FEED_REFRESH_CRON": &c.FeedRefreshCron,
	}
	for name, dst := range strFields {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}

	intFields := map[string]*int{
		"REMINDER_LOOKAHEAD_MINUTES": &c.ReminderLookaheadMinutes,
		"MAX_OCCURRENCES_PER_EVENT":  &c.MaxOccurrencesPerEvent,
		"MAX_WINDOW_DAYS":            &c.MaxWindowDays,
	}
	for name, dst := range intFields {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "config: %s%s", envPrefix, name)
		}
		*dst = n
	}

	if addr, ok := os.LookupEnv(envPrefix + "REDIS_ADDR"); ok {
		if c.ReminderQueue == nil {
			c.ReminderQueue = &ReminderQueueConfig{}
		}
		c.ReminderQueue.RedisAddr = addr
	}

	user, hasUser := os.LookupEnv(envPrefix + "BASIC_AUTH_USERNAME")
	pass, hasPass := os.LookupEnv(envPrefix + "BASIC_AUTH_PASSWORD")
	if hasUser || hasPass {
		if c.BasicAuth == nil {
			c.BasicAuth = &BasicAuthConfig{}
		}
		if hasUser {
			c.BasicAuth.Username = user
		}
		if hasPass {
			c.BasicAuth.Password = pass
		}
	}

	c.Normalize()
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, errors.Wrap(err, "config: read")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "config: create dir")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "config: encode")
	}

	tmp, err := os.CreateTemp(dir, configTempFilePattern)
	if err != nil {
		return errors.Wrap(err, "config: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "config: write")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "config: sync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "config: close")
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return errors.Wrap(err, "config: chmod")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "config: rename")
	}

	return nil
}

// Save is a convenience method on Config that delegates to the
// package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
