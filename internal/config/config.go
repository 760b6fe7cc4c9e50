package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/newthinker/keywatch/internal/core"
	"github.com/newthinker/keywatch/internal/fetchcache"
	"github.com/newthinker/keywatch/internal/notifier"
	"github.com/spf13/viper"
)

type Config struct {
	Log        LogConfig                  `mapstructure:"log"`
	Cache      CacheConfig                `mapstructure:"cache"`
	Collectors map[string]CollectorConfig `mapstructure:"collectors"`
	Archive    ArchiveConfig              `mapstructure:"archive"`
	Server     ServerConfig               `mapstructure:"server"`
	Metrics    MetricsConfig              `mapstructure:"metrics"`
	Schedule   ScheduleConfig             `mapstructure:"schedule"`
	Notifiers  []notifier.Config          `mapstructure:"notifiers"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // "json" or "console"
}

// CacheConfig locates the sample store.
type CacheConfig struct {
	Path string `mapstructure:"path"` // sqlite file, or ":memory:"
}

// CollectorConfig holds one source's connection and grid settings.
// Durations accept Go syntax ("48h", "90s").
type CollectorConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`

	SampleInterval     time.Duration `mapstructure:"sample_interval"`
	OverlapInterval    time.Duration `mapstructure:"overlap_interval"`
	MinRequestInterval time.Duration `mapstructure:"min_request_interval"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	MaxRetries         *int          `mapstructure:"max_retries"`

	// Trend source fields
	Category string `mapstructure:"category"`
	Geo      string `mapstructure:"geo"`
	// Comment source fields
	Subreddit string `mapstructure:"subreddit"`
	PageSize  int    `mapstructure:"page_size"`
	// Exchange source fields
	Quote      string   `mapstructure:"quote"`
	Providers  []string `mapstructure:"providers"`
	Resolution string   `mapstructure:"resolution"`
}

// Settings overlays the non-zero fields of c onto defaults.
func (c CollectorConfig) Settings(defaults fetchcache.Settings) fetchcache.Settings {
	s := defaults
	if c.SampleInterval > 0 {
		s.SampleInterval = c.SampleInterval
	}
	if c.OverlapInterval > 0 {
		s.OverlapInterval = c.OverlapInterval
	}
	if c.MinRequestInterval > 0 {
		s.MinRequestInterval = c.MinRequestInterval
	}
	if c.Cooldown > 0 {
		s.Cooldown = c.Cooldown
	}
	if c.MaxRetries != nil {
		s.MaxRetries = *c.MaxRetries
	}
	return s
}

type ArchiveConfig struct {
	Type string   `mapstructure:"type"` // "localfs" or "s3"
	Path string   `mapstructure:"path"` // For localfs
	S3   S3Config `mapstructure:"s3"`   // For S3
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ScheduleConfig drives the periodic watchlist refresh in serve mode.
type ScheduleConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Cron      string        `mapstructure:"cron"`
	Lookback  time.Duration `mapstructure:"lookback"`
	Watchlist []string      `mapstructure:"watchlist"`
}

// Load reads configuration from file
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.SetEnvPrefix("KEYWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("reading config: %w", err))
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unmarshaling config: %w", err))
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.encoding", d.Log.Encoding)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("archive.type", d.Archive.Type)
	v.SetDefault("archive.path", d.Archive.Path)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("schedule.cron", d.Schedule.Cron)
	v.SetDefault("schedule.lookback", d.Schedule.Lookback)
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Cache: CacheConfig{
			Path: "keywatch.sqlite",
		},
		Collectors: map[string]CollectorConfig{},
		Archive: ArchiveConfig{
			Type: "localfs",
			Path: "archive",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Schedule: ScheduleConfig{
			Cron:     "0 0 * * * *",
			Lookback: 7 * 24 * time.Hour,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Cache.Path == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("cache.path is required"))
	}

	for name, cc := range c.Collectors {
		if !cc.Enabled {
			continue
		}
		if cc.SampleInterval < 0 || cc.OverlapInterval < 0 || cc.MinRequestInterval < 0 || cc.Cooldown < 0 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("collector %s: intervals cannot be negative", name))
		}
		if cc.MaxRetries != nil && *cc.MaxRetries < 0 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("collector %s: max_retries cannot be negative, got %d", name, *cc.MaxRetries))
		}
	}

	switch c.Archive.Type {
	case "", "localfs":
		if c.Archive.Path == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("archive.path required for localfs"))
		}
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("archive.s3.bucket required for s3"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("archive.type must be localfs or s3, got %q", c.Archive.Type))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("port must be between 1 and 65535, got %d", c.Server.Port))
	}

	if c.Schedule.Enabled {
		if c.Schedule.Cron == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("schedule.cron required when schedule is enabled"))
		}
		if c.Schedule.Lookback <= 0 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("schedule.lookback must be positive, got %s", c.Schedule.Lookback))
		}
	}

	for i, n := range c.Notifiers {
		switch n.Type {
		case "webhook", "telegram":
		default:
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("notifiers[%d]: type must be webhook or telegram, got %q", i, n.Type))
		}
	}

	return nil
}

// EnabledCollectors returns the names of enabled collectors.
func (c *Config) EnabledCollectors() []string {
	var names []string
	for name, cc := range c.Collectors {
		if cc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
