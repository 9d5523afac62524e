// Package config loads and validates runtime configuration from a YAML file
// and PAPERHARVEST_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/paperharvest/paperharvest/internal/paper"
)

// Config is the root configuration document.
type Config struct {
	Mode       string                 `mapstructure:"mode"`
	Modes      map[string]ModeProfile `mapstructure:"modes"`
	Supervisor SupervisorConfig       `mapstructure:"supervisor"`
	Database   DatabaseConfig         `mapstructure:"database"`
	Query      QueryConfig            `mapstructure:"query"`
	Sources    SourcesConfig          `mapstructure:"sources"`
	Cloud      CloudConfig            `mapstructure:"cloud"`
	PubSub     PubSubConfig           `mapstructure:"pubsub"`
	Server     ServerConfig           `mapstructure:"server"`
	Logging    LoggingConfig          `mapstructure:"logging"`
}

// ModeProfile tunes one run mode.
type ModeProfile struct {
	// PerSourceLimit caps accepted papers per source; 0 means unlimited.
	PerSourceLimit int `mapstructure:"per_source_limit"`
	// BatchSize bounds candidates per fetch.
	BatchSize int `mapstructure:"batch_size"`
	// EnforceDateFloor applies the run's start date as a publication floor.
	EnforceDateFloor bool `mapstructure:"enforce_date_floor"`
}

// SupervisorConfig tunes worker supervision.
type SupervisorConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	WorkerTimeout     time.Duration `mapstructure:"worker_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	CancelGrace       time.Duration `mapstructure:"cancel_grace"`
}

// DatabaseConfig selects the record store backend.
type DatabaseConfig struct {
	// DSN is the PostgreSQL connection string. Empty DSN with UseMemory
	// false is a validation error.
	DSN string `mapstructure:"dsn"`
	// UseMemory runs against the in-process store (TESTING runs, CI).
	UseMemory bool `mapstructure:"use_memory"`
}

// QueryConfig carries the boolean query and plain exclusion terms.
type QueryConfig struct {
	// Text is the boolean query; see internal/query for the grammar.
	Text string `mapstructure:"text"`
	// Exclusions are plain-text terms rejected outside the query.
	Exclusions []string `mapstructure:"exclusions"`
}

// SourcesConfig enables and tunes the discovery collaborators.
type SourcesConfig struct {
	Arxiv     ArxivConfig     `mapstructure:"arxiv"`
	LabScrape LabScrapeConfig `mapstructure:"labscrape"`
}

// ArxivConfig tunes the arXiv API source.
type ArxivConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BaseURL     string `mapstructure:"base_url"`
	PageSize    int    `mapstructure:"page_size"`
	DownloadDir string `mapstructure:"download_dir"`
	UserAgent   string `mapstructure:"user_agent"`
}

// LabScrapeConfig tunes the lab-blog scraper.
type LabScrapeConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Seeds       []string `mapstructure:"seeds"`
	Headless    bool     `mapstructure:"headless"`
	DownloadDir string   `mapstructure:"download_dir"`
	UserAgent   string   `mapstructure:"user_agent"`
}

// CloudConfig tunes the artifact uploader.
type CloudConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Parallel int    `mapstructure:"parallel"`
}

// PubSubConfig tunes outcome notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig tunes the status API.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig tunes the zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from the optional file path, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PAPERHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(paper.ModeTesting))

	v.SetDefault("modes.TESTING.per_source_limit", 10)
	v.SetDefault("modes.TESTING.batch_size", 5)
	v.SetDefault("modes.TESTING.enforce_date_floor", false)
	v.SetDefault("modes.DAILY.per_source_limit", 50)
	v.SetDefault("modes.DAILY.batch_size", 20)
	v.SetDefault("modes.DAILY.enforce_date_floor", true)
	v.SetDefault("modes.BACKFILL.per_source_limit", 0)
	v.SetDefault("modes.BACKFILL.batch_size", 10)
	v.SetDefault("modes.BACKFILL.enforce_date_floor", true)

	v.SetDefault("supervisor.heartbeat_interval", "100ms")
	v.SetDefault("supervisor.worker_timeout", "600s")
	v.SetDefault("supervisor.max_retries", 5)
	v.SetDefault("supervisor.retry_delay", "2s")
	v.SetDefault("supervisor.cancel_grace", "5s")

	v.SetDefault("database.use_memory", false)

	v.SetDefault("sources.arxiv.enabled", true)
	v.SetDefault("sources.arxiv.page_size", 100)
	v.SetDefault("sources.arxiv.download_dir", "downloads/arxiv")
	v.SetDefault("sources.labscrape.enabled", false)
	v.SetDefault("sources.labscrape.headless", true)
	v.SetDefault("sources.labscrape.download_dir", "downloads/labscrape")

	v.SetDefault("cloud.enabled", false)
	v.SetDefault("cloud.prefix", "papers")
	v.SetDefault("cloud.parallel", 4)

	v.SetDefault("pubsub.enabled", false)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Validate checks cross-field consistency and normalizes the mode name.
func (c *Config) Validate() error {
	c.Mode = strings.ToUpper(strings.TrimSpace(c.Mode))
	if _, err := c.Profile(); err != nil {
		return err
	}
	switch paper.Mode(c.Mode) {
	case paper.ModeTesting, paper.ModeDaily, paper.ModeBackfill:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if !c.Database.UseMemory && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required unless database.use_memory is set")
	}
	if strings.TrimSpace(c.Query.Text) == "" {
		return fmt.Errorf("query.text is required")
	}
	if c.Sources.LabScrape.Enabled && len(c.Sources.LabScrape.Seeds) == 0 {
		return fmt.Errorf("sources.labscrape.seeds is required when labscrape is enabled")
	}
	if c.Cloud.Enabled && c.Cloud.Bucket == "" {
		return fmt.Errorf("cloud.bucket is required when cloud sync is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic are required when pubsub is enabled")
	}
	if c.Supervisor.MaxRetries < 1 {
		return fmt.Errorf("supervisor.max_retries must be >= 1")
	}
	return nil
}

// Profile returns the mode profile for the configured mode. Lookup is
// case-insensitive because viper lowercases map keys.
func (c *Config) Profile() (ModeProfile, error) {
	profile, ok := c.Modes[c.Mode]
	if !ok {
		profile, ok = c.Modes[strings.ToLower(c.Mode)]
	}
	if !ok {
		return ModeProfile{}, fmt.Errorf("no profile defined for mode %q", c.Mode)
	}
	if profile.BatchSize <= 0 {
		return ModeProfile{}, fmt.Errorf("mode %q: batch_size must be > 0", c.Mode)
	}
	if profile.PerSourceLimit < 0 {
		return ModeProfile{}, fmt.Errorf("mode %q: per_source_limit must be >= 0", c.Mode)
	}
	return profile, nil
}
