// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // windows.timezone must resolve on hosts without zoneinfo

	"github.com/spf13/viper"
)

// Discovery modes for crawler.discovery.
const (
	DiscoveryBrowser = "browser"
	DiscoveryHTTP    = "http"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Site       SiteConfig       `mapstructure:"site"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Windows    WindowsConfig    `mapstructure:"windows"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Numeric    NumericConfig    `mapstructure:"numeric"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SiteConfig points at the exchange history page and its form controls.
type SiteConfig struct {
	ListingURL      string `mapstructure:"listing_url"`
	EntitySelector  string `mapstructure:"entity_selector"`
	FromSelector    string `mapstructure:"from_selector"`
	ToSelector      string `mapstructure:"to_selector"`
	SubmitSelector  string `mapstructure:"submit_selector"`
	ResultsSelector string `mapstructure:"results_selector"`
	RowSelector     string `mapstructure:"row_selector"`
}

// CrawlerConfig governs the worker pool and the retrying fetch step.
type CrawlerConfig struct {
	Concurrency        int           `mapstructure:"concurrency"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	InteractionTimeout time.Duration `mapstructure:"interaction_timeout"`
	SearchQPS          float64       `mapstructure:"search_qps"`
	Discovery          string        `mapstructure:"discovery"`
	UserAgent          string        `mapstructure:"user_agent"`
	Entities           []string      `mapstructure:"entities"`
}

// WindowsConfig fixes the backfill and fallback date anchors.
type WindowsConfig struct {
	BackfillStartYear int    `mapstructure:"backfill_start_year"`
	BackfillYears     int    `mapstructure:"backfill_years"`
	FromMonth         int    `mapstructure:"from_month"`
	FromDay           int    `mapstructure:"from_day"`
	ToMonth           int    `mapstructure:"to_month"`
	ToDay             int    `mapstructure:"to_day"`
	FallbackYears     int    `mapstructure:"fallback_years"`
	DateLayout        string `mapstructure:"date_layout"`
	Timezone          string `mapstructure:"timezone"`
}

// CheckpointConfig locates the output/checkpoint CSV.
type CheckpointConfig struct {
	Path string `mapstructure:"path"`
}

// HeadlessConfig configures the chromedp browser.
type HeadlessConfig struct {
	NavTimeout time.Duration `mapstructure:"nav_timeout"`
}

// NumericConfig toggles cell normalization.
type NumericConfig struct {
	Normalize bool `mapstructure:"normalize"`
}

// StorageConfig enables the optional GCS artifact upload.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig enables the optional Postgres export.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// ServerConfig controls the status server; an empty address disables it.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HISTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Crawler.Entities = splitList(cfg.Crawler.Entities)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.listing_url", "https://www.mse.mk/en/stats/symbolhistory/alk")
	v.SetDefault("site.entity_selector", "#Code")
	v.SetDefault("site.from_selector", "#FromDate")
	v.SetDefault("site.to_selector", "#ToDate")
	v.SetDefault("site.submit_selector", "#report-filter-container > ul > li:nth-child(4) > input")
	v.SetDefault("site.results_selector", "#resultsTable")
	v.SetDefault("site.row_selector", "#resultsTable > tbody > tr")
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.retry_delay", 3*time.Second)
	v.SetDefault("crawler.interaction_timeout", 10*time.Second)
	v.SetDefault("crawler.search_qps", 1.0)
	v.SetDefault("crawler.discovery", DiscoveryBrowser)
	v.SetDefault("crawler.user_agent", "mse-history-crawler/0.1")
	v.SetDefault("crawler.entities", []string{})
	v.SetDefault("windows.backfill_start_year", 2014)
	v.SetDefault("windows.backfill_years", 10)
	v.SetDefault("windows.from_month", 10)
	v.SetDefault("windows.from_day", 9)
	v.SetDefault("windows.to_month", 8)
	v.SetDefault("windows.to_day", 9)
	v.SetDefault("windows.fallback_years", 10)
	v.SetDefault("windows.date_layout", "1/2/2006")
	v.SetDefault("windows.timezone", "Europe/Skopje")
	v.SetDefault("checkpoint.path", "scraped_data.csv")
	v.SetDefault("headless.nav_timeout", 45*time.Second)
	v.SetDefault("numeric.normalize", true)
	v.SetDefault("db.table", "observations")
	v.SetDefault("storage.prefix", "history")
	v.SetDefault("server.listen_addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// splitList accepts both YAML lists and a comma-separated env value.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Location resolves windows.timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Windows.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Windows.Timezone, err)
	}
	return loc, nil
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Site.ListingURL) == "" {
		return fmt.Errorf("site.listing_url is required")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be > 0")
	}
	if c.Crawler.RetryDelay < 0 {
		return fmt.Errorf("crawler.retry_delay must be >= 0")
	}
	if c.Crawler.InteractionTimeout <= 0 {
		return fmt.Errorf("crawler.interaction_timeout must be > 0")
	}
	if c.Crawler.SearchQPS < 0 {
		return fmt.Errorf("crawler.search_qps must be >= 0")
	}
	switch c.Crawler.Discovery {
	case DiscoveryBrowser, DiscoveryHTTP:
	default:
		return fmt.Errorf("crawler.discovery must be %q or %q", DiscoveryBrowser, DiscoveryHTTP)
	}
	if c.Windows.BackfillYears < 0 || c.Windows.FallbackYears < 0 {
		return fmt.Errorf("windows.backfill_years and windows.fallback_years must be >= 0")
	}
	if c.Windows.FromMonth < 1 || c.Windows.FromMonth > 12 || c.Windows.ToMonth < 1 || c.Windows.ToMonth > 12 {
		return fmt.Errorf("windows.from_month and windows.to_month must be 1-12")
	}
	if strings.TrimSpace(c.Checkpoint.Path) == "" {
		return fmt.Errorf("checkpoint.path is required")
	}
	if c.Headless.NavTimeout <= 0 {
		return fmt.Errorf("headless.nav_timeout must be > 0")
	}
	if c.DB.DSN != "" && strings.TrimSpace(c.DB.Table) == "" {
		return fmt.Errorf("db.table is required when db.dsn is set")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("windows.timezone: %w", err)
	}
	return nil
}
