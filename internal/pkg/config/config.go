package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Tounesbet TounesbetConfig `yaml:"tounesbet"`
	Queue     QueueConfig     `yaml:"queue"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Statscore StatscoreConfig `yaml:"statscore"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Logging   LoggingConfig   `yaml:"logging"`
	Health    HealthConfig    `yaml:"health"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"` // empty disables the markets cache
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "memory"
}

type TounesbetConfig struct {
	BaseURL         string        `yaml:"base_url"`
	FallbackBaseURL string        `yaml:"fallback_base_url"` // tried when BaseURL fails at transport level
	Timeout         time.Duration `yaml:"timeout"`           // per attempt
	Attempts        int           `yaml:"attempts"`
	MaxHops         int           `yaml:"max_hops"`
	SessionMaxHops  int           `yaml:"session_max_hops"`
	UserAgent       string        `yaml:"user_agent"`
	MinDelay        time.Duration `yaml:"min_delay"` // between any two outbound requests
	SportID         string        `yaml:"sport_id"`
	BetRangeFilter  string        `yaml:"bet_range_filter"`
	BrowserFallback bool          `yaml:"browser_fallback"`
	ProxyList       []string      `yaml:"proxy_list"`
}

type QueueConfig struct {
	LeaseTTL         time.Duration `yaml:"lease_ttl"`
	CatalogHorizon   time.Duration `yaml:"catalog_horizon"`
	DiscoveryBatch   int           `yaml:"discovery_batch"`
	HourlyBatch      int           `yaml:"hourly_batch"`
	FullMarketsTTL   time.Duration `yaml:"full_markets_ttl"`
	CatalogSuccess   time.Duration `yaml:"catalog_success"`
	CatalogEmpty     time.Duration `yaml:"catalog_empty"`
	OddsRefresh      time.Duration `yaml:"odds_refresh"`
	DeepMarketsGames int           `yaml:"deep_markets_games"`
	DeepMarketsCap   int           `yaml:"deep_markets_cap"`
}

type SchedulerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	LiveSpec      string `yaml:"live_spec"`
	FastSpec      string `yaml:"fast_spec"`
	SweepSpec     string `yaml:"sweep_spec"`
	HourlySpec    string `yaml:"hourly_spec"`
	DiscoverySpec string `yaml:"discovery_spec"`
}

type StatscoreConfig struct {
	BaseURL     string        `yaml:"base_url"`
	WidgetGroup string        `yaml:"widget_group"`
	Timezone    string        `yaml:"timezone"`
	Timeout     time.Duration `yaml:"timeout"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`   // optional append-only log file
}

type HealthConfig struct {
	Port              string        `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	var c Config
	c.ApplyDefaults()
	return &c
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = time.Hour
	}

	t := &c.Tounesbet
	if t.BaseURL == "" {
		t.BaseURL = "https://tounesbet.com"
	}
	if t.FallbackBaseURL == "" {
		t.FallbackBaseURL = "http://tounesbet.com"
	}
	if t.Timeout <= 0 {
		t.Timeout = 10 * time.Second
	}
	if t.Attempts <= 0 {
		t.Attempts = 3
	}
	if t.MaxHops <= 0 {
		t.MaxHops = 5
	}
	if t.SessionMaxHops <= 0 {
		t.SessionMaxHops = 7
	}
	if t.MinDelay < 0 {
		t.MinDelay = 0
	}
	if t.SportID == "" {
		t.SportID = "1181"
	}
	if t.BetRangeFilter == "" {
		t.BetRangeFilter = "0"
	}

	q := &c.Queue
	if q.LeaseTTL <= 0 {
		q.LeaseTTL = 10 * time.Minute
	}
	if q.CatalogHorizon <= 0 {
		q.CatalogHorizon = 2 * time.Hour
	}
	if q.DiscoveryBatch <= 0 {
		q.DiscoveryBatch = 3
	}
	if q.HourlyBatch <= 0 {
		q.HourlyBatch = 12
	}
	if q.FullMarketsTTL <= 0 {
		q.FullMarketsTTL = time.Hour
	}
	if q.CatalogSuccess <= 0 {
		q.CatalogSuccess = 10 * time.Minute
	}
	if q.CatalogEmpty <= 0 {
		q.CatalogEmpty = 6 * time.Hour
	}
	if q.OddsRefresh <= 0 {
		q.OddsRefresh = time.Hour
	}
	if q.DeepMarketsGames <= 0 {
		q.DeepMarketsGames = 12
	}
	if q.DeepMarketsCap <= 0 {
		q.DeepMarketsCap = 60
	}

	s := &c.Scheduler
	if s.LiveSpec == "" {
		s.LiveSpec = "@every 1m"
	}
	if s.FastSpec == "" {
		s.FastSpec = "@every 1m"
	}
	if s.SweepSpec == "" {
		s.SweepSpec = "*/5 * * * *"
	}
	if s.HourlySpec == "" {
		s.HourlySpec = "0 * * * *"
	}
	if s.DiscoverySpec == "" {
		s.DiscoverySpec = "5 */6 * * *"
	}

	if c.Statscore.BaseURL == "" {
		c.Statscore.BaseURL = "https://widgets.statscore.com"
	}
	if c.Statscore.WidgetGroup == "" {
		c.Statscore.WidgetGroup = "65c592e745164675a446d35b"
	}
	if c.Statscore.Timezone == "" {
		c.Statscore.Timezone = "0"
	}
	if c.Statscore.Timeout <= 0 {
		c.Statscore.Timeout = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Health.Port == "" {
		c.Health.Port = "8080"
	}
	if c.Health.ReadHeaderTimeout <= 0 {
		c.Health.ReadHeaderTimeout = 5 * time.Second
	}
}
