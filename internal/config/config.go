package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"skinarb/internal/errs"
)

// Config holds all application configuration. Non-secret values come from
// config/settings.json and config/scrapers.json; secrets come from the
// environment only.
type Config struct {
	Settings Settings                `json:"settings"`
	Sources  map[string]SourceConfig `json:"sources"`

	configDir string
}

// Settings holds process-wide configuration.
type Settings struct {
	DataDir   string            `json:"data_dir"`
	CacheDir  string            `json:"cache_dir"`
	Proxy     ProxySettings     `json:"proxy"`
	Cache     CacheSettings     `json:"cache"`
	Runtime   RuntimeSettings   `json:"runtime"`
	Arbitrage ArbitrageSettings `json:"arbitrage"`
	Metrics   MetricsSettings   `json:"metrics"`
	Logging   LoggingSettings   `json:"logging"`
}

// ProxySettings holds proxy pool configuration.
type ProxySettings struct {
	Enabled           bool   `json:"enabled"`
	PoolCount         int    `json:"pool_count"`
	ProxiesPerPool    int    `json:"proxies_per_pool"`
	RotationThreshold int    `json:"rotation_threshold"`
	ProxyFile         string `json:"proxy_file"`
}

// CacheSettings holds the two-tier cache configuration.
type CacheSettings struct {
	Enabled              bool   `json:"enabled"`
	DiskEnabled          bool   `json:"disk_enabled"`
	MaxEntries           int    `json:"max_entries"`
	MaxBytes             int64  `json:"max_bytes"`
	DefaultTTLSecs       int    `json:"default_ttl_seconds"`
	Policy               string `json:"policy"`
	CompressionThreshold int    `json:"compression_threshold"`
}

// DefaultTTL returns the configured default TTL as a duration.
func (c CacheSettings) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSecs) * time.Second
}

// RuntimeSettings holds scraper runtime configuration.
type RuntimeSettings struct {
	MaxConcurrent     int `json:"max_concurrent"`
	ShutdownGraceSecs int `json:"shutdown_grace_seconds"`
}

// ShutdownGrace returns the shutdown grace period as a duration.
func (r RuntimeSettings) ShutdownGrace() time.Duration {
	return time.Duration(r.ShutdownGraceSecs) * time.Second
}

// ArbitrageSettings holds arbitrage engine configuration.
type ArbitrageSettings struct {
	Mode         string  `json:"mode"`
	MinRatio     float64 `json:"min_profit_ratio"`
	MinPrice     float64 `json:"min_price"`
	MaxResults   int     `json:"max_results"`
	IntervalSecs int     `json:"interval_seconds"`
}

// Interval returns the engine rerun interval for forever mode.
func (a ArbitrageSettings) Interval() time.Duration {
	return time.Duration(a.IntervalSecs) * time.Second
}

// MetricsSettings holds Prometheus metrics settings.
type MetricsSettings struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// LoggingSettings holds logging settings.
type LoggingSettings struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// SourceConfig holds per-marketplace adapter configuration.
type SourceConfig struct {
	Enabled        bool    `json:"enabled"`
	IntervalSecs   int     `json:"interval_seconds"`
	RateLimitRPS   float64 `json:"rate_limit_rps"`
	Burst          int     `json:"burst"`
	TimeoutSecs    int     `json:"timeout_seconds"`
	MaxRetries     int     `json:"max_retries"`
	MaxConcurrent  int     `json:"max_concurrent"`
	ItemsPerPage   int     `json:"items_per_page"`
	MaxPages       int     `json:"max_pages"`
	EmptyPageLimit int     `json:"empty_page_limit"`
	CacheTTLSecs   int     `json:"cache_ttl_seconds"`

	// Unit-conversion knobs for sources that do not price in USD directly.
	CoinRate  float64 `json:"coin_rate,omitempty"`
	BonusRate float64 `json:"bonus_rate,omitempty"`
}

// Interval returns the rerun interval for forever mode.
func (s SourceConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSecs) * time.Second
}

// Timeout returns the per-request timeout.
func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// CacheTTL returns how long this source's responses stay cached.
func (s SourceConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSecs) * time.Second
}

// ProviderCredentials are the upstream proxy-provider secrets, accepted from
// the environment only.
type ProviderCredentials struct {
	AuthToken   string
	OrderToken  string
	WhitelistIP []string
}

// secretKeys are config keys that must never appear in on-disk files.
var secretKeys = []string{"api_key", "apikey", "auth_token", "order_token", "password", "secret"}

// Load reads configuration from dir, applies environment overrides and
// validates the result. Missing files fall back to built-in defaults.
func Load(dir string) (*Config, error) {
	cfg := &Config{configDir: dir}
	cfg.setDefaults()

	if err := cfg.loadFile(filepath.Join(dir, "settings.json"), &cfg.Settings); err != nil {
		return nil, err
	}
	if err := cfg.loadFile(filepath.Join(dir, "scrapers.json"), &cfg.Sources); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile unmarshals one JSON config file into dst. Absent files are fine;
// malformed files are fatal. Secret-looking keys are flagged and ignored.
func (c *Config) loadFile(path string, dst any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &errs.ConfigError{Field: path, Msg: err.Error()}
	}

	flagSecretKeys(path, data)

	if err := json.Unmarshal(data, dst); err != nil {
		return &errs.ConfigError{Field: path, Msg: "malformed JSON: " + err.Error()}
	}
	return nil
}

// flagSecretKeys warns about secret material stored on disk. The values are
// never read; secrets are accepted from the environment only.
func flagSecretKeys(path string, data []byte) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return
	}
	warn := func(key string) {
		log.Warn().
			Str("file", path).
			Str("key", key).
			Msg("Secret found in config file; ignored. Move it to an environment variable")
	}
	for key, val := range raw {
		if isSecretKey(key) {
			warn(key)
		}
		// One level down covers per-source blocks in scrapers.json.
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(val, &nested); err != nil {
			continue
		}
		for nkey := range nested {
			if isSecretKey(nkey) {
				warn(key + "." + nkey)
			}
		}
	}
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range secretKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func (c *Config) setDefaults() {
	c.Settings = Settings{
		DataDir:  "data",
		CacheDir: "cache",
		Proxy: ProxySettings{
			Enabled:           false,
			PoolCount:         3,
			ProxiesPerPool:    1000,
			RotationThreshold: 4,
		},
		Cache: CacheSettings{
			Enabled:              true,
			DiskEnabled:          true,
			MaxEntries:           1000,
			MaxBytes:             100 * 1024 * 1024,
			DefaultTTLSecs:       300,
			Policy:               "adaptive",
			CompressionThreshold: 10 * 1024,
		},
		Runtime: RuntimeSettings{
			MaxConcurrent:     8,
			ShutdownGraceSecs: 30,
		},
		Arbitrage: ArbitrageSettings{
			Mode:         "complete",
			MinRatio:     0.05,
			MinPrice:     1.0,
			MaxResults:   100,
			IntervalSecs: 300,
		},
		Metrics: MetricsSettings{
			Enabled: true,
			Port:    8080,
			Path:    "/metrics",
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "json",
		},
	}
	c.Sources = map[string]SourceConfig{}
}

// defaultSource is the fallback for sources absent from scrapers.json.
var defaultSource = SourceConfig{
	Enabled:        true,
	IntervalSecs:   120,
	RateLimitRPS:   2,
	Burst:          5,
	TimeoutSecs:    30,
	MaxRetries:     3,
	MaxConcurrent:  1,
	ItemsPerPage:   100,
	MaxPages:       50,
	EmptyPageLimit: 3,
	CacheTTLSecs:   300,
}

// Source returns the configuration for one source tag, filling unset fields
// from the built-in defaults.
func (c *Config) Source(tag string) SourceConfig {
	sc, ok := c.Sources[tag]
	if !ok {
		return defaultSource
	}
	if sc.IntervalSecs <= 0 {
		sc.IntervalSecs = defaultSource.IntervalSecs
	}
	if sc.RateLimitRPS <= 0 {
		sc.RateLimitRPS = defaultSource.RateLimitRPS
	}
	if sc.Burst <= 0 {
		sc.Burst = defaultSource.Burst
	}
	if sc.TimeoutSecs <= 0 {
		sc.TimeoutSecs = defaultSource.TimeoutSecs
	}
	if sc.MaxRetries <= 0 {
		sc.MaxRetries = defaultSource.MaxRetries
	}
	if sc.MaxConcurrent <= 0 {
		sc.MaxConcurrent = defaultSource.MaxConcurrent
	}
	if sc.ItemsPerPage <= 0 {
		sc.ItemsPerPage = defaultSource.ItemsPerPage
	}
	if sc.MaxPages <= 0 {
		sc.MaxPages = defaultSource.MaxPages
	}
	if sc.EmptyPageLimit <= 0 {
		sc.EmptyPageLimit = defaultSource.EmptyPageLimit
	}
	if sc.CacheTTLSecs <= 0 {
		sc.CacheTTLSecs = defaultSource.CacheTTLSecs
	}
	return sc
}

// APIKey returns the per-source API key from BOT_API_KEY_<SOURCE>, or "".
func (c *Config) APIKey(source string) string {
	return os.Getenv("BOT_API_KEY_" + strings.ToUpper(source))
}

// ProviderCredentials returns the upstream proxy-provider secrets from the
// environment. Returns a ConfigError when proxies are enabled but the
// tokens are missing.
func (c *Config) ProviderCredentials() (ProviderCredentials, error) {
	creds := ProviderCredentials{
		AuthToken:  os.Getenv("OCULUS_AUTH_TOKEN"),
		OrderToken: os.Getenv("OCULUS_ORDER_TOKEN"),
	}
	if v := os.Getenv("OCULUS_WHITELIST_IP"); v != "" {
		creds.WhitelistIP = strings.Split(v, ",")
	}
	if c.Settings.Proxy.Enabled && c.Settings.Proxy.ProxyFile == "" {
		if creds.AuthToken == "" || creds.OrderToken == "" {
			return creds, &errs.ConfigError{
				Field: "proxy",
				Msg:   "proxies enabled but OCULUS_AUTH_TOKEN / OCULUS_ORDER_TOKEN are not set",
			}
		}
	}
	return creds, nil
}

// applyEnvOverrides applies environment variable overrides to configuration.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BOT_USE_PROXY"); v != "" {
		c.Settings.Proxy.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("BOT_LOG_LEVEL"); v != "" {
		c.Settings.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("BOT_CACHE_ENABLED"); v != "" {
		c.Settings.Cache.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("BOT_DATA_DIR"); v != "" {
		c.Settings.DataDir = v
	}
	if v := os.Getenv("BOT_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Settings.Metrics.Port = port
		}
	}
}

// validate checks that all required configuration values are present and valid.
func (c *Config) validate() error {
	if c.Settings.DataDir == "" {
		return &errs.ConfigError{Field: "data_dir", Msg: "must not be empty"}
	}
	if c.Settings.Runtime.MaxConcurrent <= 0 {
		return &errs.ConfigError{Field: "runtime.max_concurrent", Msg: "must be positive"}
	}
	if c.Settings.Proxy.PoolCount <= 0 {
		return &errs.ConfigError{Field: "proxy.pool_count", Msg: "must be positive"}
	}
	if c.Settings.Cache.MaxEntries <= 0 || c.Settings.Cache.MaxBytes <= 0 {
		return &errs.ConfigError{Field: "cache", Msg: "max_entries and max_bytes must be positive"}
	}
	switch c.Settings.Cache.Policy {
	case "lru", "lfu", "ttl", "adaptive":
	default:
		return &errs.ConfigError{Field: "cache.policy", Msg: "must be one of lru, lfu, ttl, adaptive"}
	}
	if c.Settings.Arbitrage.MaxResults <= 0 {
		return &errs.ConfigError{Field: "arbitrage.max_results", Msg: "must be positive"}
	}
	if c.Settings.Arbitrage.Mode != "complete" && c.Settings.Arbitrage.Mode != "fast" {
		return &errs.ConfigError{Field: "arbitrage.mode", Msg: "must be complete or fast"}
	}
	if c.Settings.Metrics.Port <= 0 || c.Settings.Metrics.Port > 65535 {
		return &errs.ConfigError{Field: "metrics.port", Msg: "must be a valid port number"}
	}
	return nil
}
