package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"skinarb/internal/errs"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, "data", cfg.Settings.DataDir)
	require.Equal(t, "adaptive", cfg.Settings.Cache.Policy)
	require.Equal(t, "complete", cfg.Settings.Arbitrage.Mode)
	require.Equal(t, 8, cfg.Settings.Runtime.MaxConcurrent)
	require.False(t, cfg.Settings.Proxy.Enabled)
}

func TestLoadSettingsFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "settings.json", `{
		"data_dir": "/tmp/custom",
		"arbitrage": {"mode": "fast", "min_profit_ratio": 0.1, "min_price": 2.0, "max_results": 50, "interval_seconds": 60}
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom", cfg.Settings.DataDir)
	require.Equal(t, "fast", cfg.Settings.Arbitrage.Mode)
	require.Equal(t, 50, cfg.Settings.Arbitrage.MaxResults)
	// Untouched sections keep their defaults.
	require.Equal(t, 1000, cfg.Settings.Cache.MaxEntries)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "settings.json", `{not json`)

	_, err := Load(dir)
	var cerr *errs.ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestSourceFallbacks(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "scrapers.json", `{
		"skinport": {"enabled": true, "rate_limit_rps": 0.5, "burst": 1},
		"waxpeer": {"enabled": false}
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	sp := cfg.Source("skinport")
	require.Equal(t, 0.5, sp.RateLimitRPS)
	require.Equal(t, 1, sp.Burst)
	// Unset fields come from the built-in default.
	require.Equal(t, 120, sp.IntervalSecs)
	require.Equal(t, 3, sp.MaxRetries)
	require.Equal(t, 5*time.Minute, sp.CacheTTL())

	require.False(t, cfg.Source("waxpeer").Enabled)

	// Unknown tags get the full default block.
	unknown := cfg.Source("nosuch")
	require.True(t, unknown.Enabled)
	require.Equal(t, 100, unknown.ItemsPerPage)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BOT_USE_PROXY", "true")
	t.Setenv("BOT_LOG_LEVEL", "DEBUG")
	t.Setenv("BOT_CACHE_ENABLED", "false")
	t.Setenv("BOT_DATA_DIR", "/tmp/override")
	t.Setenv("BOT_METRICS_PORT", "9999")
	t.Setenv("OCULUS_AUTH_TOKEN", "a")
	t.Setenv("OCULUS_ORDER_TOKEN", "b")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.True(t, cfg.Settings.Proxy.Enabled)
	require.Equal(t, "debug", cfg.Settings.Logging.Level)
	require.False(t, cfg.Settings.Cache.Enabled)
	require.Equal(t, "/tmp/override", cfg.Settings.DataDir)
	require.Equal(t, 9999, cfg.Settings.Metrics.Port)
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("BOT_API_KEY_WAXPEER", "wax-secret")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "wax-secret", cfg.APIKey("waxpeer"))
	require.Empty(t, cfg.APIKey("skinport"))
}

func TestProviderCredentials(t *testing.T) {
	t.Setenv("OCULUS_AUTH_TOKEN", "auth")
	t.Setenv("OCULUS_ORDER_TOKEN", "order")
	t.Setenv("OCULUS_WHITELIST_IP", "1.1.1.1,2.2.2.2")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	creds, err := cfg.ProviderCredentials()
	require.NoError(t, err)
	require.Equal(t, "auth", creds.AuthToken)
	require.Equal(t, []string{"1.1.1.1", "2.2.2.2"}, creds.WhitelistIP)
}

func TestProviderCredentialsRequiredWhenProxied(t *testing.T) {
	t.Setenv("BOT_USE_PROXY", "true")
	t.Setenv("OCULUS_AUTH_TOKEN", "")
	t.Setenv("OCULUS_ORDER_TOKEN", "")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	_, err = cfg.ProviderCredentials()
	var cerr *errs.ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestSecretsInFilesAreIgnored(t *testing.T) {
	dir := t.TempDir()
	// Secret-looking keys in files are warned about and never read.
	writeConfig(t, dir, "scrapers.json", `{
		"waxpeer": {"enabled": true, "api_key": "should-be-ignored"}
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Empty(t, cfg.APIKey("waxpeer"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad policy": `{"cache": {"policy": "random"}}`,
		"bad mode":   `{"arbitrage": {"mode": "turbo"}}`,
		"bad port":   `{"metrics": {"port": 99999}}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, "settings.json", content)
			_, err := Load(dir)
			var cerr *errs.ConfigError
			require.ErrorAs(t, err, &cerr)
		})
	}
}
