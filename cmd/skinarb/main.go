package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"skinarb/internal/arbitrage"
	"skinarb/internal/cache"
	"skinarb/internal/catalog"
	"skinarb/internal/config"
	"skinarb/internal/httpclient"
	"skinarb/internal/metrics"
	"skinarb/internal/models"
	"skinarb/internal/proxy"
	"skinarb/internal/ratelimit"
	"skinarb/internal/scraper"
	"skinarb/internal/scraper/sources"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configDir := flag.String("config", "config", "Path to the configuration directory")
	mode := flag.String("mode", "once", "Run mode: once or forever")
	sourceList := flag.String("sources", "", "Comma-separated source tags to run (default: all enabled)")
	runArbitrage := flag.Bool("arbitrage", true, "Run the arbitrage engine after scraping")
	listSources := flag.Bool("list", false, "List supported sources and exit")
	flag.Parse()

	if *listSources {
		tags := sources.Tags()
		sort.Strings(tags)
		for _, tag := range tags {
			fmt.Println(tag)
		}
		return
	}

	if err := godotenv.Load(); err != nil {
		// .env file is optional
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg.Settings.Logging)
	log.Info().Str("mode", *mode).Msg("Starting skinarb price aggregator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg, *mode, *sourceList, *runArbitrage); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("Application error")
	}

	log.Info().Msg("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, mode, sourceList string, runArbitrage bool) error {
	m := metrics.New()
	if cfg.Settings.Metrics.Enabled {
		if err := m.StartServer(cfg.Settings.Metrics.Port, cfg.Settings.Metrics.Path); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.Shutdown(shutdownCtx)
		}()
		log.Info().Int("port", cfg.Settings.Metrics.Port).Msg("Metrics server started")
	}

	store, err := catalog.NewStore(cfg.Settings.DataDir)
	if err != nil {
		return err
	}
	log.Info().Str("dir", store.Dir()).Msg("Catalog store ready")

	var pool *proxy.Pool
	if cfg.Settings.Proxy.Enabled {
		provider, err := buildProvider(cfg)
		if err != nil {
			return err
		}
		pool, err = proxy.New(ctx, proxy.Config{
			PoolCount:         cfg.Settings.Proxy.PoolCount,
			ProxiesPerPool:    cfg.Settings.Proxy.ProxiesPerPool,
			RotationThreshold: cfg.Settings.Proxy.RotationThreshold,
		}, provider, m)
		if err != nil {
			return err
		}
		defer pool.Close()
		log.Info().Strs("regions", pool.Regions()).Msg("Proxy pools loaded")
	}

	limiter := ratelimit.New(func(source string) (float64, int) {
		sc := cfg.Source(source)
		return sc.RateLimitRPS, sc.Burst
	})
	client := httpclient.New(limiter, pool, m)

	tags, err := selectSources(cfg, sourceList)
	if err != nil {
		return err
	}

	runtime := scraper.NewRuntime(store, m, cfg.Settings.Runtime.MaxConcurrent)
	runtime.SetStatsSource(client)
	g, gctx := errgroup.WithContext(ctx)

	built := 0
	for _, tag := range tags {
		sc := cfg.Source(tag)
		var c *cache.Cache
		if cfg.Settings.Cache.Enabled {
			c = cache.New(cache.Options{
				Namespace:            tag,
				Dir:                  cfg.Settings.CacheDir,
				MaxEntries:           cfg.Settings.Cache.MaxEntries,
				MaxBytes:             cfg.Settings.Cache.MaxBytes,
				DefaultTTL:           cfg.Settings.Cache.DefaultTTL(),
				Policy:               cache.Policy(cfg.Settings.Cache.Policy),
				CompressionThreshold: cfg.Settings.Cache.CompressionThreshold,
				DiskEnabled:          cfg.Settings.Cache.DiskEnabled,
				Metrics:              m,
			})
			c := c
			g.Go(func() error { return c.Run(gctx) })
		}

		adapter, err := sources.Factories[tag](scraper.Deps{
			Client:  client,
			Config:  sc,
			APIKey:  cfg.APIKey(tag),
			Cache:   c,
			Store:   store,
			Metrics: m,
		})
		if err != nil {
			log.Error().Err(err).Str("source", tag).Msg("Adapter unavailable, skipping")
			continue
		}
		runtime.Add(adapter)
		built++
	}
	if built == 0 {
		return fmt.Errorf("no usable source adapters (%d requested)", len(tags))
	}

	var history *arbitrage.History
	if runArbitrage {
		history, err = arbitrage.NewHistory(filepath.Join(cfg.Settings.DataDir, "runs.db"))
		if err != nil {
			return err
		}
		defer history.Close()
	}
	engine := arbitrage.New(store, history, m)
	params := arbitrage.Params{
		Mode:       cfg.Settings.Arbitrage.Mode,
		MinRatio:   cfg.Settings.Arbitrage.MinRatio,
		MinPrice:   cfg.Settings.Arbitrage.MinPrice,
		MaxResults: cfg.Settings.Arbitrage.MaxResults,
	}

	switch mode {
	case "once":
		results := runtime.RunOnce(gctx)
		reportResults(results)
		if runArbitrage {
			if _, err := engine.Compute(gctx, params); err != nil {
				return err
			}
		}
		// The deferred cancel in main stops the background cache sweeps.
		return nil

	case "forever":
		g.Go(func() error { return runtime.RunForever(gctx) })
		if runArbitrage {
			g.Go(func() error { return engineLoop(gctx, engine, params, cfg.Settings.Arbitrage.Interval()) })
		}
		err := waitWithGrace(ctx, g, cfg.Settings.Runtime.ShutdownGrace())
		if err != nil && err != context.Canceled {
			return err
		}
		return nil

	default:
		return fmt.Errorf("unknown mode %q (want once or forever)", mode)
	}
}

// buildProvider picks the proxy source: a local proxy file when configured,
// otherwise the upstream provider with env credentials.
func buildProvider(cfg *config.Config) (proxy.Provider, error) {
	if path := cfg.Settings.Proxy.ProxyFile; path != "" {
		return &proxy.FileProvider{Path: path}, nil
	}
	creds, err := cfg.ProviderCredentials()
	if err != nil {
		return nil, err
	}
	return proxy.NewHTTPProvider("", proxy.Credentials{
		AuthToken:   creds.AuthToken,
		OrderToken:  creds.OrderToken,
		WhitelistIP: creds.WhitelistIP,
	}), nil
}

// selectSources resolves the -sources flag against the registry and the
// per-source enabled switch.
func selectSources(cfg *config.Config, sourceList string) ([]string, error) {
	if sourceList != "" {
		var tags []string
		for _, tag := range strings.Split(sourceList, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if _, ok := sources.Factories[tag]; !ok {
				return nil, fmt.Errorf("unknown source %q", tag)
			}
			tags = append(tags, tag)
		}
		return tags, nil
	}

	var tags []string
	for _, tag := range sources.Tags() {
		if cfg.Source(tag).Enabled {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	return tags, nil
}

func reportResults(results []models.SourceResult) {
	for _, res := range results {
		evt := log.Info()
		if res.Status == models.RunError {
			evt = log.Error()
		}
		evt.
			Str("source", res.Source).
			Str("status", string(res.Status)).
			Int("items", res.Items).
			Dur("elapsed", res.Duration).
			Msg("Source run finished")
	}
}

// engineLoop reruns the arbitrage engine on its interval.
func engineLoop(ctx context.Context, engine *arbitrage.Engine, params arbitrage.Params, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := engine.Compute(ctx, params); err != nil {
				log.Error().Err(err).Msg("Arbitrage run failed")
			}
		}
	}
}

// waitWithGrace waits for the group, allowing in-flight adapters the grace
// period after cancellation before giving up on them.
func waitWithGrace(ctx context.Context, g *errgroup.Group, grace time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		log.Warn().Dur("grace", grace).Msg("Grace period elapsed, abandoning in-flight work")
		return ctx.Err()
	}
}

func setupLogging(cfg config.LoggingSettings) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}
