// Package proxy manages region-sharded rotating proxy pools with per-pool
// health scoring and automatic region failover.
package proxy

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"skinarb/internal/errs"
	"skinarb/internal/metrics"
)

// contextOrNoProxies prefers reporting cancellation over an empty pool set.
func contextOrNoProxies(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return &errs.ProxyError{Kind: errs.ProxyNoneAvailable}
}

// regions is the closed allow-list of reliable region codes.
var regions = []string{
	"us", "gb", "de", "ca", "au", "fr", "nl", "jp", "sg", "br",
	"mx", "in", "kr", "hk", "tw", "pl", "it", "es", "ch", "se",
	"no", "dk", "fi", "at", "be", "ie", "pt", "ru", "tr", "za",
	"eg", "ae", "sa", "th", "my", "id", "ph", "vn", "nz",
}

const responseTimeWindow = 50

// performance tracks one region pool's health.
type performance struct {
	successCount      int
	errorCount        int
	consecutiveErrors int
	responseTimes     []float64 // seconds, last responseTimeWindow
}

// score rates a pool; higher is better. Pools with no observations score
// neutral so fresh regions get traffic.
func (p *performance) score() float64 {
	total := p.successCount + p.errorCount
	if total == 0 {
		return 50.0
	}
	successRate := float64(p.successCount) / float64(total)
	avg := 5.0
	if len(p.responseTimes) > 0 {
		sum := 0.0
		for _, t := range p.responseTimes {
			sum += t
		}
		avg = sum / float64(len(p.responseTimes))
	}
	return successRate*100 - avg*3 - float64(p.consecutiveErrors)*15
}

func (p *performance) recordSuccess(elapsed time.Duration) {
	p.successCount++
	p.consecutiveErrors = 0
	p.responseTimes = append(p.responseTimes, elapsed.Seconds())
	if len(p.responseTimes) > responseTimeWindow {
		p.responseTimes = p.responseTimes[len(p.responseTimes)-responseTimeWindow:]
	}
}

func (p *performance) recordFailure() {
	p.errorCount++
	p.consecutiveErrors++
}

type regionPool struct {
	region  string
	proxies []string
	active  bool
	perf    performance
}

// Config configures the pool manager.
type Config struct {
	PoolCount         int
	ProxiesPerPool    int
	RotationThreshold int
}

// Pool is the process-wide proxy manager. Get hands out a proxy from the
// best-scoring region pool; Lease.Report feeds outcomes back into the
// pool's health record.
type Pool struct {
	cfg      Config
	provider Provider
	metrics  *metrics.Metrics

	mu          sync.Mutex
	pools       []*regionPool
	usedRegions map[string]bool
	closed      bool

	rnd *rand.Rand
}

// Lease is one handed-out proxy bound to its originating pool.
type Lease struct {
	URL  string
	pool *regionPool
	mgr  *Pool
}

// New creates the pool manager and eagerly loads every region pool. An
// individual region failing to load deactivates that pool only; New fails
// when no pool could be loaded at all.
func New(ctx context.Context, cfg Config, provider Provider, m *metrics.Metrics) (*Pool, error) {
	if cfg.PoolCount <= 0 {
		cfg.PoolCount = 3
	}
	if cfg.ProxiesPerPool <= 0 {
		cfg.ProxiesPerPool = 1000
	}
	if cfg.RotationThreshold <= 0 {
		cfg.RotationThreshold = 4
	}

	p := &Pool{
		cfg:         cfg,
		provider:    provider,
		metrics:     m,
		usedRegions: make(map[string]bool),
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	for i := 0; i < cfg.PoolCount && i < len(regions); i++ {
		region := regions[i]
		p.usedRegions[region] = true
		rp := &regionPool{region: region}
		p.pools = append(p.pools, rp)

		proxies, err := provider.Fetch(ctx, region, cfg.ProxiesPerPool)
		if err != nil || len(proxies) == 0 {
			log.Warn().Err(err).Str("region", region).Msg("Region pool failed to load")
			continue
		}
		rp.proxies = proxies
		rp.active = true
		log.Info().Str("region", region).Int("proxies", len(proxies)).Msg("Region pool loaded")
	}

	active := p.activeCount()
	if active == 0 {
		return nil, contextOrNoProxies(ctx)
	}

	// Rotation mode: further provider fetches ride already-loaded proxies.
	if hp, ok := provider.(*HTTPProvider); ok {
		hp.SetRotationSource(p.randomProxy)
	}

	if m != nil {
		m.SetActivePools(active)
	}
	return p, nil
}

// Get returns a lease on a proxy from the best-scoring active pool, or nil
// when no pool has proxies (callers then connect directly).
func (p *Pool) Get() *Lease {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	var best *regionPool
	var bestScore float64
	for _, rp := range p.pools {
		if !rp.active || len(rp.proxies) == 0 {
			continue
		}
		s := rp.perf.score()
		if best == nil || s > bestScore {
			best = rp
			bestScore = s
		}
	}
	if best == nil {
		return nil
	}
	return &Lease{
		URL:  best.proxies[p.rnd.Intn(len(best.proxies))],
		pool: best,
		mgr:  p,
	}
}

// Report feeds one request outcome back into the lease's pool. A run of
// consecutive failures reaching the threshold rotates the pool onto an
// unused region.
func (l *Lease) Report(success bool, elapsed time.Duration) {
	if l == nil {
		return
	}
	l.mgr.report(l.pool, success, elapsed)
}

func (p *Pool) report(rp *regionPool, success bool, elapsed time.Duration) {
	p.mu.Lock()
	if success {
		rp.perf.recordSuccess(elapsed)
		p.mu.Unlock()
		return
	}
	rp.perf.recordFailure()
	needRotation := rp.perf.consecutiveErrors >= p.cfg.RotationThreshold
	var newRegion string
	if needRotation {
		newRegion = p.pickUnusedRegionLocked()
		if newRegion != "" {
			old := rp.region
			rp.region = newRegion
			rp.perf = performance{}
			log.Warn().Str("from", old).Str("to", newRegion).Msg("Rotating proxy region")
		} else {
			rp.active = false
			log.Warn().Str("region", rp.region).Msg("No regions left, pool deactivated")
		}
	}
	active := 0
	for _, pool := range p.pools {
		if pool.active {
			active++
		}
	}
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.SetActivePools(active)
	}

	if needRotation && newRegion != "" {
		// Provider fetch happens outside the pool lock.
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		proxies, err := p.provider.Fetch(ctx, newRegion, p.cfg.ProxiesPerPool)
		cancel()

		p.mu.Lock()
		if err != nil || len(proxies) == 0 {
			log.Warn().Err(err).Str("region", newRegion).Msg("Region rotation fetch failed, pool deactivated")
			rp.active = false
		} else {
			rp.proxies = proxies
			rp.active = true
			log.Info().Str("region", newRegion).Int("proxies", len(proxies)).Msg("Region rotated")
		}
		p.mu.Unlock()
	}
}

// pickUnusedRegionLocked returns a random allow-listed region not yet used
// by any pool, or "".
func (p *Pool) pickUnusedRegionLocked() string {
	var unused []string
	for _, r := range regions {
		if !p.usedRegions[r] {
			unused = append(unused, r)
		}
	}
	if len(unused) == 0 {
		return ""
	}
	region := unused[p.rnd.Intn(len(unused))]
	p.usedRegions[region] = true
	return region
}

// randomProxy returns any loaded proxy for rotation-mode provider fetches.
func (p *Pool) randomProxy() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rp := range p.pools {
		if rp.active && len(rp.proxies) > 0 {
			return rp.proxies[p.rnd.Intn(len(rp.proxies))]
		}
	}
	return ""
}

func (p *Pool) activeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, rp := range p.pools {
		if rp.active {
			n++
		}
	}
	return n
}

// Regions returns the current region of every pool, for status reporting.
func (p *Pool) Regions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.pools))
	for i, rp := range p.pools {
		out[i] = rp.region
	}
	return out
}

// Close releases all pool resources. Subsequent Get calls return nil.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, rp := range p.pools {
		rp.proxies = nil
		rp.active = false
	}
}
