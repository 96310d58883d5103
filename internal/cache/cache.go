// Package cache implements a two-tier TTL cache: a bounded in-memory tier
// with selectable eviction policies and an optional one-file-per-key disk
// tier. Values above a compression threshold are stored zlib-compressed
// when that actually shrinks them.
package cache

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"skinarb/internal/errs"
	"skinarb/internal/metrics"
)

// Policy selects the eviction strategy for the memory tier.
type Policy string

const (
	PolicyLRU      Policy = "lru"
	PolicyLFU      Policy = "lfu"
	PolicyTTL      Policy = "ttl"
	PolicyAdaptive Policy = "adaptive"
)

const sweepInterval = 5 * time.Minute

// entry is one cached value plus its bookkeeping.
type entry struct {
	key          string
	value        []byte
	size         int
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  int
	ttl          time.Duration
	compressed   bool
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.createdAt.Add(e.ttl))
}

func (e *entry) age(now time.Time) time.Duration {
	return now.Sub(e.createdAt)
}

// accessRate returns accesses per hour since creation.
func (e *entry) accessRate(now time.Time) float64 {
	age := e.age(now).Hours()
	if age <= 0 {
		return 0
	}
	return float64(e.accessCount) / age
}

// Stats carries cache usage counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
	TotalSize int64 `json:"total_size"`
}

// HitRate returns the hit ratio in [0, 1].
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Options configures a Cache.
type Options struct {
	Namespace            string
	Dir                  string // base cache dir; disk tier lives under Dir/data/Namespace
	MaxEntries           int
	MaxBytes             int64
	DefaultTTL           time.Duration
	Policy               Policy
	CompressionThreshold int
	DiskEnabled          bool
	Metrics              *metrics.Metrics
}

// Cache is a namespaced two-tier TTL store. All public methods are safe for
// concurrent use.
type Cache struct {
	opts    Options
	diskDir string

	mu        sync.Mutex
	entries   map[string]*entry
	totalSize int64
	stats     Stats

	now func() time.Time
}

// New creates a cache. The disk tier directory is created eagerly; a failure
// there degrades the cache to memory-only with a warning.
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1000
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 100 * 1024 * 1024
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.Policy == "" {
		opts.Policy = PolicyAdaptive
	}
	if opts.CompressionThreshold <= 0 {
		opts.CompressionThreshold = 10 * 1024
	}

	c := &Cache{
		opts:    opts,
		entries: make(map[string]*entry),
		now:     time.Now,
	}

	if opts.DiskEnabled {
		c.diskDir = filepath.Join(opts.Dir, "data", opts.Namespace)
		if err := os.MkdirAll(c.diskDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", c.diskDir).Msg("Disk cache unavailable, using memory only")
			c.diskDir = ""
		}
	}
	return c
}

// Get returns the cached value for key, or ok=false on a miss. A memory miss
// falls through to the disk tier and promotes hits back into memory.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		if e.expired(now) {
			c.removeLocked(key)
		} else {
			e.lastAccessed = now
			e.accessCount++
			c.recordHit()
			return c.decode(e)
		}
	}

	if c.diskDir != "" {
		if value, ttl, ok := c.readDisk(key, now); ok {
			c.insertLocked(key, value, ttl, now)
			c.recordHit()
			return value, true
		}
	}

	c.stats.Misses++
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordCacheMiss()
	}
	return nil, false
}

// Set stores value under key with the given TTL (DefaultTTL when ttl <= 0).
// The value is written through to the disk tier when enabled.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.insertLocked(key, value, ttl, now)

	if c.diskDir != "" {
		if err := c.writeDisk(key, value, ttl, now); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Disk cache write failed")
		}
	}
}

// SetJSON marshals v and stores it under key.
func (c *Cache) SetJSON(key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.Set(key, data, ttl)
	return nil
}

// GetJSON unmarshals the cached value for key into v.
func (c *Cache) GetJSON(key string, v any) bool {
	data, ok := c.Get(key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// Delete removes key from both tiers.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
	if c.diskDir != "" {
		os.Remove(c.diskPath(key))
	}
}

// Clear removes every entry from both tiers.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.totalSize = 0
	if c.diskDir != "" {
		if files, err := filepath.Glob(filepath.Join(c.diskDir, "*.cache")); err == nil {
			for _, f := range files {
				os.Remove(f)
			}
		}
	}
}

// Stats returns a copy of the current usage counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	s.TotalSize = c.totalSize
	return s
}

// Run performs the periodic sweep: expired entries are dropped and, under
// the adaptive policy, per-entry TTLs are recomputed from access rates.
// Blocks until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expired := 0
	for key, e := range c.entries {
		if e.expired(now) {
			c.removeLocked(key)
			expired++
			continue
		}
		if c.opts.Policy == PolicyAdaptive {
			e.ttl = adaptiveTTL(e, now)
		}
	}
	if expired > 0 {
		log.Debug().
			Str("namespace", c.opts.Namespace).
			Int("expired", expired).
			Msg("Cache sweep")
	}
}

// adaptiveTTL scales an entry's TTL by its observed access rate: very hot
// entries keep their data twice as long, cold entries half as long.
func adaptiveTTL(e *entry, now time.Time) time.Duration {
	rate := e.accessRate(now)
	switch {
	case rate > 10:
		return e.ttl * 2
	case rate > 5:
		return e.ttl * 3 / 2
	case rate < 1:
		return e.ttl / 2
	default:
		return e.ttl
	}
}

// insertLocked serializes (and maybe compresses) value, frees space, and
// stores the entry. Caller holds the mutex. A value that alone exceeds the
// byte budget is not admitted; it would evict the whole tier and still
// leave the cache over budget.
func (c *Cache) insertLocked(key string, value []byte, ttl time.Duration, now time.Time) {
	stored := value
	compressed := false
	if len(value) > c.opts.CompressionThreshold {
		if packed, ok := compress(value); ok {
			stored = packed
			compressed = true
		}
	}

	c.removeLocked(key)
	if int64(len(stored)) > c.opts.MaxBytes {
		return
	}
	c.ensureSpaceLocked(len(stored))

	c.entries[key] = &entry{
		key:          key,
		value:        stored,
		size:         len(stored),
		createdAt:    now,
		lastAccessed: now,
		ttl:          ttl,
		compressed:   compressed,
	}
	c.totalSize += int64(len(stored))
}

// ensureSpaceLocked evicts entries until the insert of size bytes satisfies
// both the entry-count and byte budgets.
func (c *Cache) ensureSpaceLocked(size int) {
	for len(c.entries) >= c.opts.MaxEntries {
		if !c.evictOneLocked() {
			return
		}
	}
	for c.totalSize+int64(size) > c.opts.MaxBytes && len(c.entries) > 0 {
		if !c.evictOneLocked() {
			return
		}
	}
}

// evictOneLocked removes the entry chosen by the configured policy.
func (c *Cache) evictOneLocked() bool {
	if len(c.entries) == 0 {
		return false
	}

	now := c.now()
	var victim *entry
	var victimScore float64
	for _, e := range c.entries {
		var score float64
		switch c.opts.Policy {
		case PolicyLRU:
			score = float64(e.lastAccessed.UnixNano())
		case PolicyLFU:
			score = float64(e.accessCount)
		case PolicyTTL:
			score = float64(e.createdAt.UnixNano())
		default: // adaptive: least value per unit of age
			age := e.age(now).Seconds()
			if age <= 0 {
				age = 1
			}
			score = float64(e.accessCount) / age
		}
		if victim == nil || score < victimScore {
			victim = e
			victimScore = score
		}
	}

	c.removeLocked(victim.key)
	c.stats.Evictions++
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordCacheEviction()
	}
	return true
}

func (c *Cache) removeLocked(key string) {
	if e, ok := c.entries[key]; ok {
		c.totalSize -= int64(e.size)
		delete(c.entries, key)
	}
}

func (c *Cache) recordHit() {
	c.stats.Hits++
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordCacheHit()
	}
}

func (c *Cache) decode(e *entry) ([]byte, bool) {
	if !e.compressed {
		return e.value, true
	}
	value, err := decompress(e.value)
	if err != nil {
		log.Warn().Err(err).Str("key", e.key).Msg("Corrupt compressed cache entry dropped")
		c.removeLocked(e.key)
		return nil, false
	}
	return value, true
}

// diskEntry is the on-disk cache file format.
type diskEntry struct {
	Key       string  `json:"key"`
	Value     []byte  `json:"value"`
	CreatedAt int64   `json:"created_at"`
	TTL       float64 `json:"ttl"`
}

func (c *Cache) diskPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.diskDir, hex.EncodeToString(sum[:8])+".cache")
}

func (c *Cache) readDisk(key string, now time.Time) ([]byte, time.Duration, bool) {
	path := c.diskPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, false
	}
	var de diskEntry
	if err := json.Unmarshal(data, &de); err != nil || de.Key != key {
		os.Remove(path)
		return nil, 0, false
	}
	ttl := time.Duration(de.TTL * float64(time.Second))
	created := time.Unix(de.CreatedAt, 0)
	if now.After(created.Add(ttl)) {
		os.Remove(path)
		return nil, 0, false
	}
	remaining := created.Add(ttl).Sub(now)
	return de.Value, remaining, true
}

func (c *Cache) writeDisk(key string, value []byte, ttl time.Duration, now time.Time) error {
	de := diskEntry{
		Key:       key,
		Value:     value,
		CreatedAt: now.Unix(),
		TTL:       ttl.Seconds(),
	}
	data, err := json.Marshal(de)
	if err != nil {
		return &errs.CacheError{Op: "marshal", Path: c.diskPath(key), Err: err}
	}
	path := c.diskPath(key)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &errs.CacheError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func compress(data []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	if buf.Len() >= len(data) {
		return nil, false
	}
	return buf.Bytes(), true
}

func decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
