// Package cache implements the two-tier reference payload cache.
//
// The volatile tier is a process-lifetime map of key to payload. The persistent
// tier is a bounded map of key to models.CacheEntry mirrored into a durable Store
// as a single snapshot, so it survives restarts. Keys are gallery source refs.
package cache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/pario-ai/facegate/pkg/metrics"
	"github.com/pario-ai/facegate/pkg/models"
)

const (
	// DefaultTTL is how long a persistent entry stays fresh.
	DefaultTTL = 24 * time.Hour
	// DefaultMaxSize bounds the persistent tier.
	DefaultMaxSize = 50
	// SnapshotKey is the Store key holding the persistent tier.
	SnapshotKey = "payload-cache/snapshot"
)

var (
	// ErrFetchFailed is returned when the external fetch for a missing payload fails.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrCacheCorrupted marks a durable snapshot that could not be decoded.
	ErrCacheCorrupted = errors.New("cache snapshot corrupted")
)

// Store is a durable key-value byte store backing the persistent tier.
type Store interface {
	// Get returns the value for key, or ok=false when absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Fetcher reads a reference payload from its source.
type Fetcher interface {
	Fetch(ctx context.Context, sourceRef string) ([]byte, error)
}

// Option configures a PayloadCache.
type Option func(*PayloadCache)

// WithTTL sets the persistent entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *PayloadCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMaxSize sets the persistent tier capacity.
func WithMaxSize(n int) Option {
	return func(c *PayloadCache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *PayloadCache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *PayloadCache) { c.logger = l }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *PayloadCache) { c.metrics = m }
}

// PayloadCache is the two-tier reference payload cache.
type PayloadCache struct {
	store   Store
	fetcher Fetcher
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu         sync.RWMutex
	volatile   map[string]string
	persistent map[string]models.CacheEntry

	// maintMu serialises maintenance and clear so snapshot writes never interleave.
	maintMu sync.Mutex
	flight  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a PayloadCache over store and loads the persisted snapshot.
// An unreadable snapshot is logged and treated as an empty cache.
func New(ctx context.Context, store Store, fetcher Fetcher, opts ...Option) (*PayloadCache, error) {
	if store == nil {
		return nil, errors.New("payload cache: nil store")
	}
	c := &PayloadCache{
		store:      store,
		fetcher:    fetcher,
		ttl:        DefaultTTL,
		maxSize:    DefaultMaxSize,
		now:        time.Now,
		logger:     zerolog.Nop(),
		volatile:   make(map[string]string),
		persistent: make(map[string]models.CacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.load(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("discarding persisted payload cache")
		c.persistent = make(map[string]models.CacheEntry)
		return c, nil
	}
	if len(c.persistent) > 0 {
		if err := c.maintenance(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("persist payload cache after load")
		}
	}
	return c, nil
}

func (c *PayloadCache) load(ctx context.Context) error {
	data, ok, err := c.store.Get(ctx, SnapshotKey)
	if err != nil {
		return errors.Join(ErrCacheCorrupted, err)
	}
	if !ok || len(data) == 0 {
		return nil
	}
	var snapshot map[string]models.CacheEntry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return errors.Join(ErrCacheCorrupted, err)
	}
	for key, entry := range snapshot {
		if entry.Key == "" {
			entry.Key = key
		}
		c.persistent[key] = entry
	}
	c.logger.Debug().Int("entries", len(c.persistent)).Msg("loaded payload cache snapshot")
	return nil
}

// Get returns the payload for key. The volatile tier is consulted first; a fresh
// persistent entry is promoted into it. Expired entries read as absent but are
// only purged by maintenance.
func (c *PayloadCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.RLock()
	payload, ok := c.volatile[key]
	entry, persisted := c.persistent[key]
	c.mu.RUnlock()

	if ok {
		c.hits.Add(1)
		c.metrics.CacheLookup("volatile", true)
		return payload, true
	}
	c.metrics.CacheLookup("volatile", false)

	if !persisted || !c.fresh(entry) {
		c.misses.Add(1)
		c.metrics.CacheLookup("persistent", false)
		return "", false
	}

	c.mu.Lock()
	// A concurrent maintenance pass may have dropped the entry.
	if current, still := c.persistent[key]; still && current.CachedAt.Equal(entry.CachedAt) {
		c.volatile[key] = entry.Payload
	}
	c.mu.Unlock()

	c.hits.Add(1)
	c.metrics.CacheLookup("persistent", true)
	return entry.Payload, true
}

// Put stores payload in both tiers with a fresh timestamp, then runs maintenance.
// The in-memory tiers are updated even when persisting the snapshot fails.
func (c *PayloadCache) Put(ctx context.Context, key, payload string) error {
	c.mu.Lock()
	c.persistent[key] = models.CacheEntry{Key: key, Payload: payload, CachedAt: c.now()}
	c.volatile[key] = payload
	c.mu.Unlock()

	return c.maintenance(ctx)
}

// FetchAndCache returns the cached payload for sourceRef, fetching and caching it
// on a miss. Concurrent calls for the same ref share one fetch. Fetch failures
// are not retried and leave no entry.
func (c *PayloadCache) FetchAndCache(ctx context.Context, sourceRef string) (string, error) {
	if payload, ok := c.Get(ctx, sourceRef); ok {
		return payload, nil
	}
	if c.fetcher == nil {
		return "", fmt.Errorf("fetch %s: %w: no fetcher configured", sourceRef, ErrFetchFailed)
	}

	v, err, _ := c.flight.Do(sourceRef, func() (any, error) {
		if payload, ok := c.Get(ctx, sourceRef); ok {
			return payload, nil
		}

		c.logger.Debug().Str("source", sourceRef).Msg("fetching payload")
		raw, err := c.fetcher.Fetch(ctx, sourceRef)
		if err == nil && len(raw) == 0 {
			err = errors.New("empty payload")
		}
		c.metrics.Fetch(err == nil)
		if err != nil {
			return "", fmt.Errorf("fetch %s: %w", sourceRef, errors.Join(ErrFetchFailed, err))
		}

		payload := base64.StdEncoding.EncodeToString(raw)
		if err := c.Put(ctx, sourceRef, payload); err != nil {
			c.logger.Warn().Err(err).Str("source", sourceRef).Msg("payload cached in memory only")
		}
		return payload, nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("source", sourceRef).Msg("fetch and cache failed")
		return "", err
	}
	return v.(string), nil
}

// Clear empties both tiers and removes the durable snapshot.
func (c *PayloadCache) Clear(ctx context.Context) error {
	c.maintMu.Lock()
	defer c.maintMu.Unlock()

	c.mu.Lock()
	c.volatile = make(map[string]string)
	c.persistent = make(map[string]models.CacheEntry)
	c.mu.Unlock()
	c.metrics.SetCacheEntries(0, 0)

	if err := c.store.Delete(ctx, SnapshotKey); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	c.logger.Info().Msg("payload cache cleared")
	return nil
}

// Stats returns tier sizes and lookup counters.
func (c *PayloadCache) Stats() models.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.CacheStats{
		VolatileCount:   len(c.volatile),
		PersistentCount: len(c.persistent),
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
	}
}

// Entries returns a copy of the persistent tier ordered by cachedAt, oldest first.
func (c *PayloadCache) Entries() []models.CacheEntry {
	c.mu.RLock()
	entries := make([]models.CacheEntry, 0, len(c.persistent))
	for _, e := range c.persistent {
		entries = append(entries, e)
	}
	c.mu.RUnlock()
	sortByCachedAt(entries)
	return entries
}

func (c *PayloadCache) fresh(e models.CacheEntry) bool {
	return c.now().Sub(e.CachedAt) < c.ttl
}

// expired reports whether e is older than the TTL. An entry exactly ttl old is
// no longer fresh but is kept until it ages past the TTL.
func (c *PayloadCache) expired(e models.CacheEntry) bool {
	return c.now().Sub(e.CachedAt) > c.ttl
}

// maintenance purges expired entries, evicts the oldest entries beyond capacity
// and persists the snapshot. Removed keys are dropped from the volatile tier too.
func (c *PayloadCache) maintenance(ctx context.Context) error {
	c.maintMu.Lock()
	defer c.maintMu.Unlock()

	c.mu.Lock()
	var expired int
	for key, e := range c.persistent {
		if c.expired(e) {
			delete(c.persistent, key)
			delete(c.volatile, key)
			expired++
		}
	}

	var evicted int
	if over := len(c.persistent) - c.maxSize; over > 0 {
		entries := make([]models.CacheEntry, 0, len(c.persistent))
		for _, e := range c.persistent {
			entries = append(entries, e)
		}
		sortByCachedAt(entries)
		for _, e := range entries[:over] {
			delete(c.persistent, e.Key)
			delete(c.volatile, e.Key)
		}
		evicted = over
	}

	data, err := json.Marshal(c.persistent)
	volatileCount, persistentCount := len(c.volatile), len(c.persistent)
	c.mu.Unlock()

	c.metrics.CacheEvicted("expired", expired)
	c.metrics.CacheEvicted("capacity", evicted)
	c.metrics.SetCacheEntries(volatileCount, persistentCount)
	if expired > 0 || evicted > 0 {
		c.logger.Debug().Int("expired", expired).Int("evicted", evicted).Msg("payload cache maintenance")
	}

	if err != nil {
		return fmt.Errorf("encode cache snapshot: %w", err)
	}
	if err := c.store.Set(ctx, SnapshotKey, data); err != nil {
		return fmt.Errorf("persist cache snapshot: %w", err)
	}
	return nil
}

func sortByCachedAt(entries []models.CacheEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CachedAt.Equal(entries[j].CachedAt) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].CachedAt.Before(entries[j].CachedAt)
	})
}
