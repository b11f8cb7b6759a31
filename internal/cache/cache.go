// Package cache implements the process-wide result cache shared by every
// query evaluation.
//
// Entries are detached member sets keyed by tenant, schema, cube identity
// and the canonical text of the sub-query that produced them. Lookups
// re-attach the stored set against the caller's level map, so a cached set
// never holds pointers into a particular cube load.
package cache

import (
	"context"
	"hash/maphash"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"duck-cube/internal/cube"
	"duck-cube/internal/memberset"
)

const numShards = 64

// Defaults.
const (
	DefaultTTL          = time.Hour
	DefaultMaxKeyLength = 4096
	DefaultMaxBytes     = 256 << 20
)

// Key identifies one cached member set.
type Key struct {
	TenantID string
	SchemaID string
	Cube     string // cube identity
	Text     string // canonical query text
}

// String renders "tenant/schema/cube/text".
func (k Key) String() string {
	return k.TenantID + "/" + k.SchemaID + "/" + k.Cube + "/" + k.Text
}

// Config configures a Cache.
type Config struct {
	// TTL bounds the lifetime of an entry. Default: 1 hour.
	TTL time.Duration
	// MaxKeyLength is the longest canonical text that is cached. Longer
	// keys are computed every time. Default: 4096.
	MaxKeyLength int
	// MaxBytes bounds the serialized size of all entries. Default: 256 MiB.
	MaxBytes int64
	// Now overrides the clock in tests.
	Now func() time.Time
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{TTL: DefaultTTL, MaxKeyLength: DefaultMaxKeyLength, MaxBytes: DefaultMaxBytes}
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Skipped int64 // puts refused for key length, size or a concurrent invalidation
	Entries int
	Bytes   int64
}

// Cache is safe for concurrent use.
type Cache struct {
	shards [numShards]*lru
	seed   maphash.Seed
	cfg    Config
	group  singleflight.Group
	logger *slog.Logger

	hits    atomic.Int64
	misses  atomic.Int64
	skipped atomic.Int64

	// generation advances on every invalidation. A load that started in an
	// earlier generation does not store its result.
	generation atomic.Uint64
}

// New creates a cache. Zero config fields take their defaults.
func New(cfg Config, logger *slog.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxKeyLength <= 0 {
		cfg.MaxKeyLength = DefaultMaxKeyLength
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	shardCapacity := cfg.MaxBytes / numShards
	if shardCapacity < 1 {
		shardCapacity = 1
	}
	c := &Cache{
		seed:   maphash.MakeSeed(),
		cfg:    cfg,
		logger: logger.With("component", "result-cache"),
	}
	for i := range numShards {
		c.shards[i] = newLRU(shardCapacity)
	}
	return c
}

func (c *Cache) shard(key string) *lru {
	return c.shards[maphash.String(c.seed, key)%numShards]
}

// Cacheable reports whether key is short enough to be stored.
func (c *Cache) Cacheable(key Key) bool {
	return len(key.Text) <= c.cfg.MaxKeyLength
}

// Get returns the set stored under key, attached against levels.
func (c *Cache) Get(ctx context.Context, key Key, levels cube.LevelMap) (*memberset.Set, bool) {
	if !c.Cacheable(key) {
		return nil, false
	}
	d, ok := c.shard(key.String()).get(key.String(), c.cfg.Now())
	if !ok {
		c.misses.Add(1)
		c.logger.DebugContext(ctx, "cache miss", "tenant", key.TenantID, "cube", key.Cube)
		return nil, false
	}
	s, err := memberset.Attach(d, levels)
	if err != nil {
		// The level map no longer matches the stored entry; recompute.
		c.misses.Add(1)
		c.logger.WarnContext(ctx, "cache entry does not attach", "cube", key.Cube, "error", err)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.DebugContext(ctx, "cache hit", "tenant", key.TenantID, "cube", key.Cube, "members", s.Len())
	return s, true
}

// Put stores a detached copy of s under key. It reports whether the entry
// was stored.
func (c *Cache) Put(ctx context.Context, key Key, s *memberset.Set) bool {
	if !c.Cacheable(key) {
		c.skipped.Add(1)
		return false
	}
	d, err := s.Detach()
	if err != nil {
		c.skipped.Add(1)
		c.logger.WarnContext(ctx, "detach member set", "cube", key.Cube, "error", err)
		return false
	}
	return c.putDetached(key, d)
}

func (c *Cache) putDetached(key Key, d *memberset.Detached) bool {
	k := key.String()
	ent := &entry{
		key:      key,
		value:    d,
		expireAt: c.cfg.Now().Add(c.cfg.TTL),
		size:     int64(len(k) + d.SizeBytes()),
	}
	if !c.shard(k).set(ent) {
		c.skipped.Add(1)
		return false
	}
	return true
}

// GetOrLoad returns the cached set for key, or calls load once for all
// concurrent callers of the same key and caches its result. Each caller
// receives its own set attached against its levels.
func (c *Cache) GetOrLoad(ctx context.Context, key Key, levels cube.LevelMap, load func(context.Context) (*memberset.Set, error)) (*memberset.Set, error) {
	if s, ok := c.Get(ctx, key, levels); ok {
		return s, nil
	}
	if !c.Cacheable(key) {
		c.skipped.Add(1)
		return load(ctx)
	}
	gen := c.generation.Load()
	flight := strconv.FormatUint(gen, 10) + "#" + key.String()
	v, err, _ := c.group.Do(flight, func() (interface{}, error) {
		s, err := load(ctx)
		if err != nil {
			return nil, err
		}
		d, err := s.Detach()
		if err != nil {
			return nil, err
		}
		if c.generation.Load() != gen {
			c.skipped.Add(1)
			c.logger.DebugContext(ctx, "cache invalidated during load", "tenant", key.TenantID, "cube", key.Cube)
			return d, nil
		}
		c.putDetached(key, d)
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return memberset.Attach(v.(*memberset.Detached), levels)
}

// InvalidateTenant drops every entry of one tenant.
func (c *Cache) InvalidateTenant(tenantID string) int {
	n := c.invalidate(func(k Key) bool { return k.TenantID == tenantID })
	c.logger.Info("cache invalidated", "tenant", tenantID, "entries", n)
	return n
}

// InvalidateSchema is called when a schema changes. Schema changes can
// alter shared dimensions, so every entry is dropped.
func (c *Cache) InvalidateSchema(schemaID string) int {
	n := c.invalidate(func(Key) bool { return true })
	c.logger.Info("cache invalidated", "schema", schemaID, "entries", n)
	return n
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() int {
	n := c.invalidate(func(Key) bool { return true })
	c.logger.Info("cache invalidated", "entries", n)
	return n
}

func (c *Cache) invalidate(predicate func(Key) bool) int {
	c.generation.Add(1)
	var (
		wg    sync.WaitGroup
		total atomic.Int64
	)
	wg.Add(numShards)
	for i := range numShards {
		go func(shard *lru) {
			defer wg.Done()
			total.Add(int64(shard.invalidate(predicate)))
		}(c.shards[i])
	}
	wg.Wait()
	return int(total.Load())
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	st := Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Skipped: c.skipped.Load()}
	for i := range numShards {
		st.Entries += c.shards[i].len()
		st.Bytes += c.shards[i].bytes()
	}
	return st
}
