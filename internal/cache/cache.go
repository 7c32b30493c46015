// Package cache provides an in-memory TTL/LRU cache partitioned into
// independently configured named regions.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Well-known regions used by the catalog service.
const (
	RegionSearch  = "search"
	RegionDetails = "details"
)

var ErrUnknownRegion = errors.New("cache: unknown region")

// RegionConfig configures one region.
type RegionConfig struct {
	Name     string        `yaml:"name" json:"name"`
	Capacity int           `yaml:"capacity" json:"capacity"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultRegions mirrors the five-minute lifetime the search service has
// always used for both result lists and detail records.
func DefaultRegions() []RegionConfig {
	return []RegionConfig{
		{Name: RegionSearch, Capacity: 10000, TTL: 5 * time.Minute},
		{Name: RegionDetails, Capacity: 5000, TTL: 5 * time.Minute},
	}
}

// Cache routes operations to named regions. Each region has its own lock, so
// traffic on one region never contends with another.
type Cache struct {
	mu      sync.RWMutex
	regions map[string]*Region
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Cache
type Option func(*Cache)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for configuration changes and sweeps.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// New creates a cache with the given regions.
func New(configs []RegionConfig, opts ...Option) (*Cache, error) {
	c := &Cache{
		regions: make(map[string]*Region, len(configs)),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, rc := range configs {
		if rc.Name == "" {
			return nil, errors.New("cache: region name is required")
		}
		if _, dup := c.regions[rc.Name]; dup {
			return nil, fmt.Errorf("cache: duplicate region %q", rc.Name)
		}
		c.regions[rc.Name] = c.newRegion(rc)
	}
	return c, nil
}

func (c *Cache) newRegion(rc RegionConfig) *Region {
	r := NewRegion(rc.Name, rc.Capacity, rc.TTL)
	r.now = c.now
	return r
}

func (c *Cache) region(name string) (*Region, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.regions[name]
	return r, ok
}

// Get returns the cached value. A miss (absent, expired, or unknown region)
// is reported through the boolean, never as an error.
func (c *Cache) Get(region, key string) (any, bool) {
	r, ok := c.region(region)
	if !ok {
		return nil, false
	}
	return r.Get(key)
}

// GetAs is Get with a typed result. A stored value of another type is a miss.
func GetAs[V any](c *Cache, region, key string) (V, bool) {
	var zero V
	v, ok := c.Get(region, key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(V)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Put stores value under key. A non-positive ttl uses the region default.
func (c *Cache) Put(region, key string, value any, ttl time.Duration) error {
	r, ok := c.region(region)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegion, region)
	}
	r.Put(key, value, ttl)
	return nil
}

// Invalidate removes one key from a region.
func (c *Cache) Invalidate(region, key string) error {
	r, ok := c.region(region)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegion, region)
	}
	r.Invalidate(key)
	return nil
}

// Clear empties a region.
func (c *Cache) Clear(region string) error {
	r, ok := c.region(region)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegion, region)
	}
	r.Clear()
	return nil
}

// Configure adds a region or applies new capacity and TTL to an existing one.
func (c *Cache) Configure(rc RegionConfig) error {
	if rc.Name == "" {
		return errors.New("cache: region name is required")
	}

	c.mu.Lock()
	r, exists := c.regions[rc.Name]
	if !exists {
		c.regions[rc.Name] = c.newRegion(rc)
	}
	c.mu.Unlock()

	if exists {
		r.Resize(rc.Capacity, rc.TTL)
	}

	c.logger.Info("cache region configured",
		zap.String("region", rc.Name),
		zap.Int("capacity", rc.Capacity),
		zap.Duration("ttl", rc.TTL),
		zap.Bool("created", !exists),
	)
	return nil
}

// Regions returns region names in sorted order.
func (c *Cache) Regions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.regions))
	for name := range c.regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns statistics for every region, sorted by name.
func (c *Cache) Stats() []Stats {
	names := c.Regions()
	stats := make([]Stats, 0, len(names))
	for _, name := range names {
		if r, ok := c.region(name); ok {
			stats = append(stats, r.Stats())
		}
	}
	return stats
}

// Len returns the total number of entries across regions.
func (c *Cache) Len() int {
	total := 0
	for _, s := range c.Stats() {
		total += s.Items
	}
	return total
}

// Sweep removes expired entries from every region.
func (c *Cache) Sweep() int {
	removed := 0
	for _, name := range c.Regions() {
		if r, ok := c.region(name); ok {
			removed += r.Sweep()
		}
	}
	return removed
}

// StartJanitor sweeps expired entries every interval until ctx is done. Lookups
// never return expired entries either way; the janitor only reclaims memory
// held by entries nobody asks for again.
func (c *Cache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.logger.Debug("swept expired cache entries", zap.Int("removed", n))
				}
			}
		}
	}()
}
