package threatintel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

// CheckStore persists vendor checks across process restarts
type CheckStore interface {
	GetVendorCheck(ctx context.Context, vendor string, ind entity.Indicator) (*entity.VendorCheck, error)
	SaveVendorCheck(ctx context.Context, check *entity.VendorCheck) error
}

// CheckCache is a two-tier vendor check cache: a memory front over the
// persistent VendorCheck table. Entries expire at their own ExpiresAt.
type CheckCache struct {
	store  CheckStore
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	data      map[string]entity.VendorCheck
	hits      int64
	storeHits int64
	misses    int64
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size      int     `json:"size"`
	Hits      int64   `json:"hits"`
	StoreHits int64   `json:"store_hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
}

// NewCheckCache creates a cache; store may be nil for a memory-only cache
func NewCheckCache(store CheckStore, logger *slog.Logger) *CheckCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckCache{
		store:  store,
		logger: logger,
		now:    time.Now,
		data:   make(map[string]entity.VendorCheck),
	}
}

func cacheKey(vendor string, ind entity.Indicator) string {
	return vendor + "|" + ind.Key()
}

// Get returns a fresh check for (vendor, indicator), consulting the store on a memory miss
func (c *CheckCache) Get(ctx context.Context, vendor string, ind entity.Indicator) (*entity.VendorCheck, bool) {
	key := cacheKey(vendor, ind)
	now := c.now()

	c.mu.RLock()
	entry, exists := c.data[key]
	c.mu.RUnlock()

	if exists && entry.Fresh(now) {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return &entry, true
	}

	if exists {
		c.mu.Lock()
		delete(c.data, key)
		c.mu.Unlock()
	}

	if c.store != nil {
		check, err := c.store.GetVendorCheck(ctx, vendor, ind)
		switch {
		case err == nil && check.Fresh(now):
			c.mu.Lock()
			c.data[key] = *check
			c.storeHits++
			c.mu.Unlock()
			return check, true
		case err != nil && !errors.Is(err, entity.ErrNotFound):
			c.logger.Warn("[TIP] Vendor check cache read failed",
				"vendor", vendor,
				"indicator", ind.Value,
				"error", err)
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil, false
}

// Set stores a check in memory and in the persistent store
func (c *CheckCache) Set(ctx context.Context, check *entity.VendorCheck) error {
	c.mu.Lock()
	c.data[cacheKey(check.Vendor, check.Indicator)] = *check
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	return c.store.SaveVendorCheck(ctx, check)
}

// Stats returns cache statistics
func (c *CheckCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.hits + c.storeHits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits+c.storeHits) / float64(total)
	}

	return CacheStats{
		Size:      len(c.data),
		Hits:      c.hits,
		StoreHits: c.storeHits,
		Misses:    c.misses,
		HitRate:   hitRate,
	}
}

// RunCleanup periodically removes expired memory entries until ctx is done
func (c *CheckCache) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *CheckCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.data {
		if !entry.Fresh(now) {
			delete(c.data, key)
		}
	}
}
