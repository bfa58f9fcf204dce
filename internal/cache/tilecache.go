package cache

import (
	"fmt"
	"log"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TileKey identifies one rendered tile of one layer
type TileKey struct {
	Layer string
	Z     int
	X     int
	Y     int
	Size  int // rendered edge length, 0 for the default
}

func (k TileKey) String() string {
	if k.Size > 0 {
		return fmt.Sprintf("%s/%d/%d/%d@%d", k.Layer, k.Z, k.X, k.Y, k.Size)
	}
	return fmt.Sprintf("%s/%d/%d/%d", k.Layer, k.Z, k.X, k.Y)
}

// TileCache provides LRU caching for rendered PNG tiles
type TileCache struct {
	lru     *lru.Cache[TileKey, []byte]
	maxSize int
	hits    atomic.Int64
	misses  atomic.Int64
	evicted atomic.Int64
}

// Stats is a snapshot of cache counters
type Stats struct {
	Entries int   `json:"entries"`
	MaxSize int   `json:"maxSize"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Evicted int64 `json:"evicted"`
}

// NewTileCache creates a cache holding at most maxTiles tiles
func NewTileCache(maxTiles int) (*TileCache, error) {
	if maxTiles <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", maxTiles)
	}

	c := &TileCache{maxSize: maxTiles}
	l, err := lru.NewWithEvict(maxTiles, func(TileKey, []byte) {
		c.evicted.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}
	c.lru = l
	return c, nil
}

// Get retrieves a tile from cache
func (c *TileCache) Get(key TileKey) ([]byte, bool) {
	data, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return data, ok
}

// Set stores a tile in cache
func (c *TileCache) Set(key TileKey, data []byte) {
	c.lru.Add(key, data)
}

// PurgeLayer drops every cached tile of a layer and returns how many were removed
func (c *TileCache) PurgeLayer(layer string) int {
	removed := 0
	for _, k := range c.lru.Keys() {
		if k.Layer == layer && c.lru.Remove(k) {
			removed++
		}
	}
	if removed > 0 {
		log.Printf("[TileCache] Purged %d tiles of layer %s", removed, layer)
	}
	return removed
}

// Stats returns cache statistics
func (c *TileCache) Stats() Stats {
	return Stats{
		Entries: c.lru.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Evicted: c.evicted.Load(),
	}
}

// Clear removes all cached tiles
func (c *TileCache) Clear() {
	c.lru.Purge()
}
