// Package cache models L1 data-cache timing for the reference machine.
// Only tags and replacement state are tracked; data stays in physical
// memory.
package cache

import (
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Config holds the cache geometry and latencies.
type Config struct {
	Size          int    `json:"size"`          // bytes
	Associativity int    `json:"associativity"` // ways
	BlockSize     int    `json:"block_size"`    // bytes per line
	HitLatency    uint64 `json:"hit_latency"`   // cycles
	MissLatency   uint64 `json:"miss_latency"`  // cycles, including the refill
}

// DefaultL1DConfig returns a 32KB, 8-way cache with 64B lines.
func DefaultL1DConfig() Config {
	return Config{
		Size:          32 * 1024,
		Associativity: 8,
		BlockSize:     64,
		HitLatency:    3,
		MissLatency:   40,
	}
}

// Validate checks that the geometry describes at least one full set.
func (c Config) Validate() error {
	switch {
	case c.BlockSize <= 0 || c.BlockSize&(c.BlockSize-1) != 0:
		return fmt.Errorf("block size %d must be a power of two", c.BlockSize)
	case c.Associativity <= 0:
		return fmt.Errorf("associativity must be > 0")
	case c.Size <= 0 || c.Size%(c.Associativity*c.BlockSize) != 0:
		return fmt.Errorf("size %d must be a multiple of associativity * block size", c.Size)
	case c.HitLatency == 0:
		return fmt.Errorf("hit latency must be > 0")
	case c.MissLatency < c.HitLatency:
		return fmt.Errorf("miss latency must be >= hit latency")
	}
	return nil
}

// Sets returns the number of sets the geometry yields.
func (c Config) Sets() int {
	return c.Size / (c.Associativity * c.BlockSize)
}

// Access is the outcome of one load or store.
type Access struct {
	Hit       bool
	Latency   uint64
	Victim    uint64 // line address replaced on a miss, if Evicted
	Evicted   bool
	Writeback bool // the replaced line was dirty
}

// Statistics counts accesses since creation.
type Statistics struct {
	Loads      uint64
	Stores     uint64
	Hits       uint64
	Misses     uint64
	Writebacks uint64
}

// Cache is a write-back, write-allocate cache with LRU replacement.
type Cache struct {
	config    Config
	directory *akitacache.DirectoryImpl
	stats     Statistics
}

// New creates an empty cache.
func New(config Config) (*Cache, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			config.Sets(),
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
	}, nil
}

// Stats returns the access counters.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// Access looks up the line holding physical address pa, allocating it on
// a miss. A store marks the line dirty.
func (c *Cache) Access(pa uint64, store bool) Access {
	if store {
		c.stats.Stores++
	} else {
		c.stats.Loads++
	}

	line := pa &^ uint64(c.config.BlockSize-1)

	if block := c.directory.Lookup(0, line); block != nil && block.IsValid {
		c.stats.Hits++
		block.IsDirty = block.IsDirty || store
		c.directory.Visit(block)
		return Access{Hit: true, Latency: c.config.HitLatency}
	}

	c.stats.Misses++
	res := Access{Latency: c.config.MissLatency}

	victim := c.directory.FindVictim(line)
	if victim == nil {
		return res
	}

	if victim.IsValid {
		res.Evicted = true
		res.Victim = victim.Tag
		if victim.IsDirty {
			c.stats.Writebacks++
			res.Writeback = true
		}
	}

	victim.Tag = line
	victim.IsValid = true
	victim.IsDirty = store
	c.directory.Visit(victim)

	return res
}
