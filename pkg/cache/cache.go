// Package cache implements an N-way set-associative cache sitting in
// front of a backing memory.Device, with configurable replacement and
// write policies (spec.md §2.5, §4.5).
package cache

import (
	"math/rand"

	"github.com/bassosimone/rvsim/pkg/memory"
	"github.com/sirupsen/logrus"
)

// ReplacementPolicy selects which line a set evicts on a miss with no
// free way (spec.md §4.5).
type ReplacementPolicy int

// Supported replacement policies.
const (
	ReplacementRandom ReplacementPolicy = iota
	ReplacementLRU
	ReplacementLFU
	ReplacementPseudoLRU
)

// WritePolicy selects how a store updates the backing device
// (spec.md §4.5).
type WritePolicy int

// Supported write policies.
const (
	WriteThroughNoAllocate WritePolicy = iota
	WriteThroughAllocate
	WriteBack
)

type line struct {
	valid, dirty bool
	tag          uint64
	data         []byte
	lastUse      uint64
	frequency    uint64
}

// Config describes a cache's geometry and policies.
type Config struct {
	Sets        int
	Ways        int
	LineSize    int
	Replacement ReplacementPolicy
	Write       WritePolicy
}

// Cache is a set-associative cache in front of a backing device. Its
// Load/Store operate in the backing device's address space.
type Cache struct {
	cfg     Config
	sets    [][]line
	backing memory.Device
	clock   uint64
	rng     *rand.Rand
	log     *logrus.Logger

	hits   uint64
	misses uint64
}

// SetLogger overrides the cache's event logger (spec.md §6 "cache
// hit/miss/stall/statistics updates"); the default is
// logrus.StandardLogger().
func (c *Cache) SetLogger(l *logrus.Logger) { c.log = l }

// cacheAsDevice adapts a Cache into a memory.Device, dropping the
// hit/miss bool Cache.Load/Store report for their own statistics, so
// an L2 cache can sit behind an L1 cache the same way pkg/bus's
// busAsDevice lets a cache sit in front of the whole bus.
type cacheAsDevice struct{ cache *Cache }

func (d cacheAsDevice) Size() uint64 { return ^uint64(0) }

func (d cacheAsDevice) Load(off uint64, opts memory.AccessOptions) (uint64, error) {
	v, _, err := d.cache.Load(off, opts)
	return v, err
}

func (d cacheAsDevice) Store(off uint64, value uint64, opts memory.AccessOptions) error {
	_, err := d.cache.Store(off, value, opts)
	return err
}

// AsDevice adapts c into a memory.Device so another cache or a bus
// range can sit in front of it.
func (c *Cache) AsDevice() memory.Device { return cacheAsDevice{cache: c} }

// New constructs a cache of the given geometry over backing. rngSeed
// seeds the random-replacement policy deterministically.
func New(cfg Config, backing memory.Device, rngSeed int64) *Cache {
	sets := make([][]line, cfg.Sets)
	for i := range sets {
		sets[i] = make([]line, cfg.Ways)
		for w := range sets[i] {
			sets[i][w].data = make([]byte, cfg.LineSize)
		}
	}
	return &Cache{cfg: cfg, sets: sets, backing: backing, rng: rand.New(rand.NewSource(rngSeed)), log: logrus.StandardLogger()}
}

func (c *Cache) split(addr uint64) (tag, index, offset uint64) {
	lineBits := bitsFor(c.cfg.LineSize)
	indexBits := bitsFor(c.cfg.Sets)
	offset = addr & (uint64(c.cfg.LineSize) - 1)
	index = (addr >> lineBits) & (uint64(c.cfg.Sets) - 1)
	tag = addr >> (lineBits + indexBits)
	return
}

func bitsFor(n int) uint64 {
	var bits uint64
	for (1 << bits) < n {
		bits++
	}
	return bits
}

// LocationStatus implements memory.StatusProvider: an address cached
// in some way reports CACHED, additionally DIRTY when a write-back
// line holds modified data the backing device has not yet seen
// (spec.md §4.4 "location_status").
func (c *Cache) LocationStatus(addr uint64) memory.LocationStatus {
	tag, index, _ := c.split(addr)
	set := c.sets[index]
	way := c.lookup(set, tag)
	if way < 0 {
		return memory.StatusNone
	}
	status := memory.StatusCached
	if set[way].dirty {
		status |= memory.StatusDirty
	}
	return status
}

// Stats returns the cumulative hit/miss counts (spec.md testable
// property 8).
func (c *Cache) Stats() (hits, misses uint64) { return c.hits, c.misses }

func (c *Cache) lookup(set []line, tag uint64) int {
	for i := range set {
		if set[i].valid && set[i].tag == tag {
			return i
		}
	}
	return -1
}

func (c *Cache) victim(set []line) int {
	for i := range set {
		if !set[i].valid {
			return i
		}
	}
	switch c.cfg.Replacement {
	case ReplacementRandom:
		return c.rng.Intn(len(set))
	case ReplacementLFU:
		min := 0
		for i := 1; i < len(set); i++ {
			if set[i].frequency < set[min].frequency {
				min = i
			}
		}
		return min
	default: // LRU and pseudo-LRU both degrade to true LRU in this model
		oldest := 0
		for i := 1; i < len(set); i++ {
			if set[i].lastUse < set[oldest].lastUse {
				oldest = i
			}
		}
		return oldest
	}
}

func (c *Cache) fill(set []line, way int, tag, lineBase uint64) error {
	for i := 0; i < c.cfg.LineSize; i++ {
		b, err := c.backing.Load(lineBase+uint64(i), memory.AccessOptions{Width: memory.WidthByte})
		if err != nil {
			return err
		}
		set[way].data[i] = byte(b)
	}
	set[way].valid = true
	set[way].dirty = false
	set[way].tag = tag
	set[way].frequency = 0
	return nil
}

func (c *Cache) writeBack(set []line, way int, lineBase uint64) error {
	if !set[way].dirty {
		return nil
	}
	for i := 0; i < c.cfg.LineSize; i++ {
		if err := c.backing.Store(lineBase+uint64(i), uint64(set[way].data[i]), memory.AccessOptions{Width: memory.WidthByte}); err != nil {
			return err
		}
	}
	set[way].dirty = false
	return nil
}

// Load reads opts.Width bytes at addr, filling the owning line from
// the backing device on a miss.
func (c *Cache) Load(addr uint64, opts memory.AccessOptions) (uint64, bool, error) {
	tag, index, offset := c.split(addr)
	set := c.sets[index]
	c.clock++

	way := c.lookup(set, tag)
	hit := way >= 0
	if hit {
		c.hits++
		c.log.WithField("addr", addr).Debug("cache: load hit")
	} else {
		c.misses++
		c.log.WithField("addr", addr).Debug("cache: load miss")
		way = c.victim(set)
		lineBase := addr &^ (uint64(c.cfg.LineSize) - 1)
		if set[way].valid && c.cfg.Write == WriteBack {
			evictedBase := (set[way].tag<<bitsFor(c.cfg.Sets) | index) << bitsFor(c.cfg.LineSize)
			if err := c.writeBack(set, way, evictedBase); err != nil {
				return 0, false, err
			}
		}
		if err := c.fill(set, way, tag, lineBase); err != nil {
			return 0, false, err
		}
	}
	set[way].lastUse = c.clock
	set[way].frequency++

	var raw uint64
	for i := memory.Width(0); i < opts.Width; i++ {
		raw |= uint64(set[way].data[offset+uint64(i)]) << (8 * i)
	}
	if opts.Signed {
		raw = signExtendLocal(raw, opts.Width)
	}
	return raw, hit, nil
}

// Store writes opts.Width bytes of value at addr according to the
// cache's write policy.
func (c *Cache) Store(addr uint64, value uint64, opts memory.AccessOptions) (bool, error) {
	tag, index, offset := c.split(addr)
	set := c.sets[index]
	c.clock++

	way := c.lookup(set, tag)
	hit := way >= 0

	if c.cfg.Write == WriteThroughNoAllocate && !hit {
		c.misses++
		return false, c.backing.Store(addr, value, opts)
	}

	if hit {
		c.hits++
	} else {
		c.misses++
		way = c.victim(set)
		lineBase := addr &^ (uint64(c.cfg.LineSize) - 1)
		if set[way].valid && c.cfg.Write == WriteBack {
			evictedBase := (set[way].tag<<bitsFor(c.cfg.Sets) | index) << bitsFor(c.cfg.LineSize)
			if err := c.writeBack(set, way, evictedBase); err != nil {
				return false, err
			}
		}
		if err := c.fill(set, way, tag, lineBase); err != nil {
			return false, err
		}
	}
	set[way].lastUse = c.clock
	set[way].frequency++

	for i := memory.Width(0); i < opts.Width; i++ {
		set[way].data[offset+uint64(i)] = byte(value >> (8 * i))
	}

	switch c.cfg.Write {
	case WriteBack:
		set[way].dirty = true
		return hit, nil
	default: // WriteThroughAllocate (and the already-hit NoAllocate case)
		return hit, c.backing.Store(addr, value, opts)
	}
}

func signExtendLocal(v uint64, width memory.Width) uint64 {
	switch width {
	case memory.WidthByte:
		return uint64(int64(int8(v)))
	case memory.WidthHalf:
		return uint64(int64(int16(v)))
	case memory.WidthWord:
		return uint64(int64(int32(v)))
	default:
		return v
	}
}
