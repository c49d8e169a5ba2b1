package cache

import (
	"testing"

	"github.com/bassosimone/rvsim/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func directMapped(write WritePolicy) Config {
	return Config{Sets: 4, Ways: 1, LineSize: 16, Replacement: ReplacementLRU, Write: write}
}

func TestLoadMissThenHit(t *testing.T) {
	ram := memory.NewSparseRAM(1 << 16)
	require.NoError(t, ram.Store(0x40, 0xdeadbeef, memory.AccessOptions{Width: memory.WidthWord}))
	c := New(directMapped(WriteThroughNoAllocate), ram, 1)

	_, hit, err := c.Load(0x40, memory.AccessOptions{Width: memory.WidthWord})
	require.NoError(t, err)
	assert.False(t, hit, "first access must miss")

	v, hit, err := c.Load(0x40, memory.AccessOptions{Width: memory.WidthWord})
	require.NoError(t, err)
	assert.True(t, hit, "second access to the same line must hit")
	assert.Equal(t, uint64(0xdeadbeef), v)
}

func TestWriteBackDelaysBackingStore(t *testing.T) {
	ram := memory.NewSparseRAM(1 << 16)
	c := New(directMapped(WriteBack), ram, 1)

	_, err := c.Store(0x100, 0x1234, memory.AccessOptions{Width: memory.WidthWord})
	require.NoError(t, err)

	got, err := ram.Load(0x100, memory.AccessOptions{Width: memory.WidthWord})
	require.NoError(t, err)
	assert.NotEqual(t, uint64(0x1234), got, "write-back must not touch RAM before eviction")
}

func TestWriteThroughAllocateUpdatesBackingImmediately(t *testing.T) {
	ram := memory.NewSparseRAM(1 << 16)
	c := New(directMapped(WriteThroughAllocate), ram, 1)

	_, err := c.Store(0x200, 0x5678, memory.AccessOptions{Width: memory.WidthWord})
	require.NoError(t, err)

	got, err := ram.Load(0x200, memory.AccessOptions{Width: memory.WidthWord})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x5678), got)
}

func TestWriteThroughNoAllocateSkipsFillOnStoreMiss(t *testing.T) {
	ram := memory.NewSparseRAM(1 << 16)
	c := New(directMapped(WriteThroughNoAllocate), ram, 1)

	hit, err := c.Store(0x300, 0x99, memory.AccessOptions{Width: memory.WidthByte})
	require.NoError(t, err)
	assert.False(t, hit)

	_, misses := c.Stats()
	assert.Equal(t, uint64(1), misses)
}

func TestEvictionWritesBackDirtyLine(t *testing.T) {
	ram := memory.NewSparseRAM(1 << 16)
	c := New(Config{Sets: 1, Ways: 1, LineSize: 16, Replacement: ReplacementLRU, Write: WriteBack}, ram, 1)

	_, err := c.Store(0x00, 0xaa, memory.AccessOptions{Width: memory.WidthByte})
	require.NoError(t, err)
	// same set (only one set exists), different tag: forces eviction of 0x00's line.
	_, err = c.Store(0x1000, 0xbb, memory.AccessOptions{Width: memory.WidthByte})
	require.NoError(t, err)

	got, err := ram.Load(0x00, memory.AccessOptions{Width: memory.WidthByte})
	require.NoError(t, err)
	assert.Equal(t, uint64(0xaa), got, "eviction of a dirty line must flush it to the backing store")
}

func TestStatsAccumulateHitsAndMisses(t *testing.T) {
	ram := memory.NewSparseRAM(1 << 16)
	c := New(directMapped(WriteThroughAllocate), ram, 1)
	_, _, _ = c.Load(0x10, memory.AccessOptions{Width: memory.WidthByte})
	_, _, _ = c.Load(0x10, memory.AccessOptions{Width: memory.WidthByte})
	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestLocationStatusReportsCachedAndDirty(t *testing.T) {
	ram := memory.NewSparseRAM(1 << 16)
	c := New(Config{Sets: 1, Ways: 1, LineSize: 16, Replacement: ReplacementLRU, Write: WriteBack}, ram, 1)

	assert.Equal(t, memory.StatusNone, c.LocationStatus(0x10))
	_, err := c.Store(0x10, 0xaa, memory.AccessOptions{Width: memory.WidthByte})
	require.NoError(t, err)
	assert.Equal(t, memory.StatusCached|memory.StatusDirty, c.LocationStatus(0x10))
}

func TestAsDeviceAdaptsCacheForL2Chaining(t *testing.T) {
	ram := memory.NewSparseRAM(1 << 16)
	l2 := New(directMapped(WriteThroughAllocate), ram, 1)
	l1 := New(directMapped(WriteThroughAllocate), l2.AsDevice(), 2)

	_, err := l1.Store(0x20, 0x42, memory.AccessOptions{Width: memory.WidthByte})
	require.NoError(t, err)
	got, _, err := l1.Load(0x20, memory.AccessOptions{Width: memory.WidthByte})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x42), got)

	ramVal, err := ram.Load(0x20, memory.AccessOptions{Width: memory.WidthByte})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x42), ramVal, "a write-through L1 over a write-through L2 must reach the backing RAM")
}
