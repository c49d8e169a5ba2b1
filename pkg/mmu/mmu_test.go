package mmu

import (
	"testing"

	"github.com/bassosimone/rvsim/pkg/bus"
	"github.com/bassosimone/rvsim/pkg/csr"
	"github.com/bassosimone/rvsim/pkg/memory"
	"github.com/bassosimone/rvsim/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *bus.Bus {
	ram := memory.NewSparseRAM(1 << 24)
	b, err := bus.New([]bus.Range{{Name: "ram", Start: types.NewAddress(0), Device: ram}})
	require.NoError(t, err)
	return b
}

func enablePaging(t *testing.T, f *csr.File, rootPPN uint64) {
	require.NoError(t, f.Write(csr.AddrSatp, 1<<31|rootPPN))
}

func TestBareModeIsIdentityTranslation(t *testing.T) {
	b := newTestBus(t)
	f := csr.NewFile(0)
	w := NewWalker(b, 0x100000)
	tlb := New(Config{Sets: 4, Associativity: 2}, w, f)

	pa, cause, err := tlb.Translate(types.NewVirtualAddress(0x1234), memory.AccessOptions{Width: memory.WidthWord})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), uint64(cause))
	assert.Equal(t, uint64(0x1234), pa.Raw())
}

func TestLazyPageFaultInstallsMappingThenHits(t *testing.T) {
	b := newTestBus(t)
	f := csr.NewFile(0)
	enablePaging(t, f, 0x10) // root page table lives at physical frame 0x10 (0x10000)
	w := NewWalker(b, 0x100000)
	tlb := New(Config{Sets: 4, Associativity: 2}, w, f)

	va := types.NewVirtualAddress(0x00401000)
	pa, cause, err := tlb.Translate(va, memory.AccessOptions{Width: memory.WidthWord})
	require.NoError(t, err)
	require.Equal(t, 0, int(cause), "the lazy page-fault handler must resolve the first access transparently")
	assert.True(t, pa.Raw() >= 0x100000, "the faulted-in data page must come from the walker's frame allocator")

	pa2, cause2, err2 := tlb.Translate(va, memory.AccessOptions{Width: memory.WidthWord})
	require.NoError(t, err2)
	require.Equal(t, 0, int(cause2))
	assert.Equal(t, pa.Raw(), pa2.Raw(), "a second translation of the same page must return the same physical address")
}

func TestSatpWriteFlushesTLB(t *testing.T) {
	b := newTestBus(t)
	f := csr.NewFile(0)
	enablePaging(t, f, 0x10)
	w := NewWalker(b, 0x100000)
	tlb := New(Config{Sets: 1, Associativity: 1}, w, f)

	va := types.NewVirtualAddress(0x1000)
	_, _, err := tlb.Translate(va, memory.AccessOptions{Width: memory.WidthWord})
	require.NoError(t, err)
	require.True(t, len(tlb.sets[0]) > 0)
	_, e, ok := lookup(tlb.sets[0], 0, va)
	require.True(t, ok)
	_ = e

	// Re-pointing satp at a fresh, empty root page table must flush the
	// stale entry: re-translating the same VA must fault and re-walk
	// rather than returning the old mapping.
	enablePaging(t, f, 0x20)
	before := w.nextFrame
	_, _, err = tlb.Translate(va, memory.AccessOptions{Width: memory.WidthWord})
	require.NoError(t, err)
	assert.Greater(t, w.nextFrame, before, "a flushed TLB must re-walk (and re-fault-in) rather than reuse the stale entry")
}

func TestFlushVAWildcardInvalidatesMatchingEntry(t *testing.T) {
	b := newTestBus(t)
	f := csr.NewFile(0)
	enablePaging(t, f, 0x10)
	w := NewWalker(b, 0x100000)
	tlb := New(Config{Sets: 1, Associativity: 2}, w, f)

	va := types.NewVirtualAddress(0x2000)
	_, _, err := tlb.Translate(va, memory.AccessOptions{Width: memory.WidthWord})
	require.NoError(t, err)
	_, _, ok := lookup(tlb.sets[0], 0, va)
	require.True(t, ok)

	tlb.FlushVA(va, 0, true, true)
	_, _, ok = lookup(tlb.sets[0], 0, va)
	assert.False(t, ok, "FlushVA with wildcards must invalidate the matching entry")
}

func TestIdentityMappedRangesBypassTranslation(t *testing.T) {
	assert.True(t, IdentityMapped(0xffffc000))
	assert.True(t, IdentityMapped(0xffe00000))
	assert.False(t, IdentityMapped(0x1000))
}

func TestSuperPageLeafComposesSuperPageOffset(t *testing.T) {
	b := newTestBus(t)
	f := csr.NewFile(0)
	enablePaging(t, f, 0x10)

	// Install a level-1 leaf (super-page) PTE directly: PPN[1] 0x200, R=W=X=V=1.
	rootAddr := types.NewAddress(0x10 << types.Sv32PageBits)
	vpn1 := types.NewVirtualAddress(0x00c00123).VPN1()
	pteAddr := rootAddr.Add(uint64(vpn1) * 4)
	require.NoError(t, b.Store(pteAddr, 0x200<<20|pteBitV|pteBitR|pteBitW|pteBitX, memory.AccessOptions{Width: memory.WidthWord}))

	w := NewWalker(b, 0x100000)
	tlb := New(Config{Sets: 4, Associativity: 2}, w, f)

	va := types.NewVirtualAddress(0x00c00123)
	pa, cause, err := tlb.Translate(va, memory.AccessOptions{Width: memory.WidthWord})
	require.NoError(t, err)
	require.Equal(t, 0, int(cause))
	assert.Equal(t, uint64(0x200)<<types.Sv32SuperPageBits|uint64(va.SuperPageOffset()), pa.Raw())
}
