package pipeline

import (
	"github.com/bassosimone/rvsim/pkg/cache"
	"github.com/bassosimone/rvsim/pkg/except"
	"github.com/bassosimone/rvsim/pkg/memory"
	"github.com/bassosimone/rvsim/pkg/mmu"
	"github.com/bassosimone/rvsim/pkg/types"
)

// Frontend is one program- or data-side memory chain: TLB → cache →
// bus, exactly as spec.md §2.6 describes ("fetch reads instruction
// via program-side frontend memory (TLB → cache → bus → RAM)"). MMIO
// ranges bypass the TLB per mmu.IdentityMapped.
type Frontend struct {
	tlb   *mmu.TLB
	cache *cache.Cache
}

// NewFrontend constructs a Frontend over tlb and cache; both must
// already be wired to the same physical bus.
func NewFrontend(tlb *mmu.TLB, c *cache.Cache) *Frontend {
	return &Frontend{tlb: tlb, cache: c}
}

// translate resolves va to a physical address, bypassing the TLB for
// identity-mapped MMIO ranges (spec.md §4.7).
func (f *Frontend) translate(va types.VirtualAddress, opts memory.AccessOptions) (types.Address, except.ExceptionCause, error) {
	if mmu.IdentityMapped(va.Raw()) {
		return types.NewAddress(va.Raw()), except.CauseNone, nil
	}
	return f.tlb.Translate(va, opts)
}

// Load performs a data-side read of opts.Width bytes at va.
func (f *Frontend) Load(va types.VirtualAddress, opts memory.AccessOptions) (uint64, except.ExceptionCause, error) {
	pa, cause, err := f.translate(va, opts)
	if err != nil || cause != except.CauseNone {
		return 0, cause, err
	}
	v, _, err := f.cache.Load(pa.Raw(), opts)
	if err != nil {
		return 0, except.CauseNone, err
	}
	return v, except.CauseNone, nil
}

// Store performs a data-side write of opts.Width bytes at va.
func (f *Frontend) Store(va types.VirtualAddress, value uint64, opts memory.AccessOptions) (except.ExceptionCause, error) {
	pa, cause, err := f.translate(va, opts)
	if err != nil || cause != except.CauseNone {
		return cause, err
	}
	if _, err := f.cache.Store(pa.Raw(), value, opts); err != nil {
		return except.CauseNone, err
	}
	return except.CauseNone, nil
}

// FetchWord performs a program-side instruction fetch at va, which
// must already be known 4-byte aligned (the register file enforces
// this on every PC write).
func (f *Frontend) FetchWord(va types.VirtualAddress) (uint32, except.ExceptionCause, error) {
	v, cause, err := f.Load(va, memory.AccessOptions{Width: memory.WidthWord, IsFetch: true})
	return uint32(v), cause, err
}
