// Package mmu implements Sv32 address translation: a software-managed
// set-associative TLB, a two-level page-table walker, and a lazy
// page-fault handler that allocates missing page tables and data
// pages on demand (spec.md §2.8, §4.7, §6).
package mmu

import (
	"github.com/bassosimone/rvsim/pkg/except"
	"github.com/bassosimone/rvsim/pkg/memory"
	"github.com/bassosimone/rvsim/pkg/types"
)

// SatpProvider is the narrow view of the CSR file the TLB needs: the
// decomposed satp fields and a generation counter that increments on
// every satp write, so the TLB can detect "satp changed" without
// comparing the raw value on every translation.
type SatpProvider interface {
	Satp() (mode, asid, ppn uint64)
	SatpGeneration() uint64
}

// entry is one TLB row: a cached virtual-to-physical translation plus
// the policy bookkeeping its replacement scheme needs.
type entry struct {
	valid     bool
	asid      uint64
	vpn       uint64 // VPN1<<10 | VPN0 for a normal entry, or just VPN1 for a super-page entry
	superPage bool
	ppn       uint64
	lastUse   uint64
}

// Config describes a TLB instance's geometry.
type Config struct {
	Sets          int
	Associativity int
}

// TLB is a software-managed, set-associative Sv32 translation cache
// sitting in front of a Walker. A core owns one instruction TLB and
// one data TLB, each constructed over its own Walker but sharing the
// same SatpProvider (spec.md §4.7).
type TLB struct {
	cfg     Config
	sets    [][]entry
	walker  *Walker
	satp    SatpProvider
	satpGen uint64
	clock   uint64
}

// New constructs a TLB of the given geometry backed by walker, reading
// the translation root from satp.
func New(cfg Config, walker *Walker, satp SatpProvider) *TLB {
	sets := make([][]entry, cfg.Sets)
	for i := range sets {
		sets[i] = make([]entry, cfg.Associativity)
	}
	return &TLB{cfg: cfg, sets: sets, walker: walker, satp: satp, satpGen: satp.SatpGeneration()}
}

func (t *TLB) setIndex(vpn uint64) int {
	return int(vpn) % len(t.sets)
}

// Flush invalidates every TLB entry (spec.md "on a write to SATP the
// TLB flushes all entries").
func (t *TLB) Flush() {
	for i := range t.sets {
		for w := range t.sets[i] {
			t.sets[i][w] = entry{}
		}
	}
}

// FlushVA invalidates entries matching (va, asid), per SFENCE.VMA
// semantics; a wildcard flag for either component matches any value
// (spec.md "it flushes entries matching (va, asid) (wildcards
// permitted)").
func (t *TLB) FlushVA(va types.VirtualAddress, asid uint64, vaWildcard, asidWildcard bool) {
	for i := range t.sets {
		for w := range t.sets[i] {
			e := &t.sets[i][w]
			if !e.valid {
				continue
			}
			vpnMatch := vaWildcard || e.vpn == uint64(va.VPN1())<<10|uint64(va.VPN0()) || (e.superPage && e.vpn == uint64(va.VPN1()))
			asidMatch := asidWildcard || e.asid == asid
			if vpnMatch && asidMatch {
				*e = entry{}
			}
		}
	}
}

func (t *TLB) syncSatpGeneration() {
	gen := t.satp.SatpGeneration()
	if gen != t.satpGen {
		t.Flush()
		t.satpGen = gen
	}
}

// Translate resolves a virtual address to a physical one, consulting
// the TLB first and invoking the walker (and, on a walker page fault,
// the lazy page-fault handler) on a miss. Callers check IdentityMapped
// on the untranslated address first; MMIO ranges never reach this
// path (spec.md "certain physical address ranges ... are
// bypass-translated unconditionally"). A non-nil error is an internal
// backend failure (e.g. an out-of-range PTE read); a page fault that
// survives the lazy handler is reported as except.CausePageFault with
// a nil error, matching the architectural-exception threading
// described in spec.md §7.
func (t *TLB) Translate(va types.VirtualAddress, opts memory.AccessOptions) (types.Address, except.ExceptionCause, error) {
	t.syncSatpGeneration()
	t.clock++

	mode, asid, rootPPN := t.satp.Satp()
	if mode == 0 { // Bare: identity translation, no paging
		return types.NewAddress(va.Raw()), except.CauseNone, nil
	}

	vpn := uint64(va.VPN1())<<10 | uint64(va.VPN0())
	set := t.sets[t.setIndex(vpn)]

	if way, e, ok := lookup(set, asid, va); ok {
		set[way].lastUse = t.clock
		if e.superPage {
			return types.NewAddress(e.ppn<<types.Sv32SuperPageBits | uint64(va.SuperPageOffset())), except.CauseNone, nil
		}
		return types.NewAddress(e.ppn<<types.Sv32PageBits | uint64(va.PageOffset())), except.CauseNone, nil
	}

	ppn, superPage, err := t.walker.Walk(rootPPN, va, opts)
	if err == errPageFault {
		if handleErr := t.walker.HandlePageFault(rootPPN, va, opts); handleErr != nil && handleErr != errPageFault {
			return types.Address{}, except.CauseNone, handleErr
		}
		ppn, superPage, err = t.walker.Walk(rootPPN, va, opts)
	}
	if err == errPageFault {
		return types.Address{}, except.CausePageFault, nil
	}
	if err != nil {
		return types.Address{}, except.CauseNone, err
	}

	way := victim(set)
	key := vpn
	if superPage {
		key = uint64(va.VPN1())
	}
	set[way] = entry{valid: true, asid: asid, vpn: key, superPage: superPage, ppn: ppn, lastUse: t.clock}

	if superPage {
		return types.NewAddress(ppn<<types.Sv32SuperPageBits | uint64(va.SuperPageOffset())), except.CauseNone, nil
	}
	return types.NewAddress(ppn<<types.Sv32PageBits | uint64(va.PageOffset())), except.CauseNone, nil
}

func lookup(set []entry, asid uint64, va types.VirtualAddress) (int, entry, bool) {
	vpn := uint64(va.VPN1())<<10 | uint64(va.VPN0())
	for i, e := range set {
		if !e.valid || e.asid != asid {
			continue
		}
		if e.superPage && e.vpn == uint64(va.VPN1()) {
			return i, e, true
		}
		if !e.superPage && e.vpn == vpn {
			return i, e, true
		}
	}
	return 0, entry{}, false
}

// victim picks a free way if one exists, otherwise the least recently
// used one. The TLB uses a single fixed policy (unlike the cache, it
// has no configurable write policy to cross with it).
func victim(set []entry) int {
	for i, e := range set {
		if !e.valid {
			return i
		}
	}
	oldest := 0
	for i := 1; i < len(set); i++ {
		if set[i].lastUse < set[oldest].lastUse {
			oldest = i
		}
	}
	return oldest
}

// IdentityMapped reports whether pa falls in one of the MMIO ranges
// that bypass translation unconditionally (spec.md §6 memory map).
func IdentityMapped(pa uint64) bool {
	switch {
	case pa >= 0xffffc000 && pa <= 0xffffc03f: // serial port
		return true
	case pa >= 0xffff0000 && pa <= 0xffff003f: // serial port alias
		return true
	case pa >= 0xffffc100 && pa <= 0xffffc1ff: // SPI-LED
		return true
	case pa >= 0xffe00000 && pa <= 0xffe4afff: // LCD framebuffer
		return true
	case pa >= 0xfffd0000 && pa <= 0xfffdffff: // ACLINT MSWI/MTIMER/SSWI
		return true
	default:
		return false
	}
}
