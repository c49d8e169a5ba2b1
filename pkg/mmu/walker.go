package mmu

import (
	"errors"

	"github.com/bassosimone/rvsim/pkg/memory"
	"github.com/bassosimone/rvsim/pkg/types"
	"github.com/sirupsen/logrus"
)

// Sv32 PTE bit positions (spec.md §3 "Bits V, R, W, X, U, G, A, D,
// RSW(2), PPN(22)").
const (
	pteBitV = 1 << 0
	pteBitR = 1 << 1
	pteBitW = 1 << 2
	pteBitX = 1 << 3
	pteBitU = 1 << 4
	pteBitG = 1 << 5
	pteBitA = 1 << 6
	pteBitD = 1 << 7
	pteLeafFull = pteBitV | pteBitR | pteBitW | pteBitX | pteBitA | pteBitD
	ptePPNShift = 10
)

func pteValid(pte uint64) bool { return pte&pteBitV != 0 }

// pteMisconfigured reports the PTE validity rule of spec.md §3: "A PTE
// is a leaf iff R or X is set; validity requires V set and not (W and
// not R)".
func pteMisconfigured(pte uint64) bool {
	return pte&pteBitW != 0 && pte&pteBitR == 0
}

func pteIsLeaf(pte uint64) bool {
	return pte&(pteBitR|pteBitX) != 0
}

func ptePPN(pte uint64) uint64 {
	return pte >> ptePPNShift
}

// errPageFault is the walker's internal signal that translation
// reached an invalid or misconfigured PTE; TLB.Translate catches it
// and drives the page-fault handler before retrying.
var errPageFault = errors.New("mmu: page fault")

// busDevice is the narrow surface of pkg/bus the walker needs: raw
// physical-address load/store to read and install page table entries.
type busDevice interface {
	Load(addr types.Address, opts memory.AccessOptions) (uint64, error)
	Store(addr types.Address, value uint64, opts memory.AccessOptions) error
}

// Walker reads Sv32 page tables over a physical bus and, on a miss
// with no installed mapping, lazily creates one (spec.md §4.7).
type Walker struct {
	bus       busDevice
	nextFrame uint64 // bump allocator for freshly faulted-in page tables/data pages
	log       *logrus.Logger
}

// NewWalker constructs a Walker over bus, allocating lazily-faulted
// frames starting at frameBase (which must not alias any range the
// program/stack already occupies).
func NewWalker(bus busDevice, frameBase uint64) *Walker {
	return &Walker{bus: bus, nextFrame: frameBase >> types.Sv32PageBits, log: logrus.StandardLogger()}
}

// SetLogger overrides the walker's page-fault/installed-PTE event
// logger (spec.md §6); the default is logrus.StandardLogger().
func (w *Walker) SetLogger(l *logrus.Logger) { w.log = l }

func (w *Walker) allocFrame() uint64 {
	f := w.nextFrame
	w.nextFrame++
	return f
}

func (w *Walker) readPTE(addr uint64) (uint64, error) {
	v, err := w.bus.Load(types.NewAddress(addr), memory.AccessOptions{Width: memory.WidthWord})
	return v, err
}

func (w *Walker) writePTE(addr uint64, pte uint64) error {
	return w.bus.Store(types.NewAddress(addr), pte, memory.AccessOptions{Width: memory.WidthWord})
}

// Walk performs the two-level Sv32 page-table walk described in
// spec.md §4.7, returning the resolved physical page number. superPage
// is true when the level-1 PTE itself is a leaf (a 4MiB mapping); in
// that case ppn carries only the upper 12 physical-page-number bits
// and the caller composes the final address with the VA's super-page
// offset, which already contains the VPN0 bits the super-page leaf
// leaves unspecified.
func (w *Walker) Walk(rootPPN uint64, va types.VirtualAddress, opts memory.AccessOptions) (ppn uint64, superPage bool, err error) {
	pte1Addr := rootPPN<<types.Sv32PageBits + uint64(va.VPN1())*4
	pte1, err := w.readPTE(pte1Addr)
	if err != nil {
		return 0, false, err
	}
	if !pteValid(pte1) || pteMisconfigured(pte1) {
		return 0, false, errPageFault
	}
	if pteIsLeaf(pte1) {
		return ptePPN(pte1) >> 10, true, nil
	}

	pte0Addr := ptePPN(pte1)<<types.Sv32PageBits + uint64(va.VPN0())*4
	pte0, err := w.readPTE(pte0Addr)
	if err != nil {
		return 0, false, err
	}
	if !pteValid(pte0) || pteMisconfigured(pte0) || !pteIsLeaf(pte0) {
		return 0, false, errPageFault
	}
	return ptePPN(pte0), false, nil
}

// HandlePageFault lazily installs whatever is missing along the path
// to va: a level-0 page table if the level-1 PTE was invalid, and a
// leaf data page if the level-0 PTE was invalid. It does not attempt
// to repair a misconfigured (as opposed to merely absent) PTE, which
// the caller's retried Walk will report as a page fault again (spec.md
// §4.7 "lazily allocate any missing level-0 page table and any
// missing leaf data page; install corresponding PTEs with
// V=R=W=X=A=D=1").
func (w *Walker) HandlePageFault(rootPPN uint64, va types.VirtualAddress, opts memory.AccessOptions) error {
	pte1Addr := rootPPN<<types.Sv32PageBits + uint64(va.VPN1())*4
	pte1, err := w.readPTE(pte1Addr)
	if err != nil {
		return err
	}

	if !pteValid(pte1) {
		// Install a non-leaf pointer PTE to a fresh, zeroed page table.
		ptFrame := w.allocFrame()
		if err := w.writePTE(pte1Addr, ptFrame<<ptePPNShift|pteBitV); err != nil {
			return err
		}
		w.log.WithField("frame", ptFrame).Debug("mmu: installed level-0 page table")
		pte1 = ptFrame<<ptePPNShift | pteBitV
	} else if pteMisconfigured(pte1) || pteIsLeaf(pte1) {
		return errPageFault
	}

	pte0Addr := ptePPN(pte1)<<types.Sv32PageBits + uint64(va.VPN0())*4
	pte0, err := w.readPTE(pte0Addr)
	if err != nil {
		return err
	}
	if !pteValid(pte0) {
		dataFrame := w.allocFrame()
		if err := w.writePTE(pte0Addr, dataFrame<<ptePPNShift|pteLeafFull); err != nil {
			return err
		}
		w.log.WithField("frame", dataFrame).Debug("mmu: installed leaf data page")
	} else if pteMisconfigured(pte0) || !pteIsLeaf(pte0) {
		return errPageFault
	}
	return nil
}
