// Package csr implements the machine-mode control and status register
// file: the mstatus/mie/mip/mcause/mtvec/mepc/mtval register set, its
// per-address write masks, and the trap-entry/trap-return state
// transitions the pipeline's exception handling drives (spec.md §2.4,
// §4.3).
package csr

import (
	"fmt"

	"github.com/bassosimone/rvsim/pkg/except"
	"github.com/bassosimone/rvsim/pkg/types"
)

// CSR addresses recognized by this file (spec.md §4.3).
const (
	AddrMStatus = 0x300
	AddrMIE     = 0x304
	AddrMTVec   = 0x305
	AddrMScratch = 0x340
	AddrMEPC    = 0x341
	AddrMCause  = 0x342
	AddrMTVal   = 0x343
	AddrMIP     = 0x344
	AddrMCycle  = 0xB00
	AddrMInstret = 0xB02
	AddrMHartID = 0xF14
	AddrSatp    = 0x180
)

// Sv32 satp field widths (spec.md §6 "[mode(1) | asid(9) | ppn(22)]").
const (
	satpModeShift = 31
	satpASIDShift = 22
	satpASIDMask  = 0x1ff
	satpPPNMask   = 0x3fffff
)

// mstatus bit positions (machine-mode subset: MIE/MPIE/MPP, plus the
// supervisor-level SIE/SPIE/SPP bits this simulator never transitions
// into but keeps field-addressable for completeness).
const (
	bitSIE  = 1
	bitMIE  = 3
	bitSPIE = 5
	bitMPIE = 7
	bitSPP  = 8
	bitMPP0 = 11
	bitMPP1 = 12
)

// Interrupt bit positions shared by mie/mip (spec.md §4.3).
const (
	BitSoftwareInterrupt = 1 << 3
	BitTimerInterrupt    = 1 << 7
)

// writeMasks limits which bits of a CSR software can actually modify;
// bits outside the mask retain their previous value across a write,
// mirroring the Subfield-write-mask idiom of cop0 registers.
var writeMasks = map[uint32]uint64{
	AddrMStatus:  0x19AA, // SIE,MIE,SPIE,MPIE,SPP,MPP[1:0] - the bits this file models
	AddrMIE:      BitSoftwareInterrupt | BitTimerInterrupt,
	AddrMTVec:    ^uint64(0),
	AddrMScratch: ^uint64(0),
	AddrMEPC:     ^uint64(1), // bit0 of an instruction address is always 0
	AddrMCause:   ^uint64(0),
	AddrMTVal:    ^uint64(0),
	AddrMIP:      BitSoftwareInterrupt, // timer-pending is driven by the clock device, not software
	AddrSatp:     0xffffffff,           // mode(1) | asid(9) | ppn(22), all software-writable
}

// File is the machine-mode CSR register file plus the free-running
// cycle/instret counters mcycle/minstret expose (spec.md §4.3).
type File struct {
	regs    map[uint32]uint64
	cycle   uint64
	instret uint64
	hartID  uint64
	satpGen uint64
}

// NewFile constructs a CSR file with mstatus/mtvec/mepc/etc reset to
// zero and mhartid fixed at hartID.
func NewFile(hartID uint64) *File {
	return &File{regs: map[uint32]uint64{}, hartID: hartID}
}

// Tick advances the free-running cycle counter by one; the core calls
// this once per Step regardless of whether the pipeline retired an
// instruction.
func (f *File) Tick() { f.cycle++ }

// Retire advances minstret; the core calls this once per retired
// instruction (i.e. skipped on a pipeline bubble or flush).
func (f *File) Retire() { f.instret++ }

// Read returns the current value of the CSR at addr.
func (f *File) Read(addr uint32) (uint64, error) {
	switch addr {
	case AddrMCycle:
		return f.cycle, nil
	case AddrMInstret:
		return f.instret, nil
	case AddrMHartID:
		return f.hartID, nil
	default:
		if !isKnownAddr(addr) {
			return 0, except.Wrap(except.ErrSanity, fmt.Sprintf("csr: unknown address %#x", addr))
		}
		return f.regs[addr], nil
	}
}

// isReadOnlyAddr reports whether addr's top two bits are both set: per
// spec.md §4.3, such a CSR address is architecturally read-only and
// any write to it must trap as an illegal instruction, regardless of
// whether this file otherwise recognizes the address.
func isReadOnlyAddr(addr uint32) bool {
	return addr&0xC00 == 0xC00
}

// Write sets the CSR at addr to value, applying the address's write
// mask so reserved/read-only bits are unaffected (spec.md testable
// property 6: write-then-read observes value&mask).
func (f *File) Write(addr uint32, value uint64) error {
	if isReadOnlyAddr(addr) {
		return except.Wrap(except.ErrSanity, fmt.Sprintf("csr: %#x is read-only", addr))
	}
	switch addr {
	case AddrMCycle:
		f.cycle = value
		return nil
	case AddrMInstret:
		f.instret = value
		return nil
	case AddrMHartID:
		return except.Wrap(except.ErrSanity, "csr: mhartid is read-only")
	default:
		mask, ok := writeMasks[addr]
		if !ok {
			return except.Wrap(except.ErrSanity, fmt.Sprintf("csr: unknown address %#x", addr))
		}
		prev := f.regs[addr]
		f.regs[addr] = (prev &^ mask) | (value & mask)
		if addr == AddrSatp {
			f.satpGen++
		}
		return nil
	}
}

func isKnownAddr(addr uint32) bool {
	_, ok := writeMasks[addr]
	return ok
}

// mstatusBit reads one single-bit mstatus field.
func (f *File) mstatusBit(bit uint) bool {
	return f.regs[AddrMStatus]&(1<<bit) != 0
}

func (f *File) setMStatusBit(bit uint, v bool) {
	if v {
		f.regs[AddrMStatus] |= 1 << bit
	} else {
		f.regs[AddrMStatus] &^= 1 << bit
	}
}

// MIE reports the global machine-mode interrupt enable.
func (f *File) MIE() bool { return f.mstatusBit(bitMIE) }

// MPIE reports the machine previous interrupt enable, saved across a trap.
func (f *File) MPIE() bool { return f.mstatusBit(bitMPIE) }

// MPP returns the machine previous privilege level (0=U, 1=S, 3=M).
func (f *File) MPP() uint {
	var v uint
	if f.mstatusBit(bitMPP0) {
		v |= 1
	}
	if f.mstatusBit(bitMPP1) {
		v |= 2
	}
	return v
}

// SetInterruptPending sets or clears a bit of mip. Software can only
// set the software-interrupt bit directly (spec.md §4.3); the timer
// bit is driven by the clock device via this same setter.
func (f *File) SetInterruptPending(bit uint64, pending bool) {
	if pending {
		f.regs[AddrMIP] |= bit
	} else {
		f.regs[AddrMIP] &^= bit
	}
}

// CoreInterruptRequest reports whether a pending, enabled interrupt
// should preempt the next instruction: MIE is set and mie&mip is
// nonzero (spec.md §4.3). The lowest-numbered pending bit wins.
func (f *File) CoreInterruptRequest() (except.ExceptionCause, bool) {
	if !f.MIE() {
		return except.CauseNone, false
	}
	pending := f.regs[AddrMIE] & f.regs[AddrMIP]
	switch {
	case pending&BitSoftwareInterrupt != 0:
		return except.CauseSoftwareInterrupt, true
	case pending&BitTimerInterrupt != 0:
		return except.CauseTimerInterrupt, true
	default:
		return except.CauseNone, false
	}
}

// causeCode maps an ExceptionCause to the value mcause's low bits
// store; interrupts additionally set mcause's top bit.
func causeCode(cause except.ExceptionCause) uint64 {
	switch cause {
	case except.CauseIllegalInstruction, except.CauseUnsupportedInstruction:
		return 2
	case except.CauseBreakpoint, except.CauseHWBreak:
		return 3
	case except.CauseOutOfMemoryAccess, except.CausePageFault:
		return 5
	case except.CauseECall:
		return 11
	case except.CauseUnalignedJump:
		return 0
	case except.CauseSoftwareInterrupt:
		return 3
	case except.CauseTimerInterrupt:
		return 7
	default:
		return 0
	}
}

// ExceptionInitiate performs trap entry: it saves pc to mepc, records
// cause and trapValue into mcause/mtval, pushes MIE into MPIE and
// clears MIE, and returns the address execution must resume at
// (mtvec, possibly vectored for interrupts per spec.md §4.3).
func (f *File) ExceptionInitiate(pc types.Address, cause except.ExceptionCause, trapValue uint64) types.Address {
	f.regs[AddrMEPC] = pc.Raw() &^ 1
	code := causeCode(cause)
	if cause.IsInterrupt() {
		code |= 1 << 63
	}
	f.regs[AddrMCause] = code
	f.regs[AddrMTVal] = trapValue
	f.setMStatusBit(bitMPIE, f.MIE())
	f.setMStatusBit(bitMIE, false)

	base := f.regs[AddrMTVec] &^ 0x3
	mode := f.regs[AddrMTVec] & 0x3
	if mode == 1 && cause.IsInterrupt() {
		return types.NewAddress(base + 4*code)
	}
	return types.NewAddress(base)
}

// ExceptionReturn performs trap return (mret): it restores MIE from
// MPIE, sets MPIE, and returns the address saved in mepc.
func (f *File) ExceptionReturn() types.Address {
	f.setMStatusBit(bitMIE, f.MPIE())
	f.setMStatusBit(bitMPIE, true)
	return types.NewAddress(f.regs[AddrMEPC])
}

// Cycle returns the free-running cycle counter (for mcycle reads that
// bypass the CSR address path, e.g. a CLI "cycles" report).
func (f *File) Cycle() uint64 { return f.cycle }

// Instret returns the retired-instruction counter.
func (f *File) Instret() uint64 { return f.instret }

// Satp decomposes the satp CSR into its mode/ASID/root-PPN fields
// (spec.md §6 "[mode(1) | asid(9) | ppn(22)]"). mode is 0 (Bare) or 1
// (Sv32); the simulator defines no other mode.
func (f *File) Satp() (mode uint64, asid uint64, ppn uint64) {
	v := f.regs[AddrSatp]
	mode = v >> satpModeShift
	asid = (v >> satpASIDShift) & satpASIDMask
	ppn = v & satpPPNMask
	return
}

// SatpGeneration returns a counter that increments every time satp is
// written, so a collaborator (the TLB) can detect "satp changed since
// I last looked" without polling its raw value on every translation.
func (f *File) SatpGeneration() uint64 { return f.satpGen }
