// Package regfile implements the architectural register file: 32
// general-purpose entries plus a program counter, both interpreted at
// XLEN (spec.md §3 "Register file").
package regfile

import (
	"fmt"

	"github.com/bassosimone/rvsim/pkg/except"
	"github.com/bassosimone/rvsim/pkg/types"
)

// NumGPR is the number of general-purpose registers, x0 through x31.
const NumGPR = 32

// File holds the 32 general-purpose registers and the program
// counter. GPR writes to index 0 are silently dropped; PC writes must
// be 4-byte aligned (spec.md §3, testable property 1).
type File struct {
	gpr [NumGPR]uint64
	pc  types.Address

	onWrite func(idx int, value uint64)
	onPC    func(pc types.Address)
}

// New constructs a File with all registers and the PC set to zero.
func New() *File {
	return &File{}
}

// SetWriteObserver installs a callback invoked after every successful
// GPR write (including the dropped write to x0, with value 0, so a
// caller tracing writes sees a consistent notification stream). A nil
// callback disables notification.
func (f *File) SetWriteObserver(cb func(idx int, value uint64)) { f.onWrite = cb }

// SetPCObserver installs a callback invoked after every successful PC
// write. A nil callback disables notification.
func (f *File) SetPCObserver(cb func(pc types.Address)) { f.onPC = cb }

// GPR returns the current value of general-purpose register idx.
func (f *File) GPR(idx int) uint64 {
	if idx == 0 {
		return 0
	}
	return f.gpr[idx]
}

// SetGPR writes value to general-purpose register idx. Writes to x0
// are silently dropped (spec.md "Writes to GPR 0 are silently
// dropped"), but still fire the write observer with value 0 so
// tracing consumers observe every retired instruction's destination.
func (f *File) SetGPR(idx int, value uint64) {
	if idx == 0 {
		if f.onWrite != nil {
			f.onWrite(0, 0)
		}
		return
	}
	f.gpr[idx] = value
	if f.onWrite != nil {
		f.onWrite(idx, value)
	}
}

// PC returns the current program counter.
func (f *File) PC() types.Address { return f.pc }

// SetPC writes the program counter. The target must be 4-byte
// aligned (spec.md "Program-counter writes require 4-byte
// alignment"); a misaligned target returns except.ErrSanity wrapped
// with the offending address, which callers return unchanged as an
// error (the cores trap misaligned jump targets in execute, before
// any PC write).
func (f *File) SetPC(target types.Address) error {
	if !target.AlignedTo(4) {
		return except.Wrap(except.ErrSanity, fmt.Sprintf("pc write to unaligned address %#x", target.Raw()))
	}
	f.pc = target
	if f.onPC != nil {
		f.onPC(f.pc)
	}
	return nil
}

// AdvancePC sets the program counter to pc+4, the sequential
// fall-through used when an instruction neither branches nor jumps.
func (f *File) AdvancePC() error {
	return f.SetPC(f.pc.Add(4))
}

// Snapshot returns a copy of all 32 GPR values and the PC, for a CLI
// subcommand that dumps register state.
func (f *File) Snapshot() (gpr [NumGPR]uint64, pc types.Address) {
	return f.gpr, f.pc
}
