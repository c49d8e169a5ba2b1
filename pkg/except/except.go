// Package except defines the error kinds the simulation core can
// raise: architectural exceptions threaded through the pipeline as
// ExceptionCause values (spec.md §7), and internal sentinel errors
// that bubble up to Machine.Step and halt the machine, in the same
// wrapped-sentinel style as the teacher's vm.ErrHalted/vm.ErrSIGSEGV.
package except

import (
	"errors"
	"fmt"
)

// ExceptionCause identifies why a pipeline stage trapped. Synchronous
// causes occupy the low bits of mcause; external interrupts are
// reported with the top bit set (spec.md §4.3, §6).
type ExceptionCause int

// The exception causes the core can raise (spec.md §7).
const (
	CauseNone ExceptionCause = iota
	CauseUnsupportedInstruction
	CauseIllegalInstruction
	CauseUnalignedJump
	CauseOutOfMemoryAccess
	CausePageFault
	CauseBreakpoint
	CauseECall
	CauseHWBreak
	CauseTimerInterrupt
	CauseSoftwareInterrupt
)

// String renders a human-readable cause name, used in log fields and
// disassembly-adjacent diagnostics.
func (c ExceptionCause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseUnsupportedInstruction:
		return "unsupported-instruction"
	case CauseIllegalInstruction:
		return "illegal-instruction"
	case CauseUnalignedJump:
		return "unaligned-jump"
	case CauseOutOfMemoryAccess:
		return "out-of-memory-access"
	case CausePageFault:
		return "page-fault"
	case CauseBreakpoint:
		return "breakpoint"
	case CauseECall:
		return "ecall"
	case CauseHWBreak:
		return "hwbreak"
	case CauseTimerInterrupt:
		return "timer-interrupt"
	case CauseSoftwareInterrupt:
		return "software-interrupt"
	default:
		return fmt.Sprintf("cause(%d)", int(c))
	}
}

// IsInterrupt reports whether the cause is an asynchronous external
// interrupt rather than a synchronous exception (spec.md §4.3).
func (c ExceptionCause) IsInterrupt() bool {
	return c == CauseTimerInterrupt || c == CauseSoftwareInterrupt
}

// The following sentinel errors are raised by backends/components and
// bubble up to Machine.Step, which converts them to the ST_TRAPPED
// status (spec.md §7).
var (
	// ErrUnsupportedAluOperation is raised by the ALU sub-dispatch when
	// fed an invalid opcode. Sanity only: decode should never produce one.
	ErrUnsupportedAluOperation = errors.New("except: unsupported alu operation")

	// ErrOverflow is reserved; the current RV-conformant ALU never raises it.
	ErrOverflow = errors.New("except: overflow")

	// ErrUnknownMemoryControl is raised when the memory stage is given an
	// unrecognized AccessControl value. Sanity only.
	ErrUnknownMemoryControl = errors.New("except: unknown memory control")

	// ErrSanity indicates an internal invariant was violated. Should never
	// fire in a working implementation.
	ErrSanity = errors.New("except: sanity violation")

	// ErrSyscallUnknown is raised by the (out-of-scope) OS syscall
	// emulator collaborator; kept here so handlers registered against
	// ECALL can propagate it uniformly.
	ErrSyscallUnknown = errors.New("except: unknown syscall")

	// ErrHalted indicates the machine executed a halting condition
	// (e.g. an unhandled exception whose handler returns false).
	ErrHalted = errors.New("except: machine halted")
)

// Wrap attaches context to one of the sentinel errors above, in the
// teacher's "%w: detail" idiom.
func Wrap(sentinel error, detail string) error {
	return fmt.Errorf("%w: %s", sentinel, detail)
}
