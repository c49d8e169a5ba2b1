package pipeline

import (
	"github.com/bassosimone/rvsim/pkg/isa"
	"github.com/bassosimone/rvsim/pkg/memory"
)

// accessOptionsFor translates a MemControl into the memory package's
// width/sign-extension options (spec.md §3's memory access control
// table).
func accessOptionsFor(mem isa.MemControl, isFetch bool) memory.AccessOptions {
	switch mem {
	case isa.MemLB:
		return memory.AccessOptions{Width: memory.WidthByte, Signed: true, IsFetch: isFetch}
	case isa.MemLBU, isa.MemSB:
		return memory.AccessOptions{Width: memory.WidthByte, IsFetch: isFetch}
	case isa.MemLH:
		return memory.AccessOptions{Width: memory.WidthHalf, Signed: true, IsFetch: isFetch}
	case isa.MemLHU, isa.MemSH:
		return memory.AccessOptions{Width: memory.WidthHalf, IsFetch: isFetch}
	case isa.MemLW:
		return memory.AccessOptions{Width: memory.WidthWord, Signed: true, IsFetch: isFetch}
	case isa.MemLWU, isa.MemSW:
		return memory.AccessOptions{Width: memory.WidthWord, IsFetch: isFetch}
	case isa.MemLD, isa.MemSD:
		return memory.AccessOptions{Width: memory.WidthDouble, IsFetch: isFetch}
	default:
		return memory.AccessOptions{Width: memory.WidthWord, IsFetch: isFetch}
	}
}

// csrCombine applies a CSRRW/CSRRS/CSRRC (or the *I zimm variants)
// read-modify-write rule against the CSR's old value and the
// already-resolved rs1/zimm operand (spec.md §4.3's CSR instruction
// table).
func csrCombine(mnemonic string, old, operand uint64) uint64 {
	switch mnemonic {
	case "csrrw", "csrrwi":
		return operand
	case "csrrs", "csrrsi":
		return old | operand
	case "csrrc", "csrrci":
		return old &^ operand
	default:
		return old
	}
}

// csrWritesCSR reports whether mnemonic's semantics require the CSR
// write at all: CSRRS/CSRRC with a zero operand (x0 or zimm==0) leave
// the CSR unmodified per the RISC-V spec's "shall not write."
func csrSkipsWrite(mnemonic string, operand uint64, rs1IsZero bool) bool {
	switch mnemonic {
	case "csrrs", "csrrc":
		return rs1IsZero
	case "csrrsi", "csrrci":
		return operand == 0
	default:
		return false
	}
}
