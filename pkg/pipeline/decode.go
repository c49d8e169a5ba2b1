package pipeline

import "github.com/bassosimone/rvsim/pkg/isa"

// immediateFor extracts the sign- or zero-extended immediate carried
// by word, picking the accessor that matches entry's encoding format
// (spec.md §3 "decode extracts fields ... via a hierarchical decode
// tree").
func immediateFor(entry *isa.MapEntry, word isa.Word) int64 {
	switch entry.Type {
	case isa.TypeI:
		if entry.Flags&isa.FlagIsCSR != 0 {
			return int64(word.CSRAddr())
		}
		if usesShamt(entry) {
			return int64(shamtFor(entry, word))
		}
		return int64(word.ImmI())
	case isa.TypeS:
		return int64(word.ImmS())
	case isa.TypeB:
		return int64(word.ImmB())
	case isa.TypeU:
		return int64(word.ImmU())
	case isa.TypeJ:
		return int64(word.ImmJ())
	default:
		return 0
	}
}

// zimmFor returns the 5-bit CSR-immediate CSRRWI/CSRRSI/CSRRCI carry
// in the rs1 field, used instead of a register read (spec.md §4.1
// ArgZimm).
func zimmFor(word isa.Word) uint64 { return uint64(word.Rs1()) }

// usesShamt reports whether entry's immediate is actually a shift
// amount (ArgShamt in its argument syntax) rather than a general
// sign-extended I-type immediate.
func usesShamt(entry *isa.MapEntry) bool {
	for _, a := range entry.ArgSyntax {
		if a == isa.ArgShamt {
			return true
		}
	}
	return false
}

// shamtFor returns the shift-amount field, 5 bits for the 32-bit-only
// "W" shifts and 6 bits otherwise (spec.md §3 Shamt32/Shamt64).
func shamtFor(entry *isa.MapEntry, word isa.Word) uint64 {
	if entry.Flags&isa.FlagWord32 != 0 {
		return uint64(word.Shamt32())
	}
	return uint64(word.Shamt64())
}
