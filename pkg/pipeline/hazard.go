package pipeline

import "github.com/bassosimone/rvsim/pkg/isa"

// HazardMode selects how the pipelined core resolves data hazards
// between an instruction in decode and instructions still in flight
// ahead of it (spec.md §4.9 "Hazard unit has three modes").
type HazardMode int

// The three hazard-unit policies.
const (
	// HazardNone applies no interlocks at all: a RAW hazard silently
	// reads the stale register value, an instructive misbehavior kept
	// for teaching (spec.md "NONE: no interlocks").
	HazardNone HazardMode = iota
	// HazardStall inserts a bubble and re-fetches on every RAW hazard,
	// never forwarding.
	HazardStall
	// HazardStallForward forwards from the memory and writeback stages
	// into decode, stalling only on a load-use hazard.
	HazardStallForward
)

// rawHazard reports whether src (a decode-stage source register, 0
// meaning "not used") matches the destination of an in-flight
// instruction that writes a register.
func rawHazard(src uint32, used bool, destValid bool, dest uint32, writesRd bool) bool {
	return used && src != 0 && destValid && writesRd && dest == src
}

// selectForward picks which in-flight stage, if any, should supply
// src's value instead of the register file's, preferring the more
// recent (memory-stage) producer over the older (writeback-stage) one
// (spec.md "forwarding selects between {none, from memory stage, from
// writeback stage}").
func selectForward(src uint32, used bool, emValid bool, emRd uint32, emWritesRd bool, mwValid bool, mwRd uint32, mwWritesRd bool) forwardSource {
	if rawHazard(src, used, emValid, emRd, emWritesRd) {
		return forwardFromMemory
	}
	if rawHazard(src, used, mwValid, mwRd, mwWritesRd) {
		return forwardFromWriteback
	}
	return forwardNone
}

// entryWritesRd reports whether entry (possibly nil, for a bubble)
// writes a destination register.
func entryWritesRd(entry *isa.MapEntry) bool {
	return entry != nil && entry.Flags&isa.FlagWritesRd != 0
}

// entryReadsMem reports whether entry is a load, for the load-use
// hazard check that HazardStallForward still must stall on.
func entryReadsMem(entry *isa.MapEntry) bool {
	return entry != nil && entry.Flags&isa.FlagReadsMem != 0
}
