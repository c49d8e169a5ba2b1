package pipeline

import (
	"github.com/bassosimone/rvsim/pkg/except"
	"github.com/bassosimone/rvsim/pkg/isa"
	"github.com/bassosimone/rvsim/pkg/types"
)

// forwardSource names where an execute-stage operand comes from: the
// plain register-file read, or a value forwarded from a later stage
// still in flight (spec.md §4.9 "forwarding selects between {none,
// from memory stage, from writeback stage}").
type forwardSource int

const (
	forwardNone forwardSource = iota
	forwardFromMemory
	forwardFromWriteback
)

// fdLatch is the fetch→decode interstage: the fetched word plus the
// addresses and exception state fetch produced (spec.md §4.9 "Each
// latch carries the decoded instruction, addresses (own, next,
// predicted-next) ... and exception cause").
type fdLatch struct {
	Valid         bool
	PC            types.Address
	PredictedNext types.Address
	Word          isa.Word
	ExCause       except.ExceptionCause
}

func (l *fdLatch) flush() { *l = fdLatch{} }

// deLatch is the decode→execute interstage: the decoded instruction,
// its register operands (unforwarded — execute applies forwarding),
// and the forwarding selectors decode computed for visualization.
type deLatch struct {
	Valid         bool
	PC            types.Address
	NextPC        types.Address
	PredictedNext types.Address
	Entry         *isa.MapEntry
	Rd, Rs1, Rs2  uint32
	Rs1Val        uint64
	Rs2Val        uint64
	Imm           int64
	CSRAddr       uint32
	ForwardRs1    forwardSource
	ForwardRs2    forwardSource
	ExCause       except.ExceptionCause
}

func (l *deLatch) flush() { *l = deLatch{} }

// emLatch is the execute→memory interstage: the ALU result (the
// value that will be written back, or the computed memory address for
// loads/stores), the branch/jump resolution, and control signals
// memory and writeback consume.
type emLatch struct {
	Valid      bool
	PC         types.Address
	NextPC     types.Address // the address execute resolved as the true next PC
	Entry      *isa.MapEntry
	Rd         uint32
	ALUResult  uint64
	StoreValue uint64 // rs2 value, for stores
	CSRAddr    uint32
	CSROldVal  uint64
	ExCause    except.ExceptionCause
	TrapValue  uint64
}

func (l *emLatch) flush() { *l = emLatch{} }

// mwLatch is the memory→writeback interstage: the value that
// writeback commits into the register file, plus any exception memory
// raised (escalated and handled at the memory stage itself, but still
// carried here so Machine can observe what retired).
type mwLatch struct {
	Valid     bool
	PC        types.Address
	Entry     *isa.MapEntry
	Rd        uint32
	Value     uint64
	WritesRd  bool
	ExCause   except.ExceptionCause
	TrapValue uint64
}

func (l *mwLatch) flush() { *l = mwLatch{} }
