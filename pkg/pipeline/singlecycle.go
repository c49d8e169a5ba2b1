package pipeline

import (
	"github.com/bassosimone/rvsim/pkg/csr"
	"github.com/bassosimone/rvsim/pkg/except"
	"github.com/bassosimone/rvsim/pkg/isa"
	"github.com/bassosimone/rvsim/pkg/regfile"
	"github.com/bassosimone/rvsim/pkg/types"
	"github.com/sirupsen/logrus"
)

// SingleCycleExceptionHandler is SingleCycle's analogue of
// ExceptionHandler: it has no Pipeline to hand back, only the CSR file
// a trap handler needs to perform trap entry.
type SingleCycleExceptionHandler func(pc types.Address, cause except.ExceptionCause, trapValue uint64, csrFile *csr.File) (resume types.Address, halt bool)

// SingleCycle is the non-pipelined core variant: fetch, decode,
// execute, memory access, and writeback all happen within one Step(),
// against the committed register file directly (spec.md §4.9 "the
// single-cycle core drives PC directly, no predictor consulted").
type SingleCycle struct {
	regs *regfile.File
	csr  *csr.File
	prog *Frontend
	data *Frontend

	handlers          map[except.ExceptionCause]SingleCycleExceptionHandler
	stepOverException map[except.ExceptionCause]bool
	retired           uint64

	log *logrus.Logger
}

// NewSingleCycle constructs a single-cycle core with PC already at
// resetPC (the caller sets this on regs before construction, e.g. via
// regs.SetPC).
func NewSingleCycle(regs *regfile.File, csrFile *csr.File, prog, data *Frontend) *SingleCycle {
	return &SingleCycle{
		regs: regs, csr: csrFile, prog: prog, data: data,
		handlers:          map[except.ExceptionCause]SingleCycleExceptionHandler{},
		stepOverException: map[except.ExceptionCause]bool{},
		log:               logrus.StandardLogger(),
	}
}

// SetLogger overrides the core's commit/exception event logger
// (spec.md §6 "Signals/events"); the default is
// logrus.StandardLogger().
func (c *SingleCycle) SetLogger(l *logrus.Logger) { c.log = l }

// SetExceptionHandler installs handler for cause, overriding the
// default trap-entry behavior.
func (c *SingleCycle) SetExceptionHandler(cause except.ExceptionCause, handler SingleCycleExceptionHandler) {
	c.handlers[cause] = handler
}

// SetStepOverException marks cause as one Step should silently skip.
func (c *SingleCycle) SetStepOverException(cause except.ExceptionCause, skip bool) {
	c.stepOverException[cause] = skip
}

// Retired returns the number of instructions Step has completed
// without raising an exception.
func (c *SingleCycle) Retired() uint64 { return c.retired }

// PC returns the architectural program counter.
func (c *SingleCycle) PC() types.Address { return c.regs.PC() }

// Step fetches, decodes, and executes exactly one instruction,
// advancing PC to its fallthrough or resolved branch/jump/trap target.
func (c *SingleCycle) Step() error {
	pc := c.regs.PC()
	word, cause, err := c.prog.FetchWord(types.NewVirtualAddress(pc.Raw()))
	if err != nil {
		cause = except.CauseOutOfMemoryAccess
	}

	var entry *isa.MapEntry
	if cause == except.CauseNone {
		entry, err = isa.Decode(isa.Word(word))
		if err != nil {
			cause = except.CauseIllegalInstruction
		}
	}

	fallthroughPC := pc.Add(4)
	var result executeResult
	var rs1Val, rs2Val uint64
	var de deLatch

	if cause == except.CauseNone {
		de = c.decodeOne(entry, isa.Word(word), pc, fallthroughPC)
		rs1Val, rs2Val = de.Rs1Val, de.Rs2Val
		result = runExecute(&de, rs1Val, rs2Val, fallthroughPC, fallthroughPC)
		cause, de.ExCause = result.ExCause, result.ExCause
	}

	if cause == except.CauseNone {
		value, writesRd, trapCause, trapValue, err := c.accessMemoryAndCSR(entry, result, rs2Val, de.CSRAddr)
		if err != nil {
			return err
		}
		if trapCause != except.CauseNone {
			cause = trapCause
			result.TrapValue = trapValue
		} else {
			if writesRd {
				c.regs.SetGPR(int(de.Rd), value)
			}
			c.csr.Tick()
			c.csr.Retire()
			c.retired++
			c.log.WithField("pc", pc.Raw()).WithField("retired", c.retired).Trace("singlecycle: retire")
			return c.regs.SetPC(result.NextPC)
		}
	}

	// cause != except.CauseNone: escalate exactly as the pipelined
	// core's memory stage does.
	c.csr.Tick()
	if c.stepOverException[cause] {
		c.log.WithField("pc", pc.Raw()).WithField("cause", cause.String()).Trace("singlecycle: exception stepped over")
		return c.regs.SetPC(fallthroughPC)
	}
	handler, ok := c.handlers[cause]
	if !ok {
		handler = defaultHandlerSingle
	}
	c.log.WithField("pc", pc.Raw()).WithField("cause", cause.String()).Debug("singlecycle: exception")
	resume, halt := handler(pc, cause, result.TrapValue, c.csr)
	if halt {
		return except.Wrap(except.ErrHalted, cause.String())
	}
	return c.regs.SetPC(resume)
}

// TakeInterrupt delivers a pending interrupt at the fetch of the next
// instruction: the single-cycle core has nothing in flight between
// Step() calls, so delivery is just trap entry at the current PC.
func (c *SingleCycle) TakeInterrupt(cause except.ExceptionCause) error {
	pc := c.regs.PC()
	resume := c.csr.ExceptionInitiate(pc, cause, 0)
	c.log.WithField("pc", resume.Raw()).WithField("cause", cause.String()).Debug("singlecycle: interrupt taken")
	return c.regs.SetPC(resume)
}

// defaultHandlerSingle mirrors defaultHandler's trap-entry semantics,
// adapted to SingleCycle.Step's local signature (it has no Pipeline
// receiver to hand an ExceptionHandler).
func defaultHandlerSingle(pc types.Address, cause except.ExceptionCause, trapValue uint64, csrFile *csr.File) (types.Address, bool) {
	return csrFile.ExceptionInitiate(pc, cause, trapValue), false
}

func (c *SingleCycle) decodeOne(entry *isa.MapEntry, word isa.Word, pc, fallthroughPC types.Address) deLatch {
	de := deLatch{
		Valid: true, PC: pc, NextPC: fallthroughPC, PredictedNext: fallthroughPC,
		Entry: entry, Rd: word.Rd(), Rs1: word.Rs1(), Rs2: word.Rs2(),
		Imm: immediateFor(entry, word),
	}
	if entry.Flags&isa.FlagIsCSR != 0 {
		de.CSRAddr = word.CSRAddr()
	}
	if entry.Flags&isa.FlagIsCSR != 0 && entry.Flags&isa.FlagUsesImm != 0 {
		de.Rs1Val = zimmFor(word)
	} else if entryUsesRs1(entry) {
		de.Rs1Val = c.regs.GPR(int(de.Rs1))
	}
	if entryUsesRs2(entry) {
		de.Rs2Val = c.regs.GPR(int(de.Rs2))
	}
	return de
}

// accessMemoryAndCSR performs the same data-memory/CSR step the
// pipelined core's memory stage performs, without the interstage
// latch plumbing.
func (c *SingleCycle) accessMemoryAndCSR(entry *isa.MapEntry, result executeResult, rs2Val uint64, csrAddr uint32) (value uint64, writesRd bool, cause except.ExceptionCause, trapValue uint64, err error) {
	switch {
	case entry.Flags&isa.FlagReadsMem != 0 || entry.Flags&isa.FlagWritesMem != 0:
		addr := result.ALUResult
		isStore := entry.Flags&isa.FlagWritesMem != 0
		opts := accessOptionsFor(entry.Mem, false)
		va := types.NewVirtualAddress(addr)
		if isStore {
			accessCause, serr := c.data.Store(va, rs2Val, opts)
			if serr != nil {
				return 0, false, except.CauseNone, 0, serr
			}
			if accessCause != except.CauseNone {
				return 0, false, accessCause, addr, nil
			}
			return 0, false, except.CauseNone, 0, nil
		}
		loaded, accessCause, lerr := c.data.Load(va, opts)
		if lerr != nil {
			return 0, false, except.CauseNone, 0, lerr
		}
		if accessCause != except.CauseNone {
			return 0, false, accessCause, addr, nil
		}
		return loaded, true, except.CauseNone, 0, nil
	case entry.Flags&isa.FlagIsCSR != 0:
		old, rerr := c.csr.Read(csrAddr)
		if rerr != nil {
			return 0, false, except.CauseIllegalInstruction, uint64(csrAddr), nil
		}
		operand := result.ALUResult
		if !csrSkipsWrite(entry.Mnemonic, operand, operand == 0) {
			if werr := c.csr.Write(csrAddr, csrCombine(entry.Mnemonic, old, operand)); werr != nil {
				return 0, false, except.CauseIllegalInstruction, uint64(csrAddr), nil
			}
		}
		return old, true, except.CauseNone, 0, nil
	default:
		return result.ALUResult, entryWritesRd(entry), except.CauseNone, 0, nil
	}
}
