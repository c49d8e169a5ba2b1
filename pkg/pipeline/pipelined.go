// Package pipeline implements the instruction-execution core: a
// single-cycle variant and a five-stage pipelined variant sharing the
// same decode/execute/memory-access building blocks, the ALU, the CSR
// file, and the register file (spec.md §2.6, §4.9).
package pipeline

import (
	"github.com/bassosimone/rvsim/pkg/csr"
	"github.com/bassosimone/rvsim/pkg/except"
	"github.com/bassosimone/rvsim/pkg/isa"
	"github.com/bassosimone/rvsim/pkg/predictor"
	"github.com/bassosimone/rvsim/pkg/regfile"
	"github.com/bassosimone/rvsim/pkg/types"
	"github.com/sirupsen/logrus"
)

// ExceptionHandler reacts to a trapped cause at pc, with trapValue
// already computed (the faulting address, or 0). It returns where
// execution resumes and whether the machine should halt instead of
// continuing (spec.md §4.9 "a per-cause handler registry").
type ExceptionHandler func(p *Pipeline, cause except.ExceptionCause, pc types.Address, trapValue uint64) (resume types.Address, halt bool)

// defaultHandler performs standard RISC-V trap entry: save state to
// mepc/mcause/mtval and resume at mtvec. A core with no trap handler
// installed at mtvec will fault again on the next instruction, which
// is an intentional behavior this simulator doesn't paper over.
func defaultHandler(p *Pipeline, cause except.ExceptionCause, pc types.Address, trapValue uint64) (types.Address, bool) {
	return p.csr.ExceptionInitiate(pc, cause, trapValue), false
}

// Pipeline is the five-stage in-order core: fetch, decode, execute,
// memory, writeback, each connected by one interstage latch holding
// the previous cycle's output (spec.md §4.9). Step() advances all five
// stages by exactly one cycle.
type Pipeline struct {
	regs *regfile.File
	csr  *csr.File
	prog *Frontend
	data *Frontend
	pred *predictor.Predictor

	hazard HazardMode

	// fetchPC is the speculative program counter fetch drives; it is
	// decoupled from regs.PC(), which is only updated at commit
	// (writeback) time to reflect the last retired instruction.
	fetchPC types.Address

	fd fdLatch
	de deLatch
	em emLatch
	mw mwLatch

	handlers          map[except.ExceptionCause]ExceptionHandler
	stepOverException map[except.ExceptionCause]bool
	retired           uint64

	// lastStallReason records why the most recent Step() froze fetch
	// and decode, for visualization (spec.md §4.9 "stall reason...
	// exposed for visualization"); it is StallNone on any cycle that
	// did not stall.
	lastStallReason StallReason

	log *logrus.Logger
}

// StallReason names why a pipelined Step() held fetch/decode in
// place rather than letting a new instruction enter.
type StallReason int

// Recognized stall reasons.
const (
	StallNone StallReason = iota
	StallRAWHazard
	StallLoadUse
)

// StallReason reports why the last Step() stalled, StallNone if it
// did not.
func (p *Pipeline) StallReason() StallReason { return p.lastStallReason }

// NewPipeline constructs a pipelined core starting fetch at resetPC.
func NewPipeline(regs *regfile.File, csrFile *csr.File, prog, data *Frontend, pred *predictor.Predictor, hazard HazardMode, resetPC types.Address) *Pipeline {
	return &Pipeline{
		regs: regs, csr: csrFile, prog: prog, data: data, pred: pred,
		hazard:             hazard,
		fetchPC:            resetPC,
		handlers:           map[except.ExceptionCause]ExceptionHandler{},
		stepOverException:  map[except.ExceptionCause]bool{},
		log:                logrus.StandardLogger(),
	}
}

// SetLogger overrides the pipeline's per-stage commit/exception event
// logger (spec.md §6 "Signals/events"); the default is
// logrus.StandardLogger().
func (p *Pipeline) SetLogger(l *logrus.Logger) { p.log = l }

// SetExceptionHandler installs handler for cause, overriding the
// default trap-entry behavior.
func (p *Pipeline) SetExceptionHandler(cause except.ExceptionCause, handler ExceptionHandler) {
	p.handlers[cause] = handler
}

// SetStepOverException marks cause as one the memory stage should
// silently skip: the faulting instruction retires with no effect and
// execution simply continues at its own fallthrough, rather than
// trapping. Useful for a debugger single-stepping past a breakpoint it
// already reported.
func (p *Pipeline) SetStepOverException(cause except.ExceptionCause, skip bool) {
	p.stepOverException[cause] = skip
}

// Retired returns the number of instructions that have completed
// writeback without raising an exception.
func (p *Pipeline) Retired() uint64 { return p.retired }

// PC returns the address of the last instruction to commit, i.e. the
// architectural program counter (spec.md "PC only advances on retire").
func (p *Pipeline) PC() types.Address { return p.regs.PC() }

// Step advances fetch, decode, execute, memory, and writeback by one
// cycle. Stages run in reverse pipeline order so each one reads the
// *previous* cycle's latch contents before any latch is overwritten
// (spec.md §4.9 "committed state only changes at writeback").
func (p *Pipeline) Step() error {
	prevFD, prevDE, prevEM, prevMW := p.fd, p.de, p.em, p.mw

	p.stepWriteback(prevMW)

	nextMW, trapped, redirect, err := p.stepMemory(prevEM)
	if err != nil {
		return err
	}

	nextEM, mispredicted, branchTarget := p.stepExecute(prevDE, prevEM, prevMW)
	nextDE, stallReason := p.stepDecode(prevFD, prevDE, prevEM)
	p.lastStallReason = stallReason

	switch {
	case trapped:
		// An older instruction (in memory this cycle) traps: every
		// younger instruction behind it in the pipeline is wrong-path
		// and must be discarded, regardless of what execute/decode
		// computed for them this same cycle.
		p.em.flush()
		p.de.flush()
		p.fd = p.stepFetchAt(redirect)
	case mispredicted:
		p.em = nextEM
		p.de.flush()
		p.fd = p.stepFetchAt(branchTarget)
	case stallReason != StallNone:
		p.em = nextEM
		p.de.flush()
		p.fd = prevFD // frozen: re-decoded next cycle once the hazard clears
	default:
		p.em = nextEM
		p.de = nextDE
		p.fd = p.stepFetch()
	}
	p.mw = nextMW

	p.csr.Tick()
	if prevMW.Valid && prevMW.ExCause == except.CauseNone {
		p.retired++
		p.csr.Retire()
		if err := p.regs.SetPC(prevMW.PC); err != nil {
			return err
		}
		p.log.WithField("pc", prevMW.PC.Raw()).WithField("retired", p.retired).Trace("pipeline: retire")
	}
	return nil
}

// TakeInterrupt delivers a pending interrupt at the fetch of the next
// instruction (spec.md §5 "an asserted interrupt signal becomes visible
// to the CPU at the fetch of the next instruction"): everything still
// in flight ahead of the current fetch point is speculative and is
// discarded, and fetch resumes at the trap handler instead.
func (p *Pipeline) TakeInterrupt(cause except.ExceptionCause) error {
	resume := p.csr.ExceptionInitiate(p.fetchPC, cause, 0)
	p.fd.flush()
	p.de.flush()
	p.em.flush()
	p.fetchPC = resume
	p.log.WithField("pc", resume.Raw()).WithField("cause", cause.String()).Debug("pipeline: interrupt taken")
	return nil
}

// stepWriteback commits mw into the register file. A mwLatch carrying
// an exception never reaches here with WritesRd set, since the memory
// stage that produced it already cleared WritesRd on any cause.
func (p *Pipeline) stepWriteback(mw mwLatch) {
	if !mw.Valid || !mw.WritesRd {
		return
	}
	p.regs.SetGPR(int(mw.Rd), mw.Value)
}

// stepFetch performs a normal, predictor-guided fetch at the current
// fetchPC and advances fetchPC to the predicted next address.
func (p *Pipeline) stepFetch() fdLatch {
	return p.fetch(p.fetchPC)
}

// stepFetchAt performs a hard redirect: fetch resumes at target with
// no prediction involved (a trap vector or a resolved branch target),
// exactly as real hardware flushes speculation on a correction.
func (p *Pipeline) stepFetchAt(target types.Address) fdLatch {
	return p.fetch(target)
}

func (p *Pipeline) fetch(pc types.Address) fdLatch {
	word, cause, err := p.prog.FetchWord(types.NewVirtualAddress(pc.Raw()))
	if err != nil {
		cause = except.CauseOutOfMemoryAccess
	}
	prediction := p.pred.Predict(pc, pc.Add(4))
	p.fetchPC = prediction.Target
	return fdLatch{Valid: true, PC: pc, PredictedNext: prediction.Target, Word: isa.Word(word), ExCause: cause}
}

// stepMemory performs the data-memory access or CSR read-modify-write
// prevEM's instruction needs, or escalates to trap handling if prevEM
// (or this access itself) carries an exception cause.
func (p *Pipeline) stepMemory(prevEM emLatch) (mwLatch, bool, types.Address, error) {
	if !prevEM.Valid {
		return mwLatch{}, false, types.Address{}, nil
	}
	entry := prevEM.Entry

	cause := prevEM.ExCause
	trapValue := prevEM.TrapValue
	var value uint64
	writesRd := false

	if cause == except.CauseNone {
		switch {
		case entry.Flags&isa.FlagReadsMem != 0 || entry.Flags&isa.FlagWritesMem != 0:
			addr := prevEM.ALUResult
			isStore := entry.Flags&isa.FlagWritesMem != 0
			opts := accessOptionsFor(entry.Mem, false)
			va := types.NewVirtualAddress(addr)
			if isStore {
				accessCause, err := p.data.Store(va, prevEM.StoreValue, opts)
				if err != nil {
					return mwLatch{}, false, types.Address{}, err
				}
				if accessCause != except.CauseNone {
					cause, trapValue = accessCause, addr
				}
			} else {
				loaded, accessCause, err := p.data.Load(va, opts)
				if err != nil {
					return mwLatch{}, false, types.Address{}, err
				}
				if accessCause != except.CauseNone {
					cause, trapValue = accessCause, addr
				} else {
					value, writesRd = loaded, true
				}
			}
		case entry.Flags&isa.FlagIsCSR != 0:
			old, err := p.csr.Read(prevEM.CSRAddr)
			if err != nil {
				cause, trapValue = except.CauseIllegalInstruction, uint64(prevEM.CSRAddr)
			} else {
				operand := prevEM.ALUResult
				if !csrSkipsWrite(entry.Mnemonic, operand, operand == 0) {
					if werr := p.csr.Write(prevEM.CSRAddr, csrCombine(entry.Mnemonic, old, operand)); werr != nil {
						cause, trapValue = except.CauseIllegalInstruction, uint64(prevEM.CSRAddr)
					}
				}
				if cause == except.CauseNone {
					value, writesRd = old, true
				}
			}
		default:
			value, writesRd = prevEM.ALUResult, entryWritesRd(entry)
		}
	}

	if cause != except.CauseNone {
		if p.stepOverException[cause] {
			p.log.WithField("pc", prevEM.PC.Raw()).WithField("cause", cause.String()).Trace("pipeline: exception stepped over")
			mw := mwLatch{Valid: true, PC: prevEM.PC, Entry: entry, ExCause: except.CauseNone}
			return mw, false, types.Address{}, nil
		}
		handler, ok := p.handlers[cause]
		if !ok {
			handler = defaultHandler
		}
		p.log.WithField("pc", prevEM.PC.Raw()).WithField("cause", cause.String()).Debug("pipeline: exception")
		resume, halt := handler(p, cause, prevEM.PC, trapValue)
		mw := mwLatch{Valid: true, PC: prevEM.PC, Entry: entry, ExCause: cause, TrapValue: trapValue}
		if halt {
			return mw, false, types.Address{}, except.Wrap(except.ErrHalted, cause.String())
		}
		return mw, true, resume, nil
	}

	mw := mwLatch{Valid: true, PC: prevEM.PC, Entry: entry, Rd: prevEM.Rd, Value: value, WritesRd: writesRd}
	return mw, false, types.Address{}, nil
}

// stepExecute computes prevDE's result, applying operand forwarding
// from prevEM/prevMW when the hazard unit is in HazardStallForward
// mode (spec.md §4.9 "forwarding selects between none, memory-stage,
// writeback-stage").
func (p *Pipeline) stepExecute(prevDE deLatch, prevEM emLatch, prevMW mwLatch) (emLatch, bool, types.Address) {
	if !prevDE.Valid {
		return emLatch{}, false, types.Address{}
	}
	rs1Val, rs2Val := prevDE.Rs1Val, prevDE.Rs2Val
	if p.hazard == HazardStallForward {
		usesRs1 := entryUsesRs1(prevDE.Entry)
		usesRs2 := entryUsesRs2(prevDE.Entry)
		switch selectForward(prevDE.Rs1, usesRs1, prevEM.Valid, prevEM.Rd, entryWritesRd(prevEM.Entry), prevMW.Valid, prevMW.Rd, prevMW.WritesRd) {
		case forwardFromMemory:
			rs1Val = prevEM.ALUResult
		case forwardFromWriteback:
			rs1Val = prevMW.Value
		}
		switch selectForward(prevDE.Rs2, usesRs2, prevEM.Valid, prevEM.Rd, entryWritesRd(prevEM.Entry), prevMW.Valid, prevMW.Rd, prevMW.WritesRd) {
		case forwardFromMemory:
			rs2Val = prevEM.ALUResult
		case forwardFromWriteback:
			rs2Val = prevMW.Value
		}
	}

	fallthroughPC := prevDE.NextPC
	result := runExecute(&prevDE, rs1Val, rs2Val, fallthroughPC, prevDE.PredictedNext)

	if prevDE.Entry != nil && prevDE.Entry.Flags&isa.FlagIsBranch != 0 {
		predictedTaken := prevDE.PredictedNext.Raw() != fallthroughPC.Raw()
		actualTaken := result.NextPC.Raw() != fallthroughPC.Raw()
		p.pred.Update(prevDE.PC, predictedTaken, actualTaken, result.NextPC)
	}

	em := emLatch{
		Valid: true, PC: prevDE.PC, NextPC: result.NextPC, Entry: prevDE.Entry,
		Rd: prevDE.Rd, ALUResult: result.ALUResult, StoreValue: rs2Val,
		CSRAddr: prevDE.CSRAddr, ExCause: result.ExCause, TrapValue: result.TrapValue,
	}
	return em, result.Mispredict, result.NextPC
}

// stepDecode decodes prevFD's word into a deLatch, reads (or, for
// HazardNone, deliberately doesn't avoid) its register operands, and
// determines whether fetch/decode must stall this cycle.
func (p *Pipeline) stepDecode(prevFD fdLatch, prevDE deLatch, prevEM emLatch) (deLatch, StallReason) {
	if !prevFD.Valid {
		return deLatch{}, StallNone
	}
	if prevFD.ExCause != except.CauseNone {
		return deLatch{Valid: true, PC: prevFD.PC, NextPC: prevFD.PC.Add(4), PredictedNext: prevFD.PredictedNext, ExCause: prevFD.ExCause}, StallNone
	}

	entry, err := isa.Decode(prevFD.Word)
	if err != nil {
		return deLatch{Valid: true, PC: prevFD.PC, NextPC: prevFD.PC.Add(4), PredictedNext: prevFD.PredictedNext, ExCause: except.CauseIllegalInstruction}, StallNone
	}

	de := deLatch{
		Valid: true, PC: prevFD.PC, NextPC: prevFD.PC.Add(4), PredictedNext: prevFD.PredictedNext,
		Entry: entry, Rd: prevFD.Word.Rd(), Rs1: prevFD.Word.Rs1(), Rs2: prevFD.Word.Rs2(),
		Imm: immediateFor(entry, prevFD.Word),
	}
	if entry.Flags&isa.FlagIsCSR != 0 {
		de.CSRAddr = prevFD.Word.CSRAddr()
	}
	if entry.Flags&isa.FlagIsCSR != 0 && entry.Flags&isa.FlagUsesImm != 0 {
		de.Rs1Val = zimmFor(prevFD.Word)
	} else if entryUsesRs1(entry) {
		de.Rs1Val = p.regs.GPR(int(de.Rs1))
	}
	if entryUsesRs2(entry) {
		de.Rs2Val = p.regs.GPR(int(de.Rs2))
	}

	de.ForwardRs1 = selectForward(de.Rs1, entryUsesRs1(entry), prevDE.Valid, prevDE.Rd, entryWritesRd(prevDE.Entry), prevEM.Valid, prevEM.Rd, entryWritesRd(prevEM.Entry))
	de.ForwardRs2 = selectForward(de.Rs2, entryUsesRs2(entry), prevDE.Valid, prevDE.Rd, entryWritesRd(prevDE.Entry), prevEM.Valid, prevEM.Rd, entryWritesRd(prevEM.Entry))

	reason := StallNone
	switch p.hazard {
	case HazardStall:
		if rawHazard(de.Rs1, entryUsesRs1(entry), prevDE.Valid, prevDE.Rd, entryWritesRd(prevDE.Entry)) ||
			rawHazard(de.Rs2, entryUsesRs2(entry), prevDE.Valid, prevDE.Rd, entryWritesRd(prevDE.Entry)) ||
			rawHazard(de.Rs1, entryUsesRs1(entry), prevEM.Valid, prevEM.Rd, entryWritesRd(prevEM.Entry)) ||
			rawHazard(de.Rs2, entryUsesRs2(entry), prevEM.Valid, prevEM.Rd, entryWritesRd(prevEM.Entry)) {
			reason = StallRAWHazard
		}
	case HazardStallForward:
		if prevDE.Valid && entryReadsMem(prevDE.Entry) {
			if rawHazard(de.Rs1, entryUsesRs1(entry), true, prevDE.Rd, entryWritesRd(prevDE.Entry)) ||
				rawHazard(de.Rs2, entryUsesRs2(entry), true, prevDE.Rd, entryWritesRd(prevDE.Entry)) {
				reason = StallLoadUse
			}
		}
	}
	return de, reason
}

func entryUsesRs1(entry *isa.MapEntry) bool {
	if entry == nil {
		return false
	}
	if entry.Flags&isa.FlagIsCSR != 0 && entry.Flags&isa.FlagUsesImm != 0 {
		return false // zimm variants carry no register operand in rs1
	}
	return entry.Flags&isa.FlagRequiresRs1 != 0
}

func entryUsesRs2(entry *isa.MapEntry) bool {
	return entry != nil && entry.Flags&isa.FlagRequiresRs2 != 0
}
