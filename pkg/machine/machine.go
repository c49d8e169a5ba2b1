// Package machine assembles the register file, CSR file, bus,
// memory-mapped devices, program/data frontend chains, predictor, and
// chosen core variant into the single top-level object a driver (a
// CLI, a debugger, a test) steps or runs to completion (spec.md §4.10).
package machine

import (
	"io"

	"github.com/bassosimone/rvsim/pkg/bus"
	"github.com/bassosimone/rvsim/pkg/cache"
	"github.com/bassosimone/rvsim/pkg/config"
	"github.com/bassosimone/rvsim/pkg/csr"
	"github.com/bassosimone/rvsim/pkg/except"
	"github.com/bassosimone/rvsim/pkg/memory"
	"github.com/bassosimone/rvsim/pkg/mmu"
	"github.com/bassosimone/rvsim/pkg/pipeline"
	"github.com/bassosimone/rvsim/pkg/predictor"
	"github.com/bassosimone/rvsim/pkg/regfile"
	"github.com/bassosimone/rvsim/pkg/types"
	"github.com/sirupsen/logrus"
)

// Base addresses of the fixed memory map (spec.md §6 "Memory map").
const (
	ramBase      = 0x00000000
	ramSize      = 0xf0000000
	serialBase   = 0xffffc000
	serialAlias  = 0xffff0000
	spiledBase   = 0xffffc100
	lcdBase      = 0xffe00000
	lcdWidth     = 480
	lcdHeight    = 320
	lcdBPP       = 2
	aclintBase   = 0xfffd0000
	mswiOffset   = 0x0000
	mtimerOffset = 0x4000
	sswiOffset   = 0xc000
	walkerFrames = 0x80000
)

// Core abstracts over pipeline.Pipeline and pipeline.SingleCycle, the
// two interchangeable instruction-execution engines spec.md §4.9
// describes (spec.md §4.10 "the chosen core variant").
type Core interface {
	Step() error
	PC() types.Address
	Retired() uint64
	SetStepOverException(cause except.ExceptionCause, skip bool)
	TakeInterrupt(cause except.ExceptionCause) error
}

// Status mirrors spec.md §6's state machine: ready before the first
// step, running/busy while play() drives steps, trapped once the core
// returns an error (including a handler returning halt=true). Exit is
// part of the set, but Step never moves the machine into it.
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusBusy
	StatusExit
	StatusTrapped
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusBusy:
		return "busy"
	case StatusExit:
		return "exit"
	case StatusTrapped:
		return "trapped"
	default:
		return "unknown"
	}
}

// Machine owns every collaborator spec.md §4.10 names and drives the
// chosen Core one cycle (pipelined) or one instruction (single-cycle)
// at a time.
type Machine struct {
	regs *regfile.File
	csr  *csr.File
	bus  *bus.Bus
	pred *predictor.Predictor
	core Core

	mtimer *memory.MTimer
	mswi   *memory.SWI
	sswi   *memory.SWI

	programImage []byte
	resetPC      types.Address

	breakpoints map[uint64]bool
	skipBreak   bool

	status Status
	log    *logrus.Logger
}

// New builds a Machine from cfg, loading programImage into RAM at
// ramBase and starting the core at resetPC. stdout/stdin back the
// serial peripheral.
func New(cfg *config.Config, programImage []byte, resetPC types.Address, stdout io.Writer, stdin io.Reader) (*Machine, error) {
	ram := memory.NewSparseRAM(ramSize)
	if err := ram.StoreBytes(0, programImage); err != nil {
		return nil, err
	}

	serial := memory.NewSerial(stdout, stdin)
	spiled := memory.NewSPILED(256)
	lcd := memory.NewLCD(lcdWidth, lcdHeight, lcdBPP)
	mtimer := memory.NewMTimer()
	mswi := memory.NewSWI()
	sswi := memory.NewSWI()

	b, err := bus.New([]bus.Range{
		{Name: "ram", Start: types.NewAddress(ramBase), Device: ram},
		{Name: "serial", Start: types.NewAddress(serialBase), Device: serial},
		{Name: "serial-alias", Start: types.NewAddress(serialAlias), Device: serial},
		{Name: "spiled", Start: types.NewAddress(spiledBase), Device: spiled},
		{Name: "lcd", Start: types.NewAddress(lcdBase), Device: lcd},
		{Name: "aclint-mswi", Start: types.NewAddress(aclintBase + mswiOffset), Device: mswi},
		{Name: "aclint-mtimer", Start: types.NewAddress(aclintBase + mtimerOffset), Device: mtimer},
		{Name: "aclint-sswi", Start: types.NewAddress(aclintBase + sswiOffset), Device: sswi},
	})
	if err != nil {
		return nil, err
	}

	regs := regfile.New()
	if err := regs.SetPC(resetPC); err != nil {
		return nil, err
	}
	csrFile := csr.NewFile(0)
	pred := newPredictor(cfg.BranchPredictor)

	level2 := newLevel2Device(b, cfg.CacheLevel2)
	progFrontend := newFrontend(b, level2, cfg.CacheProgram, csrFile)
	dataFrontend := newFrontend(b, level2, cfg.CacheData, csrFile)

	var core Core
	if cfg.Pipelined {
		core = pipeline.NewPipeline(regs, csrFile, progFrontend, dataFrontend, pred, hazardModeFor(cfg.HazardUnit), resetPC)
	} else {
		core = pipeline.NewSingleCycle(regs, csrFile, progFrontend, dataFrontend)
	}

	m := &Machine{
		regs: regs, csr: csrFile, bus: b, pred: pred, core: core,
		mtimer: mtimer, mswi: mswi, sswi: sswi,
		programImage: append([]byte(nil), programImage...),
		resetPC:      resetPC,
		breakpoints:  map[uint64]bool{},
		status:       StatusReady,
		log:          logrus.StandardLogger(),
	}
	return m, nil
}

// SetLogger overrides the machine's run-loop event logger.
func (m *Machine) SetLogger(l *logrus.Logger) { m.log = l }

// Status reports the machine's current run state.
func (m *Machine) Status() Status { return m.status }

// PC returns the core's architectural program counter.
func (m *Machine) PC() types.Address { return m.core.PC() }

// Retired returns the number of instructions the core has retired.
func (m *Machine) Retired() uint64 { return m.core.Retired() }

// SetBreakpoint arms or disarms a hardware breakpoint at pc (spec.md
// §4.10 "a set of PC values").
func (m *Machine) SetBreakpoint(pc types.Address, enabled bool) {
	if enabled {
		m.breakpoints[pc.Raw()] = true
	} else {
		delete(m.breakpoints, pc.Raw())
	}
}

// SetSkipBreak controls whether the next Step ignores a breakpoint hit
// at the current PC, the way a debugger steps off the line it just
// stopped on (spec.md §4.10 "unless skip_break is set for the current step").
func (m *Machine) SetSkipBreak(skip bool) { m.skipBreak = skip }

// SetInterruptSignal raises or lowers an external interrupt line
// between cycles; it becomes visible to the core at the next Step's
// fetch (spec.md §5).
func (m *Machine) SetInterruptSignal(bit uint64, active bool) {
	m.csr.SetInterruptPending(bit, active)
}

// Step advances the machine by exactly one unit of execution: one
// pipeline cycle, or one retired instruction for the single-cycle
// core. It checks the hardware breakpoint set and any pending,
// core-visible interrupt before delegating to the underlying Core.
func (m *Machine) Step() error {
	if m.status == StatusExit || m.status == StatusTrapped {
		return except.Wrap(except.ErrHalted, m.status.String())
	}
	m.status = StatusBusy

	m.mtimer.Tick()
	m.csr.SetInterruptPending(csr.BitTimerInterrupt, m.mtimer.TimerPending())
	m.csr.SetInterruptPending(csr.BitSoftwareInterrupt, m.mswi.Pending() || m.sswi.Pending())

	pc := m.core.PC()
	if m.breakpoints[pc.Raw()] && !m.skipBreak {
		m.log.WithField("pc", pc.Raw()).Debug("machine: hardware breakpoint hit")
		if err := m.core.TakeInterrupt(except.CauseHWBreak); err != nil {
			m.status = StatusTrapped
			return err
		}
		m.status = StatusRunning
		return nil
	}
	m.skipBreak = false

	if cause, ok := m.csr.CoreInterruptRequest(); ok {
		if err := m.core.TakeInterrupt(cause); err != nil {
			m.status = StatusTrapped
			return err
		}
		m.status = StatusRunning
		return nil
	}

	if err := m.core.Step(); err != nil {
		m.status = StatusTrapped
		return err
	}
	m.status = StatusRunning
	return nil
}

// Play steps the machine until it halts, traps, or maxSteps is
// reached (0 means unbounded), returning the final error if any.
func (m *Machine) Play(maxSteps uint64) error {
	for i := uint64(0); maxSteps == 0 || i < maxSteps; i++ {
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Pause marks the machine ready again without discarding state, so a
// caller can single-step from wherever Play left off.
func (m *Machine) Pause() {
	if m.status == StatusRunning || m.status == StatusBusy {
		m.status = StatusReady
	}
}

// Restart resets the register file, CSR file, and predictor to their
// initial state and reloads the cached program image into RAM,
// leaving breakpoints and configuration untouched (spec.md §4.10
// "reloads the memory image from the cached program-only memory
// produced at load time").
func (m *Machine) Restart() error {
	ram, ok := m.bus.DeviceNamed("ram")
	if !ok {
		return except.Wrap(except.ErrSanity, "machine: no ram device registered")
	}
	sparse, ok := ram.(*memory.SparseRAM)
	if !ok {
		return except.Wrap(except.ErrSanity, "machine: ram device is not a SparseRAM")
	}
	if err := sparse.StoreBytes(0, m.programImage); err != nil {
		return err
	}
	m.regs = regfile.New()
	if err := m.regs.SetPC(m.resetPC); err != nil {
		return err
	}
	m.csr = csr.NewFile(0)
	m.status = StatusReady
	return nil
}

func newPredictor(cfg config.BranchPredictorConfig) *predictor.Predictor {
	if !cfg.Enabled {
		return predictor.New(predictor.DirectionStatic, 1, 0)
	}
	kind := predictor.DirectionBTFNT
	switch cfg.Type {
	case "static":
		kind = predictor.DirectionStatic
	case "smith1":
		kind = predictor.DirectionSmith1Bit
	case "smith2":
		kind = predictor.DirectionSmith2Bit
	case "smith2hyst":
		kind = predictor.DirectionSmith2BitHysteresis
	}
	btbSize := 1 << cfg.BTBBits
	return predictor.New(kind, btbSize, cfg.BHRBits)
}

// newLevel2Device builds the shared L2 cache both the program and
// data L1 frontends sit in front of (spec.md §4.10's "TLB → L1 cache →
// L2 → bus → RAM" chain), or plain bus access if cfg disables L2.
func newLevel2Device(b *bus.Bus, cfg config.CacheConfig) memory.Device {
	if !cfg.Enabled {
		return b.AsDevice()
	}
	l2 := cache.New(cache.Config{
		Sets: cfg.SetCount, Ways: cfg.Associativity, LineSize: cfg.BlockSize,
		Replacement: replacementFor(cfg.Replacement), Write: writePolicyFor(cfg.WritePolicy),
	}, b.AsDevice(), 2)
	return l2.AsDevice()
}

// newFrontend builds one L1 cache (backed by level2, which is either
// the shared L2 cache or the bus directly) fronted by a TLB walking
// page tables straight over b (page-table walks bypass any cache,
// spec.md §4.7).
func newFrontend(b *bus.Bus, level2 memory.Device, cfg config.CacheConfig, satp mmu.SatpProvider) *pipeline.Frontend {
	walker := mmu.NewWalker(b, walkerFrames)
	tlb := mmu.New(mmu.Config{Sets: 16, Associativity: 4}, walker, satp)
	if !cfg.Enabled {
		c := cache.New(cache.Config{Sets: 1, Ways: 1, LineSize: 4, Replacement: cache.ReplacementLRU, Write: cache.WriteThroughNoAllocate}, level2, 1)
		return pipeline.NewFrontend(tlb, c)
	}
	c := cache.New(cache.Config{
		Sets: cfg.SetCount, Ways: cfg.Associativity, LineSize: cfg.BlockSize,
		Replacement: replacementFor(cfg.Replacement), Write: writePolicyFor(cfg.WritePolicy),
	}, level2, 1)
	return pipeline.NewFrontend(tlb, c)
}

func replacementFor(name string) cache.ReplacementPolicy {
	switch name {
	case "random":
		return cache.ReplacementRandom
	case "lfu":
		return cache.ReplacementLFU
	case "plru":
		return cache.ReplacementPseudoLRU
	default:
		return cache.ReplacementLRU
	}
}

func writePolicyFor(name string) cache.WritePolicy {
	switch name {
	case "through_allocate":
		return cache.WriteThroughAllocate
	case "back":
		return cache.WriteBack
	default:
		return cache.WriteThroughNoAllocate
	}
}

func hazardModeFor(u config.HazardUnit) pipeline.HazardMode {
	switch u {
	case config.HazardUnitStall:
		return pipeline.HazardStall
	case config.HazardUnitStallForward:
		return pipeline.HazardStallForward
	default:
		return pipeline.HazardNone
	}
}
