// Package config holds every knob spec.md §6's "Configuration options
// recognized" table names, bound directly onto cobra flags the way
// the teacher's would-be z80opt sibling (oisee-z80-optimizer/cmd/
// z80opt/main.go) binds one flag struct per subcommand — except
// rvsim has exactly one configuration struct shared by its
// subcommands instead of one per command.
package config

import "github.com/spf13/pflag"

// HazardUnit selects the pipelined core's data-hazard policy.
type HazardUnit string

// Supported hazard-unit values (spec.md §6 "hazard_unit").
const (
	HazardUnitNone          HazardUnit = "none"
	HazardUnitStall         HazardUnit = "stall"
	HazardUnitStallForward  HazardUnit = "stall_forward"
)

// CacheConfig mirrors spec.md §6's per-level cache knob group.
type CacheConfig struct {
	Enabled       bool
	SetCount      int
	BlockSize     int
	Associativity int
	Replacement   string // "random", "lru", "lfu", "plru"
	WritePolicy   string // "through_no_allocate", "through_allocate", "back"
}

// BranchPredictorConfig mirrors spec.md §6's "bp_*" knob group.
type BranchPredictorConfig struct {
	Enabled     bool
	Type        string // "static", "btfnt", "smith1", "smith2", "smith2hyst"
	InitState   string
	BTBBits     uint
	BHRBits     uint
	BHTAddrBits uint
}

// OSEmuConfig mirrors spec.md §6's "osemu_*" knob group. None of these
// fields are consulted by the core itself (the OS syscall emulator
// collaborator is out of scope per spec.md §1); they are carried only
// so a future collaborator has somewhere to read its configuration
// from without rvsim inventing a second config struct.
type OSEmuConfig struct {
	Enable             bool
	KnownSyscallStop   bool
	UnknownSyscallStop bool
	InterruptStop      bool
	ExceptionStop      bool
	FSRoot             string
}

// Config is the single struct holding every spec.md §6 knob.
type Config struct {
	Pipelined  bool
	HazardUnit HazardUnit

	MemoryExecuteProtection bool
	MemoryWriteProtection   bool

	MemoryAccessTimeRead   uint
	MemoryAccessTimeWrite  uint
	MemoryAccessTimeBurst  uint
	MemoryAccessTimeLevel2 uint
	MemoryAccessEnableBurst bool

	CacheProgram CacheConfig
	CacheData    CacheConfig
	CacheLevel2  CacheConfig

	BranchPredictor BranchPredictorConfig

	OSEmu OSEmuConfig

	SimulatedXLEN   int
	SimulatedEndian string
	ISAWord         string
}

// Default returns the sane RV32IM defaults spec.md §6 calls for, so
// "rvsim run program.bin" works with zero flags: pipelined core,
// forwarding hazard unit, both L1 caches enabled, a BTFNT predictor,
// 32-bit little-endian.
func Default() *Config {
	return &Config{
		Pipelined:  true,
		HazardUnit: HazardUnitStallForward,

		MemoryExecuteProtection: true,
		MemoryWriteProtection:   false,

		MemoryAccessTimeRead:    1,
		MemoryAccessTimeWrite:   1,
		MemoryAccessTimeBurst:   4,
		MemoryAccessTimeLevel2:  8,
		MemoryAccessEnableBurst: false,

		CacheProgram: CacheConfig{Enabled: true, SetCount: 64, BlockSize: 16, Associativity: 2, Replacement: "lru", WritePolicy: "through_no_allocate"},
		CacheData:    CacheConfig{Enabled: true, SetCount: 64, BlockSize: 16, Associativity: 2, Replacement: "lru", WritePolicy: "through_no_allocate"},
		CacheLevel2:  CacheConfig{Enabled: false, SetCount: 256, BlockSize: 32, Associativity: 4, Replacement: "lru", WritePolicy: "back"},

		BranchPredictor: BranchPredictorConfig{Enabled: true, Type: "btfnt", InitState: "weakly_not_taken", BTBBits: 6, BHRBits: 4, BHTAddrBits: 6},

		OSEmu: OSEmuConfig{},

		SimulatedXLEN:   32,
		SimulatedEndian: "little",
		ISAWord:         "rv32im",
	}
}

// BindFlags registers every knob above onto fs, so `rvsim run` (and
// any other subcommand that shares this Config) exposes the full
// spec.md §6 surface as flags with Default()'s values as their
// zero-flag behavior.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&c.Pipelined, "pipelined", c.Pipelined, "use the 5-stage pipelined core instead of single-cycle")
	fs.StringVar((*string)(&c.HazardUnit), "hazard-unit", string(c.HazardUnit), "hazard policy when pipelined: none, stall, stall_forward")

	fs.BoolVar(&c.MemoryExecuteProtection, "memory-execute-protection", c.MemoryExecuteProtection, "fault when fetching outside program sections (recorded only; the simulator does not apply it)")
	fs.BoolVar(&c.MemoryWriteProtection, "memory-write-protection", c.MemoryWriteProtection, "fault when writing outside data sections (recorded only; the simulator does not apply it)")

	fs.UintVar(&c.MemoryAccessTimeRead, "memory-access-time-read", c.MemoryAccessTimeRead, "cycles charged per read miss (recorded only; the simulator does not apply it)")
	fs.UintVar(&c.MemoryAccessTimeWrite, "memory-access-time-write", c.MemoryAccessTimeWrite, "cycles charged per write miss (recorded only; the simulator does not apply it)")
	fs.UintVar(&c.MemoryAccessTimeBurst, "memory-access-time-burst", c.MemoryAccessTimeBurst, "cycles charged per burst transfer (recorded only; the simulator does not apply it)")
	fs.UintVar(&c.MemoryAccessTimeLevel2, "memory-access-time-level2", c.MemoryAccessTimeLevel2, "cycles charged per L2 access (recorded only; the simulator does not apply it)")
	fs.BoolVar(&c.MemoryAccessEnableBurst, "memory-access-enable-burst", c.MemoryAccessEnableBurst, "charge burst timing on a cache-line fill (recorded only; the simulator does not apply it)")

	bindCache(fs, "cache-program", &c.CacheProgram)
	bindCache(fs, "cache-data", &c.CacheData)
	bindCache(fs, "cache-level2", &c.CacheLevel2)

	fs.BoolVar(&c.BranchPredictor.Enabled, "bp-enabled", c.BranchPredictor.Enabled, "enable branch prediction")
	fs.StringVar(&c.BranchPredictor.Type, "bp-type", c.BranchPredictor.Type, "direction predictor: static, btfnt, smith1, smith2, smith2hyst")
	fs.StringVar(&c.BranchPredictor.InitState, "bp-init-state", c.BranchPredictor.InitState, "initial Smith-counter state (recorded only; the simulator does not apply it)")
	fs.UintVar(&c.BranchPredictor.BTBBits, "bp-btb-bits", c.BranchPredictor.BTBBits, "log2 of the branch target buffer's entry count")
	fs.UintVar(&c.BranchPredictor.BHRBits, "bp-bhr-bits", c.BranchPredictor.BHRBits, "branch history register width")
	fs.UintVar(&c.BranchPredictor.BHTAddrBits, "bp-bht-addr-bits", c.BranchPredictor.BHTAddrBits, "branch history table address bits (with bp-bhr-bits, must be <= 16; recorded only; the simulator does not apply it)")

	fs.BoolVar(&c.OSEmu.Enable, "osemu-enable", c.OSEmu.Enable, "cooperate with a syscall-emulator collaborator (none built in)")
	fs.BoolVar(&c.OSEmu.KnownSyscallStop, "osemu-known-syscall-stop", c.OSEmu.KnownSyscallStop, "stop on a recognized syscall")
	fs.BoolVar(&c.OSEmu.UnknownSyscallStop, "osemu-unknown-syscall-stop", c.OSEmu.UnknownSyscallStop, "stop on an unrecognized syscall")
	fs.BoolVar(&c.OSEmu.InterruptStop, "osemu-interrupt-stop", c.OSEmu.InterruptStop, "stop on any interrupt")
	fs.BoolVar(&c.OSEmu.ExceptionStop, "osemu-exception-stop", c.OSEmu.ExceptionStop, "stop on any exception")
	fs.StringVar(&c.OSEmu.FSRoot, "osemu-fs-root", c.OSEmu.FSRoot, "filesystem root the syscall emulator would chroot into")

	fs.IntVar(&c.SimulatedXLEN, "xlen", c.SimulatedXLEN, "simulated XLEN: 32 or 64 (recorded only; the simulator does not apply it)")
	fs.StringVar(&c.SimulatedEndian, "endian", c.SimulatedEndian, "simulated endianness: little or big (recorded only; the simulator does not apply it)")
	fs.StringVar(&c.ISAWord, "isa", c.ISAWord, "selected ISA extensions word, e.g. rv32im or rv64im (recorded only; the simulator does not apply it)")
}

func bindCache(fs *pflag.FlagSet, prefix string, cfg *CacheConfig) {
	fs.BoolVar(&cfg.Enabled, prefix+"-enabled", cfg.Enabled, prefix+": enable this cache level")
	fs.IntVar(&cfg.SetCount, prefix+"-sets", cfg.SetCount, prefix+": number of sets")
	fs.IntVar(&cfg.BlockSize, prefix+"-block-size", cfg.BlockSize, prefix+": line size in bytes")
	fs.IntVar(&cfg.Associativity, prefix+"-associativity", cfg.Associativity, prefix+": ways per set")
	fs.StringVar(&cfg.Replacement, prefix+"-replacement", cfg.Replacement, prefix+": random, lru, lfu, or plru")
	fs.StringVar(&cfg.WritePolicy, prefix+"-write-policy", cfg.WritePolicy, prefix+": through_no_allocate, through_allocate, or back")
}
