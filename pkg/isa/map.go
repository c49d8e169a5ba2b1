package isa

import (
	"fmt"

	"github.com/bassosimone/rvsim/pkg/alu"
	"github.com/bassosimone/rvsim/pkg/except"
)

// InstrType names the RV32/64 instruction encoding formats (spec.md §3).
type InstrType int

// The six base instruction formats.
const (
	TypeR InstrType = iota
	TypeI
	TypeS
	TypeB
	TypeU
	TypeJ
)

// MemControl describes the width/sign of a load or store's memory
// access (the "memory access control" of spec.md §3).
type MemControl int

// Memory access controls recognized by the pipeline's memory stage.
const (
	MemNone MemControl = iota
	MemLB
	MemLH
	MemLW
	MemLWU
	MemLBU
	MemLHU
	MemLD
	MemSB
	MemSH
	MemSW
	MemSD
)

// Flags is a bitset describing an instruction's behavior, mirroring
// spec.md §3's "flag set (supported, writes register, reads memory, ...)".
type Flags uint32

// Instruction behavior flags.
const (
	FlagSupported Flags = 1 << iota
	FlagWritesRd
	FlagReadsMem
	FlagWritesMem
	FlagUsesImm
	FlagRequiresRs1
	FlagRequiresRs2
	FlagIsBranch
	FlagIsJump
	FlagIsECall
	FlagIsEBreak
	FlagUsesPCAsALUInput
	FlagNeedsMultiplier
	FlagModifiedALU
	FlagWord32
	FlagIsCSR
)

// ArgKind identifies one disassembly/assembly argument syntax token
// (spec.md §4.1: "d", "s", "t", "j", ">", "a", "u", "p", "o", "q").
type ArgKind byte

// Argument syntax tokens.
const (
	ArgRd         ArgKind = 'd' // destination register
	ArgRs1        ArgKind = 's' // first source register
	ArgRs2        ArgKind = 't' // second source register
	ArgImm        ArgKind = 'j' // generic signed immediate
	ArgUImm       ArgKind = 'u' // U-type immediate
	ArgPCRelJump  ArgKind = 'p' // JAL-style pc-relative target
	ArgPCRelBranch ArgKind = 'a' // branch pc-relative target
	ArgOffsetLoad ArgKind = 'o' // load offset(rs1)
	ArgOffsetStore ArgKind = 'q' // store offset(rs1)
	ArgCSR        ArgKind = 'c' // 12-bit CSR address
	ArgZimm       ArgKind = 'z' // 5-bit CSR-immediate (carried in the rs1 field)
	ArgShamt      ArgKind = '>' // shift amount
)

// MapEntry describes one recognized instruction (spec.md §3).
type MapEntry struct {
	Mnemonic     string
	Type         InstrType
	ALUComponent alu.Component
	ALUOp        alu.Op
	Mem          MemControl
	Flags        Flags
	ArgSyntax    []ArgKind
}

// node is one element of the instruction map's dispatch tree: either a
// Branch (field + children keyed by the field's decoded value) or a
// Leaf (a MapEntry), per spec.md §9's "immutable tree of either
// Leaf{metadata,flags} or Branch{subfield,children}".
type node struct {
	entry    *MapEntry
	field    Field
	children map[uint32]*node
}

func leaf(entry MapEntry) *node {
	e := entry
	return &node{entry: &e}
}

func branch(field Field, children map[uint32]*node) *node {
	return &node{field: field, children: children}
}

// lengthField/opcodeField split the RISC-V base opcode dispatch into
// two recursive steps, exactly as spec.md §3 describes: "Dispatch
// starts at a root table keyed by bits[1:0] ... and then opcode".
var lengthField = Single(2, 0)
var opcodeField = Single(5, 2) // bits[6:2]: opcode without the length tag

const (
	opLoad     = 0x00
	opMiscMem  = 0x03
	opOpImm    = 0x04
	opAUIPC    = 0x05
	opOpImm32  = 0x06
	opStore    = 0x08
	opOp       = 0x0c
	opLUI      = 0x0d
	opOp32     = 0x0e
	opBranch   = 0x18
	opJALR     = 0x19
	opJAL      = 0x1b
	opSystem   = 0x1c
)

var root = buildRoot()

func buildRoot() *node {
	return branch(lengthField, map[uint32]*node{
		3: branch(opcodeField, map[uint32]*node{
			opLoad:    buildLoad(),
			opMiscMem: buildMiscMem(),
			opOpImm:   buildOpImm(false),
			opAUIPC:   leaf(MapEntry{Mnemonic: "auipc", Type: TypeU, Flags: FlagSupported | FlagWritesRd | FlagUsesPCAsALUInput, ArgSyntax: []ArgKind{ArgRd, ArgUImm}}),
			opOpImm32: buildOpImm(true),
			opStore:   buildStore(),
			opOp:      buildOp(false),
			opLUI:     leaf(MapEntry{Mnemonic: "lui", Type: TypeU, Flags: FlagSupported | FlagWritesRd, ArgSyntax: []ArgKind{ArgRd, ArgUImm}}),
			opOp32:    buildOp(true),
			opBranch:  buildBranch(),
			opJALR:    leaf(MapEntry{Mnemonic: "jalr", Type: TypeI, Flags: FlagSupported | FlagWritesRd | FlagRequiresRs1 | FlagIsJump | FlagUsesImm, ArgSyntax: []ArgKind{ArgRd, ArgOffsetLoad, ArgRs1}}),
			opJAL:     leaf(MapEntry{Mnemonic: "jal", Type: TypeJ, Flags: FlagSupported | FlagWritesRd | FlagIsJump, ArgSyntax: []ArgKind{ArgRd, ArgPCRelJump}}),
			opSystem:  buildSystem(),
		}),
	})
}

func regArith(mnemonic string, op alu.Op, modified, word32 bool) MapEntry {
	flags := FlagSupported | FlagWritesRd | FlagRequiresRs1 | FlagRequiresRs2
	if modified {
		flags |= FlagModifiedALU
	}
	if word32 {
		flags |= FlagWord32
	}
	return MapEntry{
		Mnemonic: mnemonic, Type: TypeR, ALUComponent: alu.ComponentALU, ALUOp: op,
		Flags: flags, ArgSyntax: []ArgKind{ArgRd, ArgRs1, ArgRs2},
	}
}

func mulEntry(mnemonic string, op alu.Op, word32 bool) MapEntry {
	flags := FlagSupported | FlagWritesRd | FlagRequiresRs1 | FlagRequiresRs2 | FlagNeedsMultiplier
	if word32 {
		flags |= FlagWord32
	}
	return MapEntry{
		Mnemonic: mnemonic, Type: TypeR, ALUComponent: alu.ComponentMUL, ALUOp: op,
		Flags: flags, ArgSyntax: []ArgKind{ArgRd, ArgRs1, ArgRs2},
	}
}

// opKey packs (funct7, funct3) into the dispatch key opFunct7Funct3Field
// produces, matching the layout buildFunctBitsTable() decomposes back
// from when the assembler bakes funct bits.
func opKey(funct7, funct3 uint32) uint32 { return funct7<<3 | funct3 }

func buildOp(word32 bool) *node {
	const mext = 0x01 // M-extension funct7

	children := map[uint32]*node{
		opKey(0x00, 0): leaf(regArith(name("add", word32), alu.OpADD, false, word32)),
		opKey(0x20, 0): leaf(regArith(name("sub", word32), alu.OpADD, true, word32)),
		opKey(0x00, 1): leaf(regArith(name("sll", word32), alu.OpSLL, false, word32)),
		opKey(mext, 0): leaf(mulEntry(name("mul", word32), alu.OpMUL, word32)),
	}
	if !word32 {
		children[opKey(0x00, 2)] = leaf(regArith("slt", alu.OpSLT, false, false))
		children[opKey(0x00, 3)] = leaf(regArith("sltu", alu.OpSLTU, false, false))
		children[opKey(0x00, 4)] = leaf(regArith("xor", alu.OpXOR, false, false))
		children[opKey(0x00, 5)] = leaf(regArith("srl", alu.OpSRL, false, false))
		children[opKey(0x20, 5)] = leaf(regArith("sra", alu.OpSRL, true, false))
		children[opKey(0x00, 6)] = leaf(regArith("or", alu.OpOR, false, false))
		children[opKey(0x00, 7)] = leaf(regArith("and", alu.OpAND, false, false))
		children[opKey(mext, 1)] = leaf(mulEntry("mulh", alu.OpMULH, false))
		children[opKey(mext, 2)] = leaf(mulEntry("mulhsu", alu.OpMULHSU, false))
		children[opKey(mext, 3)] = leaf(mulEntry("mulhu", alu.OpMULHU, false))
		children[opKey(mext, 4)] = leaf(mulEntry("div", alu.OpDIV, false))
		children[opKey(mext, 5)] = leaf(mulEntry("divu", alu.OpDIVU, false))
		children[opKey(mext, 6)] = leaf(mulEntry("rem", alu.OpREM, false))
		children[opKey(mext, 7)] = leaf(mulEntry("remu", alu.OpREMU, false))
	} else {
		children[opKey(0x20, 5)] = leaf(regArith("sraw", alu.OpSRL, true, true))
		children[opKey(0x00, 5)] = leaf(regArith("srlw", alu.OpSRL, false, true))
		children[opKey(mext, 4)] = leaf(mulEntry("divw", alu.OpDIV, true))
		children[opKey(mext, 5)] = leaf(mulEntry("divuw", alu.OpDIVU, true))
		children[opKey(mext, 6)] = leaf(mulEntry("remw", alu.OpREM, true))
		children[opKey(mext, 7)] = leaf(mulEntry("remuw", alu.OpREMU, true))
	}
	return branch(opFunct7Funct3Field, children)
}

// opFunct7Funct3Field concatenates funct7 (high) and funct3 (low) into
// a single dispatch key for R-type opcodes.
var opFunct7Funct3Field = Field{Subfields: []Subfield{
	{Count: 7, Offset: 25}, {Count: 3, Offset: 12},
}}

func name(base string, word32 bool) string {
	if word32 {
		return base + "w"
	}
	return base
}

func buildOpImm(word32 bool) *node {
	immArith := func(mnemonic string, op alu.Op) MapEntry {
		flags := FlagSupported | FlagWritesRd | FlagRequiresRs1 | FlagUsesImm
		if word32 {
			flags |= FlagWord32
		}
		return MapEntry{
			Mnemonic: mnemonic, Type: TypeI, ALUComponent: alu.ComponentALU, ALUOp: op,
			Flags: flags, ArgSyntax: []ArgKind{ArgRd, ArgRs1, ArgImm},
		}
	}
	shiftImm := func(mnemonic string, op alu.Op, modified bool) MapEntry {
		flags := FlagSupported | FlagWritesRd | FlagRequiresRs1 | FlagUsesImm
		if modified {
			flags |= FlagModifiedALU
		}
		if word32 {
			flags |= FlagWord32
		}
		return MapEntry{
			Mnemonic: mnemonic, Type: TypeI, ALUComponent: alu.ComponentALU, ALUOp: op,
			Flags: flags, ArgSyntax: []ArgKind{ArgRd, ArgRs1, ArgShamt},
		}
	}
	children := map[uint32]*node{
		0: leaf(immArith(name("addi", word32), alu.OpADD)),
		1: leaf(shiftImm(name("slli", word32), alu.OpSLL, false)),
	}
	if !word32 {
		children[2] = leaf(immArith("slti", alu.OpSLT))
		children[3] = leaf(immArith("sltiu", alu.OpSLTU))
		children[4] = leaf(immArith("xori", alu.OpXOR))
		children[6] = leaf(immArith("ori", alu.OpOR))
		children[7] = leaf(immArith("andi", alu.OpAND))
	}
	// funct3==5 splits on bit 30 between SRLI/SRAI (or SRLIW/SRAIW).
	srliFunct3 := uint32(5)
	shiftSplit := map[uint32]*node{
		0: leaf(shiftImm(name("srli", word32), alu.OpSRL, false)),
		1: leaf(shiftImm(name("srai", word32), alu.OpSRL, true)),
	}
	children[srliFunct3] = branch(Single(1, 30), shiftSplit)
	return branch(FieldFunct3, children)
}

func buildLoad() *node {
	entry := func(mnemonic string, mem MemControl) MapEntry {
		return MapEntry{
			Mnemonic: mnemonic, Type: TypeI, Mem: mem,
			Flags: FlagSupported | FlagWritesRd | FlagRequiresRs1 | FlagUsesImm | FlagReadsMem,
			ArgSyntax: []ArgKind{ArgRd, ArgOffsetLoad, ArgRs1},
		}
	}
	return branch(FieldFunct3, map[uint32]*node{
		0: leaf(entry("lb", MemLB)),
		1: leaf(entry("lh", MemLH)),
		2: leaf(entry("lw", MemLW)),
		3: leaf(entry("ld", MemLD)),
		4: leaf(entry("lbu", MemLBU)),
		5: leaf(entry("lhu", MemLHU)),
		6: leaf(entry("lwu", MemLWU)),
	})
}

func buildStore() *node {
	entry := func(mnemonic string, mem MemControl) MapEntry {
		return MapEntry{
			Mnemonic: mnemonic, Type: TypeS, Mem: mem,
			Flags: FlagSupported | FlagRequiresRs1 | FlagRequiresRs2 | FlagUsesImm | FlagWritesMem,
			ArgSyntax: []ArgKind{ArgRs2, ArgOffsetStore, ArgRs1},
		}
	}
	return branch(FieldFunct3, map[uint32]*node{
		0: leaf(entry("sb", MemSB)),
		1: leaf(entry("sh", MemSH)),
		2: leaf(entry("sw", MemSW)),
		3: leaf(entry("sd", MemSD)),
	})
}

func buildBranch() *node {
	entry := func(mnemonic string, op alu.Op, modified bool) MapEntry {
		flags := FlagSupported | FlagRequiresRs1 | FlagRequiresRs2 | FlagIsBranch
		if modified {
			flags |= FlagModifiedALU
		}
		return MapEntry{
			Mnemonic: mnemonic, Type: TypeB, ALUComponent: alu.ComponentALU, ALUOp: op,
			Flags: flags, ArgSyntax: []ArgKind{ArgRs1, ArgRs2, ArgPCRelBranch},
		}
	}
	return branch(FieldFunct3, map[uint32]*node{
		0: leaf(entry("beq", alu.OpXOR, false)),
		1: leaf(entry("bne", alu.OpXOR, false)),
		4: leaf(entry("blt", alu.OpSLT, false)),
		5: leaf(entry("bge", alu.OpSLT, false)),
		6: leaf(entry("bltu", alu.OpSLTU, false)),
		7: leaf(entry("bgeu", alu.OpSLTU, false)),
	})
}

func buildMiscMem() *node {
	return branch(FieldFunct3, map[uint32]*node{
		0: leaf(MapEntry{Mnemonic: "fence", Type: TypeI, Flags: FlagSupported}),
	})
}

func buildSystem() *node {
	csrEntry := func(mnemonic string, useImm bool) MapEntry {
		flags := FlagSupported | FlagWritesRd | FlagIsCSR
		if useImm {
			flags |= FlagUsesImm
		} else {
			flags |= FlagRequiresRs1
		}
		arg := ArgRs1
		if useImm {
			arg = ArgZimm
		}
		return MapEntry{
			Mnemonic: mnemonic, Type: TypeI, Flags: flags,
			ArgSyntax: []ArgKind{ArgRd, arg, ArgCSR},
		}
	}
	ecallEbreak := branch(Single(12, 20), map[uint32]*node{
		0: leaf(MapEntry{Mnemonic: "ecall", Type: TypeI, Flags: FlagSupported | FlagIsECall}),
		1: leaf(MapEntry{Mnemonic: "ebreak", Type: TypeI, Flags: FlagSupported | FlagIsEBreak}),
	})
	return branch(FieldFunct3, map[uint32]*node{
		0: ecallEbreak,
		1: leaf(csrEntry("csrrw", false)),
		2: leaf(csrEntry("csrrs", false)),
		3: leaf(csrEntry("csrrc", false)),
		5: leaf(csrEntry("csrrwi", true)),
		6: leaf(csrEntry("csrrsi", true)),
		7: leaf(csrEntry("csrrci", true)),
	})
}

// Decode walks the instruction map's dispatch tree for word and
// returns the leaf MapEntry, or an error if no recognized leaf exists
// or the leaf is marked unsupported (spec.md §3, §7).
func Decode(word Word) (*MapEntry, error) {
	if word.LengthTag() != 0x3 {
		return nil, except.Wrap(except.ErrSanity, fmt.Sprintf("instruction %#x is not a 32-bit-length instruction", uint32(word)))
	}
	n := root
	for n.entry == nil {
		key := n.field.Decode(uint32(word))
		child, ok := n.children[key]
		if !ok {
			return nil, fmt.Errorf("isa: no map entry for instruction %#08x (opcode %#x)", uint32(word), word.Opcode())
		}
		n = child
	}
	if n.entry.Flags&FlagSupported == 0 {
		return nil, fmt.Errorf("isa: unsupported instruction %#08x (%s)", uint32(word), n.entry.Mnemonic)
	}
	return n.entry, nil
}
