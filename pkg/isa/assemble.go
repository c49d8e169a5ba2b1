package isa

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// assembleLog is the package-wide parse-error/relocation diagnostics
// logger (spec.md §6); SetAssembleLogger overrides it.
var assembleLog = logrus.StandardLogger()

// SetAssembleLogger overrides the logger Assemble uses to report
// parse and relocation failures.
func SetAssembleLogger(l *logrus.Logger) { assembleLog = l }

// RelocKind names how a symbolic operand is resolved against a label
// once every line has been scanned (spec.md §4.1 "two-pass assembly").
type RelocKind int

// Relocation kinds.
const (
	RelocNone RelocKind = iota
	RelocBranch            // B-type pc-relative, +-4KiB range
	RelocJump              // J-type pc-relative, +-1MiB range
	RelocUpper             // COMPOSED_IMM_UPPER: high 20 bits of (target-pc)
	RelocLower             // COMPOSED_IMM_LOWER: low 12 bits of (target-pc), sign-extended carry from Upper
)

// relocation records a still-unresolved symbolic reference produced
// while assembling one line; assemble resolves it in a second pass
// once every label's address is known.
type relocation struct {
	lineIndex int
	kind      RelocKind
	symbol    string
}

// Assembled is one encoded instruction plus its source line index, for
// error reporting and listing generation.
type Assembled struct {
	Word      Word
	LineIndex int
}

// pseudoShape names which operand slots a pseudoinstruction's textual
// form binds, so the expander does not have to guess by type-sniffing
// (spec.md §4.1 "pseudoinstruction expansion").
type pseudoShape int

const (
	shapeNone   pseudoShape = iota // nop, ret
	shapeRdRs1                     // mv, not, neg, seqz, snez, sltz, sgtz
	shapeRdImm                     // li
	shapeRdSym                     // la
	shapeRs1Sym                    // beqz, bnez, blez, bgez, bltz, bgtz
	shapeSym                       // j, call
	shapeRs1                       // jr
)

type pseudoOp struct {
	shape  pseudoShape
	expand func(rd, rs1, symbol string, imm int64) []string
}

func pseudoOperandCount(shape pseudoShape) int {
	switch shape {
	case shapeNone:
		return 0
	case shapeSym, shapeRs1:
		return 1
	default:
		return 2
	}
}

var pseudoTable = map[string]pseudoOp{
	"nop": {shapeNone, func(_, _, _ string, _ int64) []string { return []string{"addi x0, x0, 0"} }},
	"ret": {shapeNone, func(_, _, _ string, _ int64) []string { return []string{"jalr x0, 0(ra)"} }},
	"mv":   {shapeRdRs1, func(rd, rs1, _ string, _ int64) []string { return []string{fmt.Sprintf("addi %s, %s, 0", rd, rs1)} }},
	"not":  {shapeRdRs1, func(rd, rs1, _ string, _ int64) []string { return []string{fmt.Sprintf("xori %s, %s, -1", rd, rs1)} }},
	"neg":  {shapeRdRs1, func(rd, rs1, _ string, _ int64) []string { return []string{fmt.Sprintf("sub %s, x0, %s", rd, rs1)} }},
	"seqz": {shapeRdRs1, func(rd, rs1, _ string, _ int64) []string { return []string{fmt.Sprintf("sltiu %s, %s, 1", rd, rs1)} }},
	"snez": {shapeRdRs1, func(rd, rs1, _ string, _ int64) []string { return []string{fmt.Sprintf("sltu %s, x0, %s", rd, rs1)} }},
	"sltz": {shapeRdRs1, func(rd, rs1, _ string, _ int64) []string { return []string{fmt.Sprintf("slt %s, %s, x0", rd, rs1)} }},
	"sgtz": {shapeRdRs1, func(rd, rs1, _ string, _ int64) []string { return []string{fmt.Sprintf("slt %s, x0, %s", rd, rs1)} }},
	"j":    {shapeSym, func(_, _, sym string, _ int64) []string { return []string{fmt.Sprintf("jal x0, %s", sym)} }},
	"jr":   {shapeRs1, func(_, rs1, _ string, _ int64) []string { return []string{fmt.Sprintf("jalr x0, 0(%s)", rs1)} }},
	"call": {shapeSym, func(_, _, sym string, _ int64) []string {
		return []string{fmt.Sprintf("auipc ra, %%hi(%s)", sym), fmt.Sprintf("jalr ra, %%lo(%s)(ra)", sym)}
	}},
	"beqz": {shapeRs1Sym, func(_, rs1, sym string, _ int64) []string { return []string{fmt.Sprintf("beq %s, x0, %s", rs1, sym)} }},
	"bnez": {shapeRs1Sym, func(_, rs1, sym string, _ int64) []string { return []string{fmt.Sprintf("bne %s, x0, %s", rs1, sym)} }},
	"blez": {shapeRs1Sym, func(_, rs1, sym string, _ int64) []string { return []string{fmt.Sprintf("bge x0, %s, %s", rs1, sym)} }},
	"bgez": {shapeRs1Sym, func(_, rs1, sym string, _ int64) []string { return []string{fmt.Sprintf("bge %s, x0, %s", rs1, sym)} }},
	"bltz": {shapeRs1Sym, func(_, rs1, sym string, _ int64) []string { return []string{fmt.Sprintf("blt %s, x0, %s", rs1, sym)} }},
	"bgtz": {shapeRs1Sym, func(_, rs1, sym string, _ int64) []string { return []string{fmt.Sprintf("blt x0, %s, %s", rs1, sym)} }},
	"li": {shapeRdImm, func(rd, _, _ string, imm int64) []string {
		if imm >= -2048 && imm <= 2047 {
			return []string{fmt.Sprintf("addi %s, x0, %d", rd, imm)}
		}
		upper := (imm + 0x800) >> 12
		lower := imm - (upper << 12)
		return []string{fmt.Sprintf("lui %s, %#x", rd, uint32(upper)&0xfffff), fmt.Sprintf("addi %s, %s, %d", rd, rd, lower)}
	}},
	"la": {shapeRdSym, func(rd, _, sym string, _ int64) []string {
		return []string{fmt.Sprintf("auipc %s, %%hi(%s)", rd, sym), fmt.Sprintf("addi %s, %s, %%lo(%s)", rd, rd, sym)}
	}},
}

var regAliases = map[string]uint32{}

func init() {
	for i, n := range abiNames {
		regAliases[n] = uint32(i)
	}
	for i := 0; i < 32; i++ {
		regAliases[fmt.Sprintf("x%d", i)] = uint32(i)
	}
	regAliases["fp"] = 8
}

func parseRegister(tok string) (uint32, error) {
	tok = strings.TrimSpace(tok)
	if n, ok := regAliases[tok]; ok {
		return n, nil
	}
	return 0, fmt.Errorf("isa: unknown register %q", tok)
}

func parseImmediate(tok string) (int64, error) {
	tok = strings.TrimSpace(tok)
	return strconv.ParseInt(tok, 0, 64)
}

// parseHiLo recognizes the "%hi(symbol)"/"%lo(symbol)" operand syntax
// used by the la/call pseudoinstruction expansions.
func parseHiLo(tok string) (symbol string, kind RelocKind, ok bool) {
	tok = strings.TrimSpace(tok)
	switch {
	case strings.HasPrefix(tok, "%hi(") && strings.HasSuffix(tok, ")"):
		return tok[4 : len(tok)-1], RelocUpper, true
	case strings.HasPrefix(tok, "%lo(") && strings.HasSuffix(tok, ")"):
		return tok[4 : len(tok)-1], RelocLower, true
	default:
		return "", RelocNone, false
	}
}

// splitLine tokenizes one assembly line into (mnemonic, operand
// tokens), stripping a trailing "# ..." or "// ..." comment and any
// "label:" prefix, which the caller records separately.
func splitLine(line string) (label, mnemonic string, operands []string) {
	if i := strings.Index(line, "#"); i >= 0 {
		line = line[:i]
	}
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", nil
	}
	if i := strings.Index(line, ":"); i >= 0 {
		label = strings.TrimSpace(line[:i])
		line = strings.TrimSpace(line[i+1:])
	}
	if line == "" {
		return label, "", nil
	}
	fields := strings.SplitN(line, " ", 2)
	mnemonic = strings.ToLower(strings.TrimSpace(fields[0]))
	if len(fields) == 2 {
		for _, op := range strings.Split(fields[1], ",") {
			op = strings.TrimSpace(op)
			if op != "" {
				operands = append(operands, op)
			}
		}
	}
	return label, mnemonic, operands
}

// mnemonicIndex maps every supported leaf's mnemonic to its MapEntry,
// built once from the instruction map (spec.md §4.1 "look up all map
// entries with that mnemonic").
var mnemonicIndex = buildMnemonicIndex()

func buildMnemonicIndex() map[string]*MapEntry {
	idx := map[string]*MapEntry{}
	var walk func(n *node)
	walk = func(n *node) {
		if n.entry != nil {
			if n.entry.Flags&FlagSupported != 0 {
				idx[n.entry.Mnemonic] = n.entry
			}
			return
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(root)
	return idx
}

// Assemble translates assembly source text into a sequence of encoded
// instruction words, expanding pseudoinstructions and resolving label
// references in a second pass (spec.md §4.1).
func Assemble(source string) (out []Assembled, err error) {
	defer func() {
		if err != nil {
			assembleLog.WithError(err).Debug("isa: assemble failed")
		}
	}()
	return assemble(source)
}

func assemble(source string) ([]Assembled, error) {
	lines := strings.Split(source, "\n")

	type expanded struct {
		lineIndex int
		mnemonic  string
		operands  []string
	}
	var items []expanded
	labels := map[string]int{}

	for i, raw := range lines {
		label, mnemonic, operands := splitLine(raw)
		if label != "" {
			labels[label] = len(items)
		}
		if mnemonic == "" {
			continue
		}
		if op, ok := pseudoTable[mnemonic]; ok {
			if want := pseudoOperandCount(op.shape); len(operands) != want {
				return nil, fmt.Errorf("isa: line %d: %q expects %d operands, got %d", i+1, mnemonic, want, len(operands))
			}
			rd, rs1, sym, imm, err := "", "", "", int64(0), error(nil)
			switch op.shape {
			case shapeRdRs1:
				rd, rs1 = operands[0], operands[1]
			case shapeRdImm:
				rd = operands[0]
				imm, err = parseImmediate(operands[1])
			case shapeRdSym:
				rd, sym = operands[0], operands[1]
			case shapeRs1Sym:
				rs1, sym = operands[0], operands[1]
			case shapeSym:
				sym = operands[0]
			case shapeRs1:
				rs1 = operands[0]
			}
			if err != nil {
				return nil, fmt.Errorf("isa: line %d: %w", i+1, err)
			}
			for _, text := range op.expand(rd, rs1, sym, imm) {
				_, m, ops := splitLine(text)
				items = append(items, expanded{lineIndex: i, mnemonic: m, operands: ops})
			}
			continue
		}
		items = append(items, expanded{lineIndex: i, mnemonic: mnemonic, operands: operands})
	}

	var out []Assembled
	var relocs []relocation
	for idx, item := range items {
		entry, ok := mnemonicIndex[item.mnemonic]
		if !ok {
			return nil, fmt.Errorf("isa: line %d: unknown mnemonic %q", item.lineIndex+1, item.mnemonic)
		}
		word, reloc, err := encodeInstruction(entry, item.operands, idx)
		if err != nil {
			return nil, fmt.Errorf("isa: line %d: %w", item.lineIndex+1, err)
		}
		if reloc != nil {
			relocs = append(relocs, *reloc)
		}
		out = append(out, Assembled{Word: word, LineIndex: item.lineIndex})
	}

	for _, r := range relocs {
		target, ok := labels[r.symbol]
		if !ok {
			return nil, fmt.Errorf("isa: undefined label %q", r.symbol)
		}
		delta := int64(target-r.lineIndex) * 4
		w := out[r.lineIndex].Word
		switch r.kind {
		case RelocBranch:
			if delta < -4096 || delta > 4094 {
				return nil, fmt.Errorf("isa: branch target %q out of range", r.symbol)
			}
			w = encodeImmB(w, int32(delta))
		case RelocJump:
			if delta < -1048576 || delta > 1048574 {
				return nil, fmt.Errorf("isa: jump target %q out of range", r.symbol)
			}
			w = encodeImmJ(w, int32(delta))
		case RelocUpper:
			hi := (delta + 0x800) >> 12
			w = Word((uint32(w) &^ FieldImmU.mask()) | FieldImmU.Encode(uint32(hi)<<12))
		case RelocLower:
			// %lo pairs with the %hi (auipc) one instruction earlier, so
			// the offset is taken from that auipc's address.
			delta += 4
			hi := (delta + 0x800) >> 12
			lo := delta - hi<<12
			w = Word((uint32(w) &^ FieldImmI.mask()) | FieldImmI.Encode(uint32(lo)))
		}
		out[r.lineIndex].Word = w
	}
	return out, nil
}

func encodeImmB(w Word, imm int32) Word {
	base := uint32(w) &^ FieldImmB.mask()
	return Word(base | FieldImmB.Encode(uint32(imm)))
}

func encodeImmJ(w Word, imm int32) Word {
	base := uint32(w) &^ FieldImmJ.mask()
	return Word(base | FieldImmJ.Encode(uint32(imm)))
}

// mask returns the set of instruction-word bit positions a Field's
// subfields occupy, used to clear them before re-encoding.
func (f Field) mask() uint32 {
	var m uint32
	for _, sf := range f.Subfields {
		m |= (uint32(1)<<sf.Count - 1) << sf.Offset
	}
	return m
}

func encodeInstruction(entry *MapEntry, operands []string, lineIndex int) (Word, *relocation, error) {
	var w uint32
	w |= baseOpcodeOf(entry)
	var reloc *relocation

	if entry.Mnemonic == "ebreak" {
		w |= 1 << 20
	}

	get := func(i int) (string, error) {
		if i >= len(operands) {
			return "", fmt.Errorf("%s: expected %d operands, got %d", entry.Mnemonic, len(entry.ArgSyntax), len(operands))
		}
		return operands[i], nil
	}

	for i, tok := range entry.ArgSyntax {
		// The base register of an offset operand is written inside it
		// ("imm(reg)"), so the ArgRs1 token that follows takes no operand.
		if tok == ArgRs1 && i > 0 && (entry.ArgSyntax[i-1] == ArgOffsetLoad || entry.ArgSyntax[i-1] == ArgOffsetStore) {
			continue
		}
		opnd, err := get(i)
		if err != nil {
			return 0, nil, err
		}
		switch tok {
		case ArgRd:
			r, err := parseRegister(opnd)
			if err != nil {
				return 0, nil, err
			}
			w |= FieldRd.Encode(r)
		case ArgRs1:
			r, err := parseRegister(opnd)
			if err != nil {
				return 0, nil, err
			}
			w |= FieldRs1.Encode(r)
		case ArgRs2:
			r, err := parseRegister(opnd)
			if err != nil {
				return 0, nil, err
			}
			w |= FieldRs2.Encode(r)
		case ArgImm:
			if sym, kind, ok := parseHiLo(opnd); ok {
				reloc = &relocation{lineIndex: lineIndex, kind: kind, symbol: sym}
			} else {
				n, err := parseImmediate(opnd)
				if err != nil {
					return 0, nil, err
				}
				w |= FieldImmI.Encode(uint32(n))
			}
		case ArgCSR:
			n, err := parseImmediate(opnd)
			if err != nil {
				return 0, nil, err
			}
			w |= FieldImmI.Encode(uint32(n))
		case ArgZimm:
			n, err := parseImmediate(opnd)
			if err != nil {
				return 0, nil, err
			}
			w |= FieldRs1.Encode(uint32(n))
		case ArgUImm:
			if sym, kind, ok := parseHiLo(opnd); ok {
				reloc = &relocation{lineIndex: lineIndex, kind: kind, symbol: sym}
			} else {
				n, err := parseImmediate(opnd)
				if err != nil {
					return 0, nil, err
				}
				w |= FieldImmU.Encode(uint32(n) << 12)
			}
		case ArgShamt:
			n, err := parseImmediate(opnd)
			if err != nil {
				return 0, nil, err
			}
			w |= FieldShamt6.Encode(uint32(n))
		case ArgPCRelJump:
			reloc = &relocation{lineIndex: lineIndex, kind: RelocJump, symbol: opnd}
		case ArgPCRelBranch:
			reloc = &relocation{lineIndex: lineIndex, kind: RelocBranch, symbol: opnd}
		case ArgOffsetLoad:
			offReg, err := parseOffsetOperand(opnd)
			if err != nil {
				return 0, nil, err
			}
			if sym, kind, ok := parseHiLo(offReg.offset); ok {
				reloc = &relocation{lineIndex: lineIndex, kind: kind, symbol: sym}
			} else {
				n, err := parseImmediate(offReg.offset)
				if err != nil {
					return 0, nil, err
				}
				w |= FieldImmI.Encode(uint32(n))
			}
			r, err := parseRegister(offReg.reg)
			if err != nil {
				return 0, nil, err
			}
			w |= FieldRs1.Encode(r)
		case ArgOffsetStore:
			offReg, err := parseOffsetOperand(opnd)
			if err != nil {
				return 0, nil, err
			}
			n, err := parseImmediate(offReg.offset)
			if err != nil {
				return 0, nil, err
			}
			w |= FieldImmS.Encode(uint32(n))
			r, err := parseRegister(offReg.reg)
			if err != nil {
				return 0, nil, err
			}
			w |= FieldRs1.Encode(r)
		}
	}

	w = bakeFunctBits(entry, w)
	return Word(w), reloc, nil
}

type offsetOperand struct {
	offset string
	reg    string
}

// parseOffsetOperand parses the conventional "imm(reg)" load/store
// syntax into its two pieces.
func parseOffsetOperand(tok string) (offsetOperand, error) {
	tok = strings.TrimSpace(tok)
	if !strings.HasSuffix(tok, ")") {
		return offsetOperand{}, fmt.Errorf("isa: malformed offset operand %q", tok)
	}
	close := len(tok) - 1
	open := strings.LastIndexByte(tok[:close], '(')
	if open < 0 {
		return offsetOperand{}, fmt.Errorf("isa: malformed offset operand %q", tok)
	}
	return offsetOperand{offset: strings.TrimSpace(tok[:open]), reg: strings.TrimSpace(tok[open+1 : close])}, nil
}

func baseOpcodeOf(entry *MapEntry) uint32 {
	switch entry.Type {
	case TypeR:
		if entry.Flags&FlagWord32 != 0 {
			return 0x3b
		}
		return 0x33
	case TypeI:
		switch {
		case entry.Flags&FlagIsCSR != 0 || entry.Flags&FlagIsECall != 0 || entry.Flags&FlagIsEBreak != 0:
			return 0x73
		case entry.Mem != MemNone:
			return 0x03
		case entry.Mnemonic == "jalr":
			return 0x67
		case entry.Mnemonic == "fence":
			return 0x0f
		default:
			if entry.Flags&FlagWord32 != 0 {
				return 0x1b
			}
			return 0x13
		}
	case TypeS:
		return 0x23
	case TypeB:
		return 0x63
	case TypeU:
		if entry.Mnemonic == "lui" {
			return 0x37
		}
		return 0x17
	case TypeJ:
		return 0x6f
	}
	return 0
}

// bakeFunctBits fills in funct3/funct7 from the mnemonic table built
// by the instruction map, by looking the entry back up through a
// reverse scan of the map's leaves. This keeps the encoder's funct
// bits in lockstep with the decoder's dispatch keys (testable
// property 2: decode(encode(x)) == x).
func bakeFunctBits(entry *MapEntry, w uint32) uint32 {
	funct3, funct7, m3, m7, ok := lookupFunctBits(entry)
	if !ok {
		return w
	}
	w = (w &^ (m3 << 12)) | (funct3 << 12)
	w = (w &^ (m7 << 25)) | (funct7 << 25)
	return w
}

var functBitsByMnemonic = buildFunctBitsTable()

func buildFunctBitsTable() map[string][4]uint32 {
	table := map[string][4]uint32{}
	var walk func(n *node, f3, f7, m3, m7 uint32)
	walk = func(n *node, f3, f7, m3, m7 uint32) {
		if n.entry != nil {
			table[n.entry.Mnemonic] = [4]uint32{f3, f7, m3, m7}
			return
		}
		for key, c := range n.children {
			nf3, nf7 := f3, f7
			nm3, nm7 := m3, m7
			switch {
			case sameField(n.field, FieldFunct3):
				nf3, nm3 = key, 0x7
			case sameField(n.field, opFunct7Funct3Field):
				nf3, nf7, nm3, nm7 = key&0x7, key>>3, 0x7, 0x7f
			case sameField(n.field, Single(1, 30)):
				nf7 = nf7 | key<<5
				nm7 = nm7 | 1<<5
			}
			walk(c, nf3, nf7, nm3, nm7)
		}
	}
	walk(root, 0, 0, 0, 0)
	return table
}

func sameField(a, b Field) bool {
	if len(a.Subfields) != len(b.Subfields) || a.Shift != b.Shift {
		return false
	}
	for i := range a.Subfields {
		if a.Subfields[i] != b.Subfields[i] {
			return false
		}
	}
	return true
}

func lookupFunctBits(entry *MapEntry) (funct3, funct7, mask3, mask7 uint32, ok bool) {
	bits, found := functBitsByMnemonic[entry.Mnemonic]
	return bits[0], bits[1], bits[2], bits[3], found
}
