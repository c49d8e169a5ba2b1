package isa

import (
	"fmt"
	"strings"

	"github.com/bassosimone/rvsim/pkg/types"
)

var abiNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

func regName(n uint32, abi bool) string {
	if abi {
		return abiNames[n]
	}
	return fmt.Sprintf("x%d", n)
}

// Disassemble decodes word at address pc and renders the symbolic
// form the instruction map associates with its leaf entry (spec.md
// §4.1 "Disassembly"). It special-cases the canonical "nop" alias for
// addi x0, x0, 0, as RISC-V disassemblers conventionally do.
func Disassemble(word Word, pc types.Address, abi bool) (string, error) {
	entry, err := Decode(word)
	if err != nil {
		return "", err
	}
	if entry.Mnemonic == "addi" && word.Rd() == 0 && word.Rs1() == 0 && word.ImmI() == 0 {
		return "nop", nil
	}
	var b strings.Builder
	b.WriteString(entry.Mnemonic)
	args := renderArgs(entry, word, pc, abi)
	if len(args) > 0 {
		b.WriteByte(' ')
		b.WriteString(strings.Join(args, ", "))
	}
	return b.String(), nil
}

func renderArgs(entry *MapEntry, word Word, pc types.Address, abi bool) []string {
	switch entry.Type {
	case TypeR:
		return []string{
			regName(word.Rd(), abi), regName(word.Rs1(), abi), regName(word.Rs2(), abi),
		}
	case TypeU:
		return []string{regName(word.Rd(), abi), fmt.Sprintf("%#x", uint32(word.ImmU())>>12)}
	case TypeJ:
		target := pc.Add(uint64(int64(word.ImmJ())))
		return []string{regName(word.Rd(), abi), fmt.Sprintf("%#x", target.Raw())}
	case TypeB:
		target := pc.Add(uint64(int64(word.ImmB())))
		return []string{regName(word.Rs1(), abi), regName(word.Rs2(), abi), fmt.Sprintf("%#x", target.Raw())}
	case TypeS:
		return []string{regName(word.Rs2(), abi), fmt.Sprintf("%d(%s)", word.ImmS(), regName(word.Rs1(), abi))}
	case TypeI:
		return renderIType(entry, word, abi)
	default:
		return nil
	}
}

func renderIType(entry *MapEntry, word Word, abi bool) []string {
	switch {
	case entry.Flags&FlagIsECall != 0 || entry.Flags&FlagIsEBreak != 0:
		return nil
	case entry.Flags&FlagIsCSR != 0:
		first := regName(word.Rs1(), abi)
		if entry.Flags&FlagUsesImm != 0 {
			first = fmt.Sprintf("%d", word.Rs1()) // zimm occupies the rs1 field
		}
		return []string{regName(word.Rd(), abi), first, fmt.Sprintf("%#x", word.CSRAddr())}
	case entry.Mnemonic == "jalr":
		return []string{regName(word.Rd(), abi), fmt.Sprintf("%d(%s)", word.ImmI(), regName(word.Rs1(), abi))}
	case entry.Mem != MemNone:
		return []string{regName(word.Rd(), abi), fmt.Sprintf("%d(%s)", word.ImmI(), regName(word.Rs1(), abi))}
	case entry.Flags&FlagUsesImm != 0 && hasShamtArg(entry):
		shamt := word.Shamt64()
		if entry.Flags&FlagWord32 != 0 {
			shamt = word.Shamt32()
		}
		return []string{regName(word.Rd(), abi), regName(word.Rs1(), abi), fmt.Sprintf("%d", shamt)}
	case entry.Flags&FlagUsesImm != 0:
		return []string{regName(word.Rd(), abi), regName(word.Rs1(), abi), fmt.Sprintf("%d", word.ImmI())}
	case entry.Mnemonic == "fence":
		return nil
	default:
		return []string{regName(word.Rd(), abi), regName(word.Rs1(), abi)}
	}
}

func hasShamtArg(entry *MapEntry) bool {
	for _, a := range entry.ArgSyntax {
		if a == ArgShamt {
			return true
		}
	}
	return false
}
