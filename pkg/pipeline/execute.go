package pipeline

import (
	"github.com/bassosimone/rvsim/pkg/alu"
	"github.com/bassosimone/rvsim/pkg/except"
	"github.com/bassosimone/rvsim/pkg/isa"
	"github.com/bassosimone/rvsim/pkg/types"
)

// branchTaken evaluates a resolved branch's condition from the ALU
// result computed for it, reading the mnemonic to tell equal/unequal
// and less-than/greater-or-equal apart the way the teacher's
// Disassemble switch keys execution purely off the decoded opcode
// (spec.md §4.2's conditional-branch comparison table).
func branchTaken(mnemonic string, aluResult uint64) bool {
	switch mnemonic {
	case "beq":
		return aluResult == 0
	case "bne":
		return aluResult != 0
	case "blt", "bltu":
		return aluResult != 0
	case "bge", "bgeu":
		return aluResult == 0
	default:
		return false
	}
}

// resolveTarget computes a taken branch or jump's destination: pc+imm
// for branches and JAL, (rs1+imm)&^1 for JALR (spec.md §4.1's "j"/"p"/
// "a" pc-relative argument kinds, §3's JALR least-significant-bit-clear
// rule).
func resolveTarget(entry *isa.MapEntry, pc types.Address, rs1Val uint64, imm int64) types.Address {
	if entry.Mnemonic == "jalr" {
		return types.NewAddress((rs1Val + uint64(imm)) &^ 1)
	}
	return types.NewAddress(uint64(int64(pc.Raw()) + imm))
}

// executeResult is what the execute stage hands to memory: the
// computed value (ALU result, or the memory address for loads/stores),
// the resolved next-PC, and any exception it raised.
type executeResult struct {
	ALUResult  uint64
	NextPC     types.Address
	Mispredict bool
	ExCause    except.ExceptionCause
	TrapValue  uint64
}

// runExecute computes de's result given the already-forwarded operand
// values (rs1Val/rs2Val, with forwarding already applied by the
// caller) and de's own statically-known fields. fallthroughPC is
// de.PC+4; predictedNext is what fetch guessed.
func runExecute(de *deLatch, rs1Val, rs2Val uint64, fallthroughPC, predictedNext types.Address) executeResult {
	entry := de.Entry
	if de.ExCause != except.CauseNone {
		return executeResult{NextPC: fallthroughPC, ExCause: de.ExCause}
	}

	switch {
	case entry.Flags&isa.FlagIsECall != 0:
		return executeResult{NextPC: fallthroughPC, ExCause: except.CauseECall}
	case entry.Flags&isa.FlagIsEBreak != 0:
		return executeResult{NextPC: fallthroughPC, ExCause: except.CauseBreakpoint}
	}

	var a, b uint64
	switch {
	case entry.Flags&isa.FlagUsesPCAsALUInput != 0:
		a = de.PC.Raw()
	default:
		a = rs1Val
	}
	switch {
	case entry.Mnemonic == "lui":
		a = 0
		b = uint64(de.Imm)
	case entry.Flags&isa.FlagIsBranch != 0:
		b = rs2Val
	case entry.Flags&isa.FlagUsesImm != 0 && entry.Flags&isa.FlagIsCSR == 0:
		b = uint64(de.Imm)
	case entry.Mnemonic == "auipc":
		b = uint64(de.Imm)
	default:
		b = rs2Val
	}

	if entry.Mnemonic == "jal" || entry.Mnemonic == "jalr" {
		target := resolveTarget(entry, de.PC, rs1Val, de.Imm)
		if target.Raw()%4 != 0 {
			return executeResult{NextPC: fallthroughPC, ExCause: except.CauseUnalignedJump, TrapValue: target.Raw()}
		}
		mis := target.Raw() != predictedNext.Raw()
		return executeResult{ALUResult: de.PC.Add(4).Raw(), NextPC: target, Mispredict: mis}
	}

	if entry.Flags&isa.FlagIsBranch != 0 {
		result, err := alu.Execute(alu.ComponentALU, entry.ALUOp, entry.Flags&isa.FlagModifiedALU != 0, false, rs1Val, rs2Val)
		if err != nil {
			return executeResult{NextPC: fallthroughPC, ExCause: except.CauseIllegalInstruction}
		}
		taken := branchTaken(entry.Mnemonic, result)
		target := fallthroughPC
		if taken {
			target = resolveTarget(entry, de.PC, rs1Val, de.Imm)
			if target.Raw()%4 != 0 {
				return executeResult{NextPC: fallthroughPC, ExCause: except.CauseUnalignedJump, TrapValue: target.Raw()}
			}
		}
		mis := target.Raw() != predictedNext.Raw()
		return executeResult{NextPC: target, Mispredict: mis}
	}

	if entry.Flags&isa.FlagReadsMem != 0 || entry.Flags&isa.FlagWritesMem != 0 {
		addr := rs1Val + uint64(de.Imm)
		return executeResult{ALUResult: addr, NextPC: fallthroughPC}
	}

	if entry.Flags&isa.FlagIsCSR != 0 {
		return executeResult{ALUResult: rs1Val, NextPC: fallthroughPC}
	}

	if entry.Mnemonic == "auipc" || entry.Mnemonic == "lui" {
		result := a + b
		return executeResult{ALUResult: result, NextPC: fallthroughPC}
	}

	component := alu.ComponentALU
	if entry.Flags&isa.FlagNeedsMultiplier != 0 {
		component = alu.ComponentMUL
	}
	word32 := entry.Flags&isa.FlagWord32 != 0
	result, err := alu.Execute(component, entry.ALUOp, entry.Flags&isa.FlagModifiedALU != 0, word32, a, b)
	if err != nil {
		return executeResult{NextPC: fallthroughPC, ExCause: except.CauseIllegalInstruction}
	}
	return executeResult{ALUResult: result, NextPC: fallthroughPC}
}
