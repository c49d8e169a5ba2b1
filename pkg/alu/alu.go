// Package alu computes the integer and M-extension results for the
// execute stage. Execute is a pure function: given the same inputs it
// always returns the same result and has no observable side effects
// (spec.md §2.3, §4.2, testable property 4).
package alu

import (
	"math/bits"

	"github.com/bassosimone/rvsim/pkg/except"
)

// Component selects which execution unit computes the result.
type Component int

// The two components the execute stage can dispatch to.
const (
	ComponentALU Component = iota
	ComponentMUL
)

// Op identifies the operation within a Component.
type Op int

// Integer ALU operations (spec.md §4.2).
const (
	OpADD Op = iota // modified=true selects SUB
	OpSLL
	OpSLT
	OpSLTU
	OpXOR
	OpSRL // modified=true selects SRA
	OpOR
	OpAND
)

// M-extension operations (spec.md §4.2).
const (
	OpMUL Op = iota + 100
	OpMULH
	OpMULHSU
	OpMULHU
	OpDIV
	OpDIVU
	OpREM
	OpREMU
)

// Execute computes a single ALU or multiplier result from
// (component, op, modified, word32, a, b). word32 selects the 32-bit
// "W" instruction variants, which sign-extend their 32-bit result
// into the full 64-bit destination register. No trap is ever raised
// by the ALU; except.ErrUnsupportedAluOperation is a sanity-only error
// that a correctly wired decoder never triggers.
func Execute(component Component, op Op, modified, word32 bool, a, b uint64) (uint64, error) {
	switch component {
	case ComponentALU:
		return executeALU(op, modified, word32, a, b)
	case ComponentMUL:
		return executeMUL(op, word32, a, b)
	default:
		return 0, except.Wrap(except.ErrUnsupportedAluOperation, "unknown component")
	}
}

func shiftMask(word32 bool) uint64 {
	if word32 {
		return 0x1f
	}
	return 0x3f
}

func signExtend32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

func executeALU(op Op, modified, word32 bool, a, b uint64) (uint64, error) {
	if word32 {
		a = uint64(uint32(a))
		b = uint64(uint32(b))
	}
	var result uint64
	switch op {
	case OpADD:
		if modified {
			result = a - b
		} else {
			result = a + b
		}
	case OpSLL:
		shamt := b & shiftMask(word32)
		result = a << shamt
	case OpSLT:
		var signedA, signedB int64
		if word32 {
			signedA, signedB = int64(int32(a)), int64(int32(b))
		} else {
			signedA, signedB = int64(a), int64(b)
		}
		if signedA < signedB {
			result = 1
		}
	case OpSLTU:
		if a < b {
			result = 1
		}
	case OpXOR:
		result = a ^ b
	case OpSRL:
		shamt := b & shiftMask(word32)
		if modified {
			if word32 {
				result = uint64(int64(int32(a)) >> shamt)
			} else {
				result = uint64(int64(a) >> shamt)
			}
		} else {
			result = a >> shamt
		}
	case OpOR:
		result = a | b
	case OpAND:
		result = a & b
	default:
		return 0, except.Wrap(except.ErrUnsupportedAluOperation, "unknown alu op")
	}
	if word32 {
		return signExtend32(uint32(result)), nil
	}
	return result, nil
}

func executeMUL(op Op, word32 bool, a, b uint64) (uint64, error) {
	if word32 {
		switch op {
		case OpMUL:
			r := int32(a) * int32(b)
			return signExtend32(uint32(r)), nil
		case OpDIV:
			return signExtend32(uint32(div32(int32(a), int32(b)))), nil
		case OpDIVU:
			return signExtend32(divu32(uint32(a), uint32(b))), nil
		case OpREM:
			return signExtend32(uint32(rem32(int32(a), int32(b)))), nil
		case OpREMU:
			return signExtend32(remu32(uint32(a), uint32(b))), nil
		default:
			return 0, except.Wrap(except.ErrUnsupportedAluOperation, "unsupported 32-bit mul op")
		}
	}
	switch op {
	case OpMUL:
		return a * b, nil
	case OpMULH:
		return mulhSigned(int64(a), int64(b)), nil
	case OpMULHSU:
		return mulhSignedUnsigned(int64(a), b), nil
	case OpMULHU:
		hi, _ := bits.Mul64(a, b)
		return hi, nil
	case OpDIV:
		return uint64(div64(int64(a), int64(b))), nil
	case OpDIVU:
		return divu64(a, b), nil
	case OpREM:
		return uint64(rem64(int64(a), int64(b))), nil
	case OpREMU:
		return remu64(a, b), nil
	default:
		return 0, except.Wrap(except.ErrUnsupportedAluOperation, "unknown mul op")
	}
}

// div32/rem32/... implement the boundary cases of spec.md testable
// property 5: division by zero returns quotient=all-ones,
// remainder=dividend; signed overflow (INT_MIN / -1) returns
// quotient=INT_MIN, remainder=0.

func div32(a, b int32) int32 {
	if b == 0 {
		return -1
	}
	if a == -2147483648 && b == -1 {
		return -2147483648
	}
	return a / b
}

func rem32(a, b int32) int32 {
	if b == 0 {
		return a
	}
	if a == -2147483648 && b == -1 {
		return 0
	}
	return a % b
}

func divu32(a, b uint32) uint32 {
	if b == 0 {
		return 0xffffffff
	}
	return a / b
}

func remu32(a, b uint32) uint32 {
	if b == 0 {
		return a
	}
	return a % b
}

func div64(a, b int64) int64 {
	if b == 0 {
		return -1
	}
	if a == -9223372036854775808 && b == -1 {
		return -9223372036854775808
	}
	return a / b
}

func rem64(a, b int64) int64 {
	if b == 0 {
		return a
	}
	if a == -9223372036854775808 && b == -1 {
		return 0
	}
	return a % b
}

func divu64(a, b uint64) uint64 {
	if b == 0 {
		return 0xffffffffffffffff
	}
	return a / b
}

func remu64(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}

func mulhSigned(a, b int64) uint64 {
	hi, _ := bits.Mul64(uint64(absI64(a)), uint64(absI64(b)))
	neg := (a < 0) != (b < 0)
	if neg {
		lo := uint64(a) * uint64(b)
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	return hi
}

func mulhSignedUnsigned(a int64, b uint64) uint64 {
	if a >= 0 {
		hi, _ := bits.Mul64(uint64(a), b)
		return hi
	}
	hi, _ := bits.Mul64(uint64(-a), b)
	lo := uint64(a) * b
	hi = ^hi
	if lo == 0 {
		hi++
	}
	return hi
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
