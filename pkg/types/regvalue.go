// Package types contains the width-aware value and address wrappers
// shared by every other package in the simulator: a machine word with
// signed/unsigned views (RegisterValue) and physical/virtual addresses
// with arithmetic and alignment queries (Address, VirtualAddress).
package types

// XLen is the width, in bits, of the integer registers of the
// simulated machine. Only 32 and 64 are valid values.
type XLen int

// The two XLEN values this simulator supports (spec.md §6).
const (
	XLen32 XLen = 32
	XLen64 XLen = 64
)

// Mask returns the bitmask covering the low x bits of a 64-bit word.
func (x XLen) Mask() uint64 {
	if x == XLen32 {
		return 0xffffffff
	}
	return 0xffffffffffffffff
}

// RegisterValue wraps a machine word of at least 64 bits of storage.
// Equality is bitwise: two RegisterValue values are equal iff their
// raw 64-bit representations are equal. The zero value is zero.
type RegisterValue struct {
	raw uint64
}

// NewRegisterValue constructs a RegisterValue from a raw 64-bit word.
func NewRegisterValue(raw uint64) RegisterValue {
	return RegisterValue{raw: raw}
}

// Raw returns the full 64-bit backing storage.
func (v RegisterValue) Raw() uint64 {
	return v.raw
}

// Width returns the value truncated to the low xlen bits.
func (v RegisterValue) Width(xlen XLen) uint64 {
	return v.raw & xlen.Mask()
}

// Uint8/Uint16/Uint32/Uint64 return unsigned views of the value.
func (v RegisterValue) Uint8() uint8   { return uint8(v.raw) }
func (v RegisterValue) Uint16() uint16 { return uint16(v.raw) }
func (v RegisterValue) Uint32() uint32 { return uint32(v.raw) }
func (v RegisterValue) Uint64() uint64 { return v.raw }

// Int8/Int16/Int32/Int64 return signed views of the value.
func (v RegisterValue) Int8() int8   { return int8(v.raw) }
func (v RegisterValue) Int16() int16 { return int16(v.raw) }
func (v RegisterValue) Int32() int32 { return int32(v.raw) }
func (v RegisterValue) Int64() int64 { return int64(v.raw) }

// SignedWidth returns the value sign-extended from xlen bits into an
// int64 — the "width-parametric signed view" of spec.md §3.
func (v RegisterValue) SignedWidth(xlen XLen) int64 {
	if xlen == XLen32 {
		return int64(int32(v.raw))
	}
	return int64(v.raw)
}

// Equal reports whether two register values are bitwise identical.
func (v RegisterValue) Equal(other RegisterValue) bool {
	return v.raw == other.raw
}

// IsZero reports whether the value is all-zero bits.
func (v RegisterValue) IsZero() bool {
	return v.raw == 0
}

// NumRegisters is the number of general-purpose integer registers.
const NumRegisters = 32

// RegisterID identifies one of the 32 general-purpose registers. ID 0
// always reads as zero and silently ignores writes (spec.md §3).
type RegisterID uint8

// Valid reports whether id names one of the 32 GPRs.
func (id RegisterID) Valid() bool {
	return id < NumRegisters
}

// IsZeroRegister reports whether id is the hardwired-zero register.
func (id RegisterID) IsZeroRegister() bool {
	return id == 0
}
