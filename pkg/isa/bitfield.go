package isa

// Subfield is one contiguous bit run: Count bits starting at bit
// Offset of the instruction word (spec.md §3 "Bit-field descriptor").
type Subfield struct {
	Count  uint
	Offset uint
}

// Field is a bit-field descriptor: up to five contiguous subfields
// concatenated in declared order, plus an overall shift. It is the
// dispatch unit the instruction map's Branch nodes index children
// with, and the extraction unit disassembly uses to read argument
// values (spec.md §3, §9).
type Field struct {
	Subfields []Subfield
	Shift     uint
}

// Decode extracts each subfield from word, concatenates the pieces in
// declared order into a flat value, and applies the shift.
func (f Field) Decode(word uint32) uint32 {
	var v uint32
	for _, sf := range f.Subfields {
		mask := uint32(1)<<sf.Count - 1
		part := (word >> sf.Offset) & mask
		v = (v << sf.Count) | part
	}
	return v << f.Shift
}

// Encode is the inverse of Decode: it splits value>>f.Shift back into
// the declared subfields and places each at its original offset.
func (f Field) Encode(value uint32) uint32 {
	v := value >> f.Shift
	var out uint32
	for i := len(f.Subfields) - 1; i >= 0; i-- {
		sf := f.Subfields[i]
		mask := uint32(1)<<sf.Count - 1
		part := v & mask
		v >>= sf.Count
		out |= part << sf.Offset
	}
	return out
}

// BitsUsed returns the total number of concatenated bits, so Decode
// returns values below 1<<BitsUsed() prior to Shift.
func (f Field) BitsUsed() uint {
	var n uint
	for _, sf := range f.Subfields {
		n += sf.Count
	}
	return n
}

// Single constructs a Field made of one contiguous subfield.
func Single(count, offset uint) Field {
	return Field{Subfields: []Subfield{{Count: count, Offset: offset}}}
}

// Shifted returns a copy of f with an additional left shift applied
// on Decode (and removed before Encode).
func (f Field) Shifted(shift uint) Field {
	return Field{Subfields: f.Subfields, Shift: f.Shift + shift}
}

// Well-known fields used both by the instruction-map dispatch tree and
// by disassembly/assembly argument extraction (spec.md §6).
var (
	FieldOpcode = Single(7, 0)
	FieldRd     = Single(5, 7)
	FieldFunct3 = Single(3, 12)
	FieldRs1    = Single(5, 15)
	FieldRs2    = Single(5, 20)
	FieldFunct7 = Single(7, 25)
	FieldShamt5 = Single(5, 20)
	FieldShamt6 = Single(6, 20)

	FieldImmI = Field{Subfields: []Subfield{{Count: 12, Offset: 20}}}
	FieldImmS = Field{Subfields: []Subfield{
		{Count: 7, Offset: 25}, {Count: 5, Offset: 7},
	}}
	FieldImmB = Field{Subfields: []Subfield{
		{Count: 1, Offset: 31}, {Count: 1, Offset: 7},
		{Count: 6, Offset: 25}, {Count: 4, Offset: 8},
	}, Shift: 1}
	FieldImmU = Field{Subfields: []Subfield{{Count: 20, Offset: 12}}, Shift: 12}
	FieldImmJ = Field{Subfields: []Subfield{
		{Count: 1, Offset: 31}, {Count: 8, Offset: 12},
		{Count: 1, Offset: 20}, {Count: 10, Offset: 21},
	}, Shift: 1}
)
