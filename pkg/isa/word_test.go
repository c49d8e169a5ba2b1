package isa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWordFieldAccessors(t *testing.T) {
	// addi x5, x6, -1 : imm=0xfff, rs1=6, funct3=0, rd=5, opcode=0x13
	w := Word(0xfff30293)
	assert.Equal(t, uint32(0x13), w.Opcode())
	assert.Equal(t, uint32(5), w.Rd())
	assert.Equal(t, uint32(6), w.Rs1())
	assert.Equal(t, uint32(0), w.Funct3())
	assert.Equal(t, int32(-1), w.ImmI())
}

func TestWordLengthTag(t *testing.T) {
	assert.Equal(t, uint32(0x3), Word(0x00000013).LengthTag())
	assert.Equal(t, uint32(0x0), Word(0x00000000).LengthTag())
}

func TestImmUClearsLowBits(t *testing.T) {
	w := Word(0x12345037) // lui x0, 0x12345
	assert.Equal(t, int32(0x12345000), w.ImmU())
}

func TestImmJSignExtends(t *testing.T) {
	raw := FieldImmJ.Encode(uint32(int32(-2)))
	w := Word(raw | 0x6f) // opcode for JAL
	assert.Equal(t, int32(-2), w.ImmJ())
}

func TestCSRAddrMatchesImmIUnsigned(t *testing.T) {
	w := Word(0x34202173) // csrrs sp, mepc (arbitrary bit pattern with csr=0x342)
	assert.Equal(t, w.ImmIUnsigned(), w.CSRAddr())
	assert.Equal(t, uint32(0x342), w.CSRAddr())
}
