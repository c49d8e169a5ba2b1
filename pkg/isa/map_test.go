package isa

import (
	"testing"

	"github.com/bassosimone/rvsim/pkg/alu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRejectsCompressedLengthTag(t *testing.T) {
	_, err := Decode(Word(0x00000001))
	require.Error(t, err)
}

func TestDecodeKnownEncodings(t *testing.T) {
	cases := []struct {
		word uint32
		want string
	}{
		{0x00000013, "addi"}, // addi x0, x0, 0
		{0x00000033, "add"},
		{0x40000033, "sub"},
		{0x02000033, "mul"},
		{0x02001033, "mulh"},
		{0x02004033, "div"},
		{0x00000063, "beq"},
		{0x00000003, "lb"},
		{0x00000023, "sb"},
		{0x00000037, "lui"},
		{0x00000017, "auipc"},
		{0x0000006f, "jal"},
		{0x00000067, "jalr"},
		{0x00000073, "ecall"},
		{0x00100073, "ebreak"},
		{0x00001073, "csrrw"},
	}
	for _, c := range cases {
		entry, err := Decode(Word(c.word))
		require.NoError(t, err, "word %#x", c.word)
		assert.Equal(t, c.want, entry.Mnemonic, "word %#x", c.word)
	}
}

func TestDecodeRejectsUnknownOpcode(t *testing.T) {
	_, err := Decode(Word(0x0000007f)) // opcode 0x7f is reserved
	require.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	source := "add x1, x2, x3\nsub x4, x5, x6\nmul x7, x8, x9\ndiv x10, x11, x12\n" +
		"addi x1, x2, -17\nlw x3, 8(x4)\nsw x5, -8(x6)\nbeq x1, x2, done\njal x1, done\ndone:\nebreak\n"
	assembled, err := Assemble(source)
	require.NoError(t, err)
	require.NotEmpty(t, assembled)
	for _, a := range assembled {
		_, err := Decode(a.Word)
		require.NoError(t, err)
	}
}

func TestRegArithFlags(t *testing.T) {
	assembled, err := Assemble("add x1, x2, x3\n")
	require.NoError(t, err)
	require.Len(t, assembled, 1)
	entry, err := Decode(assembled[0].Word)
	require.NoError(t, err)
	assert.Equal(t, alu.ComponentALU, entry.ALUComponent)
	assert.True(t, entry.Flags&FlagWritesRd != 0)
	assert.True(t, entry.Flags&FlagRequiresRs1 != 0)
	assert.True(t, entry.Flags&FlagRequiresRs2 != 0)
}
