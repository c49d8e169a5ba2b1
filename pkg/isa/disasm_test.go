package isa

import (
	"testing"

	"github.com/bassosimone/rvsim/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisassembleNopAlias(t *testing.T) {
	text, err := Disassemble(Word(0x00000013), types.NewAddress(0), true)
	require.NoError(t, err)
	assert.Equal(t, "nop", text)
}

func TestDisassembleRType(t *testing.T) {
	assembled, err := Assemble("add x1, x2, x3\n")
	require.NoError(t, err)
	text, err := Disassemble(assembled[0].Word, types.NewAddress(0), true)
	require.NoError(t, err)
	assert.Equal(t, "add ra, sp, gp", text)
}

func TestDisassembleLoadOffsetSyntax(t *testing.T) {
	assembled, err := Assemble("lw x5, -8(x6)\n")
	require.NoError(t, err)
	text, err := Disassemble(assembled[0].Word, types.NewAddress(0), false)
	require.NoError(t, err)
	assert.Equal(t, "lw x5, -8(x6)", text)
}

func TestDisassembleBranchResolvesAbsoluteTarget(t *testing.T) {
	assembled, err := Assemble("beq x1, x2, target\naddi x0, x0, 0\ntarget:\nadd x0, x0, x0\n")
	require.NoError(t, err)
	text, err := Disassemble(assembled[0].Word, types.NewAddress(0x1000), false)
	require.NoError(t, err)
	assert.Equal(t, "beq x1, x2, 0x1008", text)
}
