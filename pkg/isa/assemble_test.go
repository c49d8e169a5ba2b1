package isa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleBasicProgram(t *testing.T) {
	source := "addi x1, x0, 5\naddi x2, x0, 7\nadd x3, x1, x2\n"
	assembled, err := Assemble(source)
	require.NoError(t, err)
	require.Len(t, assembled, 3)
	for _, a := range assembled {
		entry, err := Decode(a.Word)
		require.NoError(t, err)
		assert.True(t, entry.Flags&FlagSupported != 0)
	}
}

func TestAssembleUndefinedLabel(t *testing.T) {
	_, err := Assemble("beq x1, x2, nowhere\n")
	require.Error(t, err)
}

func TestAssemblePseudoNopAndRet(t *testing.T) {
	assembled, err := Assemble("nop\nret\n")
	require.NoError(t, err)
	require.Len(t, assembled, 2)
	entry, err := Decode(assembled[0].Word)
	require.NoError(t, err)
	assert.Equal(t, "addi", entry.Mnemonic)
	entry, err = Decode(assembled[1].Word)
	require.NoError(t, err)
	assert.Equal(t, "jalr", entry.Mnemonic)
}

func TestAssembleLiLargeImmediateSplitsIntoLuiAddi(t *testing.T) {
	assembled, err := Assemble("li x5, 100000\n")
	require.NoError(t, err)
	require.Len(t, assembled, 2)
	entry0, err := Decode(assembled[0].Word)
	require.NoError(t, err)
	entry1, err := Decode(assembled[1].Word)
	require.NoError(t, err)
	assert.Equal(t, "lui", entry0.Mnemonic)
	assert.Equal(t, "addi", entry1.Mnemonic)
}

func TestAssembleBranchPseudoAndLabelResolution(t *testing.T) {
	source := "loop:\naddi x1, x1, -1\nbnez x1, loop\n"
	assembled, err := Assemble(source)
	require.NoError(t, err)
	require.Len(t, assembled, 2)
	// bnez expands to "bne x1, x0, loop"; loop is at item index 0, this
	// instruction is at item index 1, so delta = (0-1)*4 = -4.
	imm := Word(assembled[1].Word).ImmB()
	assert.Equal(t, int32(-4), imm)
}

func TestAssembleCallUsesHiLoRelocation(t *testing.T) {
	assembled, err := Assemble("call target\ntarget:\nnop\n")
	require.NoError(t, err)
	require.Len(t, assembled, 3)
	entry0, err := Decode(assembled[0].Word)
	require.NoError(t, err)
	entry1, err := Decode(assembled[1].Word)
	require.NoError(t, err)
	assert.Equal(t, "auipc", entry0.Mnemonic)
	assert.Equal(t, "jalr", entry1.Mnemonic)
}

func TestAssembleUnknownMnemonic(t *testing.T) {
	_, err := Assemble("frobnicate x1, x2\n")
	require.Error(t, err)
}
