package alu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegerOps(t *testing.T) {
	cases := []struct {
		op       Op
		modified bool
		a, b     uint64
		want     uint64
	}{
		{OpADD, false, 2, 3, 5},
		{OpADD, true, 5, 3, 2}, // SUB
		{OpSLL, false, 1, 4, 16},
		{OpSLT, false, uint64(int64(-1)), 1, 1},
		{OpSLTU, false, 1, uint64(int64(-1)), 1},
		{OpXOR, false, 0b101, 0b011, 0b110},
		{OpSRL, false, 0x80000000, 4, 0x08000000},
		{OpOR, false, 0b100, 0b010, 0b110},
		{OpAND, false, 0b110, 0b011, 0b010},
	}
	for _, c := range cases {
		got, err := Execute(ComponentALU, c.op, c.modified, false, c.a, c.b)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "op=%v modified=%v", c.op, c.modified)
	}
}

func TestShiftMaskedByWordWidth(t *testing.T) {
	got, err := Execute(ComponentALU, OpSLL, false, true, 1, 33) // 33 & 0x1f == 1
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got)
}

func TestSRAModified(t *testing.T) {
	got, err := Execute(ComponentALU, OpSRL, true, false, uint64(int64(-8)), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(int64(-4)), got)
}

func TestWord32SignExtends(t *testing.T) {
	got, err := Execute(ComponentALU, OpADD, false, true, 0x7fffffff, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xffffffff80000000), got)
}

func TestMulBasic(t *testing.T) {
	got, err := Execute(ComponentMUL, OpMUL, false, false, 1111111, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7777777), got)
}

func TestDivBoundaryCases(t *testing.T) {
	got, err := Execute(ComponentMUL, OpDIV, false, false, 7, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xffffffffffffffff), got, "DIV(x,0) == -1")

	got, err = Execute(ComponentMUL, OpDIVU, false, false, 7, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xffffffffffffffff), got, "DIVU(x,0) == UINT_MAX")

	got, err = Execute(ComponentMUL, OpREM, false, false, 7, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got, "REM(x,0) == x")

	got, err = Execute(ComponentMUL, OpREMU, false, false, 7, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got, "REMU(x,0) == x")

	const intMin64 = uint64(1) << 63
	got, err = Execute(ComponentMUL, OpDIV, false, false, intMin64, 0xffffffffffffffff) // /-1
	require.NoError(t, err)
	assert.Equal(t, intMin64, got, "DIV(INT_MIN,-1) == INT_MIN")

	got, err = Execute(ComponentMUL, OpREM, false, false, intMin64, 0xffffffffffffffff)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got, "REM(INT_MIN,-1) == 0")
}

func TestMulhSigned(t *testing.T) {
	got, err := Execute(ComponentMUL, OpMULH, false, false, uint64(int64(-1)), uint64(int64(-1)))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got)
}

func TestMulPurity(t *testing.T) {
	a, b := uint64(12345), uint64(6789)
	r1, err1 := Execute(ComponentMUL, OpMUL, false, false, a, b)
	r2, err2 := Execute(ComponentMUL, OpMUL, false, false, a, b)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, r1, r2)
}

func TestScenarioS4(t *testing.T) {
	r, err := Execute(ComponentMUL, OpMUL, false, false, 1111111, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7777777), r)

	r, err = Execute(ComponentMUL, OpDIV, false, false, 7777777, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(1111111), r)

	r, err = Execute(ComponentMUL, OpREM, false, false, 7777777, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(777), r)
}

func TestUnsupportedComponent(t *testing.T) {
	_, err := Execute(Component(99), OpADD, false, false, 1, 1)
	require.Error(t, err)
}
