package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterValueWidthViews(t *testing.T) {
	v := NewRegisterValue(0xffffffffffffffff)
	assert.Equal(t, uint64(0xffffffff), v.Width(XLen32))
	assert.Equal(t, uint64(0xffffffffffffffff), v.Width(XLen64))
	assert.Equal(t, int64(-1), v.SignedWidth(XLen32))
	assert.Equal(t, int64(-1), v.SignedWidth(XLen64))
}

func TestRegisterValueEquality(t *testing.T) {
	a := NewRegisterValue(42)
	b := NewRegisterValue(42)
	c := NewRegisterValue(43)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, NewRegisterValue(0).IsZero())
}

func TestRegisterIDZero(t *testing.T) {
	var id RegisterID
	assert.True(t, id.IsZeroRegister())
	require.True(t, RegisterID(31).Valid())
	require.False(t, RegisterID(32).Valid())
}

func TestAddressArithmetic(t *testing.T) {
	a := NewAddress(0x1000)
	b := a.Add(0x100)
	assert.Equal(t, uint64(0x1100), b.Raw())
	assert.Equal(t, int64(0x100), b.Distance(a))
	assert.True(t, a.AlignedTo(4096))
	assert.False(t, a.Add(1).AlignedTo(4096))
}

func TestVirtualAddressSv32Fields(t *testing.T) {
	va := NewVirtualAddress(0x803ff123)
	assert.Equal(t, uint32(0x123), va.PageOffset())
	assert.Equal(t, va.VPN0(), va.VPN0())
	assert.Less(t, va.VPN0(), uint32(1024))
	assert.Less(t, va.VPN1(), uint32(1024))
}
