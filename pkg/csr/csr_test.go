package csr

import (
	"testing"

	"github.com/bassosimone/rvsim/pkg/except"
	"github.com/bassosimone/rvsim/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteMaskRoundTrip(t *testing.T) {
	f := NewFile(0)
	err := f.Write(AddrMTVal, 0xdeadbeef)
	require.NoError(t, err)
	got, err := f.Read(AddrMTVal)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), got)
}

func TestMStatusMaskRejectsReservedBits(t *testing.T) {
	f := NewFile(0)
	err := f.Write(AddrMStatus, ^uint64(0))
	require.NoError(t, err)
	got, err := f.Read(AddrMStatus)
	require.NoError(t, err)
	assert.Equal(t, writeMasksCopy(AddrMStatus), got)
}

func writeMasksCopy(addr uint32) uint64 { return writeMasks[addr] }

func TestMHartIDReadOnly(t *testing.T) {
	f := NewFile(7)
	got, err := f.Read(AddrMHartID)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got)
	require.Error(t, f.Write(AddrMHartID, 1))
}

func TestTopTwoAddressBitsSetAreReadOnly(t *testing.T) {
	// spec.md §4.3: any CSR address whose top two bits are both set is
	// architecturally read-only, not just mhartid (0xF14, which the
	// rule also covers).
	f := NewFile(0)
	require.Error(t, f.Write(0xC01, 1), "0xC01 has its top two address bits set and must reject writes")
}

func TestUnknownAddress(t *testing.T) {
	f := NewFile(0)
	_, err := f.Read(0x999)
	require.Error(t, err)
}

func TestInterruptRequestRequiresMIE(t *testing.T) {
	f := NewFile(0)
	require.NoError(t, f.Write(AddrMIE, BitTimerInterrupt))
	f.SetInterruptPending(BitTimerInterrupt, true)
	_, pending := f.CoreInterruptRequest()
	assert.False(t, pending, "MIE clear: no interrupt should be taken")

	require.NoError(t, f.Write(AddrMStatus, 1<<bitMIE))
	cause, pending := f.CoreInterruptRequest()
	require.True(t, pending)
	assert.Equal(t, except.CauseTimerInterrupt, cause)
}

func TestExceptionInitiateAndReturn(t *testing.T) {
	f := NewFile(0)
	require.NoError(t, f.Write(AddrMStatus, 1<<bitMIE))
	require.NoError(t, f.Write(AddrMTVec, 0x8000))

	target := f.ExceptionInitiate(types.NewAddress(0x1004), except.CauseIllegalInstruction, 0x1234)
	assert.Equal(t, uint64(0x8000), target.Raw())
	assert.False(t, f.MIE(), "MIE must be cleared on trap entry")
	assert.True(t, f.MPIE(), "MPIE must capture the pre-trap MIE")

	mepc, err := f.Read(AddrMEPC)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1004), mepc)

	back := f.ExceptionReturn()
	assert.Equal(t, uint64(0x1004), back.Raw())
	assert.True(t, f.MIE(), "mret must restore MIE from MPIE")
}

func TestCycleAndInstretCounters(t *testing.T) {
	f := NewFile(0)
	f.Tick()
	f.Tick()
	f.Retire()
	assert.Equal(t, uint64(2), f.Cycle())
	assert.Equal(t, uint64(1), f.Instret())
}
