package regfile

import (
	"testing"

	"github.com/bassosimone/rvsim/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGPRZeroIsAlwaysZero(t *testing.T) {
	f := New()
	f.SetGPR(0, 0xdeadbeef)
	assert.Equal(t, uint64(0), f.GPR(0))
}

func TestGPRWriteReadRoundTrips(t *testing.T) {
	f := New()
	f.SetGPR(5, 0x123456789)
	assert.Equal(t, uint64(0x123456789), f.GPR(5))
}

func TestGPRWriteNotifiesObserver(t *testing.T) {
	f := New()
	var gotIdx int
	var gotValue uint64
	f.SetWriteObserver(func(idx int, value uint64) {
		gotIdx, gotValue = idx, value
	})
	f.SetGPR(9, 42)
	assert.Equal(t, 9, gotIdx)
	assert.Equal(t, uint64(42), gotValue)
}

func TestGPRZeroWriteStillNotifiesWithZeroValue(t *testing.T) {
	f := New()
	calls := 0
	f.SetWriteObserver(func(idx int, value uint64) {
		calls++
		assert.Equal(t, 0, idx)
		assert.Equal(t, uint64(0), value)
	})
	f.SetGPR(0, 0xffffffff)
	assert.Equal(t, 1, calls)
}

func TestSetPCRejectsMisalignedTarget(t *testing.T) {
	f := New()
	err := f.SetPC(types.NewAddress(0x1002))
	require.Error(t, err)
	assert.Equal(t, types.NewAddress(0), f.PC())
}

func TestSetPCAcceptsAlignedTarget(t *testing.T) {
	f := New()
	require.NoError(t, f.SetPC(types.NewAddress(0x1000)))
	assert.Equal(t, types.NewAddress(0x1000), f.PC())
}

func TestAdvancePCMovesBy4(t *testing.T) {
	f := New()
	require.NoError(t, f.SetPC(types.NewAddress(0x2000)))
	require.NoError(t, f.AdvancePC())
	assert.Equal(t, types.NewAddress(0x2004), f.PC())
}

func TestPCObserverFiresOnWrite(t *testing.T) {
	f := New()
	var got types.Address
	f.SetPCObserver(func(pc types.Address) { got = pc })
	require.NoError(t, f.SetPC(types.NewAddress(0x400)))
	assert.Equal(t, types.NewAddress(0x400), got)
}

func TestSnapshotReflectsCurrentState(t *testing.T) {
	f := New()
	f.SetGPR(1, 111)
	f.SetGPR(31, 222)
	require.NoError(t, f.SetPC(types.NewAddress(0x4000)))

	gpr, pc := f.Snapshot()
	assert.Equal(t, uint64(111), gpr[1])
	assert.Equal(t, uint64(222), gpr[31])
	assert.Equal(t, types.NewAddress(0x4000), pc)
}
