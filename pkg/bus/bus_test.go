package bus

import (
	"testing"

	"github.com/bassosimone/rvsim/pkg/memory"
	"github.com/bassosimone/rvsim/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusRoutesToCorrectDevice(t *testing.T) {
	ram := memory.NewSparseRAM(0x1000)
	led := memory.NewSPILED(4)
	b, err := New([]Range{
		{Name: "ram", Start: types.NewAddress(0), Device: ram},
		{Name: "spiled", Start: types.NewAddress(0x2000), Device: led},
	})
	require.NoError(t, err)

	require.NoError(t, b.Store(types.NewAddress(0x10), 0x42, memory.AccessOptions{Width: memory.WidthByte}))
	got, err := b.Load(types.NewAddress(0x10), memory.AccessOptions{Width: memory.WidthByte})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x42), got)

	require.NoError(t, b.Store(types.NewAddress(0x2000), 0x112233, memory.AccessOptions{Width: memory.WidthWord}))
	assert.Len(t, led.Strip(), 1)
}

func TestBusRejectsOverlappingRanges(t *testing.T) {
	a := memory.NewSparseRAM(0x100)
	bDev := memory.NewSparseRAM(0x100)
	_, err := New([]Range{
		{Name: "a", Start: types.NewAddress(0), Device: a},
		{Name: "b", Start: types.NewAddress(0x80), Device: bDev},
	})
	require.Error(t, err)
}

func TestBusUnmappedAddressErrors(t *testing.T) {
	ram := memory.NewSparseRAM(0x100)
	b, err := New([]Range{{Name: "ram", Start: types.NewAddress(0), Device: ram}})
	require.NoError(t, err)
	_, err = b.Load(types.NewAddress(0xffff), memory.AccessOptions{Width: memory.WidthByte})
	require.Error(t, err)
}

func TestBusDeviceNamed(t *testing.T) {
	ram := memory.NewSparseRAM(0x100)
	b, err := New([]Range{{Name: "ram", Start: types.NewAddress(0), Device: ram}})
	require.NoError(t, err)
	dev, ok := b.DeviceNamed("ram")
	require.True(t, ok)
	assert.Same(t, ram, dev)
	_, ok = b.DeviceNamed("missing")
	assert.False(t, ok)
}

func TestBusLocationStatusDelegatesToDeviceAndRebasesOffset(t *testing.T) {
	ram := memory.NewSparseRAM(0x1000)
	b, err := New([]Range{{Name: "ram", Start: types.NewAddress(0x1000), Device: ram}})
	require.NoError(t, err)

	assert.Equal(t, memory.StatusIllegal, b.LocationStatus(types.NewAddress(0x10)), "no range covers this address")
	assert.Equal(t, memory.StatusNone, b.LocationStatus(types.NewAddress(0x1000)), "untouched page inside ram")
	require.NoError(t, b.Store(types.NewAddress(0x1010), 1, memory.AccessOptions{Width: memory.WidthByte}))
	assert.Equal(t, memory.StatusCached, b.LocationStatus(types.NewAddress(0x1010)))
}
