package memory

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSparseRAMLoadStoreWidths(t *testing.T) {
	ram := NewSparseRAM(1 << 20)
	require.NoError(t, ram.Store(0x100, 0xdeadbeef, AccessOptions{Width: WidthWord}))
	got, err := ram.Load(0x100, AccessOptions{Width: WidthWord})
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), got)
}

func TestSparseRAMSignExtension(t *testing.T) {
	ram := NewSparseRAM(1 << 20)
	require.NoError(t, ram.Store(0, 0xff, AccessOptions{Width: WidthByte}))
	got, err := ram.Load(0, AccessOptions{Width: WidthByte, Signed: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(0xffffffffffffffff), got)
}

func TestSparseRAMOutOfRange(t *testing.T) {
	ram := NewSparseRAM(16)
	_, err := ram.Load(100, AccessOptions{Width: WidthByte})
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestSparseRAMLazyPageAllocation(t *testing.T) {
	ram := NewSparseRAM(1 << 30)
	assert.Empty(t, ram.pages)
	require.NoError(t, ram.Store(0, 1, AccessOptions{Width: WidthByte}))
	assert.Len(t, ram.pages, 1)
}

func TestSparseRAMLoadStoreAcrossPageBoundary(t *testing.T) {
	ram := NewSparseRAM(1 << 20)
	// pageSize is 4096: a word store at offset 4094 straddles the page
	// boundary and must neither panic nor corrupt adjacent pages.
	const off = pageSize - 2
	require.NoError(t, ram.Store(off, 0x04030201, AccessOptions{Width: WidthWord}))
	got, err := ram.Load(off, AccessOptions{Width: WidthWord})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x04030201), got)
	assert.Len(t, ram.pages, 2, "the straddling access must allocate both pages it touches")
}

func TestSparseRAMStoreBytesThenLoadBytes(t *testing.T) {
	ram := NewSparseRAM(1 << 20)
	require.NoError(t, ram.StoreBytes(0x40, []byte{1, 2, 3, 4}))
	got := ram.LoadBytes(0x40, 4)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
	assert.Equal(t, []byte{0, 0}, ram.LoadBytes(0x1000, 2), "untouched page reads as zero")
}

func TestSerialEchoesWrittenByte(t *testing.T) {
	var out bytes.Buffer
	s := NewSerial(&out, strings.NewReader(""))
	require.NoError(t, s.Store(serialRegTXRX, 'h', AccessOptions{Width: WidthByte}))
	assert.Equal(t, "h", out.String())
}

func TestSerialReadsBufferedInput(t *testing.T) {
	s := NewSerial(&bytes.Buffer{}, strings.NewReader("x"))
	status, err := s.Load(serialRegStatus, AccessOptions{Width: WidthByte})
	require.NoError(t, err)
	assert.NotZero(t, status&serialStatusRXReady)
	b, err := s.Load(serialRegTXRX, AccessOptions{Width: WidthByte})
	require.NoError(t, err)
	assert.Equal(t, uint64('x'), b)
}

func TestLCDPixelRoundTrip(t *testing.T) {
	l := NewLCD(4, 4, 2)
	require.NoError(t, l.Store(0, 0xabcd, AccessOptions{Width: WidthHalf}))
	got, err := l.Load(0, AccessOptions{Width: WidthHalf})
	require.NoError(t, err)
	assert.Equal(t, uint64(0xabcd), got)
}

func TestSPILEDCapsAtLimit(t *testing.T) {
	s := NewSPILED(2)
	require.NoError(t, s.Store(0, 0x112233, AccessOptions{Width: WidthWord}))
	require.NoError(t, s.Store(0, 0x445566, AccessOptions{Width: WidthWord}))
	require.NoError(t, s.Store(0, 0x778899, AccessOptions{Width: WidthWord})) // dropped
	assert.Len(t, s.Strip(), 2)
}

func TestMTimerFiresWhenMTimeReachesCmp(t *testing.T) {
	timer := NewMTimer()
	require.NoError(t, timer.Store(mtimerRegMTimeCmp, 3, AccessOptions{Width: WidthDouble}))
	assert.False(t, timer.TimerPending())
	timer.Tick()
	timer.Tick()
	timer.Tick()
	assert.True(t, timer.TimerPending())
}

func TestSWIPendingBit(t *testing.T) {
	s := NewSWI()
	require.NoError(t, s.Store(mswiRegMSIP, 1, AccessOptions{Width: WidthWord}))
	assert.True(t, s.Pending())
	require.NoError(t, s.Store(mswiRegMSIP, 0, AccessOptions{Width: WidthWord}))
	assert.False(t, s.Pending())
}

func TestSparseRAMLocationStatusTracksAllocation(t *testing.T) {
	ram := NewSparseRAM(1 << 20)
	assert.Equal(t, StatusNone, ram.LocationStatus(0x100))
	require.NoError(t, ram.Store(0x100, 1, AccessOptions{Width: WidthByte}))
	assert.Equal(t, StatusCached, ram.LocationStatus(0x100))
	assert.Equal(t, StatusIllegal, ram.LocationStatus(1<<20))
}

func TestSPILEDLocationStatusReadOnlyAtLimit(t *testing.T) {
	s := NewSPILED(1)
	assert.Equal(t, StatusNone, s.LocationStatus(spiledRegData))
	require.NoError(t, s.Store(0, 0x112233, AccessOptions{Width: WidthWord}))
	assert.Equal(t, StatusReadOnly, s.LocationStatus(spiledRegData))
	assert.Equal(t, StatusIllegal, s.LocationStatus(0x4))
}
