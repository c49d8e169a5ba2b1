package memory

// SPILED models an SPI-attached addressable LED strip (e.g. WS2812)
// as a simple shift-register device: each 32-bit store packs one
// RGB(+pad) pixel, shifted onto the strip in program order
// (spec.md §4.4 "SPI-LED").
const spiledRegData = 0x00

// SPILED is the backend device; Strip holds the accumulated pixel
// sequence as a simulator-visible side channel (there is no real SPI
// bus, so every store commits immediately rather than after a clock
// edge).
type SPILED struct {
	strip []uint32
	limit int
}

// NewSPILED constructs an LED strip device holding up to limit pixels.
func NewSPILED(limit int) *SPILED {
	return &SPILED{limit: limit}
}

// Size implements Device.
func (s *SPILED) Size() uint64 { return 0x4 }

// Load implements Device. Reading the data register returns the
// number of pixels committed so far, letting firmware poll for strip
// capacity without a separate status register.
func (s *SPILED) Load(off uint64, opts AccessOptions) (uint64, error) {
	if off != spiledRegData {
		return 0, ErrOutOfRange
	}
	return uint64(len(s.strip)), nil
}

// Store implements Device; it appends the low 24 bits of value as one
// packed RGB pixel, dropping writes once the strip reaches its limit.
func (s *SPILED) Store(off uint64, value uint64, opts AccessOptions) error {
	if off != spiledRegData {
		return ErrOutOfRange
	}
	if len(s.strip) >= s.limit {
		return nil
	}
	s.strip = append(s.strip, uint32(value)&0xffffff)
	return nil
}

// LocationStatus implements StatusProvider: the data register reports
// READ_ONLY once the strip has latched its limit, since further stores
// are silently dropped.
func (s *SPILED) LocationStatus(off uint64) LocationStatus {
	if off != spiledRegData {
		return StatusIllegal
	}
	if len(s.strip) >= s.limit {
		return StatusReadOnly
	}
	return StatusNone
}

// Strip returns the committed pixel sequence.
func (s *SPILED) Strip() []uint32 {
	out := make([]uint32, len(s.strip))
	copy(out, s.strip)
	return out
}
