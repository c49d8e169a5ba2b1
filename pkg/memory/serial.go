package memory

import (
	"bufio"
	"io"
)

// Serial register offsets: a minimal 16550-inspired TX/RX/status
// interface wide enough for a teaching simulator's console I/O
// (spec.md §4.4 "serial console").
const (
	serialRegTXRX   = 0x00
	serialRegStatus = 0x04

	serialStatusTXReady = 1 << 0
	serialStatusRXReady = 1 << 1
)

// Serial is a one-byte-at-a-time console device: stores written to
// serialRegTXRX are echoed to Out; reads from serialRegTXRX pull the
// next byte buffered from In (spec.md §6).
type Serial struct {
	out *bufio.Writer
	in  *bufio.Reader
}

// NewSerial constructs a console device backed by out/in.
func NewSerial(out io.Writer, in io.Reader) *Serial {
	return &Serial{out: bufio.NewWriter(out), in: bufio.NewReader(in)}
}

// Size implements Device.
func (s *Serial) Size() uint64 { return 0x8 }

// Load implements Device.
func (s *Serial) Load(off uint64, opts AccessOptions) (uint64, error) {
	switch off {
	case serialRegTXRX:
		b, err := s.in.ReadByte()
		if err != nil {
			return 0, nil
		}
		return uint64(b), nil
	case serialRegStatus:
		status := uint64(serialStatusTXReady)
		if _, err := s.in.Peek(1); err == nil {
			status |= serialStatusRXReady
		}
		return status, nil
	default:
		return 0, ErrOutOfRange
	}
}

// Store implements Device.
func (s *Serial) Store(off uint64, value uint64, opts AccessOptions) error {
	switch off {
	case serialRegTXRX:
		if err := s.out.WriteByte(byte(value)); err != nil {
			return err
		}
		return s.out.Flush()
	case serialRegStatus:
		return nil // status register is read-only; writes are ignored
	default:
		return ErrOutOfRange
	}
}

// LocationStatus implements StatusProvider.
func (s *Serial) LocationStatus(off uint64) LocationStatus {
	switch off {
	case serialRegTXRX:
		return StatusNone
	case serialRegStatus:
		return StatusReadOnly
	default:
		return StatusIllegal
	}
}
