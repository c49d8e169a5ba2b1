// Package memory implements the backend devices a Machine's bus
// routes loads and stores to: sparse main RAM, a serial console, an
// LCD framebuffer, an SPI-attached LED strip, and the ACLINT timer
// and software-interrupt devices (spec.md §2.5, §4.4, §6).
package memory

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// log is the package-wide device-anomaly logger (spec.md §6 "memory
// write/read notifications"); SetLogger overrides it, e.g. to attach
// the Machine's configured logger instead of the package default.
var log = logrus.StandardLogger()

// SetLogger overrides the logger backend devices use to report
// out-of-range accesses.
func SetLogger(l *logrus.Logger) { log = l }

// ErrOutOfRange is returned by a Device when an access falls outside
// its addressable span; the bus returns it wrapped with the range
// name, as an error rather than an exception cause.
var ErrOutOfRange = errors.New("memory: access out of range")

// Width names an access size in bytes.
type Width int

// Recognized access widths.
const (
	WidthByte   Width = 1
	WidthHalf   Width = 2
	WidthWord   Width = 4
	WidthDouble Width = 8
)

// AccessOptions describes one memory access: its width, whether a
// load should sign-extend, and whether the access originates from the
// fetch stage (instruction fetch devices may reject data-only ranges).
type AccessOptions struct {
	Width    Width
	Signed   bool
	IsFetch  bool
}

// LocationStatus is a bitset describing one byte offset's state, for
// GUI inspection (spec.md §4.4); the core's critical path never reads
// it.
type LocationStatus uint8

// Recognized location_status bits.
const (
	StatusNone     LocationStatus = 0
	StatusCached   LocationStatus = 1 << iota
	StatusDirty
	StatusReadOnly
	StatusIllegal
)

// StatusProvider is implemented by backends that can report
// LocationStatus for a GUI collaborator; not every Device needs to
// implement it, so callers type-assert before using it.
type StatusProvider interface {
	LocationStatus(off uint64) LocationStatus
}

// Device is one backend a bus Range routes an address span to. Load
// and Store operate in the device's local address space; the bus
// translates from the global physical address before calling in
// (spec.md §4.4).
type Device interface {
	// Size returns the number of addressable bytes this device occupies.
	Size() uint64
	// Load reads opts.Width bytes at offset off, little-endian,
	// optionally sign-extended into the returned uint64.
	Load(off uint64, opts AccessOptions) (uint64, error)
	// Store writes the low opts.Width bytes of value at offset off.
	Store(off uint64, value uint64, opts AccessOptions) error
}

func signExtend(v uint64, width Width) uint64 {
	switch width {
	case WidthByte:
		return uint64(int64(int8(v)))
	case WidthHalf:
		return uint64(int64(int16(v)))
	case WidthWord:
		return uint64(int64(int32(v)))
	default:
		return v
	}
}
