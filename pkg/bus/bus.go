// Package bus routes physical memory accesses to the backend device
// whose address range contains them, the way the teacher's address
// decoder dispatches load/store addresses to RAM versus
// memory-mapped peripherals (spec.md §2.5, §4.4).
package bus

import (
	"fmt"
	"sort"

	"github.com/bassosimone/rvsim/pkg/except"
	"github.com/bassosimone/rvsim/pkg/memory"
	"github.com/bassosimone/rvsim/pkg/types"
	"github.com/sirupsen/logrus"
)

// Range binds a Device to the physical address span [Start, Start+Device.Size()).
type Range struct {
	Name   string
	Start  types.Address
	Device memory.Device
}

func (r Range) end() uint64 { return r.Start.Raw() + r.Device.Size() }

// Bus is an ordered, non-overlapping set of address ranges. Ranges
// must be registered before first use; Bus does not support runtime
// remapping (spec.md §4.4 "non-overlapping address ranges").
type Bus struct {
	ranges []Range
	log    *logrus.Logger
}

// SetLogger overrides the bus's read/write event logger (spec.md §6
// "memory write/read notifications"); the default is
// logrus.StandardLogger().
func (b *Bus) SetLogger(l *logrus.Logger) { b.log = l }

// New constructs a Bus from the given ranges, sorted by start address.
// It returns except.ErrSanity if any two ranges overlap.
func New(ranges []Range) (*Bus, error) {
	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Less(sorted[j].Start) })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start.Raw() < sorted[i-1].end() {
			return nil, except.Wrap(except.ErrSanity, fmt.Sprintf(
				"bus: range %q [%#x,%#x) overlaps %q", sorted[i].Name, sorted[i].Start.Raw(), sorted[i].end(), sorted[i-1].Name))
		}
	}
	return &Bus{ranges: sorted, log: logrus.StandardLogger()}, nil
}

// find returns the range containing addr, or false.
func (b *Bus) find(addr types.Address) (Range, bool) {
	raw := addr.Raw()
	i := sort.Search(len(b.ranges), func(i int) bool { return b.ranges[i].end() > raw })
	if i == len(b.ranges) || raw < b.ranges[i].Start.Raw() {
		return Range{}, false
	}
	return b.ranges[i], true
}

// Load reads opts.Width bytes at addr from whichever device's range
// contains it. It returns an except.ErrSanity error if no range
// matches, and the device's own error (wrapped with the range name)
// if the device rejects the offset.
func (b *Bus) Load(addr types.Address, opts memory.AccessOptions) (uint64, error) {
	r, ok := b.find(addr)
	if !ok {
		return 0, except.Wrap(except.ErrSanity, fmt.Sprintf("bus: no device at %#x", addr.Raw()))
	}
	off := addr.Raw() - r.Start.Raw()
	v, err := r.Device.Load(off, opts)
	if err != nil {
		return 0, fmt.Errorf("bus: device %q: %w", r.Name, err)
	}
	b.log.WithField("device", r.Name).WithField("addr", addr.Raw()).Trace("bus: read")
	return v, nil
}

// Store writes opts.Width bytes of value at addr to whichever
// device's range contains it.
func (b *Bus) Store(addr types.Address, value uint64, opts memory.AccessOptions) error {
	r, ok := b.find(addr)
	if !ok {
		return except.Wrap(except.ErrSanity, fmt.Sprintf("bus: no device at %#x", addr.Raw()))
	}
	off := addr.Raw() - r.Start.Raw()
	if err := r.Device.Store(off, value, opts); err != nil {
		return fmt.Errorf("bus: device %q: %w", r.Name, err)
	}
	b.log.WithField("device", r.Name).WithField("addr", addr.Raw()).Trace("bus: write")
	return nil
}

// DeviceNamed returns the device registered under name, for
// components (e.g. the MMU's page-table walker) that need direct
// access to main RAM rather than going through Load/Store.
func (b *Bus) DeviceNamed(name string) (memory.Device, bool) {
	for _, r := range b.ranges {
		if r.Name == name {
			return r.Device, true
		}
	}
	return nil, false
}

// Contains reports whether addr falls within any registered range.
func (b *Bus) Contains(addr types.Address) bool {
	_, ok := b.find(addr)
	return ok
}

// LocationStatus reports the GUI-facing location_status of addr
// (spec.md §4.4): ILLEGAL if no range covers it, NONE if the range's
// device does not implement memory.StatusProvider, and the device's
// own reported status otherwise.
func (b *Bus) LocationStatus(addr types.Address) memory.LocationStatus {
	r, ok := b.find(addr)
	if !ok {
		return memory.StatusIllegal
	}
	sp, ok := r.Device.(memory.StatusProvider)
	if !ok {
		return memory.StatusNone
	}
	return sp.LocationStatus(addr.Raw() - r.Start.Raw())
}

// busAsDevice adapts a Bus into a memory.Device, so a Cache (whose
// backing store is Device-shaped, offset-addressed) can sit in front
// of the bus exactly as spec.md's "TLB → cache → bus → RAM" frontend
// chain requires, rather than only in front of a single backend.
type busAsDevice struct {
	bus *Bus
}

// Size implements memory.Device. The bus itself enforces per-range
// bounds on every Load/Store, so the adapter reports the full 64-bit
// span and lets the underlying ranges reject out-of-range offsets.
func (d busAsDevice) Size() uint64 { return ^uint64(0) }

func (d busAsDevice) Load(off uint64, opts memory.AccessOptions) (uint64, error) {
	return d.bus.Load(types.NewAddress(off), opts)
}

func (d busAsDevice) Store(off uint64, value uint64, opts memory.AccessOptions) error {
	return d.bus.Store(types.NewAddress(off), value, opts)
}

// AsDevice exposes the bus as a memory.Device addressed by absolute
// physical address, for a cache or other frontend-memory layer to use
// as its backing store.
func (b *Bus) AsDevice() memory.Device { return busAsDevice{bus: b} }
