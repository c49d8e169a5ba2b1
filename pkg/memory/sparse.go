package memory

import (
	"encoding/binary"
)

// pageSize is the allocation granularity for SparseRAM; pages are
// allocated lazily on first touch so a large guest address space does
// not require a matching host allocation (spec.md §4.4 "main RAM").
const pageSize = 4096

// SparseRAM is a byte-addressable memory backend that allocates
// storage one page at a time, so a machine configured with a large
// RAM size does not pay for pages the program never touches.
type SparseRAM struct {
	size  uint64
	pages map[uint64][]byte
}

// NewSparseRAM constructs a RAM device spanning size bytes.
func NewSparseRAM(size uint64) *SparseRAM {
	return &SparseRAM{size: size, pages: map[uint64][]byte{}}
}

// Size implements Device.
func (m *SparseRAM) Size() uint64 { return m.size }

func (m *SparseRAM) page(off uint64) []byte {
	idx := off / pageSize
	p, ok := m.pages[idx]
	if !ok {
		p = make([]byte, pageSize)
		m.pages[idx] = p
	}
	return p
}

// Load implements Device. Data accesses are not alignment-restricted
// (spec.md §8 scenario S5), so a multi-byte width may straddle a page
// boundary; readSpan below handles that byte-wise rather than slicing
// a single page, which would panic once the slice is shorter than the
// requested width.
func (m *SparseRAM) Load(off uint64, opts AccessOptions) (uint64, error) {
	if off+uint64(opts.Width) > m.size {
		log.WithField("offset", off).WithField("width", opts.Width).Warn("memory: load out of range")
		return 0, ErrOutOfRange
	}
	var buf [8]byte
	m.readSpan(off, buf[:opts.Width])
	var raw uint64
	switch opts.Width {
	case WidthByte:
		raw = uint64(buf[0])
	case WidthHalf:
		raw = uint64(binary.LittleEndian.Uint16(buf[:2]))
	case WidthWord:
		raw = uint64(binary.LittleEndian.Uint32(buf[:4]))
	case WidthDouble:
		raw = binary.LittleEndian.Uint64(buf[:8])
	}
	if opts.Signed {
		return signExtend(raw, opts.Width), nil
	}
	return raw, nil
}

// Store implements Device; see Load's comment on page-straddling
// accesses.
func (m *SparseRAM) Store(off uint64, value uint64, opts AccessOptions) error {
	if off+uint64(opts.Width) > m.size {
		log.WithField("offset", off).WithField("width", opts.Width).Warn("memory: store out of range")
		return ErrOutOfRange
	}
	var buf [8]byte
	switch opts.Width {
	case WidthByte:
		buf[0] = byte(value)
	case WidthHalf:
		binary.LittleEndian.PutUint16(buf[:2], uint16(value))
	case WidthWord:
		binary.LittleEndian.PutUint32(buf[:4], uint32(value))
	case WidthDouble:
		binary.LittleEndian.PutUint64(buf[:8], value)
	}
	m.writeSpan(off, buf[:opts.Width])
	return nil
}

// readSpan copies len(dst) bytes starting at off into dst, crossing
// page boundaries one byte at a time.
func (m *SparseRAM) readSpan(off uint64, dst []byte) {
	for i := range dst {
		pageOff := off + uint64(i)
		page := m.page(pageOff - pageOff%pageSize)
		dst[i] = page[pageOff%pageSize]
	}
}

// writeSpan is readSpan's write counterpart.
func (m *SparseRAM) writeSpan(off uint64, src []byte) {
	for i, b := range src {
		pageOff := off + uint64(i)
		page := m.page(pageOff - pageOff%pageSize)
		page[pageOff%pageSize] = b
	}
}

// LocationStatus implements StatusProvider: an unallocated page
// reports NONE, a touched one CACHED (the sparse tree itself is the
// only storage tier main RAM has).
func (m *SparseRAM) LocationStatus(off uint64) LocationStatus {
	if off >= m.size {
		return StatusIllegal
	}
	if _, ok := m.pages[off/pageSize]; ok {
		return StatusCached
	}
	return StatusNone
}

// LoadBytes copies length bytes starting at off, for the assembler
// loader and disassembly listing; it does not allocate pages that
// were never written, reading them as zero.
func (m *SparseRAM) LoadBytes(off uint64, length int) []byte {
	out := make([]byte, length)
	for i := range out {
		pageOff := off + uint64(i)
		if p, ok := m.pages[pageOff/pageSize]; ok {
			out[i] = p[pageOff%pageSize]
		}
	}
	return out
}

// StoreBytes writes data starting at off, allocating pages as needed;
// used to load a program image before Machine.Restart begins fetching.
func (m *SparseRAM) StoreBytes(off uint64, data []byte) error {
	if off+uint64(len(data)) > m.size {
		return ErrOutOfRange
	}
	m.writeSpan(off, data)
	return nil
}
