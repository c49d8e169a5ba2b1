package memory

// LCD is a framebuffer device: a flat array of packed pixels the
// guest writes directly, with no blitting or command protocol, in
// keeping with a teaching simulator's memory-mapped display
// (spec.md §4.4).
type LCD struct {
	width, height int
	bytesPerPixel int
	pixels        []byte
}

// NewLCD constructs a framebuffer of width x height pixels, each
// bytesPerPixel bytes wide (e.g. 2 for RGB565, 4 for RGBA8888).
func NewLCD(width, height, bytesPerPixel int) *LCD {
	return &LCD{
		width: width, height: height, bytesPerPixel: bytesPerPixel,
		pixels: make([]byte, width*height*bytesPerPixel),
	}
}

// Size implements Device.
func (l *LCD) Size() uint64 { return uint64(len(l.pixels)) }

// Load implements Device.
func (l *LCD) Load(off uint64, opts AccessOptions) (uint64, error) {
	if off+uint64(opts.Width) > uint64(len(l.pixels)) {
		return 0, ErrOutOfRange
	}
	var raw uint64
	for i := Width(0); i < opts.Width; i++ {
		raw |= uint64(l.pixels[off+uint64(i)]) << (8 * i)
	}
	return raw, nil
}

// Store implements Device.
func (l *LCD) Store(off uint64, value uint64, opts AccessOptions) error {
	if off+uint64(opts.Width) > uint64(len(l.pixels)) {
		return ErrOutOfRange
	}
	for i := Width(0); i < opts.Width; i++ {
		l.pixels[off+uint64(i)] = byte(value >> (8 * i))
	}
	return nil
}

// LocationStatus implements StatusProvider.
func (l *LCD) LocationStatus(off uint64) LocationStatus {
	if off >= uint64(len(l.pixels)) {
		return StatusIllegal
	}
	return StatusCached
}

// Snapshot returns a copy of the framebuffer contents, for a CLI
// subcommand that dumps the display to an image file.
func (l *LCD) Snapshot() []byte {
	out := make([]byte, len(l.pixels))
	copy(out, l.pixels)
	return out
}

// Dimensions returns (width, height, bytesPerPixel).
func (l *LCD) Dimensions() (int, int, int) { return l.width, l.height, l.bytesPerPixel }
