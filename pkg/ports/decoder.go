// Package ports defines interfaces for external dependencies.
package ports

import "errors"

// Decode error taxonomy. Native decoders wrap one of these so callers can
// classify failures with errors.Is without seeing backend-specific codes.
var (
	// ErrCorruptData is returned for a malformed bitstream unit.
	ErrCorruptData = errors.New("decoder: corrupt data")

	// ErrResourceExhausted is returned when the decoder cannot obtain the
	// memory, process or handle it needs.
	ErrResourceExhausted = errors.New("decoder: resource exhausted")

	// ErrUnsupportedParameterChange is returned when stream parameters
	// (resolution, profile) change mid-stream and the decoder cannot follow.
	ErrUnsupportedParameterChange = errors.New("decoder: unsupported parameter change")
)

// PixelFormat identifies the layout of a decoded picture's pixel buffer.
type PixelFormat int

const (
	// PixelFormatRGB24 is packed 8-bit R, G, B.
	PixelFormatRGB24 PixelFormat = iota
	// PixelFormatRGBA is packed 8-bit R, G, B, A.
	PixelFormatRGBA
	// PixelFormatGray is a single 8-bit luma plane.
	PixelFormatGray
)

// String returns the ffmpeg-style name of the pixel format.
func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGB24:
		return "rgb24"
	case PixelFormatRGBA:
		return "rgba"
	case PixelFormatGray:
		return "gray"
	default:
		return "unknown"
	}
}

// BytesPerPixel returns the packed size of one pixel.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatRGBA:
		return 4
	case PixelFormatGray:
		return 1
	default:
		return 3
	}
}

// Picture is a decoded picture as emitted by a native decoder, before any
// timing or source metadata is attached.
type Picture struct {
	Width  int
	Height int
	Format PixelFormat
	Data   []byte
}

// NativeDecoder abstracts one stateful H.264 decoder instance.
// Implementations are not required to be safe for concurrent use.
type NativeDecoder interface {
	// Init prepares the decoder. It is called once before the first Feed.
	Init() error

	// Feed submits one Annex B access unit in decode order and returns the
	// pictures that became ready as a result (possibly none).
	Feed(data []byte) ([]Picture, error)

	// Flush signals end of input and returns all remaining buffered pictures.
	Flush() ([]Picture, error)

	// Reset drops all internal state, including buffered pictures, so the
	// next Feed starts a fresh stream.
	Reset() error

	// Close releases decoder resources.
	Close()
}

// DecoderFactory creates a fresh NativeDecoder for a new source.
type DecoderFactory func() (NativeDecoder, error)
