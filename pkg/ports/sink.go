package ports

import (
	"image"
)

// FrameSink receives decoded frames pulled from the multiplexer.
type FrameSink interface {
	// Enabled returns true if frames should be delivered to the sink.
	Enabled() bool

	// SaveFrame stores one decoded frame. index counts frames per source.
	SaveFrame(sourceID uint32, index int, timestamp string, img image.Image) error
}
