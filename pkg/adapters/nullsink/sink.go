// Package nullsink provides a frame sink that discards everything.
package nullsink

import (
	"image"

	"github.com/user/avcpull/pkg/ports"
)

// Sink is a no-op implementation of ports.FrameSink, used when frames are
// only counted.
type Sink struct{}

// New creates a new NullSink.
func New() *Sink {
	return &Sink{}
}

// Enabled returns false so callers can skip image conversion.
func (s *Sink) Enabled() bool {
	return false
}

// SaveFrame does nothing.
func (s *Sink) SaveFrame(sourceID uint32, index int, timestamp string, img image.Image) error {
	return nil
}

var _ ports.FrameSink = (*Sink)(nil)
