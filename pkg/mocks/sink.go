package mocks

import (
	"image"
	"sync"

	"github.com/user/avcpull/pkg/ports"
)

// SavedFrame is one call recorded by FrameSink.
type SavedFrame struct {
	SourceID  uint32
	Index     int
	Timestamp string
	Bounds    image.Rectangle
}

// FrameSink is a mock implementation of ports.FrameSink.
type FrameSink struct {
	mu sync.RWMutex

	enabled bool

	// Err, if set, is returned by SaveFrame.
	Err error

	Frames []SavedFrame
}

// NewFrameSink creates a new mock FrameSink.
func NewFrameSink(enabled bool) *FrameSink {
	return &FrameSink{enabled: enabled}
}

func (m *FrameSink) Enabled() bool {
	return m.enabled
}

func (m *FrameSink) SaveFrame(sourceID uint32, index int, timestamp string, img image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Frames = append(m.Frames, SavedFrame{
		SourceID:  sourceID,
		Index:     index,
		Timestamp: timestamp,
		Bounds:    img.Bounds(),
	})
	return nil
}

// Source returns the recorded frames of one source in save order.
func (m *FrameSink) Source(sourceID uint32) []SavedFrame {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []SavedFrame
	for _, f := range m.Frames {
		if f.SourceID == sourceID {
			out = append(out, f)
		}
	}
	return out
}

var _ ports.FrameSink = (*FrameSink)(nil)
