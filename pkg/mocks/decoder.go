package mocks

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/avcpull/pkg/ports"
)

// NativeDecoder is a mock implementation of ports.NativeDecoder.
// By default every fed unit becomes one picture after Delay further units
// have been fed; Flush emits whatever is still buffered. Each picture
// carries the bytes of the unit that produced it.
type NativeDecoder struct {
	// Delay is the number of units buffered before pictures start to emerge.
	Delay int
	// FeedLatency is slept at the start of every Feed, outside the lock.
	FeedLatency time.Duration

	InitFunc  func() error
	FeedFunc  func(data []byte) ([]ports.Picture, error)
	FlushFunc func() ([]ports.Picture, error)
	ResetFunc func() error

	mu       sync.Mutex
	buffered [][]byte

	// Recorded calls for verification
	InitCalls  int
	FeedCalls  int
	FlushCalls int
	ResetCalls int
	CloseCalls int
	Fed        [][]byte

	inFeed   int32
	overlaps int32
}

func (m *NativeDecoder) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InitCalls++
	if m.InitFunc != nil {
		return m.InitFunc()
	}
	return nil
}

func (m *NativeDecoder) Feed(data []byte) ([]ports.Picture, error) {
	if atomic.AddInt32(&m.inFeed, 1) > 1 {
		atomic.AddInt32(&m.overlaps, 1)
	}
	defer atomic.AddInt32(&m.inFeed, -1)

	if m.FeedLatency > 0 {
		time.Sleep(m.FeedLatency)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.FeedCalls++
	m.Fed = append(m.Fed, data)
	if m.FeedFunc != nil {
		return m.FeedFunc(data)
	}

	m.buffered = append(m.buffered, data)
	var out []ports.Picture
	for len(m.buffered) > m.Delay {
		out = append(out, picture(m.buffered[0]))
		m.buffered = m.buffered[1:]
	}
	return out, nil
}

func (m *NativeDecoder) Flush() ([]ports.Picture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FlushCalls++
	if m.FlushFunc != nil {
		return m.FlushFunc()
	}

	out := make([]ports.Picture, 0, len(m.buffered))
	for _, data := range m.buffered {
		out = append(out, picture(data))
	}
	m.buffered = nil
	return out, nil
}

func (m *NativeDecoder) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ResetCalls++
	m.buffered = nil
	if m.ResetFunc != nil {
		return m.ResetFunc()
	}
	return nil
}

func (m *NativeDecoder) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
}

// Calls returns a consistent snapshot of the recorded call counts
// (init, feed, flush, reset, close).
func (m *NativeDecoder) Calls() (initCalls, feedCalls, flushCalls, resetCalls, closeCalls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InitCalls, m.FeedCalls, m.FlushCalls, m.ResetCalls, m.CloseCalls
}

// Overlaps returns how many Feed calls started while another was running.
func (m *NativeDecoder) Overlaps() int {
	return int(atomic.LoadInt32(&m.overlaps))
}

func picture(data []byte) ports.Picture {
	return ports.Picture{Width: 2, Height: 2, Format: ports.PixelFormatRGB24, Data: data}
}

var _ ports.NativeDecoder = (*NativeDecoder)(nil)

// DecoderFactory hands out mock decoders and remembers them.
type DecoderFactory struct {
	// Configure, if set, is applied to every new decoder.
	Configure func(index int, d *NativeDecoder)
	// Err, if set, is returned instead of a decoder.
	Err error

	mu      sync.Mutex
	created []*NativeDecoder
}

// New implements ports.DecoderFactory.
func (f *DecoderFactory) New() (ports.NativeDecoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	d := &NativeDecoder{}
	if f.Configure != nil {
		f.Configure(len(f.created), d)
	}
	f.created = append(f.created, d)
	return d, nil
}

// Created returns the decoders handed out so far, in creation order.
func (f *DecoderFactory) Created() []*NativeDecoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*NativeDecoder(nil), f.created...)
}
