// Package summarizer provides summary generation for decode runs.
package summarizer

import "time"

// Summary contains all data collected during a decode run.
type Summary struct {
	// Metadata
	GeneratedAt time.Time
	Elapsed     time.Duration

	// Multiplexer and decoder configuration
	Settings Settings

	// One entry per input, in SourceID order
	Sources []SourceInfo

	// Frames discarded by the drop-oldest policy
	Dropped uint64
}

// Settings contains the run configuration.
type Settings struct {
	MaxSources     int
	QueueCapacity  int // 0 = unbounded
	Backpressure   string
	PullMode       string
	Eviction       string
	TimestampOrder string
	DecoderThreads int // 0 = chosen by ffmpeg
}

// SourceInfo describes one decoded input.
type SourceInfo struct {
	ID      uint32
	Path    string
	Width   int
	Height  int
	Units   int
	Bytes   int64 // Encoded size of all units
	Frames  int
	Skipped int    // Units rejected as corrupt
	Error   string // Empty unless the source failed
}

// Failed reports whether the source was given up.
func (s SourceInfo) Failed() bool {
	return s.Error != ""
}

// TotalFrames returns the number of frames pulled across all sources.
func (s *Summary) TotalFrames() int {
	n := 0
	for _, src := range s.Sources {
		n += src.Frames
	}
	return n
}

// FailedSources returns the number of sources that were given up.
func (s *Summary) FailedSources() int {
	n := 0
	for _, src := range s.Sources {
		if src.Failed() {
			n++
		}
	}
	return n
}

// NewSummary creates a new Summary with the current timestamp.
func NewSummary() *Summary {
	return &Summary{
		GeneratedAt: time.Now(),
	}
}

// Builder provides a fluent interface for building a Summary.
type Builder struct {
	summary *Summary
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{
		summary: NewSummary(),
	}
}

// WithSettings sets the run configuration.
func (b *Builder) WithSettings(settings Settings) *Builder {
	b.summary.Settings = settings
	return b
}

// WithElapsed sets the wall time of the run.
func (b *Builder) WithElapsed(elapsed time.Duration) *Builder {
	b.summary.Elapsed = elapsed
	return b
}

// WithDropped sets the number of frames lost to backpressure.
func (b *Builder) WithDropped(dropped uint64) *Builder {
	b.summary.Dropped = dropped
	return b
}

// AddSource appends one input.
func (b *Builder) AddSource(source SourceInfo) *Builder {
	b.summary.Sources = append(b.summary.Sources, source)
	return b
}

// Build returns the constructed Summary.
func (b *Builder) Build() *Summary {
	return b.summary
}
