package multiplexer

import (
	"fmt"

	"github.com/user/avcpull/pkg/pipeline"
	"github.com/user/avcpull/pkg/queue"
)

// PullMode selects how frames are retrieved.
type PullMode int

const (
	// PullGlobal serves the oldest frame across all sources (PullFrame).
	PullGlobal PullMode = iota
	// PullPerSource serves frames of one named source (PullFrameFrom).
	PullPerSource
)

// String returns the configuration name of the mode.
func (m PullMode) String() string {
	switch m {
	case PullGlobal:
		return "global"
	case PullPerSource:
		return "per-source"
	default:
		return "unknown"
	}
}

// ParsePullMode parses a configuration name into a PullMode.
func ParsePullMode(s string) (PullMode, error) {
	switch s {
	case "global", "":
		return PullGlobal, nil
	case "per-source":
		return PullPerSource, nil
	default:
		return PullGlobal, fmt.Errorf("unknown pull mode %q", s)
	}
}

// EvictionPolicy selects what happens when a new source arrives while
// MaxSources sessions exist.
type EvictionPolicy int

const (
	// EvictNone rejects the new source with ErrTooManySources.
	EvictNone EvictionPolicy = iota
	// EvictLRU drains and removes the least recently used idle session.
	EvictLRU
)

// String returns the configuration name of the policy.
func (p EvictionPolicy) String() string {
	switch p {
	case EvictNone:
		return "none"
	case EvictLRU:
		return "lru"
	default:
		return "unknown"
	}
}

// ParseEvictionPolicy parses a configuration name into an EvictionPolicy.
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch s {
	case "none", "":
		return EvictNone, nil
	case "lru":
		return EvictLRU, nil
	default:
		return EvictNone, fmt.Errorf("unknown eviction policy %q", s)
	}
}

// Config configures a Multiplexer.
type Config struct {
	// MaxSources bounds the number of concurrent decoder sessions.
	MaxSources int

	// QueueCapacity bounds the pending-output queue (0 = unbounded).
	QueueCapacity int

	// Backpressure is applied when the queue is at capacity.
	Backpressure queue.Policy

	// PullMode selects global or per-source retrieval.
	PullMode PullMode

	// Eviction selects what happens when MaxSources is reached.
	Eviction EvictionPolicy

	// StallThreshold flags a source after this many consecutive pushes
	// without output (0 = disabled).
	StallThreshold int

	// OnStall, if set, is called once each time a source becomes stalled.
	// It runs on the pushing goroutine and must not call back into the
	// multiplexer for the same source.
	OnStall func(id pipeline.SourceID, feedsWithoutOutput int)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		MaxSources:     4,
		QueueCapacity:  64,
		Backpressure:   queue.PolicyBlock,
		PullMode:       PullGlobal,
		Eviction:       EvictNone,
		StallThreshold: 32,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.MaxSources < 1 {
		return fmt.Errorf("max sources must be at least 1, got %d", c.MaxSources)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("queue capacity must not be negative, got %d", c.QueueCapacity)
	}
	if c.StallThreshold < 0 {
		return fmt.Errorf("stall threshold must not be negative, got %d", c.StallThreshold)
	}
	switch c.Backpressure {
	case queue.PolicyBlock, queue.PolicyReject, queue.PolicyDropOldest:
	default:
		return fmt.Errorf("unknown backpressure policy %d", c.Backpressure)
	}
	switch c.PullMode {
	case PullGlobal, PullPerSource:
	default:
		return fmt.Errorf("unknown pull mode %d", c.PullMode)
	}
	switch c.Eviction {
	case EvictNone, EvictLRU:
	default:
		return fmt.Errorf("unknown eviction policy %d", c.Eviction)
	}
	return nil
}
