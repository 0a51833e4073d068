// Package queue provides the pending-output queue: decoded frames waiting
// to be pulled, FIFO per source and globally, bounded by a capacity.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/user/avcpull/pkg/pipeline"
)

var (
	// ErrQueueFull is returned by Admit under PolicyReject when the queue is at capacity.
	ErrQueueFull = errors.New("queue: full")

	// ErrClosed is returned once the queue is closed (and, for waits, empty).
	ErrClosed = errors.New("queue: closed")
)

// Policy selects what happens when a producer meets a full queue.
type Policy int

const (
	// PolicyBlock suspends the producer until space is available or its context ends.
	PolicyBlock Policy = iota
	// PolicyReject fails the producer with ErrQueueFull.
	PolicyReject
	// PolicyDropOldest admits the producer and evicts the globally oldest frames.
	PolicyDropOldest
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyReject:
		return "reject"
	case PolicyDropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// ParsePolicy parses a configuration name into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "block", "":
		return PolicyBlock, nil
	case "reject":
		return PolicyReject, nil
	case "drop-oldest":
		return PolicyDropOldest, nil
	default:
		return PolicyBlock, fmt.Errorf("unknown backpressure policy %q", s)
	}
}

// Queue holds decoded frames until they are pulled.
// All methods are safe for concurrent use.
type Queue[T comparable] struct {
	mu       sync.Mutex
	capacity int // <= 0 means unbounded
	policy   Policy

	bySource map[pipeline.SourceID][]pipeline.DecodedFrame[T]
	length   int
	seq      uint64
	dropped  uint64
	closed   bool

	// changed is closed and replaced on every mutation so waiters can select on it.
	changed chan struct{}
}

// New creates a queue with the given capacity and backpressure policy.
func New[T comparable](capacity int, policy Policy) *Queue[T] {
	return &Queue[T]{
		capacity: capacity,
		policy:   policy,
		bySource: make(map[pipeline.SourceID][]pipeline.DecodedFrame[T]),
		changed:  make(chan struct{}),
	}
}

// Admit applies backpressure before a producer engages its decoder.
// Under PolicyBlock it waits for space; under PolicyReject it returns
// ErrQueueFull; under PolicyDropOldest it always admits.
func (q *Queue[T]) Admit(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if q.policy == PolicyDropOldest || !q.fullLocked() {
			q.mu.Unlock()
			return nil
		}
		if q.policy == PolicyReject {
			q.mu.Unlock()
			return ErrQueueFull
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Put appends frames, assigning their global sequence numbers. Frames of one
// call are admitted whole; under PolicyDropOldest the oldest frames are then
// evicted until the queue fits its capacity. Put returns the number of
// frames evicted.
func (q *Queue[T]) Put(frames ...pipeline.DecodedFrame[T]) int {
	if len(frames) == 0 {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, f := range frames {
		q.seq++
		f.Seq = q.seq
		q.bySource[f.SourceID] = append(q.bySource[f.SourceID], f)
		q.length++
	}

	evicted := 0
	if q.policy == PolicyDropOldest && q.capacity > 0 {
		for q.length > q.capacity {
			if _, ok := q.popLocked(nil); !ok {
				break
			}
			evicted++
		}
		q.dropped += uint64(evicted)
	}

	q.notifyLocked()
	return evicted
}

// Pop removes and returns the oldest frame across all sources.
func (q *Queue[T]) Pop() (pipeline.DecodedFrame[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, ok := q.popLocked(nil)
	if ok {
		q.notifyLocked()
	}
	return f, ok
}

// PopSource removes and returns the oldest frame of one source.
func (q *Queue[T]) PopSource(id pipeline.SourceID) (pipeline.DecodedFrame[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, ok := q.popLocked(&id)
	if ok {
		q.notifyLocked()
	}
	return f, ok
}

// Wait blocks until a frame is available, the context ends, or the queue is
// closed and empty (ErrClosed).
func (q *Queue[T]) Wait(ctx context.Context) (pipeline.DecodedFrame[T], error) {
	return q.wait(ctx, nil)
}

// WaitSource is Wait restricted to one source.
func (q *Queue[T]) WaitSource(ctx context.Context, id pipeline.SourceID) (pipeline.DecodedFrame[T], error) {
	return q.wait(ctx, &id)
}

func (q *Queue[T]) wait(ctx context.Context, id *pipeline.SourceID) (pipeline.DecodedFrame[T], error) {
	for {
		q.mu.Lock()
		if f, ok := q.popLocked(id); ok {
			q.notifyLocked()
			q.mu.Unlock()
			return f, nil
		}
		if q.closed {
			q.mu.Unlock()
			return pipeline.DecodedFrame[T]{}, ErrClosed
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return pipeline.DecodedFrame[T]{}, ctx.Err()
		case <-ch:
		}
	}
}

// Close marks end of stream. Queued frames stay retrievable; producers
// waiting in Admit are released with ErrClosed.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notifyLocked()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued frames.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

// LenSource returns the number of queued frames of one source.
func (q *Queue[T]) LenSource(id pipeline.SourceID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bySource[id])
}

// Dropped returns the number of frames evicted under PolicyDropOldest.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Capacity returns the configured capacity (<= 0 is unbounded).
func (q *Queue[T]) Capacity() int {
	return q.capacity
}

func (q *Queue[T]) fullLocked() bool {
	return q.capacity > 0 && q.length >= q.capacity
}

// popLocked removes the head of one source, or the globally oldest head
// when id is nil.
func (q *Queue[T]) popLocked(id *pipeline.SourceID) (pipeline.DecodedFrame[T], bool) {
	var key pipeline.SourceID
	found := false

	if id != nil {
		if len(q.bySource[*id]) > 0 {
			key, found = *id, true
		}
	} else {
		var oldest uint64
		for k, frames := range q.bySource {
			if len(frames) == 0 {
				continue
			}
			if !found || frames[0].Seq < oldest {
				key, oldest, found = k, frames[0].Seq, true
			}
		}
	}
	if !found {
		return pipeline.DecodedFrame[T]{}, false
	}

	frames := q.bySource[key]
	f := frames[0]
	frames[0] = pipeline.DecodedFrame[T]{}
	if len(frames) == 1 {
		delete(q.bySource, key)
	} else {
		q.bySource[key] = frames[1:]
	}
	q.length--
	return f, true
}

func (q *Queue[T]) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
