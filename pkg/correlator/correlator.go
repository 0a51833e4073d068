// Package correlator reattaches timestamp and source identity to pictures
// emitted by a decoder whose output order may differ from its input order.
//
// Every submitted unit that is expected to produce a picture leaves a Tag.
// Each emitted picture consumes exactly one Tag. A FIFO correlator hands
// tags back in submission order; an ordered correlator hands back the lowest
// pending timestamp first, which suits producers that push presentation
// timestamps in decode order.
package correlator

import (
	"container/heap"
	"errors"

	"github.com/user/avcpull/pkg/pipeline"
)

// ErrCorrelationUnderflow is returned when a decoder emits more pictures
// than there are pending tags. It indicates a logic defect, not bad input.
var ErrCorrelationUnderflow = errors.New("correlator: more pictures than pending units")

// Tag is the metadata of one submitted unit.
type Tag[T comparable] struct {
	Timestamp T
	SourceID  pipeline.SourceID
	Keyframe  bool // The unit carried an IDR picture
}

// Correlator records submitted tags and releases them as pictures emerge.
type Correlator[T comparable] interface {
	// Submit records the tag of a unit that will produce one picture.
	Submit(tag Tag[T])

	// Attach removes and returns n tags, one per emitted picture. If fewer
	// than n are pending, the available tags are returned together with
	// ErrCorrelationUnderflow.
	Attach(n int) ([]Tag[T], error)

	// Last returns the most recently submitted tag since the last Reset,
	// whether or not it is still pending.
	Last() (Tag[T], bool)

	// Pending returns the number of tags awaiting a picture.
	Pending() int

	// Reset discards all pending tags.
	Reset()
}

// FIFO releases tags in submission order.
type FIFO[T comparable] struct {
	tags    []Tag[T]
	last    Tag[T]
	hasLast bool
}

// NewFIFO creates an empty FIFO correlator.
func NewFIFO[T comparable]() *FIFO[T] {
	return &FIFO[T]{}
}

// Submit appends the tag of a unit that will produce one picture.
func (c *FIFO[T]) Submit(tag Tag[T]) {
	c.tags = append(c.tags, tag)
	c.last, c.hasLast = tag, true
}

// Attach removes and returns the n oldest tags.
func (c *FIFO[T]) Attach(n int) ([]Tag[T], error) {
	if n <= 0 {
		return nil, nil
	}

	var err error
	if n > len(c.tags) {
		n = len(c.tags)
		err = ErrCorrelationUnderflow
	}

	out := make([]Tag[T], n)
	copy(out, c.tags[:n])

	rest := copy(c.tags, c.tags[n:])
	clear(c.tags[rest:])
	c.tags = c.tags[:rest]

	return out, err
}

// Last returns the most recently submitted tag.
func (c *FIFO[T]) Last() (Tag[T], bool) {
	return c.last, c.hasLast
}

// Pending returns the number of tags awaiting a picture.
func (c *FIFO[T]) Pending() int {
	return len(c.tags)
}

// Reset discards all tags.
func (c *FIFO[T]) Reset() {
	clear(c.tags)
	c.tags = c.tags[:0]
	c.last, c.hasLast = Tag[T]{}, false
}

// Ordered releases the lowest pending timestamp first.
type Ordered[T comparable] struct {
	h       tagHeap[T]
	last    Tag[T]
	hasLast bool
}

// NewOrdered creates an Ordered correlator using less to compare timestamps.
func NewOrdered[T comparable](less func(a, b T) bool) *Ordered[T] {
	return &Ordered[T]{h: tagHeap[T]{less: less}}
}

// Submit pushes the tag of a unit that will produce one picture.
func (c *Ordered[T]) Submit(tag Tag[T]) {
	c.h.seq++
	heap.Push(&c.h, entry[T]{tag: tag, seq: c.h.seq})
	c.last, c.hasLast = tag, true
}

// Attach removes and returns the n lowest tags, lowest first.
func (c *Ordered[T]) Attach(n int) ([]Tag[T], error) {
	if n <= 0 {
		return nil, nil
	}

	var err error
	if n > c.h.Len() {
		n = c.h.Len()
		err = ErrCorrelationUnderflow
	}

	out := make([]Tag[T], 0, n)
	for i := 0; i < n; i++ {
		out = append(out, heap.Pop(&c.h).(entry[T]).tag)
	}
	return out, err
}

// Last returns the most recently submitted tag.
func (c *Ordered[T]) Last() (Tag[T], bool) {
	return c.last, c.hasLast
}

// Pending returns the number of tags awaiting a picture.
func (c *Ordered[T]) Pending() int {
	return c.h.Len()
}

// Reset discards all tags.
func (c *Ordered[T]) Reset() {
	c.h.items = nil
	c.last, c.hasLast = Tag[T]{}, false
}

type entry[T comparable] struct {
	tag Tag[T]
	seq uint64
}

// tagHeap is a min-heap on timestamp; equal timestamps keep submission order.
type tagHeap[T comparable] struct {
	items []entry[T]
	less  func(a, b T) bool
	seq   uint64
}

func (h tagHeap[T]) Len() int { return len(h.items) }

func (h tagHeap[T]) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if h.less(a.tag.Timestamp, b.tag.Timestamp) {
		return true
	}
	if h.less(b.tag.Timestamp, a.tag.Timestamp) {
		return false
	}
	return a.seq < b.seq
}

func (h tagHeap[T]) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *tagHeap[T]) Push(x any) { h.items = append(h.items, x.(entry[T])) }

func (h *tagHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

var (
	_ Correlator[int] = (*FIFO[int])(nil)
	_ Correlator[int] = (*Ordered[int])(nil)
)
