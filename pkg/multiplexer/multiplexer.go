// Package multiplexer routes encoded units of many logical sources to one
// decoder session per source and collects the decoded frames into a shared
// pending-output queue.
//
// Each source's session is exclusively owned by its routing entry: a caller
// must hold the entry's turn before touching the session, so two feeds never
// run on the same decoder. Different sources are fed in parallel.
package multiplexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/user/avcpull/pkg/correlator"
	"github.com/user/avcpull/pkg/pipeline"
	"github.com/user/avcpull/pkg/ports"
	"github.com/user/avcpull/pkg/queue"
	"github.com/user/avcpull/pkg/session"
)

var (
	// ErrTooManySources is returned when a new source arrives while
	// MaxSources sessions exist and none can be evicted.
	ErrTooManySources = errors.New("multiplexer: too many sources")

	// ErrClosed is returned after Shutdown: by pushes immediately, and by
	// pulls once the queue is empty (end of stream).
	ErrClosed = errors.New("multiplexer: closed")

	// ErrUnknownSource is returned when closing a source without a session.
	ErrUnknownSource = errors.New("multiplexer: unknown source")

	// ErrPullMode is returned by a pull call that does not match the configured PullMode.
	ErrPullMode = errors.New("multiplexer: pull mode mismatch")
)

// entry is the routing table slot of one source.
type entry[T comparable] struct {
	id      pipeline.SourceID
	session *session.Session[T]

	// turn holds a token while a caller owns the session.
	turn chan struct{}

	lastUsed uint64 // guarded by Multiplexer.mu
	removed  bool   // guarded by Multiplexer.mu
	stalled  atomic.Bool
}

func (e *entry[T]) tryTake() bool {
	select {
	case e.turn <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *entry[T]) take(ctx context.Context) error {
	select {
	case e.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *entry[T]) release() {
	<-e.turn
}

// Multiplexer is the push/pull decoding adapter.
// All methods are safe for concurrent use.
type Multiplexer[T comparable] struct {
	cfg     Config
	factory ports.DecoderFactory
	newCorr func() correlator.Correlator[T]
	logger  ports.Logger
	queue   *queue.Queue[T]

	mu      sync.Mutex
	entries map[pipeline.SourceID]*entry[T]
	clock   uint64
	closed  bool
}

// New creates a multiplexer whose sessions attribute timestamps in
// submission order. Producers should push decode-order timestamps.
func New[T comparable](cfg Config, factory ports.DecoderFactory, logger ports.Logger) (*Multiplexer[T], error) {
	return newMultiplexer(cfg, factory, logger, func() correlator.Correlator[T] {
		return correlator.NewFIFO[T]()
	})
}

// NewOrdered creates a multiplexer whose sessions attribute the lowest
// pending timestamp to each emitted picture. Producers may push
// presentation timestamps in decode order.
func NewOrdered[T comparable](cfg Config, factory ports.DecoderFactory, logger ports.Logger, less func(a, b T) bool) (*Multiplexer[T], error) {
	if less == nil {
		return nil, errors.New("multiplexer: nil timestamp comparison")
	}
	return newMultiplexer(cfg, factory, logger, func() correlator.Correlator[T] {
		return correlator.NewOrdered(less)
	})
}

func newMultiplexer[T comparable](cfg Config, factory ports.DecoderFactory, logger ports.Logger, newCorr func() correlator.Correlator[T]) (*Multiplexer[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("multiplexer: %w", err)
	}
	if factory == nil {
		return nil, errors.New("multiplexer: nil decoder factory")
	}

	return &Multiplexer[T]{
		cfg:     cfg,
		factory: factory,
		newCorr: newCorr,
		logger:  logger.WithComponent("multiplexer"),
		queue:   queue.New[T](cfg.QueueCapacity, cfg.Backpressure),
		entries: make(map[pipeline.SourceID]*entry[T]),
	}, nil
}

// PushData routes one access unit to the session of its source, creating the
// session on first use, and enqueues whatever frames the decode released.
//
// Backpressure is applied before the decoder is engaged, so a cancelled push
// has either fed its unit completely or not at all. Decode errors are
// reported here and never affect other sources.
func (m *Multiplexer[T]) PushData(ctx context.Context, data []byte, ts T, id pipeline.SourceID) error {
	e, err := m.acquire(ctx, id)
	if err != nil {
		return fmt.Errorf("source %d: %w", id, err)
	}
	defer e.release()

	if err := m.queue.Admit(ctx); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			err = ErrClosed
		}
		return fmt.Errorf("source %d: %w", id, err)
	}

	frames, feedErr := e.session.Feed(pipeline.EncodedUnit[T]{Data: data, Timestamp: ts, SourceID: id})
	if n := m.queue.Put(frames...); n > 0 {
		m.logger.Debug("Queue full, dropped %d oldest frames", n)
	}
	m.checkStall(e)

	if feedErr != nil {
		return fmt.Errorf("source %d: %w", id, feedErr)
	}
	return nil
}

// PullFrame removes and returns the oldest ready frame across all sources.
// ok is false when no frame is ready yet; that is not an error. After
// Shutdown, ErrClosed is returned once the queue is empty.
func (m *Multiplexer[T]) PullFrame() (frame pipeline.DecodedFrame[T], ok bool, err error) {
	if m.cfg.PullMode != PullGlobal {
		return frame, false, ErrPullMode
	}

	closed := m.queue.Closed()
	if frame, ok = m.queue.Pop(); ok {
		return frame, true, nil
	}
	if closed {
		return frame, false, ErrClosed
	}
	return frame, false, nil
}

// PullFrameFrom removes and returns the oldest ready frame of one source.
// It requires PullPerSource mode.
func (m *Multiplexer[T]) PullFrameFrom(id pipeline.SourceID) (frame pipeline.DecodedFrame[T], ok bool, err error) {
	if m.cfg.PullMode != PullPerSource {
		return frame, false, ErrPullMode
	}

	closed := m.queue.Closed()
	if frame, ok = m.queue.PopSource(id); ok {
		return frame, true, nil
	}
	if closed {
		return frame, false, ErrClosed
	}
	return frame, false, nil
}

// NextFrame blocks until a frame is ready, the context ends, or the stream
// has ended (ErrClosed). It requires PullGlobal mode.
func (m *Multiplexer[T]) NextFrame(ctx context.Context) (pipeline.DecodedFrame[T], error) {
	if m.cfg.PullMode != PullGlobal {
		return pipeline.DecodedFrame[T]{}, ErrPullMode
	}
	f, err := m.queue.Wait(ctx)
	if errors.Is(err, queue.ErrClosed) {
		err = ErrClosed
	}
	return f, err
}

// NextFrameFrom is NextFrame for one source. It requires PullPerSource mode.
func (m *Multiplexer[T]) NextFrameFrom(ctx context.Context, id pipeline.SourceID) (pipeline.DecodedFrame[T], error) {
	if m.cfg.PullMode != PullPerSource {
		return pipeline.DecodedFrame[T]{}, ErrPullMode
	}
	f, err := m.queue.WaitSource(ctx, id)
	if errors.Is(err, queue.ErrClosed) {
		err = ErrClosed
	}
	return f, err
}

// Close drains the session of one source: remaining buffered pictures are
// flushed into the queue, then the native decoder is freed.
func (m *Multiplexer[T]) Close(ctx context.Context, id pipeline.SourceID) error {
	e, err := m.detach(ctx, id)
	if err != nil {
		return fmt.Errorf("source %d: %w", id, err)
	}
	defer e.release()

	frames, err := e.session.Drain()
	m.queue.Put(frames...)
	m.logger.Info("Source %d closed, %d frames flushed", id, len(frames))

	if err != nil {
		return fmt.Errorf("source %d: %w", id, err)
	}
	return nil
}

// Evict discards the session of one source without draining it. This is
// how a failed session is replaced: the next push creates a fresh one.
func (m *Multiplexer[T]) Evict(ctx context.Context, id pipeline.SourceID) error {
	e, err := m.detach(ctx, id)
	if err != nil {
		return fmt.Errorf("source %d: %w", id, err)
	}
	defer e.release()

	e.session.Close()
	m.logger.Info("Source %d evicted", id)
	return nil
}

// Shutdown drains every session in parallel, refuses further pushes and
// marks end of stream. Frames already queued or flushed stay pullable.
func (m *Multiplexer[T]) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := make([]*entry[T], 0, len(m.entries))
	for id, e := range m.entries {
		e.removed = true
		entries = append(entries, e)
		delete(m.entries, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, e := range entries {
		g.Go(func() error {
			if err := e.take(ctx); err != nil {
				return fmt.Errorf("source %d: %w", e.id, err)
			}
			defer e.release()

			frames, err := e.session.Drain()
			m.queue.Put(frames...)
			if err != nil && !errors.Is(err, session.ErrFailed) {
				return fmt.Errorf("source %d: %w", e.id, err)
			}
			return nil
		})
	}
	err := g.Wait()

	m.queue.Close()
	m.logger.Info("Multiplexer shut down, %d sources drained", len(entries))
	return err
}

// acquire returns the entry of a source with its turn held, creating the
// session if needed.
func (m *Multiplexer[T]) acquire(ctx context.Context, id pipeline.SourceID) (*entry[T], error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}

		e, ok := m.entries[id]
		created := !ok
		var victim *entry[T]
		if created {
			var err error
			e, victim, err = m.createLocked(id)
			if err != nil {
				m.mu.Unlock()
				return nil, err
			}
		}
		m.clock++
		e.lastUsed = m.clock
		m.mu.Unlock()

		if victim != nil {
			m.retire(victim)
		}

		if err := e.take(ctx); err != nil {
			if created {
				m.discard(e)
			}
			return nil, err
		}

		m.mu.Lock()
		removed := e.removed
		m.mu.Unlock()
		if !removed {
			return e, nil
		}
		// Closed or evicted while we waited; start over with a fresh session.
		e.release()
	}
}

// createLocked registers a new session for id. When the source limit is
// reached under EvictLRU, the least recently used idle entry is unregistered
// and returned as victim with its turn held; the caller must retire it.
func (m *Multiplexer[T]) createLocked(id pipeline.SourceID) (e, victim *entry[T], err error) {
	if len(m.entries) >= m.cfg.MaxSources {
		if m.cfg.Eviction == EvictLRU {
			victim = m.lruIdleLocked()
		}
		if victim == nil {
			return nil, nil, fmt.Errorf("%w: limit is %d", ErrTooManySources, m.cfg.MaxSources)
		}
	}

	dec, err := m.factory()
	if err != nil {
		if victim != nil {
			victim.release()
		}
		return nil, nil, fmt.Errorf("create decoder: %w: %w", ports.ErrResourceExhausted, err)
	}

	if victim != nil {
		victim.removed = true
		delete(m.entries, victim.id)
	}

	e = &entry[T]{
		id:      id,
		session: session.New[T](id, dec, m.newCorr(), m.logger),
		turn:    make(chan struct{}, 1),
	}
	m.entries[id] = e
	m.logger.Info("Source %d: session created (%d/%d)", id, len(m.entries), m.cfg.MaxSources)
	return e, victim, nil
}

// lruIdleLocked takes the turn of the least recently used entry nobody is
// using, or returns nil.
func (m *Multiplexer[T]) lruIdleLocked() *entry[T] {
	candidates := make([]*entry[T], 0, len(m.entries))
	for _, e := range m.entries {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastUsed < candidates[j].lastUsed
	})

	for _, e := range candidates {
		if e.tryTake() {
			return e
		}
	}
	return nil
}

// discard unregisters and closes an entry created by a push that gave up
// before taking its turn, unless another caller is already using it.
func (m *Multiplexer[T]) discard(e *entry[T]) {
	if !e.tryTake() {
		return
	}
	defer e.release()

	m.mu.Lock()
	if e.removed {
		m.mu.Unlock()
		return
	}
	e.removed = true
	delete(m.entries, e.id)
	m.mu.Unlock()

	e.session.Close()
}

// retire drains an evicted entry into the queue and releases its turn.
func (m *Multiplexer[T]) retire(e *entry[T]) {
	defer e.release()

	frames, err := e.session.Drain()
	m.queue.Put(frames...)
	if err != nil {
		m.logger.Warn("Source %d: drain on eviction failed: %v", e.id, err)
	}
	m.logger.Info("Source %d evicted (least recently used), %d frames flushed", e.id, len(frames))
}

// detach unregisters a source and returns its entry with the turn held.
func (m *Multiplexer[T]) detach(ctx context.Context, id pipeline.SourceID) (*entry[T], error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSource
	}

	if err := e.take(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e.removed {
		e.release()
		return nil, ErrUnknownSource
	}
	e.removed = true
	delete(m.entries, id)
	return e, nil
}

func (m *Multiplexer[T]) checkStall(e *entry[T]) {
	if m.cfg.StallThreshold <= 0 {
		return
	}

	feeds := e.session.Stats().FeedsSinceOutput
	if feeds == 0 {
		e.stalled.Store(false)
		return
	}
	if feeds >= m.cfg.StallThreshold && !e.stalled.Swap(true) {
		m.logger.Warn("Source %d: no output after %d units", e.id, feeds)
		if m.cfg.OnStall != nil {
			m.cfg.OnStall(e.id, feeds)
		}
	}
}
