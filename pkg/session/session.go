// Package session wraps one native H.264 decoder instance with a typed
// request/response contract and an explicit lifecycle:
//
//	Uninitialized -> Active -> {Active, Draining, Failed}
//	Draining -> Closed
//
// A Session is owned by exactly one caller at a time; it does not guard
// against concurrent Feed calls. State and statistics may be read
// concurrently.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/bits"

	"github.com/user/avcpull/pkg/correlator"
	"github.com/user/avcpull/pkg/pipeline"
	"github.com/user/avcpull/pkg/ports"
)

var (
	// ErrFailed is returned by every operation on a session in StateFailed.
	// The decoder is not engaged; the session must be recreated.
	ErrFailed = errors.New("session: failed")

	// ErrClosed is returned when feeding a draining or closed session.
	ErrClosed = errors.New("session: closed")
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateDraining
	StateFailed
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of session counters.
type Stats struct {
	State            State
	UnitsFed         uint64
	FramesEmitted    uint64
	Resets           uint64
	FeedsSinceOutput int // Consecutive feeds that produced no picture
	PendingUnits     int // Tagged units still waiting for a picture
}

// Session owns one native decoder and the correlator for its source.
type Session[T comparable] struct {
	id      pipeline.SourceID
	decoder ports.NativeDecoder
	corr    correlator.Correlator[T]
	logger  ports.Logger

	mu    sync.Mutex
	state State
	cause error
	stats Stats
}

// New creates a session for one source. The decoder is initialized lazily
// on the first Feed.
func New[T comparable](id pipeline.SourceID, decoder ports.NativeDecoder, corr correlator.Correlator[T], logger ports.Logger) *Session[T] {
	return &Session[T]{
		id:      id,
		decoder: decoder,
		corr:    corr,
		logger:  logger.WithComponent("session"),
	}
}

// ID returns the source this session decodes.
func (s *Session[T]) ID() pipeline.SourceID {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to StateFailed, if any.
func (s *Session[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Stats returns a snapshot of the session counters.
func (s *Session[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.State = s.state
	return st
}

// Feed submits one access unit in decode order and returns the frames that
// became ready, tagged with the timestamp and source of the unit whose decode
// released them.
//
// Units without coded slices leave no tag. A unit whose first slice does not
// start at macroblock 0 and whose timestamp equals the previous tag continues
// that picture and shares its tag; every other unit gets its own tag, even
// when timestamps repeat.
//
// Corrupt units reset the decoder and leave the session active. Resource
// exhaustion, unsupported parameter changes and correlation underflow move
// the session to StateFailed. Frames that could be attributed are returned
// even when err is non-nil.
func (s *Session[T]) Feed(unit pipeline.EncodedUnit[T]) ([]pipeline.DecodedFrame[T], error) {
	s.mu.Lock()
	state, cause := s.state, s.cause
	s.mu.Unlock()

	switch state {
	case StateFailed:
		return nil, fmt.Errorf("%w: %w", ErrFailed, cause)
	case StateDraining, StateClosed:
		return nil, ErrClosed
	case StateUninitialized:
		if err := s.decoder.Init(); err != nil {
			return nil, s.fail(fmt.Errorf("init decoder: %w: %w", ports.ErrResourceExhausted, err))
		}
		s.setState(StateActive)
		s.logger.Debug("Source %d: decoder initialized", s.id)
	}

	nalus := avc.ExtractNalusFromByteStream(unit.Data)
	if len(nalus) == 0 {
		return nil, fmt.Errorf("%w: unit of %d bytes has no Annex B start code", ports.ErrCorruptData, len(unit.Data))
	}

	if slice, idr := firstSlice(nalus); slice != nil && !s.continuesLast(unit.Timestamp, slice) {
		s.corr.Submit(correlator.Tag[T]{Timestamp: unit.Timestamp, SourceID: s.id, Keyframe: idr})
	}

	pics, decErr := s.decoder.Feed(unit.Data)

	s.mu.Lock()
	s.stats.UnitsFed++
	if len(pics) == 0 {
		s.stats.FeedsSinceOutput++
	}
	s.mu.Unlock()

	frames, corrErr := s.attach(pics)
	switch {
	case decErr == nil:
		return frames, corrErr
	case corrErr != nil:
		// Already failed on underflow; keep both causes.
		return frames, s.fail(wrapNative(decErr))
	default:
		return frames, s.decodeFailure(decErr)
	}
}

// Drain flushes the decoder, returns the remaining buffered frames and frees
// the native resources. The session ends in StateClosed.
func (s *Session[T]) Drain() ([]pipeline.DecodedFrame[T], error) {
	s.mu.Lock()
	state, cause := s.state, s.cause
	s.mu.Unlock()

	switch state {
	case StateDraining, StateClosed:
		return nil, ErrClosed
	case StateFailed:
		s.Close()
		return nil, fmt.Errorf("%w: %w", ErrFailed, cause)
	case StateUninitialized:
		s.Close()
		return nil, nil
	}

	s.setState(StateDraining)

	pics, flushErr := s.decoder.Flush()
	frames, corrErr := s.attach(pics)

	if left := s.corr.Pending(); left > 0 {
		s.logger.Debug("Source %d: %d units produced no picture", s.id, left)
	}
	s.logger.Debug("Source %d: drained %d frames", s.id, len(frames))
	s.Close()

	if flushErr != nil {
		return frames, errors.Join(corrErr, fmt.Errorf("flush decoder: %w", wrapNative(flushErr)))
	}
	return frames, corrErr
}

// Close frees the native decoder without draining it. Buffered pictures are
// discarded. Close is idempotent.
func (s *Session[T]) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.corr.Reset()
	s.decoder.Close()
}

// attach pairs emitted pictures with pending tags.
func (s *Session[T]) attach(pics []ports.Picture) ([]pipeline.DecodedFrame[T], error) {
	if len(pics) == 0 {
		return nil, nil
	}

	tags, err := s.corr.Attach(len(pics))
	frames := make([]pipeline.DecodedFrame[T], 0, len(tags))
	for i, tag := range tags {
		f := pipeline.NewDecodedFrame(pics[i], tag.Timestamp, tag.SourceID)
		f.Keyframe = tag.Keyframe
		frames = append(frames, f)
	}

	s.mu.Lock()
	s.stats.FramesEmitted += uint64(len(frames))
	s.stats.FeedsSinceOutput = 0
	s.stats.PendingUnits = s.corr.Pending()
	s.mu.Unlock()

	if err != nil {
		return frames, s.fail(fmt.Errorf("%d pictures for %d pending units: %w", len(pics), len(tags), err))
	}
	return frames, nil
}

// continuesLast reports whether a unit carries further slices of the most
// recently tagged picture: same timestamp and a first slice that does not
// start at macroblock 0. Equal timestamps alone do not merge pictures.
func (s *Session[T]) continuesLast(ts T, slice []byte) bool {
	last, ok := s.corr.Last()
	return ok && last.Timestamp == ts && !startsPicture(slice)
}

// decodeFailure maps a native error onto the taxonomy and updates the state.
func (s *Session[T]) decodeFailure(err error) error {
	wrapped := wrapNative(err)
	if classify(err) != ports.ErrCorruptData {
		return s.fail(wrapped)
	}

	s.corr.Reset()
	if rerr := s.decoder.Reset(); rerr != nil {
		return s.fail(fmt.Errorf("reset after corrupt unit: %w", errors.Join(wrapped, rerr)))
	}

	s.mu.Lock()
	s.stats.Resets++
	s.stats.PendingUnits = 0
	s.mu.Unlock()

	s.logger.Warn("Source %d: corrupt unit, decoder reset: %v", s.id, err)
	return wrapped
}

// fail moves the session to StateFailed. A second failure is joined to the
// first cause.
func (s *Session[T]) fail(err error) error {
	s.mu.Lock()
	if s.state == StateFailed && s.cause != nil {
		err = errors.Join(s.cause, err)
	}
	s.state = StateFailed
	s.cause = err
	s.mu.Unlock()

	s.logger.Warn("Source %d: session failed: %v", s.id, err)
	return err
}

func (s *Session[T]) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// classify returns the taxonomy sentinel for a native error. Errors outside
// the taxonomy are treated as corrupt data.
func classify(err error) error {
	switch {
	case errors.Is(err, ports.ErrResourceExhausted):
		return ports.ErrResourceExhausted
	case errors.Is(err, ports.ErrUnsupportedParameterChange):
		return ports.ErrUnsupportedParameterChange
	default:
		return ports.ErrCorruptData
	}
}

// wrapNative wraps err in its taxonomy sentinel unless it already carries one.
func wrapNative(err error) error {
	kind := classify(err)
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// firstSlice returns the first coded slice NAL unit, or nil when the unit
// carries no picture data (parameter sets, SEI, AUD). idr reports whether any
// slice belongs to an IDR picture.
func firstSlice(nalus [][]byte) (slice []byte, idr bool) {
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		t := avc.GetNaluType(nalu[0])
		if t < avc.NALU_NON_IDR || t > avc.NALU_IDR {
			continue
		}
		if slice == nil {
			slice = nalu
		}
		if t == avc.NALU_IDR {
			idr = true
		}
	}
	return slice, idr
}

// startsPicture reports whether a slice begins a new picture
// (first_mb_in_slice is 0). Unparsable headers count as a new picture.
func startsPicture(slice []byte) bool {
	if len(slice) < 2 {
		return true
	}
	r := bits.NewEBSPReader(bytes.NewReader(slice[1:]))
	firstMB := r.ReadExpGolomb()
	return r.AccError() != nil || firstMB == 0
}
