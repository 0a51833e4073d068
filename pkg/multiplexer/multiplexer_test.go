package multiplexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/user/avcpull/pkg/adapters/logger"
	"github.com/user/avcpull/pkg/mocks"
	"github.com/user/avcpull/pkg/pipeline"
	"github.com/user/avcpull/pkg/ports"
	"github.com/user/avcpull/pkg/queue"
	"github.com/user/avcpull/pkg/session"
)

func newTestMux(t *testing.T, cfg Config, factory *mocks.DecoderFactory) *Multiplexer[int] {
	t.Helper()
	m, err := New[int](cfg, factory.New, logger.NewNoop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.QueueCapacity = 0
	cfg.StallThreshold = 0
	return cfg
}

func push(t *testing.T, m *Multiplexer[int], id pipeline.SourceID, ts int) {
	t.Helper()
	if err := m.PushData(context.Background(), mocks.IDRUnit(byte(ts%250+1)), ts, id); err != nil {
		t.Fatalf("PushData(source %d, ts %d) failed: %v", id, ts, err)
	}
}

// pullAll drains every ready frame in global mode.
func pullAll(t *testing.T, m *Multiplexer[int]) []pipeline.DecodedFrame[int] {
	t.Helper()
	var out []pipeline.DecodedFrame[int]
	for {
		f, ok, err := m.PullFrame()
		if err != nil && !errors.Is(err, ErrClosed) {
			t.Fatalf("PullFrame failed: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

func timestamps(frames []pipeline.DecodedFrame[int]) []int {
	out := make([]int, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Timestamp)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMultiplexer_SingleSourceWithDelay(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSources = 1
	factory := &mocks.DecoderFactory{Configure: func(_ int, d *mocks.NativeDecoder) { d.Delay = 1 }}
	m := newTestMux(t, cfg, factory)

	var got []int
	for _, ts := range []int{10, 20, 30} {
		push(t, m, 0, ts)
		got = append(got, timestamps(pullAll(t, m))...)
	}
	if !equalInts(got, []int{10, 20}) {
		t.Errorf("expected [10 20] before close, got %v", got)
	}

	if err := m.Close(context.Background(), 0); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	got = append(got, timestamps(pullAll(t, m))...)

	if !equalInts(got, []int{10, 20, 30}) {
		t.Errorf("expected [10 20 30], got %v", got)
	}
}

func TestMultiplexer_PullEmptyIsIdempotent(t *testing.T) {
	m := newTestMux(t, testConfig(), &mocks.DecoderFactory{})

	for i := 0; i < 3; i++ {
		_, ok, err := m.PullFrame()
		if err != nil {
			t.Fatalf("PullFrame on empty multiplexer failed: %v", err)
		}
		if ok {
			t.Fatal("expected no frame")
		}
	}
}

func TestMultiplexer_FramesCarrySourceAndSequence(t *testing.T) {
	m := newTestMux(t, testConfig(), &mocks.DecoderFactory{})

	push(t, m, 7, 100)
	push(t, m, 2, 200)
	push(t, m, 7, 300)

	frames := pullAll(t, m)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}

	wantIDs := []pipeline.SourceID{7, 2, 7}
	for i, f := range frames {
		if f.SourceID != wantIDs[i] {
			t.Errorf("frame %d: expected source %d, got %d", i, wantIDs[i], f.SourceID)
		}
		if i > 0 && f.Seq <= frames[i-1].Seq {
			t.Errorf("frame %d: sequence %d not after %d", i, f.Seq, frames[i-1].Seq)
		}
	}
}

func TestMultiplexer_CorruptSourceIsIsolated(t *testing.T) {
	factory := &mocks.DecoderFactory{Configure: func(index int, d *mocks.NativeDecoder) {
		if index == 1 {
			d.FeedFunc = func([]byte) ([]ports.Picture, error) {
				return nil, errors.New("bitstream error")
			}
		}
	}}
	m := newTestMux(t, testConfig(), factory)

	push(t, m, 0, 1)

	err := m.PushData(context.Background(), mocks.IDRUnit(9), 2, 1)
	if !errors.Is(err, ports.ErrCorruptData) {
		t.Fatalf("expected corrupt data for source 1, got %v", err)
	}

	push(t, m, 0, 3)

	got := timestamps(pullAll(t, m))
	if !equalInts(got, []int{1, 3}) {
		t.Errorf("expected source 0 frames [1 3], got %v", got)
	}

	// Corrupt data is recoverable: the session stays usable.
	st := m.Stats()
	if len(st.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(st.Sources))
	}
	if st.Sources[1].State != session.StateActive || st.Sources[1].Resets != 1 {
		t.Errorf("expected source 1 active after one reset, got %s with %d resets", st.Sources[1].State, st.Sources[1].Resets)
	}
	if st.Sources[0].State != session.StateActive {
		t.Errorf("source 0 should be unaffected, got %s", st.Sources[0].State)
	}
}

func TestMultiplexer_MissingStartCode(t *testing.T) {
	factory := &mocks.DecoderFactory{}
	m := newTestMux(t, testConfig(), factory)

	err := m.PushData(context.Background(), []byte{0x65, 0x88, 0x84}, 1, 0)
	if !errors.Is(err, ports.ErrCorruptData) {
		t.Fatalf("expected corrupt data, got %v", err)
	}
	if _, feeds, _, _, _ := factory.Created()[0].Calls(); feeds != 0 {
		t.Errorf("decoder should not be engaged, got %d feeds", feeds)
	}
}

func TestMultiplexer_TooManySources(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSources = 1
	factory := &mocks.DecoderFactory{}
	m := newTestMux(t, cfg, factory)

	push(t, m, 0, 1)

	err := m.PushData(context.Background(), mocks.IDRUnit(1), 2, 1)
	if !errors.Is(err, ErrTooManySources) {
		t.Fatalf("expected too many sources, got %v", err)
	}
	if n := len(factory.Created()); n != 1 {
		t.Errorf("expected no decoder for the rejected source, got %d decoders", n)
	}

	if err := m.Close(context.Background(), 0); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	push(t, m, 1, 2)
}

func TestMultiplexer_CancelledPushDoesNotHoldASession(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSources = 1
	m := newTestMux(t, cfg, &mocks.DecoderFactory{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 32; i++ {
		id := pipeline.SourceID(100 + i)
		err := m.PushData(ctx, mocks.IDRUnit(1), i, id)
		switch {
		case err == nil:
			if err := m.Close(context.Background(), id); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
		case !errors.Is(err, context.Canceled):
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if ids := m.Sources(); len(ids) != 0 {
			t.Fatalf("cancelled push left sessions %v registered", ids)
		}
	}

	push(t, m, 1, 1)
}

func TestMultiplexer_EqualTimestamps(t *testing.T) {
	tests := []struct {
		name  string
		delay int
		ts    []int
	}{
		{"no delay", 0, []int{10, 10, 20}},
		{"one unit delay", 1, []int{10, 20, 20, 30}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := &mocks.DecoderFactory{Configure: func(_ int, d *mocks.NativeDecoder) { d.Delay = tt.delay }}
			m := newTestMux(t, testConfig(), factory)
			ctx := context.Background()

			for _, ts := range tt.ts {
				if err := m.PushData(ctx, mocks.IDRSliceUnit(0), ts, 0); err != nil {
					t.Fatalf("PushData(%d) failed: %v", ts, err)
				}
			}
			if err := m.Close(ctx, 0); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			if got := timestamps(pullAll(t, m)); !equalInts(got, tt.ts) {
				t.Errorf("expected %v, got %v", tt.ts, got)
			}
		})
	}
}

func TestMultiplexer_LRUEviction(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSources = 2
	cfg.Eviction = EvictLRU
	factory := &mocks.DecoderFactory{Configure: func(_ int, d *mocks.NativeDecoder) { d.Delay = 1 }}
	m := newTestMux(t, cfg, factory)

	push(t, m, 0, 1)
	push(t, m, 1, 2)
	push(t, m, 0, 3) // source 1 is now least recently used
	push(t, m, 2, 4)

	ids := m.Sources()
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 2 {
		t.Fatalf("expected sources [0 2], got %v", ids)
	}

	evicted := factory.Created()[1]
	_, _, flushes, _, closes := evicted.Calls()
	if flushes != 1 || closes != 1 {
		t.Errorf("evicted decoder should be drained and closed, got flush=%d close=%d", flushes, closes)
	}

	// Frame 2 was buffered in the evicted decoder and must not be lost.
	got := timestamps(pullAll(t, m))
	if !equalInts(got, []int{1, 2}) {
		t.Errorf("expected [1 2], got %v", got)
	}
}

func TestMultiplexer_RejectBackpressure(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCapacity = 1
	cfg.Backpressure = queue.PolicyReject
	factory := &mocks.DecoderFactory{}
	m := newTestMux(t, cfg, factory)

	push(t, m, 0, 1)

	err := m.PushData(context.Background(), mocks.IDRUnit(2), 2, 0)
	if !errors.Is(err, queue.ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}
	if _, feeds, _, _, _ := factory.Created()[0].Calls(); feeds != 1 {
		t.Errorf("rejected unit must not reach the decoder, got %d feeds", feeds)
	}

	pullAll(t, m)
	push(t, m, 0, 2)
}

func TestMultiplexer_BlockBackpressureHonorsContext(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCapacity = 1
	cfg.Backpressure = queue.PolicyBlock
	factory := &mocks.DecoderFactory{}
	m := newTestMux(t, cfg, factory)

	push(t, m, 0, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.PushData(ctx, mocks.IDRUnit(2), 2, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if _, feeds, _, _, _ := factory.Created()[0].Calls(); feeds != 1 {
		t.Errorf("blocked unit must not reach the decoder, got %d feeds", feeds)
	}
}

func TestMultiplexer_BlockBackpressureResumesAfterPull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCapacity = 1
	cfg.Backpressure = queue.PolicyBlock
	m := newTestMux(t, cfg, &mocks.DecoderFactory{})

	push(t, m, 0, 1)

	done := make(chan error, 1)
	go func() {
		done <- m.PushData(context.Background(), mocks.IDRUnit(2), 2, 0)
	}()

	select {
	case err := <-done:
		t.Fatalf("push should block on a full queue, returned %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	if f, ok, _ := m.PullFrame(); !ok || f.Timestamp != 1 {
		t.Fatalf("expected frame 1, got %v (ok=%v)", f.Timestamp, ok)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked push failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("push did not resume after pull")
	}
}

func TestMultiplexer_DropOldestBackpressure(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCapacity = 2
	cfg.Backpressure = queue.PolicyDropOldest
	m := newTestMux(t, cfg, &mocks.DecoderFactory{})

	for _, ts := range []int{1, 2, 3} {
		push(t, m, 0, ts)
	}

	got := timestamps(pullAll(t, m))
	if !equalInts(got, []int{2, 3}) {
		t.Errorf("expected [2 3], got %v", got)
	}
	if d := m.Stats().Dropped; d != 1 {
		t.Errorf("expected 1 dropped frame, got %d", d)
	}
}

func TestMultiplexer_FatalErrorFailsSession(t *testing.T) {
	factory := &mocks.DecoderFactory{Configure: func(index int, d *mocks.NativeDecoder) {
		if index == 0 {
			d.FeedFunc = func([]byte) ([]ports.Picture, error) {
				return nil, fmt.Errorf("out of surfaces: %w", ports.ErrResourceExhausted)
			}
		}
	}}
	m := newTestMux(t, testConfig(), factory)
	ctx := context.Background()

	err := m.PushData(ctx, mocks.IDRUnit(1), 1, 0)
	if !errors.Is(err, ports.ErrResourceExhausted) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}

	err = m.PushData(ctx, mocks.IDRUnit(2), 2, 0)
	if !errors.Is(err, session.ErrFailed) || !errors.Is(err, ports.ErrResourceExhausted) {
		t.Fatalf("expected failed session wrapping the cause, got %v", err)
	}
	if _, feeds, _, _, _ := factory.Created()[0].Calls(); feeds != 1 {
		t.Errorf("failed session must not engage the decoder, got %d feeds", feeds)
	}

	if err := m.Evict(ctx, 0); err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	push(t, m, 0, 3)

	if n := len(factory.Created()); n != 2 {
		t.Errorf("expected a fresh decoder after eviction, got %d decoders", n)
	}
	got := timestamps(pullAll(t, m))
	if !equalInts(got, []int{3}) {
		t.Errorf("expected [3], got %v", got)
	}
}

func TestMultiplexer_FactoryError(t *testing.T) {
	factory := &mocks.DecoderFactory{Err: errors.New("no decoder available")}
	m := newTestMux(t, testConfig(), factory)

	err := m.PushData(context.Background(), mocks.IDRUnit(1), 1, 0)
	if !errors.Is(err, ports.ErrResourceExhausted) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
	if len(m.Sources()) != 0 {
		t.Error("no session should be registered")
	}
}

func TestMultiplexer_ParallelSourcesKeepOrder(t *testing.T) {
	const sources, units = 4, 50

	factory := &mocks.DecoderFactory{Configure: func(index int, d *mocks.NativeDecoder) {
		d.Delay = index % 3
		d.FeedLatency = 100 * time.Microsecond
	}}
	m := newTestMux(t, testConfig(), factory)

	var wg sync.WaitGroup
	errs := make(chan error, sources)
	for s := 0; s < sources; s++ {
		wg.Add(1)
		go func(id pipeline.SourceID) {
			defer wg.Done()
			for i := 0; i < units; i++ {
				if err := m.PushData(context.Background(), mocks.IDRUnit(byte(i%250+1)), i, id); err != nil {
					errs <- err
					return
				}
			}
		}(pipeline.SourceID(s))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("PushData failed: %v", err)
	}

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	perSource := make(map[pipeline.SourceID][]int)
	for _, f := range pullAll(t, m) {
		perSource[f.SourceID] = append(perSource[f.SourceID], f.Timestamp)
	}

	for s := 0; s < sources; s++ {
		got := perSource[pipeline.SourceID(s)]
		if len(got) != units {
			t.Errorf("source %d: expected %d frames, got %d", s, units, len(got))
			continue
		}
		for i, ts := range got {
			if ts != i {
				t.Errorf("source %d: frame %d has timestamp %d", s, i, ts)
				break
			}
		}
	}
}

func TestMultiplexer_SameSourceFeedsNeverOverlap(t *testing.T) {
	factory := &mocks.DecoderFactory{Configure: func(_ int, d *mocks.NativeDecoder) {
		d.FeedLatency = 200 * time.Microsecond
	}}
	m := newTestMux(t, testConfig(), factory)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				ts := g*100 + i
				if err := m.PushData(context.Background(), mocks.IDRUnit(byte(i+1)), ts, 5); err != nil {
					t.Errorf("PushData failed: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	created := factory.Created()
	if len(created) != 1 {
		t.Fatalf("expected one decoder for one source, got %d", len(created))
	}
	if n := created[0].Overlaps(); n != 0 {
		t.Errorf("expected no overlapping feeds, got %d", n)
	}
	if n := len(pullAll(t, m)); n != 160 {
		t.Errorf("expected 160 frames, got %d", n)
	}
}

func TestMultiplexer_ShutdownEndsStream(t *testing.T) {
	factory := &mocks.DecoderFactory{Configure: func(_ int, d *mocks.NativeDecoder) { d.Delay = 2 }}
	m := newTestMux(t, testConfig(), factory)
	ctx := context.Background()

	for _, ts := range []int{1, 2, 3} {
		push(t, m, 0, ts)
	}
	push(t, m, 1, 4)

	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown should be a no-op, got %v", err)
	}

	err := m.PushData(ctx, mocks.IDRUnit(1), 5, 0)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected closed after shutdown, got %v", err)
	}

	var got []int
	for {
		f, err := m.NextFrame(ctx)
		if errors.Is(err, ErrClosed) {
			break
		}
		if err != nil {
			t.Fatalf("NextFrame failed: %v", err)
		}
		got = append(got, f.Timestamp)
	}
	if len(got) != 4 {
		t.Errorf("expected all 4 frames flushed, got %v", got)
	}

	if _, ok, err := m.PullFrame(); ok || !errors.Is(err, ErrClosed) {
		t.Errorf("expected end of stream, got ok=%v err=%v", ok, err)
	}
	if !m.Stats().Closed {
		t.Error("stats should report closed")
	}
}

func TestMultiplexer_NextFrameWaitsForPush(t *testing.T) {
	m := newTestMux(t, testConfig(), &mocks.DecoderFactory{})

	got := make(chan int, 1)
	go func() {
		f, err := m.NextFrame(context.Background())
		if err != nil {
			t.Errorf("NextFrame failed: %v", err)
			return
		}
		got <- f.Timestamp
	}()

	time.Sleep(10 * time.Millisecond)
	push(t, m, 0, 42)

	select {
	case ts := <-got:
		if ts != 42 {
			t.Errorf("expected 42, got %d", ts)
		}
	case <-time.After(time.Second):
		t.Fatal("NextFrame did not wake up")
	}
}

func TestMultiplexer_PerSourcePull(t *testing.T) {
	cfg := testConfig()
	cfg.PullMode = PullPerSource
	m := newTestMux(t, cfg, &mocks.DecoderFactory{})

	push(t, m, 0, 1)
	push(t, m, 1, 2)

	if _, _, err := m.PullFrame(); !errors.Is(err, ErrPullMode) {
		t.Errorf("expected pull mode mismatch, got %v", err)
	}

	f, ok, err := m.PullFrameFrom(1)
	if err != nil || !ok || f.Timestamp != 2 {
		t.Fatalf("expected frame 2 from source 1, got %v ok=%v err=%v", f.Timestamp, ok, err)
	}
	if _, ok, _ := m.PullFrameFrom(1); ok {
		t.Error("source 1 should be empty")
	}
	if f, ok, _ := m.PullFrameFrom(0); !ok || f.Timestamp != 1 {
		t.Errorf("expected frame 1 from source 0, got %v ok=%v", f.Timestamp, ok)
	}
}

func TestMultiplexer_GlobalModeRejectsPerSourcePull(t *testing.T) {
	m := newTestMux(t, testConfig(), &mocks.DecoderFactory{})

	if _, _, err := m.PullFrameFrom(0); !errors.Is(err, ErrPullMode) {
		t.Errorf("expected pull mode mismatch, got %v", err)
	}
	if _, err := m.NextFrameFrom(context.Background(), 0); !errors.Is(err, ErrPullMode) {
		t.Errorf("expected pull mode mismatch, got %v", err)
	}
}

func TestMultiplexer_CloseUnknownSource(t *testing.T) {
	m := newTestMux(t, testConfig(), &mocks.DecoderFactory{})

	if err := m.Close(context.Background(), 9); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected unknown source, got %v", err)
	}
	if err := m.Evict(context.Background(), 9); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected unknown source, got %v", err)
	}
}

func TestMultiplexer_StallDetection(t *testing.T) {
	var stalls []int
	cfg := testConfig()
	cfg.StallThreshold = 2
	cfg.OnStall = func(id pipeline.SourceID, feeds int) {
		stalls = append(stalls, feeds)
	}
	factory := &mocks.DecoderFactory{Configure: func(_ int, d *mocks.NativeDecoder) { d.Delay = 3 }}
	m := newTestMux(t, cfg, factory)

	push(t, m, 0, 1)
	if m.Stats().Sources[0].Stalled {
		t.Error("source should not be stalled after one push")
	}
	push(t, m, 0, 2)
	push(t, m, 0, 3)

	if len(stalls) != 1 || stalls[0] != 2 {
		t.Errorf("expected one stall report at 2 feeds, got %v", stalls)
	}
	if !m.Stats().Sources[0].Stalled {
		t.Error("source should be stalled")
	}

	push(t, m, 0, 4) // first picture emerges
	if m.Stats().Sources[0].Stalled {
		t.Error("stall should clear once output resumes")
	}
}

func TestMultiplexer_OrderedTimestamps(t *testing.T) {
	factory := &mocks.DecoderFactory{Configure: func(_ int, d *mocks.NativeDecoder) { d.Delay = 2 }}
	m, err := NewOrdered[int](testConfig(), factory.New, logger.NewNoop(), func(a, b int) bool { return a < b })
	if err != nil {
		t.Fatalf("NewOrdered failed: %v", err)
	}

	// Decode order I P B B with presentation timestamps.
	for _, pts := range []int{0, 3, 1, 2} {
		push(t, m, 0, pts)
	}
	if err := m.Close(context.Background(), 0); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got := timestamps(pullAll(t, m))
	if !equalInts(got, []int{0, 1, 2, 3}) {
		t.Errorf("expected presentation order [0 1 2 3], got %v", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero sources", func(c *Config) { c.MaxSources = 0 }, true},
		{"negative capacity", func(c *Config) { c.QueueCapacity = -1 }, true},
		{"unbounded queue", func(c *Config) { c.QueueCapacity = 0 }, false},
		{"negative stall threshold", func(c *Config) { c.StallThreshold = -1 }, true},
		{"bad policy", func(c *Config) { c.Backpressure = queue.Policy(9) }, true},
		{"bad pull mode", func(c *Config) { c.PullMode = PullMode(9) }, true},
		{"bad eviction", func(c *Config) { c.Eviction = EvictionPolicy(9) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_RejectsInvalidArguments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSources = 0
	if _, err := New[int](cfg, (&mocks.DecoderFactory{}).New, logger.NewNoop()); err == nil {
		t.Error("expected error for invalid config")
	}
	if _, err := New[int](DefaultConfig(), nil, logger.NewNoop()); err == nil {
		t.Error("expected error for nil factory")
	}
	if _, err := NewOrdered[int](DefaultConfig(), (&mocks.DecoderFactory{}).New, logger.NewNoop(), nil); err == nil {
		t.Error("expected error for nil comparison")
	}
}

func TestParsePullModeAndEviction(t *testing.T) {
	if m, err := ParsePullMode("per-source"); err != nil || m != PullPerSource {
		t.Errorf("ParsePullMode(per-source) = %v, %v", m, err)
	}
	if _, err := ParsePullMode("sideways"); err == nil {
		t.Error("expected error for unknown pull mode")
	}
	if p, err := ParseEvictionPolicy("lru"); err != nil || p != EvictLRU {
		t.Errorf("ParseEvictionPolicy(lru) = %v, %v", p, err)
	}
	if p, err := ParseEvictionPolicy(""); err != nil || p != EvictNone {
		t.Errorf("ParseEvictionPolicy(\"\") = %v, %v", p, err)
	}
	if _, err := ParseEvictionPolicy("fifo"); err == nil {
		t.Error("expected error for unknown eviction policy")
	}
}
