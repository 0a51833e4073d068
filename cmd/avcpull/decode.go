package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/avcpull/pkg/adapters/mp4source"
	"github.com/user/avcpull/pkg/config"
	"github.com/user/avcpull/pkg/multiplexer"
	"github.com/user/avcpull/pkg/pipeline"
	"github.com/user/avcpull/pkg/ports"
	"github.com/user/avcpull/pkg/queue"
	"github.com/user/avcpull/pkg/session"
	"github.com/user/avcpull/pkg/summarizer"
)

// rejectBackoff is the wait before a producer retries a unit the full queue refused.
const rejectBackoff = 10 * time.Millisecond

// source is one input track decoded under its own SourceID.
type source struct {
	id    pipeline.SourceID
	path  string
	track *mp4source.Track
}

// tally is the outcome of one source.
type tally struct {
	frames  int
	skipped int   // Units rejected as corrupt
	err     error // Why the source was given up
}

// result summarizes a decode run.
type result struct {
	frames  int
	failed  int
	dropped uint64
	sources map[pipeline.SourceID]tally
}

// runner pushes every source through the multiplexer while a consumer pulls
// frames into the sink.
type runner struct {
	mux             *multiplexer.Multiplexer[time.Duration]
	sink            ports.FrameSink
	log             ports.Logger
	presentation    bool // Push PTS instead of DTS
	perSource       bool // One consumer per source instead of one global consumer
	maxSources      int
	shutdownTimeout time.Duration

	mu      sync.Mutex
	tallies map[pipeline.SourceID]*tally
}

func newRunner(cfg config.Config, mux *multiplexer.Multiplexer[time.Duration], sink ports.FrameSink, log ports.Logger) *runner {
	return &runner{
		mux:             mux,
		sink:            sink,
		log:             log,
		presentation:    cfg.LowestFirst(),
		perSource:       cfg.PullMode == multiplexer.PullPerSource.String(),
		maxSources:      cfg.MaxSources,
		shutdownTimeout: shutdownTimeout,
	}
}

// run decodes all sources and returns once every frame was pulled.
func (r *runner) run(ctx context.Context, sources []source) (result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.tallies = make(map[pipeline.SourceID]*tally, len(sources))
	for _, src := range sources {
		r.tallies[src.id] = &tally{}
	}

	consumed := make(chan error, 1)
	go func() {
		err := r.consume(ctx, sources)
		if err != nil {
			cancel()
		}
		consumed <- err
	}()

	pushErr := r.produce(ctx, sources)

	// Shutdown must still drain sessions after an interrupt.
	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), r.shutdownTimeout)
	defer stop()
	shutdownErr := r.mux.Shutdown(shutdownCtx)

	consumeErr := <-consumed

	res := r.result()
	for _, id := range sortedIDs(res.sources) {
		r.log.Info("Source %d: %d frames", id, res.sources[id].frames)
	}

	if consumeErr != nil {
		return res, fmt.Errorf("pull frames: %w", consumeErr)
	}
	if err := errors.Join(pushErr, shutdownErr); err != nil {
		return res, err
	}
	return res, nil
}

// produce pushes sources concurrently, at most maxSources at a time so that
// each one finds a free session.
func (r *runner) produce(ctx context.Context, sources []source) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxSources)
	for _, src := range sources {
		g.Go(func() error {
			return r.push(ctx, src)
		})
	}
	return g.Wait()
}

// push feeds one source in decode order and closes it. A source whose
// session fails is evicted and counted; the other sources keep going.
func (r *runner) push(ctx context.Context, src source) error {
	r.log.Info("Source %d: %s (%dx%d, %d units)", src.id, src.path, src.track.Width, src.track.Height, len(src.track.Units))

	for i, u := range src.track.Units {
		ts := u.DTS
		if r.presentation {
			ts = u.PTS
		}

		err := r.pushUnit(ctx, u.Data, ts, src.id)
		switch {
		case err == nil:
		case errors.Is(err, ports.ErrCorruptData):
			r.log.Debug("Source %d: unit %d skipped", src.id, i)
			r.update(src.id, func(t *tally) { t.skipped++ })
		case errors.Is(err, session.ErrFailed),
			errors.Is(err, ports.ErrResourceExhausted),
			errors.Is(err, ports.ErrUnsupportedParameterChange):
			r.log.Error("Source %d: giving up at unit %d: %v", src.id, i, err)
			r.update(src.id, func(t *tally) { t.err = err })
			if err := r.mux.Evict(ctx, src.id); err != nil && !errors.Is(err, multiplexer.ErrUnknownSource) {
				return err
			}
			return nil
		default:
			return err
		}
	}

	err := r.mux.Close(ctx, src.id)
	switch {
	case err == nil, errors.Is(err, multiplexer.ErrUnknownSource):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		r.log.Error("Source %d: close failed: %v", src.id, err)
		r.update(src.id, func(t *tally) { t.err = err })
		return nil
	}
}

// pushUnit retries units refused by a full queue under the reject policy.
func (r *runner) pushUnit(ctx context.Context, data []byte, ts time.Duration, id pipeline.SourceID) error {
	for {
		err := r.mux.PushData(ctx, data, ts, id)
		if !errors.Is(err, queue.ErrQueueFull) {
			return err
		}
		select {
		case <-time.After(rejectBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// consume pulls frames until end of stream.
func (r *runner) consume(ctx context.Context, sources []source) error {
	if !r.perSource {
		return r.drain(ctx, r.mux.NextFrame)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			return r.drain(ctx, func(ctx context.Context) (pipeline.DecodedFrame[time.Duration], error) {
				return r.mux.NextFrameFrom(ctx, src.id)
			})
		})
	}
	return g.Wait()
}

func (r *runner) drain(ctx context.Context, next func(context.Context) (pipeline.DecodedFrame[time.Duration], error)) error {
	for {
		f, err := next(ctx)
		if errors.Is(err, multiplexer.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := r.save(f); err != nil {
			return err
		}
	}
}

// save counts a frame and hands it to the sink.
func (r *runner) save(f pipeline.DecodedFrame[time.Duration]) error {
	var index int
	r.update(f.SourceID, func(t *tally) {
		index = t.frames
		t.frames++
	})

	if !r.sink.Enabled() {
		return nil
	}

	img, err := f.Image()
	if err != nil {
		return fmt.Errorf("source %d frame %d: %w", f.SourceID, index, err)
	}
	if err := r.sink.SaveFrame(uint32(f.SourceID), index, formatTimestamp(f.Timestamp), img); err != nil {
		return fmt.Errorf("save source %d frame %d: %w", f.SourceID, index, err)
	}
	return nil
}

func (r *runner) update(id pipeline.SourceID, fn func(t *tally)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tallies[id]
	if !ok {
		t = &tally{}
		r.tallies[id] = t
	}
	fn(t)
}

func (r *runner) result() result {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := result{
		dropped: r.mux.Stats().Dropped,
		sources: make(map[pipeline.SourceID]tally, len(r.tallies)),
	}
	for id, t := range r.tallies {
		res.sources[id] = *t
		res.frames += t.frames
		if t.err != nil {
			res.failed++
		}
	}
	return res
}

// buildSummary collects the run report.
func buildSummary(cfg config.Config, sources []source, res result, elapsed time.Duration) *summarizer.Summary {
	b := summarizer.NewBuilder().
		WithSettings(summarizer.Settings{
			MaxSources:     cfg.MaxSources,
			QueueCapacity:  cfg.QueueCapacity,
			Backpressure:   cfg.Backpressure,
			PullMode:       cfg.PullMode,
			Eviction:       cfg.Eviction,
			TimestampOrder: cfg.TimestampOrder,
			DecoderThreads: cfg.Decoder.Threads,
		}).
		WithElapsed(elapsed).
		WithDropped(res.dropped)

	for _, src := range sources {
		t := res.sources[src.id]
		info := summarizer.SourceInfo{
			ID:      uint32(src.id),
			Path:    src.path,
			Width:   src.track.Width,
			Height:  src.track.Height,
			Units:   len(src.track.Units),
			Frames:  t.frames,
			Skipped: t.skipped,
		}
		for _, u := range src.track.Units {
			info.Bytes += int64(len(u.Data))
		}
		if t.err != nil {
			info.Error = t.err.Error()
		}
		b.AddSource(info)
	}
	return b.Build()
}

func formatTimestamp(ts time.Duration) string {
	return fmt.Sprintf("%dms", ts.Milliseconds())
}

func sortedIDs(m map[pipeline.SourceID]tally) []pipeline.SourceID {
	ids := make([]pipeline.SourceID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
