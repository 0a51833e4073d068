package multiplexer

import (
	"sort"

	"github.com/user/avcpull/pkg/pipeline"
	"github.com/user/avcpull/pkg/session"
)

// SourceStats describes one registered source.
type SourceStats struct {
	SourceID pipeline.SourceID
	session.Stats
	Stalled bool
	Queued  int // Frames of this source waiting to be pulled
}

// Stats is a snapshot of the multiplexer.
type Stats struct {
	Sources []SourceStats // Sorted by SourceID
	Queued  int
	Dropped uint64 // Frames discarded by the drop-oldest policy
	Closed  bool
}

// Stats returns a snapshot of every registered source and the queue.
func (m *Multiplexer[T]) Stats() Stats {
	m.mu.Lock()
	entries := make([]*entry[T], 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	closed := m.closed
	m.mu.Unlock()

	st := Stats{
		Sources: make([]SourceStats, 0, len(entries)),
		Queued:  m.queue.Len(),
		Dropped: m.queue.Dropped(),
		Closed:  closed,
	}
	for _, e := range entries {
		st.Sources = append(st.Sources, SourceStats{
			SourceID: e.id,
			Stats:    e.session.Stats(),
			Stalled:  e.stalled.Load(),
			Queued:   m.queue.LenSource(e.id),
		})
	}
	sort.Slice(st.Sources, func(i, j int) bool {
		return st.Sources[i].SourceID < st.Sources[j].SourceID
	})
	return st
}

// Sources returns the IDs of all registered sources in ascending order.
func (m *Multiplexer[T]) Sources() []pipeline.SourceID {
	m.mu.Lock()
	ids := make([]pipeline.SourceID, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
