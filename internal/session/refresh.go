package session

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/vk/scopegrid/internal/ctxlog"
	"github.com/vk/scopegrid/internal/executor"
	"github.com/vk/scopegrid/internal/graph"
	"github.com/vk/scopegrid/internal/trigger"
	"github.com/vk/scopegrid/internal/waveform"
)

// MarkDirty queues a node for the next partial refresh. Safe from any
// goroutine, e.g. an auxiliary instrument's own polling loop.
func (s *Session) MarkDirty(h graph.Handle) {
	s.dirty.Mark(h)
}

// RefreshAll recomputes every node under the waveform-data lock. Nodes
// marked dirty before the pass starts are covered by it and unmarked; marks
// made during the pass are kept for the next partial refresh.
func (s *Session) RefreshAll(ctx context.Context) executor.Report {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	s.dirty.Take()
	return s.exec.RefreshAll(ctx)
}

// RefreshDirty recomputes the dirty nodes and everything downstream of them.
// It reports false, without touching the waveform-data lock, when there is
// nothing to do.
func (s *Session) RefreshDirty(ctx context.Context) bool {
	marked := s.dirty.Take()
	if marked.Cardinality() == 0 {
		return false
	}
	closure := s.graph.Downstream(marked.ToSlice())
	if closure.Cardinality() == 0 {
		return false
	}

	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	r := s.exec.RefreshSubset(ctx, closure)
	ctxlog.FromContext(ctx).Debug("Partial refresh done.", "marked", marked.Cardinality(), "nodes", r.Nodes)
	return true
}

// DirtyCount returns the number of nodes waiting for a partial refresh.
func (s *Session) DirtyCount() int {
	return s.dirty.Len()
}

// frame collects what a renderer needs. Callers hold dataMu at least shared.
func (s *Session) frame() Frame {
	nodes := s.graph.Nodes()
	f := Frame{Nodes: make([]NodeFrame, 0, len(nodes))}
	for _, n := range nodes {
		snap, ok := s.graph.Snapshot(n.Handle())
		if !ok {
			continue
		}
		nf := NodeFrame{Snapshot: snap, Data: make([]*waveform.Waveform, len(n.Outputs()))}
		for i, o := range n.Outputs() {
			nf.Data[i] = o.Data()
		}
		f.Nodes = append(f.Nodes, nf)
	}
	return f
}

// Render redraws the current graph state with no new acquisition, e.g. after
// a refilter or a resize.
func (s *Session) Render(ctx context.Context) error {
	if s.renderer == nil {
		return nil
	}
	s.dataMu.RLock()
	f := s.frame()
	s.dataMu.RUnlock()
	if rec, ok := s.history.Latest(); ok {
		f.Acquisition = &rec
	}
	return s.renderer.RenderAll(ctx, f)
}

// GarbageCollectTriggerGroups removes at most one empty trigger group.
func (s *Session) GarbageCollectTriggerGroups(ctx context.Context) bool {
	s.instMu.Lock()
	defer s.instMu.Unlock()
	_, removed := s.triggers.GarbageCollect(ctx)
	if removed && s.observer != nil {
		s.observer.GroupCollected()
	}
	return removed
}

// State is the part of a session an external serializer persists.
type State struct {
	ID      string
	Armed   bool
	Groups  []trigger.Membership
	Nodes   []graph.Snapshot
	History []waveform.Timestamp
	Taken   time.Time
}

// Snapshot captures the session for persistence.
func (s *Session) Snapshot() State {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return State{
		ID:      s.id.String(),
		Armed:   s.armed.Load(),
		Groups:  s.triggers.Memberships(),
		Nodes:   s.graph.SnapshotAll(),
		History: s.history.Timestamps(),
		Taken:   time.Now(),
	}
}

// NodeErrors returns the nodes whose last compute step failed, in creation
// order.
func (s *Session) NodeErrors() []graph.Snapshot {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return slices.DeleteFunc(s.graph.SnapshotAll(), func(n graph.Snapshot) bool { return n.Err == nil })
}

// Close stops every trigger group, tears the graph down and closes the
// history archive. It returns the names of nodes that could not be freed.
func (s *Session) Close(ctx context.Context) ([]string, error) {
	logger := ctxlog.FromContext(ctx)
	stopErr := s.Stop(ctx, true)

	s.dataMu.Lock()
	s.instMu.Lock()
	leaked := s.graph.Clear(ctx)
	s.instruments = make(map[string]*instEntry)
	s.instOrder = nil
	s.instMu.Unlock()
	s.dataMu.Unlock()

	histErr := s.history.Close()
	if len(leaked) > 0 {
		logger.Error("Session closed with leaked graph nodes.", "count", len(leaked), "nodes", leaked)
	}
	logger.Info("Session closed.", "session", s.id)
	return leaked, errors.Join(stopErr, histErr)
}
