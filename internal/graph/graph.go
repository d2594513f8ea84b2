package graph

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/vk/scopegrid/internal/ctxlog"
	"github.com/vk/scopegrid/internal/waveform"
)

// slot is one arena cell. gen is bumped every time the cell is freed.
type slot struct {
	node *Node
	gen  uint32
}

// Graph is the arena of nodes plus their bindings.
type Graph struct {
	// mu protects the arena, names and every node's bindings and pins.
	mu      sync.RWMutex
	slots   []slot
	free    []uint32
	nextSeq uint64
	byName  map[string]Handle
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{byName: make(map[string]Handle)}
}

// ChannelName is the node name given to channel ch of an instrument.
func ChannelName(instrument string, ch int) string {
	return fmt.Sprintf("%s.ch%d", instrument, ch)
}

// AddChannel creates a channel node for an instrument channel with the given
// output streams. A channel with no stream names gets a single "data" stream.
func (g *Graph) AddChannel(instrument string, ch int, streams ...string) (Handle, error) {
	if len(streams) == 0 {
		streams = []string{"data"}
	}
	n := &Node{
		name:       ChannelName(instrument, ch),
		kind:       KindChannel,
		instrument: instrument,
		channel:    ch,
		outputs:    newStreams(streams),
	}
	return g.insert(n)
}

// AddFilter creates a filter node. All of its inputs start unbound.
func (g *Graph) AddFilter(name string, f Computer) (Handle, error) {
	if f == nil {
		return Handle{}, fmt.Errorf("filter %q: nil computer", name)
	}
	n := &Node{
		name:    name,
		kind:    KindFilter,
		filter:  f,
		inputs:  make([]Binding, len(f.InputNames())),
		outputs: newStreams(f.OutputNames()),
	}
	return g.insert(n)
}

func newStreams(names []string) []*waveform.Stream {
	out := make([]*waveform.Stream, len(names))
	for i, name := range names {
		out[i] = waveform.NewStream(name)
	}
	return out
}

func (g *Graph) insert(n *Node) (Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.byName[n.name]; exists {
		return Handle{}, fmt.Errorf("%w: %s", ErrDuplicateName, n.name)
	}

	var idx uint32
	if l := len(g.free); l > 0 {
		idx = g.free[l-1]
		g.free = g.free[:l-1]
	} else {
		g.slots = append(g.slots, slot{})
		idx = uint32(len(g.slots) - 1)
	}
	s := &g.slots[idx]
	s.gen++
	s.node = n

	g.nextSeq++
	n.seq = g.nextSeq
	n.handle = Handle{index: idx, gen: s.gen}
	n.consumers = make(map[Handle]int)
	g.byName[n.name] = n.handle
	return n.handle, nil
}

// lookup returns the live node for h. Callers must hold g.mu.
func (g *Graph) lookup(h Handle) *Node {
	if h.IsZero() || int(h.index) >= len(g.slots) {
		return nil
	}
	s := g.slots[h.index]
	if s.gen != h.gen || s.node == nil || s.node.removed {
		return nil
	}
	return s.node
}

// Node returns the node for h if it is still live.
func (g *Graph) Node(h Handle) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := g.lookup(h)
	return n, n != nil
}

// Lookup finds a live node by name.
func (g *Graph) Lookup(name string) (Handle, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.byName[name]
	return h, ok
}

// Len returns the number of live nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byName)
}

// Nodes returns all live nodes in creation order.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.liveNodes()
}

func (g *Graph) liveNodes() []*Node {
	out := make([]*Node, 0, len(g.byName))
	for _, s := range g.slots {
		if s.node != nil && !s.node.removed {
			out = append(out, s.node)
		}
	}
	slices.SortFunc(out, bySeq)
	return out
}

func bySeq(a, b *Node) int {
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	}
	return 0
}

// Handles returns the handles of all live nodes in creation order.
func (g *Graph) Handles() []Handle {
	nodes := g.Nodes()
	out := make([]Handle, len(nodes))
	for i, n := range nodes {
		out[i] = n.handle
	}
	return out
}

// Consumers returns the live nodes that bind at least one input to h, in
// creation order.
func (g *Graph) Consumers(h Handle) ([]Handle, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := g.lookup(h)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	nodes := g.consumerNodes(n)
	out := make([]Handle, len(nodes))
	for i, c := range nodes {
		out[i] = c.handle
	}
	return out, nil
}

func (g *Graph) consumerNodes(n *Node) []*Node {
	out := make([]*Node, 0, len(n.consumers))
	for h := range n.consumers {
		if c := g.lookup(h); c != nil {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, bySeq)
	return out
}

// Snapshot copies the visible state of a node. Stream metadata is read
// without locking, so callers hold the waveform-data lock at least shared.
func (g *Graph) Snapshot(h Handle) (Snapshot, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := g.lookup(h)
	if n == nil {
		return Snapshot{}, false
	}
	return snapshotOf(n), true
}

// SnapshotAll copies the state of every live node in creation order.
func (g *Graph) SnapshotAll() []Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := g.liveNodes()
	out := make([]Snapshot, len(nodes))
	for i, n := range nodes {
		out[i] = snapshotOf(n)
	}
	return out
}

func snapshotOf(n *Node) Snapshot {
	s := Snapshot{
		Handle:     n.handle,
		Name:       n.name,
		Kind:       n.kind,
		Instrument: n.instrument,
		Channel:    n.channel,
		Inputs:     slices.Clone(n.inputs),
		Outputs:    make([]waveform.Meta, len(n.outputs)),
		Err:        n.Err(),
	}
	if n.filter != nil {
		s.Type = n.filter.Type()
	}
	for i, o := range n.outputs {
		s.Outputs[i] = o.Meta()
	}
	return s
}

// Clear removes every node. Nodes that cannot be freed because a pass still
// pins them are returned and logged as leaks.
func (g *Graph) Clear(ctx context.Context) []string {
	logger := ctxlog.FromContext(ctx)

	g.mu.Lock()
	nodes := g.liveNodes()
	slices.Reverse(nodes)
	for _, n := range nodes {
		g.detach(ctx, n, false)
	}

	var leaked []string
	for i := range g.slots {
		if n := g.slots[i].node; n != nil && n.pins > 0 {
			leaked = append(leaked, n.name)
		}
	}
	g.mu.Unlock()

	for _, name := range leaked {
		logger.Error("Graph node leaked at session clear.", "node", name)
	}
	return leaked
}
