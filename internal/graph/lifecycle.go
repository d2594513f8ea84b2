package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/scopegrid/internal/ctxlog"
)

// Remove deletes a node. Its own input bindings are released first. Nodes
// that still consume its outputs keep a binding to a handle that no longer
// resolves; that is an ordering mistake by the caller, so it is logged, and
// those consumers report ErrDanglingInput on their next refresh.
func (g *Graph) Remove(ctx context.Context, h Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.lookup(h)
	if n == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	g.detach(ctx, n, true)
	return nil
}

// detach unlinks n from the graph and frees its slot unless a pass pins it.
// Callers hold g.mu for writing.
func (g *Graph) detach(ctx context.Context, n *Node, loud bool) {
	for i := range n.inputs {
		g.release(n, i)
	}
	if loud && len(n.consumers) > 0 {
		logger := ctxlog.FromContext(ctx)
		for _, c := range g.consumerNodes(n) {
			logger.Error("Removing node that is still consumed; consumer input left dangling.",
				"node", n.name, "consumer", c.name)
		}
	}
	n.consumers = make(map[Handle]int)
	delete(g.byName, n.name)
	n.removed = true
	if n.pins == 0 {
		g.reclaim(n)
	}
}

func (g *Graph) reclaim(n *Node) {
	s := &g.slots[n.handle.index]
	if s.node != n {
		return
	}
	s.node = nil
	g.free = append(g.free, n.handle.index)
}

// Pin keeps a set of nodes alive until Release is called. A pinned node can
// still be removed; it disappears from lookups at once and its slot is
// reclaimed when the last pin goes away.
type Pin struct {
	g     *Graph
	nodes []*Node
	once  sync.Once
}

// Pin pins every live node among hs. Handles that no longer resolve are skipped.
func (g *Graph) Pin(hs ...Handle) *Pin {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := &Pin{g: g}
	for _, h := range hs {
		if n := g.lookup(h); n != nil {
			n.pins++
			p.nodes = append(p.nodes, n)
		}
	}
	return p
}

// Nodes returns the pinned nodes.
func (p *Pin) Nodes() []*Node {
	return p.nodes
}

// Release drops the pins. Calling it more than once is harmless.
func (p *Pin) Release() {
	p.once.Do(func() {
		p.g.mu.Lock()
		defer p.g.mu.Unlock()
		for _, n := range p.nodes {
			n.pins--
			if n.pins == 0 && n.removed {
				p.g.reclaim(n)
			}
		}
	})
}
