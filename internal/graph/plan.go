package graph

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// Downstream returns the roots plus every live node reachable from them by
// following output-to-input edges. Roots that no longer resolve are dropped.
func (g *Graph) Downstream(roots []Handle) mapset.Set[Handle] {
	g.mu.RLock()
	defer g.mu.RUnlock()

	closure := mapset.NewThreadUnsafeSet[Handle]()
	queue := make([]*Node, 0, len(roots))
	for _, h := range roots {
		if n := g.lookup(h); n != nil && closure.Add(h) {
			queue = append(queue, n)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for h := range n.consumers {
			c := g.lookup(h)
			if c != nil && closure.Add(h) {
				queue = append(queue, c)
			}
		}
	}
	return closure
}

// Plan is a pinned, dependency-annotated set of nodes ready to execute.
// Dependencies are restricted to edges inside the plan; nodes outside it are
// treated as already up to date.
type Plan struct {
	pin        *Pin
	nodes      []*Node
	upstream   map[*Node][]*Node
	downstream map[*Node][]*Node
}

// Plan builds an execution plan over subset, or over every live node when
// subset is nil. The returned plan pins its nodes; callers must Release it.
func (g *Graph) Plan(subset mapset.Set[Handle]) *Plan {
	g.mu.Lock()
	defer g.mu.Unlock()

	var nodes []*Node
	for _, n := range g.liveNodes() {
		if subset == nil || subset.Contains(n.handle) {
			nodes = append(nodes, n)
		}
	}

	p := &Plan{
		pin:        &Pin{g: g, nodes: nodes},
		nodes:      nodes,
		upstream:   make(map[*Node][]*Node, len(nodes)),
		downstream: make(map[*Node][]*Node, len(nodes)),
	}
	in := make(map[*Node]bool, len(nodes))
	for _, n := range nodes {
		n.pins++
		in[n] = true
	}
	for _, n := range nodes {
		for _, b := range n.inputs {
			src := g.lookup(b.Source)
			if src == nil || !in[src] || slices.Contains(p.upstream[n], src) {
				continue
			}
			p.upstream[n] = append(p.upstream[n], src)
			p.downstream[src] = append(p.downstream[src], n)
		}
	}
	for _, deps := range p.downstream {
		slices.SortFunc(deps, bySeq)
	}
	return p
}

// Nodes returns the plan's nodes in creation order.
func (p *Plan) Nodes() []*Node { return p.nodes }

// Len returns the number of nodes in the plan.
func (p *Plan) Len() int { return len(p.nodes) }

// Upstream returns the in-plan nodes n reads from.
func (p *Plan) Upstream(n *Node) []*Node { return p.upstream[n] }

// Downstream returns the in-plan nodes that read from n, in creation order.
func (p *Plan) Downstream(n *Node) []*Node { return p.downstream[n] }

// Release unpins the plan's nodes.
func (p *Plan) Release() { p.pin.Release() }

// Order returns a topological order of the plan. Among nodes whose inputs
// are all satisfied, the one created first goes first, so a fixed graph
// shape always yields the same order.
func (p *Plan) Order() []*Node {
	pending := make(map[*Node]int, len(p.nodes))
	var ready []*Node
	for _, n := range p.nodes {
		pending[n] = len(p.upstream[n])
		if pending[n] == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]*Node, 0, len(p.nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, d := range p.downstream[n] {
			if pending[d]--; pending[d] == 0 {
				ready = InsertBySeq(ready, d)
			}
		}
	}
	return order
}

// InsertBySeq inserts n into a slice kept sorted by creation order.
func InsertBySeq(nodes []*Node, n *Node) []*Node {
	i, _ := slices.BinarySearchFunc(nodes, n, bySeq)
	return slices.Insert(nodes, i, n)
}
