package graph

import (
	"fmt"

	"github.com/vk/scopegrid/internal/waveform"
)

// Bind connects input `input` of dst to output stream `stream` of src. An
// existing binding on that input is replaced. The edge is rejected with
// ErrCycle if dst already feeds src, directly or transitively.
func (g *Graph) Bind(dst Handle, input int, src Handle, stream int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	dstNode := g.lookup(dst)
	if dstNode == nil {
		return fmt.Errorf("destination %w: %s", ErrNotFound, dst)
	}
	srcNode := g.lookup(src)
	if srcNode == nil {
		return fmt.Errorf("source %w: %s", ErrNotFound, src)
	}
	if dstNode.kind != KindFilter {
		return fmt.Errorf("%w: %s", ErrNotFilter, dstNode.name)
	}
	if input < 0 || input >= len(dstNode.inputs) {
		return fmt.Errorf("%w: %s has %d inputs, got %d", ErrBadInput, dstNode.name, len(dstNode.inputs), input)
	}
	if stream < 0 || stream >= len(srcNode.outputs) {
		return fmt.Errorf("%w: %s has %d streams, got %d", ErrBadStream, srcNode.name, len(srcNode.outputs), stream)
	}
	if dstNode == srcNode || g.reaches(dstNode, srcNode) {
		return fmt.Errorf("%w: %s -> %s", ErrCycle, srcNode.name, dstNode.name)
	}

	g.release(dstNode, input)
	dstNode.inputs[input] = Binding{Source: src, Stream: stream}
	srcNode.consumers[dst]++
	return nil
}

// Unbind disconnects one input of dst.
func (g *Graph) Unbind(dst Handle, input int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	dstNode := g.lookup(dst)
	if dstNode == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, dst)
	}
	if input < 0 || input >= len(dstNode.inputs) {
		return fmt.Errorf("%w: %s has %d inputs, got %d", ErrBadInput, dstNode.name, len(dstNode.inputs), input)
	}
	g.release(dstNode, input)
	return nil
}

// release drops the binding on one input and the matching consumer count on
// its source, if the source is still live.
func (g *Graph) release(n *Node, input int) {
	b := n.inputs[input]
	if !b.Bound() {
		return
	}
	if src := g.lookup(b.Source); src != nil {
		if src.consumers[n.handle]--; src.consumers[n.handle] <= 0 {
			delete(src.consumers, n.handle)
		}
	}
	n.inputs[input] = Binding{}
}

// reaches reports whether to is downstream of from.
func (g *Graph) reaches(from, to *Node) bool {
	visited := make(map[*Node]bool)
	stack := []*Node{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		for h := range n.consumers {
			if c := g.lookup(h); c != nil && !visited[c] {
				stack = append(stack, c)
			}
		}
	}
	return false
}

// DetectCycles checks the whole graph for cycles. Bind keeps the graph
// acyclic, so a non-nil result means the arena was corrupted.
func (g *Graph) DetectCycles() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// permanent: fully visited and known to be acyclic.
	// temporary: on the current DFS path.
	permanent := make(map[*Node]bool)
	temporary := make(map[*Node]bool)

	var visit func(n *Node) error
	visit = func(n *Node) error {
		if permanent[n] {
			return nil
		}
		if temporary[n] {
			return fmt.Errorf("%w: involving node '%s'", ErrCycle, n.name)
		}
		temporary[n] = true
		for _, c := range g.consumerNodes(n) {
			if err := visit(c); err != nil {
				return err
			}
		}
		delete(temporary, n)
		permanent[n] = true
		return nil
	}

	for _, n := range g.liveNodes() {
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}

// ResolveInputs returns the current waveform on every input of a filter
// node, in input order. An unbound input, a binding to a removed node, or a
// source stream with no data is an error naming the offending input.
func (g *Graph) ResolveInputs(n *Node) ([]*waveform.Waveform, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var names []string
	if n.filter != nil {
		names = n.filter.InputNames()
	}
	out := make([]*waveform.Waveform, len(n.inputs))
	for i, b := range n.inputs {
		name := fmt.Sprintf("#%d", i)
		if i < len(names) {
			name = names[i]
		}
		if !b.Bound() {
			return nil, fmt.Errorf("input %s: %w", name, ErrUnboundInput)
		}
		src := g.lookup(b.Source)
		if src == nil {
			return nil, fmt.Errorf("input %s: %w", name, ErrDanglingInput)
		}
		w := src.outputs[b.Stream].Data()
		if w == nil {
			return nil, fmt.Errorf("input %s: %w from %s", name, ErrNoData, src.name)
		}
		out[i] = w
	}
	return out, nil
}
