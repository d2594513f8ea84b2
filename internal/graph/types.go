package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vk/scopegrid/internal/waveform"
)

var (
	ErrNotFound      = errors.New("node not found")
	ErrDuplicateName = errors.New("duplicate node name")
	ErrCycle         = errors.New("binding would create a cycle")
	ErrBadInput      = errors.New("input index out of range")
	ErrBadStream     = errors.New("stream index out of range")
	ErrNotFilter     = errors.New("node has no inputs")
	ErrUnboundInput  = errors.New("input is not bound")
	ErrDanglingInput = errors.New("input refers to a removed node")
	ErrNoData        = errors.New("no data")
	ErrUpstream      = errors.New("upstream node failed")
)

// Handle is a stable reference to a node. The zero Handle refers to nothing.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

func (h Handle) String() string {
	if h.IsZero() {
		return "node(nil)"
	}
	return fmt.Sprintf("node(%d/%d)", h.index, h.gen)
}

// Kind distinguishes the variants of a node.
type Kind int

const (
	// KindChannel is a raw instrument channel. It has no inputs.
	KindChannel Kind = iota
	// KindFilter is a derived computation over other nodes' streams.
	KindFilter
)

func (k Kind) String() string {
	switch k {
	case KindChannel:
		return "channel"
	case KindFilter:
		return "filter"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Computer is the compute step of a filter node.
type Computer interface {
	// Type names the filter kind, e.g. "average".
	Type() string
	// InputNames lists the filter's inputs in binding order.
	InputNames() []string
	// OutputNames lists the filter's output streams.
	OutputNames() []string
	// Compute reads the resolved input waveforms (one per input, never nil)
	// and publishes results to outputs.
	Compute(ctx context.Context, inputs []*waveform.Waveform, outputs []*waveform.Stream) error
}

// Binding connects one input of a node to an output stream of another node.
// A zero Source means the input is unbound.
type Binding struct {
	Source Handle
	Stream int
}

// Bound reports whether the binding points anywhere.
func (b Binding) Bound() bool {
	return !b.Source.IsZero()
}

// Node is a vertex of the graph.
type Node struct {
	handle Handle
	// seq is the creation order, used as the stable tie-break when ordering.
	seq  uint64
	name string
	kind Kind

	instrument string
	channel    int

	filter  Computer
	inputs  []Binding
	outputs []*waveform.Stream

	// consumers counts, per dependent node, how many of its inputs bind to us.
	consumers map[Handle]int
	pins      int
	removed   bool

	errMu sync.Mutex
	err   error
}

func (n *Node) Handle() Handle { return n.handle }
func (n *Node) Seq() uint64    { return n.seq }
func (n *Node) Name() string   { return n.name }
func (n *Node) Kind() Kind     { return n.kind }

// Instrument returns the owning instrument name of a channel node.
func (n *Node) Instrument() string { return n.instrument }

// Channel returns the channel index of a channel node.
func (n *Node) Channel() int { return n.channel }

// Filter returns the compute step of a filter node, or nil for channels.
func (n *Node) Filter() Computer { return n.filter }

// Outputs returns the node's output streams.
func (n *Node) Outputs() []*waveform.Stream { return n.outputs }

// Output returns one output stream, or nil if i is out of range.
func (n *Node) Output(i int) *waveform.Stream {
	if i < 0 || i >= len(n.outputs) {
		return nil
	}
	return n.outputs[i]
}

// Err returns the error recorded by the most recent compute step.
func (n *Node) Err() error {
	n.errMu.Lock()
	defer n.errMu.Unlock()
	return n.err
}

// SetErr records the outcome of a compute step. nil clears the marker.
func (n *Node) SetErr(err error) {
	n.errMu.Lock()
	n.err = err
	n.errMu.Unlock()
}

// Snapshot is a copy of a node's externally visible state.
type Snapshot struct {
	Handle     Handle
	Name       string
	Kind       Kind
	Type       string
	Instrument string
	Channel    int
	Inputs     []Binding
	Outputs    []waveform.Meta
	Err        error
}
