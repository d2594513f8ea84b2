// Package executor runs refresh passes over the filter graph.
//
// A pass takes a pinned graph.Plan and computes every node in it. A node is
// dispatched once all of its in-plan inputs have finished; independent nodes
// run concurrently on a bounded pool of workers. Among ready nodes the oldest
// is dispatched first, so a pass over a fixed graph visits nodes in a
// repeatable order.
//
// Callers hold the session's waveform-data lock exclusively for the whole
// pass. Workers only ever write the output streams of the node they are
// computing.
package executor

import (
	"context"
	"runtime"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/vk/scopegrid/internal/graph"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scopegrid.executor")

// Observer receives per-node and per-pass results. It is called from worker
// goroutines and must be safe for concurrent use.
type Observer interface {
	NodeComputed(typ string, took time.Duration, err error)
	PassCompleted(r Report)
}

// Report summarises one refresh pass.
type Report struct {
	Nodes    int
	Computed int
	// Failed lists the nodes whose own compute step returned an error.
	Failed []string
	// Skipped lists the nodes not computed because an input failed.
	Skipped  []string
	Duration time.Duration
}

// Executor computes graph nodes.
type Executor struct {
	graph    *graph.Graph
	workers  int
	observer Observer
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkers bounds the number of nodes computed at once. Zero or less
// means runtime.GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Executor) { e.workers = n }
}

// WithObserver attaches a metrics sink.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// New creates an executor over g.
func New(g *graph.Graph, opts ...Option) *Executor {
	e := &Executor{graph: g}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers <= 0 {
		e.workers = runtime.GOMAXPROCS(0)
	}
	return e
}

// Workers returns the size of the worker pool.
func (e *Executor) Workers() int {
	return e.workers
}

// RefreshAll recomputes every node in the graph.
func (e *Executor) RefreshAll(ctx context.Context) Report {
	return e.refresh(ctx, nil)
}

// RefreshSubset recomputes only the nodes in subset. Edges from nodes
// outside the subset are treated as already satisfied. An empty subset is a
// no-op.
func (e *Executor) RefreshSubset(ctx context.Context, subset mapset.Set[graph.Handle]) Report {
	if subset == nil || subset.Cardinality() == 0 {
		return Report{}
	}
	return e.refresh(ctx, subset)
}

func (e *Executor) refresh(ctx context.Context, subset mapset.Set[graph.Handle]) Report {
	plan := e.graph.Plan(subset)
	defer plan.Release()

	r := e.Run(ctx, plan)
	if e.observer != nil {
		e.observer.PassCompleted(r)
	}
	return r
}
