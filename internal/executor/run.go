package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/scopegrid/internal/ctxlog"
	"github.com/vk/scopegrid/internal/graph"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type result struct {
	node *graph.Node
	err  error
}

// Run executes a plan. Compute steps ignore ctx cancellation: a pass that
// has started always finishes, so no node is left half-published.
func (e *Executor) Run(ctx context.Context, plan *graph.Plan) Report {
	start := time.Now()
	logger := ctxlog.FromContext(ctx)
	nodes := plan.Nodes()
	report := Report{Nodes: len(nodes)}
	if len(nodes) == 0 {
		return report
	}

	workers := min(e.workers, len(nodes))
	ctx, span := tracer.Start(ctx, "executor.Refresh",
		trace.WithAttributes(
			attribute.Int("refresh.nodes", len(nodes)),
			attribute.Int("refresh.workers", workers),
		),
	)
	defer span.End()
	stepCtx := context.WithoutCancel(ctx)

	pending := make(map[*graph.Node]int, len(nodes))
	var ready []*graph.Node
	for _, n := range nodes {
		pending[n] = len(plan.Upstream(n))
		if pending[n] == 0 {
			ready = append(ready, n)
		}
	}

	work := make(chan *graph.Node)
	done := make(chan result, len(nodes))
	var eg errgroup.Group
	for i := range workers {
		eg.Go(func() error {
			e.worker(stepCtx, work, done, i+1)
			return nil
		})
	}

	// failedUpstream maps a node to the first failed input that poisons it.
	failedUpstream := make(map[*graph.Node]string)
	remaining := len(nodes)
	finish := func(n *graph.Node, err error, skipped bool) {
		remaining--
		switch {
		case skipped:
			report.Skipped = append(report.Skipped, n.Name())
		case err != nil:
			report.Failed = append(report.Failed, n.Name())
		default:
			report.Computed++
		}
		for _, d := range plan.Downstream(n) {
			if err != nil {
				if _, seen := failedUpstream[d]; !seen {
					failedUpstream[d] = n.Name()
				}
			}
			if pending[d]--; pending[d] == 0 {
				ready = graph.InsertBySeq(ready, d)
			}
		}
	}

	inFlight := 0
	for remaining > 0 {
		for len(ready) > 0 && inFlight < workers {
			n := ready[0]
			ready = ready[1:]
			if cause, poisoned := failedUpstream[n]; poisoned {
				finish(n, skip(n, cause), true)
				continue
			}
			work <- n
			inFlight++
		}
		if inFlight == 0 {
			if remaining > 0 {
				logger.Error("Refresh pass stalled; plan has unreachable nodes.", "remaining", remaining)
			}
			break
		}
		r := <-done
		inFlight--
		finish(r.node, r.err, false)
	}
	close(work)
	_ = eg.Wait()

	report.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("refresh.failed", len(report.Failed)),
		attribute.Int("refresh.skipped", len(report.Skipped)),
	)
	if len(report.Failed) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d nodes failed", len(report.Failed)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	logger.Debug("Refresh pass finished.",
		"nodes", report.Nodes, "computed", report.Computed,
		"failed", len(report.Failed), "skipped", len(report.Skipped),
		"duration", report.Duration)
	return report
}

// skip marks a node as not computed because one of its inputs failed.
func skip(n *graph.Node, cause string) error {
	err := fmt.Errorf("%w: skipped due to upstream failure in '%s'", graph.ErrUpstream, cause)
	clearOutputs(n)
	n.SetErr(err)
	return err
}

func clearOutputs(n *graph.Node) {
	for _, s := range n.Outputs() {
		s.Clear()
	}
}
