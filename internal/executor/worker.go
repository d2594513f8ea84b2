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
)

// worker is the processing loop for a single pool goroutine.
func (e *Executor) worker(ctx context.Context, work <-chan *graph.Node, done chan<- result, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for n := range work {
		err := e.compute(ctx, n)
		if err != nil {
			logger.Warn("Node compute failed.", "workerID", workerID, "node", n.Name(), "error", err)
		}
		done <- result{node: n, err: err}
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// compute runs one node and records the outcome on it. Channel nodes carry
// whatever the last download published and have nothing to compute.
func (e *Executor) compute(ctx context.Context, n *graph.Node) (err error) {
	if n.Kind() == graph.KindChannel {
		n.SetErr(nil)
		return nil
	}

	typ := n.Filter().Type()
	ctx, span := tracer.Start(ctx, n.Name(),
		trace.WithAttributes(
			attribute.String("node.type", typ),
			attribute.Int64("node.seq", int64(n.Seq())),
		),
	)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("filter '%s' panicked: %v", n.Name(), r)
		}
		if err != nil {
			clearOutputs(n)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		n.SetErr(err)
		if e.observer != nil {
			e.observer.NodeComputed(typ, time.Since(start), err)
		}
		span.End()
	}()

	inputs, err := e.graph.ResolveInputs(n)
	if err != nil {
		return err
	}
	return n.Filter().Compute(ctx, inputs, n.Outputs())
}
