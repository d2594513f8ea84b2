package render

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/vk/scopegrid/internal/ctxlog"
	"github.com/vk/scopegrid/internal/session"
)

// Log writes a one-line summary of every frame.
type Log struct {
	frames atomic.Uint64
}

// NewLog returns a log renderer.
func NewLog() *Log {
	return &Log{}
}

// RenderAll implements session.Renderer.
func (l *Log) RenderAll(ctx context.Context, f session.Frame) error {
	n := l.frames.Add(1)
	var failed []string
	for _, nf := range f.Nodes {
		if nf.Err != nil {
			failed = append(failed, nf.Name)
		}
	}
	attrs := []any{"frame", n, "nodes", len(f.Nodes)}
	if f.Acquisition != nil {
		attrs = append(attrs, "timestamp", f.Acquisition.Key, "instruments", f.Acquisition.InstrumentNames())
	}
	if len(failed) > 0 {
		attrs = append(attrs, "failed", failed)
	}
	ctxlog.FromContext(ctx).Debug("Frame rendered.", attrs...)
	return nil
}

// Frames returns how many frames were rendered.
func (l *Log) Frames() uint64 {
	return l.frames.Load()
}

// Fanout renders every frame with each renderer in turn. A failing renderer
// does not stop the others.
type Fanout []session.Renderer

// RenderAll implements session.Renderer.
func (f Fanout) RenderAll(ctx context.Context, frame session.Frame) error {
	var errs []error
	for _, r := range f {
		if err := r.RenderAll(ctx, frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
