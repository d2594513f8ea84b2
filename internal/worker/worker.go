// Package worker runs the background loop that drives acquisitions.
//
// Each iteration checks, in strict priority order: a full refilter request,
// a partial refilter request, a re-render request, and finally the session
// for pending waveforms. Only one step runs per iteration, and the loop is the
// only caller of the session's refresh operations, so a partial refresh never
// overlaps a full one.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jamiealquiza/tachymeter"
	"github.com/vk/scopegrid/internal/ctxlog"
	"github.com/vk/scopegrid/internal/event"
	"github.com/vk/scopegrid/internal/executor"
)

// DefaultIdleInterval is the sleep between polls when there is nothing to do.
const DefaultIdleInterval = 5 * time.Millisecond

// Session is the part of a session the loop drives.
type Session interface {
	RefreshAll(ctx context.Context) executor.Report
	RefreshDirty(ctx context.Context) bool
	Render(ctx context.Context) error
	CheckForPendingWaveforms() bool
	Download(ctx context.Context) int
	SignalWaveformReady()
	WaitWaveformProcessed(ctx context.Context) error
}

// Worker is the background loop. Request methods are safe from any goroutine.
type Worker struct {
	session Session
	idle    time.Duration

	fullRefilter    *event.Event
	partialRefilter *event.Event
	rerender        *event.Event
	refilterDone    *event.Event
	rerenderDone    *event.Event

	latency      *tachymeter.Tachymeter
	refreshes    atomic.Int64
	acquisitions atomic.Int64
	idles        atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

// WithIdleInterval sets the idle sleep.
func WithIdleInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.idle = d
		}
	}
}

// WithLatencyWindow sets how many refresh timings the statistics keep.
func WithLatencyWindow(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.latency = tachymeter.New(&tachymeter.Config{Size: n})
		}
	}
}

// New creates a worker for s.
func New(s Session, opts ...Option) *Worker {
	w := &Worker{
		session:         s,
		idle:            DefaultIdleInterval,
		fullRefilter:    event.New(),
		partialRefilter: event.New(),
		rerender:        event.New(),
		refilterDone:    event.New(),
		rerenderDone:    event.New(),
		latency:         tachymeter.New(&tachymeter.Config{Size: 512}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RequestRefilter asks the loop to recompute the graph: every node when full
// is set, otherwise the dirty nodes and their downstream closure.
func (w *Worker) RequestRefilter(full bool) {
	w.refilterDone.Clear()
	if full {
		w.fullRefilter.Signal()
		return
	}
	w.partialRefilter.Signal()
}

// RequestRerender asks the loop to redraw with no new data.
func (w *Worker) RequestRerender() {
	w.rerenderDone.Clear()
	w.rerender.Signal()
}

// WaitRefilterDone blocks until the last refilter request was serviced.
func (w *Worker) WaitRefilterDone(ctx context.Context) error {
	return w.refilterDone.Wait(ctx)
}

// WaitRerenderDone blocks until the last re-render request was serviced.
func (w *Worker) WaitRerenderDone(ctx context.Context) error {
	return w.rerenderDone.Wait(ctx)
}

// Run loops until ctx is cancelled. A step already under way is completed
// first; the only exception is the wait for the consumer to process a
// waveform, which is abandoned on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Background worker started.", "idle", w.idle)
	defer logger.Info("Background worker stopped.", "acquisitions", w.acquisitions.Load(), "refreshes", w.refreshes.Load())

	for ctx.Err() == nil {
		if w.step(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(w.idle):
		}
	}
	return nil
}

// step runs at most one unit of work and reports whether it found any.
func (w *Worker) step(ctx context.Context) bool {
	logger := ctxlog.FromContext(ctx)
	work := context.WithoutCancel(ctx)

	switch {
	case w.take(w.fullRefilter):
		w.timed(func() { w.session.RefreshAll(work) })
		w.render(work)
		w.refilterDone.Signal()
		return true

	case w.take(w.partialRefilter):
		var did bool
		w.timed(func() { did = w.session.RefreshDirty(work) })
		if did {
			w.render(work)
		}
		w.refilterDone.Signal()
		return true

	case w.take(w.rerender):
		w.render(work)
		w.rerenderDone.Signal()
		return true
	}

	if !w.session.CheckForPendingWaveforms() {
		w.idles.Add(1)
		return false
	}
	groups := w.session.Download(work)
	w.timed(func() { w.session.RefreshAll(work) })
	w.acquisitions.Add(1)
	w.session.SignalWaveformReady()
	logger.Debug("Waveform ready.", "groups", groups)

	if err := w.session.WaitWaveformProcessed(ctx); err != nil {
		logger.Debug("Stopped waiting for the consumer.", "error", err)
	}
	return true
}

func (w *Worker) take(e *event.Event) bool {
	if !e.Peek() {
		return false
	}
	e.Clear()
	return true
}

func (w *Worker) render(ctx context.Context) {
	if err := w.session.Render(ctx); err != nil {
		ctxlog.FromContext(ctx).Error("Render failed.", "error", err)
	}
}

func (w *Worker) timed(fn func()) {
	start := time.Now()
	fn()
	w.latency.AddTime(time.Since(start))
	w.refreshes.Add(1)
}

// Stats summarizes the loop's activity.
type Stats struct {
	Acquisitions int64
	Refreshes    int64
	IdlePolls    int64
	Avg          time.Duration
	Min          time.Duration
	P75          time.Duration
	P99          time.Duration
	Max          time.Duration
}

// Stats returns the activity counters and refresh latency over the window.
func (w *Worker) Stats() Stats {
	s := Stats{
		Acquisitions: w.acquisitions.Load(),
		Refreshes:    w.refreshes.Load(),
		IdlePolls:    w.idles.Load(),
	}
	if s.Refreshes == 0 {
		return s
	}
	calc := w.latency.Calc()
	s.Avg = calc.Time.Avg
	s.Min = calc.Time.Min
	s.P75 = calc.Time.P75
	s.P99 = calc.Time.P99
	s.Max = calc.Time.Max
	return s
}
