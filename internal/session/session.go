// Package session is the acquisition scheduler. It owns the instruments,
// the trigger groups, the filter graph, the dirty set and the history log,
// and exposes the operations the worker and the UI drive them with.
//
// Lock order, outermost first:
//
//	dataMu (waveform data) → instMu (instrument list) → trigger.Set → dirty.Set
//
// The graph's own mutex is a leaf and may be taken under any of them. No
// code path acquires these in reverse.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vk/scopegrid/internal/dirty"
	"github.com/vk/scopegrid/internal/event"
	"github.com/vk/scopegrid/internal/executor"
	"github.com/vk/scopegrid/internal/graph"
	"github.com/vk/scopegrid/internal/history"
	"github.com/vk/scopegrid/internal/instrument"
	"github.com/vk/scopegrid/internal/trigger"
	"github.com/vk/scopegrid/internal/waveform"
)

// NodeFrame is one node as handed to a renderer: its visible state plus the
// waveforms currently on its outputs. Published waveforms are immutable, so
// a renderer may keep them after the call returns.
type NodeFrame struct {
	graph.Snapshot
	Data []*waveform.Waveform
}

// Frame is everything a renderer gets for one redraw.
type Frame struct {
	Nodes []NodeFrame
	// Acquisition is the history record the frame shows, if it came from one.
	Acquisition *history.Record
}

// Renderer draws frames. It must not call back into the session.
type Renderer interface {
	RenderAll(ctx context.Context, f Frame) error
}

// Observer receives session-level events. The metrics package implements it.
type Observer interface {
	Downloaded(captures int)
	ArmedChanged(armed bool)
	GroupCollected()
}

// Batch is what one download hands to the consumer side: the captures that
// arrived and the groups that produced them.
type Batch struct {
	Captures []trigger.Capture
	Groups   []*trigger.Group
}

type instEntry struct {
	inst     instrument.Instrument
	channels []graph.Handle
}

// Session is the acquisition scheduler.
type Session struct {
	id uuid.UUID

	dataMu sync.RWMutex

	instMu      sync.Mutex
	instruments map[string]*instEntry
	instOrder   []string

	triggers *trigger.Set
	dirty    *dirty.Set
	graph    *graph.Graph
	exec     *executor.Executor
	history  *history.Store

	renderer Renderer
	observer Observer

	armed   atomic.Bool
	oneShot atomic.Bool

	// batches carries the payload of the current waveformReady signal.
	batches           chan Batch
	waveformReady     *event.Event
	waveformProcessed *event.Event

	notices   chan instrument.Notice
	throttle  *instrument.Throttle
	synthetic time.Duration
}

// Option configures a Session.
type Option func(*Session)

// WithRenderer sets the renderer called after each completed acquisition
// and by Render.
func WithRenderer(r Renderer) Option {
	return func(s *Session) { s.renderer = r }
}

// WithHistory replaces the default unbounded history store.
func WithHistory(h *history.Store) Option {
	return func(s *Session) { s.history = h }
}

// WithExecutorOptions configures the graph executor.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(s *Session) { s.exec = executor.New(s.graph, opts...) }
}

// WithObserver attaches a metrics sink.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithSyntheticInterval sets the pending-data period of groups with no
// online instruments.
func WithSyntheticInterval(d time.Duration) Option {
	return func(s *Session) { s.synthetic = d }
}

// WithNoticeThrottle sets how often offline notices for one instrument are
// let through.
func WithNoticeThrottle(every time.Duration, burst int) Option {
	return func(s *Session) { s.throttle = instrument.NewThrottle(every, burst) }
}

// New creates an empty, disarmed session.
func New(opts ...Option) *Session {
	g := graph.New()
	s := &Session{
		id:                uuid.New(),
		instruments:       make(map[string]*instEntry),
		triggers:          trigger.NewSet(),
		dirty:             dirty.New(),
		graph:             g,
		exec:              executor.New(g),
		history:           history.New(0),
		batches:           make(chan Batch, 1),
		waveformReady:     event.New(),
		waveformProcessed: event.New(),
		notices:           make(chan instrument.Notice, 64),
		throttle:          instrument.NewThrottle(10*time.Second, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID identifies the session in logs and snapshots.
func (s *Session) ID() uuid.UUID { return s.id }

// Graph exposes the filter graph for building and inspection.
func (s *Session) Graph() *graph.Graph { return s.graph }

// History exposes the acquisition log.
func (s *Session) History() *history.Store { return s.history }

// Triggers exposes the trigger groups.
func (s *Session) Triggers() *trigger.Set { return s.triggers }

// Notifications delivers user-visible hardware notices. Notices are dropped
// rather than blocking when nobody reads them.
func (s *Session) Notifications() <-chan instrument.Notice { return s.notices }

// IsArmed reports whether a trigger run is in progress.
func (s *Session) IsArmed() bool { return s.armed.Load() }

func (s *Session) setArmed(armed bool) {
	if s.armed.Swap(armed) != armed && s.observer != nil {
		s.observer.ArmedChanged(armed)
	}
}

func (s *Session) notify(inst, msg string) {
	if !s.throttle.Allow(inst) {
		return
	}
	select {
	case s.notices <- instrument.Notice{Instrument: inst, Message: msg, At: time.Now()}:
	default:
	}
}
