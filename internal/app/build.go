package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/scopegrid/internal/config"
	"github.com/vk/scopegrid/internal/ctxlog"
	"github.com/vk/scopegrid/internal/executor"
	"github.com/vk/scopegrid/internal/graph"
	"github.com/vk/scopegrid/internal/history"
	"github.com/vk/scopegrid/internal/instrument"
	"github.com/vk/scopegrid/internal/render"
	"github.com/vk/scopegrid/internal/session"
	"github.com/vk/scopegrid/internal/worker"
)

// ErrUnknownDriver is returned for an instrument whose driver is not registered.
var ErrUnknownDriver = errors.New("unknown instrument driver")

// build turns the layout into a live session and its worker.
func (a *App) build(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	s := a.settings

	store, err := a.openHistory(ctx)
	if err != nil {
		return err
	}

	renderers := append([]session.Renderer{render.NewLog()}, a.renderers...)
	if s.Render.URL != "" {
		sio, err := render.DialSocketIO(ctx, render.SocketIOConfig{
			URL:       s.Render.URL,
			Path:      s.Render.Path,
			Namespace: s.Render.Namespace,
			Event:     s.Render.Event,
			MaxPoints: 2048,
		})
		if err != nil {
			logger.Warn("Frame broadcaster unavailable; continuing without it.", "url", s.Render.URL, "error", err)
		} else {
			renderers = append(renderers, sio)
			a.closers = append(a.closers, sio)
		}
	}

	a.session = session.New(
		session.WithHistory(store),
		session.WithRenderer(render.Fanout(renderers)),
		session.WithObserver(a.metrics),
		session.WithSyntheticInterval(s.Worker.SyntheticInterval),
		session.WithExecutorOptions(
			executor.WithWorkers(s.Executor.Workers),
			executor.WithObserver(a.metrics),
		),
	)
	logger.Info("Session created.", "session", a.session.ID())

	for _, g := range a.layout.Groups {
		if err := a.session.AddTriggerGroup(g.Name, g.Default); err != nil {
			return fmt.Errorf("trigger group %q: %w", g.Name, err)
		}
	}
	if err := a.addInstruments(ctx); err != nil {
		return err
	}
	if err := a.addFilters(ctx); err != nil {
		return err
	}

	a.worker = worker.New(a.session, worker.WithIdleInterval(s.Worker.IdleInterval))
	logger.Debug("Session built.", "nodes", a.session.Graph().Len(), "groups", a.session.Triggers().Len())
	return nil
}

func (a *App) openHistory(ctx context.Context) (*history.Store, error) {
	opts := []history.Option{history.WithObserver(a.metrics)}
	if path := a.settings.History.Archive; path != "" {
		archive, err := history.OpenArchive(history.ArchiveConfig{
			Path:   path,
			Logger: ctxlog.FromContext(ctx).With("component", "archive"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open history archive: %w", err)
		}
		opts = append(opts, history.WithArchive(archive))
	}
	return history.New(a.settings.History.Depth, opts...), nil
}

func (a *App) addInstruments(ctx context.Context) error {
	for _, def := range a.layout.Instruments {
		driver, ok := a.drivers[def.Driver]
		if !ok {
			return fmt.Errorf("instrument %q: %w: %q", def.Name, ErrUnknownDriver, def.Driver)
		}
		inst, err := driver(def.Name, def.Params)
		if err != nil {
			return fmt.Errorf("instrument %q: %w", def.Name, err)
		}
		if _, err := a.session.AddInstrument(ctx, inst, def.Group); err != nil {
			return fmt.Errorf("instrument %q: %w", def.Name, err)
		}
		if r, ok := inst.(instrument.Runner); ok {
			a.runners = append(a.runners, r)
		}
	}
	return nil
}

// addFilters creates every filter before binding any, so inputs may name
// filters declared later in the layout.
func (a *App) addFilters(ctx context.Context) error {
	handles := make(map[string]graph.Handle, len(a.layout.Filters))
	for _, def := range a.layout.Filters {
		f, err := a.filters.Build(def.Type, def.Params)
		if err != nil {
			return fmt.Errorf("filter %q: %w", def.Name, err)
		}
		h, err := a.session.AddFilter(def.Name, f)
		if err != nil {
			return fmt.Errorf("filter %q: %w", def.Name, err)
		}
		handles[def.Name] = h
	}

	for _, def := range a.layout.Filters {
		h := handles[def.Name]
		for i, ref := range def.Inputs {
			src, stream, err := a.resolve(ref)
			if err != nil {
				return fmt.Errorf("filter %q input %d: %w", def.Name, i, err)
			}
			if err := a.session.Bind(h, i, src, stream); err != nil {
				return fmt.Errorf("filter %q input %d: %w", def.Name, i, err)
			}
		}
		if def.Group != "" {
			if err := a.session.AddGroupNode(def.Group, h); err != nil {
				return fmt.Errorf("filter %q: %w", def.Name, err)
			}
		}
	}
	ctxlog.FromContext(ctx).Debug("Filters created.", "count", len(handles))
	return nil
}

// resolve finds the node and output stream an input reference names.
func (a *App) resolve(ref config.InputRef) (graph.Handle, int, error) {
	g := a.session.Graph()
	h, ok := g.Lookup(ref.Node)
	if !ok {
		return graph.Handle{}, 0, fmt.Errorf("%w: node %q", graph.ErrNotFound, ref.Node)
	}
	if ref.Stream == "" {
		return h, 0, nil
	}
	n, ok := g.Node(h)
	if !ok {
		return graph.Handle{}, 0, fmt.Errorf("%w: node %q", graph.ErrNotFound, ref.Node)
	}
	for i, out := range n.Outputs() {
		if out.Name == ref.Stream {
			return h, i, nil
		}
	}
	return graph.Handle{}, 0, fmt.Errorf("%w: node %q has no stream %q", graph.ErrBadStream, ref.Node, ref.Stream)
}

// armKind returns the configured trigger kind and whether to arm at all.
func (a *App) armKind() (instrument.TriggerKind, bool, error) {
	if a.settings.Run.Arm == "none" {
		return instrument.Normal, false, nil
	}
	kind, err := instrument.ParseTriggerKind(a.settings.Run.Arm)
	return kind, err == nil, err
}

func (a *App) frameInterval() time.Duration {
	if d := a.settings.Worker.FrameInterval; d > 0 {
		return d
	}
	return 16 * time.Millisecond
}
