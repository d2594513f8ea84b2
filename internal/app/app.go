package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vk/scopegrid/internal/config"
	"github.com/vk/scopegrid/internal/ctxlog"
	"github.com/vk/scopegrid/internal/filters"
	"github.com/vk/scopegrid/internal/instrument"
	"github.com/vk/scopegrid/internal/metrics"
	"github.com/vk/scopegrid/internal/session"
	"github.com/vk/scopegrid/internal/worker"
	"github.com/zclconf/go-cty/cty"
)

// Driver builds an instrument from its params object.
type Driver func(name string, params cty.Value) (instrument.Instrument, error)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// LayoutPaths are .hcl files or directories describing the session.
	LayoutPaths []string
	Settings    *config.Settings
}

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	logFile  io.Closer
	ctx      context.Context
	settings *config.Settings
	layout   *config.Layout

	drivers   map[string]Driver
	filters   *filters.Registry
	renderers []session.Renderer

	metrics    *metrics.Metrics
	session    *session.Session
	closed     bool
	worker     *worker.Worker
	runners    []instrument.Runner
	closers    []io.Closer
	httpServer *http.Server
}

// Option customises an App.
type Option func(*App)

// WithDriver registers an instrument driver under name, replacing any
// built-in of the same name.
func WithDriver(name string, d Driver) Option {
	return func(a *App) { a.drivers[name] = d }
}

// WithFilters replaces the filter registry.
func WithFilters(r *filters.Registry) Option {
	return func(a *App) { a.filters = r }
}

// WithRenderer adds a renderer next to the built-in log renderer.
func WithRenderer(r session.Renderer) Option {
	return func(a *App) { a.renderers = append(a.renderers, r) }
}

// NewApp is the constructor for the main application. It loads the layout
// and builds the session, so a returned App is ready to Run.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, opts ...Option) (*App, error) {
	settings := cfg.Settings
	if settings == nil {
		settings = config.DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		outW:     outW,
		settings: settings,
		drivers:  map[string]Driver{"virtual": virtualDriver},
		filters:  filters.Builtins(),
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	for _, opt := range opts {
		opt(a)
	}

	var fileW io.Writer
	if path := settings.Log.File; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		a.logFile = f
		fileW = f
	}
	a.logger = newLogger(settings.Log.Level, settings.Log.Format, outW, fileW)
	a.ctx = ctxlog.WithLogger(context.Background(), a.logger)
	a.logger.Debug("Logger configured successfully.")

	layout, err := loader.Load(a.ctx, cfg.LayoutPaths...)
	if err != nil {
		a.closeLog()
		return nil, fmt.Errorf("failed to load layout: %w", err)
	}
	a.layout = layout
	a.logger.Debug("Layout loaded.", "groups", len(layout.Groups), "instruments", len(layout.Instruments), "filters", len(layout.Filters))

	if err := a.build(a.ctx); err != nil {
		a.shutdown(a.ctx)
		return nil, fmt.Errorf("failed to build session: %w", err)
	}
	return a, nil
}

// Session returns the application's session. This is primarily for testing.
func (a *App) Session() *session.Session { return a.session }

// Worker returns the background worker.
func (a *App) Worker() *worker.Worker { return a.worker }

// Metrics returns the application's collectors.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Layout returns the loaded layout.
func (a *App) Layout() *config.Layout { return a.layout }

// Close releases an App that will not be run. It returns the names of
// leaked graph nodes.
func (a *App) Close() []string { return a.shutdown(a.ctx) }

func virtualDriver(name string, params cty.Value) (instrument.Instrument, error) {
	cfg := instrument.DefaultVirtualConfig()
	if err := config.DecodeParams(params, &cfg); err != nil {
		return nil, err
	}
	return instrument.NewVirtual(name, cfg), nil
}

// shutdown closes the session and every auxiliary resource. It returns the
// names of leaked graph nodes.
func (a *App) shutdown(ctx context.Context) []string {
	var (
		leaked []string
		errs   []error
	)
	if a.session != nil && !a.closed {
		var err error
		leaked, err = a.session.Close(ctx)
		errs = append(errs, err)
		a.closed = true
	}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		ctxlog.FromContext(ctx).Error("Shutdown finished with errors.", "error", err)
	}
	a.closeLog()
	return leaked
}

func (a *App) closeLog() {
	if a.logFile != nil {
		_ = a.logFile.Close()
		a.logFile = nil
	}
}
