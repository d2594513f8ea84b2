// Package trigger coordinates arming and downloading across the instruments
// of one logical acquisition.
//
// A Group has at most one primary instrument and any number of secondaries.
// Secondaries are always armed before the primary so the primary cannot fire
// before every secondary is ready for the correlated event. Stop goes the
// other way round: primary first, then secondaries in insertion order.
//
// Groups whose members are all offline, or that hold only software nodes,
// count as armed once Arm is called and report pending data on a synthetic
// timer, so the session's polling loop keeps driving their filters.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vk/scopegrid/internal/ctxlog"
	"github.com/vk/scopegrid/internal/graph"
	"github.com/vk/scopegrid/internal/instrument"
	"github.com/vk/scopegrid/internal/waveform"
)

var (
	// ErrNotPending is returned by Download when the group has nothing to download.
	ErrNotPending = errors.New("trigger group has no pending waveforms")
	// ErrPartiallyOffline is returned by Arm when some, but not all, members are offline.
	ErrPartiallyOffline = errors.New("trigger group has offline instruments")
)

type member struct {
	inst    instrument.Instrument
	outputs [][]*waveform.Stream
}

// Group is one trigger group. All methods are safe for concurrent use.
type Group struct {
	name      string
	isDefault bool

	mu          sync.Mutex
	primary     *member
	secondaries []*member
	nodes       []graph.Handle

	// armed is the triggered-but-not-yet-downloaded state of the group.
	armed             bool
	kind              instrument.TriggerKind
	multiScopeFreeRun bool
	// stalled marks a free-running group whose re-arm found a member offline.
	stalled      bool
	lastDownload time.Time
	synthetic    time.Duration
	now          func() time.Time
}

// NewGroup creates an empty group. Default groups take part in a plain
// arm-everything request.
func NewGroup(name string, isDefault bool) *Group {
	return &Group{name: name, isDefault: isDefault, now: time.Now}
}

func (g *Group) Name() string    { return g.name }
func (g *Group) IsDefault() bool { return g.isDefault }

// SetSyntheticInterval sets how often a group with no online instruments
// reports pending data while armed. Zero means on every poll.
func (g *Group) SetSyntheticInterval(d time.Duration) {
	g.mu.Lock()
	g.synthetic = d
	g.mu.Unlock()
}

// members returns primary first, then secondaries. Callers hold g.mu.
func (g *Group) members() []*member {
	out := make([]*member, 0, 1+len(g.secondaries))
	if g.primary != nil {
		out = append(out, g.primary)
	}
	return append(out, g.secondaries...)
}

// online returns members that are currently reachable. Callers hold g.mu.
func (g *Group) online() []*member {
	var out []*member
	for _, m := range g.members() {
		if !m.inst.IsOffline() {
			out = append(out, m)
		}
	}
	return out
}

// Arm arms the group. If some members are offline nothing is armed and
// ErrPartiallyOffline is returned. A group with no online instrument is
// considered armed without touching hardware.
func (g *Group) Arm(ctx context.Context, kind instrument.TriggerKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.arm(ctx, kind)
}

func (g *Group) arm(ctx context.Context, kind instrument.TriggerKind) error {
	logger := ctxlog.FromContext(ctx).With("group", g.name)

	all := g.members()
	online := g.online()
	if len(online) > 0 && len(online) < len(all) {
		var offline []string
		for _, m := range all {
			if m.inst.IsOffline() {
				offline = append(offline, m.inst.Name())
			}
		}
		logger.Warn("Not arming trigger group; instruments are offline.", "offline", offline)
		return fmt.Errorf("%w: %v", ErrPartiallyOffline, offline)
	}

	g.kind = kind
	if len(online) == 0 {
		g.armed = true
		g.stalled = false
		g.multiScopeFreeRun = false
		g.lastDownload = g.now()
		logger.Debug("Trigger group has no online instruments; armed without hardware.", "kind", kind)
		return nil
	}

	multi := len(online) > 1
	g.multiScopeFreeRun = kind == instrument.FreeRun && multi

	secondaryKind := instrument.Single
	if kind == instrument.Forced {
		secondaryKind = instrument.Forced
	}
	for _, m := range g.secondaries {
		if err := m.inst.Arm(ctx, secondaryKind); err != nil {
			return fmt.Errorf("arm secondary %s: %w", m.inst.Name(), err)
		}
	}

	primaryKind := kind
	switch {
	case kind == instrument.Forced:
	case kind == instrument.Single || multi:
		primaryKind = instrument.Single
	}
	if err := g.primary.inst.Arm(ctx, primaryKind); err != nil {
		return fmt.Errorf("arm primary %s: %w", g.primary.inst.Name(), err)
	}

	g.armed = true
	g.stalled = false
	logger.Debug("Trigger group armed.", "kind", kind, "instruments", len(online))
	return nil
}

// Stop stops the primary, then the secondaries, and drops any pending state.
// Offline members are skipped.
func (g *Group) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for _, m := range g.members() {
		if m.inst.IsOffline() {
			continue
		}
		if err := m.inst.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", m.inst.Name(), err))
		}
	}
	g.armed = false
	g.stalled = false
	g.multiScopeFreeRun = false
	ctxlog.FromContext(ctx).Debug("Trigger group stopped.", "group", g.name)
	return errors.Join(errs...)
}

// Armed reports whether the group is armed.
func (g *Group) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

// Kind returns the trigger kind of the most recent Arm.
func (g *Group) Kind() instrument.TriggerKind {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.kind
}

// CheckForPendingWaveforms reports whether every online member has a capture
// buffered. It has no side effects and can be called any number of times.
func (g *Group) CheckForPendingWaveforms() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending()
}

func (g *Group) pending() bool {
	if !g.armed {
		return false
	}
	online := g.online()
	if len(online) == 0 {
		return g.now().Sub(g.lastDownload) >= g.synthetic
	}
	for _, m := range online {
		if !m.inst.HasNewData() {
			return false
		}
	}
	return true
}

// Capture is the data one instrument delivered in a download.
type Capture struct {
	Instrument string
	// Start is the timestamp of the instrument's first channel.
	Start waveform.Timestamp
	// Channels holds the published waveforms, indexed by channel then stream.
	Channels [][]*waveform.Waveform
}

// Result describes one completed group download.
type Result struct {
	Group    string
	Captures []Capture
	// Failed names instruments whose fetch returned an error.
	Failed []string
}

// Download pulls buffered data from every online member into its channel
// streams. It re-checks the poll under the group lock and returns
// ErrNotPending instead of touching hardware when the poll is false.
// Callers hold the waveform-data lock exclusively.
func (g *Group) Download(ctx context.Context) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.pending() {
		return Result{}, fmt.Errorf("%s: %w", g.name, ErrNotPending)
	}

	logger := ctxlog.FromContext(ctx).With("group", g.name)
	res := Result{Group: g.name}
	for _, m := range g.online() {
		if err := m.inst.FetchInto(ctx, m.outputs); err != nil {
			logger.Error("Failed to download waveforms.", "instrument", m.inst.Name(), "error", err)
			res.Failed = append(res.Failed, m.inst.Name())
			continue
		}
		res.Captures = append(res.Captures, captureOf(m))
	}

	g.lastDownload = g.now()
	if g.kind.OneShot() {
		g.armed = false
	}
	logger.Debug("Trigger group downloaded.", "captures", len(res.Captures), "failed", len(res.Failed))
	return res, nil
}

func captureOf(m *member) Capture {
	c := Capture{Instrument: m.inst.Name(), Channels: make([][]*waveform.Waveform, len(m.outputs))}
	for ch, streams := range m.outputs {
		c.Channels[ch] = make([]*waveform.Waveform, len(streams))
		for i, s := range streams {
			w := s.Data()
			c.Channels[ch][i] = w
			if w != nil && c.Start.IsZero() {
				c.Start = w.Start
			}
		}
	}
	return c
}

// RearmIfMultiScope re-arms a free-running group of more than one instrument
// after a completed cycle. A single free-running instrument re-arms itself.
// It reports whether the group was re-armed. On error the group is left
// disarmed; if the cause was an offline member it is marked stalled and
// Resume picks it up once every member is back.
func (g *Group) RearmIfMultiScope(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.armed || !g.multiScopeFreeRun {
		return false, nil
	}
	if err := g.arm(ctx, instrument.FreeRun); err != nil {
		g.armed = false
		g.multiScopeFreeRun = false
		g.stalled = errors.Is(err, ErrPartiallyOffline)
		return false, err
	}
	return true, nil
}

// Stalled reports whether a free-run re-arm failed on an offline member.
func (g *Group) Stalled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stalled
}

// Resume re-arms a stalled group in free-run once no member is offline.
// It reports whether the group was re-armed.
func (g *Group) Resume(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.stalled {
		return false, nil
	}
	if n := len(g.online()); n > 0 && n < len(g.members()) {
		return false, nil
	}
	if err := g.arm(ctx, instrument.FreeRun); err != nil {
		g.stalled = errors.Is(err, ErrPartiallyOffline)
		return false, err
	}
	return true, nil
}
