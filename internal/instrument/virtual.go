package instrument

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/scopegrid/internal/ctxlog"
	"github.com/vk/scopegrid/internal/waveform"
)

// ErrOffline is returned by operations on an instrument that is offline.
var ErrOffline = errors.New("instrument offline")

// VirtualConfig describes a simulated oscilloscope.
type VirtualConfig struct {
	Channels  int     `cty:"channels"`
	Samples   int     `cty:"samples"`
	Timescale int64   `cty:"timescale_fs"`
	Frequency float64 `cty:"frequency_hz"`
	Amplitude float64 `cty:"amplitude"`
	Noise     float64 `cty:"noise"`
	// Interval is the capture period in milliseconds.
	Interval int64 `cty:"interval_ms"`
	Seed     int64 `cty:"seed"`
}

// DefaultVirtualConfig is a 4-channel, 1 GS/s scope capturing every 20ms.
func DefaultVirtualConfig() VirtualConfig {
	return VirtualConfig{
		Channels:  4,
		Samples:   1000,
		Timescale: 1_000_000, // 1 ns per sample
		Frequency: 10e6,
		Amplitude: 1,
		Noise:     0.05,
		Interval:  20,
		Seed:      1,
	}
}

func (c VirtualConfig) withDefaults() VirtualConfig {
	d := DefaultVirtualConfig()
	if c.Channels <= 0 {
		c.Channels = d.Channels
	}
	if c.Samples <= 0 {
		c.Samples = d.Samples
	}
	if c.Timescale <= 0 {
		c.Timescale = d.Timescale
	}
	if c.Frequency <= 0 {
		c.Frequency = d.Frequency
	}
	if c.Amplitude == 0 {
		c.Amplitude = d.Amplitude
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	return c
}

// Virtual generates sine-plus-noise captures on its own goroutine.
type Virtual struct {
	name string
	cfg  VirtualConfig

	offline atomic.Bool
	// fetched counts completed FetchInto calls.
	fetched atomic.Uint64

	mu       sync.Mutex
	armed    bool
	kind     TriggerKind
	latest   [][]*waveform.Waveform
	fresh    bool
	captures uint64
	rng      *rand.Rand
	now      func() time.Time
	wake     chan struct{}
}

// NewVirtual creates a simulated instrument. Zero config fields take defaults.
func NewVirtual(name string, cfg VirtualConfig) *Virtual {
	cfg = cfg.withDefaults()
	seed := uint64(cfg.Seed)
	return &Virtual{
		name: name,
		cfg:  cfg,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:  time.Now,
		wake: make(chan struct{}, 1),
	}
}

func (v *Virtual) Name() string          { return v.name }
func (v *Virtual) ChannelCount() int     { return v.cfg.Channels }
func (v *Virtual) StreamNames() []string { return []string{"data"} }
func (v *Virtual) IsOffline() bool       { return v.offline.Load() }

// SetOffline simulates the device dropping off the bus or coming back.
func (v *Virtual) SetOffline(offline bool) {
	v.offline.Store(offline)
}

// Arm arms the simulated trigger. Forced captures at once.
func (v *Virtual) Arm(ctx context.Context, kind TriggerKind) error {
	if v.IsOffline() {
		return fmt.Errorf("arm %s: %w", v.name, ErrOffline)
	}
	v.mu.Lock()
	v.armed = true
	v.kind = kind
	v.mu.Unlock()
	ctxlog.FromContext(ctx).Debug("Virtual instrument armed.", "instrument", v.name, "kind", kind)

	if kind == Forced {
		v.Trigger()
		return nil
	}
	select {
	case v.wake <- struct{}{}:
	default:
	}
	return nil
}

// Stop disarms the trigger. A capture already buffered stays available.
func (v *Virtual) Stop(ctx context.Context) error {
	v.mu.Lock()
	v.armed = false
	v.mu.Unlock()
	ctxlog.FromContext(ctx).Debug("Virtual instrument stopped.", "instrument", v.name)
	return nil
}

// Armed reports whether the trigger is armed.
func (v *Virtual) Armed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.armed
}

// Captures returns the number of captures taken so far.
func (v *Virtual) Captures() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.captures
}

// Fetched returns the number of captures downloaded so far.
func (v *Virtual) Fetched() uint64 {
	return v.fetched.Load()
}

func (v *Virtual) HasNewData() bool {
	if v.IsOffline() {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fresh
}

func (v *Virtual) FetchInto(_ context.Context, outputs [][]*waveform.Stream) error {
	if v.IsOffline() {
		return fmt.Errorf("fetch %s: %w", v.name, ErrOffline)
	}
	v.mu.Lock()
	latest, fresh := v.latest, v.fresh
	v.fresh = false
	v.mu.Unlock()
	if !fresh {
		return fmt.Errorf("fetch %s: no capture buffered", v.name)
	}

	for ch, streams := range outputs {
		if ch >= len(latest) {
			break
		}
		for _, s := range streams {
			s.Publish(latest[ch][0])
		}
	}
	v.fetched.Add(1)
	return nil
}

// Trigger takes a capture now if the instrument is armed and online.
// Single and Forced disarm afterwards. It reports whether a capture was taken.
func (v *Virtual) Trigger() bool {
	if v.IsOffline() {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.armed {
		return false
	}

	start := waveform.TimestampFrom(v.now())
	phase := v.rng.Int64N(max(v.cfg.Timescale, 1))
	capture := make([][]*waveform.Waveform, v.cfg.Channels)
	for ch := range capture {
		capture[ch] = []*waveform.Waveform{v.synthesize(ch, start, phase)}
	}
	v.latest = capture
	v.fresh = true
	v.captures++
	if v.kind.OneShot() {
		v.armed = false
	}
	return true
}

// synthesize builds one channel. Callers hold v.mu.
func (v *Virtual) synthesize(ch int, start waveform.Timestamp, phase int64) *waveform.Waveform {
	samples := make([]float64, v.cfg.Samples)
	dt := float64(v.cfg.Timescale) / float64(waveform.FemtosPerSecond)
	offset := float64(ch) * math.Pi / 4
	for i := range samples {
		t := float64(i)*dt + float64(phase)/float64(waveform.FemtosPerSecond)
		samples[i] = v.cfg.Amplitude*math.Sin(2*math.Pi*v.cfg.Frequency*t+offset) + v.cfg.Noise*v.rng.NormFloat64()
	}
	return &waveform.Waveform{
		Samples:      samples,
		Timescale:    v.cfg.Timescale,
		TriggerPhase: phase,
		Start:        start,
	}
}

// Run is the acquisition loop. It captures once per interval while armed.
func (v *Virtual) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx).With("instrument", v.name)
	logger.Debug("Virtual acquisition loop started.", "interval_ms", v.cfg.Interval)
	ticker := time.NewTicker(time.Duration(v.cfg.Interval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Virtual acquisition loop stopped.")
			return nil
		case <-ticker.C:
		case <-v.wake:
			// Re-sync the period to the arm so the first capture is a full
			// interval after it.
			ticker.Reset(time.Duration(v.cfg.Interval) * time.Millisecond)
			continue
		}
		v.Trigger()
	}
}
