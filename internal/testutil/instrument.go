package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vk/scopegrid/internal/instrument"
	"github.com/vk/scopegrid/internal/waveform"
)

// CallLog records instrument calls in the order they happened, across any
// number of instruments.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *CallLog) add(call string) {
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

// Calls returns a copy of the log, e.g. ["sec1.arm:single", "pri.arm:single"].
func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Reset empties the log.
func (l *CallLog) Reset() {
	l.mu.Lock()
	l.calls = nil
	l.mu.Unlock()
}

// Count returns how many entries equal call.
func (l *CallLog) Count(call string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == call {
			n++
		}
	}
	return n
}

// FakeInstrument is a recording instrument double. Data becomes available
// only when the test calls Capture. Poll calls are not recorded, so a log
// shows exactly the calls that change instrument state.
type FakeInstrument struct {
	name     string
	channels int
	log      *CallLog

	Offline atomic.Bool
	// ArmErr, when set, is returned by Arm.
	ArmErr error

	mu      sync.Mutex
	fresh   bool
	start   waveform.Timestamp
	samples []float64
	polls   int
	fetches int
}

// NewFakeInstrument creates a double that records into log, which may be shared.
func NewFakeInstrument(name string, channels int, log *CallLog) *FakeInstrument {
	if log == nil {
		log = &CallLog{}
	}
	return &FakeInstrument{name: name, channels: channels, log: log}
}

func (f *FakeInstrument) Name() string          { return f.name }
func (f *FakeInstrument) ChannelCount() int     { return f.channels }
func (f *FakeInstrument) StreamNames() []string { return []string{"data"} }
func (f *FakeInstrument) IsOffline() bool       { return f.Offline.Load() }

func (f *FakeInstrument) Arm(_ context.Context, kind instrument.TriggerKind) error {
	if f.ArmErr != nil {
		return f.ArmErr
	}
	f.log.add(fmt.Sprintf("%s.arm:%s", f.name, kind))
	return nil
}

func (f *FakeInstrument) Stop(context.Context) error {
	f.log.add(f.name + ".stop")
	return nil
}

func (f *FakeInstrument) HasNewData() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return f.fresh
}

func (f *FakeInstrument) FetchInto(_ context.Context, outputs [][]*waveform.Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.fresh {
		return errors.New("fake: nothing to fetch")
	}
	f.fresh = false
	f.fetches++
	for _, streams := range outputs {
		for _, s := range streams {
			s.Publish(&waveform.Waveform{Samples: f.samples, Timescale: 1000, Start: f.start})
		}
	}
	f.log.add(f.name + ".fetch")
	return nil
}

// Capture buffers a capture stamped with start, as if the device triggered.
func (f *FakeInstrument) Capture(start waveform.Timestamp, samples ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fresh = true
	f.start = start
	f.samples = samples
}

// Polls returns the number of HasNewData calls.
func (f *FakeInstrument) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// Fetches returns the number of successful FetchInto calls.
func (f *FakeInstrument) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// Streams builds output streams shaped for an instrument.
func Streams(inst instrument.Instrument) [][]*waveform.Stream {
	out := make([][]*waveform.Stream, inst.ChannelCount())
	for ch := range out {
		for _, name := range inst.StreamNames() {
			out[ch] = append(out[ch], waveform.NewStream(name))
		}
	}
	return out
}
