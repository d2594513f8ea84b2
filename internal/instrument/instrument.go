// Package instrument defines the contract the acquisition core uses to talk
// to hardware, plus a simulated driver.
//
// Drivers own their device I/O. They run their own goroutine, buffer the
// latest capture locally, and answer HasNewData without blocking.
package instrument

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/scopegrid/internal/waveform"
)

// TriggerKind selects how an instrument is armed.
type TriggerKind int

const (
	// Normal waits for a trigger event and re-arms after every capture.
	Normal TriggerKind = iota
	// Single waits for one trigger event, captures once and disarms.
	Single
	// Forced captures once immediately, without waiting for a trigger event.
	Forced
	// FreeRun keeps capturing until stopped.
	FreeRun
)

func (k TriggerKind) String() string {
	switch k {
	case Normal:
		return "normal"
	case Single:
		return "single"
	case Forced:
		return "forced"
	case FreeRun:
		return "freerun"
	default:
		return fmt.Sprintf("trigger(%d)", int(k))
	}
}

// OneShot reports whether the kind completes a single acquisition and then
// disarms.
func (k TriggerKind) OneShot() bool {
	return k == Single || k == Forced
}

// ParseTriggerKind parses the names produced by String.
func ParseTriggerKind(s string) (TriggerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "":
		return Normal, nil
	case "single":
		return Single, nil
	case "forced", "force":
		return Forced, nil
	case "freerun", "free-run", "free_run", "auto":
		return FreeRun, nil
	}
	return Normal, fmt.Errorf("unknown trigger kind %q", s)
}

// Instrument is one physical or virtual device.
type Instrument interface {
	Name() string
	// ChannelCount is fixed for the life of the instrument.
	ChannelCount() int
	// StreamNames lists the output streams every channel produces.
	StreamNames() []string
	IsOffline() bool
	Arm(ctx context.Context, kind TriggerKind) error
	Stop(ctx context.Context) error
	// HasNewData reports whether a capture is buffered and not yet fetched.
	// It must not block on device I/O and must not consume the capture.
	HasNewData() bool
	// FetchInto publishes the buffered capture. outputs is indexed by
	// channel, then by stream. The capture is consumed.
	FetchInto(ctx context.Context, outputs [][]*waveform.Stream) error
}

// Runner is implemented by drivers that need a goroutine of their own.
type Runner interface {
	Run(ctx context.Context) error
}
