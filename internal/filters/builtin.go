package filters

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/vk/scopegrid/internal/config"
	"github.com/vk/scopegrid/internal/graph"
	"github.com/vk/scopegrid/internal/waveform"
	"github.com/zclconf/go-cty/cty"
)

// derive returns an empty waveform on the same time base as src.
func derive(src *waveform.Waveform, n int) *waveform.Waveform {
	return &waveform.Waveform{
		Samples:      make([]float64, n),
		Timescale:    src.Timescale,
		TriggerPhase: src.TriggerPhase,
		Start:        src.Start,
	}
}

// unary is a one-in, one-out filter applying fn to every sample.
type unary struct {
	typ string
	fn  func(float64) float64
}

func (u *unary) Type() string          { return u.typ }
func (u *unary) InputNames() []string  { return []string{"in"} }
func (u *unary) OutputNames() []string { return []string{"out"} }

func (u *unary) Compute(_ context.Context, in []*waveform.Waveform, out []*waveform.Stream) error {
	src := in[0]
	w := derive(src, len(src.Samples))
	for i, v := range src.Samples {
		w.Samples[i] = u.fn(v)
	}
	out[0].Publish(w)
	return nil
}

type scaleParams struct {
	Factor float64 `cty:"factor"`
}

func newScale(params cty.Value) (graph.Computer, error) {
	p := scaleParams{Factor: 1}
	if err := config.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	return &unary{typ: "scale", fn: func(v float64) float64 { return v * p.Factor }}, nil
}

type offsetParams struct {
	Offset float64 `cty:"offset"`
}

func newOffset(params cty.Value) (graph.Computer, error) {
	var p offsetParams
	if err := config.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	return &unary{typ: "offset", fn: func(v float64) float64 { return v + p.Offset }}, nil
}

// Subtract computes a - b sample by sample over the shorter of the two.
type Subtract struct{}

func newSubtract(params cty.Value) (graph.Computer, error) {
	if err := config.DecodeParams(params, &struct{}{}); err != nil {
		return nil, err
	}
	return Subtract{}, nil
}

func (Subtract) Type() string          { return "subtract" }
func (Subtract) InputNames() []string  { return []string{"a", "b"} }
func (Subtract) OutputNames() []string { return []string{"out"} }

func (Subtract) Compute(_ context.Context, in []*waveform.Waveform, out []*waveform.Stream) error {
	a, b := in[0], in[1]
	if a.Timescale != b.Timescale {
		return fmt.Errorf("timescale mismatch: %d fs vs %d fs", a.Timescale, b.Timescale)
	}
	n := min(len(a.Samples), len(b.Samples))
	w := derive(a, n)
	for i := range n {
		w.Samples[i] = a.Samples[i] - b.Samples[i]
	}
	out[0].Publish(w)
	return nil
}

// Average is a trailing moving average.
type Average struct {
	Window int `cty:"window"`
}

func newAverage(params cty.Value) (graph.Computer, error) {
	a := &Average{Window: 4}
	if err := config.DecodeParams(params, a); err != nil {
		return nil, err
	}
	if a.Window < 1 {
		return nil, fmt.Errorf("window must be at least 1, got %d", a.Window)
	}
	return a, nil
}

func (a *Average) Type() string          { return "average" }
func (a *Average) InputNames() []string  { return []string{"in"} }
func (a *Average) OutputNames() []string { return []string{"out"} }

func (a *Average) Compute(_ context.Context, in []*waveform.Waveform, out []*waveform.Stream) error {
	src := in[0]
	w := derive(src, len(src.Samples))
	var sum float64
	for i, v := range src.Samples {
		sum += v
		if i >= a.Window {
			sum -= src.Samples[i-a.Window]
		}
		w.Samples[i] = sum / float64(min(i+1, a.Window))
	}
	out[0].Publish(w)
	return nil
}

// Threshold turns its input into a 0/1 logic trace. The output goes high
// when the input rises above Level and low once it falls below
// Level-Hysteresis.
type Threshold struct {
	Level      float64 `cty:"level"`
	Hysteresis float64 `cty:"hysteresis"`
}

func newThreshold(params cty.Value) (graph.Computer, error) {
	t := &Threshold{}
	if err := config.DecodeParams(params, t); err != nil {
		return nil, err
	}
	if t.Hysteresis < 0 {
		return nil, errors.New("hysteresis must not be negative")
	}
	return t, nil
}

func (t *Threshold) Type() string          { return "threshold" }
func (t *Threshold) InputNames() []string  { return []string{"in"} }
func (t *Threshold) OutputNames() []string { return []string{"out"} }

func (t *Threshold) Compute(_ context.Context, in []*waveform.Waveform, out []*waveform.Stream) error {
	src := in[0]
	w := derive(src, len(src.Samples))
	high := false
	for i, v := range src.Samples {
		switch {
		case !high && v > t.Level:
			high = true
		case high && v < t.Level-t.Hysteresis:
			high = false
		}
		if high {
			w.Samples[i] = 1
		}
	}
	out[0].Publish(w)
	return nil
}

// RMS measures its input. Each output carries a single sample.
type RMS struct{}

func newRMS(params cty.Value) (graph.Computer, error) {
	if err := config.DecodeParams(params, &struct{}{}); err != nil {
		return nil, err
	}
	return RMS{}, nil
}

func (RMS) Type() string          { return "rms" }
func (RMS) InputNames() []string  { return []string{"in"} }
func (RMS) OutputNames() []string { return []string{"rms", "mean"} }

func (RMS) Compute(_ context.Context, in []*waveform.Waveform, out []*waveform.Stream) error {
	src := in[0]
	if len(src.Samples) == 0 {
		return errors.New("no samples to measure")
	}
	var sum, sq float64
	for _, v := range src.Samples {
		sum += v
		sq += v * v
	}
	n := float64(len(src.Samples))

	rms := derive(src, 1)
	rms.Samples[0] = math.Sqrt(sq / n)
	mean := derive(src, 1)
	mean.Samples[0] = sum / n
	out[0].Publish(rms)
	out[1].Publish(mean)
	return nil
}
