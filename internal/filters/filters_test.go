package filters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/scopegrid/internal/graph"
	"github.com/vk/scopegrid/internal/waveform"
	"github.com/zclconf/go-cty/cty"
)

func build(t *testing.T, typ string, params map[string]cty.Value) graph.Computer {
	t.Helper()
	p := cty.EmptyObjectVal
	if params != nil {
		p = cty.ObjectVal(params)
	}
	c, err := Builtins().Build(typ, p)
	require.NoError(t, err)
	return c
}

// run computes c over inputs and returns every published output.
func run(t *testing.T, c graph.Computer, inputs ...*waveform.Waveform) ([]*waveform.Waveform, error) {
	t.Helper()
	outs := make([]*waveform.Stream, len(c.OutputNames()))
	for i, name := range c.OutputNames() {
		outs[i] = waveform.NewStream(name)
	}
	err := c.Compute(context.Background(), inputs, outs)
	data := make([]*waveform.Waveform, len(outs))
	for i, s := range outs {
		data[i] = s.Data()
	}
	return data, err
}

func wave(samples ...float64) *waveform.Waveform {
	return &waveform.Waveform{Samples: samples, Timescale: 1000, TriggerPhase: 5, Start: waveform.Timestamp{Seconds: 3}}
}

func TestRegistry(t *testing.T) {
	r := Builtins()
	assert.Equal(t, []string{"average", "offset", "rms", "scale", "subtract", "threshold"}, r.Types())

	_, err := r.Build("fft", cty.EmptyObjectVal)
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = r.Build("scale", cty.ObjectVal(map[string]cty.Value{"gain": cty.NumberIntVal(2)}))
	assert.ErrorContains(t, err, `filter type "scale"`)

	assert.Panics(t, func() { r.Register("scale", newScale) })
}

func TestScaleAndOffset(t *testing.T) {
	scale := build(t, "scale", map[string]cty.Value{"factor": cty.NumberFloatVal(0.5)})
	out, err := run(t, scale, wave(2, -4))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -2}, out[0].Samples)
	assert.Equal(t, int64(1000), out[0].Timescale)
	assert.Equal(t, int64(5), out[0].TriggerPhase)
	assert.Equal(t, int64(3), out[0].Start.Seconds)

	out, err = run(t, build(t, "scale", nil), wave(7))
	require.NoError(t, err)
	assert.Equal(t, []float64{7}, out[0].Samples, "default factor is 1")

	offset := build(t, "offset", map[string]cty.Value{"offset": cty.NumberIntVal(-1)})
	out, err = run(t, offset, wave(1, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, out[0].Samples)
}

func TestSubtract(t *testing.T) {
	sub := build(t, "subtract", nil)
	assert.Equal(t, []string{"a", "b"}, sub.InputNames())

	out, err := run(t, sub, wave(5, 5, 5), wave(1, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 3}, out[0].Samples)

	other := wave(1)
	other.Timescale = 2000
	_, err = run(t, sub, wave(1), other)
	assert.ErrorContains(t, err, "timescale mismatch")
}

func TestAverage(t *testing.T) {
	avg := build(t, "average", map[string]cty.Value{"window": cty.NumberIntVal(2)})
	out, err := run(t, avg, wave(2, 4, 6, 8))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 5, 7}, out[0].Samples)

	_, err = Builtins().Build("average", cty.ObjectVal(map[string]cty.Value{"window": cty.NumberIntVal(0)}))
	assert.ErrorContains(t, err, "window must be at least 1")
}

func TestThreshold(t *testing.T) {
	th := build(t, "threshold", map[string]cty.Value{
		"level":      cty.NumberFloatVal(1),
		"hysteresis": cty.NumberFloatVal(0.5),
	})
	out, err := run(t, th, wave(0, 1.2, 0.8, 0.4, 1.1))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 1, 0, 1}, out[0].Samples)
}

func TestRMS(t *testing.T) {
	rms := build(t, "rms", nil)
	out, err := run(t, rms, wave(3, -3, 3, -3))
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, out[0].Samples)
	assert.Equal(t, []float64{0}, out[1].Samples)

	_, err = run(t, rms, wave())
	assert.Error(t, err)
}
