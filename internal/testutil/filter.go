package testutil

import (
	"context"
	"sync"

	"github.com/vk/scopegrid/internal/waveform"
)

// Probe is a pass-through filter that records each compute into a CallLog
// as "<name>.compute". If Gate is set, Compute signals Entered and then
// blocks until Gate is closed.
type Probe struct {
	name string
	log  *CallLog

	Gate    chan struct{}
	Entered chan struct{}
	Err     error

	once sync.Once
}

// NewProbe creates a probe filter.
func NewProbe(name string, log *CallLog) *Probe {
	return &Probe{name: name, log: log}
}

func (p *Probe) Type() string          { return "probe" }
func (p *Probe) InputNames() []string  { return []string{"in"} }
func (p *Probe) OutputNames() []string { return []string{"out"} }

func (p *Probe) Compute(_ context.Context, in []*waveform.Waveform, out []*waveform.Stream) error {
	p.log.add(p.name + ".compute")
	if p.Gate != nil {
		if p.Entered != nil {
			p.once.Do(func() { close(p.Entered) })
		}
		<-p.Gate
	}
	if p.Err != nil {
		return p.Err
	}
	out[0].Publish(in[0])
	return nil
}
