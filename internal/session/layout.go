package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/scopegrid/internal/graph"
	"github.com/vk/scopegrid/internal/instrument"
	"github.com/vk/scopegrid/internal/waveform"
)

var ErrDuplicateInstrument = errors.New("duplicate instrument")

// AddInstrument registers an instrument, creates one channel node per
// channel and puts it into the named trigger group, creating a default group
// of that name if needed. An empty group name means a group named after the
// instrument.
func (s *Session) AddInstrument(ctx context.Context, inst instrument.Instrument, group string) ([]graph.Handle, error) {
	if group == "" {
		group = inst.Name()
	}

	s.instMu.Lock()
	defer s.instMu.Unlock()

	if _, exists := s.instruments[inst.Name()]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateInstrument, inst.Name())
	}

	entry := &instEntry{inst: inst}
	outputs := make([][]*waveform.Stream, inst.ChannelCount())
	for ch := range outputs {
		h, err := s.graph.AddChannel(inst.Name(), ch, inst.StreamNames()...)
		if err != nil {
			s.removeChannels(ctx, entry)
			return nil, err
		}
		entry.channels = append(entry.channels, h)
		n, _ := s.graph.Node(h)
		outputs[ch] = n.Outputs()
	}

	if _, ok := s.triggers.Group(group); !ok {
		g, err := s.triggers.AddGroup(group, true)
		if err != nil {
			s.removeChannels(ctx, entry)
			return nil, err
		}
		g.SetSyntheticInterval(s.synthetic)
	}
	if err := s.triggers.AddInstrument(group, inst, outputs); err != nil {
		s.removeChannels(ctx, entry)
		return nil, err
	}

	s.instruments[inst.Name()] = entry
	s.instOrder = append(s.instOrder, inst.Name())
	return entry.channels, nil
}

func (s *Session) removeChannels(ctx context.Context, entry *instEntry) {
	for _, h := range entry.channels {
		_ = s.graph.Remove(ctx, h)
	}
}

// RemoveInstrument takes an instrument out of the session. Its trigger group
// may become empty and is collected later. Filters still reading its
// channels are left dangling and error on their next refresh.
func (s *Session) RemoveInstrument(ctx context.Context, name string) bool {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	s.instMu.Lock()
	defer s.instMu.Unlock()

	entry, ok := s.instruments[name]
	if !ok {
		return false
	}
	s.triggers.RemoveInstrument(name)
	s.removeChannels(ctx, entry)
	delete(s.instruments, name)
	for i, n := range s.instOrder {
		if n == name {
			s.instOrder = append(s.instOrder[:i], s.instOrder[i+1:]...)
			break
		}
	}
	return true
}

// Instruments returns the registered instruments in the order they were added.
func (s *Session) Instruments() []instrument.Instrument {
	s.instMu.Lock()
	defer s.instMu.Unlock()
	out := make([]instrument.Instrument, len(s.instOrder))
	for i, name := range s.instOrder {
		out[i] = s.instruments[name].inst
	}
	return out
}

// ChannelNodes returns the channel nodes of an instrument.
func (s *Session) ChannelNodes(name string) ([]graph.Handle, bool) {
	s.instMu.Lock()
	defer s.instMu.Unlock()
	entry, ok := s.instruments[name]
	if !ok {
		return nil, false
	}
	return append([]graph.Handle(nil), entry.channels...), true
}

// anyOnline reports whether at least one registered instrument is reachable.
// Every instrument belongs to exactly one trigger group.
func (s *Session) anyOnline() bool {
	for _, g := range s.triggers.Groups() {
		if g.HasOnlineInstrument() {
			return true
		}
	}
	return false
}

// AddTriggerGroup creates an empty trigger group.
func (s *Session) AddTriggerGroup(name string, isDefault bool) error {
	g, err := s.triggers.AddGroup(name, isDefault)
	if err != nil {
		return err
	}
	g.SetSyntheticInterval(s.synthetic)
	return nil
}

// MoveInstrument moves an instrument into another existing group.
func (s *Session) MoveInstrument(name, group string) error {
	s.instMu.Lock()
	defer s.instMu.Unlock()

	entry, ok := s.instruments[name]
	if !ok {
		return fmt.Errorf("%w: instrument %s", graph.ErrNotFound, name)
	}
	outputs := make([][]*waveform.Stream, len(entry.channels))
	for ch, h := range entry.channels {
		if n, ok := s.graph.Node(h); ok {
			outputs[ch] = n.Outputs()
		}
	}
	return s.triggers.AddInstrument(group, entry.inst, outputs)
}

// AddGroupNode makes a trigger group responsible for a software node.
func (s *Session) AddGroupNode(group string, h graph.Handle) error {
	g, ok := s.triggers.Group(group)
	if !ok {
		return fmt.Errorf("trigger group %s: %w", group, graph.ErrNotFound)
	}
	if _, ok := s.graph.Node(h); !ok {
		return fmt.Errorf("%w: %s", graph.ErrNotFound, h)
	}
	g.AddNode(h)
	return nil
}

// AddFilter creates a filter node.
func (s *Session) AddFilter(name string, f graph.Computer) (graph.Handle, error) {
	return s.graph.AddFilter(name, f)
}

// Bind connects a filter input to another node's output stream.
func (s *Session) Bind(dst graph.Handle, input int, src graph.Handle, stream int) error {
	return s.graph.Bind(dst, input, src, stream)
}

// RemoveNode deletes a filter node. It waits for any refresh in flight.
func (s *Session) RemoveNode(ctx context.Context, h graph.Handle) error {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	for _, g := range s.triggers.Groups() {
		g.RemoveNode(h)
	}
	return s.graph.Remove(ctx, h)
}
