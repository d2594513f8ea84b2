package trigger

import (
	"slices"

	"github.com/vk/scopegrid/internal/graph"
	"github.com/vk/scopegrid/internal/instrument"
	"github.com/vk/scopegrid/internal/waveform"
)

// addInstrument appends inst, as primary if the group has none.
func (g *Group) addInstrument(inst instrument.Instrument, outputs [][]*waveform.Stream) {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := &member{inst: inst, outputs: outputs}
	if g.primary == nil {
		g.primary = m
		return
	}
	g.secondaries = append(g.secondaries, m)
}

// removeInstrument drops inst. Removing the primary promotes the oldest
// secondary.
func (g *Group) removeInstrument(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.primary != nil && g.primary.inst.Name() == name {
		g.primary = nil
		if len(g.secondaries) > 0 {
			g.primary = g.secondaries[0]
			g.secondaries = g.secondaries[1:]
		}
		return true
	}
	i := slices.IndexFunc(g.secondaries, func(m *member) bool { return m.inst.Name() == name })
	if i < 0 {
		return false
	}
	g.secondaries = slices.Delete(g.secondaries, i, i+1)
	return true
}

// MakePrimary promotes a secondary. The old primary becomes the first
// secondary. It reports false if name is not a secondary of this group.
func (g *Group) MakePrimary(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	i := slices.IndexFunc(g.secondaries, func(m *member) bool { return m.inst.Name() == name })
	if i < 0 {
		return false
	}
	promoted := g.secondaries[i]
	g.secondaries = slices.Delete(g.secondaries, i, i+1)
	if g.primary != nil {
		g.secondaries = slices.Insert(g.secondaries, 0, g.primary)
	}
	g.primary = promoted
	return true
}

// AddNode makes the group responsible for waking a software node.
func (g *Group) AddNode(h graph.Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !slices.Contains(g.nodes, h) {
		g.nodes = append(g.nodes, h)
	}
}

// RemoveNode drops a software node from the group.
func (g *Group) RemoveNode(h graph.Handle) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := slices.Index(g.nodes, h)
	if i < 0 {
		return false
	}
	g.nodes = slices.Delete(g.nodes, i, i+1)
	return true
}

// Empty reports whether the group has neither instruments nor nodes.
func (g *Group) Empty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.primary == nil && len(g.secondaries) == 0 && len(g.nodes) == 0
}

// HasHardware reports whether the group holds any instrument.
func (g *Group) HasHardware() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.primary != nil
}

// HasOnlineInstrument reports whether any member is reachable.
func (g *Group) HasOnlineInstrument() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.online()) > 0
}

// Instruments returns the member instruments, primary first.
func (g *Group) Instruments() []instrument.Instrument {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := g.members()
	out := make([]instrument.Instrument, len(ms))
	for i, m := range ms {
		out[i] = m.inst
	}
	return out
}

// Membership is the persisted shape of a group.
type Membership struct {
	Name        string
	Default     bool
	Primary     string
	Secondaries []string
	Nodes       []graph.Handle
	Armed       bool
	Kind        instrument.TriggerKind
}

// Membership snapshots the group for an external serializer.
func (g *Group) Membership() Membership {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := Membership{
		Name:    g.name,
		Default: g.isDefault,
		Nodes:   slices.Clone(g.nodes),
		Armed:   g.armed,
		Kind:    g.kind,
	}
	if g.primary != nil {
		m.Primary = g.primary.inst.Name()
	}
	for _, s := range g.secondaries {
		m.Secondaries = append(m.Secondaries, s.inst.Name())
	}
	return m
}
