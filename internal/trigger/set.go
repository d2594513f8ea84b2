package trigger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/vk/scopegrid/internal/ctxlog"
	"github.com/vk/scopegrid/internal/instrument"
	"github.com/vk/scopegrid/internal/waveform"
)

var (
	ErrGroupNotFound  = errors.New("trigger group not found")
	ErrDuplicateGroup = errors.New("duplicate trigger group")
)

// Set owns the trigger groups of a session and keeps every instrument in
// exactly one of them. Its lock ranks after the instrument list and before
// the dirty set; group locks are only ever taken while holding it or alone.
type Set struct {
	mu           sync.Mutex
	groups       []*Group
	byInstrument map[string]*Group
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{byInstrument: make(map[string]*Group)}
}

// AddGroup creates a new, empty group.
func (s *Set) AddGroup(name string, isDefault bool) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.find(name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateGroup, name)
	}
	g := NewGroup(name, isDefault)
	s.groups = append(s.groups, g)
	return g, nil
}

func (s *Set) find(name string) *Group {
	for _, g := range s.groups {
		if g.name == name {
			return g
		}
	}
	return nil
}

// Group returns a group by name.
func (s *Set) Group(name string) (*Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.find(name)
	return g, g != nil
}

// Groups returns the groups in creation order.
func (s *Set) Groups() []*Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.groups)
}

// Len returns the number of groups.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.groups)
}

// AddInstrument puts inst into the named group, first taking it out of any
// group it was in. outputs are the channel streams downloads publish to.
func (s *Set) AddInstrument(group string, inst instrument.Instrument, outputs [][]*waveform.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.find(group)
	if g == nil {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, group)
	}
	if old, ok := s.byInstrument[inst.Name()]; ok {
		old.removeInstrument(inst.Name())
	}
	g.addInstrument(inst, outputs)
	s.byInstrument[inst.Name()] = g
	return nil
}

// RemoveInstrument takes an instrument out of its group. The group may be
// left empty; GarbageCollect removes it later.
func (s *Set) RemoveInstrument(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.byInstrument[name]
	if !ok {
		return false
	}
	delete(s.byInstrument, name)
	return g.removeInstrument(name)
}

// GroupOf returns the group an instrument belongs to.
func (s *Set) GroupOf(instrument string) (*Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.byInstrument[instrument]
	return g, ok
}

// GarbageCollect removes the first empty group, if any, and returns its
// name. At most one group goes per call so a long list never stalls the
// caller.
func (s *Set) GarbageCollect(ctx context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.groups, func(g *Group) bool { return g.Empty() })
	if i < 0 {
		return "", false
	}
	name := s.groups[i].name
	s.groups = slices.Delete(s.groups, i, i+1)
	ctxlog.FromContext(ctx).Debug("Removed empty trigger group.", "group", name)
	return name, true
}

// Memberships snapshots every group in creation order.
func (s *Set) Memberships() []Membership {
	groups := s.Groups()
	out := make([]Membership, len(groups))
	for i, g := range groups {
		out[i] = g.Membership()
	}
	return out
}
