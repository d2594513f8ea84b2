package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// ErrInvalidLayout is returned when a layout is structurally unusable.
var ErrInvalidLayout = errors.New("invalid layout")

// Layout is the format-agnostic description of a session.
type Layout struct {
	Groups      []*GroupDef
	Instruments []*InstrumentDef
	Filters     []*FilterDef
}

// GroupDef declares a trigger group.
type GroupDef struct {
	Name string
	// Default groups take part in a normal arm of the session.
	Default bool
}

// InstrumentDef declares an instrument and the driver that provides it.
type InstrumentDef struct {
	Name   string
	Driver string
	// Group is the trigger group to join. Empty means a default group named
	// after the instrument.
	Group  string
	Params cty.Value
}

// FilterDef declares a derived node.
type FilterDef struct {
	Name string
	Type string
	// Group, when set, makes the group wake this filter on every
	// acquisition.
	Group  string
	Inputs []InputRef
	Params cty.Value
}

// InputRef points at one output stream of another node.
type InputRef struct {
	Node string
	// Stream names the output stream. Empty selects the first one.
	Stream string
}

func (r InputRef) String() string {
	if r.Stream == "" {
		return r.Node
	}
	return r.Node + ":" + r.Stream
}

// ParseInputRef parses "node" or "node:stream".
func ParseInputRef(s string) (InputRef, error) {
	node, stream, _ := strings.Cut(strings.TrimSpace(s), ":")
	if node == "" {
		return InputRef{}, fmt.Errorf("%w: empty input reference %q", ErrInvalidLayout, s)
	}
	return InputRef{Node: node, Stream: stream}, nil
}

// Instrument returns the instrument named name.
func (l *Layout) Instrument(name string) (*InstrumentDef, bool) {
	for _, d := range l.Instruments {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// Filter returns the filter named name.
func (l *Layout) Filter(name string) (*FilterDef, bool) {
	for _, d := range l.Filters {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// Validate checks names, group references and input references. Cycles are
// left to the graph, which rejects them when the binding is made.
func (l *Layout) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidLayout}, args...)...))
	}

	groups := make(map[string]bool)
	for _, g := range l.Groups {
		if g.Name == "" {
			fail("trigger group without a name")
			continue
		}
		if groups[g.Name] {
			fail("trigger group %q declared twice", g.Name)
		}
		groups[g.Name] = true
	}

	instruments := make(map[string]bool)
	for _, d := range l.Instruments {
		switch {
		case d.Name == "":
			fail("instrument without a name")
			continue
		case strings.ContainsAny(d.Name, ".:"):
			fail("instrument name %q must not contain '.' or ':'", d.Name)
		case instruments[d.Name]:
			fail("instrument %q declared twice", d.Name)
		}
		if d.Driver == "" {
			fail("instrument %q has no driver", d.Name)
		}
		instruments[d.Name] = true
		group := d.Group
		if group == "" {
			group = d.Name
		}
		groups[group] = true
	}

	filters := make(map[string]bool)
	for _, d := range l.Filters {
		switch {
		case d.Name == "":
			fail("filter without a name")
			continue
		case strings.Contains(d.Name, ":"):
			fail("filter name %q must not contain ':'", d.Name)
		case filters[d.Name]:
			fail("filter %q declared twice", d.Name)
		}
		if d.Type == "" {
			fail("filter %q has no type", d.Name)
		}
		filters[d.Name] = true
	}

	for _, d := range l.Filters {
		if d.Group != "" && !groups[d.Group] {
			fail("filter %q joins unknown trigger group %q", d.Name, d.Group)
		}
		for _, in := range d.Inputs {
			if in.Node == d.Name {
				fail("filter %q consumes its own output", d.Name)
				continue
			}
			if filters[in.Node] {
				continue
			}
			inst, _, isChannel := strings.Cut(in.Node, ".ch")
			if !isChannel || !instruments[inst] {
				fail("filter %q reads unknown node %q", d.Name, in.Node)
			}
		}
	}
	return errors.Join(errs...)
}
