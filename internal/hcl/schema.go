package hcl

import "github.com/hashicorp/hcl/v2"

// fileRoot is used to decode every top-level block from any file.
type fileRoot struct {
	Groups      []*TriggerGroup `hcl:"trigger_group,block"`
	Instruments []*Instrument   `hcl:"instrument,block"`
	Filters     []*Filter       `hcl:"filter,block"`
	Remain      hcl.Body        `hcl:",remain"`
}

// TriggerGroup is the schema of a `trigger_group "name" {}` block.
type TriggerGroup struct {
	Name    string `hcl:"name,label"`
	Default *bool  `hcl:"default,optional"`
}

// Instrument is the schema of an `instrument "name" {}` block.
type Instrument struct {
	Name   string         `hcl:"name,label"`
	Driver string         `hcl:"driver"`
	Group  string         `hcl:"group,optional"`
	Params hcl.Expression `hcl:"params,optional"`
}

// Filter is the schema of a `filter "type" "name" {}` block.
type Filter struct {
	Type   string         `hcl:"type,label"`
	Name   string         `hcl:"name,label"`
	Group  string         `hcl:"group,optional"`
	Inputs []string       `hcl:"inputs,optional"`
	Params hcl.Expression `hcl:"params,optional"`
}
