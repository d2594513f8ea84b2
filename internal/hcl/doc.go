// Package hcl provides the HCL implementation of the `config.Loader`
// interface. It parses `trigger_group`, `instrument` and `filter` blocks
// from .hcl files and translates them into a `config.Layout`. Parameter
// objects are evaluated to cty values and left for each driver or filter
// to decode.
package hcl
