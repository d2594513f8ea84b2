package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/scopegrid/internal/config"
	"github.com/vk/scopegrid/internal/ctxlog"
	"github.com/vk/scopegrid/internal/fsutil"
	"github.com/zclconf/go-cty/cty"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL layout loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file under paths, merges their blocks into one
// layout and validates it.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Layout, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	hclFiles, err := fsutil.FindFiles(paths, ".hcl")
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(hclFiles))
	if len(hclFiles) == 0 {
		return nil, fmt.Errorf("%w: no .hcl files found in %v", config.ErrInvalidLayout, paths)
	}

	parser := hclparse.NewParser()
	layout := &config.Layout{}

	for _, file := range hclFiles {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		if err := l.decode(ctx, hclFile.Body, layout); err != nil {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, err)
		}
	}

	if err := layout.Validate(); err != nil {
		return nil, err
	}
	logger.Debug("HCL loading complete.", "groups", len(layout.Groups), "instruments", len(layout.Instruments), "filters", len(layout.Filters))
	return layout, nil
}

// LoadBytes parses a single in-memory file. The name is only used in
// diagnostics.
func (l *Loader) LoadBytes(ctx context.Context, src []byte, name string) (*config.Layout, error) {
	hclFile, diags := hclparse.NewParser().ParseHCL(src, name)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL %s: %w", name, diags)
	}
	layout := &config.Layout{}
	if err := l.decode(ctx, hclFile.Body, layout); err != nil {
		return nil, err
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return layout, nil
}

func (l *Loader) decode(ctx context.Context, body hcl.Body, layout *config.Layout) error {
	var root fileRoot
	if diags := gohcl.DecodeBody(body, nil, &root); diags.HasErrors() {
		return diags
	}

	for _, g := range root.Groups {
		layout.Groups = append(layout.Groups, l.translateGroup(g))
	}
	for _, inst := range root.Instruments {
		def, err := l.translateInstrument(ctx, inst)
		if err != nil {
			return err
		}
		layout.Instruments = append(layout.Instruments, def)
	}
	for _, f := range root.Filters {
		def, err := l.translateFilter(ctx, f)
		if err != nil {
			return err
		}
		layout.Filters = append(layout.Filters, def)
	}
	return nil
}

func (l *Loader) translateGroup(g *TriggerGroup) *config.GroupDef {
	def := &config.GroupDef{Name: g.Name, Default: true}
	if g.Default != nil {
		def.Default = *g.Default
	}
	return def
}

func (l *Loader) translateInstrument(ctx context.Context, s *Instrument) (*config.InstrumentDef, error) {
	params, err := evalParams(ctx, s.Params)
	if err != nil {
		return nil, fmt.Errorf("instrument %q: %w", s.Name, err)
	}
	return &config.InstrumentDef{
		Name:   s.Name,
		Driver: s.Driver,
		Group:  s.Group,
		Params: params,
	}, nil
}

func (l *Loader) translateFilter(ctx context.Context, s *Filter) (*config.FilterDef, error) {
	logger := ctxlog.FromContext(ctx).With("filter", s.Name, "type", s.Type)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Translating HCL filter to layout model.")

	params, err := evalParams(ctx, s.Params)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", s.Name, err)
	}
	def := &config.FilterDef{
		Name:   s.Name,
		Type:   s.Type,
		Group:  s.Group,
		Params: params,
	}
	for _, raw := range s.Inputs {
		ref, err := config.ParseInputRef(raw)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", s.Name, err)
		}
		def.Inputs = append(def.Inputs, ref)
	}
	return def, nil
}

// evalParams evaluates a params expression with no variables in scope. An
// omitted attribute yields an empty object.
func evalParams(ctx context.Context, expr hcl.Expression) (cty.Value, error) {
	if !isExprDefined(ctx, expr, "params") {
		return cty.EmptyObjectVal, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	if val.IsNull() {
		return cty.EmptyObjectVal, nil
	}
	if ty := val.Type(); !ty.IsObjectType() && !ty.IsMapType() {
		return cty.NilVal, fmt.Errorf("params must be an object, got %s", ty.FriendlyName())
	}
	return val, nil
}
