package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// DecodeParams copies the attributes of a params object into the fields of
// target, a pointer to a struct whose fields carry `cty:"name"` tags.
// Attributes that are absent or null leave the field untouched, so callers
// fill target with defaults first. Unknown attributes are an error.
func DecodeParams(params cty.Value, target any) error {
	ptr := reflect.ValueOf(target)
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() || ptr.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("params target must be a non-nil pointer to a struct, got %T", target)
	}
	if params.IsNull() {
		return nil
	}
	if !params.IsWhollyKnown() {
		return fmt.Errorf("params must be known at load time")
	}
	ty := params.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return fmt.Errorf("params must be an object, got %s", ty.FriendlyName())
	}

	structVal := ptr.Elem()
	fields := make(map[string]reflect.Value)
	for i := 0; i < structVal.NumField(); i++ {
		tag := strings.Split(structVal.Type().Field(i).Tag.Get("cty"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		fields[tag] = structVal.Field(i)
	}

	for it := params.ElementIterator(); it.Next(); {
		k, v := it.Element()
		name := k.AsString()
		field, ok := fields[name]
		if !ok {
			return fmt.Errorf("unsupported parameter %q", name)
		}
		if v.IsNull() {
			continue
		}
		if err := decodeValue(v, field.Addr().Interface()); err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
	}
	return nil
}

// decodeValue converts val to the cty type implied by goVal before decoding,
// so HCL numbers land in ints and tuples in slices.
func decodeValue(val cty.Value, goVal any) error {
	impliedType, err := gocty.ImpliedType(reflect.ValueOf(goVal).Elem().Interface())
	if err != nil {
		return gocty.FromCtyValue(val, goVal)
	}
	converted, err := convert.Convert(val, impliedType)
	if err != nil {
		return fmt.Errorf("cannot convert %s to %s: %w", val.Type().FriendlyName(), impliedType.FriendlyName(), err)
	}
	return gocty.FromCtyValue(converted, goVal)
}
