package wrappers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/itchyny/gojq"
	"github.com/paulmach/orb/geojson"

	"gisengine/pkg/component"
)

// compiled is an algorithm with its expressions parsed once at registration.
type compiled struct {
	alg      Algorithm
	validate *vm.Program
	outputs  map[string]*gojq.Code
	names    []string
}

func compile(alg Algorithm) (*compiled, error) {
	if err := alg.validateShape(); err != nil {
		return nil, err
	}
	c := &compiled{alg: alg, outputs: make(map[string]*gojq.Code, len(alg.Outputs))}
	if alg.Validate != "" {
		prog, err := expr.Compile(alg.Validate, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("algorithm %s: validate expression: %w", alg.ID, err)
		}
		c.validate = prog
	}
	for name, src := range alg.Outputs {
		query, err := gojq.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("algorithm %s: output %s: %w", alg.ID, name, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("algorithm %s: output %s: %w", alg.ID, name, err)
		}
		c.outputs[name] = code
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c, nil
}

func (c *compiled) factory(runner Runner) component.Factory {
	return func() component.Component {
		return &algorithmComponent{spec: c, runner: runner}
	}
}

// algorithmComponent runs one backend algorithm.
type algorithmComponent struct {
	spec   *compiled
	runner Runner
}

func (a *algorithmComponent) Metadata() component.Metadata {
	alg := a.spec.alg
	name := alg.Name
	if name == "" {
		name = alg.ID
	}
	category := alg.Group
	if category == "" {
		category = "Processing"
	}
	version := alg.Version
	if version == "" {
		version = "1.0.0"
	}
	return component.Metadata{
		ID:          alg.ComponentID(),
		Name:        name,
		Description: alg.Description,
		Category:    category,
		Type:        alg.ComponentType(),
		Version:     version,
		Author:      "processing backend",
		Tags:        append([]string{"wrapper"}, alg.Tags...),
	}
}

func (a *algorithmComponent) Parameters() []component.ParameterSpec {
	return append([]component.ParameterSpec(nil), a.spec.alg.Parameters...)
}

// ValidateInputs checks required parameters, choices and the validate
// expression.
func (a *algorithmComponent) ValidateInputs(in component.Inputs) bool {
	for _, p := range a.spec.alg.Parameters {
		v, ok := in[p.Name]
		if !ok || v.IsNull() {
			if p.Required && p.Default == nil {
				return false
			}
			continue
		}
		if len(p.Choices) > 0 {
			s, ok := v.AsString()
			if !ok || !contains(p.Choices, s) {
				return false
			}
		}
	}
	if a.spec.validate == nil {
		return true
	}
	out, err := expr.Run(a.spec.validate, env(a.spec.alg, in))
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

// env exposes defaults overridden by the actual inputs.
func env(alg Algorithm, in component.Inputs) map[string]any {
	m := make(map[string]any, len(alg.Parameters)+len(in))
	for _, p := range alg.Parameters {
		if p.Default != nil {
			m[p.Name] = p.Default
		}
	}
	for k, v := range in {
		m[k] = v.Interface()
	}
	return m
}

func (a *algorithmComponent) Execute(ctx context.Context, in component.Inputs, ec *component.ExecutionContext) (component.Outputs, error) {
	alg := a.spec.alg
	full := in.Clone()
	for _, p := range alg.Parameters {
		if _, ok := full[p.Name]; !ok && p.Default != nil {
			full[p.Name] = component.FromAny(p.Default)
		}
	}
	ec.Report(0, "submitting "+alg.ID)
	doc, err := a.runner.Run(ctx, alg.ID, full)
	if err != nil {
		return nil, fmt.Errorf("algorithm %s: %w", alg.ID, err)
	}
	out, err := a.mapOutputs(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("algorithm %s: %w", alg.ID, err)
	}
	ec.Report(1, alg.ID+" finished")
	return out, nil
}

func (a *algorithmComponent) mapOutputs(ctx context.Context, doc any) (component.Outputs, error) {
	if len(a.spec.outputs) == 0 {
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("response is %T, want an object", doc)
		}
		out := make(component.Outputs, len(obj))
		for k, v := range obj {
			out[k] = toValue(v)
		}
		return out, nil
	}
	out := make(component.Outputs, len(a.spec.names))
	for _, name := range a.spec.names {
		iter := a.spec.outputs[name].RunWithContext(ctx, doc)
		v, ok := iter.Next()
		if !ok {
			out[name] = component.Null()
			continue
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		out[name] = toValue(v)
	}
	return out, nil
}

// toValue turns GeoJSON FeatureCollections back into layer handles so core
// components can consume them.
func toValue(v any) component.Value {
	if m, ok := v.(map[string]any); ok && m["type"] == "FeatureCollection" {
		if raw, err := json.Marshal(m); err == nil {
			if fc, err := geojson.UnmarshalFeatureCollection(raw); err == nil {
				return component.Handle(fc)
			}
		}
	}
	return component.FromAny(v)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
