// Package wrappers exposes the algorithms of an external geoprocessing
// backend as engine components.
package wrappers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"gisengine/pkg/component"
)

// IDPrefix is prepended to every algorithm id to form the component id.
const IDPrefix = "wrapper."

// Algorithm describes one backend algorithm.
type Algorithm struct {
	ID          string                    `yaml:"id" json:"id"`
	Name        string                    `yaml:"name" json:"name"`
	Description string                    `yaml:"description" json:"description"`
	Group       string                    `yaml:"group" json:"group"`
	Type        component.Type            `yaml:"type" json:"type,omitempty"`
	Version     string                    `yaml:"version" json:"version,omitempty"`
	Tags        []string                  `yaml:"tags" json:"tags,omitempty"`
	Parameters  []component.ParameterSpec `yaml:"parameters" json:"parameters"`
	// Outputs maps each output name to a jq expression evaluated against
	// the backend response.
	Outputs map[string]string `yaml:"outputs" json:"outputs,omitempty"`
	// Validate is an optional boolean expression over the inputs.
	Validate string `yaml:"validate" json:"validate,omitempty"`
}

// ComponentID returns the registry id of the algorithm.
func (a Algorithm) ComponentID() string { return IDPrefix + a.ID }

// ComponentType returns the declared type or derives one: no layer
// parameter means a reader, no outputs means a writer.
func (a Algorithm) ComponentType() component.Type {
	if a.Type.Valid() {
		return a.Type
	}
	hasLayer := false
	for _, p := range a.Parameters {
		if p.Type == component.ParamLayer {
			hasLayer = true
			break
		}
	}
	switch {
	case !hasLayer:
		return component.TypeReader
	case len(a.Outputs) == 0:
		return component.TypeWriter
	default:
		return component.TypeTransformer
	}
}

func (a Algorithm) validateShape() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("algorithm id is required")
	}
	seen := make(map[string]struct{}, len(a.Parameters))
	for _, p := range a.Parameters {
		if p.Name == "" {
			return fmt.Errorf("algorithm %s: parameter without name", a.ID)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("algorithm %s: duplicate parameter %s", a.ID, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// Catalog lists the algorithms a backend offers.
type Catalog interface {
	Algorithms(ctx context.Context) ([]Algorithm, error)
}

// FileCatalog reads algorithms from a YAML document with an `algorithms` list.
type FileCatalog struct {
	Path string
}

type catalogDocument struct {
	Algorithms []Algorithm `yaml:"algorithms"`
}

// Algorithms re-reads the file on every call.
func (c FileCatalog) Algorithms(ctx context.Context) ([]Algorithm, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var doc catalogDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", c.Path, err)
	}
	return doc.Algorithms, nil
}

// StaticCatalog serves a fixed list.
type StaticCatalog []Algorithm

func (s StaticCatalog) Algorithms(context.Context) ([]Algorithm, error) {
	return append([]Algorithm(nil), s...), nil
}
