package component

import (
	"fmt"
	"strings"
)

// Type is the role a component plays in a workflow.
type Type string

const (
	// TypeReader components produce data and take no upstream inputs.
	TypeReader Type = "reader"
	// TypeTransformer components consume and produce data.
	TypeTransformer Type = "transformer"
	// TypeWriter components consume data and declare no outputs.
	TypeWriter Type = "writer"
)

// Types lists the known roles in display order.
func Types() []Type {
	return []Type{TypeReader, TypeTransformer, TypeWriter}
}

// Valid reports whether t is one of the known roles.
func (t Type) Valid() bool {
	switch t {
	case TypeReader, TypeTransformer, TypeWriter:
		return true
	}
	return false
}

// ParseType accepts a role name in any case.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown component type %q", s)
	}
	return t, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Metadata describes a component kind. ID is the registry key, e.g. "core.file_reader".
type Metadata struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description" yaml:"description"`
	Category     string   `json:"category" yaml:"category"`
	Type         Type     `json:"type" yaml:"type"`
	Version      string   `json:"version" yaml:"version"`
	Author       string   `json:"author" yaml:"author"`
	License      string   `json:"license" yaml:"license"`
	Homepage     string   `json:"homepage,omitempty" yaml:"homepage,omitempty"`
	Repository   string   `json:"repository,omitempty" yaml:"repository,omitempty"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Icon         string   `json:"icon,omitempty" yaml:"icon,omitempty"`
	Tags         []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

func (m Metadata) clone() Metadata {
	m.Dependencies = append([]string(nil), m.Dependencies...)
	m.Tags = append([]string(nil), m.Tags...)
	return m
}

func (m Metadata) matches(lowerQuery string) bool {
	if strings.Contains(strings.ToLower(m.Name), lowerQuery) ||
		strings.Contains(strings.ToLower(m.Description), lowerQuery) {
		return true
	}
	for _, tag := range m.Tags {
		if strings.Contains(strings.ToLower(tag), lowerQuery) {
			return true
		}
	}
	return false
}

// ParameterSpec documents one configurable input. The engine only reads it to
// confine file parameters to its data root; validation is ValidateInputs' job.
type ParameterSpec struct {
	Name        string   `json:"name" yaml:"name"`
	Type        string   `json:"type" yaml:"type"`
	Required    bool     `json:"required" yaml:"required"`
	Default     any      `json:"default,omitempty" yaml:"default,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Choices     []string `json:"choices,omitempty" yaml:"choices,omitempty"`
	Filters     []string `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// Parameter types used by the bundled components.
const (
	ParamString  = "string"
	ParamNumber  = "number"
	ParamInteger = "integer"
	ParamBoolean = "boolean"
	ParamChoice  = "choice"
	ParamFile    = "file"
	ParamLayer   = "layer"
)
