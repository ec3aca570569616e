package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultOutput is used when a connection names no output.
const DefaultOutput = "default"

// Definition is a workflow graph. Nodes keep the order they were declared in;
// that order breaks ties when sorting.
type Definition struct {
	Name        string
	Nodes       []NodeSpec
	Connections []Connection

	// hasNodes and hasConnections record whether the keys were present when decoded.
	hasNodes       bool
	hasConnections bool
}

// NodeSpec binds a node id to a component and its literal parameters.
type NodeSpec struct {
	ID          string         `json:"id" yaml:"id"`
	ComponentID string         `json:"component_id" yaml:"component_id"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Connection routes one node output into another node input.
type Connection struct {
	FromNode   string `json:"from_node" yaml:"from_node"`
	FromOutput string `json:"from_output,omitempty" yaml:"from_output,omitempty"`
	ToNode     string `json:"to_node" yaml:"to_node"`
	ToInput    string `json:"to_input,omitempty" yaml:"to_input,omitempty"`
}

// Output returns the source output name, defaulting to DefaultOutput.
func (c Connection) Output() string {
	if c.FromOutput == "" {
		return DefaultOutput
	}
	return c.FromOutput
}

// Input returns the target input name, defaulting to the source output name.
func (c Connection) Input() string {
	if c.ToInput == "" {
		return c.Output()
	}
	return c.ToInput
}

func (c Connection) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", c.FromNode, c.Output(), c.ToNode, c.Input())
}

// NewDefinition builds a definition in code. Both keys count as present.
func NewDefinition(nodes []NodeSpec, connections []Connection) Definition {
	return Definition{Nodes: nodes, Connections: connections, hasNodes: true, hasConnections: true}
}

// Node looks a node up by id.
func (d Definition) Node(id string) (NodeSpec, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// Empty reports whether the definition has no nodes.
func (d Definition) Empty() bool { return len(d.Nodes) == 0 }

type nodeBody struct {
	ComponentID string         `json:"component_id" yaml:"component_id"`
	Parameters  map[string]any `json:"parameters" yaml:"parameters"`
}

// UnmarshalJSON accepts nodes either as an object keyed by node id, read in
// document order, or as a list of NodeSpec.
func (d *Definition) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name        string          `json:"name"`
		Nodes       json.RawMessage `json:"nodes"`
		Connections json.RawMessage `json:"connections"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Definition{Name: raw.Name}
	if present(raw.Nodes) {
		nodes, err := decodeJSONNodes(raw.Nodes)
		if err != nil {
			return fmt.Errorf("decode nodes: %w", err)
		}
		d.Nodes, d.hasNodes = nodes, true
	}
	if present(raw.Connections) {
		if err := json.Unmarshal(raw.Connections, &d.Connections); err != nil {
			return fmt.Errorf("decode connections: %w", err)
		}
		d.hasConnections = true
	}
	return nil
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func decodeJSONNodes(raw json.RawMessage) ([]NodeSpec, error) {
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] == '[' {
		var nodes []NodeSpec
		err := json.Unmarshal(trimmed, &nodes)
		return nodes, err
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("nodes must be an object or a list")
	}
	var nodes []NodeSpec
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		id, _ := tok.(string)
		var body nodeBody
		if err := dec.Decode(&body); err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		nodes = append(nodes, NodeSpec{ID: id, ComponentID: body.ComponentID, Parameters: body.Parameters})
	}
	return nodes, nil
}

// MarshalJSON writes the object-keyed node form in declaration order.
func (d Definition) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if d.Name != "" {
		name, _ := json.Marshal(d.Name)
		buf.WriteString(`"name":`)
		buf.Write(name)
		buf.WriteByte(',')
	}
	buf.WriteString(`"nodes":{`)
	for i, n := range d.Nodes {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(n.ID)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(nodeBody{ComponentID: n.ComponentID, Parameters: n.Parameters})
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(body)
	}
	buf.WriteString(`},"connections":`)
	conns := d.Connections
	if conns == nil {
		conns = []Connection{}
	}
	raw, err := json.Marshal(conns)
	if err != nil {
		return nil, err
	}
	buf.Write(raw)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML documents.
func (d *Definition) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("workflow must be a mapping, got line %d", value.Line)
	}
	*d = Definition{}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i].Value, value.Content[i+1]
		switch key {
		case "name":
			d.Name = val.Value
		case "nodes":
			if val.Tag == "!!null" {
				continue
			}
			nodes, err := decodeYAMLNodes(val)
			if err != nil {
				return err
			}
			d.Nodes, d.hasNodes = nodes, true
		case "connections":
			if val.Tag == "!!null" {
				continue
			}
			if err := val.Decode(&d.Connections); err != nil {
				return fmt.Errorf("decode connections: %w", err)
			}
			d.hasConnections = true
		}
	}
	return nil
}

func decodeYAMLNodes(val *yaml.Node) ([]NodeSpec, error) {
	switch val.Kind {
	case yaml.SequenceNode:
		var nodes []NodeSpec
		err := val.Decode(&nodes)
		return nodes, err
	case yaml.MappingNode:
		nodes := make([]NodeSpec, 0, len(val.Content)/2)
		for i := 0; i+1 < len(val.Content); i += 2 {
			id := val.Content[i].Value
			var body nodeBody
			if err := val.Content[i+1].Decode(&body); err != nil {
				return nil, fmt.Errorf("node %s: %w", id, err)
			}
			nodes = append(nodes, NodeSpec{ID: id, ComponentID: body.ComponentID, Parameters: body.Parameters})
		}
		return nodes, nil
	default:
		return nil, fmt.Errorf("nodes must be a mapping or a list (line %d)", val.Line)
	}
}

// Format of a serialized workflow.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension; JSON is the default.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Decode reads one workflow document.
func Decode(r io.Reader, format Format) (Definition, error) {
	var def Definition
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&def); err != nil {
			return Definition{}, fmt.Errorf("decode yaml workflow: %w", err)
		}
	default:
		if err := json.NewDecoder(r).Decode(&def); err != nil {
			return Definition{}, fmt.Errorf("decode json workflow: %w", err)
		}
	}
	return def, nil
}

// LoadFile reads a workflow from disk.
func LoadFile(path string) (Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return Definition{}, err
	}
	defer f.Close()
	return Decode(f, FormatFromPath(path))
}
