// Package filewriter provides core.file_writer, which saves a layer as GeoJSON.
package filewriter

import (
	"context"
	"fmt"

	"gisengine/components/internal/layer"
	"gisengine/pkg/component"
)

// ID is the registry key of the component.
const ID = "core.file_writer"

// Writer persists layers.
type Writer struct{}

// New is the component factory.
func New() component.Component { return &Writer{} }

// Register adds the writer to reg.
func Register(reg *component.Registry) error {
	return reg.RegisterE(New)
}

func (*Writer) Metadata() component.Metadata {
	return component.Metadata{
		ID:          ID,
		Name:        "File Writer",
		Description: "Write vector layers to disk",
		Category:    "Input/Output",
		Type:        component.TypeWriter,
		Version:     "1.0.0",
		Author:      "GIS Engine Core Team",
		License:     "MIT",
		Tags:        []string{"output", "file", "vector", "geojson"},
	}
}

func (*Writer) Parameters() []component.ParameterSpec {
	return []component.ParameterSpec{
		{Name: "layer", Type: component.ParamLayer, Required: true, Description: "Layer to write"},
		{
			Name:        "file_path",
			Type:        component.ParamFile,
			Required:    true,
			Description: "Destination file",
			Filters:     []string{"GeoJSON (*.geojson)"},
		},
		{Name: "overwrite", Type: component.ParamBoolean, Default: false, Description: "Replace an existing file"},
	}
}

// ValidateInputs needs a layer and a GeoJSON destination.
func (*Writer) ValidateInputs(in component.Inputs) bool {
	path, ok := in.String("file_path")
	if !ok || path == "" || !layer.Supported(path) {
		return false
	}
	return layer.Is(in, "layer")
}

func (*Writer) Execute(ctx context.Context, in component.Inputs, ec *component.ExecutionContext) (component.Outputs, error) {
	fc, err := layer.From(in, "layer")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := in.StringOr("file_path", "")
	if err := layer.Write(path, fc, in.BoolOr("overwrite", false)); err != nil {
		return nil, fmt.Errorf("file writing failed: %w", err)
	}
	ec.Log().Info("layer written", "path", path, "features", len(fc.Features))
	ec.Report(1, "write complete")

	return component.Outputs{
		"file_path":     component.String(path),
		"feature_count": component.Number(float64(len(fc.Features))),
	}, nil
}
