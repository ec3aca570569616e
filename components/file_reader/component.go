// Package filereader provides core.file_reader, which loads a vector layer
// from disk.
package filereader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gisengine/components/internal/layer"
	"gisengine/pkg/component"
)

// ID is the registry key of the component.
const ID = "core.file_reader"

// Reader loads GeoJSON files.
type Reader struct{}

// New is the component factory.
func New() component.Component { return &Reader{} }

// Register adds the reader to reg.
func Register(reg *component.Registry) error {
	return reg.RegisterE(New)
}

func (*Reader) Metadata() component.Metadata {
	return component.Metadata{
		ID:          ID,
		Name:        "File Reader",
		Description: "Read vector files from disk",
		Category:    "Input/Output",
		Type:        component.TypeReader,
		Version:     "1.0.0",
		Author:      "GIS Engine Core Team",
		License:     "MIT",
		Tags:        []string{"input", "file", "vector", "geojson"},
	}
}

func (*Reader) Parameters() []component.ParameterSpec {
	return []component.ParameterSpec{
		{
			Name:        "file_path",
			Type:        component.ParamFile,
			Required:    true,
			Description: "Path to input file",
			Filters:     []string{"Vector files (*.geojson *.json)"},
		},
		{
			Name:        "encoding",
			Type:        component.ParamString,
			Default:     "utf-8",
			Description: "File encoding",
		},
		{
			Name:        "layer_name",
			Type:        component.ParamString,
			Description: "Name given to the loaded layer, defaults to the file stem",
		},
	}
}

// ValidateInputs requires an existing regular file.
func (*Reader) ValidateInputs(in component.Inputs) bool {
	path, ok := in.String("file_path")
	if !ok || path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return supportedEncoding(in.StringOr("encoding", "utf-8"))
}

func (*Reader) Execute(ctx context.Context, in component.Inputs, ec *component.ExecutionContext) (component.Outputs, error) {
	path := in.StringOr("file_path", "")
	ec.Report(0, "reading "+filepath.Base(path))

	fc, err := layer.Read(path)
	if err != nil {
		return nil, fmt.Errorf("file reading failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := in.StringOr("layer_name", strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	ec.Log().Info("layer loaded", "path", path, "layer", name, "features", len(fc.Features))
	ec.Report(1, "read complete")

	return component.Outputs{
		"layer":         component.Handle(fc),
		"layer_name":    component.String(name),
		"file_path":     component.String(path),
		"layer_type":    component.String("vector"),
		"feature_count": component.Number(float64(len(fc.Features))),
	}, nil
}

// Only UTF-8 input is decoded; GeoJSON mandates it.
func supportedEncoding(enc string) bool {
	switch strings.ToLower(strings.ReplaceAll(enc, "-", "")) {
	case "utf8", "":
		return true
	default:
		return false
	}
}
