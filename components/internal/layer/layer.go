// Package layer holds the vector layer helpers shared by the core components.
// A layer travels between nodes as a handle to *geojson.FeatureCollection.
package layer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"

	"gisengine/pkg/component"
)

// ErrNotLayer is returned when an input does not carry a layer handle.
var ErrNotLayer = errors.New("input is not a vector layer")

// Extensions lists the file suffixes Read accepts.
var Extensions = []string{".geojson", ".json"}

// Supported reports whether path has a readable vector extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Read loads a GeoJSON file. A bare Feature or Geometry document is wrapped
// into a single-feature collection.
func Read(path string) (*geojson.FeatureCollection, error) {
	if !Supported(path) {
		return nil, fmt.Errorf("unsupported file format: %s", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && fc.Type == "FeatureCollection" {
		return fc, nil
	}
	if f, err := geojson.UnmarshalFeature(data); err == nil && f.Type == "Feature" {
		fc := geojson.NewFeatureCollection()
		fc.Append(f)
		return fc, nil
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(g.Geometry()))
	return fc, nil
}

// Write stores fc as GeoJSON. An existing file is only replaced when
// overwrite is set.
func Write(path string, fc *geojson.FeatureCollection, overwrite bool) error {
	if fc == nil {
		return ErrNotLayer
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// From extracts the layer handle stored under key.
func From(in component.Inputs, key string) (*geojson.FeatureCollection, error) {
	h, ok := in.Handle(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotLayer, key)
	}
	fc, ok := h.(*geojson.FeatureCollection)
	if !ok || fc == nil {
		return nil, fmt.Errorf("%w: %q holds %T", ErrNotLayer, key, h)
	}
	return fc, nil
}

// Is reports whether the input under key is a layer.
func Is(in component.Inputs, key string) bool {
	_, err := From(in, key)
	return err == nil
}
