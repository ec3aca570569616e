package filereader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb/geojson"

	"gisengine/pkg/component"
)

func TestValidateInputs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "points.geojson")
	if err := os.WriteFile(file, []byte(`{"type":"FeatureCollection","features":[]}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cases := []struct {
		name string
		in   component.Inputs
		want bool
	}{
		{"existing file", component.Inputs{"file_path": component.String(file)}, true},
		{"missing path", component.Inputs{}, false},
		{"empty path", component.Inputs{"file_path": component.String("")}, false},
		{"not a string", component.Inputs{"file_path": component.Number(3)}, false},
		{"missing file", component.Inputs{"file_path": component.String(filepath.Join(dir, "nope.geojson"))}, false},
		{"directory", component.Inputs{"file_path": component.String(dir)}, false},
		{"utf8 alias", component.Inputs{"file_path": component.String(file), "encoding": component.String("UTF8")}, true},
		{"latin1", component.Inputs{"file_path": component.String(file), "encoding": component.String("latin-1")}, false},
	}
	r := New()
	for _, tc := range cases {
		if got := r.ValidateInputs(tc.in); got != tc.want {
			t.Fatalf("%s: ValidateInputs = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestExecuteLoadsFeatureCollection(t *testing.T) {
	path := filepath.Join("..", "testdata", "sites.geojson")
	ec := component.NewExecutionContext("run-1", t.TempDir(), nil, nil)

	out, err := New().Execute(context.Background(), component.Inputs{"file_path": component.String(path)}, ec)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	h, ok := out["layer"].AsHandle()
	if !ok {
		t.Fatalf("layer output is %s, want handle", out["layer"].Kind())
	}
	fc, ok := h.(*geojson.FeatureCollection)
	if !ok || len(fc.Features) != 3 {
		t.Fatalf("unexpected layer %#v", h)
	}
	if n, _ := out["feature_count"].AsNumber(); n != 3 {
		t.Fatalf("feature_count = %v", n)
	}
	if s, _ := out["layer_type"].AsString(); s != "vector" {
		t.Fatalf("layer_type = %q", s)
	}
	if s, _ := out["layer_name"].AsString(); s != "sites" {
		t.Fatalf("layer_name = %q", s)
	}
}

func TestExecuteWrapsBareGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "single.json")
	if err := os.WriteFile(path, []byte(`{"type":"Point","coordinates":[1,2]}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	out, err := New().Execute(context.Background(), component.Inputs{"file_path": component.String(path)}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if n, _ := out["feature_count"].AsNumber(); n != 1 {
		t.Fatalf("feature_count = %v, want 1", n)
	}
}

func TestExecuteRejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roads.shp")
	if err := os.WriteFile(path, []byte("binary"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := New().Execute(context.Background(), component.Inputs{"file_path": component.String(path)}, nil); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
