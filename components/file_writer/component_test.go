package filewriter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"gisengine/pkg/component"
)

func layerOf(n int) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := 0; i < n; i++ {
		fc.Append(geojson.NewFeature(orb.Point{float64(i), float64(i)}))
	}
	return fc
}

func TestValidateInputs(t *testing.T) {
	lyr := component.Handle(layerOf(1))
	cases := []struct {
		name string
		in   component.Inputs
		want bool
	}{
		{"ok", component.Inputs{"layer": lyr, "file_path": component.String("out.geojson")}, true},
		{"no layer", component.Inputs{"file_path": component.String("out.geojson")}, false},
		{"no path", component.Inputs{"layer": lyr}, false},
		{"wrong extension", component.Inputs{"layer": lyr, "file_path": component.String("out.shp")}, false},
	}
	w := New()
	for _, tc := range cases {
		if got := w.ValidateInputs(tc.in); got != tc.want {
			t.Fatalf("%s: ValidateInputs = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestExecuteWritesGeoJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.geojson")
	out, err := New().Execute(context.Background(), component.Inputs{
		"layer":     component.Handle(layerOf(3)),
		"file_path": component.String(path),
	}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if n, _ := out["feature_count"].AsNumber(); n != 3 {
		t.Fatalf("feature_count = %v", n)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil || len(fc.Features) != 3 {
		t.Fatalf("output is not the written layer: %v", err)
	}
}

func TestExecuteRespectsOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.geojson")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	in := component.Inputs{
		"layer":     component.Handle(layerOf(1)),
		"file_path": component.String(path),
	}
	_, err := New().Execute(context.Background(), in, nil)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected refusal to overwrite, got %v", err)
	}

	in["overwrite"] = component.Bool(true)
	if _, err := New().Execute(context.Background(), in, nil); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "FeatureCollection") {
		t.Fatalf("file was not replaced: %s", data)
	}
}
