package buffer

import (
	"context"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"gisengine/pkg/component"
)

func sampleLayer() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	p := geojson.NewFeature(orb.Point{10, 20})
	p.ID = "p1"
	p.Properties["kind"] = "well"
	fc.Append(p)
	fc.Append(geojson.NewFeature(orb.LineString{{0, 0}, {4, 2}}))
	return fc
}

func TestValidateInputs(t *testing.T) {
	lyr := component.Handle(sampleLayer())
	cases := []struct {
		name string
		in   component.Inputs
		want bool
	}{
		{"minimal", component.Inputs{"layer": lyr, "distance": component.Number(5)}, true},
		{"no layer", component.Inputs{"distance": component.Number(5)}, false},
		{"layer is a string", component.Inputs{"layer": component.String("roads"), "distance": component.Number(5)}, false},
		{"zero distance", component.Inputs{"layer": lyr, "distance": component.Number(0)}, false},
		{"negative distance", component.Inputs{"layer": lyr, "distance": component.Number(-1)}, false},
		{"missing distance", component.Inputs{"layer": lyr}, false},
		{"max segments", component.Inputs{"layer": lyr, "distance": component.Number(1), "segments": component.Number(maxSegments)}, true},
		{"too many segments", component.Inputs{"layer": lyr, "distance": component.Number(1), "segments": component.Number(maxSegments + 1)}, false},
		{"large distance", component.Inputs{"layer": lyr, "distance": component.Number(1e12)}, true},
		{"huge segment count", component.Inputs{"layer": lyr, "distance": component.Number(1), "segments": component.Number(1e12)}, false},
		{"fractional segments", component.Inputs{"layer": lyr, "distance": component.Number(1), "segments": component.Number(2.5)}, false},
		{"square cap", component.Inputs{"layer": lyr, "distance": component.Number(1), "end_cap_style": component.String(CapSquare)}, true},
		{"unknown cap", component.Inputs{"layer": lyr, "distance": component.Number(1), "end_cap_style": component.String("mitre")}, false},
	}
	tr := New()
	for _, tc := range cases {
		if got := tr.ValidateInputs(tc.in); got != tc.want {
			t.Fatalf("%s: ValidateInputs = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestGeometryClampsSegments(t *testing.T) {
	poly := Geometry(orb.Point{0, 0}, 1, 1<<20, CapRound).(orb.Polygon)
	if len(poly[0]) != 4*maxSegments+1 {
		t.Fatalf("ring has %d points, want %d", len(poly[0]), 4*maxSegments+1)
	}
}

func TestRoundPointBufferIsCircle(t *testing.T) {
	g := Geometry(orb.Point{1, 1}, 2, 4, CapRound)
	poly, ok := g.(orb.Polygon)
	if !ok {
		t.Fatalf("expected polygon, got %T", g)
	}
	ring := poly[0]
	if len(ring) != 17 {
		t.Fatalf("ring has %d points, want 16 vertices plus closing point", len(ring))
	}
	if !ring.Closed() {
		t.Fatalf("ring is not closed")
	}
	for _, p := range ring {
		d := math.Hypot(p[0]-1, p[1]-1)
		if math.Abs(d-2) > 1e-9 {
			t.Fatalf("vertex %v is %v from centre", p, d)
		}
	}
}

func TestSquareAndEnvelopeBuffers(t *testing.T) {
	sq := Geometry(orb.Point{0, 0}, 1, 8, CapFlat).Bound()
	if sq.Min != (orb.Point{-1, -1}) || sq.Max != (orb.Point{1, 1}) {
		t.Fatalf("unexpected square bound %v", sq)
	}
	env := Geometry(orb.LineString{{0, 0}, {4, 2}}, 1, 8, CapRound).Bound()
	if env.Min != (orb.Point{-1, -1}) || env.Max != (orb.Point{5, 3}) {
		t.Fatalf("unexpected envelope %v", env)
	}
	if Geometry(nil, 1, 8, CapRound) != nil {
		t.Fatalf("nil geometry should stay nil")
	}
	mp, ok := Geometry(orb.MultiPoint{{0, 0}, {3, 3}}, 1, 2, CapRound).(orb.MultiPolygon)
	if !ok || len(mp) != 2 {
		t.Fatalf("multipoint should buffer to two polygons, got %#v", mp)
	}
}

func TestExecuteBuffersEveryFeature(t *testing.T) {
	var progress []float64
	ec := component.NewExecutionContext("run", "", func(f float64, _ string) { progress = append(progress, f) }, nil)
	src := sampleLayer()

	out, err := New().Execute(context.Background(), component.Inputs{
		"layer":    component.Handle(src),
		"distance": component.Number(2.5),
	}, ec)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	h, _ := out["layer"].AsHandle()
	fc := h.(*geojson.FeatureCollection)
	if fc == src {
		t.Fatalf("buffer must not modify its input layer")
	}
	if len(fc.Features) != 2 {
		t.Fatalf("got %d features", len(fc.Features))
	}
	first := fc.Features[0]
	if first.ID != "p1" || first.Properties["kind"] != "well" || first.Properties["buffer_distance"] != 2.5 {
		t.Fatalf("feature attributes not carried over: %#v", first.Properties)
	}
	if _, ok := first.Properties["buffer_area"].(float64); !ok {
		t.Fatalf("buffer_area missing")
	}
	if _, ok := src.Features[0].Geometry.(orb.Point); !ok {
		t.Fatalf("source geometry changed")
	}
	if d, _ := out["buffer_distance"].AsNumber(); d != 2.5 {
		t.Fatalf("buffer_distance = %v", d)
	}
	if len(progress) != 2 || progress[1] != 1 {
		t.Fatalf("unexpected progress %v", progress)
	}
}

func TestExecuteStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Execute(ctx, component.Inputs{
		"layer":    component.Handle(sampleLayer()),
		"distance": component.Number(1),
	}, nil)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}
