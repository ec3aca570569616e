// Package buffer provides core.buffer, which builds buffer zones around the
// features of a layer.
package buffer

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"gisengine/components/internal/layer"
	"gisengine/pkg/component"
)

// ID is the registry key of the component.
const ID = "core.buffer"

// End cap styles.
const (
	CapRound  = "round"
	CapFlat   = "flat"
	CapSquare = "square"
)

const (
	defaultSegments = 8
	// maxSegments bounds the vertex count of a round buffer to 4*maxSegments.
	maxSegments = 1024
)

// Transformer buffers every feature of the input layer.
type Transformer struct{}

// New is the component factory.
func New() component.Component { return &Transformer{} }

// Register adds the transformer to reg.
func Register(reg *component.Registry) error {
	return reg.RegisterE(New)
}

func (*Transformer) Metadata() component.Metadata {
	return component.Metadata{
		ID:          ID,
		Name:        "Buffer",
		Description: "Create buffer zones around features",
		Category:    "Geometry",
		Type:        component.TypeTransformer,
		Version:     "1.0.0",
		Author:      "GIS Engine Core Team",
		License:     "MIT",
		Tags:        []string{"buffer", "geometry", "vector", "proximity"},
	}
}

func (*Transformer) Parameters() []component.ParameterSpec {
	return []component.ParameterSpec{
		{Name: "layer", Type: component.ParamLayer, Required: true, Description: "Input layer"},
		{Name: "distance", Type: component.ParamNumber, Required: true, Default: 100.0, Description: "Buffer distance in layer units"},
		{Name: "segments", Type: component.ParamInteger, Default: defaultSegments, Description: "Number of segments in buffer curves (1 to 1024)"},
		{
			Name:        "end_cap_style",
			Type:        component.ParamChoice,
			Default:     CapRound,
			Choices:     []string{CapRound, CapFlat, CapSquare},
			Description: "End cap style for point buffers",
		},
	}
}

// ValidateInputs needs a layer, a positive distance and at most maxSegments
// segments.
func (*Transformer) ValidateInputs(in component.Inputs) bool {
	if !layer.Is(in, "layer") {
		return false
	}
	if d, ok := in.Number("distance"); !ok || !(d > 0) || math.IsInf(d, 0) {
		return false
	}
	if in.Has("segments") {
		s, ok := in.Number("segments")
		if !ok || s < 1 || s > maxSegments || s != math.Trunc(s) {
			return false
		}
	}
	switch in.StringOr("end_cap_style", CapRound) {
	case CapRound, CapFlat, CapSquare:
		return true
	default:
		return false
	}
}

func (*Transformer) Execute(ctx context.Context, in component.Inputs, ec *component.ExecutionContext) (component.Outputs, error) {
	src, err := layer.From(in, "layer")
	if err != nil {
		return nil, err
	}
	distance, _ := in.Number("distance")
	segments := int(in.NumberOr("segments", defaultSegments))
	capStyle := in.StringOr("end_cap_style", CapRound)

	out := geojson.NewFeatureCollection()
	total := len(src.Features)
	for i, f := range src.Features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buffered := geojson.NewFeature(Geometry(f.Geometry, distance, segments, capStyle))
		buffered.ID = f.ID
		for k, v := range f.Properties {
			buffered.Properties[k] = v
		}
		buffered.Properties["buffer_distance"] = distance
		if buffered.Geometry != nil {
			buffered.Properties["buffer_area"] = planar.Area(buffered.Geometry)
		}
		out.Append(buffered)
		if total > 0 {
			ec.Report(float64(i+1)/float64(total), fmt.Sprintf("buffered %d/%d features", i+1, total))
		}
	}
	ec.Log().Info("buffer complete", "features", total, "distance", distance, "cap", capStyle)

	return component.Outputs{
		"layer":           component.Handle(out),
		"buffer_distance": component.Number(distance),
		"feature_count":   component.Number(float64(len(out.Features))),
	}, nil
}

// Geometry buffers g. Points become polygons: a circle of 4*segments vertices
// for round caps, a square otherwise. Any other geometry is replaced by its
// bounding box padded by distance.
func Geometry(g orb.Geometry, distance float64, segments int, capStyle string) orb.Geometry {
	if segments < 1 {
		segments = defaultSegments
	}
	segments = min(segments, maxSegments)
	switch geom := g.(type) {
	case nil:
		return nil
	case orb.Point:
		if capStyle == CapRound {
			return circle(geom, distance, segments)
		}
		return geom.Bound().Pad(distance).ToPolygon()
	case orb.MultiPoint:
		mp := make(orb.MultiPolygon, 0, len(geom))
		for _, p := range geom {
			mp = append(mp, Geometry(p, distance, segments, capStyle).(orb.Polygon))
		}
		return mp
	default:
		return g.Bound().Pad(distance).ToPolygon()
	}
}

func circle(center orb.Point, radius float64, segments int) orb.Polygon {
	n := 4 * segments
	ring := make(orb.Ring, 0, n+1)
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		ring = append(ring, orb.Point{center[0] + radius*math.Cos(a), center[1] + radius*math.Sin(a)})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}
