package component

import (
	"encoding/json"
	"testing"
)

type layerRef struct{ name string }

func TestFromAnyConvertsDecodedData(t *testing.T) {
	var decoded any
	if err := json.Unmarshal([]byte(`{"distance": 10, "tags": ["a", "b"], "ok": true, "nested": {"x": null}}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	v := FromAny(decoded)
	m, ok := v.AsMap()
	if !ok {
		t.Fatalf("expected map, got %s", v.Kind())
	}
	if n, ok := m["distance"].AsNumber(); !ok || n != 10 {
		t.Fatalf("unexpected distance %v", m["distance"])
	}
	if list, ok := m["tags"].AsList(); !ok || len(list) != 2 {
		t.Fatalf("unexpected tags %v", m["tags"])
	}
	if b, ok := m["ok"].AsBool(); !ok || !b {
		t.Fatalf("unexpected ok %v", m["ok"])
	}
	nested, _ := m["nested"].AsMap()
	if !nested["x"].IsNull() {
		t.Fatalf("expected null, got %v", nested["x"])
	}
	if FromAny(int64(3)).Kind() != KindNumber {
		t.Fatalf("expected integers to become numbers")
	}
}

func TestHandleKeepsIdentity(t *testing.T) {
	ref := &layerRef{name: "roads"}
	v := FromAny(ref)
	if v.Kind() != KindHandle {
		t.Fatalf("expected handle, got %s", v.Kind())
	}
	h, _ := v.AsHandle()
	if h.(*layerRef) != ref {
		t.Fatalf("handle lost its reference")
	}
	if !v.Equal(Handle(ref)) || v.Equal(Handle(&layerRef{name: "roads"})) {
		t.Fatalf("handles should compare by identity")
	}
	if Handle(nil).Kind() != KindNull {
		t.Fatalf("nil handle should be null")
	}
}

func TestValueJSON(t *testing.T) {
	out := Outputs{
		"count": Number(3),
		"name":  String("roads"),
		"layer": Handle(&layerRef{}),
	}
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"count":3,"layer":"<*component.layerRef>","name":"roads"}`
	if string(raw) != want {
		t.Fatalf("unexpected json %s", raw)
	}

	var back Outputs
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back["count"].Equal(Number(3)) || !back["name"].Equal(String("roads")) {
		t.Fatalf("unexpected round trip %v", back)
	}
}

func TestInputsAccessors(t *testing.T) {
	in := Inputs{"distance": Number(5), "cap": String("flat"), "null": Null()}
	if in.NumberOr("distance", 1) != 5 || in.NumberOr("missing", 1) != 1 {
		t.Fatalf("unexpected NumberOr")
	}
	if in.StringOr("cap", "round") != "flat" || in.StringOr("distance", "x") != "x" {
		t.Fatalf("unexpected StringOr")
	}
	if in.Has("null") || !in.Has("cap") {
		t.Fatalf("unexpected Has")
	}
	clone := in.Clone()
	clone["cap"] = String("square")
	if in.StringOr("cap", "") != "flat" {
		t.Fatalf("clone aliases the original")
	}
}

func TestExecutionContextSideChannel(t *testing.T) {
	var reported []float64
	ec := NewExecutionContext("run-1", "", func(f float64, _ string) { reported = append(reported, f) }, nil)
	ec.Report(0.5, "half")
	ec.Set("crs", "EPSG:4326")
	if v, ok := ec.Get("crs"); !ok || v != "EPSG:4326" {
		t.Fatalf("unexpected metadata %v", v)
	}
	if len(reported) != 1 || reported[0] != 0.5 {
		t.Fatalf("unexpected progress %v", reported)
	}
	ec.Log().Info("discarded")

	var nilCtx *ExecutionContext
	nilCtx.Report(1, "ignored")
}
