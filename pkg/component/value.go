package component

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Kind enumerates the payloads a Value can carry.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
	KindHandle
)

var kindNames = [...]string{"null", "bool", "number", "string", "list", "map", "handle"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Value is the data moved between workflow nodes. A handle carries an opaque
// reference (a loaded layer, an open dataset) the engine never looks into.
type Value struct {
	kind   Kind
	b      bool
	n      float64
	s      string
	list   []Value
	m      map[string]Value
	handle any
}

func Null() Value                  { return Value{} }
func Bool(b bool) Value            { return Value{kind: KindBool, b: b} }
func Number(n float64) Value       { return Value{kind: KindNumber, n: n} }
func String(s string) Value        { return Value{kind: KindString, s: s} }
func List(items ...Value) Value    { return Value{kind: KindList, list: items} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Handle wraps an opaque reference. A nil reference yields Null.
func Handle(h any) Value {
	if h == nil {
		return Null()
	}
	return Value{kind: KindHandle, handle: h}
}

// FromAny converts decoded JSON/YAML data and Go scalars into a Value.
// Types it does not recognise become handles.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return Bool(x)
	case string:
		return String(x)
	case float64:
		return Number(x)
	case float32:
		return Number(float64(x))
	case int:
		return Number(float64(x))
	case int8:
		return Number(float64(x))
	case int16:
		return Number(float64(x))
	case int32:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case uint:
		return Number(float64(x))
	case uint8:
		return Number(float64(x))
	case uint16:
		return Number(float64(x))
	case uint32:
		return Number(float64(x))
	case uint64:
		return Number(float64(x))
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return Number(f)
		}
		return String(x.String())
	case []Value:
		return List(x...)
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = FromAny(item)
		}
		return List(items...)
	case []string:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = String(item)
		}
		return List(items...)
	case map[string]Value:
		return Map(x)
	case Outputs:
		return Map(map[string]Value(x))
	case Inputs:
		return Map(map[string]Value(x))
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			m[k] = FromAny(item)
		}
		return Map(m)
	case map[any]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			m[fmt.Sprint(k)] = FromAny(item)
		}
		return Map(m)
	default:
		return Handle(v)
	}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)            { return v.b, v.kind == KindBool }
func (v Value) AsNumber() (float64, bool)       { return v.n, v.kind == KindNumber }
func (v Value) AsString() (string, bool)        { return v.s, v.kind == KindString }
func (v Value) AsList() ([]Value, bool)         { return v.list, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }
func (v Value) AsHandle() (any, bool)           { return v.handle, v.kind == KindHandle }

// Interface converts v back to plain Go data. Handles are returned as-is.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	case KindHandle:
		return v.handle
	default:
		return nil
	}
}

// Equal compares two values structurally. Handles compare by identity when
// comparable, otherwise with reflect.DeepEqual.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, item := range v.m {
			other, ok := o.m[k]
			if !ok || !item.Equal(other) {
				return false
			}
		}
		return true
	case KindHandle:
		if reflect.TypeOf(v.handle).Comparable() && reflect.TypeOf(o.handle).Comparable() {
			return v.handle == o.handle
		}
		return reflect.DeepEqual(v.handle, o.handle)
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return v.s
	case KindHandle:
		return fmt.Sprintf("<%T>", v.handle)
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Sprintf("map%v", keys)
	default:
		return fmt.Sprint(v.Interface())
	}
}

// MarshalJSON encodes handles through their own json.Marshaler when they have
// one and as a type description otherwise.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindHandle:
		if m, ok := v.handle.(json.Marshaler); ok {
			return m.MarshalJSON()
		}
		return json.Marshal(fmt.Sprintf("<%T>", v.handle))
	case KindList:
		return json.Marshal(v.list)
	case KindMap:
		return json.Marshal(v.m)
	default:
		return json.Marshal(v.Interface())
	}
}

// UnmarshalJSON decodes any JSON document. Objects become maps; nothing
// decodes back into a handle.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}
