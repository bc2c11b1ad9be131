// Package metadata implements the storable value written to metadata.json
// files of model records and contexts.
//
// Value is an explicit tagged variant. Plain JSON kinds encode as plain JSON.
// Domain kinds encode as objects carrying a "__type__" member:
//
//	{"__type__": "model", "name": "run1"}
//	{"__type__": "results", "value": {...}}
//	{"__type__": "features", "value": "ABSORPTION(FO)"}
package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"modelstore/internal/model"
	"modelstore/internal/results"
)

// Kind enumerates the variants of Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
	KindModelRef
	KindResults
	KindFeatures
)

var kindNames = [...]string{"null", "bool", "number", "string", "list", "map", "model", "results", "features"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

const typeTag = "__type__"

// Value is one storable metadata value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	list []Value
	m    map[string]Value
	res  *results.Results
}

func Null() Value                { return Value{} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Number(n float64) Value     { return Value{kind: KindNumber, n: n} }
func String(s string) Value      { return Value{kind: KindString, s: s} }
func List(vs ...Value) Value     { return Value{kind: KindList, list: append([]Value{}, vs...)} }
func ModelRef(name string) Value { return Value{kind: KindModelRef, s: name} }
func Features(s string) Value    { return Value{kind: KindFeatures, s: s} }

// Map builds a map value. The input is copied.
func Map(m map[string]Value) Value {
	c := make(map[string]Value, len(m))
	for k, v := range m {
		c[k] = v
	}
	return Value{kind: KindMap, m: c}
}

// ResultsValue wraps a fit-result document.
func ResultsValue(r *results.Results) Value {
	if r == nil {
		return Null()
	}
	return Value{kind: KindResults, res: r}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the text of string, model reference and features values.
func (v Value) AsString() (string, bool) {
	switch v.kind {
	case KindString, KindModelRef, KindFeatures:
		return v.s, true
	}
	return "", false
}

func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

func (v Value) AsResults() (*results.Results, bool) { return v.res, v.kind == KindResults }

// Get returns the member key of a map value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	m, ok := v.m[key]
	return m, ok
}

// FromAny converts native Go values into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case string:
		return String(t), nil
	case []string:
		vs := make([]Value, len(t))
		for i, s := range t {
			vs[i] = String(s)
		}
		return List(vs...), nil
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			vs[i] = ev
		}
		return List(vs...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = ev
		}
		return Value{kind: KindMap, m: m}, nil
	case *model.Model:
		return ModelRef(t.Name), nil
	case *results.Results:
		return ResultsValue(t), nil
	}
	return Value{}, fmt.Errorf("cannot store value of type %T", x)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := v.m[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case KindModelRef:
		return json.Marshal(map[string]string{typeTag: "model", "name": v.s})
	case KindResults:
		return json.Marshal(struct {
			Type  string           `json:"__type__"`
			Value *results.Results `json:"value"`
		}{"results", v.res})
	case KindFeatures:
		return json.Marshal(map[string]string{typeTag: "features", "value": v.s})
	}
	return nil, fmt.Errorf("unknown value kind %v", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty metadata value")
	}
	switch data[0] {
	case 'n':
		*v = Null()
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case '[':
		var list []Value
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*v = List(list...)
		return nil
	case '{':
		return v.unmarshalObject(data)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = Number(n)
		return nil
	}
}

func (v *Value) unmarshalObject(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	tagRaw, tagged := raw[typeTag]
	if !tagged {
		m := make(map[string]Value, len(raw))
		for k, r := range raw {
			var e Value
			if err := e.UnmarshalJSON(r); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = e
		}
		*v = Value{kind: KindMap, m: m}
		return nil
	}

	var tag string
	if err := json.Unmarshal(tagRaw, &tag); err != nil {
		return fmt.Errorf("malformed %s: %w", typeTag, err)
	}
	switch tag {
	case "model":
		var name string
		if err := json.Unmarshal(raw["name"], &name); err != nil {
			return fmt.Errorf("malformed model reference: %w", err)
		}
		*v = ModelRef(name)
	case "features":
		var s string
		if err := json.Unmarshal(raw["value"], &s); err != nil {
			return fmt.Errorf("malformed features: %w", err)
		}
		*v = Features(s)
	case "results":
		r, err := results.Unmarshal(raw["value"])
		if err != nil {
			return fmt.Errorf("malformed results: %w", err)
		}
		*v = ResultsValue(r)
	default:
		return fmt.Errorf("unknown %s %q", typeTag, tag)
	}
	return nil
}

// Encode renders v as indented JSON with a trailing newline.
func Encode(v Value) ([]byte, error) {
	compact, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Write stores v as indented JSON at path.
func Write(path string, v Value) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Read loads a value from path.
func Read(path string) (Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Value{}, err
	}
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}
