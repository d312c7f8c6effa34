// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Value
// =============================================================================

// Kind identifies which variant a Value holds.
type Kind int

const (
	// KindInvalid is the zero Kind. A Value of this kind is never stored.
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindBool
	KindMap
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// Value is one payload attribute.
//
// # Description
//
// Value is a closed variant: string, number, boolean or nested mapping.
// Null and arrays are deliberately not representable, so decoding them
// fails instead of smuggling untyped data into the store.
//
// # Thread Safety
//
// Values are immutable once built; Payload copies are deep.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	m    Payload
}

// String builds a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number builds a numeric Value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool builds a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Map builds a nested mapping Value. The mapping is copied.
func Map(p Payload) Value { return Value{kind: KindMap, m: p.Clone()} }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// AsString returns the string and whether v is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the number and whether v is a number.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsBool returns the boolean and whether v is a boolean.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsMap returns a copy of the nested mapping and whether v is a mapping.
func (v Value) AsMap() (Payload, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m.Clone(), true
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindMap:
		return v.m.Equal(o.m)
	}
	return true
}

// Interface converts v into plain Go values (string, float64, bool,
// map[string]any) suitable for generic encoders.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindMap:
		return v.m.Interface()
	}
	return nil
}

// FromInterface converts decoded Go values into a Value.
//
// Accepted inputs are string, bool, every Go numeric type, json.Number,
// map[string]any and Payload. Anything else is rejected.
func FromInterface(x any) (Value, error) {
	switch t := x.(type) {
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return checkedNumber(t)
	case float32:
		return checkedNumber(float64(t))
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return checkedNumber(f)
	case Value:
		if t.kind == KindInvalid {
			return Value{}, fmt.Errorf("invalid value")
		}
		return t, nil
	case Payload:
		return Map(t), nil
	case map[string]any:
		p, err := PayloadFromMap(t)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindMap, m: p}, nil
	case nil:
		return Value{}, fmt.Errorf("null is not a payload value")
	default:
		return Value{}, fmt.Errorf("unsupported payload value of type %T", x)
	}
}

func checkedNumber(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("number %v is not finite", f)
	}
	return Number(f), nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindMap:
		return json.Marshal(v.m)
	}
	return nil, fmt.Errorf("cannot marshal invalid payload value")
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (v Value) MarshalYAML() (any, error) {
	if v.kind == KindInvalid {
		return nil, fmt.Errorf("cannot marshal invalid payload value")
	}
	return v.Interface(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	switch node.Kind {
	case yaml.ScalarNode:
		var raw any
		if err := node.Decode(&raw); err != nil {
			return err
		}
		parsed, err := FromInterface(raw)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*v = parsed
		return nil
	case yaml.MappingNode:
		var p Payload
		if err := node.Decode(&p); err != nil {
			return err
		}
		if p == nil {
			p = Payload{}
		}
		*v = Value{kind: KindMap, m: p}
		return nil
	default:
		return fmt.Errorf("line %d: sequences are not payload values", node.Line)
	}
}

// =============================================================================
// Payload
// =============================================================================

// Payload is the attribute mapping carried by a node.
type Payload map[string]Value

// PayloadFromMap converts a decoded JSON/YAML object into a Payload.
func PayloadFromMap(m map[string]any) (Payload, error) {
	p := make(Payload, len(m))
	for k, raw := range m {
		val, err := FromInterface(raw)
		if err != nil {
			return nil, fmt.Errorf("payload key %q: %w", k, err)
		}
		p[k] = val
	}
	return p, nil
}

// Clone returns a deep copy. A nil Payload clones to an empty one.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		if v.kind == KindMap {
			v.m = v.m.Clone()
		}
		out[k] = v
	}
	return out
}

// Equal reports deep equality. nil and empty payloads are equal.
func (p Payload) Equal(o Payload) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Keys returns the payload keys in sorted order.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Interface converts the payload into map[string]any.
func (p Payload) Interface() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.Interface()
	}
	return out
}

// Validate checks that every value in the payload is a valid variant.
func (p Payload) Validate() error {
	for _, k := range p.Keys() {
		v := p[k]
		switch v.kind {
		case KindInvalid:
			return fmt.Errorf("payload key %q: invalid value", k)
		case KindNumber:
			if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
				return fmt.Errorf("payload key %q: number is not finite", k)
			}
		case KindMap:
			if err := v.m.Validate(); err != nil {
				return fmt.Errorf("payload key %q: %w", k, err)
			}
		}
	}
	return nil
}
