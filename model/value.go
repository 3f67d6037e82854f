// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind discriminates Value variants.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueNumber
	ValueText
	ValueBool
	ValueList
	ValueMap
)

// Value is a processor result payload: a scalar, a string label, or an
// arbitrarily nested structure. It round-trips through JSON losslessly,
// and marshaling the same Value always produces the same bytes (map keys
// are emitted in sorted order).
type Value struct {
	kind ValueKind
	num  float64
	str  string
	b    bool
	list []Value
	obj  map[string]Value
}

func Number(f float64) Value { return Value{kind: ValueNumber, num: f} }
func Text(s string) Value    { return Value{kind: ValueText, str: s} }
func Bool(b bool) Value      { return Value{kind: ValueBool, b: b} }

func ListOf(vs ...Value) Value { return Value{kind: ValueList, list: vs} }

func MapOf(m map[string]Value) Value { return Value{kind: ValueMap, obj: m} }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsNull() bool { return v.kind == ValueNull }

// Float returns the numeric value, reporting whether the Value is a number.
func (v Value) Float() (float64, bool) { return v.num, v.kind == ValueNumber }

// Text returns the string value, reporting whether the Value is text.
func (v Value) Text() (string, bool) { return v.str, v.kind == ValueText }

// Bool returns the boolean value, reporting whether the Value is a bool.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == ValueBool }

// List returns the elements, reporting whether the Value is a list.
func (v Value) List() ([]Value, bool) { return v.list, v.kind == ValueList }

// Map returns the fields, reporting whether the Value is a map.
func (v Value) Map() (map[string]Value, bool) { return v.obj, v.kind == ValueMap }

// Get looks up a field on a map Value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != ValueMap {
		return Value{}, false
	}
	f, ok := v.obj[key]
	return f, ok
}

// String renders a compact single-line form, suitable for overlays and logs.
func (v Value) String() string {
	switch v.kind {
	case ValueNull:
		return "null"
	case ValueNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case ValueText:
		return v.str
	case ValueBool:
		return strconv.FormatBool(v.b)
	default:
		b, err := v.MarshalJSON()
		if err != nil {
			return fmt.Sprintf("(unrenderable: %v)", err)
		}
		return string(b)
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueNull:
		return []byte("null"), nil
	case ValueNumber:
		return json.Marshal(v.num)
	case ValueText:
		return json.Marshal(v.str)
	case ValueBool:
		return json.Marshal(v.b)
	case ValueList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case ValueMap:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	}
	return nil, fmt.Errorf("value: unknown kind %d", v.kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// FromAny converts the output of encoding/json's generic decoding
// (float64, string, bool, []any, map[string]any, nil) into a Value.
func FromAny(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Value{}
	case float64:
		return Number(x)
	case string:
		return Text(x)
	case bool:
		return Bool(x)
	case []any:
		list := make([]Value, len(x))
		for i, e := range x {
			list[i] = FromAny(e)
		}
		return ListOf(list...)
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, e := range x {
			obj[k] = FromAny(e)
		}
		return MapOf(obj)
	case json.Number:
		f, _ := x.Float64()
		return Number(f)
	}
	return Text(fmt.Sprintf("%v", raw))
}
