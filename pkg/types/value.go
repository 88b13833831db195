// Package types defines the runtime values produced by expression evaluation.
// It implements a closed set of kinds: null, bool, int, float and string,
// plus map, which only host contexts produce to feed chained property access.
package types

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ValueType represents the kind of a runtime value.
type ValueType int

const (
	TypeNull   ValueType = iota
	TypeBool             // bool
	TypeInt              // int64
	TypeFloat            // float64
	TypeString           // string
	TypeMap              // ordered map of string -> Value
)

// String returns the kind name used in error messages and API responses.
func (t ValueType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a runtime value. It uses a tagged union so that consumers switch
// on Type() instead of doing dynamic type assertions.
type Value struct {
	typ       ValueType
	boolVal   bool
	intVal    int64
	floatVal  float64
	stringVal string
	mapVal    *OrderedMap
}

// OrderedMap maintains insertion order for map keys. Lookups through GetFold
// ignore case, matching how property names are resolved.
type OrderedMap struct {
	keys   []string
	values map[string]Value
	folded map[string]string // lowercased key -> original key
}

// NewOrderedMap creates a new empty ordered map.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{
		keys:   make([]string, 0),
		values: make(map[string]Value),
		folded: make(map[string]string),
	}
}

// Get retrieves a value by its exact key.
func (m *OrderedMap) Get(key string) (Value, bool) {
	v, ok := m.values[key]
	return v, ok
}

// GetFold retrieves a value by key, ignoring case. When several keys differ
// only by case, the one inserted first wins.
func (m *OrderedMap) GetFold(key string) (Value, bool) {
	if v, ok := m.values[key]; ok {
		return v, true
	}
	orig, ok := m.folded[strings.ToLower(key)]
	if !ok {
		return Null, false
	}
	return m.values[orig], true
}

// Set adds or updates a key-value pair, preserving insertion order.
func (m *OrderedMap) Set(key string, val Value) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
		lk := strings.ToLower(key)
		if _, taken := m.folded[lk]; !taken {
			m.folded[lk] = key
		}
	}
	m.values[key] = val
}

// Delete removes a key from the map.
func (m *OrderedMap) Delete(key string) {
	if _, exists := m.values[key]; !exists {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	lk := strings.ToLower(key)
	if m.folded[lk] == key {
		delete(m.folded, lk)
		for _, k := range m.keys {
			if strings.ToLower(k) == lk {
				m.folded[lk] = k
				break
			}
		}
	}
}

// Keys returns the keys in insertion order.
func (m *OrderedMap) Keys() []string {
	result := make([]string, len(m.keys))
	copy(result, m.keys)
	return result
}

// Len returns the number of entries.
func (m *OrderedMap) Len() int {
	return len(m.keys)
}

// Clone creates a deep copy of the ordered map.
func (m *OrderedMap) Clone() *OrderedMap {
	c := NewOrderedMap()
	for _, k := range m.keys {
		c.Set(k, m.values[k].Clone())
	}
	return c
}

// Null is the singleton null value.
var Null = Value{typ: TypeNull}

// NewBool creates a boolean value.
func NewBool(v bool) Value {
	return Value{typ: TypeBool, boolVal: v}
}

// NewInt creates an integer value (64-bit).
func NewInt(v int64) Value {
	return Value{typ: TypeInt, intVal: v}
}

// NewFloat creates a floating point value (64-bit).
func NewFloat(v float64) Value {
	return Value{typ: TypeFloat, floatVal: v}
}

// NewString creates a string value.
func NewString(v string) Value {
	return Value{typ: TypeString, stringVal: v}
}

// NewMap creates a map value from an OrderedMap.
func NewMap(v *OrderedMap) Value {
	if v == nil {
		v = NewOrderedMap()
	}
	return Value{typ: TypeMap, mapVal: v}
}

// Type returns the value's kind.
func (v Value) Type() ValueType {
	return v.typ
}

// IsNull returns true if the value is null.
func (v Value) IsNull() bool {
	return v.typ == TypeNull
}

// AsBool returns the boolean value. Panics if not a bool.
func (v Value) AsBool() bool {
	if v.typ != TypeBool {
		panic(fmt.Sprintf("AsBool called on %s value", v.typ))
	}
	return v.boolVal
}

// AsInt returns the integer value. Panics if not an int.
func (v Value) AsInt() int64 {
	if v.typ != TypeInt {
		panic(fmt.Sprintf("AsInt called on %s value", v.typ))
	}
	return v.intVal
}

// AsFloat returns the float value. Panics if not a float.
func (v Value) AsFloat() float64 {
	if v.typ != TypeFloat {
		panic(fmt.Sprintf("AsFloat called on %s value", v.typ))
	}
	return v.floatVal
}

// AsString returns the string value. Panics if not a string.
func (v Value) AsString() string {
	if v.typ != TypeString {
		panic(fmt.Sprintf("AsString called on %s value", v.typ))
	}
	return v.stringVal
}

// AsMap returns the map value. Panics if not a map.
func (v Value) AsMap() *OrderedMap {
	if v.typ != TypeMap {
		panic(fmt.Sprintf("AsMap called on %s value", v.typ))
	}
	return v.mapVal
}

// Clone creates a deep copy of the value.
func (v Value) Clone() Value {
	if v.typ == TypeMap {
		return NewMap(v.mapVal.Clone())
	}
	return v
}

// Equal tests strict equality: same kind and same contents. Cross-kind
// equality as used by the -eq operator lives in LooseEqual.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case TypeNull:
		return true
	case TypeBool:
		return v.boolVal == other.boolVal
	case TypeInt:
		return v.intVal == other.intVal
	case TypeFloat:
		return v.floatVal == other.floatVal
	case TypeString:
		return v.stringVal == other.stringVal
	case TypeMap:
		if v.mapVal.Len() != other.mapVal.Len() {
			return false
		}
		for _, k := range v.mapVal.Keys() {
			ov, ok := other.mapVal.Get(k)
			if !ok {
				return false
			}
			mv, _ := v.mapVal.Get(k)
			if !mv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// String returns a human-readable representation of the value.
func (v Value) String() string {
	switch v.typ {
	case TypeNull:
		return "null"
	case TypeBool:
		return strconv.FormatBool(v.boolVal)
	case TypeInt:
		return strconv.FormatInt(v.intVal, 10)
	case TypeFloat:
		if v.floatVal == math.Trunc(v.floatVal) && !math.IsInf(v.floatVal, 0) {
			return strconv.FormatFloat(v.floatVal, 'f', 1, 64)
		}
		return strconv.FormatFloat(v.floatVal, 'g', -1, 64)
	case TypeString:
		return v.stringVal
	case TypeMap:
		parts := make([]string, 0, v.mapVal.Len())
		for _, k := range v.mapVal.Keys() {
			val, _ := v.mapVal.Get(k)
			parts = append(parts, fmt.Sprintf("%s: %s", k, val.String()))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "<unknown>"
}

// MarshalJSON converts a Value to JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case TypeNull:
		return []byte("null"), nil
	case TypeBool:
		return json.Marshal(v.boolVal)
	case TypeInt:
		return json.Marshal(v.intVal)
	case TypeFloat:
		if math.IsNaN(v.floatVal) || math.IsInf(v.floatVal, 0) {
			// JSON has no representation for these.
			return json.Marshal(v.String())
		}
		return json.Marshal(v.floatVal)
	case TypeString:
		return json.Marshal(v.stringVal)
	case TypeMap:
		buf := []byte{'{'}
		for i, k := range v.mapVal.Keys() {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, keyBytes...)
			buf = append(buf, ':')
			val, _ := v.mapVal.Get(k)
			valBytes, err := val.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf = append(buf, valBytes...)
		}
		buf = append(buf, '}')
		return buf, nil
	}
	return nil, fmt.Errorf("cannot marshal unknown type %d", v.typ)
}

// FromGo converts a decoded JSON or YAML value (any of nil, bool, the Go
// integer and float kinds, string, []any, map[string]any) into a Value.
// Lists become maps keyed by their decimal index, since expressions only
// address structured data through property access.
func FromGo(v any) Value {
	if v == nil {
		return Null
	}
	switch val := v.(type) {
	case Value:
		return val
	case bool:
		return NewBool(val)
	case int:
		return NewInt(int64(val))
	case int32:
		return NewInt(int64(val))
	case int64:
		return NewInt(val)
	case uint64:
		if val > math.MaxInt64 {
			return NewFloat(float64(val))
		}
		return NewInt(int64(val))
	case float32:
		return NewFloat(float64(val))
	case float64:
		return NewFloat(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return NewInt(i)
		}
		if f, err := val.Float64(); err == nil {
			return NewFloat(f)
		}
		return NewString(val.String())
	case string:
		return NewString(val)
	case []any:
		m := NewOrderedMap()
		for i, item := range val {
			m.Set(strconv.Itoa(i), FromGo(item))
		}
		return NewMap(m)
	case map[string]any:
		m := NewOrderedMap()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			m.Set(k, FromGo(val[k]))
		}
		return NewMap(m)
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[fmt.Sprint(k)] = item
		}
		return FromGo(m)
	default:
		return NewString(fmt.Sprintf("%v", val))
	}
}

// ToGo converts a Value to a plain Go value suitable for JSON encoding.
func (v Value) ToGo() any {
	switch v.typ {
	case TypeNull:
		return nil
	case TypeBool:
		return v.boolVal
	case TypeInt:
		return v.intVal
	case TypeFloat:
		return v.floatVal
	case TypeString:
		return v.stringVal
	case TypeMap:
		result := make(map[string]any, v.mapVal.Len())
		for _, k := range v.mapVal.Keys() {
			val, _ := v.mapVal.Get(k)
			result[k] = val.ToGo()
		}
		return result
	}
	return nil
}
