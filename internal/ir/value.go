package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"unicode/utf16"
)

// Value is a sealed interface over the attribute values a record may carry.
// Only Null, String, Int, Float, Bool, Array, and Object implement it.
type Value interface {
	irValue() // Sealed - only these types implement it
}

// Null represents a JSON null attribute.
// Using an explicit type keeps every Value non-nil.
type Null struct{}

func (Null) irValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a string attribute.
type String string

func (String) irValue() {}

// Int is an integral attribute. Entity ids are always Int.
type Int int64

func (Int) irValue() {}

// Float is a non-integral numeric attribute.
// JSON numbers that are integral decode as Int, never Float.
type Float float64

func (Float) irValue() {}

// Bool is a boolean attribute.
type Bool bool

func (Bool) irValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) irValue() {}

// Object is an open attribute record keyed by attribute name.
//
// Objects are treated as immutable once they are reachable from a store:
// every update goes through Merge or Without, which return a fresh map.
type Object map[string]Value

func (Object) irValue() {}

// Pair is a key-value pair for Object construction.
type Pair struct {
	Key   string
	Value Value
}

// O is a shorthand for Pair.
// Example: Obj(O("id", Int(5)), O("name", String("Timmy")))
func O(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// Obj builds an Object from pairs.
func Obj(pairs ...Pair) Object {
	obj := make(Object, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	return obj
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings uses UTF-8 byte order, which differs for astral characters.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// Clone returns a shallow copy of obj. A nil Object clones to an empty one.
func (obj Object) Clone() Object {
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}

// Merge returns a new Object holding obj's attributes overlaid with attrs.
// Attributes absent from attrs are kept as they are; neither input is modified.
func (obj Object) Merge(attrs Object) Object {
	out := make(Object, len(obj)+len(attrs))
	for k, v := range obj {
		out[k] = v
	}
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// Without returns a copy of obj lacking the given keys.
func (obj Object) Without(keys ...string) Object {
	out := obj.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Int reads an integral attribute. Integral floats are accepted.
func (obj Object) Int(key string) (int64, bool) {
	switch v := obj[key].(type) {
	case Int:
		return int64(v), true
	case Float:
		f := float64(v)
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int64(f), true
		}
	case String:
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

// String reads a string attribute.
func (obj Object) String(key string) (string, bool) {
	v, ok := obj[key].(String)
	return string(v), ok
}

// Bool reads a boolean attribute. A missing attribute reads as false.
func (obj Object) Bool(key string) bool {
	v, _ := obj[key].(Bool)
	return bool(v)
}

// Object reads a nested object attribute.
func (obj Object) Object(key string) (Object, bool) {
	v, ok := obj[key].(Object)
	return v, ok
}

// ID reads the record's "id" attribute.
func (obj Object) ID() (int64, bool) {
	return obj.Int("id")
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785 (Canonical JSON).
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := len(a16)
	if len(b16) < minLen {
		minLen = len(b16)
	}

	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	if len(a16) < len(b16) {
		return -1
	}
	if len(a16) > len(b16) {
		return 1
	}
	return 0
}

// UnmarshalJSON implements json.Unmarshaler for Object.
func (obj *Object) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*obj = make(Object, len(raw))
	for k, v := range raw {
		val, err := UnmarshalValue(v)
		if err != nil {
			return fmt.Errorf("object key %q: %w", k, err)
		}
		(*obj)[k] = val
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for Array.
func (arr *Array) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*arr = make(Array, len(raw))
	for i, v := range raw {
		val, err := UnmarshalValue(v)
		if err != nil {
			return fmt.Errorf("array index %d: %w", i, err)
		}
		(*arr)[i] = val
	}
	return nil
}

// UnmarshalValue decodes a single JSON value into the matching Value type.
func UnmarshalValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil

	case 'n':
		return Null{}, nil

	case '[':
		var arr Array
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, err
		}
		return arr, nil

	case '{':
		var obj Object
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
		return obj, nil

	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		if i, err := n.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %s: %w", string(data), err)
		}
		return Float(f), nil
	}
}

// MarshalJSON implements json.Marshaler for Object with sorted keys.
// This is not canonical marshaling (HTML escaping applies); use
// MarshalCanonical for hashing.
func (obj Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, k := range obj.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalValue(obj[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler for Array.
func (arr Array) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')

	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := MarshalValue(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}

	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// MarshalValue marshals a Value to JSON bytes.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Float:
		return json.Marshal(float64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Array:
		return val.MarshalJSON()
	case Object:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// DecodeObject decodes a JSON object payload into an Object.
func DecodeObject(data []byte) (Object, error) {
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// FromAny converts plain Go values (as produced by encoding/json or yaml.v3)
// into a Value.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("number out of int64 range: %d", val)
		}
		return Int(val), nil
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return Int(int64(val)), nil
		}
		return Float(val), nil
	case json.Number:
		return UnmarshalValue([]byte(val))
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			e, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = e
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			e, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = e
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// ObjectFromMap converts a plain map into an Object.
func ObjectFromMap(m map[string]any) (Object, error) {
	v, err := FromAny(m)
	if err != nil {
		return nil, err
	}
	obj, _ := v.(Object)
	if obj == nil {
		obj = Object{}
	}
	return obj, nil
}
