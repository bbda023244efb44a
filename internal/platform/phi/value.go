// Package phi holds the protected-health-information guard: a tagged value
// model for records, free-text sanitization, role-based field masking,
// message scrubbing and patient input validation.
package phi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindRecord:
		return "record"
	default:
		return "invalid"
	}
}

// Value is an immutable JSON-shaped value. The zero Value is null.
// Numbers keep their decimal text so identifiers such as MRNs survive a
// round trip without float rounding.
type Value struct {
	kind Kind
	str  string
	num  json.Number
	b    bool
	arr  []Value
	rec  map[string]Value
}

func Null() Value { return Value{} }
func String(s string) Value { return Value{kind: KindString, str: s} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Number(n json.Number) Value { return Value{kind: KindNumber, num: n} }

// Float builds a number from a float64.
func Float(f float64) Value {
	return Number(json.Number(strconv.FormatFloat(f, 'f', -1, 64)))
}

// Array copies items into a new array value.
func Array(items ...Value) Value {
	arr := make([]Value, len(items))
	copy(arr, items)
	return Value{kind: KindArray, arr: arr}
}

// Record copies fields into a new record value.
func Record(fields map[string]Value) Value {
	rec := make(map[string]Value, len(fields))
	for k, v := range fields {
		rec[k] = v
	}
	return Value{kind: KindRecord, rec: rec}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string payload.
func (v Value) Str() (string, bool) {
	return v.str, v.kind == KindString
}

// Num returns the number payload as decimal text.
func (v Value) Num() (json.Number, bool) {
	return v.num, v.kind == KindNumber
}

// Boolean returns the bool payload.
func (v Value) Boolean() (bool, bool) {
	return v.b, v.kind == KindBool
}

// Len is the number of array items or record fields.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindRecord:
		return len(v.rec)
	default:
		return 0
	}
}

// Index returns the i-th array item, or null when out of range.
func (v Value) Index(i int) Value {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return Null()
	}
	return v.arr[i]
}

// Get returns a record field.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindRecord {
		return Null(), false
	}
	f, ok := v.rec[key]
	return f, ok
}

// Keys returns the record's field names in sorted order.
func (v Value) Keys() []string {
	if v.kind != KindRecord {
		return nil
	}
	keys := make([]string, 0, len(v.rec))
	for k := range v.rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindRecord:
		if len(v.rec) != len(o.rec) {
			return false
		}
		for k, f := range v.rec {
			g, ok := o.rec[k]
			if !ok || !f.Equal(g) {
				return false
			}
		}
		return true
	}
	return false
}

// LeafFunc transforms a scalar or null. key is the name of the nearest
// enclosing record field, or "" at the top level. Array items inherit the
// key of the field that holds the array.
type LeafFunc func(key string, leaf Value) Value

// Walk rebuilds v bottom-up, passing every leaf through fn. Arrays and
// records in the result are always fresh, so v is never shared or mutated.
func Walk(v Value, fn LeafFunc) Value {
	return walk("", v, fn)
}

func walk(key string, v Value, fn LeafFunc) Value {
	switch v.kind {
	case KindArray:
		out := make([]Value, len(v.arr))
		for i, item := range v.arr {
			out[i] = walk(key, item, fn)
		}
		return Value{kind: KindArray, arr: out}
	case KindRecord:
		out := make(map[string]Value, len(v.rec))
		for k, f := range v.rec {
			out[k] = walk(k, f, fn)
		}
		return Value{kind: KindRecord, rec: out}
	default:
		return fn(key, v)
	}
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	return Walk(v, func(_ string, leaf Value) Value { return leaf })
}

// FromAny converts decoded JSON (and the common Go scalars) into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t.Clone(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case float64:
		return Float(t), nil
	case float32:
		return Float(float64(t)), nil
	case int:
		return Number(json.Number(strconv.Itoa(t))), nil
	case int64:
		return Number(json.Number(strconv.FormatInt(t, 10))), nil
	case []any:
		out := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Null(), fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = v
		}
		return Value{kind: KindArray, arr: out}, nil
	case []map[string]any:
		out := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Null(), fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = v
		}
		return Value{kind: KindArray, arr: out}, nil
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Null(), fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = v
		}
		return Value{kind: KindRecord, rec: out}, nil
	case map[string]string:
		out := make(map[string]Value, len(t))
		for k, s := range t {
			out[k] = String(s)
		}
		return Value{kind: KindRecord, rec: out}, nil
	default:
		return Null(), fmt.Errorf("unsupported type %T", x)
	}
}

// Any converts v back into plain Go values. Numbers come back as
// json.Number.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Any()
		}
		return out
	case KindRecord:
		out := make(map[string]any, len(v.rec))
		for k, f := range v.rec {
			out[k] = f.Any()
		}
		return out
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return err
	}
	parsed, err := FromAny(x)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseJSON decodes a JSON document into a Value.
func ParseJSON(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Null(), fmt.Errorf("decoding value: %w", err)
	}
	return v, nil
}
