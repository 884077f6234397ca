// Copyright © 2020 Ispirata Srl
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package interfaces

import (
	"fmt"
	"math"
	"time"
)

const (
	minInt32 = -2147483648
	maxInt32 = 2147483647
)

// Value is a tagged union over the 14 Astarte primitive/array types. It replaces dynamically
// typed payloads with a closed set of payload-carrying variants, so that validating a value
// against a Mapping reduces to a tag compare plus per-tag range/finiteness constraints.
type Value struct {
	t   MappingType
	raw any
}

// Type returns the tag of the value.
func (v Value) Type() MappingType { return v.t }

// Raw returns the underlying Go value carried by the tag (int32, int64, float64, string, []byte,
// bool, time.Time, or one of the corresponding slice types). It is meant for codecs, not for
// application code, which should use the typed accessors instead.
func (v Value) Raw() any { return v.raw }

// NewInteger builds an Astarte "integer" value.
func NewInteger(i int32) Value { return Value{t: Integer, raw: i} }

// NewLongInteger builds an Astarte "longinteger" value.
func NewLongInteger(i int64) Value { return Value{t: LongInteger, raw: i} }

// NewDouble builds an Astarte "double" value. NaN and ±Inf are rejected.
func NewDouble(f float64) (Value, error) {
	if !isFinite(f) {
		return Value{}, fmt.Errorf("double value must be finite, got %v", f)
	}
	return Value{t: Double, raw: f}, nil
}

// NewString builds an Astarte "string" value.
func NewString(s string) Value { return Value{t: String, raw: s} }

// NewBinaryBlob builds an Astarte "binaryblob" value.
func NewBinaryBlob(b []byte) Value { return Value{t: BinaryBlob, raw: b} }

// NewBoolean builds an Astarte "boolean" value.
func NewBoolean(b bool) Value { return Value{t: Boolean, raw: b} }

// NewDateTime builds an Astarte "datetime" value, normalized to UTC.
func NewDateTime(t time.Time) Value { return Value{t: DateTime, raw: t.UTC()} }

// NewIntegerArray builds an Astarte "integerarray" value.
func NewIntegerArray(v []int32) Value { return Value{t: IntegerArray, raw: append([]int32{}, v...)} }

// NewLongIntegerArray builds an Astarte "longintegerarray" value.
func NewLongIntegerArray(v []int64) Value {
	return Value{t: LongIntegerArray, raw: append([]int64{}, v...)}
}

// NewDoubleArray builds an Astarte "doublearray" value. Every element must be finite.
func NewDoubleArray(v []float64) (Value, error) {
	for _, f := range v {
		if !isFinite(f) {
			return Value{}, fmt.Errorf("doublearray element must be finite, got %v", f)
		}
	}
	return Value{t: DoubleArray, raw: append([]float64{}, v...)}, nil
}

// NewStringArray builds an Astarte "stringarray" value.
func NewStringArray(v []string) Value { return Value{t: StringArray, raw: append([]string{}, v...)} }

// NewBinaryBlobArray builds an Astarte "binaryblobarray" value.
func NewBinaryBlobArray(v [][]byte) Value {
	return Value{t: BinaryBlobArray, raw: append([][]byte{}, v...)}
}

// NewBooleanArray builds an Astarte "booleanarray" value.
func NewBooleanArray(v []bool) Value { return Value{t: BooleanArray, raw: append([]bool{}, v...)} }

// NewDateTimeArray builds an Astarte "datetimearray" value, each element normalized to UTC.
func NewDateTimeArray(v []time.Time) Value {
	normalized := make([]time.Time, len(v))
	for i, t := range v {
		normalized[i] = t.UTC()
	}
	return Value{t: DateTimeArray, raw: normalized}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Integer returns the value as an int32, if the tag matches.
func (v Value) Integer() (int32, bool) { i, ok := v.raw.(int32); return i, ok && v.t == Integer }

// LongInteger returns the value as an int64, if the tag matches.
func (v Value) LongInteger() (int64, bool) {
	i, ok := v.raw.(int64)
	return i, ok && v.t == LongInteger
}

// Double returns the value as a float64, if the tag matches.
func (v Value) Double() (float64, bool) { f, ok := v.raw.(float64); return f, ok && v.t == Double }

// String returns the value as a string, if the tag matches.
func (v Value) String() (string, bool) { s, ok := v.raw.(string); return s, ok && v.t == String }

// BinaryBlob returns the value as a []byte, if the tag matches.
func (v Value) BinaryBlob() ([]byte, bool) {
	b, ok := v.raw.([]byte)
	return b, ok && v.t == BinaryBlob
}

// Boolean returns the value as a bool, if the tag matches.
func (v Value) Boolean() (bool, bool) { b, ok := v.raw.(bool); return b, ok && v.t == Boolean }

// DateTime returns the value as a time.Time, if the tag matches.
func (v Value) DateTime() (time.Time, bool) {
	t, ok := v.raw.(time.Time)
	return t, ok && v.t == DateTime
}

// IntegerArray returns the value as a []int32, if the tag matches.
func (v Value) IntegerArray() ([]int32, bool) {
	a, ok := v.raw.([]int32)
	return a, ok && v.t == IntegerArray
}

// LongIntegerArray returns the value as a []int64, if the tag matches.
func (v Value) LongIntegerArray() ([]int64, bool) {
	a, ok := v.raw.([]int64)
	return a, ok && v.t == LongIntegerArray
}

// DoubleArray returns the value as a []float64, if the tag matches.
func (v Value) DoubleArray() ([]float64, bool) {
	a, ok := v.raw.([]float64)
	return a, ok && v.t == DoubleArray
}

// StringArray returns the value as a []string, if the tag matches.
func (v Value) StringArray() ([]string, bool) {
	a, ok := v.raw.([]string)
	return a, ok && v.t == StringArray
}

// BinaryBlobArray returns the value as a [][]byte, if the tag matches.
func (v Value) BinaryBlobArray() ([][]byte, bool) {
	a, ok := v.raw.([][]byte)
	return a, ok && v.t == BinaryBlobArray
}

// BooleanArray returns the value as a []bool, if the tag matches.
func (v Value) BooleanArray() ([]bool, bool) {
	a, ok := v.raw.([]bool)
	return a, ok && v.t == BooleanArray
}

// DateTimeArray returns the value as a []time.Time, if the tag matches.
func (v Value) DateTimeArray() ([]time.Time, bool) {
	a, ok := v.raw.([]time.Time)
	return a, ok && v.t == DateTimeArray
}

// ValueFromAny builds a Value of the requested MappingType out of a loosely typed Go value,
// applying the same range/finiteness constraints as the typed constructors. It is used by wire
// codecs (BSON, gob, protobuf-ish structs) that decode into `any` before the type is known to the
// caller.
func ValueFromAny(t MappingType, raw any) (Value, error) {
	switch t {
	case Integer:
		i, err := asInt64(raw)
		if err != nil {
			return Value{}, err
		}
		if i < minInt32 || i > maxInt32 {
			return Value{}, fmt.Errorf("value %d out of int32 range", i)
		}
		return NewInteger(int32(i)), nil
	case LongInteger:
		i, err := asInt64(raw)
		if err != nil {
			return Value{}, err
		}
		return NewLongInteger(i), nil
	case Double:
		f, err := asFloat64(raw)
		if err != nil {
			return Value{}, err
		}
		return NewDouble(f)
	case String:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("expected string, got %T", raw)
		}
		return NewString(s), nil
	case BinaryBlob:
		b, ok := raw.([]byte)
		if !ok {
			return Value{}, fmt.Errorf("expected []byte, got %T", raw)
		}
		return NewBinaryBlob(b), nil
	case Boolean:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("expected bool, got %T", raw)
		}
		return NewBoolean(b), nil
	case DateTime:
		ts, ok := raw.(time.Time)
		if !ok {
			return Value{}, fmt.Errorf("expected time.Time, got %T", raw)
		}
		return NewDateTime(ts), nil
	case IntegerArray, LongIntegerArray, DoubleArray, StringArray, BinaryBlobArray, BooleanArray, DateTimeArray:
		return valueFromArrayAny(t, raw)
	default:
		return Value{}, fmt.Errorf("unknown mapping type %q", t)
	}
}

func valueFromArrayAny(t MappingType, raw any) (Value, error) {
	items, ok := raw.([]any)
	if !ok {
		return Value{}, fmt.Errorf("expected array, got %T", raw)
	}
	elementType := scalarOf(t)
	switch t {
	case IntegerArray:
		out := make([]int32, 0, len(items))
		for _, item := range items {
			v, err := ValueFromAny(elementType, item)
			if err != nil {
				return Value{}, err
			}
			i, _ := v.Integer()
			out = append(out, i)
		}
		return NewIntegerArray(out), nil
	case LongIntegerArray:
		out := make([]int64, 0, len(items))
		for _, item := range items {
			v, err := ValueFromAny(elementType, item)
			if err != nil {
				return Value{}, err
			}
			i, _ := v.LongInteger()
			out = append(out, i)
		}
		return NewLongIntegerArray(out), nil
	case DoubleArray:
		out := make([]float64, 0, len(items))
		for _, item := range items {
			v, err := ValueFromAny(elementType, item)
			if err != nil {
				return Value{}, err
			}
			f, _ := v.Double()
			out = append(out, f)
		}
		return NewDoubleArray(out)
	case StringArray:
		out := make([]string, 0, len(items))
		for _, item := range items {
			v, err := ValueFromAny(elementType, item)
			if err != nil {
				return Value{}, err
			}
			s, _ := v.String()
			out = append(out, s)
		}
		return NewStringArray(out), nil
	case BinaryBlobArray:
		out := make([][]byte, 0, len(items))
		for _, item := range items {
			v, err := ValueFromAny(elementType, item)
			if err != nil {
				return Value{}, err
			}
			b, _ := v.BinaryBlob()
			out = append(out, b)
		}
		return NewBinaryBlobArray(out), nil
	case BooleanArray:
		out := make([]bool, 0, len(items))
		for _, item := range items {
			v, err := ValueFromAny(elementType, item)
			if err != nil {
				return Value{}, err
			}
			b, _ := v.Boolean()
			out = append(out, b)
		}
		return NewBooleanArray(out), nil
	case DateTimeArray:
		out := make([]time.Time, 0, len(items))
		for _, item := range items {
			v, err := ValueFromAny(elementType, item)
			if err != nil {
				return Value{}, err
			}
			ts, _ := v.DateTime()
			out = append(out, ts)
		}
		return NewDateTimeArray(out), nil
	default:
		return Value{}, fmt.Errorf("not an array type: %q", t)
	}
}

func scalarOf(arrayType MappingType) MappingType {
	switch arrayType {
	case IntegerArray:
		return Integer
	case LongIntegerArray:
		return LongInteger
	case DoubleArray:
		return Double
	case StringArray:
		return String
	case BinaryBlobArray:
		return BinaryBlob
	case BooleanArray:
		return Boolean
	case DateTimeArray:
		return DateTime
	default:
		return ""
	}
}

func asInt64(raw any) (int64, error) {
	switch n := raw.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected integer, got non-integral float %v", n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", raw)
	}
}

func asFloat64(raw any) (float64, error) {
	switch n := raw.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", raw)
	}
}
