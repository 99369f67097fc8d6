package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a literal constant in an MQL expression.
// Sealed: only the types in this file implement it.
type Value interface {
	irValue()

	// Literal renders the value as it is written in MQL source.
	Literal() string

	// Native returns the plain Go value: string, int64, float64 or bool.
	// Param returns nil.
	Native() any
}

// String is a quoted string constant.
type String string

// Int is an integer constant.
type Int int64

// Float is a floating point constant.
type Float float64

// Bool is true or false.
type Bool bool

// Param is an unbound $name reference. Conversion replaces every Param
// with the value bound by the nearest scope or by the caller.
type Param string

func (String) irValue() {}
func (Int) irValue()    {}
func (Float) irValue()  {}
func (Bool) irValue()   {}
func (Param) irValue()  {}

func (s String) Literal() string { return strconv.Quote(string(s)) }
func (i Int) Literal() string    { return strconv.FormatInt(int64(i), 10) }
func (b Bool) Literal() string   { return strconv.FormatBool(bool(b)) }
func (p Param) Literal() string  { return "$" + string(p) }

// Literal always includes a decimal point or an exponent so the value
// reads back as a Float.
func (f Float) Literal() string {
	s := strconv.FormatFloat(float64(f), 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	return s
}

func (s String) Native() any { return string(s) }
func (i Int) Native() any    { return int64(i) }
func (f Float) Native() any  { return float64(f) }
func (b Bool) Native() any   { return bool(b) }
func (p Param) Native() any  { return nil }

// IsNumeric reports whether v is an Int or a Float.
func IsNumeric(v Value) bool {
	switch v.(type) {
	case Int, Float:
		return true
	}
	return false
}

// SameKind reports whether a and b can be compared for ordering:
// both numeric, both strings or both booleans.
func SameKind(a, b Value) bool {
	if IsNumeric(a) && IsNumeric(b) {
		return true
	}
	switch a.(type) {
	case String:
		_, ok := b.(String)
		return ok
	case Bool:
		_, ok := b.(Bool)
		return ok
	}
	return false
}

// FromNative converts a decoded YAML or JSON scalar to a Value.
// Integral json.Number values become Int.
func FromNative(v any) (Value, error) {
	switch val := v.(type) {
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", val)
		}
		return Int(val), nil
	case float64:
		return Float(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", val)
		}
		return Float(f), nil
	default:
		return nil, fmt.Errorf("unsupported parameter value type %T", v)
	}
}

// NativeMap converts a Value map to plain Go values, for JSON encoding.
func NativeMap(m map[string]Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Native()
	}
	return out
}
