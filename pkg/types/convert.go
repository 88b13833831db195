package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ToFloat coerces a value to float64. Ints, floats and bools convert
// directly and strings are parsed. Null and maps do not convert.
func ToFloat(v Value) (float64, bool) {
	switch v.typ {
	case TypeInt:
		return float64(v.intVal), true
	case TypeFloat:
		return v.floatVal, true
	case TypeBool:
		if v.boolVal {
			return 1, true
		}
		return 0, true
	case TypeString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.stringVal), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// ToInt coerces a value to int64. Floats convert only when integral.
func ToInt(v Value) (int64, bool) {
	switch v.typ {
	case TypeInt:
		return v.intVal, true
	case TypeFloat:
		f := v.floatVal
		if f != math.Trunc(f) || f < math.MinInt64 || f > math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	case TypeBool:
		if v.boolVal {
			return 1, true
		}
		return 0, true
	case TypeString:
		i, err := strconv.ParseInt(strings.TrimSpace(v.stringVal), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// ToBool coerces a value to a boolean. Null is false and numbers are true
// when non-zero. Strings must spell true or false, ignoring case and
// surrounding space; anything else is a TypeError.
func ToBool(v Value) (bool, error) {
	switch v.typ {
	case TypeNull:
		return false, nil
	case TypeBool:
		return v.boolVal, nil
	case TypeInt:
		return v.intVal != 0, nil
	case TypeFloat:
		return v.floatVal != 0, nil
	case TypeString:
		switch strings.ToLower(strings.TrimSpace(v.stringVal)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return false, NewTypeError(fmt.Sprintf("string %q is not a valid boolean", v.stringVal))
	}
	return false, NewTypeError(fmt.Sprintf("cannot convert %s to bool", v.typ))
}

// ConvertTo converts v to the given kind, reporting whether the conversion
// succeeded. Converting to the value's own kind always succeeds.
func ConvertTo(v Value, kind ValueType) (Value, bool) {
	if v.typ == kind {
		return v, true
	}
	switch kind {
	case TypeInt:
		if i, ok := ToInt(v); ok {
			return NewInt(i), true
		}
	case TypeFloat:
		if f, ok := ToFloat(v); ok {
			return NewFloat(f), true
		}
	case TypeBool:
		if b, err := ToBool(v); err == nil && !v.IsNull() {
			return NewBool(b), true
		}
	case TypeString:
		switch v.typ {
		case TypeBool, TypeInt, TypeFloat:
			return NewString(v.String()), true
		}
	}
	return Null, false
}

// LooseEqual compares two values across kinds. Two nulls are equal and a
// null never equals a non-null. Values of the same kind compare directly.
// Otherwise the right value is converted to the left's kind, falling back
// to converting the left to the right's kind; a failed conversion means
// not equal.
func LooseEqual(a, b Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	if a.typ == b.typ {
		return a.Equal(b)
	}
	if converted, ok := ConvertTo(b, a.typ); ok {
		return a.Equal(converted)
	}
	if converted, ok := ConvertTo(a, b.typ); ok {
		return converted.Equal(b)
	}
	return false
}
