package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unsafe"
)

// cleanExponentialFormat removes leading zeros from exponent to match JS format
// e.g., "1e-07" -> "1e-7", "1e+25" -> "1e+25"
func cleanExponentialFormat(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == 'e' || s[i] == 'E' {
			if i+1 < len(s) && (s[i+1] == '+' || s[i+1] == '-') {
				sign := s[i+1]
				expStart := i + 2
				j := expStart
				for j < len(s) && s[j] == '0' {
					j++
				}
				if j >= len(s) {
					return s[:i+2] + "0"
				}
				return s[:i+1] + string(sign) + s[j:]
			}
			break
		}
	}
	return s
}

type ValueType uint8

const (
	TypeUndefined ValueType = iota
	TypeNull

	TypeString

	TypeFloatNumber
	TypeIntegerNumber

	TypeBoolean

	TypeObject
	TypeArray

	TypeHole // Internal marker for array holes, never observable through Get
)

// String returns a human-readable string representation of the ValueType
func (vt ValueType) String() string {
	switch vt {
	case TypeNull:
		return "null"
	case TypeUndefined:
		return "undefined"
	case TypeString:
		return "string"
	case TypeFloatNumber, TypeIntegerNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeObject:
		return "object"
	case TypeArray:
		return "array"
	case TypeHole:
		return "hole"
	default:
		return "unknown"
	}
}

type StringObject struct {
	value string
}

type Value struct {
	typ     ValueType
	payload uint64
	obj     unsafe.Pointer
}

var (
	Undefined = Value{typ: TypeUndefined}
	Null      = Value{typ: TypeNull}
	Hole      = Value{typ: TypeHole}
	True      = Value{typ: TypeBoolean, payload: 1}
	False     = Value{typ: TypeBoolean, payload: 0}
	NaN       = Value{typ: TypeFloatNumber, payload: math.Float64bits(math.NaN())}
)

func NumberValue(value float64) Value {
	return Value{typ: TypeFloatNumber, payload: math.Float64bits(value)}
}

func IntegerValue(value int32) Value {
	return Value{typ: TypeIntegerNumber, payload: uint64(int64(value))}
}

// numberFromFloat returns the integer representation when f is an int32
// without loss (and not -0), the float representation otherwise.
func numberFromFloat(f float64) Value {
	if f >= math.MinInt32 && f <= math.MaxInt32 && f == math.Trunc(f) && !(f == 0 && math.Signbit(f)) {
		return IntegerValue(int32(f))
	}
	return NumberValue(f)
}

// lengthValue converts an array length to a number value.
func lengthValue(n uint32) Value {
	return numberFromFloat(float64(n))
}

func BooleanValue(value bool) Value {
	if value {
		return True
	}
	return False
}

func NewString(value string) Value {
	return Value{typ: TypeString, obj: unsafe.Pointer(&StringObject{value: value})}
}

// NewObjectValue wraps an indexed container as a Value.
func NewObjectValue(o *Object) Value {
	if o == nil {
		return Null
	}
	if o.isArray {
		return Value{typ: TypeArray, obj: unsafe.Pointer(o)}
	}
	return Value{typ: TypeObject, obj: unsafe.Pointer(o)}
}

func (v Value) Type() ValueType { return v.typ }

func (v Value) IsNumber() bool {
	return v.typ == TypeFloatNumber || v.typ == TypeIntegerNumber
}

func (v Value) IsFloatNumber() bool   { return v.typ == TypeFloatNumber }
func (v Value) IsIntegerNumber() bool { return v.typ == TypeIntegerNumber }
func (v Value) IsString() bool        { return v.typ == TypeString }
func (v Value) IsBoolean() bool       { return v.typ == TypeBoolean }
func (v Value) IsUndefined() bool     { return v.typ == TypeUndefined }
func (v Value) IsNull() bool          { return v.typ == TypeNull }
func (v Value) IsHole() bool          { return v.typ == TypeHole }

// IsObject reports whether v refers to an indexed container (array or plain).
func (v Value) IsObject() bool {
	return v.typ == TypeObject || v.typ == TypeArray
}

func (v Value) IsArray() bool { return v.typ == TypeArray }

func (v Value) AsFloat() float64 {
	if v.typ != TypeFloatNumber {
		panic("value is not a float")
	}
	return math.Float64frombits(v.payload)
}

func (v Value) AsInteger() int32 {
	if v.typ != TypeIntegerNumber {
		panic("value is not an integer")
	}
	return int32(int64(v.payload))
}

func (v Value) AsBoolean() bool {
	if v.typ != TypeBoolean {
		panic("value is not a boolean")
	}
	return v.payload != 0
}

func (v Value) AsString() string {
	if v.typ != TypeString {
		panic("value is not a string")
	}
	return (*StringObject)(v.obj).value
}

// AsObject returns the container behind an object or array value, or nil.
func (v Value) AsObject() *Object {
	if !v.IsObject() {
		return nil
	}
	return (*Object)(v.obj)
}

// ToFloat converts v to a float64 following ECMAScript ToNumber for the
// primitive types this package models. Objects convert to NaN.
func (v Value) ToFloat() float64 {
	switch v.typ {
	case TypeIntegerNumber:
		return float64(v.AsInteger())
	case TypeFloatNumber:
		return v.AsFloat()
	case TypeNull:
		return 0
	case TypeBoolean:
		if v.AsBoolean() {
			return 1
		}
		return 0
	case TypeString:
		return parseStringToNumber(v.AsString())
	default:
		return math.NaN()
	}
}

func parseStringToNumber(s string) float64 {
	str := strings.TrimSpace(s)
	if str == "" {
		return 0
	}
	if len(str) >= 2 && (strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X")) {
		if i, err := strconv.ParseInt(str[2:], 16, 64); err == nil {
			return float64(i)
		}
		return math.NaN()
	}
	switch str {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func formatNumber(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	if f == 0 {
		return "0"
	}
	absF := math.Abs(f)
	if absF < 1e-6 || absF >= 1e21 {
		return cleanExponentialFormat(strconv.FormatFloat(f, 'e', -1, 64))
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ToString converts v to its ECMAScript string form.
func (v Value) ToString() string {
	switch v.typ {
	case TypeString:
		return v.AsString()
	case TypeFloatNumber:
		return formatNumber(v.AsFloat())
	case TypeIntegerNumber:
		return strconv.FormatInt(int64(v.AsInteger()), 10)
	case TypeBoolean:
		if v.AsBoolean() {
			return "true"
		}
		return "false"
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeObject:
		return "[object Object]"
	case TypeArray:
		return "[object Array]"
	case TypeHole:
		return "<hole>"
	default:
		return fmt.Sprintf("<unknown %d>", v.typ)
	}
}

// Inspect returns a debugging representation; strings are quoted.
func (v Value) Inspect() string {
	switch v.typ {
	case TypeString:
		return strconv.Quote(v.AsString())
	case TypeArray:
		o := v.AsObject()
		return fmt.Sprintf("Array(%d) <%s>", o.length, o.kind)
	case TypeObject:
		return fmt.Sprintf("Object <%s>", v.AsObject().kind)
	default:
		return v.ToString()
	}
}

func (v Value) String() string { return v.Inspect() }

// StrictlyEquals implements ECMAScript ===.
func (v Value) StrictlyEquals(other Value) bool {
	// IntegerNumber and FloatNumber are both the JavaScript "number" type
	if v.IsNumber() && other.IsNumber() {
		vf := v.ToFloat()
		of := other.ToFloat()
		if math.IsNaN(vf) || math.IsNaN(of) {
			return false
		}
		return vf == of
	}

	if v.typ != other.typ {
		return false
	}

	switch v.typ {
	case TypeUndefined, TypeNull, TypeHole:
		return true
	case TypeBoolean:
		return v.AsBoolean() == other.AsBoolean()
	case TypeString:
		return v.AsString() == other.AsString()
	case TypeObject, TypeArray:
		return v.obj == other.obj
	default:
		return false
	}
}
