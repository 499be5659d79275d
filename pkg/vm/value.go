package vm

import (
	"fmt"
	"math"
	"strconv"
	"unsafe"
)

type ValueType uint8

const (
	TypeUndefined ValueType = iota
	TypeNull

	TypeString
	TypeSymbol

	TypeFloatNumber
	TypeIntegerNumber

	TypeBoolean

	TypeObject

	TypeHole // Internal marker for array holes
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
	case TypeSymbol:
		return "symbol"
	case TypeFloatNumber, TypeIntegerNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeObject:
		return "object"
	case TypeHole:
		return "hole"
	default:
		return "unknown"
	}
}

type StringObject struct {
	value string
}

// Value is a tagged engine value. Small integers and doubles are stored
// unboxed in payload; strings, symbols and objects live behind obj.
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

// Number returns the small-integer form of f when it has one, so that
// integral doubles do not needlessly generalize an element store.
func Number(f float64) Value {
	if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 && !(f == 0 && math.Signbit(f)) {
		return IntegerValue(int32(f))
	}
	return NumberValue(f)
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

func NewValueFromSymbol(sym *Symbol) Value {
	return Value{typ: TypeSymbol, obj: unsafe.Pointer(sym)}
}

func NewValueFromObject(o *Object) Value {
	return Value{typ: TypeObject, obj: unsafe.Pointer(o)}
}

func (v Value) Type() ValueType { return v.typ }

func (v Value) IsUndefined() bool { return v.typ == TypeUndefined }
func (v Value) IsNull() bool { return v.typ == TypeNull }
func (v Value) IsHole() bool { return v.typ == TypeHole }
func (v Value) IsString() bool { return v.typ == TypeString }
func (v Value) IsSymbol() bool { return v.typ == TypeSymbol }
func (v Value) IsBoolean() bool { return v.typ == TypeBoolean }
func (v Value) IsObject() bool { return v.typ == TypeObject }
func (v Value) IsFloatNumber() bool { return v.typ == TypeFloatNumber }
func (v Value) IsIntegerNumber() bool { return v.typ == TypeIntegerNumber }

func (v Value) IsNumber() bool {
	return v.typ == TypeFloatNumber || v.typ == TypeIntegerNumber
}

// IsPointer reports whether storing v creates an edge the collector must see.
func (v Value) IsPointer() bool {
	return v.typ == TypeObject
}

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
	return int32(v.payload)
}

// ToFloat widens any number to float64.
func (v Value) ToFloat() float64 {
	switch v.typ {
	case TypeIntegerNumber:
		return float64(int32(v.payload))
	case TypeFloatNumber:
		return math.Float64frombits(v.payload)
	default:
		panic("value is not a number")
	}
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

func (v Value) AsSymbol() *Symbol {
	if v.typ != TypeSymbol {
		panic("value is not a symbol")
	}
	return (*Symbol)(v.obj)
}

func (v Value) AsObject() *Object {
	if v.typ != TypeObject {
		panic("value is not an object")
	}
	return (*Object)(v.obj)
}

// Is implements SameValue: numbers compare by value (NaN equals NaN,
// +0 differs from -0), strings by content, everything else by identity.
func (v Value) Is(other Value) bool {
	if v.IsNumber() && other.IsNumber() {
		a, b := v.ToFloat(), other.ToFloat()
		if math.IsNaN(a) && math.IsNaN(b) {
			return true
		}
		return a == b && math.Signbit(a) == math.Signbit(b)
	}
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case TypeUndefined, TypeNull, TypeHole:
		return true
	case TypeBoolean:
		return v.payload == other.payload
	case TypeString:
		return v.AsString() == other.AsString()
	default:
		return v.obj == other.obj
	}
}

// Inspect renders v for debugging output.
func (v Value) Inspect() string {
	switch v.typ {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeHole:
		return "<hole>"
	case TypeBoolean:
		return strconv.FormatBool(v.payload != 0)
	case TypeIntegerNumber:
		return strconv.FormatInt(int64(v.AsInteger()), 10)
	case TypeFloatNumber:
		f := v.AsFloat()
		if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e21 {
			return strconv.FormatFloat(f, 'f', 1, 64)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	case TypeString:
		return strconv.Quote(v.AsString())
	case TypeSymbol:
		return v.AsSymbol().String()
	case TypeObject:
		return fmt.Sprintf("[object #%d]", v.AsObject().id)
	default:
		return fmt.Sprintf("<unknown type: %d>", v.typ)
	}
}

func (v Value) String() string { return v.Inspect() }
