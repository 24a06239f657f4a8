// Package value implements the typed dynamic scalar used throughout the
// tuner: parameter domains, expression evaluation, and configuration
// bindings all pass values around as value.Value rather than interface{}.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/notargets/kerneltune/errs"
)

// Kind is the runtime tag of a Value.
type Kind int

const (
	Empty Kind = iota
	Int
	Double
	Bool
	String
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Int:
		return "int"
	case Double:
		return "double"
	case Bool:
		return "bool"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// Type is the declared type carried by parameters and expressions. It is
// richer than Kind because expressions cast to specific integer widths
// even though a Value's runtime payload is always a 64-bit integer.
type Type int

const (
	TypeInt8 Type = iota
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeDouble
	TypeBool
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeUint64:
		return "uint64"
	case TypeDouble:
		return "double"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// Kind returns the runtime Kind that values of this Type carry.
func (t Type) Kind() Kind {
	switch t {
	case TypeDouble:
		return Double
	case TypeBool:
		return Bool
	case TypeString:
		return String
	default:
		return Int
	}
}

func (t Type) intRange() (min, max int64, ok bool) {
	switch t {
	case TypeInt8:
		return math.MinInt8, math.MaxInt8, true
	case TypeInt16:
		return math.MinInt16, math.MaxInt16, true
	case TypeInt32:
		return math.MinInt32, math.MaxInt32, true
	case TypeInt64:
		return math.MinInt64, math.MaxInt64, true
	case TypeUint8:
		return 0, math.MaxUint8, true
	case TypeUint16:
		return 0, math.MaxUint16, true
	case TypeUint32:
		return 0, math.MaxUint32, true
	case TypeUint64:
		return 0, math.MaxInt64, true // representable in our int64 payload
	default:
		return 0, 0, false
	}
}

// Value is a tagged union over empty, a 64-bit signed integer, a double,
// a bool, and an interned string. The zero Value is Empty.
type Value struct {
	kind Kind
	i    int64
	d    float64
	s    *string
}

// NewEmpty returns the empty value.
func NewEmpty() Value { return Value{kind: Empty} }

// NewInt wraps a signed 64-bit integer.
func NewInt(v int64) Value { return Value{kind: Int, i: v} }

// NewDouble wraps a double.
func NewDouble(v float64) Value { return Value{kind: Double, d: v} }

// NewBool wraps a bool.
func NewBool(v bool) Value {
	var i int64
	if v {
		i = 1
	}
	return Value{kind: Bool, i: i}
}

// NewString interns s in the process-wide pool and wraps the stable
// reference. Two Values built from equal strings compare equal because
// they share the same interned pointer.
func NewString(s string) Value { return Value{kind: String, s: intern(s)} }

// Kind reports the runtime tag.
func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether v carries no payload.
func (v Value) IsEmpty() bool { return v.kind == Empty }

// AsInt returns the raw integer payload and whether v is an Int or Bool.
func (v Value) AsInt() (int64, bool) {
	if v.kind == Int || v.kind == Bool {
		return v.i, true
	}
	return 0, false
}

// AsDouble returns the raw double payload and whether v is a Double.
func (v Value) AsDouble() (float64, bool) {
	if v.kind != Double {
		return 0, false
	}
	return v.d, true
}

// AsBool returns the raw bool payload and whether v is a Bool.
func (v Value) AsBool() (bool, bool) {
	if v.kind != Bool {
		return false, false
	}
	return v.i != 0, true
}

// AsString returns the raw string payload and whether v is a String.
func (v Value) AsString() (string, bool) {
	if v.kind != String {
		return "", false
	}
	return *v.s, true
}

// Equal compares tag then payload, with strings compared by interned
// identity. true and 1 never compare equal because their Kinds differ.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case Empty:
		return true
	case Int, Bool:
		return v.i == o.i
	case Double:
		return v.d == o.d
	case String:
		return v.s == o.s
	default:
		return false
	}
}

// Compare defines a total order over values, lexicographic on (kind,
// payload), so cache keys and canonical serialization are deterministic.
func (v Value) Compare(o Value) int {
	if v.kind != o.kind {
		if v.kind < o.kind {
			return -1
		}
		return 1
	}
	switch v.kind {
	case Empty:
		return 0
	case Int, Bool:
		switch {
		case v.i < o.i:
			return -1
		case v.i > o.i:
			return 1
		default:
			return 0
		}
	case Double:
		switch {
		case v.d < o.d:
			return -1
		case v.d > o.d:
			return 1
		default:
			return 0
		}
	case String:
		a, b := *v.s, *o.s
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

// Hash returns a hash insensitive to how the value was constructed:
// equal values (per Equal) always hash equal.
func (v Value) Hash() uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	mix := func(b byte) {
		h ^= uint64(b)
		h *= prime64
	}
	mix(byte(v.kind))
	switch v.kind {
	case Int, Bool:
		u := uint64(v.i)
		for i := 0; i < 8; i++ {
			mix(byte(u))
			u >>= 8
		}
	case Double:
		u := math.Float64bits(v.d)
		for i := 0; i < 8; i++ {
			mix(byte(u))
			u >>= 8
		}
	case String:
		for i := 0; i < len(*v.s); i++ {
			mix((*v.s)[i])
		}
	}
	return h
}

// CanonicalString renders v the way the tuning cache's pipe-joined key
// and the human-readable header/log lines want it.
func (v Value) CanonicalString() string {
	switch v.kind {
	case Empty:
		return ""
	case Int:
		return fmt.Sprintf("%d", v.i)
	case Bool:
		return fmt.Sprintf("%t", v.i != 0)
	case Double:
		return fmt.Sprintf("%g", v.d)
	case String:
		return *v.s
	default:
		return ""
	}
}

// Cast narrows or converts v to the declared Type t. Casts to Bool
// always succeed (any nonzero numeric or non-empty string narrows to
// true). Casts between integer widths fail with *errs.InvalidCastError
// when v is out of the target's representable range. A Double source
// never silently casts to an integer type; it fails.
func (v Value) Cast(t Type) (Value, error) {
	switch t {
	case TypeBool:
		switch v.kind {
		case Bool:
			return v, nil
		case Int:
			return NewBool(v.i != 0), nil
		case Double:
			return NewBool(v.d != 0), nil
		case String:
			return NewBool(*v.s != ""), nil
		default:
			return NewBool(false), nil
		}
	case TypeDouble:
		switch v.kind {
		case Double:
			return v, nil
		case Int, Bool:
			return NewDouble(float64(v.i)), nil
		default:
			return Value{}, &errs.InvalidCastError{From: v.kind.String(), To: t.String()}
		}
	case TypeString:
		if v.kind == String {
			return v, nil
		}
		return NewString(v.CanonicalString()), nil
	default:
		min, max, ok := t.intRange()
		if !ok {
			return Value{}, &errs.InvalidCastError{From: v.kind.String(), To: t.String()}
		}
		var src int64
		switch v.kind {
		case Int, Bool:
			src = v.i
		default:
			return Value{}, &errs.InvalidCastError{From: v.kind.String(), To: t.String()}
		}
		if src < min || src > max {
			return Value{}, &errs.InvalidCastError{From: v.kind.String(), To: t.String()}
		}
		return NewInt(src), nil
	}
}

// MarshalJSON emits the literal form: numbers and bools as their native
// JSON literal (a double always carries a fraction or exponent, so it
// decodes back as a double), strings as a JSON string, and Empty as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case Empty:
		return []byte("null"), nil
	case Int:
		return []byte(fmt.Sprintf("%d", v.i)), nil
	case Bool:
		return []byte(fmt.Sprintf("%t", v.i != 0)), nil
	case Double:
		b, err := json.Marshal(v.d)
		if err != nil {
			return nil, err
		}
		if !bytes.ContainsAny(b, ".eE") {
			b = append(b, '.', '0')
		}
		return b, nil
	case String:
		return json.Marshal(*v.s)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a literal, preferring an integer Kind for
// integral JSON numbers so double never silently round-trips to int (a
// JSON number with a fraction or exponent decodes as Double).
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*v = NewEmpty()
		return nil
	}
	if string(data) == "true" {
		*v = NewBool(true)
		return nil
	}
	if string(data) == "false" {
		*v = NewBool(false)
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = NewString(s)
		return nil
	}
	num := json.Number(data)
	if i, err := num.Int64(); err == nil {
		*v = NewInt(i)
		return nil
	}
	f, err := num.Float64()
	if err != nil {
		return &errs.EvalError{Detail: "cannot decode value literal: " + string(data)}
	}
	*v = NewDouble(f)
	return nil
}
