// internal/types/value.go
package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

/*
 * Value: the closed set of runtime values of the rule language.
 *
 * A Value is exactly one of null, bool, number, string or list. Numbers are
 * float64; integer-valued numbers render without a fractional part so that
 * "5" and 5 print identically. Lists hold Values and may nest.
 *
 * Values are immutable once constructed. List() copies its input; Items()
 * returns the backing slice and callers must not modify it.
 *
 * JSON form is the natural one (null, true, 1.5, "s", [...]) and is used for
 * variable dumps in the match log.
 */

// Kind discriminates the Value union.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the language's runtime types.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	l    []Value
}

// Null is the null value. The zero Value is also null.
var Null = Value{}

// True and False are the boolean values.
var (
	True  = Value{kind: KindBool, b: true}
	False = Value{kind: KindBool}
)

// Bool returns a boolean value.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Number returns a numeric value.
func Number(n float64) Value {
	return Value{kind: KindNumber, n: n}
}

// Int returns a numeric value from an integer.
func Int(n int64) Value {
	return Value{kind: KindNumber, n: float64(n)}
}

// String returns a string value.
func String(s string) Value {
	return Value{kind: KindString, s: s}
}

// List returns a list value holding a copy of items.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, l: cp}
}

// Strings returns a list of string values.
func Strings(items []string) Value {
	l := make([]Value, len(items))
	for i, s := range items {
		l[i] = String(s)
	}
	return Value{kind: KindList, l: l}
}

// Kind reports the value's kind.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload; false for other kinds.
func (v Value) AsBool() bool { return v.b }

// AsNumber returns the numeric payload; 0 for other kinds.
func (v Value) AsNumber() float64 { return v.n }

// AsString returns the string payload; "" for other kinds.
func (v Value) AsString() string { return v.s }

// Items returns the list payload; nil for other kinds.
func (v Value) Items() []Value { return v.l }

// Len returns the number of list items, or 0.
func (v Value) Len() int { return len(v.l) }

// String renders v for diagnostics; strings are quoted.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return FormatNumber(v.n)
	case KindString:
		return strconv.Quote(v.s)
	case KindList:
		parts := make([]string, len(v.l))
		for i, item := range v.l {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "?"
	}
}

// FormatNumber renders a number the way the language prints it: integral
// values without a fractional part, others in shortest form.
func FormatNumber(n float64) string {
	if math.IsInf(n, 1) {
		return "INF"
	}
	if math.IsInf(n, -1) {
		return "-INF"
	}
	if math.IsNaN(n) {
		return "NAN"
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// Equal reports strict structural equality: same kind and same payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.l) != len(o.l) {
			return false
		}
		for i := range v.l {
			if !v.l[i].Equal(o.l[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		if math.IsInf(v.n, 0) || math.IsNaN(v.n) {
			return json.Marshal(FormatNumber(v.n))
		}
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		if v.l == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.l)
	}
	return nil, fmt.Errorf("marshal value: unknown kind %d", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	conv, err := FromNative(raw)
	if err != nil {
		return err
	}
	*v = conv
	return nil
}

// FromNative converts Go values (as produced by encoding/json, YAML decoders or
// structpb) to a Value. Maps are rejected; the language has no dictionaries.
func FromNative(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null, nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint32:
		return Int(int64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null, err
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case []string:
		return Strings(t), nil
	case []Value:
		return List(t...), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, e := range t {
			ev, err := FromNative(e)
			if err != nil {
				return Null, err
			}
			items = append(items, ev)
		}
		return Value{kind: KindList, l: items}, nil
	default:
		return Null, fmt.Errorf("unsupported value type %T", x)
	}
}

// Native converts v to plain Go values: nil, bool, float64, string, []any.
func (v Value) Native() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.l))
		for i, item := range v.l {
			out[i] = item.Native()
		}
		return out
	default:
		return nil
	}
}
