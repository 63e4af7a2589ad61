package features

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Kind discriminates the three shapes a feature value can take.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindText
)

// Value is a single feature cell: a number, a string or null.
type Value struct {
	kind Kind
	num  float64
	text string
}

// Null returns the missing-value sentinel.
func Null() Value { return Value{} }

// Number wraps f.  NaN is stored as null.
func Number(f float64) Value {
	if math.IsNaN(f) {
		return Value{}
	}
	return Value{kind: KindNumber, num: f}
}

// Text wraps s verbatim.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Coerce turns a raw CSV cell into a Value: empty and NA-like cells become
// null, parseable numbers become numbers, everything else stays text.
func Coerce(raw string) Value {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "na", "nan", "null", "none":
		return Null()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) {
		return Number(f)
	}
	return Text(raw)
}

// Of converts a decoded JSON value (or any Go scalar) into a Value.
func Of(x interface{}) Value {
	switch v := x.(type) {
	case nil:
		return Null()
	case Value:
		return v
	case float64:
		return Number(v)
	case float32:
		return Number(float64(v))
	case int:
		return Number(float64(v))
	case int64:
		return Number(float64(v))
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return Number(f)
		}
		return Text(v.String())
	case bool:
		if v {
			return Number(1)
		}
		return Number(0)
	case string:
		return Text(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Null()
		}
		return Text(string(b))
	}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) IsNumber() bool { return v.kind == KindNumber }

// Float returns the numeric reading of v.  Text that parses as a finite number
// counts as numeric; null and non-numeric text do not.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.text), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// String renders v for display and for comparison of identifiers.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindText:
		return v.text
	default:
		return ""
	}
}

// Interface returns v as nil, float64 or string.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindText:
		return v.text
	default:
		return nil
	}
}

// Equal reports whether a and b hold the same kind and payload.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.num == o.num && v.text == o.text
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return []byte(strconv.FormatFloat(v.num, 'g', -1, 64)), nil
	case KindText:
		return json.Marshal(v.text)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var x interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&x); err != nil {
		return err
	}
	*v = Of(x)
	return nil
}
