package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Kind is the closed set of property value kinds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindRaw // nested object or array, passed through untouched
)

// Value is a single feature property.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	raw  json.RawMessage
}

func StringValue(s string) Value  { return Value{kind: KindString, str: s} }
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }
func BoolValue(b bool) Value      { return Value{kind: KindBool, b: b} }
func NullValue() Value            { return Value{} }

// RawValue wraps nested JSON that has no scalar meaning.
func RawValue(raw json.RawMessage) Value {
	return Value{kind: KindRaw, raw: append(json.RawMessage(nil), raw...)}
}

func (v Value) Kind() Kind { return v.kind }

// Truthy follows JavaScript truthiness: "", 0, NaN, false and null are falsy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindString:
		return v.str != ""
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case KindBool:
		return v.b
	case KindRaw:
		return true
	}
	return false
}

// Text renders the value the way a string field stores it.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		switch {
		case math.IsInf(v.num, 1):
			return "Infinity"
		case math.IsInf(v.num, -1):
			return "-Infinity"
		}
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindRaw:
		return string(v.raw)
	}
	return ""
}

// Float parses the value with parseFloat prefix semantics.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, !math.IsNaN(v.num)
	case KindString:
		return ParseFloatPrefix(v.str)
	}
	return math.NaN(), false
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if len(v.raw) > 0 {
			return v.raw, nil
		}
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindRaw:
		return v.raw, nil
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := parseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func parseValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Value{}, fmt.Errorf("empty property value")
	}
	switch data[0] {
	case 'n':
		return NullValue(), nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return Value{}, err
		}
		return StringValue(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case '{', '[':
		return RawValue(data), nil
	}
	// Out-of-range literals saturate to ±Inf or 0 like JSON.parse.
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return Value{}, fmt.Errorf("invalid number %q: %w", data, err)
	}
	return Value{kind: KindNumber, num: n, raw: append(json.RawMessage(nil), data...)}, nil
}

// ParseFloatPrefix parses the longest leading decimal literal of s, skipping
// leading white space. "12,5 mq" yields 12, "abc" yields NaN and false.
func ParseFloatPrefix(s string) (float64, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	if strings.HasPrefix(s[end:], "Infinity") {
		if s[0] == '-' {
			return math.Inf(-1), false
		}
		return math.Inf(1), false
	}
	digits := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
		digits++
	}
	if end < len(s) && s[end] == '.' {
		end++
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
			digits++
		}
	}
	if digits == 0 {
		return math.NaN(), false
	}
	if end < len(s) && (s[end] == 'e' || s[end] == 'E') {
		exp := end + 1
		if exp < len(s) && (s[exp] == '+' || s[exp] == '-') {
			exp++
		}
		expDigits := exp
		for expDigits < len(s) && s[expDigits] >= '0' && s[expDigits] <= '9' {
			expDigits++
		}
		if expDigits > exp {
			end = expDigits
		}
	}
	n, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		// out of range literals saturate like JavaScript
		return n, false
	}
	return n, true
}

// PropertyBag is an ordered map of feature properties. Keys keep the order
// of the source document; a repeated key keeps its first position and takes
// the last value.
type PropertyBag struct {
	keys   []string
	values map[string]Value
}

// NewPropertyBag builds a bag from alternating key/value pairs.
func NewPropertyBag(pairs ...any) PropertyBag {
	var b PropertyBag
	for i := 0; i+1 < len(pairs); i += 2 {
		key, _ := pairs[i].(string)
		b.Set(key, toValue(pairs[i+1]))
	}
	return b
}

func toValue(x any) Value {
	switch t := x.(type) {
	case Value:
		return t
	case string:
		return StringValue(t)
	case float64:
		return NumberValue(t)
	case int:
		return NumberValue(float64(t))
	case bool:
		return BoolValue(t)
	case json.RawMessage:
		return RawValue(t)
	}
	return NullValue()
}

func (b *PropertyBag) Set(key string, v Value) {
	if b.values == nil {
		b.values = make(map[string]Value)
	}
	if _, ok := b.values[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.values[key] = v
}

func (b PropertyBag) Get(key string) (Value, bool) {
	v, ok := b.values[key]
	return v, ok
}

func (b PropertyBag) Keys() []string {
	return append([]string(nil), b.keys...)
}

func (b PropertyBag) Len() int { return len(b.keys) }

// Each visits the properties in order.
func (b PropertyBag) Each(fn func(key string, v Value)) {
	for _, k := range b.keys {
		fn(k, b.values[k])
	}
}

func (b PropertyBag) Clone() PropertyBag {
	var c PropertyBag
	b.Each(c.Set)
	return c
}

func (b PropertyBag) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range b.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := b.values[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (b *PropertyBag) UnmarshalJSON(data []byte) error {
	*b = PropertyBag{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("properties must be an object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected property key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("property %q: %w", key, err)
		}
		v, err := parseValue(raw)
		if err != nil {
			return fmt.Errorf("property %q: %w", key, err)
		}
		b.Set(key, v)
	}
	_, err = dec.Token()
	return err
}
