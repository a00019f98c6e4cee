package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "null"
	}
}

// Value is a property value. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	m    Properties
}

func Null() Value                { return Value{} }
func Bool(v bool) Value          { return Value{kind: KindBool, b: v} }
func Int(v int64) Value          { return Value{kind: KindInt, i: v} }
func Float(v float64) Value      { return Value{kind: KindFloat, f: v} }
func String(v string) Value      { return Value{kind: KindString, s: v} }
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }
func Map(props Properties) Value { return Value{kind: KindMap, m: props} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

func (v Value) AsMap() (Properties, bool) { return v.m, v.kind == KindMap }

// FromAny converts dynamic Go values. Unsupported types are stringified.
func FromAny(raw any) Value {
	switch typed := raw.(type) {
	case nil:
		return Null()
	case Value:
		return typed
	case Properties:
		return Map(typed)
	case *Properties:
		if typed == nil {
			return Null()
		}
		return Map(*typed)
	case bool:
		return Bool(typed)
	case int:
		return Int(int64(typed))
	case int8:
		return Int(int64(typed))
	case int16:
		return Int(int64(typed))
	case int32:
		return Int(int64(typed))
	case int64:
		return Int(typed)
	case uint:
		return fromUint(uint64(typed))
	case uint8:
		return Int(int64(typed))
	case uint16:
		return Int(int64(typed))
	case uint32:
		return Int(int64(typed))
	case uint64:
		return fromUint(typed)
	case float32:
		return Float(float64(typed))
	case float64:
		return Float(typed)
	case json.Number:
		return numberValue(typed)
	case string:
		return String(typed)
	case time.Time:
		return Int(typed.UnixMilli())
	case []Value:
		return Array(typed...)
	case []string:
		items := make([]Value, 0, len(typed))
		for _, item := range typed {
			items = append(items, String(item))
		}
		return Array(items...)
	case []any:
		items := make([]Value, 0, len(typed))
		for _, item := range typed {
			items = append(items, FromAny(item))
		}
		return Array(items...)
	case map[string]any:
		return Map(PropertiesOf(typed))
	default:
		return String(fmt.Sprint(raw))
	}
}

func fromUint(v uint64) Value {
	if v > math.MaxInt64 {
		return Float(float64(v))
	}
	return Int(int64(v))
}

func numberValue(n json.Number) Value {
	text := n.String()
	if !strings.ContainsAny(text, ".eE") {
		if parsed, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Int(parsed)
		}
	}
	parsed, err := n.Float64()
	if err != nil {
		return String(text)
	}
	return Float(parsed)
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		// JSON has no NaN or Inf; they persist as null.
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for index, item := range v.arr {
			if index > 0 {
				buf.WriteByte(',')
			}
			encoded, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(encoded)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindMap:
		return v.m.MarshalJSON()
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	decoded, err := decodeValue(decoder)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// Properties is a string-keyed mapping that remembers insertion order.
// The zero value is empty and ready to use.
type Properties struct {
	keys   []string
	values map[string]Value
}

func PropertiesOf(raw map[string]any) Properties {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var props Properties
	for _, key := range keys {
		props.Set(key, FromAny(raw[key]))
	}
	return props
}

func (p *Properties) Set(key string, value Value) {
	if p.values == nil {
		p.values = make(map[string]Value)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

func (p Properties) Get(key string) (Value, bool) {
	value, ok := p.values[key]
	return value, ok
}

func (p Properties) Len() int { return len(p.keys) }

func (p Properties) Keys() []string {
	return append([]string(nil), p.keys...)
}

// Range calls fn in insertion order until it returns false.
func (p Properties) Range(fn func(key string, value Value) bool) {
	for _, key := range p.keys {
		if !fn(key, p.values[key]) {
			return
		}
	}
}

func (p Properties) Clone() Properties {
	var clone Properties
	p.Range(func(key string, value Value) bool {
		clone.Set(key, value)
		return true
	})
	return clone
}

func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for index, key := range p.keys {
		if index > 0 {
			buf.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(encodedKey)
		buf.WriteByte(':')
		encodedValue, err := p.values[key].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", key, err)
		}
		buf.Write(encodedValue)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Properties) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	token, err := decoder.Token()
	if err != nil {
		return err
	}
	if token == nil {
		*p = Properties{}
		return nil
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("properties: expected object, got %v", token)
	}

	decoded, err := decodeObjectBody(decoder)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

func decodeValue(decoder *json.Decoder) (Value, error) {
	token, err := decoder.Token()
	if err != nil {
		return Value{}, err
	}

	switch typed := token.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(typed), nil
	case json.Number:
		return numberValue(typed), nil
	case string:
		return String(typed), nil
	case json.Delim:
		switch typed {
		case '[':
			var items []Value
			for decoder.More() {
				item, err := decodeValue(decoder)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := decoder.Token(); err != nil {
				return Value{}, err
			}
			return Array(items...), nil
		case '{':
			props, err := decodeObjectBody(decoder)
			if err != nil {
				return Value{}, err
			}
			return Map(props), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected json token %v", token)
}

func decodeObjectBody(decoder *json.Decoder) (Properties, error) {
	var props Properties
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return Properties{}, err
		}
		key, ok := token.(string)
		if !ok {
			return Properties{}, fmt.Errorf("unexpected object key %v", token)
		}
		value, err := decodeValue(decoder)
		if err != nil {
			return Properties{}, err
		}
		props.Set(key, value)
	}
	if _, err := decoder.Token(); err != nil {
		return Properties{}, err
	}
	return props, nil
}
