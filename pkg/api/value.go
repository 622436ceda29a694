package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

type (
	// Value is a JSON value: null, bool, int, float, string, list or map.
	// The zero Value is null
	Value struct {
		list []Value
		dict map[string]Value
		str  string
		f    float64
		i    int64
		b    bool
		kind Kind
	}

	// Kind tags the variant held by a Value
	Kind uint8
)

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

var (
	ErrInvalidJSON      = errors.New("invalid JSON value")
	ErrUnsupportedValue = errors.New("unsupported value type")
	ErrNonFiniteFloat   = errors.New("float value is not finite")
)

var kindNames = map[Kind]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
	KindList:   "list",
	KindMap:    "map",
}

// Null returns the null Value
func Null() Value {
	return Value{}
}

// Bool wraps a boolean
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// Int wraps an integer
func Int(i int64) Value {
	return Value{kind: KindInt, i: i}
}

// Float wraps a floating point number
func Float(f float64) Value {
	return Value{kind: KindFloat, f: f}
}

// String wraps a string
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// List wraps a sequence of Values
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// Map wraps a string-keyed mapping of Values
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, dict: m}
}

// ValueOf converts a native Go value into a Value. Supported inputs are nil,
// booleans, integers, floats, strings, slices and string-keyed maps of the
// same, and Values themselves
func ValueOf(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case []Value:
		return List(t...), nil
	case map[string]Value:
		return Map(t), nil
	case Args:
		return t.Value(), nil
	}
	return reflectValueOf(reflect.ValueOf(v))
}

func reflectValueOf(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		res := make([]Value, rv.Len())
		for i := range res {
			item, err := ValueOf(rv.Index(i).Interface())
			if err != nil {
				return Value{}, err
			}
			res[i] = item
		}
		return List(res...), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		res := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			item, err := ValueOf(iter.Value().Interface())
			if err != nil {
				return Value{}, err
			}
			res[iter.Key().String()] = item
		}
		return Map(res), nil
	case reflect.Pointer:
		if rv.IsNil() {
			return Null(), nil
		}
		return ValueOf(rv.Elem().Interface())
	}
	return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedValue, rv.Type())
}

// Kind returns the variant held by v
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull reports whether v is null
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInt
}

func (v Value) AsFloat() (float64, bool) {
	return v.f, v.kind == KindFloat
}

func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) AsList() ([]Value, bool) {
	return v.list, v.kind == KindList
}

func (v Value) AsMap() (map[string]Value, bool) {
	return v.dict, v.kind == KindMap
}

// Any converts v back into plain Go values: nil, bool, int64, float64,
// string, []any and map[string]any
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.str
	case KindList:
		res := make([]any, len(v.list))
		for i, item := range v.list {
			res[i] = item.Any()
		}
		return res
	case KindMap:
		res := make(map[string]any, len(v.dict))
		for k, item := range v.dict {
			res[k] = item.Any()
		}
		return res
	default:
		return nil
	}
}

// Equal performs a deep comparison. Ints and floats are never equal to each
// other, even when numerically identical
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindString:
		return v.str == other.str
	case KindList:
		return slices.EqualFunc(v.list, other.list, Value.Equal)
	case KindMap:
		return maps.EqualFunc(v.dict, other.dict, Value.Equal)
	}
	return false
}

// String renders v as JSON
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s>", err)
	}
	return string(data)
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (v Value) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	if err := v.writeJSON(&sb); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	res, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = res
	return nil
}

// ParseValue decodes JSON text into a Value. Numbers written with a fraction
// or exponent decode as floats, all others as ints
func ParseValue(data []byte) (Value, error) {
	if !gjson.ValidBytes(data) {
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidJSON, data)
	}
	return fromResult(gjson.ParseBytes(data)), nil
}

func fromResult(res gjson.Result) Value {
	switch res.Type {
	case gjson.False:
		return Bool(false)
	case gjson.True:
		return Bool(true)
	case gjson.Number:
		return numberFromRaw(res)
	case gjson.String:
		return String(res.Str)
	case gjson.JSON:
		if res.IsArray() {
			items := []Value{}
			res.ForEach(func(_, item gjson.Result) bool {
				items = append(items, fromResult(item))
				return true
			})
			return List(items...)
		}
		dict := map[string]Value{}
		res.ForEach(func(key, item gjson.Result) bool {
			dict[key.Str] = fromResult(item)
			return true
		})
		return Map(dict)
	default:
		return Null()
	}
}

func numberFromRaw(res gjson.Result) Value {
	raw := strings.TrimSpace(res.Raw)
	if strings.ContainsAny(raw, ".eE") {
		return Float(res.Float())
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return Int(i)
	}
	return Float(res.Float())
}

func (v Value) writeJSON(sb *strings.Builder) error {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		return writeFloat(sb, v.f)
	case KindString:
		writeString(sb, v.str)
	case KindList:
		sb.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := item.writeJSON(sb); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case KindMap:
		sb.WriteByte('{')
		for i, k := range slices.Sorted(maps.Keys(v.dict)) {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeString(sb, k)
			sb.WriteByte(':')
			if err := v.dict[k].writeJSON(sb); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	}
	return nil
}

func writeFloat(sb *strings.Builder, f float64) error {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return fmt.Errorf("%w: %v", ErrNonFiniteFloat, f)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	sb.WriteString(s)
	return nil
}

func writeString(sb *strings.Builder, s string) {
	data, _ := json.Marshal(s)
	sb.Write(data)
}
