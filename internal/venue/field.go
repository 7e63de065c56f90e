package venue

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/shopspring/decimal"
)

// Field returns the first present, non-empty value among names, or def.
// obj may be a decoded JSON mapping or a struct; a dotted name descends into nested values.
func Field(obj any, def any, names ...string) any {
	for _, n := range names {
		if v, ok := lookup(obj, n); ok && !isEmpty(v) {
			return v
		}
	}
	return def
}

// String is Field rendered as a string.
func String(obj any, def string, names ...string) string {
	v := Field(obj, nil, names...)
	switch s := v.(type) {
	case nil:
		return def
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}

// List returns the slice found under the first matching name, or nil.
func List(obj any, names ...string) []any {
	v := Field(obj, nil, names...)
	if v == nil {
		return nil
	}
	if l, ok := v.([]any); ok {
		return l
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// Amount normalises any numeric-looking value into a decimal. Anything unparsable is zero.
func Amount(v any) decimal.Decimal {
	switch a := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return a
	case *decimal.Decimal:
		if a == nil {
			return decimal.Zero
		}
		return *a
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(a))
		if err != nil {
			return decimal.Zero
		}
		return d
	case json.Number:
		return Amount(string(a))
	case float64:
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(a)
	case float32:
		return Amount(float64(a))
	case int:
		return decimal.NewFromInt(int64(a))
	case int32:
		return decimal.NewFromInt(int64(a))
	case int64:
		return decimal.NewFromInt(a)
	case uint32:
		return decimal.NewFromInt(int64(a))
	case uint64:
		if a > math.MaxInt64 {
			return decimal.Zero
		}
		return decimal.NewFromInt(int64(a))
	case bool:
		return decimal.Zero
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Struct, reflect.Pointer:
		// {"value": "12.3", "currency": "USD"}
		inner := Field(v, nil, "value", "amount")
		if inner == nil {
			return decimal.Zero
		}
		return Amount(inner)
	}
	return decimal.Zero
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

func lookup(obj any, name string) (any, bool) {
	cur := obj
	for _, part := range strings.Split(name, ".") {
		v, ok := lookupOne(cur, part)
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func lookupOne(obj any, name string) (any, bool) {
	switch o := obj.(type) {
	case nil:
		return nil, false
	case map[string]any:
		v, ok := o[name]
		return v, ok
	case map[string]string:
		v, ok := o[name]
		return v, ok
	}

	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		mv := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !mv.IsValid() {
			return nil, false
		}
		return mv.Interface(), true
	case reflect.Struct:
		return structField(rv, name)
	}
	return nil, false
}

func structField(rv reflect.Value, name string) (any, bool) {
	t := rv.Type()
	want := normaliseName(name)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == name || normaliseName(f.Name) == want {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}

// order_id, orderId and OrderID all normalise to "orderid".
func normaliseName(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}
