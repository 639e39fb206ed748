package failure

import (
	"fmt"
	"reflect"
	"sort"
)

// maxSanitizeDepth bounds recursion into nested containers.
const maxSanitizeDepth = 8

// Sanitize reduces v to a value that can safely cross a process
// boundary. Booleans, strings and numbers are kept (numbers widened to
// int64, uint64 or float64), slices, arrays and string-keyed maps are
// rebuilt recursively, and everything else is replaced with a
// "#<type>" placeholder so handles and other process-local state never
// leak into a descriptor.
func Sanitize(v any) any {
	return sanitize(v, 0)
}

func sanitize(v any, depth int) any {
	if v == nil {
		return nil
	}
	if depth >= maxSanitizeDepth {
		return placeholder(v)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = sanitize(rv.Index(i).Interface(), depth+1)
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return placeholder(v)
		}
		if rv.IsNil() {
			return nil
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			out[k] = sanitize(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface(), depth+1)
		}
		return out
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return sanitize(rv.Elem().Interface(), depth+1)
	default:
		return placeholder(v)
	}
}

func placeholder(v any) string {
	return fmt.Sprintf("#<%T>", v)
}

func sanitizeAttrs(attrs []Attr) []Attr {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]Attr, len(attrs))
	for i, a := range attrs {
		out[i] = Attr{Key: a.Key, Value: sanitize(a.Value, 0)}
	}
	return out
}
