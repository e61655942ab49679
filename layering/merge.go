// Package layering merges step payloads so persisted values override
// caller-supplied defaults field by field, and deep-copies payloads before they
// cross a store boundary.
package layering

import "reflect"

// Clone returns a deep copy of value. Maps, slices and pointers are detached
// from value so callers can mutate the result freely.
func Clone[T any](value T) T {
	return assign[T](deepCopy(reflect.ValueOf(value)))
}

// MergeMaps layers strong over weak. Keys present in strong win; nested maps are
// merged recursively and keys only present in weak are kept. Nil inputs are
// treated as empty maps and the result is never nil.
func MergeMaps(strong, weak map[string]any) map[string]any {
	if merged := MergeLayers(strong, weak); merged != nil {
		return merged
	}
	return map[string]any{}
}

// MergeLayers folds layers ordered from strongest to weakest. A stronger
// layer only yields to a weaker one where it holds a nil pointer, map, slice
// or interface.
func MergeLayers[T any](layers ...T) T {
	if len(layers) == 0 {
		var zero T
		return zero
	}
	acc := deepCopy(reflect.ValueOf(layers[len(layers)-1]))
	for i := len(layers) - 2; i >= 0; i-- {
		acc = overlay(reflect.ValueOf(layers[i]), acc)
	}
	return assign[T](acc)
}

func assign[T any](v reflect.Value) T {
	var out T
	if !v.IsValid() {
		return out
	}
	target := reflect.ValueOf(&out).Elem()
	switch {
	case v.Type().AssignableTo(target.Type()):
		target.Set(v)
	case v.CanConvert(target.Type()):
		target.Set(v.Convert(target.Type()))
	}
	return out
}

func overlay(strong, weak reflect.Value) reflect.Value {
	if !strong.IsValid() {
		return deepCopy(weak)
	}
	if weak.IsValid() && weak.Type() != strong.Type() {
		weak = reflect.Value{}
	}
	if !weak.IsValid() || isNil(weak) {
		return deepCopy(strong)
	}
	if isNil(strong) {
		return deepCopy(weak)
	}

	switch strong.Kind() {
	case reflect.Pointer:
		out := reflect.New(strong.Type().Elem())
		out.Elem().Set(overlay(strong.Elem(), weak.Elem()))
		return out
	case reflect.Interface:
		return overlay(strong.Elem(), weak.Elem()).Convert(strong.Type())
	case reflect.Struct:
		out := reflect.New(strong.Type()).Elem()
		out.Set(strong)
		for i := range strong.NumField() {
			if out.Field(i).CanSet() {
				out.Field(i).Set(overlay(strong.Field(i), weak.Field(i)))
			}
		}
		return out
	case reflect.Map:
		out := deepCopy(weak)
		keys := strong.MapRange()
		for keys.Next() {
			out.SetMapIndex(keys.Key(), overlay(keys.Value(), out.MapIndex(keys.Key())))
		}
		return out
	case reflect.Array:
		out := reflect.New(strong.Type()).Elem()
		for i := range strong.Len() {
			out.Index(i).Set(overlay(strong.Index(i), weak.Index(i)))
		}
		return out
	}
	// scalars and slices replace wholesale
	return deepCopy(strong)
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}

func deepCopy(v reflect.Value) reflect.Value {
	if !v.IsValid() || isNil(v) {
		if v.IsValid() {
			return reflect.Zero(v.Type())
		}
		return v
	}

	switch v.Kind() {
	case reflect.Pointer:
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(deepCopy(v.Elem()))
		return out
	case reflect.Interface:
		return deepCopy(v.Elem()).Convert(v.Type())
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		// unexported fields (time.Time and friends) keep a shallow copy
		out.Set(v)
		for i := range v.NumField() {
			if out.Field(i).CanSet() {
				out.Field(i).Set(deepCopy(v.Field(i)))
			}
		}
		return out
	case reflect.Map:
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		entries := v.MapRange()
		for entries.Next() {
			out.SetMapIndex(entries.Key(), deepCopy(entries.Value()))
		}
		return out
	case reflect.Slice:
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := range v.Len() {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := range v.Len() {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	}
	return v
}
