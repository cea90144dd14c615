package testutil

import (
	"fmt"
	"reflect"
)

func deepValueEqual(path string, v1, v2 reflect.Value) (bool, string) {
	if !v1.IsValid() || !v2.IsValid() {
		if v1.IsValid() != v2.IsValid() {
			return false, fmt.Sprintf("%s: only one value is valid", path)
		}
		return true, ""
	}
	if v1.Type() != v2.Type() {
		return false, fmt.Sprintf("%s: %s != %s", path, v1.Type(), v2.Type())
	}

	switch v1.Kind() {
	case reflect.Slice, reflect.Array:
		if v1.Kind() == reflect.Slice && v1.IsNil() != v2.IsNil() {
			return false, fmt.Sprintf("%s: %#v != %#v", path, v1, v2)
		}
		if v1.Len() != v2.Len() {
			return false, fmt.Sprintf("%s: len %d != %d", path, v1.Len(), v2.Len())
		}
		for i := 0; i < v1.Len(); i += 1 {
			ok, diff := deepValueEqual(fmt.Sprintf("%s[%d]", path, i), v1.Index(i),
				v2.Index(i))
			if !ok {
				return false, diff
			}
		}
		return true, ""
	case reflect.Interface:
		if v1.IsNil() || v2.IsNil() {
			if v1.IsNil() != v2.IsNil() {
				return false, fmt.Sprintf("%s: %#v != %#v", path, v1, v2)
			}
			return true, ""
		}
		return deepValueEqual(path, v1.Elem(), v2.Elem())
	case reflect.Ptr:
		if v1.Pointer() == v2.Pointer() {
			return true, ""
		}
		if v1.IsNil() || v2.IsNil() {
			return false, fmt.Sprintf("%s: %#v != %#v", path, v1, v2)
		}
		return deepValueEqual(path, v1.Elem(), v2.Elem())
	case reflect.Struct:
		for i, n := 0, v1.NumField(); i < n; i += 1 {
			ok, diff := deepValueEqual(path+"."+v1.Type().Field(i).Name, v1.Field(i),
				v2.Field(i))
			if !ok {
				return false, diff
			}
		}
		return true, ""
	case reflect.Map:
		if v1.IsNil() != v2.IsNil() || v1.Len() != v2.Len() {
			return false, fmt.Sprintf("%s: %#v != %#v", path, v1, v2)
		}
		for _, k := range v1.MapKeys() {
			mv2 := v2.MapIndex(k)
			if !mv2.IsValid() {
				return false, fmt.Sprintf("%s: missing key %v", path, k)
			}
			ok, diff := deepValueEqual(fmt.Sprintf("%s[%v]", path, k), v1.MapIndex(k),
				mv2)
			if !ok {
				return false, diff
			}
		}
		return true, ""
	default:
		if v1.Interface() != v2.Interface() {
			return false, fmt.Sprintf("%s: %#v != %#v", path, v1, v2)
		}
		return true, ""
	}
}

// DeepEqual is like reflect.DeepEqual, but a mismatch also describes the
// path to the first difference. Values must not be cyclic.
func DeepEqual(x, y interface{}) (bool, string) {
	if x == nil || y == nil {
		if x != y {
			return false, fmt.Sprintf("%#v != %#v", x, y)
		}
		return true, ""
	}

	v1 := reflect.ValueOf(x)
	v2 := reflect.ValueOf(y)
	if v1.Type() != v2.Type() {
		return false, fmt.Sprintf("%s != %s", v1.Type(), v2.Type())
	}
	return deepValueEqual("x", v1, v2)
}
