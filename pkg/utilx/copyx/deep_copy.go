// Package copyx provides functionality to perform deep copies of complex data structures.
package copyx

import (
	"reflect"
)

// DeepCopy performs a deep copy from the source (src) to the destination (dst).
// It uses reflection to recursively copy all exported fields of the source object,
// ensuring that nested pointers, slices and maps are duplicated rather than simply referenced.
// Unexported fields are copied by value (shallow), so types such as time.Time keep working.
// dst and src must be pointers to the same type.
func DeepCopy(dst, src interface{}) {
	dstValue := reflect.ValueOf(dst).Elem()
	srcValue := reflect.ValueOf(src).Elem()

	dstValue.Set(srcValue)
	deepCopyValue(dstValue, srcValue)
}

// Clone returns a deep copy of the value src points to, as a new pointer of the same type.
// A nil or non-pointer src is returned unchanged.
func Clone(src any) any {
	v := reflect.ValueOf(src)
	if !v.IsValid() || v.Kind() != reflect.Ptr || v.IsNil() {
		return src
	}

	dst := reflect.New(v.Elem().Type())
	DeepCopy(dst.Interface(), src)

	return dst.Interface()
}

// deepCopyValue replaces the references held by dst, which already holds a shallow copy of src,
// with fresh copies.
func deepCopyValue(dst, src reflect.Value) {
	switch src.Kind() {
	case reflect.Ptr:
		if !src.IsNil() {
			dst.Set(reflect.New(src.Elem().Type()))
			dst.Elem().Set(src.Elem())
			deepCopyValue(dst.Elem(), src.Elem())
		}
	case reflect.Interface:
		if !src.IsNil() {
			elem := src.Elem()
			copied := reflect.New(elem.Type()).Elem()
			copied.Set(elem)
			deepCopyValue(copied, elem)
			dst.Set(copied)
		}
	case reflect.Struct:
		for i := 0; i < src.NumField(); i++ {
			if !dst.Field(i).CanSet() {
				continue
			}

			deepCopyValue(dst.Field(i), src.Field(i))
		}
	case reflect.Slice:
		if !src.IsNil() {
			dst.Set(reflect.MakeSlice(src.Type(), src.Len(), src.Cap()))
			reflect.Copy(dst, src)

			for i := 0; i < src.Len(); i++ {
				deepCopyValue(dst.Index(i), src.Index(i))
			}
		}
	case reflect.Array:
		for i := 0; i < src.Len(); i++ {
			deepCopyValue(dst.Index(i), src.Index(i))
		}
	case reflect.Map:
		if !src.IsNil() {
			dst.Set(reflect.MakeMapWithSize(src.Type(), src.Len()))

			for _, key := range src.MapKeys() {
				value := src.MapIndex(key)
				copied := reflect.New(value.Type()).Elem()
				copied.Set(value)
				deepCopyValue(copied, value)
				dst.SetMapIndex(key, copied)
			}
		}
	default:
	}
}
