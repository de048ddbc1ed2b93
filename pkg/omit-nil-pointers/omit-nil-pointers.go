package omitnilpointers

import (
	"reflect"
)

func OmitNilPointers(fields map[string]any) map[string]any {
	omitted := make(map[string]any)
	for key, value := range fields {
		if value == nil {
			continue
		}

		v := reflect.ValueOf(value)
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				continue
			}
			omitted[key] = v.Elem().Interface()
		} else {
			omitted[key] = value
		}
	}

	return omitted
}

// StructFields maps the `redis`-tagged fields of a struct to their values,
// skipping nil pointers so that only the fields a caller set are written.
// Untagged fields and fields tagged "-" are ignored.
func StructFields(value any) map[string]any {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return map[string]any{}
		}
		v = v.Elem()
	}

	fields := make(map[string]any, v.NumField())
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		tag := t.Field(i).Tag.Get("redis")
		if tag == "" || tag == "-" {
			continue
		}

		fields[tag] = v.Field(i).Interface()
	}

	return OmitNilPointers(fields)
}
