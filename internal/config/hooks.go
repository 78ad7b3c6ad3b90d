package config

import (
	"reflect"
)

// crateSpecHook lets dependencies be written as bare crate names:
//
//	dependencies = ["core", { name = "alloc", features = ["compiler-builtins-mem"] }]
func crateSpecHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(CrateSpec{}) || from.Kind() != reflect.String {
		return data, nil
	}

	return CrateSpec{Name: data.(string)}, nil
}
