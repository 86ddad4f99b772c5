package config

import (
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/armadaproject/workqueue/internal/workqueue/element"
	"github.com/armadaproject/workqueue/internal/workqueue/spec"
)

var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		StatusHookFunc(),
		SliceTypeHookFunc(),
	)),
}

// StatusHookFunc decodes status names such as "Available" into element.Status.
func StatusHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(element.Available) {
			return data, nil
		}
		return element.ParseStatus(data.(string))
	}
}

// SliceTypeHookFunc decodes "files", "events" or "lumis" into spec.SliceType.
func SliceTypeHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(spec.SliceByFiles) {
			return data, nil
		}
		return spec.ParseSliceType(data.(string))
	}
}
