package config

import (
	"fmt"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nimburion/rpcserver/pkg/observability/sensitive"
)

// Map returns the configuration keyed by its mapstructure names. Fields tagged
// secret:"true" are passed through the redaction policy when non-empty.
func (c *Config) Map(policy sensitive.Policy) map[string]any {
	return structToMap(reflect.ValueOf(c).Elem(), policy)
}

// YAML renders Map as a YAML document.
func (c *Config) YAML(policy sensitive.Policy) ([]byte, error) {
	out, err := yaml.Marshal(c.Map(policy))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func structToMap(v reflect.Value, policy sensitive.Policy) map[string]any {
	out := make(map[string]any, v.NumField())
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if !value.CanInterface() {
			continue
		}

		name := field.Name
		if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
			name = tag
		}

		switch {
		case field.Tag.Get("secret") == "true":
			if value.IsZero() {
				out[name] = ""
			} else {
				out[name] = fmt.Sprint(policy.Value(value.Interface()))
			}
		case value.Type() == durationType:
			out[name] = time.Duration(value.Int()).String()
		case value.Kind() == reflect.Struct:
			out[name] = structToMap(value, policy)
		case value.Kind() == reflect.Slice && value.IsNil():
			out[name] = []any{}
		default:
			out[name] = value.Interface()
		}
	}

	return out
}
