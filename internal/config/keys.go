package config

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// field is one settable config key, addressed by its dot-separated json path.
type field struct {
	index  []int
	kind   reflect.Kind
	secret bool
}

// schema maps every leaf key of Config, e.g. "api.base_url", to its field.
var schema = describe(reflect.TypeOf(Config{}), "", nil)

func describe(t reflect.Type, prefix string, index []int) map[string]field {
	out := make(map[string]field)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		idx := append(append([]int(nil), index...), i)
		if f.Type.Kind() == reflect.Struct {
			for k, v := range describe(f.Type, name, idx) {
				out[k] = v
			}
			continue
		}
		out[name] = field{index: idx, kind: f.Type.Kind(), secret: f.Tag.Get("secret") == "true"}
	}
	return out
}

func lookup(key string) (field, error) {
	f, ok := schema[key]
	if !ok {
		return field{}, fmt.Errorf("unknown config key: %s", key)
	}
	return f, nil
}

// Keys returns every config key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(schema))
	for k := range schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return schema[key].secret
}

// Mask hides all but the last four characters of a secret value. Other keys
// and empty values are returned unchanged.
func Mask(key string, v any) any {
	s, ok := v.(string)
	if !IsSecretKey(key) || !ok || s == "" {
		return v
	}
	if len(s) <= 4 {
		return "***" + s
	}
	return "***" + s[len(s)-4:]
}

// Values returns cfg as a flat map keyed like Keys.
func Values(cfg *Config) map[string]any {
	v := reflect.ValueOf(cfg).Elem()
	out := make(map[string]any, len(schema))
	for k, f := range schema {
		out[k] = v.FieldByIndex(f.index).Interface()
	}
	return out
}

// assign parses value as the type of key's field and stores it in cfg.
func assign(cfg *Config, key, value string) error {
	f, err := lookup(key)
	if err != nil {
		return err
	}
	dst := reflect.ValueOf(cfg).Elem().FieldByIndex(f.index)
	switch f.kind {
	case reflect.String:
		dst.SetString(value)
	case reflect.Int:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s expects an integer, got %q", key, value)
		}
		dst.SetInt(int64(n))
	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s expects true or false, got %q", key, value)
		}
		dst.SetBool(b)
	default:
		return fmt.Errorf("%s cannot be set from the command line", key)
	}
	return nil
}
