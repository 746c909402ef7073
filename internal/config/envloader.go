package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every `env` struct tag.
const EnvPrefix = "DEVRELAY_"

var durationType = reflect.TypeOf(time.Duration(0))

// LoadFromEnv overlays DEVRELAY_* environment variables onto cfg. Fields opt
// in with an `env` tag; nested structs are walked. Unset and empty variables
// leave the field alone. Every malformed variable is reported, not just the
// first.
func LoadFromEnv(cfg interface{}) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return nil
	}

	var errs []error
	walkEnvFields(v.Elem(), func(field reflect.Value, envVar string) {
		raw, ok := os.LookupEnv(envVar)
		if !ok || raw == "" {
			return
		}
		if err := parseInto(field, raw); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", envVar, raw, err))
		}
	})
	return errors.Join(errs...)
}

// EnvVars lists every environment variable LoadFromEnv consults for cfg.
func EnvVars(cfg interface{}) []string {
	v := reflect.ValueOf(cfg)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	var vars []string
	walkEnvFields(v, func(_ reflect.Value, envVar string) {
		vars = append(vars, envVar)
	})
	return vars
}

func walkEnvFields(v reflect.Value, visit func(field reflect.Value, envVar string)) {
	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			walkEnvFields(field, visit)
			continue
		}
		if tag := t.Field(i).Tag.Get("env"); tag != "" {
			visit(field, EnvPrefix+tag)
		}
	}
}

func parseInto(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(n)

	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		// Browser args are space separated, as typed on a command line.
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", field.Type().Elem().Kind())
		}
		field.Set(reflect.ValueOf(strings.Fields(raw)))

	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}
