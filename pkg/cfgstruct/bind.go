// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package cfgstruct binds configuration structs to command line flags.
package cfgstruct

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/pflag"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Bind sets flags on a FlagSet that match the configuration struct
// 'config'. Every exported field becomes a flag named after the field, nested
// structs add a dotted prefix. The 'help' and 'default' struct tags provide
// the usage and the default value.
func Bind(flags *pflag.FlagSet, config interface{}) {
	BindPrefix(flags, "", config)
}

// BindPrefix is like Bind but prefixes every flag name with prefix and a dot.
func BindPrefix(flags *pflag.FlagSet, prefix string, config interface{}) {
	ptr := reflect.ValueOf(config)
	if ptr.Kind() != reflect.Ptr || ptr.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("invalid config type: %#v. Expecting pointer to struct.", config))
	}
	if prefix != "" {
		prefix += "."
	}
	bindConfig(flags, prefix, ptr.Elem())
}

func bindConfig(flags *pflag.FlagSet, prefix string, val reflect.Value) {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.PkgPath != "" {
			continue
		}
		fieldval := val.Field(i)
		name := prefix + hyphenate(snakeCase(field.Name))

		if field.Type.Kind() == reflect.Struct {
			if field.Anonymous {
				bindConfig(flags, prefix, fieldval)
			} else {
				bindConfig(flags, name+".", fieldval)
			}
			continue
		}

		help := field.Tag.Get("help")
		def := field.Tag.Get("default")

		switch field.Type {
		case durationType:
			flags.DurationVar(fieldval.Addr().Interface().(*time.Duration), name, mustParseDuration(name, def), help)
			continue
		}

		switch field.Type.Kind() {
		case reflect.String:
			flags.StringVar(fieldval.Addr().Interface().(*string), name, def, help)
		case reflect.Bool:
			flags.BoolVar(fieldval.Addr().Interface().(*bool), name, def == "true", help)
		case reflect.Int:
			flags.IntVar(fieldval.Addr().Interface().(*int), name, int(mustParseInt(name, def)), help)
		case reflect.Int64:
			flags.Int64Var(fieldval.Addr().Interface().(*int64), name, mustParseInt(name, def), help)
		case reflect.Float64:
			flags.Float64Var(fieldval.Addr().Interface().(*float64), name, mustParseFloat(name, def), help)
		default:
			panic(fmt.Sprintf("invalid field type for %q: %s", name, field.Type))
		}
	}
}

func mustParseDuration(name, value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("invalid default for %q: %v", name, err))
	}
	return d
}

func mustParseInt(name, value string) int64 {
	if value == "" {
		return 0
	}
	n, err := strconv.ParseInt(value, 0, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid default for %q: %v", name, err))
	}
	return n
}

func mustParseFloat(name, value string) float64 {
	if value == "" {
		return 0
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid default for %q: %v", name, err))
	}
	return f
}

// snakeCase converts "PollInterval" to "poll_interval" and "TTL" to "ttl".
func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (nextLower && unicode.IsUpper(runes[i-1])) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

func hyphenate(name string) string {
	return strings.Replace(name, "_", "-", -1)
}
