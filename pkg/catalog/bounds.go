// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"strconv"
	"strings"
)

// KeyType orders shard key values of different kinds.
type KeyType string

// Shard key value kinds in ascending order.
const (
	MinKeyType    KeyType = "min"
	NumberKeyType KeyType = "num"
	StringKeyType KeyType = "str"
	MaxKeyType    KeyType = "max"
)

func (t KeyType) rank() int {
	switch t {
	case MinKeyType:
		return 0
	case NumberKeyType:
		return 1
	case StringKeyType:
		return 2
	case MaxKeyType:
		return 3
	default:
		return -1
	}
}

// KeyValue is a single typed shard key value.
type KeyValue struct {
	Type KeyType `json:"t"`
	Num  float64 `json:"n,omitempty"`
	Str  string  `json:"s,omitempty"`
}

// MinKey sorts before every other value.
func MinKey() KeyValue { return KeyValue{Type: MinKeyType} }

// MaxKey sorts after every other value.
func MaxKey() KeyValue { return KeyValue{Type: MaxKeyType} }

// Num returns a numeric key value.
func Num(v float64) KeyValue { return KeyValue{Type: NumberKeyType, Num: v} }

// Str returns a string key value.
func Str(v string) KeyValue { return KeyValue{Type: StringKeyType, Str: v} }

// Compare returns -1, 0 or 1 when value sorts before, equal or after other.
func (value KeyValue) Compare(other KeyValue) int {
	a, b := value.Type.rank(), other.Type.rank()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}

	switch value.Type {
	case NumberKeyType:
		switch {
		case value.Num < other.Num:
			return -1
		case value.Num > other.Num:
			return 1
		}
	case StringKeyType:
		return strings.Compare(value.Str, other.Str)
	}
	return 0
}

// String implements fmt.Stringer.
func (value KeyValue) String() string {
	switch value.Type {
	case MinKeyType:
		return "MinKey"
	case MaxKeyType:
		return "MaxKey"
	case NumberKeyType:
		return strconv.FormatFloat(value.Num, 'g', -1, 64)
	case StringKeyType:
		return strconv.Quote(value.Str)
	default:
		return "?"
	}
}

// ParseKeyValue parses MinKey, MaxKey, a number, or a string which may be quoted.
func ParseKeyValue(s string) (KeyValue, error) {
	switch s {
	case "MinKey":
		return MinKey(), nil
	case "MaxKey":
		return MaxKey(), nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return Num(n), nil
	}
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return KeyValue{}, ErrFailedToParse.New("key value %s: %v", s, err)
		}
		return Str(unquoted), nil
	}
	return Str(s), nil
}

// Bound is a position in the shard key space with one value per key pattern field.
type Bound []KeyValue

// GlobalMin returns the lowest bound for a key pattern of n fields.
func GlobalMin(n int) Bound {
	bound := make(Bound, n)
	for i := range bound {
		bound[i] = MinKey()
	}
	return bound
}

// GlobalMax returns the highest bound for a key pattern of n fields.
func GlobalMax(n int) Bound {
	bound := make(Bound, n)
	for i := range bound {
		bound[i] = MaxKey()
	}
	return bound
}

// Compare compares bounds lexicographically.
func (bound Bound) Compare(other Bound) int {
	for i := 0; i < len(bound) && i < len(other); i++ {
		if cmp := bound[i].Compare(other[i]); cmp != 0 {
			return cmp
		}
	}
	switch {
	case len(bound) < len(other):
		return -1
	case len(bound) > len(other):
		return 1
	default:
		return 0
	}
}

// String implements fmt.Stringer.
func (bound Bound) String() string {
	parts := make([]string, len(bound))
	for i, value := range bound {
		parts[i] = value.String()
	}
	return strings.Join(parts, ",")
}

// ParseBound parses comma separated key values.
func ParseBound(s string) (Bound, error) {
	var bound Bound
	for _, part := range strings.Split(s, ",") {
		value, err := ParseKeyValue(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		bound = append(bound, value)
	}
	return bound, nil
}

// Range is a half open shard key range [Min, Max).
type Range struct {
	Min Bound
	Max Bound
}

// Contains returns whether other lies completely inside r.
func (r Range) Contains(other Range) bool {
	return r.Min.Compare(other.Min) <= 0 && other.Max.Compare(r.Max) <= 0
}

// Overlaps returns whether r and other share any key.
func (r Range) Overlaps(other Range) bool {
	return r.Min.Compare(other.Max) < 0 && other.Min.Compare(r.Max) < 0
}

// KeyField is a single field of a shard key pattern.
type KeyField struct {
	Field string `json:"field"`
	Order int    `json:"order"`
}

// KeyPattern is an ordered list of shard key fields.
type KeyPattern []KeyField

// ParseKeyPattern parses "field[:order],..." where order is 1 or -1.
func ParseKeyPattern(s string) (KeyPattern, error) {
	var pattern KeyPattern
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		field, order := part, 1
		if i := strings.LastIndexByte(part, ':'); i >= 0 {
			n, err := strconv.Atoi(part[i+1:])
			if err != nil {
				return nil, ErrFailedToParse.New("key pattern %q: %v", s, err)
			}
			field, order = part[:i], n
		}
		pattern = append(pattern, KeyField{Field: field, Order: order})
	}
	if err := pattern.Validate(); err != nil {
		return nil, err
	}
	return pattern, nil
}

// Validate checks that the pattern is usable as a shard key.
func (pattern KeyPattern) Validate() error {
	if len(pattern) == 0 {
		return ErrFailedToParse.New("empty shard key pattern")
	}
	seen := map[string]bool{}
	for _, field := range pattern {
		if field.Field == "" || strings.HasPrefix(field.Field, "$") {
			return ErrFailedToParse.New("invalid shard key field %q", field.Field)
		}
		if field.Order != 1 && field.Order != -1 {
			return ErrFailedToParse.New("shard key field %q has order %d", field.Field, field.Order)
		}
		if seen[field.Field] {
			return ErrFailedToParse.New("duplicate shard key field %q", field.Field)
		}
		seen[field.Field] = true
	}
	return nil
}

// String implements fmt.Stringer.
func (pattern KeyPattern) String() string {
	parts := make([]string, len(pattern))
	for i, field := range pattern {
		parts[i] = field.Field + ":" + strconv.Itoa(field.Order)
	}
	return strings.Join(parts, ",")
}
