// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package metadb

import (
	"encoding/json"
	"sort"
	"strings"
)

// Op is a comparison operator used by predicates.
type Op string

// Supported predicate operators.
const (
	OpEq  Op = "$eq"
	OpNe  Op = "$ne"
	OpLt  Op = "$lt"
	OpLte Op = "$lte"
	OpGt  Op = "$gt"
	OpGte Op = "$gte"
	OpIn  Op = "$in"
)

// Predicate constrains a single field of a document.
type Predicate struct {
	Field string
	Op    Op
	Value interface{}
}

// Filter is a conjunction of predicates. An empty filter matches every document.
type Filter []Predicate

// Eq matches documents whose field equals value. A nil value also matches a missing field.
func Eq(field string, value interface{}) Predicate { return Predicate{field, OpEq, value} }

// Ne matches documents whose field does not equal value.
func Ne(field string, value interface{}) Predicate { return Predicate{field, OpNe, value} }

// Lt matches documents whose field is less than value.
func Lt(field string, value interface{}) Predicate { return Predicate{field, OpLt, value} }

// Lte matches documents whose field is less than or equal to value.
func Lte(field string, value interface{}) Predicate { return Predicate{field, OpLte, value} }

// Gt matches documents whose field is greater than value.
func Gt(field string, value interface{}) Predicate { return Predicate{field, OpGt, value} }

// Gte matches documents whose field is greater than or equal to value.
func Gte(field string, value interface{}) Predicate { return Predicate{field, OpGte, value} }

// In matches documents whose field equals one of values.
func In(field string, values ...interface{}) Predicate { return Predicate{field, OpIn, values} }

// HasPrefix matches string fields starting with prefix, expressed as a range constraint.
func HasPrefix(field, prefix string) Filter {
	if prefix == "" {
		return Filter{Gte(field, "")}
	}
	upper := []byte(prefix)
	upper[len(upper)-1]++
	return Filter{Gte(field, prefix), Lt(field, string(upper))}
}

// And returns the conjunction of f and the given predicates.
func (f Filter) And(predicates ...Predicate) Filter {
	result := make(Filter, 0, len(f)+len(predicates))
	result = append(result, f...)
	return append(result, predicates...)
}

// idEquals returns the _id the filter pins to a single document, if any.
func (f Filter) idEquals() (string, bool) {
	for _, p := range f {
		if p.Field == IDField && p.Op == OpEq {
			id, ok := p.Value.(string)
			return id, ok
		}
	}
	return "", false
}

// compile normalizes the predicate values.
func (f Filter) compile() (Filter, error) {
	compiled := make(Filter, 0, len(f))
	for _, p := range f {
		switch p.Op {
		case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIn:
		default:
			return nil, Error.New("unknown operator %q on field %q", p.Op, p.Field)
		}
		value, err := normalize(p.Value)
		if err != nil {
			return nil, err
		}
		if p.Op == OpIn {
			if _, ok := value.([]interface{}); !ok {
				return nil, Error.New("operator %q on field %q requires a list", p.Op, p.Field)
			}
		}
		compiled = append(compiled, Predicate{Field: p.Field, Op: p.Op, Value: value})
	}
	return compiled, nil
}

// matches assumes a compiled filter.
func (f Filter) matches(doc Document) bool {
	for _, p := range f {
		if !p.matches(doc) {
			return false
		}
	}
	return true
}

func (p Predicate) matches(doc Document) bool {
	value, found := doc.Get(p.Field)
	switch p.Op {
	case OpEq:
		if !found {
			return p.Value == nil
		}
		return compareValues(value, p.Value) == 0
	case OpNe:
		if !found {
			return p.Value != nil
		}
		return compareValues(value, p.Value) != 0
	case OpIn:
		for _, candidate := range p.Value.([]interface{}) {
			if (!found && candidate == nil) || (found && compareValues(value, candidate) == 0) {
				return true
			}
		}
		return false
	}

	if !found || typeRank(value) != typeRank(p.Value) {
		return false
	}
	cmp := compareValues(value, p.Value)
	switch p.Op {
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	}
	return false
}

// SortField orders documents by a single field.
type SortField struct {
	Field      string
	Descending bool
}

// Sort is an ordered list of sort fields. Documents without a sort are returned in _id order.
type Sort []SortField

// Asc sorts by field in ascending order.
func Asc(field string) SortField { return SortField{Field: field} }

// Desc sorts by field in descending order.
func Desc(field string) SortField { return SortField{Field: field, Descending: true} }

func (s Sort) apply(docs []Document) {
	if len(s) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, k int) bool {
		for _, field := range s {
			a, _ := docs[i].Get(field.Field)
			b, _ := docs[k].Get(field.Field)
			cmp := compareValues(a, b)
			if cmp == 0 {
				continue
			}
			if field.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// typeRank orders values of different types: null, numbers, strings, objects, arrays, booleans.
func typeRank(value interface{}) int {
	switch value.(type) {
	case nil:
		return 0
	case json.Number:
		return 1
	case string:
		return 2
	case map[string]interface{}:
		return 3
	case []interface{}:
		return 4
	case bool:
		return 5
	default:
		return 6
	}
}

func compareValues(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return compareInts(int64(ra), int64(rb))
	}

	switch a := a.(type) {
	case nil:
		return 0
	case json.Number:
		return compareNumbers(a, b.(json.Number))
	case string:
		return strings.Compare(a, b.(string))
	case bool:
		bb := b.(bool)
		switch {
		case a == bb:
			return 0
		case !a:
			return -1
		default:
			return 1
		}
	case []interface{}:
		bb := b.([]interface{})
		for i := 0; i < len(a) && i < len(bb); i++ {
			if cmp := compareValues(a[i], bb[i]); cmp != 0 {
				return cmp
			}
		}
		return compareInts(int64(len(a)), int64(len(bb)))
	case map[string]interface{}:
		ea, _ := json.Marshal(a)
		eb, _ := json.Marshal(b)
		return strings.Compare(string(ea), string(eb))
	}
	return 0
}

func compareNumbers(a, b json.Number) int {
	ia, errA := a.Int64()
	ib, errB := b.Int64()
	if errA == nil && errB == nil {
		return compareInts(ia, ib)
	}

	fa, _ := a.Float64()
	fb, _ := b.Float64()
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	default:
		return 0
	}
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
