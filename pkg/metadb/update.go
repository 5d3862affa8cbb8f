// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package metadb

import (
	"encoding/json"
	"strconv"
)

// Mutation describes how an update changes a document.
// Replace, when set, substitutes the whole document except for _id and is
// applied before Set, Unset and Inc.
type Mutation struct {
	Replace Document
	Set     map[string]interface{}
	Unset   []string
	Inc     map[string]int64
}

// IsZero returns true when the mutation does not change anything.
func (m Mutation) IsZero() bool {
	return m.Replace == nil && len(m.Set) == 0 && len(m.Unset) == 0 && len(m.Inc) == 0
}

// UpdateOptions controls how Update treats the matching documents.
type UpdateOptions struct {
	// Upsert inserts a document built from the filter equalities when nothing matches.
	Upsert bool
	// Multi updates every matching document instead of the first one.
	Multi bool
}

// UpdateResult reports the outcome of an Update.
type UpdateResult struct {
	Matched    int
	Modified   int
	UpsertedID string
}

// apply returns a mutated copy of doc.
func (m Mutation) apply(doc Document) (Document, error) {
	id, hasID := doc[IDField]

	var result Document
	if m.Replace != nil {
		replacement, err := normalize(map[string]interface{}(m.Replace))
		if err != nil {
			return nil, err
		}
		result = Document(replacement.(map[string]interface{}))
		if hasID {
			result[IDField] = id
		}
	} else {
		result = doc.Clone()
	}

	for field, value := range m.Set {
		if field == IDField && hasID {
			return nil, Error.New("cannot modify %s", IDField)
		}
		normalized, err := normalize(value)
		if err != nil {
			return nil, err
		}
		result.Set(field, normalized)
	}

	for _, field := range m.Unset {
		if field == IDField {
			return nil, Error.New("cannot unset %s", IDField)
		}
		result.Unset(field)
	}

	for field, delta := range m.Inc {
		current := int64(0)
		if value, ok := result.Get(field); ok {
			number, ok := value.(json.Number)
			if !ok {
				return nil, Error.New("cannot increment non-numeric field %q", field)
			}
			n, err := number.Int64()
			if err != nil {
				return nil, Error.New("cannot increment field %q: %v", field, err)
			}
			current = n
		}
		result.Set(field, json.Number(strconv.FormatInt(current+delta, 10)))
	}

	return result, nil
}

// seed builds the initial document for an upsert from the filter equalities.
func (f Filter) seed() Document {
	doc := Document{}
	for _, p := range f {
		if p.Op == OpEq && p.Value != nil {
			doc.Set(p.Field, p.Value)
		}
	}
	return doc
}
