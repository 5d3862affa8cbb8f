// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package metadb

import (
	"bytes"
	"encoding/json"
	"strings"
)

// IDField is the field holding the natural key of every document.
const IDField = "_id"

// Kind names a collection of documents of the same entity type.
type Kind string

// Document is a decoded JSON object. Numbers are kept as json.Number so
// that large integers survive a round trip.
type Document map[string]interface{}

// ID returns the natural key of the document.
func (doc Document) ID() string {
	id, _ := doc[IDField].(string)
	return id
}

// Get returns the value at the dotted field path.
func (doc Document) Get(path string) (interface{}, bool) {
	var current interface{} = map[string]interface{}(doc)
	for _, part := range strings.Split(path, ".") {
		object, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = object[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set assigns value at the dotted field path, creating intermediate objects.
func (doc Document) Set(path string, value interface{}) {
	parts := strings.Split(path, ".")
	object := map[string]interface{}(doc)
	for _, part := range parts[:len(parts)-1] {
		next, ok := object[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			object[part] = next
		}
		object = next
	}
	object[parts[len(parts)-1]] = value
}

// Unset removes the value at the dotted field path.
func (doc Document) Unset(path string) {
	parts := strings.Split(path, ".")
	object := map[string]interface{}(doc)
	for _, part := range parts[:len(parts)-1] {
		next, ok := object[part].(map[string]interface{})
		if !ok {
			return
		}
		object = next
	}
	delete(object, parts[len(parts)-1])
}

// Clone returns a deep copy of the document.
func (doc Document) Clone() Document {
	clone, _ := cloneValue(map[string]interface{}(doc)).(map[string]interface{})
	return Document(clone)
}

func cloneValue(value interface{}) interface{} {
	switch value := value.(type) {
	case map[string]interface{}:
		clone := make(map[string]interface{}, len(value))
		for k, v := range value {
			clone[k] = cloneValue(v)
		}
		return clone
	case Document:
		return cloneValue(map[string]interface{}(value))
	case []interface{}:
		clone := make([]interface{}, len(value))
		for i, v := range value {
			clone[i] = cloneValue(v)
		}
		return clone
	default:
		return value
	}
}

// Encode converts v into a Document using its JSON representation.
func Encode(v interface{}) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return unmarshalDocument(data)
}

// Decode fills v from the document using its JSON representation.
func Decode(doc Document, v interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(json.Unmarshal(data, v))
}

func unmarshalDocument(data []byte) (Document, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var doc Document
	if err := decoder.Decode(&doc); err != nil {
		return nil, Error.Wrap(err)
	}
	if doc == nil {
		return nil, Error.New("document is not an object")
	}
	return doc, nil
}

// normalize converts value into the representation used by decoded documents.
func normalize(value interface{}) (interface{}, error) {
	switch value.(type) {
	case nil, string, bool, json.Number:
		return value, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var normalized interface{}
	if err := decoder.Decode(&normalized); err != nil {
		return nil, Error.Wrap(err)
	}
	return normalized, nil
}
