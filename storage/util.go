// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package storage

// NextKey returns the successive key
func NextKey(key Key) Key {
	return append(CloneKey(key), 0)
}

// CloneKey creates a copy of key
func CloneKey(key Key) Key { return append(Key{}, key...) }

// CloneValue creates a copy of value
func CloneValue(value Value) Value {
	if value == nil {
		return nil
	}
	return append(Value{}, value...)
}

// CloneItem creates a deep copy of item
func CloneItem(item ListItem) ListItem {
	return ListItem{
		Key:   CloneKey(item.Key),
		Value: CloneValue(item.Value),
	}
}
