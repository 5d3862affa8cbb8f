// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package metadb

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/shardcatalog/storage"
)

var (
	mon = monkit.Package()

	// Error is the default metadb errs class.
	Error = errs.Class("metadb error")
	// ErrNotFound is returned when no document matches.
	ErrNotFound = errs.Class("document not found")
	// ErrDuplicateKey is returned when inserting a document whose _id exists.
	ErrDuplicateKey = errs.Class("duplicate key")
	// ErrWriteConflict is returned when a document changed between read and write.
	ErrWriteConflict = errs.Class("write conflict")
	// ErrTimeout is returned when the operation deadline elapsed.
	ErrTimeout = errs.Class("metadata store timeout")
	// ErrUnavailable is returned when the underlying store failed.
	ErrUnavailable = errs.Class("metadata store unavailable")
)

// Query selects documents of a single kind.
type Query struct {
	Filter Filter
	Sort   Sort
	// Limit caps the number of returned documents, zero means no limit.
	Limit int
}

// Client reads and writes JSON documents in a storage.KeyValueStore.
//
// Every document lives under the key "<kind>/<_id>". Writes are
// compare-and-swap against the value that was read, so concurrent
// modification of the same document is detected as ErrWriteConflict.
type Client struct {
	store storage.KeyValueStore
}

// New returns a client backed by store.
func New(store storage.KeyValueStore) *Client {
	return &Client{store: store}
}

// Close closes the underlying store.
func (client *Client) Close() error {
	return ErrUnavailable.Wrap(client.store.Close())
}

type record struct {
	key storage.Key
	raw storage.Value
	doc Document
}

func kindPrefix(kind Kind) storage.Key {
	return storage.Key(string(kind) + string(storage.Delimiter))
}

func documentKey(kind Kind, id string) storage.Key {
	return storage.Key(string(kind) + string(storage.Delimiter) + id)
}

func validateID(id string) error {
	if id == "" {
		return Error.New("document requires a non-empty %s", IDField)
	}
	return nil
}

// wrapStoreErr classifies a failure of the underlying store. Cancellation is
// returned unclassified.
func wrapStoreErr(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() == context.Canceled:
		return ctx.Err()
	case ctx.Err() == context.DeadlineExceeded:
		return ErrTimeout.Wrap(err)
	case storage.ErrValueChanged.Has(err):
		return ErrWriteConflict.Wrap(err)
	default:
		return ErrUnavailable.Wrap(err)
	}
}

// scan returns the records of kind matching the compiled filter in _id order.
func (client *Client) scan(ctx context.Context, kind Kind, filter Filter) ([]record, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapStoreErr(ctx, err)
	}

	if id, ok := filter.idEquals(); ok {
		key := documentKey(kind, id)
		raw, err := client.store.Get(ctx, key)
		if storage.ErrKeyNotFound.Has(err) {
			return nil, nil
		}
		if err != nil {
			return nil, wrapStoreErr(ctx, err)
		}
		doc, err := unmarshalDocument(raw)
		if err != nil {
			return nil, err
		}
		if !filter.matches(doc) {
			return nil, nil
		}
		return []record{{key: key, raw: raw, doc: doc}}, nil
	}

	items, err := storage.ListAll(ctx, client.store, kindPrefix(kind))
	if err != nil {
		return nil, wrapStoreErr(ctx, err)
	}

	var records []record
	for _, item := range items {
		doc, err := unmarshalDocument(item.Value)
		if err != nil {
			return nil, Error.New("corrupt document %q: %v", item.Key, err)
		}
		if filter.matches(doc) {
			records = append(records, record{key: item.Key, raw: item.Value, doc: doc})
		}
	}
	return records, nil
}

// Find returns the documents of kind matching query.
func (client *Client) Find(ctx context.Context, kind Kind, query Query) (_ []Document, err error) {
	defer mon.Task()(&ctx)(&err)

	filter, err := query.Filter.compile()
	if err != nil {
		return nil, err
	}
	records, err := client.scan(ctx, kind, filter)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(records))
	for _, r := range records {
		docs = append(docs, r.doc)
	}
	query.Sort.apply(docs)
	if query.Limit > 0 && len(docs) > query.Limit {
		docs = docs[:query.Limit]
	}
	return docs, nil
}

// FindOne returns the first document of kind matching filter in the given sort order.
func (client *Client) FindOne(ctx context.Context, kind Kind, filter Filter, sort ...SortField) (_ Document, err error) {
	defer mon.Task()(&ctx)(&err)

	docs, err := client.Find(ctx, kind, Query{Filter: filter, Sort: sort, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound.New("%s matching %v", kind, filter)
	}
	return docs[0], nil
}

// Get returns the document of kind with the given _id.
func (client *Client) Get(ctx context.Context, kind Kind, id string) (_ Document, err error) {
	defer mon.Task()(&ctx)(&err)

	docs, err := client.Find(ctx, kind, Query{Filter: Filter{Eq(IDField, id)}})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound.New("%s %q", kind, id)
	}
	return docs[0], nil
}

// Count returns the number of documents of kind matching filter.
func (client *Client) Count(ctx context.Context, kind Kind, filter Filter) (_ int, err error) {
	defer mon.Task()(&ctx)(&err)

	compiled, err := filter.compile()
	if err != nil {
		return 0, err
	}
	records, err := client.scan(ctx, kind, compiled)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Distinct returns the sorted distinct values of field among documents matching filter.
func (client *Client) Distinct(ctx context.Context, kind Kind, field string, filter Filter) (_ []interface{}, err error) {
	defer mon.Task()(&ctx)(&err)

	docs, err := client.Find(ctx, kind, Query{Filter: filter, Sort: Sort{Asc(field)}})
	if err != nil {
		return nil, err
	}

	var values []interface{}
	for _, doc := range docs {
		value, ok := doc.Get(field)
		if !ok {
			continue
		}
		if len(values) > 0 && compareValues(values[len(values)-1], value) == 0 {
			continue
		}
		values = append(values, value)
	}
	return values, nil
}

// Insert adds documents of kind. It fails with ErrDuplicateKey when a document with the same _id exists.
// Documents are inserted in order and insertion stops at the first failure.
func (client *Client) Insert(ctx context.Context, kind Kind, docs ...Document) (err error) {
	defer mon.Task()(&ctx)(&err)

	for _, doc := range docs {
		if err := validateID(doc.ID()); err != nil {
			return err
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return Error.Wrap(err)
		}

		err = client.store.CompareAndSwap(ctx, documentKey(kind, doc.ID()), nil, raw)
		if storage.ErrValueChanged.Has(err) {
			return ErrDuplicateKey.New("%s %q", kind, doc.ID())
		}
		if err != nil {
			return wrapStoreErr(ctx, err)
		}
	}
	return nil
}

// Update changes the documents of kind matching filter.
func (client *Client) Update(ctx context.Context, kind Kind, filter Filter, mutation Mutation, opts UpdateOptions) (result UpdateResult, err error) {
	defer mon.Task()(&ctx)(&err)

	compiled, err := filter.compile()
	if err != nil {
		return result, err
	}
	records, err := client.scan(ctx, kind, compiled)
	if err != nil {
		return result, err
	}

	if len(records) == 0 {
		if !opts.Upsert {
			return result, nil
		}
		return client.upsert(ctx, kind, compiled, mutation)
	}

	if !opts.Multi {
		records = records[:1]
	}

	for _, r := range records {
		result.Matched++

		updated, err := mutation.apply(r.doc)
		if err != nil {
			return result, err
		}
		raw, err := json.Marshal(updated)
		if err != nil {
			return result, Error.Wrap(err)
		}
		if bytes.Equal(raw, r.raw) {
			continue
		}

		if err := client.store.CompareAndSwap(ctx, r.key, r.raw, raw); err != nil {
			return result, wrapStoreErr(ctx, err)
		}
		result.Modified++
	}
	return result, nil
}

func (client *Client) upsert(ctx context.Context, kind Kind, filter Filter, mutation Mutation) (result UpdateResult, err error) {
	doc, err := mutation.apply(filter.seed())
	if err != nil {
		return result, err
	}
	if id, ok := filter.idEquals(); ok {
		doc[IDField] = id
	}
	if _, ok := doc[IDField].(string); !ok {
		return result, Error.New("upsert into %s requires a string %s", kind, IDField)
	}
	if err := validateID(doc.ID()); err != nil {
		return result, err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return result, Error.Wrap(err)
	}
	if err := client.store.CompareAndSwap(ctx, documentKey(kind, doc.ID()), nil, raw); err != nil {
		return result, wrapStoreErr(ctx, err)
	}

	result.UpsertedID = doc.ID()
	return result, nil
}

// Remove deletes up to limit documents of kind matching filter, zero limit removes all of them.
func (client *Client) Remove(ctx context.Context, kind Kind, filter Filter, limit int) (removed int, err error) {
	defer mon.Task()(&ctx)(&err)

	compiled, err := filter.compile()
	if err != nil {
		return 0, err
	}
	records, err := client.scan(ctx, kind, compiled)
	if err != nil {
		return 0, err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	for _, r := range records {
		if err := client.store.CompareAndSwap(ctx, r.key, r.raw, nil); err != nil {
			return removed, wrapStoreErr(ctx, err)
		}
		removed++
	}
	return removed, nil
}

// Kinds returns the document kinds present in the store.
func (client *Client) Kinds(ctx context.Context) (_ []Kind, err error) {
	defer mon.Task()(&ctx)(&err)

	items, err := storage.ListAll(ctx, client.store, nil)
	if err != nil {
		return nil, wrapStoreErr(ctx, err)
	}

	var kinds []Kind
	for _, item := range items {
		i := strings.IndexByte(string(item.Key), storage.Delimiter)
		if i < 0 {
			continue
		}
		kind := Kind(item.Key[:i])
		if len(kinds) == 0 || kinds[len(kinds)-1] != kind {
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}
