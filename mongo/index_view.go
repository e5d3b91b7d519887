// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/operation"
	"github.com/ikmak/mongocore/mongo/options"
)

// ErrInvalidIndexValue is returned if an index is created with a key value
// that is not a number or string.
var ErrInvalidIndexValue = errors.New("invalid index value")

// ErrNonStringIndexName is returned if an index is created with a name that
// is not a string.
var ErrNonStringIndexName = errors.New("index name must be a string")

// IndexView is a handle for the indexes of a collection. It is safe for
// concurrent use.
type IndexView struct {
	coll *Collection
}

// IndexModel describes an index to be created: its key document plus
// per-index options.
type IndexModel struct {
	// Keys is a document describing which keys should be part of the index.
	// Values must be numbers (1/-1 for direction) or strings (special index
	// types).
	Keys interface{}

	// Options holds the per-index server options.
	Options *options.IndexOptions
}

// List returns a cursor over the index specification documents of the
// collection.
func (iv IndexView) List(ctx context.Context, opts ...*options.ListIndexesOptions) (*Cursor, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	sess, cleanup, err := iv.coll.startSession(ctx)
	if err != nil {
		return nil, err
	}
	ownsSession := sess != nil && sess.IsImplicit

	lio := options.MergeListIndexesOptions(opts...)

	op := operation.ListIndexes{
		BatchSize:  lio.BatchSize,
		Collection: iv.coll.name,
		Database:   iv.coll.db.name,
		Deployment: iv.coll.client.deployment,
		Selector:   iv.coll.readSelector,
		Session:    sess,
		Clock:      iv.coll.client.clock,
		Retry:      iv.coll.readRetry(),
	}

	cursorOpts := driver.CursorOptions{}
	if lio.BatchSize != nil {
		cursorOpts.BatchSize = *lio.BatchSize
	}
	if lio.MaxTime != nil {
		maxTimeMS := lio.MaxTime.Milliseconds()
		op.MaxTimeMS = &maxTimeMS
	}

	if err := op.Execute(ctx); err != nil {
		cleanup()
		// ListIndexes on a nonexistent collection is an empty listing, not an
		// error.
		if de, ok := err.(driver.Error); ok && de.NamespaceNotFound() {
			return newEmptyCursor(), nil
		}
		return nil, replaceErrors(err)
	}

	bc, err := op.Result(cursorOpts)
	if err != nil {
		cleanup()
		return nil, replaceErrors(err)
	}
	if ownsSession {
		return newCursor(bc, sess), nil
	}
	return newCursor(bc, nil), nil
}

// CreateOne creates a single index in the collection and returns the name of
// the created index.
func (iv IndexView) CreateOne(ctx context.Context, model IndexModel, opts ...*options.CreateIndexesOptions) (string, error) {
	names, err := iv.CreateMany(ctx, []IndexModel{model}, opts...)
	if err != nil {
		return "", err
	}
	return names[0], nil
}

// CreateMany creates multiple indexes in the collection with one command and
// returns the names of the created indexes.
func (iv IndexView) CreateMany(ctx context.Context, models []IndexModel, opts ...*options.CreateIndexesOptions) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(models) == 0 {
		return nil, ErrEmptySlice
	}

	names := make([]string, 0, len(models))
	aidx, arr := bsoncore.AppendArrayStart(nil)
	for i, model := range models {
		if model.Keys == nil {
			return nil, fmt.Errorf("index model keys cannot be nil")
		}

		keys, err := marshal(model.Keys)
		if err != nil {
			return nil, err
		}

		name, err := getOrGenerateIndexName(keys, model)
		if err != nil {
			return nil, err
		}
		names = append(names, name)

		didx, doc := bsoncore.AppendDocumentStart(nil)
		doc = bsoncore.AppendDocumentElement(doc, "key", keys)
		doc = bsoncore.AppendStringElement(doc, "name", name)
		if model.Options != nil {
			if model.Options.Unique != nil {
				doc = bsoncore.AppendBooleanElement(doc, "unique", *model.Options.Unique)
			}
			if model.Options.Sparse != nil {
				doc = bsoncore.AppendBooleanElement(doc, "sparse", *model.Options.Sparse)
			}
			if model.Options.ExpireAfterSeconds != nil {
				doc = bsoncore.AppendInt32Element(doc, "expireAfterSeconds", *model.Options.ExpireAfterSeconds)
			}
		}
		doc, _ = bsoncore.AppendDocumentEnd(doc, didx)
		arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), doc)
	}
	arr, _ = bsoncore.AppendArrayEnd(arr, aidx)

	sess, wc, cleanup, err := iv.coll.writeContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	cio := options.MergeCreateIndexesOptions(opts...)

	op := operation.CreateIndexes{
		Indexes:      arr,
		Collection:   iv.coll.name,
		Database:     iv.coll.db.name,
		Deployment:   iv.coll.client.deployment,
		Selector:     iv.coll.writeSelector,
		WriteConcern: wc,
		Session:      sess,
		Clock:        iv.coll.client.clock,
	}
	if cio.MaxTime != nil {
		maxTimeMS := cio.MaxTime.Milliseconds()
		op.MaxTimeMS = &maxTimeMS
	}

	if err := op.Execute(ctx); err != nil {
		return nil, replaceErrors(err)
	}
	return names, nil
}

// DropOne drops the index with the given name from the collection.
func (iv IndexView) DropOne(ctx context.Context, name string, opts ...*options.DropIndexesOptions) error {
	if name == "*" {
		return errors.New("cannot drop multiple indexes with DropOne; use DropAll instead")
	}
	return iv.drop(ctx, name, opts...)
}

// DropAll drops all indexes of the collection except the index on _id.
func (iv IndexView) DropAll(ctx context.Context, opts ...*options.DropIndexesOptions) error {
	return iv.drop(ctx, "*", opts...)
}

func (iv IndexView) drop(ctx context.Context, name string, opts ...*options.DropIndexesOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	sess, wc, cleanup, err := iv.coll.writeContext(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	dio := options.MergeDropIndexesOptions(opts...)

	op := operation.DropIndexes{
		Index:        &name,
		Collection:   iv.coll.name,
		Database:     iv.coll.db.name,
		Deployment:   iv.coll.client.deployment,
		Selector:     iv.coll.writeSelector,
		WriteConcern: wc,
		Session:      sess,
		Clock:        iv.coll.client.clock,
	}
	if dio.MaxTime != nil {
		maxTimeMS := dio.MaxTime.Milliseconds()
		op.MaxTimeMS = &maxTimeMS
	}

	err = op.Execute(ctx)
	// Dropping indexes of an absent collection is defined as success.
	if de, ok := err.(driver.Error); ok && de.NamespaceNotFound() {
		return nil
	}
	return replaceErrors(err)
}

// getOrGenerateIndexName returns the name of the index from its options, or
// generates one from the keys document in the form "key1_value_key2_value".
func getOrGenerateIndexName(keys bsoncore.Document, model IndexModel) (string, error) {
	if model.Options != nil && model.Options.Name != nil {
		return *model.Options.Name, nil
	}

	elems, err := keys.Elements()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i, elem := range elems {
		if i > 0 {
			sb.WriteRune('_')
		}
		sb.WriteString(elem.Key())
		sb.WriteRune('_')

		switch elem.Value().Type {
		case bsontype.Int32:
			sb.WriteString(strconv.Itoa(int(elem.Value().Int32())))
		case bsontype.Int64:
			sb.WriteString(strconv.FormatInt(elem.Value().Int64(), 10))
		case bsontype.Double:
			sb.WriteString(strconv.FormatInt(int64(elem.Value().Double()), 10))
		case bsontype.String:
			sb.WriteString(elem.Value().StringValue())
		default:
			return "", ErrInvalidIndexValue
		}
	}
	return sb.String(), nil
}
