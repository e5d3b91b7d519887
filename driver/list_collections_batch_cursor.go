// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// ListCollectionsBatchCursor is a special batch cursor returned from
// ListCollections. In name-only mode it reduces every document to its "name"
// element, stripping any database prefix a server may have included, so
// consumers see a uniform shape.
type ListCollectionsBatchCursor struct {
	nameOnly     bool
	bc           *BatchCursor
	currentBatch *bsoncore.DocumentSequence
	err          error
}

// NewListCollectionsBatchCursor creates a new ListCollectionsBatchCursor.
func NewListCollectionsBatchCursor(bc *BatchCursor, nameOnly bool) (*ListCollectionsBatchCursor, error) {
	if bc == nil {
		return nil, errors.New("batch cursor must not be nil")
	}
	return &ListCollectionsBatchCursor{
		nameOnly:     nameOnly,
		bc:           bc,
		currentBatch: new(bsoncore.DocumentSequence),
	}, nil
}

// ID returns the cursor ID for this batch cursor.
func (lcbc *ListCollectionsBatchCursor) ID() int64 {
	return lcbc.bc.ID()
}

// Next indicates if there is another batch available. Returning false does
// not necessarily indicate that the cursor is closed. This method will return
// false when an empty batch is returned.
func (lcbc *ListCollectionsBatchCursor) Next(ctx context.Context) bool {
	if !lcbc.bc.Next(ctx) {
		return false
	}

	if !lcbc.nameOnly {
		lcbc.currentBatch = lcbc.bc.Batch()
		return true
	}

	batch := lcbc.bc.Batch().Data
	lcbc.currentBatch.Style = bsoncore.SequenceStyle
	lcbc.currentBatch.Data = lcbc.currentBatch.Data[:0]
	lcbc.currentBatch.ResetIterator()

	var doc bsoncore.Document
	var ok bool
	if lcbc.bc.Batch().Style == bsoncore.ArrayStyle {
		batch = stripArrayShell(batch)
	}
	for {
		doc, batch, ok = bsoncore.ReadDocument(batch)
		if !ok {
			break
		}

		doc, lcbc.err = lcbc.projectNameElement(doc)
		if lcbc.err != nil {
			return false
		}
		lcbc.currentBatch.Data = append(lcbc.currentBatch.Data, doc...)
	}

	return true
}

// Batch will return a DocumentSequence for the current batch of documents.
// The returned DocumentSequence is only valid until the next call to Next or
// Close.
func (lcbc *ListCollectionsBatchCursor) Batch() *bsoncore.DocumentSequence {
	return lcbc.currentBatch
}

// Err returns the latest error encountered.
func (lcbc *ListCollectionsBatchCursor) Err() error {
	if lcbc.err != nil {
		return lcbc.err
	}
	return lcbc.bc.Err()
}

// Close closes this batch cursor.
func (lcbc *ListCollectionsBatchCursor) Close(ctx context.Context) error {
	return lcbc.bc.Close(ctx)
}

// stripArrayShell flattens a BSON array of documents into the concatenated
// documents themselves.
func stripArrayShell(arr []byte) []byte {
	var flattened []byte
	vals, err := bsoncore.Array(arr).Values()
	if err != nil {
		return nil
	}
	for _, val := range vals {
		doc, ok := val.DocumentOK()
		if !ok {
			continue
		}
		flattened = append(flattened, doc...)
	}
	return flattened
}

// projectNameElement reduces a listCollections result document to its name,
// with any database prefix removed.
func (*ListCollectionsBatchCursor) projectNameElement(rawDoc bsoncore.Document) (bsoncore.Document, error) {
	elems, err := rawDoc.Elements()
	if err != nil {
		return nil, err
	}

	var filteredElems []byte
	for _, elem := range elems {
		if elem.Key() != "name" {
			continue
		}

		name := elem.Value().StringValue()
		collName := name[strings.Index(name, ".")+1:]
		filteredElems = bsoncore.AppendStringElement(filteredElems, "name", collName)
	}

	return bsoncore.BuildDocument(nil, filteredElems), nil
}
