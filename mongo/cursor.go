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
	"io"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/session"
)

// Cursor iterates a stream of documents lazily, issuing getMore commands
// transparently as each batch is drained. A Cursor is not safe for concurrent
// use.
type Cursor struct {
	// Current contains the BSON bytes of the current document. This property
	// is only valid until the next call to Next or TryNext.
	Current bson.Raw

	bc            batchCursor
	batch         *bsoncore.DocumentSequence
	clientSession *session.Client
	closed        bool
	err           error
}

// batchCursor is the interface a batch-producing cursor must implement to be
// wrapped by a Cursor. *driver.BatchCursor and the name-projecting cursor
// used by ListCollectionNames both satisfy it.
type batchCursor interface {
	ID() int64
	Next(context.Context) bool
	Batch() *bsoncore.DocumentSequence
	Err() error
	Close(context.Context) error
}

func newCursor(bc batchCursor, clientSession *session.Client) *Cursor {
	return &Cursor{bc: bc, clientSession: clientSession}
}

func newEmptyCursor() *Cursor {
	return &Cursor{bc: driver.NewEmptyBatchCursor()}
}

// ID returns the ID of this cursor, or 0 if the cursor has been closed or
// exhausted.
func (c *Cursor) ID() int64 { return c.bc.ID() }

// Next gets the next document for this cursor. It returns true if there were
// no errors and the cursor has not been exhausted. Next blocks until a
// document is available, an error occurs, or the cursor is exhausted.
func (c *Cursor) Next(ctx context.Context) bool {
	return c.next(ctx, false)
}

// TryNext attempts to get the next document for this cursor. It returns true
// if a document was retrieved. Unlike Next, it returns false without blocking
// when no document is currently available; Err and ID distinguish quiet
// cursors from failed or exhausted ones.
func (c *Cursor) TryNext(ctx context.Context) bool {
	return c.next(ctx, true)
}

func (c *Cursor) next(ctx context.Context, nonBlocking bool) bool {
	if c.closed {
		c.err = ErrCursorClosed
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	doc, err := c.batch.Next()
	switch {
	case err == nil:
		c.Current = bson.Raw(doc)
		return true
	case errors.Is(err, io.EOF): // empty batch, but cursor may still be open
	default:
		c.err = err
		return false
	}

	// Call the KillCursors command when the cursor is exhausted so its
	// server-side state is released promptly.
	for {
		if c.bc.Next(ctx) {
			break
		}

		if err := c.bc.Err(); err != nil {
			c.err = replaceErrors(err)
			return false
		}
		if c.bc.ID() == 0 {
			return false
		}

		// The batch is empty but the server cursor is alive: only a blocking
		// Next keeps asking.
		if nonBlocking {
			return false
		}
		if ctx.Err() != nil {
			c.err = ctx.Err()
			return false
		}
	}

	c.batch = c.bc.Batch()
	doc, err = c.batch.Next()
	if err != nil {
		c.err = err
		return false
	}
	c.Current = bson.Raw(doc)
	return true
}

// Decode unmarshals the current document into val.
func (c *Cursor) Decode(val interface{}) error {
	return bson.Unmarshal(c.Current, val)
}

// Err returns the last error seen by the Cursor, or nil if no error has
// occurred.
func (c *Cursor) Err() error { return c.err }

// Close closes this cursor, killing any open server-side cursor. Close is
// idempotent. Subsequent iteration fails with ErrCursorClosed.
func (c *Cursor) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.bc.Close(ctx)
	if c.clientSession != nil && c.clientSession.IsImplicit {
		c.clientSession.EndSession()
	}
	return replaceErrors(err)
}

// All iterates the cursor and decodes each document into results. The results
// parameter must be a pointer to a slice. The cursor is closed afterwards.
func (c *Cursor) All(ctx context.Context, results interface{}) error {
	resultsVal := reflect.ValueOf(results)
	if resultsVal.Kind() != reflect.Ptr {
		return fmt.Errorf("results argument must be a pointer to a slice, but was a %s", resultsVal.Kind())
	}

	sliceVal := resultsVal.Elem()
	if sliceVal.Kind() == reflect.Interface {
		sliceVal = sliceVal.Elem()
	}
	if sliceVal.Kind() != reflect.Slice {
		return fmt.Errorf("results argument must be a pointer to a slice, but was a pointer to %s", sliceVal.Kind())
	}

	elementType := sliceVal.Type().Elem()
	var index int
	var err error

	defer c.Close(ctx)

	batch := c.batch // exhaust the current batch before iterating the batch cursor
	for {
		sliceVal, index, err = c.addFromBatch(sliceVal, elementType, batch, index)
		if err != nil {
			return err
		}
		if !c.bc.Next(ctx) {
			break
		}
		batch = c.bc.Batch()
	}

	if err = replaceErrors(c.bc.Err()); err != nil {
		return err
	}

	resultsVal.Elem().Set(sliceVal.Slice(0, index))
	return nil
}

// RemainingBatchLength returns the number of documents left in the current
// batch. A nonzero return means the next Next/TryNext will not block.
func (c *Cursor) RemainingBatchLength() int {
	return c.batch.DocumentCount()
}

// addFromBatch adds all documents from batch to sliceVal starting at index.
func (c *Cursor) addFromBatch(sliceVal reflect.Value, elemType reflect.Type, batch *bsoncore.DocumentSequence,
	index int) (reflect.Value, int, error) {

	docs, err := batch.Documents()
	if err != nil {
		return sliceVal, index, err
	}

	for _, doc := range docs {
		if sliceVal.Len() == index {
			// slice is full
			newElem := reflect.New(elemType)
			sliceVal = reflect.Append(sliceVal, newElem.Elem())
			sliceVal = sliceVal.Slice(0, sliceVal.Cap())
		}

		currElem := sliceVal.Index(index).Addr().Interface()
		if err := bson.Unmarshal(doc, currElem); err != nil {
			return sliceVal, index, err
		}
		index++
	}

	return sliceVal, index, nil
}
