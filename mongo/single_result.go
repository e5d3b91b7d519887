// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// SingleResult represents a single document returned from an operation. If
// the operation resulted in an error, all SingleResult methods return that
// error.
type SingleResult struct {
	err error
	cur *Cursor
	rdr bson.Raw
}

// Decode unmarshals the document represented by this SingleResult into val.
// It returns ErrNoDocuments when the operation that produced the result
// matched no documents.
func (sr *SingleResult) Decode(val interface{}) error {
	if sr.err != nil {
		return sr.err
	}
	if err := sr.setRdrContents(); err != nil {
		return err
	}
	return bson.Unmarshal(sr.rdr, val)
}

// Raw returns the document represented by this SingleResult as a bson.Raw.
func (sr *SingleResult) Raw() (bson.Raw, error) {
	if sr.err != nil {
		return sr.rdr, sr.err
	}
	if err := sr.setRdrContents(); err != nil {
		return nil, err
	}
	return sr.rdr, nil
}

// setRdrContents fetches the first document from the underlying cursor, if
// the result was built from one.
func (sr *SingleResult) setRdrContents() error {
	switch {
	case sr.err != nil:
		return sr.err
	case sr.rdr != nil:
		return nil
	case sr.cur != nil:
		defer sr.cur.Close(context.Background())

		if !sr.cur.Next(context.Background()) {
			if err := sr.cur.Err(); err != nil {
				return err
			}
			return ErrNoDocuments
		}
		sr.rdr = sr.cur.Current
		return nil
	}

	return ErrNoDocuments
}

// Err returns the error from the operation that created this SingleResult,
// or ErrNoDocuments if the operation returned no documents. Callers that do
// not need the document can use Err to check the operation outcome.
func (sr *SingleResult) Err() error {
	sr.err = sr.setRdrContents()
	if sr.err == nil || sr.err == ErrNoDocuments {
		return sr.err
	}
	return replaceErrors(sr.err)
}
