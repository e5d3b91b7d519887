// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/description"
	"github.com/ikmak/mongocore/driver/session"
	"github.com/ikmak/mongocore/mongo/readconcern"
	"github.com/ikmak/mongocore/mongo/readpref"
)

// Find performs a find operation.
type Find struct {
	// Filter determines what results are returned from find.
	Filter bsoncore.Document

	// Sort specifies the order in which to return results.
	Sort bsoncore.Document

	// Projection limits the fields returned for all documents.
	Projection bsoncore.Document

	// Skip specifies the number of documents to skip before returning.
	Skip *int64

	// Limit sets a limit on the number of documents to return.
	Limit *int64

	// BatchSize specifies the number of documents to return in every batch.
	BatchSize *int32

	// SingleBatch specifies whether the results should be returned in a
	// single batch.
	SingleBatch *bool

	// MaxTimeMS is the maximum amount of time, in milliseconds, to allow the
	// query to run on the server.
	MaxTimeMS *int64

	// Collection sets the collection that this command will run against.
	Collection string

	// Database sets the database to run this operation against.
	Database string

	// Deployment is the deployment to use for this operation.
	Deployment driver.Deployment

	// Selector is the selector used to retrieve a server.
	Selector description.ServerSelector

	// ReadConcern is the read concern for this operation.
	ReadConcern *readconcern.ReadConcern

	// ReadPreference is the read preference used with this operation.
	ReadPreference *readpref.ReadPref

	// Session is the session for this operation.
	Session *session.Client

	// Clock is the cluster clock for this operation.
	Clock *session.ClusterClock

	// Retry enables retryable mode for this operation. Retries are handled
	// automatically in driver.Operation.Execute based on how the operation is
	// set.
	Retry *driver.RetryMode

	result driver.CursorResponse
}

// Result returns a BatchCursor over the result of executing this operation.
func (f *Find) Result(opts driver.CursorOptions) (*driver.BatchCursor, error) {
	return driver.NewBatchCursor(f.result, f.Session, f.Clock, opts)
}

func (f *Find) processResponse(_ context.Context, response bsoncore.Document, info *driver.ResponseInfo) error {
	var err error
	f.result, err = driver.NewCursorResponse(response, info)
	return err
}

// Execute runs this operations and returns an error if the operation did not execute successfully.
func (f *Find) Execute(ctx context.Context) error {
	if f.Deployment == nil {
		return errors.New("the Find operation must have a Deployment set before Execute can be called")
	}

	return driver.Operation{
		CommandFn:         f.command,
		ProcessResponseFn: f.processResponse,
		RetryMode:         f.Retry,
		Type:              driver.Read,
		Client:            f.Session,
		Clock:             f.Clock,
		Database:          f.Database,
		Deployment:        f.Deployment,
		MaxTimeMS:         f.MaxTimeMS,
		ReadConcern:       f.ReadConcern,
		ReadPreference:    f.ReadPreference,
		Selector:          f.Selector,
		Name:              "find",
	}.Execute(ctx)
}

func (f *Find) command(dst []byte, _ description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "find", f.Collection)
	if f.Filter != nil {
		dst = bsoncore.AppendDocumentElement(dst, "filter", f.Filter)
	}
	if f.Sort != nil {
		dst = bsoncore.AppendDocumentElement(dst, "sort", f.Sort)
	}
	if f.Projection != nil {
		dst = bsoncore.AppendDocumentElement(dst, "projection", f.Projection)
	}
	if f.Skip != nil {
		dst = bsoncore.AppendInt64Element(dst, "skip", *f.Skip)
	}
	if f.Limit != nil {
		dst = bsoncore.AppendInt64Element(dst, "limit", *f.Limit)
	}
	if f.BatchSize != nil {
		dst = bsoncore.AppendInt32Element(dst, "batchSize", *f.BatchSize)
	}
	if f.SingleBatch != nil {
		dst = bsoncore.AppendBooleanElement(dst, "singleBatch", *f.SingleBatch)
	}
	return dst, nil
}
