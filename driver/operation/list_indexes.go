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
)

// ListIndexes performs a listIndexes operation.
type ListIndexes struct {
	// BatchSize specifies the number of documents to return in every batch.
	BatchSize *int32

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
func (li *ListIndexes) Result(opts driver.CursorOptions) (*driver.BatchCursor, error) {
	return driver.NewBatchCursor(li.result, li.Session, li.Clock, opts)
}

func (li *ListIndexes) processResponse(_ context.Context, response bsoncore.Document, info *driver.ResponseInfo) error {
	var err error
	li.result, err = driver.NewCursorResponse(response, info)
	return err
}

// Execute runs this operations and returns an error if the operation did not execute successfully.
func (li *ListIndexes) Execute(ctx context.Context) error {
	if li.Deployment == nil {
		return errors.New("the ListIndexes operation must have a Deployment set before Execute can be called")
	}

	return driver.Operation{
		CommandFn:         li.command,
		ProcessResponseFn: li.processResponse,
		RetryMode:         li.Retry,
		Type:              driver.Read,
		Client:            li.Session,
		Clock:             li.Clock,
		Database:          li.Database,
		Deployment:        li.Deployment,
		MaxTimeMS:         li.MaxTimeMS,
		Selector:          li.Selector,
		Name:              "listIndexes",
	}.Execute(ctx)
}

func (li *ListIndexes) command(dst []byte, _ description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "listIndexes", li.Collection)

	if li.BatchSize != nil {
		cursorIdx, cursorDoc := bsoncore.AppendDocumentStart(nil)
		cursorDoc = bsoncore.AppendInt32Element(cursorDoc, "batchSize", *li.BatchSize)
		cursorDoc, _ = bsoncore.AppendDocumentEnd(cursorDoc, cursorIdx)
		dst = bsoncore.AppendDocumentElement(dst, "cursor", cursorDoc)
	}
	return dst, nil
}
