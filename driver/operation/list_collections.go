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
	"github.com/ikmak/mongocore/mongo/readpref"
)

// ListCollections performs a listCollections operation.
type ListCollections struct {
	// Filter determines what results are returned from listCollections.
	Filter bsoncore.Document

	// NameOnly specifies whether to only return collection names.
	NameOnly *bool

	// BatchSize specifies the number of documents to return in every batch.
	BatchSize *int32

	// Database sets the database to run this operation against.
	Database string

	// Deployment is the deployment to use for this operation.
	Deployment driver.Deployment

	// Selector is the selector used to retrieve a server.
	Selector description.ServerSelector

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
func (lc *ListCollections) Result(opts driver.CursorOptions) (*driver.BatchCursor, error) {
	return driver.NewBatchCursor(lc.result, lc.Session, lc.Clock, opts)
}

func (lc *ListCollections) processResponse(_ context.Context, response bsoncore.Document, info *driver.ResponseInfo) error {
	var err error
	lc.result, err = driver.NewCursorResponse(response, info)
	return err
}

// Execute runs this operations and returns an error if the operation did not execute successfully.
func (lc *ListCollections) Execute(ctx context.Context) error {
	if lc.Deployment == nil {
		return errors.New("the ListCollections operation must have a Deployment set before Execute can be called")
	}

	return driver.Operation{
		CommandFn:         lc.command,
		ProcessResponseFn: lc.processResponse,
		RetryMode:         lc.Retry,
		Type:              driver.Read,
		Client:            lc.Session,
		Clock:             lc.Clock,
		Database:          lc.Database,
		Deployment:        lc.Deployment,
		ReadPreference:    lc.ReadPreference,
		Selector:          lc.Selector,
		Name:              "listCollections",
	}.Execute(ctx)
}

func (lc *ListCollections) command(dst []byte, _ description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendInt32Element(dst, "listCollections", 1)
	if lc.Filter != nil {
		dst = bsoncore.AppendDocumentElement(dst, "filter", lc.Filter)
	}
	if lc.NameOnly != nil {
		dst = bsoncore.AppendBooleanElement(dst, "nameOnly", *lc.NameOnly)
	}

	if lc.BatchSize != nil {
		cursorIdx, cursorDoc := bsoncore.AppendDocumentStart(nil)
		cursorDoc = bsoncore.AppendInt32Element(cursorDoc, "batchSize", *lc.BatchSize)
		cursorDoc, _ = bsoncore.AppendDocumentEnd(cursorDoc, cursorIdx)
		dst = bsoncore.AppendDocumentElement(dst, "cursor", cursorDoc)
	}
	return dst, nil
}
