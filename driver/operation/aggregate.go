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
	"github.com/ikmak/mongocore/mongo/writeconcern"
)

// Aggregate represents an aggregate operation.
type Aggregate struct {
	// Pipeline determines how data is transformed for an aggregation.
	Pipeline bsoncore.Document

	// AllowDiskUse enables writing to temporary files. When true, aggregation
	// stages can write to the dbPath/_tmp directory.
	AllowDiskUse *bool

	// BatchSize specifies the number of documents to return in every batch.
	BatchSize *int32

	// MaxTimeMS is the maximum amount of time, in milliseconds, to allow the
	// query to run on the server.
	MaxTimeMS *int64

	// Collection sets the collection that this command will run against. If
	// empty, the aggregation runs database-wide, as change streams and some
	// administrative pipelines do.
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

	// WriteConcern is the write concern for this operation. It is only sent
	// for pipelines with an output stage.
	WriteConcern *writeconcern.WriteConcern

	// HasOutputStage specifies whether the aggregate contains an output stage.
	// Aggregations with an output stage are treated as writes: they must run
	// on a writable server and never retry.
	HasOutputStage bool

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
func (a *Aggregate) Result(opts driver.CursorOptions) (*driver.BatchCursor, error) {
	return driver.NewBatchCursor(a.result, a.Session, a.Clock, opts)
}

// ResultCursorResponse returns the raw cursor response from executing this
// operation. Change streams use this to wrap the cursor themselves.
func (a *Aggregate) ResultCursorResponse() driver.CursorResponse {
	return a.result
}

func (a *Aggregate) processResponse(_ context.Context, response bsoncore.Document, info *driver.ResponseInfo) error {
	var err error
	a.result, err = driver.NewCursorResponse(response, info)
	return err
}

// Execute runs this operations and returns an error if the operation did not execute successfully.
func (a *Aggregate) Execute(ctx context.Context) error {
	if a.Deployment == nil {
		return errors.New("the Aggregate operation must have a Deployment set before Execute can be called")
	}

	var retry *driver.RetryMode
	var wc *writeconcern.WriteConcern
	if a.HasOutputStage {
		// $out and $merge perform writes: route like a write and never retry,
		// but keep read semantics (read concern, no txnNumber) on the wire.
		wc = a.WriteConcern
	} else {
		retry = a.Retry
	}

	return driver.Operation{
		CommandFn:         a.command,
		ProcessResponseFn: a.processResponse,
		RetryMode:         retry,
		Type:              driver.Read,
		Client:            a.Session,
		Clock:             a.Clock,
		Database:          a.Database,
		Deployment:        a.Deployment,
		MaxTimeMS:         a.MaxTimeMS,
		ReadConcern:       a.ReadConcern,
		ReadPreference:    a.ReadPreference,
		WriteConcern:      wc,
		Selector:          a.selector(),
		Name:              "aggregate",
	}.Execute(ctx)
}

func (a *Aggregate) selector() description.ServerSelector {
	if a.Selector != nil {
		return a.Selector
	}
	if a.HasOutputStage {
		return description.WriteSelector()
	}
	return nil
}

func (a *Aggregate) command(dst []byte, _ description.SelectedServer) ([]byte, error) {
	if a.Collection != "" {
		dst = bsoncore.AppendStringElement(dst, "aggregate", a.Collection)
	} else {
		dst = bsoncore.AppendInt32Element(dst, "aggregate", 1)
	}

	if a.Pipeline != nil {
		dst = bsoncore.AppendArrayElement(dst, "pipeline", a.Pipeline)
	}
	if a.AllowDiskUse != nil {
		dst = bsoncore.AppendBooleanElement(dst, "allowDiskUse", *a.AllowDiskUse)
	}

	cursorIdx, cursorDoc := bsoncore.AppendDocumentStart(nil)
	if a.BatchSize != nil {
		cursorDoc = bsoncore.AppendInt32Element(cursorDoc, "batchSize", *a.BatchSize)
	}
	cursorDoc, _ = bsoncore.AppendDocumentEnd(cursorDoc, cursorIdx)
	dst = bsoncore.AppendDocumentElement(dst, "cursor", cursorDoc)

	return dst, nil
}
