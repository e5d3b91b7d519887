// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/description"
	"github.com/ikmak/mongocore/driver/session"
	"github.com/ikmak/mongocore/mongo/writeconcern"
)

// Delete performs a delete operation.
type Delete struct {
	// Deletes specifies an array of delete statements to perform when this
	// operation is executed. Each delete document must have the following
	// structure: {q: <query>, limit: <integer limit>}. To delete all documents
	// matching the query, the limit should be 0.
	Deletes []bsoncore.Document

	// Ordered sets ordered. If true, when a write fails, the operation will
	// return the error, when false write failures do not stop execution of
	// the operation.
	Ordered *bool

	// Collection sets the collection that this command will run against.
	Collection string

	// Database sets the database to run this operation against.
	Database string

	// Deployment is the deployment to use for this operation.
	Deployment driver.Deployment

	// Selector is the selector used to retrieve a server.
	Selector description.ServerSelector

	// WriteConcern is the write concern for this operation.
	WriteConcern *writeconcern.WriteConcern

	// Session is the session for this operation.
	Session *session.Client

	// Clock is the cluster clock for this operation.
	Clock *session.ClusterClock

	// Retry enables retryable mode for this operation. Retries are handled
	// automatically in driver.Operation.Execute based on how the operation is
	// set. A delete statement with limit 0 is never retryable.
	Retry *driver.RetryMode

	result DeleteResult
}

// DeleteResult represents a delete result returned by the server.
type DeleteResult struct {
	// Number of documents successfully deleted.
	N int64
}

func buildDeleteResult(response bsoncore.Document) (DeleteResult, error) {
	elements, err := response.Elements()
	if err != nil {
		return DeleteResult{}, err
	}
	dr := DeleteResult{}
	for _, element := range elements {
		if element.Key() == "n" {
			var ok bool
			dr.N, ok = element.Value().AsInt64OK()
			if !ok {
				return dr, fmt.Errorf("response field 'n' is type int32 or int64, but received BSON type %s", element.Value().Type)
			}
		}
	}
	return dr, nil
}

// Result returns the result of executing this operation.
func (d *Delete) Result() DeleteResult { return d.result }

func (d *Delete) processResponse(_ context.Context, response bsoncore.Document, _ *driver.ResponseInfo) error {
	dr, err := buildDeleteResult(response)
	d.result.N += dr.N
	return err
}

// Execute runs this operations and returns an error if the operation did not execute successfully.
func (d *Delete) Execute(ctx context.Context) error {
	if d.Deployment == nil {
		return errors.New("the Delete operation must have a Deployment set before Execute can be called")
	}
	if len(d.Deletes) == 0 {
		return errors.New("the Delete operation must have at least one delete statement")
	}

	return driver.Operation{
		CommandFn:         d.command,
		ProcessResponseFn: d.processResponse,
		RetryMode:         d.Retry,
		Type:              driver.Write,
		Client:            d.Session,
		Clock:             d.Clock,
		Database:          d.Database,
		Deployment:        d.Deployment,
		Selector:          d.Selector,
		WriteConcern:      d.WriteConcern,
		Name:              "delete",
	}.Execute(ctx)
}

func (d *Delete) command(dst []byte, _ description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "delete", d.Collection)
	if d.Ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *d.Ordered)
	}

	aidx, dst := bsoncore.AppendArrayElementStart(dst, "deletes")
	for idx, doc := range d.Deletes {
		dst = bsoncore.AppendDocumentElement(dst, strconv.Itoa(idx), doc)
	}
	return bsoncore.AppendArrayEnd(dst, aidx)
}
