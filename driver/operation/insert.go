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

// Insert performs an insert operation.
type Insert struct {
	// Documents adds documents to this operation that will be inserted when
	// this operation is executed.
	Documents []bsoncore.Document

	// Ordered sets ordered. If true, when a write fails, the operation will
	// return the error, when false write failures do not stop execution of
	// the operation.
	Ordered *bool

	// BypassDocumentValidation allows the operation to opt-out of document
	// level validation.
	BypassDocumentValidation *bool

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
	// set.
	Retry *driver.RetryMode

	result InsertResult
}

// InsertResult represents an insert result returned by the server.
type InsertResult struct {
	// Number of documents successfully inserted.
	N int64
}

func buildInsertResult(response bsoncore.Document) (InsertResult, error) {
	elements, err := response.Elements()
	if err != nil {
		return InsertResult{}, err
	}
	ir := InsertResult{}
	for _, element := range elements {
		if element.Key() == "n" {
			var ok bool
			ir.N, ok = element.Value().AsInt64OK()
			if !ok {
				return ir, fmt.Errorf("response field 'n' is type int32 or int64, but received BSON type %s", element.Value().Type)
			}
		}
	}
	return ir, nil
}

// Result returns the result of executing this operation.
func (i *Insert) Result() InsertResult { return i.result }

func (i *Insert) processResponse(_ context.Context, response bsoncore.Document, _ *driver.ResponseInfo) error {
	ir, err := buildInsertResult(response)
	i.result.N += ir.N
	return err
}

// Execute runs this operations and returns an error if the operation did not execute successfully.
func (i *Insert) Execute(ctx context.Context) error {
	if i.Deployment == nil {
		return errors.New("the Insert operation must have a Deployment set before Execute can be called")
	}
	if len(i.Documents) == 0 {
		return errors.New("the Insert operation must have at least one document")
	}

	return driver.Operation{
		CommandFn:         i.command,
		ProcessResponseFn: i.processResponse,
		RetryMode:         i.Retry,
		Type:              driver.Write,
		Client:            i.Session,
		Clock:             i.Clock,
		Database:          i.Database,
		Deployment:        i.Deployment,
		Selector:          i.Selector,
		WriteConcern:      i.WriteConcern,
		Name:              "insert",
	}.Execute(ctx)
}

func (i *Insert) command(dst []byte, _ description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "insert", i.Collection)
	if i.BypassDocumentValidation != nil {
		dst = bsoncore.AppendBooleanElement(dst, "bypassDocumentValidation", *i.BypassDocumentValidation)
	}
	if i.Ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *i.Ordered)
	}

	aidx, dst := bsoncore.AppendArrayElementStart(dst, "documents")
	for idx, doc := range i.Documents {
		dst = bsoncore.AppendDocumentElement(dst, strconv.Itoa(idx), doc)
	}
	return bsoncore.AppendArrayEnd(dst, aidx)
}
