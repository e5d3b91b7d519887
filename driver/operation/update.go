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

// Update performs an update operation.
type Update struct {
	// Updates specifies an array of update statements to perform when this
	// operation is executed. Each update document must have the following
	// structure: {q: <query>, u: <update>, multi: <boolean>, upsert: <boolean>}.
	Updates []bsoncore.Document

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
	// set. A multi-document update statement is never retryable.
	Retry *driver.RetryMode

	result UpdateResult
}

// Upsert contains the information for an upsert in an UpdateResult.
type Upsert struct {
	Index int64
	ID    interface{} `bson:"_id"`
}

// UpdateResult contains information for the result of an Update operation.
type UpdateResult struct {
	// Number of documents matched.
	N int64
	// Number of documents modified.
	NModified int64
	// Information about upserted documents.
	Upserted []Upsert
}

func buildUpdateResult(response bsoncore.Document) (UpdateResult, error) {
	elements, err := response.Elements()
	if err != nil {
		return UpdateResult{}, err
	}
	ur := UpdateResult{}
	for _, element := range elements {
		switch element.Key() {
		case "nModified":
			var ok bool
			ur.NModified, ok = element.Value().AsInt64OK()
			if !ok {
				return ur, fmt.Errorf("response field 'nModified' is type int32 or int64, but received BSON type %s", element.Value().Type)
			}
		case "n":
			var ok bool
			ur.N, ok = element.Value().AsInt64OK()
			if !ok {
				return ur, fmt.Errorf("response field 'n' is type int32 or int64, but received BSON type %s", element.Value().Type)
			}
		case "upserted":
			arr, ok := element.Value().ArrayOK()
			if !ok {
				return ur, fmt.Errorf("response field 'upserted' is type array, but received BSON type %s", element.Value().Type)
			}
			vals, err := arr.Values()
			if err != nil {
				return ur, err
			}
			for _, val := range vals {
				doc, ok := val.DocumentOK()
				if !ok {
					continue
				}
				var upsert Upsert
				if index, ok := doc.Lookup("index").AsInt64OK(); ok {
					upsert.Index = index
				}
				upsert.ID = doc.Lookup("_id")
				ur.Upserted = append(ur.Upserted, upsert)
			}
		}
	}
	return ur, nil
}

// Result returns the result of executing this operation.
func (u *Update) Result() UpdateResult { return u.result }

func (u *Update) processResponse(_ context.Context, response bsoncore.Document, _ *driver.ResponseInfo) error {
	ur, err := buildUpdateResult(response)
	u.result.N += ur.N
	u.result.NModified += ur.NModified
	u.result.Upserted = append(u.result.Upserted, ur.Upserted...)
	return err
}

// Execute runs this operations and returns an error if the operation did not execute successfully.
func (u *Update) Execute(ctx context.Context) error {
	if u.Deployment == nil {
		return errors.New("the Update operation must have a Deployment set before Execute can be called")
	}
	if len(u.Updates) == 0 {
		return errors.New("the Update operation must have at least one update statement")
	}

	return driver.Operation{
		CommandFn:         u.command,
		ProcessResponseFn: u.processResponse,
		RetryMode:         u.Retry,
		Type:              driver.Write,
		Client:            u.Session,
		Clock:             u.Clock,
		Database:          u.Database,
		Deployment:        u.Deployment,
		Selector:          u.Selector,
		WriteConcern:      u.WriteConcern,
		Name:              "update",
	}.Execute(ctx)
}

func (u *Update) command(dst []byte, _ description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "update", u.Collection)
	if u.BypassDocumentValidation != nil {
		dst = bsoncore.AppendBooleanElement(dst, "bypassDocumentValidation", *u.BypassDocumentValidation)
	}
	if u.Ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *u.Ordered)
	}

	aidx, dst := bsoncore.AppendArrayElementStart(dst, "updates")
	for idx, doc := range u.Updates {
		dst = bsoncore.AppendDocumentElement(dst, strconv.Itoa(idx), doc)
	}
	return bsoncore.AppendArrayEnd(dst, aidx)
}
