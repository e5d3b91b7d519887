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
	"github.com/ikmak/mongocore/mongo/writeconcern"
)

// AbortTransaction performs an abortTransaction operation.
type AbortTransaction struct {
	// RecoveryToken is the recovery token to use when committing or aborting
	// a sharded transaction.
	RecoveryToken bsoncore.Document

	// Session is the session for this operation.
	Session *session.Client

	// Clock is the cluster clock for this operation.
	Clock *session.ClusterClock

	// Deployment is the deployment to use for this operation.
	Deployment driver.Deployment

	// Selector is the selector used to retrieve a server.
	Selector description.ServerSelector

	// WriteConcern is the write concern for this operation.
	WriteConcern *writeconcern.WriteConcern

	// Retry enables retryable mode for this operation. Retries are handled
	// automatically in driver.Operation.Execute based on how the operation is
	// set.
	Retry *driver.RetryMode
}

// Execute runs this operations and returns an error if the operation did not execute successfully.
func (at *AbortTransaction) Execute(ctx context.Context) error {
	if at.Deployment == nil {
		return errors.New("the AbortTransaction operation must have a Deployment set before Execute can be called")
	}

	return driver.Operation{
		CommandFn:    at.command,
		RetryMode:    at.Retry,
		Type:         driver.Write,
		Client:       at.Session,
		Clock:        at.Clock,
		Database:     "admin",
		Deployment:   at.Deployment,
		Selector:     at.Selector,
		WriteConcern: at.WriteConcern,
		Name:         "abortTransaction",
	}.Execute(ctx)
}

func (at *AbortTransaction) command(dst []byte, _ description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendInt32Element(dst, "abortTransaction", 1)
	if at.RecoveryToken != nil {
		dst = bsoncore.AppendDocumentElement(dst, "recoveryToken", at.RecoveryToken)
	}
	return dst, nil
}
