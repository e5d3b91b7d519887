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

// CommitTransaction attempts to commit a transaction.
type CommitTransaction struct {
	// MaxTimeMS is the maximum amount of time, in milliseconds, to allow the
	// operation to run on the server.
	MaxTimeMS *int64

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
func (ct *CommitTransaction) Execute(ctx context.Context) error {
	if ct.Deployment == nil {
		return errors.New("the CommitTransaction operation must have a Deployment set before Execute can be called")
	}

	return driver.Operation{
		CommandFn:    ct.command,
		RetryMode:    ct.Retry,
		Type:         driver.Write,
		Client:       ct.Session,
		Clock:        ct.Clock,
		Database:     "admin",
		Deployment:   ct.Deployment,
		MaxTimeMS:    ct.MaxTimeMS,
		Selector:     ct.Selector,
		WriteConcern: ct.WriteConcern,
		Name:         "commitTransaction",
	}.Execute(ctx)
}

func (ct *CommitTransaction) command(dst []byte, _ description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendInt32Element(dst, "commitTransaction", 1)
	if ct.RecoveryToken != nil {
		dst = bsoncore.AppendDocumentElement(dst, "recoveryToken", ct.RecoveryToken)
	}
	return dst, nil
}
