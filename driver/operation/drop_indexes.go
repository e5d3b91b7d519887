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

// DropIndexes performs a dropIndexes operation. An index name of "*" drops
// all indexes except the one on _id.
type DropIndexes struct {
	// Index specifies the name of the index to drop.
	Index *string

	// MaxTimeMS is the maximum amount of time, in milliseconds, to allow the
	// operation to run on the server.
	MaxTimeMS *int64

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
}

// Execute runs this operations and returns an error if the operation did not execute successfully.
func (di *DropIndexes) Execute(ctx context.Context) error {
	if di.Deployment == nil {
		return errors.New("the DropIndexes operation must have a Deployment set before Execute can be called")
	}

	return driver.Operation{
		CommandFn:    di.command,
		Type:         driver.Write,
		Client:       di.Session,
		Clock:        di.Clock,
		Database:     di.Database,
		Deployment:   di.Deployment,
		MaxTimeMS:    di.MaxTimeMS,
		Selector:     di.Selector,
		WriteConcern: di.WriteConcern,
		Name:         "dropIndexes",
	}.Execute(ctx)
}

func (di *DropIndexes) command(dst []byte, _ description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "dropIndexes", di.Collection)
	if di.Index != nil {
		dst = bsoncore.AppendStringElement(dst, "index", *di.Index)
	}
	return dst, nil
}
