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

// CreateIndexes performs a createIndexes operation.
type CreateIndexes struct {
	// Indexes specifies an array containing index specification documents for
	// the indexes being created.
	Indexes bsoncore.Document

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
func (ci *CreateIndexes) Execute(ctx context.Context) error {
	if ci.Deployment == nil {
		return errors.New("the CreateIndexes operation must have a Deployment set before Execute can be called")
	}

	return driver.Operation{
		CommandFn:    ci.command,
		Type:         driver.Write,
		Client:       ci.Session,
		Clock:        ci.Clock,
		Database:     ci.Database,
		Deployment:   ci.Deployment,
		MaxTimeMS:    ci.MaxTimeMS,
		Selector:     ci.Selector,
		WriteConcern: ci.WriteConcern,
		Name:         "createIndexes",
	}.Execute(ctx)
}

func (ci *CreateIndexes) command(dst []byte, _ description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "createIndexes", ci.Collection)
	if ci.Indexes != nil {
		dst = bsoncore.AppendArrayElement(dst, "indexes", ci.Indexes)
	}
	return dst, nil
}
