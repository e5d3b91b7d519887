// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package operation contains one type per database command the driver knows
// how to run. Each type gathers the command's options, produces the command
// elements via driver.Operation's CommandFn, and decodes the pieces of the
// response it cares about.
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
)

// Command is used to run a generic operation.
type Command struct {
	// Command sets the command that will be run.
	Command bsoncore.Document

	// Database sets the database to run the command against.
	Database string

	// Deployment is the deployment to use for this operation.
	Deployment driver.Deployment

	// Selector is the selector used to retrieve a server.
	Selector description.ServerSelector

	// ReadPreference is the read preference used with this operation.
	ReadPreference *readpref.ReadPref

	// ReadConcern is the read concern for this operation.
	ReadConcern *readconcern.ReadConcern

	// Session is the session for this operation.
	Session *session.Client

	// Clock is the cluster clock for this operation.
	Clock *session.ClusterClock

	resultResponse bsoncore.Document
}

// Result returns the result of executing this operation.
func (c *Command) Result() bsoncore.Document { return c.resultResponse }

// Execute runs this operations and returns an error if the operation did not execute successfully.
func (c *Command) Execute(ctx context.Context) error {
	if c.Deployment == nil {
		return errors.New("the Command operation must have a Deployment set before Execute can be called")
	}

	return driver.Operation{
		CommandFn: func(dst []byte, _ description.SelectedServer) ([]byte, error) {
			elems, err := c.Command.Elements()
			if err != nil {
				return nil, err
			}
			for _, elem := range elems {
				dst = append(dst, elem...)
			}
			return dst, nil
		},
		ProcessResponseFn: func(_ context.Context, resp bsoncore.Document, _ *driver.ResponseInfo) error {
			c.resultResponse = resp
			return nil
		},
		Client:         c.Session,
		Clock:          c.Clock,
		Database:       c.Database,
		Deployment:     c.Deployment,
		ReadConcern:    c.ReadConcern,
		ReadPreference: c.ReadPreference,
		Selector:       c.Selector,
		Type:           driver.Read,
		Name:           "command",
	}.Execute(ctx)
}
