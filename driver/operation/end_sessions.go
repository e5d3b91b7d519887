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
)

// EndSessions performs an endSessions operation.
type EndSessions struct {
	// SessionIDs is an array of session IDs to end.
	SessionIDs bsoncore.Document

	// Session is the session for this operation.
	Session *session.Client

	// Clock is the cluster clock for this operation.
	Clock *session.ClusterClock

	// Deployment is the deployment to use for this operation.
	Deployment driver.Deployment

	// Selector is the selector used to retrieve a server.
	Selector description.ServerSelector
}

// Execute runs this operations and returns an error if the operation did not execute successfully.
func (es *EndSessions) Execute(ctx context.Context) error {
	if es.Deployment == nil {
		return errors.New("the EndSessions operation must have a Deployment set before Execute can be called")
	}

	return driver.Operation{
		CommandFn:  es.command,
		Client:     es.Session,
		Clock:      es.Clock,
		Database:   "admin",
		Deployment: es.Deployment,
		Selector:   es.Selector,
		Type:       driver.Read,
		Name:       "endSessions",
	}.Execute(ctx)
}

func (es *EndSessions) command(dst []byte, _ description.SelectedServer) ([]byte, error) {
	if es.SessionIDs != nil {
		dst = bsoncore.AppendArrayElement(dst, "endSessions", es.SessionIDs)
	}
	return dst, nil
}
