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

// RenameCollection performs a renameCollection operation. It always runs
// against the admin database because the source and target namespaces may
// live in different databases.
type RenameCollection struct {
	// From is the full namespace of the collection to rename.
	From string

	// To is the full namespace to rename the collection to.
	To string

	// DropTarget specifies whether an existing collection at the target
	// namespace is dropped first.
	DropTarget *bool

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
func (rc *RenameCollection) Execute(ctx context.Context) error {
	if rc.Deployment == nil {
		return errors.New("the RenameCollection operation must have a Deployment set before Execute can be called")
	}

	return driver.Operation{
		CommandFn:    rc.command,
		Type:         driver.Write,
		Client:       rc.Session,
		Clock:        rc.Clock,
		Database:     "admin",
		Deployment:   rc.Deployment,
		Selector:     rc.Selector,
		WriteConcern: rc.WriteConcern,
		Name:         "renameCollection",
	}.Execute(ctx)
}

func (rc *RenameCollection) command(dst []byte, _ description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "renameCollection", rc.From)
	dst = bsoncore.AppendStringElement(dst, "to", rc.To)
	if rc.DropTarget != nil {
		dst = bsoncore.AppendBooleanElement(dst, "dropTarget", *rc.DropTarget)
	}
	return dst, nil
}
