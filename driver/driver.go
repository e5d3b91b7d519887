// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package driver contains the operation execution engine: the types that turn
// a command description into a fully decorated command document, dispatch it
// over a pooled connection, classify the outcome and retry when permitted.
package driver

import (
	"context"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver/address"
	"github.com/ikmak/mongocore/driver/description"
)

// Deployment is implemented by types that can select a server from a
// deployment.
type Deployment interface {
	SelectServer(context.Context, description.ServerSelector) (Server, error)
	Kind() description.TopologyKind
	SupportsSessions() bool
}

// Server represents a MongoDB server. Implementations pool connections and
// handle the retrieving and returning of connections.
type Server interface {
	Connection(context.Context) (Connection, error)
}

// Connection represents a connection to a MongoDB server. RoundTrip and Send
// accept a fully assembled command document; framing below the document level
// is the transport's concern.
type Connection interface {
	RoundTrip(ctx context.Context, cmd bsoncore.Document) (bsoncore.Document, error)
	Send(ctx context.Context, cmd bsoncore.Document) error
	Description() description.Server
	Close() error
	ID() string
	Address() address.Address
}

// Expirable represents an expirable connection. A cursor or change stream
// that retains its connection expires it on teardown so in-flight stream
// state never returns to the pool.
type Expirable interface {
	Expire() error
	Alive() bool
}

// ErrorProcessor implementations can handle processing errors, which may
// modify their internal state. If this type is implemented by a Server, then
// Operation.Execute will call its ProcessError method after each dispatch.
type ErrorProcessor interface {
	ProcessError(err error, conn Connection)
}

// SingleServerDeployment is an implementation of Deployment that always
// returns a single server.
type SingleServerDeployment struct{ Server Server }

// SelectServer implements the Deployment interface. This method does not use
// the description.ServerSelector provided and instead returns the embedded
// Server.
func (ssd SingleServerDeployment) SelectServer(context.Context, description.ServerSelector) (Server, error) {
	return ssd.Server, nil
}

// Kind implements the Deployment interface. It always returns
// description.Single.
func (SingleServerDeployment) Kind() description.TopologyKind { return description.Single }

// SupportsSessions implements the Deployment interface.
func (SingleServerDeployment) SupportsSessions() bool { return true }

// SingleConnectionDeployment is an implementation of Deployment that always
// returns the same Connection. Cursors use this to run getMore commands on
// the connection their results live on.
type SingleConnectionDeployment struct{ C Connection }

// SelectServer implements the Deployment interface. This method does not use
// the description.ServerSelector provided and instead returns a Server that
// always hands back the embedded Connection.
func (scd SingleConnectionDeployment) SelectServer(context.Context, description.ServerSelector) (Server, error) {
	return scd, nil
}

// Kind implements the Deployment interface. It always returns
// description.Single.
func (SingleConnectionDeployment) Kind() description.TopologyKind { return description.Single }

// SupportsSessions implements the Deployment interface.
func (SingleConnectionDeployment) SupportsSessions() bool { return true }

// Connection implements the Server interface. It always returns the embedded
// connection.
func (scd SingleConnectionDeployment) Connection(context.Context) (Connection, error) {
	return nopCloserConnection{scd.C}, nil
}

// nopCloserConnection shields a retained connection from the executor's
// check-in: the retaining cursor, not the operation, decides when the
// connection goes back to the pool.
type nopCloserConnection struct{ Connection }

func (ncc nopCloserConnection) Close() error { return nil }

// Type specifies whether an operation is a read, write, or unknown.
type Type uint

// THese are the availables types of Type.
const (
	_ Type = iota
	Write
	Read
)

// RetryablePoolError is a connection pool error that can be retried while
// executing an operation.
type RetryablePoolError interface {
	Retryable() bool
}

// labeledError is an error that can have error labels added to it.
type labeledError interface {
	error
	HasErrorLabel(string) bool
}

// RetryMode specifies the way that retries are handled for retryable
// operations.
type RetryMode uint

// These are the modes available for retrying.
const (
	// RetryNone disables retrying.
	RetryNone RetryMode = iota
	// RetryOnce will enable retrying the entire operation once.
	RetryOnce
	// RetryOncePerCommand will enable retrying each command associated with an
	// operation, e.g. the getMores on a cursor.
	RetryOncePerCommand
	// RetryContext will enable retrying until the context.Context's deadline
	// is exceeded or it is cancelled.
	RetryContext
)

// Enabled returns if this RetryMode enables retrying.
func (rm RetryMode) Enabled() bool {
	return rm == RetryOnce || rm == RetryOncePerCommand || rm == RetryContext
}
