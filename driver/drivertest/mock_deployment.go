// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package drivertest provides fakes for testing operation execution without a
// server. A MockConnection replays scripted responses and records the command
// documents written to it.
package drivertest

import (
	"context"
	"errors"
	"sync"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/address"
	"github.com/ikmak/mongocore/driver/description"
)

// MockConnection implements the driver.Connection interface by replaying
// scripted responses. Each RoundTrip consumes one entry from Responses and
// appends the command document to Written.
type MockConnection struct {
	mu        sync.Mutex
	Written   []bsoncore.Document
	Responses []ScriptedResponse
	Sent      []bsoncore.Document
	Desc      description.Server
	Addr      address.Address
	Closed    bool
	Expired   bool
}

// ScriptedResponse is a single reply a MockConnection returns from RoundTrip.
// If Err is non-nil it is returned instead of Doc.
type ScriptedResponse struct {
	Doc bsoncore.Document
	Err error
}

var _ driver.Connection = (*MockConnection)(nil)
var _ driver.Expirable = (*MockConnection)(nil)

// RoundTrip implements the driver.Connection interface.
func (mc *MockConnection) RoundTrip(_ context.Context, cmd bsoncore.Document) (bsoncore.Document, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	b := make(bsoncore.Document, len(cmd))
	copy(b, cmd)
	mc.Written = append(mc.Written, b)

	if len(mc.Responses) == 0 {
		return nil, errors.New("no scripted response available")
	}
	resp := mc.Responses[0]
	mc.Responses = mc.Responses[1:]
	return resp.Doc, resp.Err
}

// Send implements the driver.Connection interface.
func (mc *MockConnection) Send(_ context.Context, cmd bsoncore.Document) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	b := make(bsoncore.Document, len(cmd))
	copy(b, cmd)
	mc.Sent = append(mc.Sent, b)
	return nil
}

// Description implements the driver.Connection interface.
func (mc *MockConnection) Description() description.Server { return mc.Desc }

// Close implements the driver.Connection interface.
func (mc *MockConnection) Close() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.Closed = true
	return nil
}

// ID implements the driver.Connection interface.
func (mc *MockConnection) ID() string { return "faked" }

// Address implements the driver.Connection interface.
func (mc *MockConnection) Address() address.Address { return mc.Addr }

// Expire implements the driver.Expirable interface.
func (mc *MockConnection) Expire() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.Expired = true
	mc.Closed = true
	return nil
}

// Alive implements the driver.Expirable interface.
func (mc *MockConnection) Alive() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return !mc.Closed
}

// CommandName returns the name of the ith command written to the connection.
func (mc *MockConnection) CommandName(i int) string {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if i >= len(mc.Written) {
		return ""
	}
	elems, err := mc.Written[i].Elements()
	if err != nil || len(elems) == 0 {
		return ""
	}
	return elems[0].Key()
}

// MockServer implements the driver.Server interface, handing out the
// configured connection.
type MockServer struct {
	Conn *MockConnection
	Desc description.Server
}

var _ driver.Server = (*MockServer)(nil)

// Connection implements the driver.Server interface.
func (ms *MockServer) Connection(context.Context) (driver.Connection, error) {
	return ms.Conn, nil
}

// MockDeployment implements the driver.Deployment interface. Server selection
// always returns the configured server.
type MockDeployment struct {
	Server       *MockServer
	TopologyKind description.TopologyKind
	Sessions     bool
}

var _ driver.Deployment = (*MockDeployment)(nil)

// SelectServer implements the driver.Deployment interface.
func (md *MockDeployment) SelectServer(context.Context, description.ServerSelector) (driver.Server, error) {
	return md.Server, nil
}

// Kind implements the driver.Deployment interface.
func (md *MockDeployment) Kind() description.TopologyKind { return md.TopologyKind }

// SupportsSessions implements the driver.Deployment interface.
func (md *MockDeployment) SupportsSessions() bool { return md.Sessions }

// NewMockDeployment creates a deployment around a single replica set primary
// that supports sessions and retryable writes, returning the deployment and
// its connection. Responses are consumed in order by successive commands.
func NewMockDeployment(responses ...ScriptedResponse) (*MockDeployment, *MockConnection) {
	desc := description.Server{
		Addr: address.Address("localhost:27017"),
		Kind: description.RSPrimary,
		WireVersion: &description.VersionRange{
			Min: 6,
			Max: 21,
		},
		SessionTimeoutMinutes: 30,
	}
	conn := &MockConnection{
		Responses: responses,
		Desc:      desc,
		Addr:      desc.Addr,
	}
	server := &MockServer{Conn: conn, Desc: desc}
	return &MockDeployment{
		Server:       server,
		TopologyKind: description.ReplicaSetWithPrimary,
		Sessions:     true,
	}, conn
}
