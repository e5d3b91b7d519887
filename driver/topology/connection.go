// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver/address"
	"github.com/ikmak/mongocore/driver/description"
)

// Transport is the opaque wire collaborator: it accepts a fully assembled
// command document and returns the server's reply document. Framing,
// compression and authentication live behind this boundary.
type Transport interface {
	// RoundTrip sends the command and waits for the reply.
	RoundTrip(ctx context.Context, cmd bsoncore.Document) (bsoncore.Document, error)
	// Send sends the command without waiting for a reply. Used for
	// unacknowledged writes, where the server was asked not to respond.
	Send(ctx context.Context, cmd bsoncore.Document) error
	// Close tears down the underlying channel.
	Close() error
}

// TransportFactory dials a new transport to the given address.
type TransportFactory func(ctx context.Context, addr address.Address) (Transport, error)

// connection is a single network channel to one server. While idle it is
// owned exclusively by the pool; ownership transfers to whichever caller
// checks it out and returns on check-in.
type connection struct {
	id         string
	addr       address.Address
	transport  Transport
	pool       *pool
	generation uint64

	// state is accessed atomically: a connection may be perished by a
	// round-trip failure on the checkout-holder's goroutine while the pool
	// inspects it during maintenance.
	state int32

	// checkedIn guards the pool slot: the semaphore weight for this checkout
	// is released exactly once no matter how many times Close/Expire run.
	checkedIn int32
}

const (
	connHealthy int32 = iota
	connPerished
	connClosed
)

var _ interface {
	RoundTrip(context.Context, bsoncore.Document) (bsoncore.Document, error)
} = (*connection)(nil)

func (c *connection) ID() string {
	return c.id
}

func (c *connection) Address() address.Address {
	return c.addr
}

// Description returns the description of the server this connection points
// at, as last reported by the monitoring layer.
func (c *connection) Description() description.Server {
	if c.pool == nil || c.pool.server == nil {
		return description.Server{Addr: c.addr}
	}
	return c.pool.server.Description()
}

// RoundTrip sends the command document and returns the reply document. A
// transport failure perishes the connection: it will be destroyed rather than
// recycled when it comes back to the pool.
func (c *connection) RoundTrip(ctx context.Context, cmd bsoncore.Document) (bsoncore.Document, error) {
	if atomic.LoadInt32(&c.state) != connHealthy {
		return nil, ConnectionError{ConnectionID: c.id, Wrapped: ErrConnectionClosed}
	}
	reply, err := c.transport.RoundTrip(ctx, cmd)
	if err != nil {
		atomic.CompareAndSwapInt32(&c.state, connHealthy, connPerished)
		return nil, ConnectionError{ConnectionID: c.id, Wrapped: err, message: "round trip failed"}
	}
	return reply, nil
}

// Send sends the command without waiting for a reply.
func (c *connection) Send(ctx context.Context, cmd bsoncore.Document) error {
	if atomic.LoadInt32(&c.state) != connHealthy {
		return ConnectionError{ConnectionID: c.id, Wrapped: ErrConnectionClosed}
	}
	if err := c.transport.Send(ctx, cmd); err != nil {
		atomic.CompareAndSwapInt32(&c.state, connHealthy, connPerished)
		return ConnectionError{ConnectionID: c.id, Wrapped: err, message: "send failed"}
	}
	return nil
}

// Alive returns true if the connection has not been closed or perished.
func (c *connection) Alive() bool {
	return atomic.LoadInt32(&c.state) == connHealthy
}

// Close returns the connection to its pool. Healthy connections are recycled;
// perished ones are destroyed. Safe to call more than once.
func (c *connection) Close() error {
	return c.pool.checkIn(c)
}

// Expire destroys the connection instead of recycling it, releasing its pool
// slot. Cursors and change streams that took ownership of a connection call
// this when they finish, so stale stream state never leaks back into the pool.
func (c *connection) Expire() error {
	atomic.CompareAndSwapInt32(&c.state, connHealthy, connPerished)
	return c.pool.checkIn(c)
}

func (c *connection) closeTransport() error {
	if atomic.SwapInt32(&c.state, connClosed) == connClosed {
		return nil
	}
	return c.transport.Close()
}

func (c *connection) String() string {
	return fmt.Sprintf("connection(%s[%s])", c.addr, c.id)
}
