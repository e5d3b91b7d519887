// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package topology owns the connection, pool and deployment types. Server
// discovery and monitoring is out of scope here: a Topology is built from a
// static set of server descriptions and an injected selection policy, and
// only provides the Deployment surface the operation layer consumes.
package topology

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/address"
	"github.com/ikmak/mongocore/driver/description"
)

// Config holds the options for constructing a Topology.
type Config struct {
	Servers          []description.Server
	Kind             description.TopologyKind
	MaxPoolSize      uint64
	WaitQueueTimeout time.Duration
	Factory          TransportFactory
	Logger           logrus.FieldLogger
}

// Topology is a static deployment of one or more servers. It implements
// driver.Deployment.
type Topology struct {
	desc    description.Topology
	servers map[address.Address]*Server

	mu       sync.Mutex
	refCount int
	closed   bool
}

// New creates a Topology from the given configuration.
func New(cfg Config) (*Topology, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("topology requires at least one server")
	}

	var sessionTimeout uint32
	servers := make(map[address.Address]*Server, len(cfg.Servers))
	for _, desc := range cfg.Servers {
		srvr, err := NewServer(desc, poolConfig{
			MaxPoolSize:      cfg.MaxPoolSize,
			WaitQueueTimeout: cfg.WaitQueueTimeout,
			Factory:          cfg.Factory,
			Logger:           cfg.Logger,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create server %s", desc.Addr)
		}
		servers[desc.Addr] = srvr
		if desc.SessionTimeoutMinutes != 0 &&
			(sessionTimeout == 0 || desc.SessionTimeoutMinutes < sessionTimeout) {
			sessionTimeout = desc.SessionTimeoutMinutes
		}
	}

	return &Topology{
		desc: description.Topology{
			Kind:                  cfg.Kind,
			Servers:               cfg.Servers,
			SessionTimeoutMinutes: sessionTimeout,
		},
		servers: servers,
	}, nil
}

// Connect readies the topology for use. Connect and Disconnect are reference
// counted so several clients can share one topology: the pools are torn down
// only when the last client disconnects.
func (t *Topology) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTopologyClosed
	}
	t.refCount++
	return nil
}

// Disconnect releases one reference to the topology, closing every server
// pool when the count reaches zero. Disconnecting an unconnected topology is
// an error.
func (t *Topology) Disconnect(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.refCount == 0 {
		return errors.New("topology is not connected")
	}
	t.refCount--
	if t.refCount > 0 {
		return nil
	}
	t.closed = true
	for _, srvr := range t.servers {
		srvr.Close()
	}
	return nil
}

// Description returns the topology's description.
func (t *Topology) Description() description.Topology {
	return t.desc
}

// Kind returns the topology kind.
func (t *Topology) Kind() description.TopologyKind {
	return t.desc.Kind
}

// SupportsSessions returns true if every data-bearing server in the
// deployment is session-aware.
func (t *Topology) SupportsSessions() bool {
	return t.desc.SessionTimeoutMinutes != 0
}

// SessionTimeoutMinutes returns the logical session timeout of the deployment.
func (t *Topology) SessionTimeoutMinutes() uint32 {
	return t.desc.SessionTimeoutMinutes
}

// SelectServer chooses a server using the given selector and returns its
// driver.Server. When the selector admits several servers one is chosen at
// random, which spreads load without requiring latency bookkeeping here.
func (t *Topology) SelectServer(_ context.Context, selector description.ServerSelector) (driver.Server, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrTopologyClosed
	}

	candidates, err := selector.SelectServer(t.desc, t.desc.Servers)
	if err != nil {
		return nil, ServerSelectionError{Desc: t.desc, Wrapped: err}
	}
	if len(candidates) == 0 {
		return nil, ServerSelectionError{Desc: t.desc, Wrapped: ErrServerSelectionFailed}
	}

	chosen := candidates[rand.Intn(len(candidates))]
	srvr, ok := t.servers[chosen.Addr]
	if !ok {
		return nil, ServerSelectionError{Desc: t.desc, Wrapped: errors.Errorf("selected unknown server %s", chosen.Addr)}
	}
	return srvr, nil
}

// Server returns the server for the given address, for callers that must
// route to a pinned server.
func (t *Topology) Server(addr address.Address) (driver.Server, error) {
	srvr, ok := t.servers[addr]
	if !ok {
		return nil, ServerSelectionError{Desc: t.desc, Wrapped: errors.Errorf("no server for address %s", addr)}
	}
	return srvr, nil
}

var _ driver.Deployment = (*Topology)(nil)
