// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package options defines the option types for the mongo package. Option
// structs carry pointer fields; nil means unset. Merge functions implement
// last-one-wins precedence so callers can layer defaults under overrides.
package options

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/description"
	"github.com/ikmak/mongocore/driver/topology"
	"github.com/ikmak/mongocore/mongo/readconcern"
	"github.com/ikmak/mongocore/mongo/readpref"
	"github.com/ikmak/mongocore/mongo/writeconcern"
)

// ClientOptions contains options to configure a Client instance.
type ClientOptions struct {
	// Servers is the static set of servers the client's topology is built
	// from. Discovery and monitoring are out of scope: the descriptions given
	// here are used as-is for server selection.
	Servers []description.Server

	// TopologyKind describes the deployment the servers form.
	TopologyKind description.TopologyKind

	// Transport dials the wire transport for new connections.
	Transport topology.TransportFactory

	// MaxPoolSize is the maximum number of connections allowed in each
	// server's pool. The default is 100.
	MaxPoolSize *uint64

	// WaitQueueTimeout bounds how long a connection checkout waits on an
	// exhausted pool.
	WaitQueueTimeout *time.Duration

	// RetryWrites enables a single automatic retry of supported write
	// operations after a retryable error. The default is true.
	RetryWrites *bool

	// RetryReads enables a single automatic retry of supported read
	// operations after a retryable error. The default is true.
	RetryReads *bool

	ReadConcern    *readconcern.ReadConcern
	WriteConcern   *writeconcern.WriteConcern
	ReadPreference *readpref.ReadPref

	// Logger receives structured logs from the client and its pools. The
	// standard logger is used when unset.
	Logger logrus.FieldLogger

	// Deployment overrides the topology built from Servers. This option is
	// for testing: operations are dispatched against the given deployment and
	// Connect/Disconnect do not manage any pools.
	Deployment driver.Deployment
}

// Client creates a new ClientOptions instance.
func Client() *ClientOptions {
	return &ClientOptions{}
}

// MergeClientOptions combines the given ClientOptions, with later options
// overriding earlier ones.
func MergeClientOptions(opts ...*ClientOptions) *ClientOptions {
	c := Client()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.Servers != nil {
			c.Servers = opt.Servers
		}
		if opt.TopologyKind != 0 {
			c.TopologyKind = opt.TopologyKind
		}
		if opt.Transport != nil {
			c.Transport = opt.Transport
		}
		if opt.MaxPoolSize != nil {
			c.MaxPoolSize = opt.MaxPoolSize
		}
		if opt.WaitQueueTimeout != nil {
			c.WaitQueueTimeout = opt.WaitQueueTimeout
		}
		if opt.RetryWrites != nil {
			c.RetryWrites = opt.RetryWrites
		}
		if opt.RetryReads != nil {
			c.RetryReads = opt.RetryReads
		}
		if opt.ReadConcern != nil {
			c.ReadConcern = opt.ReadConcern
		}
		if opt.WriteConcern != nil {
			c.WriteConcern = opt.WriteConcern
		}
		if opt.ReadPreference != nil {
			c.ReadPreference = opt.ReadPreference
		}
		if opt.Logger != nil {
			c.Logger = opt.Logger
		}
		if opt.Deployment != nil {
			c.Deployment = opt.Deployment
		}
	}
	return c
}
