// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/operation"
	"github.com/ikmak/mongocore/driver/session"
	"github.com/ikmak/mongocore/driver/topology"
	"github.com/ikmak/mongocore/driver/uuid"
	"github.com/ikmak/mongocore/mongo/options"
	"github.com/ikmak/mongocore/mongo/readconcern"
	"github.com/ikmak/mongocore/mongo/readpref"
	"github.com/ikmak/mongocore/mongo/writeconcern"
)

const defaultMaxPoolSize = 100

// Client is a handle representing a pool of connections to a MongoDB
// deployment. It is safe for concurrent use by multiple goroutines.
//
// A Client routes every operation through a shared operation executor: the
// executor selects a server, checks a connection out of that server's pool,
// attaches session and causal-consistency metadata, and maps errors into the
// public taxonomy.
type Client struct {
	id             uuid.UUID
	deployment     driver.Deployment
	topology       *topology.Topology
	clock          *session.ClusterClock
	sessionPool    *session.Pool
	readConcern    *readconcern.ReadConcern
	writeConcern   *writeconcern.WriteConcern
	readPreference *readpref.ReadPref
	retryWrites    bool
	retryReads     bool
	log            logrus.FieldLogger
}

// NewClient creates a new client to connect to a deployment specified by the
// given options. The client must be connected with Connect before use.
func NewClient(opts ...*options.ClientOptions) (*Client, error) {
	clientOpts := options.MergeClientOptions(opts...)

	id, err := uuid.New()
	if err != nil {
		return nil, err
	}

	client := &Client{
		id:             id,
		clock:          new(session.ClusterClock),
		readPreference: readpref.Primary(),
		retryWrites:    true,
		retryReads:     true,
		log:            logrus.StandardLogger(),
	}
	if clientOpts.RetryWrites != nil {
		client.retryWrites = *clientOpts.RetryWrites
	}
	if clientOpts.RetryReads != nil {
		client.retryReads = *clientOpts.RetryReads
	}
	if clientOpts.ReadConcern != nil {
		client.readConcern = clientOpts.ReadConcern
	}
	if clientOpts.WriteConcern != nil {
		client.writeConcern = clientOpts.WriteConcern
	}
	if clientOpts.ReadPreference != nil {
		client.readPreference = clientOpts.ReadPreference
	}
	if clientOpts.Logger != nil {
		client.log = clientOpts.Logger
	}

	if clientOpts.Deployment != nil {
		// Injected deployment, typically a test fake. There is no topology to
		// manage and the session timeout is taken on faith.
		client.deployment = clientOpts.Deployment
		client.sessionPool = session.NewPool(30)
		return client, nil
	}

	maxPoolSize := uint64(defaultMaxPoolSize)
	if clientOpts.MaxPoolSize != nil {
		maxPoolSize = *clientOpts.MaxPoolSize
	}
	var waitQueueTimeout time.Duration
	if clientOpts.WaitQueueTimeout != nil {
		waitQueueTimeout = *clientOpts.WaitQueueTimeout
	}

	topo, err := topology.New(topology.Config{
		Servers:          clientOpts.Servers,
		Kind:             clientOpts.TopologyKind,
		MaxPoolSize:      maxPoolSize,
		WaitQueueTimeout: waitQueueTimeout,
		Factory:          clientOpts.Transport,
		Logger:           client.log,
	})
	if err != nil {
		return nil, err
	}

	client.topology = topo
	client.deployment = topo
	client.sessionPool = session.NewPool(topo.SessionTimeoutMinutes())
	return client, nil
}

// Connect initializes the Client by starting background monitoring goroutines
// for its topology, if it owns one.
func (c *Client) Connect() error {
	if c.topology == nil {
		return nil
	}
	return c.topology.Connect()
}

// Disconnect closes sockets to the deployment. The pooled server sessions are
// ended with a best-effort endSessions command first. In-flight operations on
// checked-out connections are left to complete.
func (c *Client) Disconnect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.endSessions(ctx)
	if c.topology == nil {
		return nil
	}
	return replaceErrors(c.topology.Disconnect(ctx))
}

// endSessions tells the deployment to discard the server-side state of every
// pooled session. Failures are logged, not surfaced: the sessions would
// expire on their own anyway.
func (c *Client) endSessions(ctx context.Context) {
	if c.sessionPool == nil {
		return
	}
	ids := c.sessionPool.IDSlices()
	if len(ids) == 0 {
		return
	}

	// The endSessions command accepts at most 10000 ids per invocation.
	const batch = 10000
	for start := 0; start < len(ids); start += batch {
		end := start + batch
		if end > len(ids) {
			end = len(ids)
		}

		aidx, arr := bsoncore.AppendArrayStart(nil)
		for i, id := range ids[start:end] {
			arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), id)
		}
		arr, _ = bsoncore.AppendArrayEnd(arr, aidx)

		op := operation.EndSessions{
			SessionIDs: arr,
			Deployment: c.deployment,
			Clock:      c.clock,
		}
		if err := op.Execute(ctx); err != nil {
			c.log.WithError(err).Warn("failed to end pooled sessions")
		}
	}
}

// StartSession starts a new session configured with the given options.
// Sessions are not safe for concurrent use.
func (c *Client) StartSession(opts ...*options.SessionOptions) (*Session, error) {
	if c.sessionPool == nil {
		return nil, ErrClientDisconnected
	}
	sopts := options.MergeSessionOptions(opts...)

	coreOpts := &session.ClientOptions{
		CausalConsistency:     sopts.CausalConsistency,
		DefaultReadConcern:    c.readConcern,
		DefaultReadPreference: c.readPreference,
		DefaultWriteConcern:   c.writeConcern,
		Snapshot:              sopts.Snapshot,
	}
	if sopts.DefaultReadConcern != nil {
		coreOpts.DefaultReadConcern = sopts.DefaultReadConcern
	}
	if sopts.DefaultReadPreference != nil {
		coreOpts.DefaultReadPreference = sopts.DefaultReadPreference
	}
	if sopts.DefaultWriteConcern != nil {
		coreOpts.DefaultWriteConcern = sopts.DefaultWriteConcern
	}

	clientSession, err := session.NewClientSession(c.sessionPool, c.id, session.Explicit, coreOpts)
	if err != nil {
		return nil, replaceErrors(err)
	}

	return &Session{clientSession: clientSession, client: c}, nil
}

// validSession checks that the session, if any, was created by this client.
func (c *Client) validSession(sess *session.Client) error {
	if sess != nil && !uuid.Equal(sess.ClientID, c.id) {
		return ErrWrongClient
	}
	return nil
}

// Database returns a handle for a database with the given name.
func (c *Client) Database(name string, opts ...*options.DatabaseOptions) *Database {
	return newDatabase(c, name, opts...)
}

// Ping sends a ping command to verify that the client can connect to the
// deployment.
func (c *Client) Ping(ctx context.Context, rp *readpref.ReadPref) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if rp == nil {
		rp = c.readPreference
	}

	db := c.Database("admin")
	res := db.RunCommand(ctx, bsoncore.NewDocumentBuilder().AppendInt32("ping", 1).Build(),
		&options.RunCmdOptions{ReadPreference: rp})
	return replaceErrors(res.Err())
}

// Watch begins watching for changes across all databases and collections of
// the deployment.
func (c *Client) Watch(ctx context.Context, pipeline interface{}, opts ...*options.ChangeStreamOptions) (*ChangeStream, error) {
	if err := c.validSession(sessionFromContext(ctx)); err != nil {
		return nil, err
	}

	csConfig := changeStreamConfig{
		readConcern:    c.readConcern,
		readPreference: c.readPreference,
		client:         c,
		streamType:     ClientStream,
		databaseName:   "admin",
	}
	return newChangeStream(ctx, csConfig, pipeline, opts...)
}

// retryWritesEnabled reports whether supported writes run with a transaction
// number and a single automatic retry.
func (c *Client) retryWritesEnabled() bool {
	return c.retryWrites
}
