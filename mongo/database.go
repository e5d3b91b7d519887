// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/description"
	"github.com/ikmak/mongocore/driver/operation"
	"github.com/ikmak/mongocore/driver/session"
	"github.com/ikmak/mongocore/mongo/options"
	"github.com/ikmak/mongocore/mongo/readconcern"
	"github.com/ikmak/mongocore/mongo/readpref"
	"github.com/ikmak/mongocore/mongo/writeconcern"
)

// Database is a handle to a MongoDB database. It is safe for concurrent use.
type Database struct {
	client         *Client
	name           string
	readConcern    *readconcern.ReadConcern
	writeConcern   *writeconcern.WriteConcern
	readPreference *readpref.ReadPref
	readSelector   description.ServerSelector
	writeSelector  description.ServerSelector
}

func newDatabase(client *Client, name string, opts ...*options.DatabaseOptions) *Database {
	dbOpt := options.MergeDatabaseOptions(opts...)

	rc := client.readConcern
	if dbOpt.ReadConcern != nil {
		rc = dbOpt.ReadConcern
	}
	rp := client.readPreference
	if dbOpt.ReadPreference != nil {
		rp = dbOpt.ReadPreference
	}
	wc := client.writeConcern
	if dbOpt.WriteConcern != nil {
		wc = dbOpt.WriteConcern
	}

	return &Database{
		client:         client,
		name:           name,
		readConcern:    rc,
		writeConcern:   wc,
		readPreference: rp,
		readSelector:   description.ReadPrefSelector(rp),
		writeSelector:  description.WriteSelector(),
	}
}

// Client returns the Client the Database was created from.
func (db *Database) Client() *Client { return db.client }

// Name returns the name of the database.
func (db *Database) Name() string { return db.name }

// Collection returns a handle for a collection with the given name.
func (db *Database) Collection(name string, opts ...*options.CollectionOptions) *Collection {
	return newCollection(db, name, opts...)
}

// RunCommand executes the given command against the database and returns its
// result as a SingleResult.
func (db *Database) RunCommand(ctx context.Context, runCommand interface{}, opts ...*options.RunCmdOptions) *SingleResult {
	if ctx == nil {
		ctx = context.Background()
	}

	sess := sessionFromContext(ctx)
	if err := db.client.validSession(sess); err != nil {
		return &SingleResult{err: err}
	}

	cmd, err := marshal(runCommand)
	if err != nil {
		return &SingleResult{err: err}
	}

	ro := options.MergeRunCmdOptions(append([]*options.RunCmdOptions{{ReadPreference: readpref.Primary()}}, opts...)...)
	// Transactions run every command with the transaction's read preference.
	if sess != nil && sess.TransactionRunning() {
		ro.ReadPreference = sess.CurrentRp
	}

	op := operation.Command{
		Command:        cmd,
		Database:       db.name,
		Deployment:     db.client.deployment,
		ReadConcern:    db.readConcern,
		ReadPreference: ro.ReadPreference,
		Selector:       description.ReadPrefSelector(ro.ReadPreference),
		Session:        sess,
		Clock:          db.client.clock,
	}

	err = op.Execute(ctx)
	// RunCommand returns the server response even on a command failure so
	// callers can inspect raw fields like writeErrors.
	return &SingleResult{
		err: replaceErrors(err),
		rdr: bson.Raw(op.Result()),
	}
}

// Drop drops the database on the server.
func (db *Database) Drop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	sess := sessionFromContext(ctx)
	if err := db.client.validSession(sess); err != nil {
		return err
	}
	closeImplicitSession := false
	if sess == nil && db.client.sessionPool != nil {
		var err error
		sess, err = session.NewClientSession(db.client.sessionPool, db.client.id, session.Implicit)
		if err != nil {
			return err
		}
		closeImplicitSession = true
	}
	if closeImplicitSession {
		defer sess.EndSession()
	}

	wc := db.writeConcern
	if sess != nil && sess.TransactionRunning() {
		wc = nil
	}

	op := operation.DropDatabase{
		Database:     db.name,
		Deployment:   db.client.deployment,
		Selector:     db.writeSelector,
		WriteConcern: wc,
		Session:      sess,
		Clock:        db.client.clock,
	}
	return replaceErrors(op.Execute(ctx))
}

// ListCollections returns a cursor over the collections of the database.
func (db *Database) ListCollections(ctx context.Context, filter interface{}, opts ...*options.ListCollectionsOptions) (*Cursor, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	filterDoc, err := marshal(filter)
	if err != nil {
		return nil, err
	}

	sess := sessionFromContext(ctx)
	if err := db.client.validSession(sess); err != nil {
		return nil, err
	}
	closeImplicitSession := false
	if sess == nil && db.client.sessionPool != nil {
		sess, err = session.NewClientSession(db.client.sessionPool, db.client.id, session.Implicit)
		if err != nil {
			return nil, err
		}
		closeImplicitSession = true
	}

	lco := options.MergeListCollectionsOptions(opts...)

	var retry *driver.RetryMode
	if db.client.retryReads {
		rt := driver.RetryOncePerCommand
		retry = &rt
	}

	op := operation.ListCollections{
		Filter:         filterDoc,
		NameOnly:       lco.NameOnly,
		BatchSize:      lco.BatchSize,
		Database:       db.name,
		Deployment:     db.client.deployment,
		Selector:       db.readSelector,
		ReadPreference: db.readPreference,
		Session:        sess,
		Clock:          db.client.clock,
		Retry:          retry,
	}

	if err := op.Execute(ctx); err != nil {
		if closeImplicitSession {
			sess.EndSession()
		}
		return nil, replaceErrors(err)
	}

	var cursorOpts driver.CursorOptions
	if lco.BatchSize != nil {
		cursorOpts.BatchSize = *lco.BatchSize
	}
	bc, err := op.Result(cursorOpts)
	if err != nil {
		if closeImplicitSession {
			sess.EndSession()
		}
		return nil, replaceErrors(err)
	}

	// The name-only projection happens client side: raw reply documents are
	// streamed and reduced to their name element without typed decoding.
	nameOnly := lco.NameOnly != nil && *lco.NameOnly
	lcbc, err := driver.NewListCollectionsBatchCursor(bc, nameOnly)
	if err != nil {
		if closeImplicitSession {
			sess.EndSession()
		}
		return nil, replaceErrors(err)
	}

	cursorSess := sess
	if !closeImplicitSession {
		cursorSess = nil // explicit sessions are ended by their owner
	}
	return newCursor(lcbc, cursorSess), nil
}

// ListCollectionNames returns the collection names of the database. It uses
// the nameOnly fast path, so no full specification documents are decoded.
func (db *Database) ListCollectionNames(ctx context.Context, filter interface{}, opts ...*options.ListCollectionsOptions) ([]string, error) {
	nameOnly := true
	opts = append(opts, &options.ListCollectionsOptions{NameOnly: &nameOnly})

	cur, err := db.ListCollections(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	names := make([]string, 0)
	for cur.Next(ctx) {
		name, err := cur.Current.LookupErr("name")
		if err != nil {
			return nil, err
		}
		nameStr, ok := name.StringValueOK()
		if !ok {
			return nil, errors.New("expected 'name' to be a string")
		}
		names = append(names, nameStr)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	return names, nil
}

// Aggregate executes an aggregate command against the database, for stages
// that do not read from a collection, such as $currentOp.
func (db *Database) Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*Cursor, error) {
	return aggregate(ctx, aggregateParams{
		client:         db.client,
		pipeline:       pipeline,
		db:             db.name,
		readConcern:    db.readConcern,
		writeConcern:   db.writeConcern,
		readPreference: db.readPreference,
		readSelector:   db.readSelector,
		writeSelector:  db.writeSelector,
		opts:           opts,
	})
}

// Watch begins watching for changes on all collections of the database.
func (db *Database) Watch(ctx context.Context, pipeline interface{}, opts ...*options.ChangeStreamOptions) (*ChangeStream, error) {
	if err := db.client.validSession(sessionFromContext(ctx)); err != nil {
		return nil, err
	}

	csConfig := changeStreamConfig{
		readConcern:    db.readConcern,
		readPreference: db.readPreference,
		client:         db.client,
		streamType:     DatabaseStream,
		databaseName:   db.name,
	}
	return newChangeStream(ctx, csConfig, pipeline, opts...)
}
