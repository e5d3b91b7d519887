// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/description"
	"github.com/ikmak/mongocore/driver/operation"
	"github.com/ikmak/mongocore/driver/session"
	"github.com/ikmak/mongocore/mongo/options"
	"github.com/ikmak/mongocore/mongo/readconcern"
	"github.com/ikmak/mongocore/mongo/readpref"
	"github.com/ikmak/mongocore/mongo/writeconcern"
)

// ErrUnacknowledgedSession is returned when an unacknowledged write is
// attempted under an explicit session. Unacknowledged writes produce no
// server reply, so the session's causal tokens could never advance.
var ErrUnacknowledgedSession = errors.New("explicit sessions cannot be used with unacknowledged writes")

// Collection is a handle to a MongoDB collection. It is safe for concurrent
// use.
type Collection struct {
	client         *Client
	db             *Database
	name           string
	readConcern    *readconcern.ReadConcern
	writeConcern   *writeconcern.WriteConcern
	readPreference *readpref.ReadPref
	readSelector   description.ServerSelector
	writeSelector  description.ServerSelector
}

func newCollection(db *Database, name string, opts ...*options.CollectionOptions) *Collection {
	collOpt := options.MergeCollectionOptions(opts...)

	rc := db.readConcern
	if collOpt.ReadConcern != nil {
		rc = collOpt.ReadConcern
	}
	wc := db.writeConcern
	if collOpt.WriteConcern != nil {
		wc = collOpt.WriteConcern
	}
	rp := db.readPreference
	if collOpt.ReadPreference != nil {
		rp = collOpt.ReadPreference
	}

	return &Collection{
		client:         db.client,
		db:             db,
		name:           name,
		readConcern:    rc,
		writeConcern:   wc,
		readPreference: rp,
		readSelector:   description.ReadPrefSelector(rp),
		writeSelector:  description.WriteSelector(),
	}
}

// Clone creates a copy of the Collection configured with the given options.
// Unset options inherit the original's configuration.
func (coll *Collection) Clone(opts ...*options.CollectionOptions) *Collection {
	copied := *coll
	collOpt := options.MergeCollectionOptions(opts...)
	if collOpt.ReadConcern != nil {
		copied.readConcern = collOpt.ReadConcern
	}
	if collOpt.WriteConcern != nil {
		copied.writeConcern = collOpt.WriteConcern
	}
	if collOpt.ReadPreference != nil {
		copied.readPreference = collOpt.ReadPreference
		copied.readSelector = description.ReadPrefSelector(collOpt.ReadPreference)
	}
	return &copied
}

// Name returns the name of the collection.
func (coll *Collection) Name() string { return coll.name }

// Database returns the Database the collection belongs to.
func (coll *Collection) Database() *Database { return coll.db }

// Indexes returns an IndexView for the collection.
func (coll *Collection) Indexes() IndexView { return IndexView{coll: coll} }

// startSession resolves the session for an operation: the session bound to
// ctx if any, otherwise a new implicit session. The returned cleanup must be
// deferred; it ends only sessions this call created.
func (coll *Collection) startSession(ctx context.Context) (*session.Client, func(), error) {
	sess := sessionFromContext(ctx)
	if err := coll.client.validSession(sess); err != nil {
		return nil, nil, err
	}
	if sess != nil || coll.client.sessionPool == nil {
		return sess, func() {}, nil
	}
	sess, err := session.NewClientSession(coll.client.sessionPool, coll.client.id, session.Implicit)
	if err != nil {
		return nil, nil, err
	}
	return sess, sess.EndSession, nil
}

// writeContext resolves the session and effective write concern for a write
// operation. Inside a transaction the write concern is omitted: the
// transaction's own concern, applied at commit, governs. Unacknowledged
// writes never use a session.
func (coll *Collection) writeContext(ctx context.Context) (*session.Client, *writeconcern.WriteConcern, func(), error) {
	sess, cleanup, err := coll.startSession(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	wc := coll.writeConcern
	if sess.TransactionRunning() {
		wc = nil
	}
	if !wc.Acknowledged() {
		if sess != nil && !sess.IsImplicit {
			cleanup()
			return nil, nil, nil, ErrUnacknowledgedSession
		}
		cleanup()
		return nil, wc, func() {}, nil
	}
	return sess, wc, cleanup, nil
}

func (coll *Collection) writeRetry() *driver.RetryMode {
	if !coll.client.retryWritesEnabled() {
		return nil
	}
	rt := driver.RetryOncePerCommand
	return &rt
}

func (coll *Collection) readRetry() *driver.RetryMode {
	if !coll.client.retryReads {
		return nil
	}
	rt := driver.RetryOncePerCommand
	return &rt
}

// InsertOne executes an insert command to insert a single document into the
// collection. A document without an _id gets a generated ObjectID.
func (coll *Collection) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*InsertOneResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	doc, err := marshal(document)
	if err != nil {
		return nil, err
	}
	doc, insertedID, err := ensureID(doc)
	if err != nil {
		return nil, err
	}

	sess, wc, cleanup, err := coll.writeContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	io := options.MergeInsertOneOptions(opts...)
	op := operation.Insert{
		Documents:                []bsoncore.Document{doc},
		BypassDocumentValidation: io.BypassDocumentValidation,
		Collection:               coll.name,
		Database:                 coll.db.name,
		Deployment:               coll.client.deployment,
		Selector:                 coll.writeSelector,
		WriteConcern:             wc,
		Session:                  sess,
		Clock:                    coll.client.clock,
		Retry:                    coll.writeRetry(),
	}

	acknowledged, err := processWriteError(op.Execute(ctx))
	if err != nil {
		return nil, err
	}
	if !acknowledged {
		return &InsertOneResult{InsertedID: insertedID}, nil
	}
	return &InsertOneResult{InsertedID: insertedID, Acknowledged: true}, nil
}

// InsertMany executes an insert command to insert multiple documents into the
// collection. On a partial failure the successfully inserted ids are still
// returned alongside the BulkWriteException.
func (coll *Collection) InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*InsertManyResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(documents) == 0 {
		return nil, ErrEmptySlice
	}

	docs := make([]bsoncore.Document, 0, len(documents))
	ids := make([]interface{}, 0, len(documents))
	for i, document := range documents {
		if document == nil {
			return nil, fmt.Errorf("document at index %d is nil", i)
		}
		doc, err := marshal(document)
		if err != nil {
			return nil, err
		}
		doc, id, err := ensureID(doc)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
		ids = append(ids, id)
	}

	sess, wc, cleanup, err := coll.writeContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	imo := options.MergeInsertManyOptions(opts...)
	op := operation.Insert{
		Documents:                docs,
		Ordered:                  imo.Ordered,
		BypassDocumentValidation: imo.BypassDocumentValidation,
		Collection:               coll.name,
		Database:                 coll.db.name,
		Deployment:               coll.client.deployment,
		Selector:                 coll.writeSelector,
		WriteConcern:             wc,
		Session:                  sess,
		Clock:                    coll.client.clock,
		Retry:                    coll.writeRetry(),
	}

	execErr := op.Execute(ctx)
	if execErr == driver.ErrUnacknowledgedWrite {
		return &InsertManyResult{InsertedIDs: ids}, nil
	}

	result := &InsertManyResult{InsertedIDs: ids, Acknowledged: true}
	if execErr == nil {
		return result, nil
	}

	wce, ok := execErr.(driver.WriteCommandError)
	if !ok {
		return nil, replaceErrors(execErr)
	}

	// Remove the ids of failed inserts and surface the partial failure.
	failed := make(map[int64]struct{}, len(wce.WriteErrors))
	bwErrs := make([]BulkWriteError, 0, len(wce.WriteErrors))
	for _, we := range wce.WriteErrors {
		failed[we.Index] = struct{}{}
		bwErrs = append(bwErrs, BulkWriteError{
			WriteError: WriteError{
				Index:   int(we.Index),
				Code:    int(we.Code),
				Message: we.Message,
			},
		})
	}
	kept := result.InsertedIDs[:0]
	for i, id := range result.InsertedIDs {
		if _, ok := failed[int64(i)]; !ok {
			kept = append(kept, id)
		}
	}
	result.InsertedIDs = kept

	return result, BulkWriteException{
		WriteErrors:       bwErrs,
		WriteConcernError: convertDriverWriteConcernError(wce.WriteConcernError),
		Labels:            wce.Labels,
	}
}

func (coll *Collection) delete(ctx context.Context, filter interface{}, deleteOne bool, opts ...*options.DeleteOptions) (*DeleteResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	f, err := marshal(filter)
	if err != nil {
		return nil, err
	}

	limit := int32(0)
	if deleteOne {
		limit = 1
	}
	didx, stmt := bsoncore.AppendDocumentStart(nil)
	stmt = bsoncore.AppendDocumentElement(stmt, "q", f)
	stmt = bsoncore.AppendInt32Element(stmt, "limit", limit)
	stmt, _ = bsoncore.AppendDocumentEnd(stmt, didx)

	sess, wc, cleanup, err := coll.writeContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	do := options.MergeDeleteOptions(opts...)

	// Multi-document deletes are not idempotent and never retry.
	var retry *driver.RetryMode
	if deleteOne {
		retry = coll.writeRetry()
	}

	op := operation.Delete{
		Deletes:      []bsoncore.Document{stmt},
		Ordered:      do.Ordered,
		Collection:   coll.name,
		Database:     coll.db.name,
		Deployment:   coll.client.deployment,
		Selector:     coll.writeSelector,
		WriteConcern: wc,
		Session:      sess,
		Clock:        coll.client.clock,
		Retry:        retry,
	}

	acknowledged, err := processWriteError(op.Execute(ctx))
	if err != nil {
		return nil, err
	}
	if !acknowledged {
		return &DeleteResult{}, nil
	}
	return &DeleteResult{DeletedCount: op.Result().N, Acknowledged: true}, nil
}

// DeleteOne executes a delete command to delete at most one document from the
// collection.
func (coll *Collection) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*DeleteResult, error) {
	return coll.delete(ctx, filter, true, opts...)
}

// DeleteMany executes a delete command to delete all documents matching the
// filter.
func (coll *Collection) DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*DeleteResult, error) {
	return coll.delete(ctx, filter, false, opts...)
}

func (coll *Collection) updateOrReplace(ctx context.Context, filter, update bsoncore.Document, multi, upsert *bool,
	bypass *bool, retryable bool) (*UpdateResult, error) {

	uidx, stmt := bsoncore.AppendDocumentStart(nil)
	stmt = bsoncore.AppendDocumentElement(stmt, "q", filter)
	stmt = bsoncore.AppendDocumentElement(stmt, "u", update)
	if multi != nil {
		stmt = bsoncore.AppendBooleanElement(stmt, "multi", *multi)
	}
	if upsert != nil {
		stmt = bsoncore.AppendBooleanElement(stmt, "upsert", *upsert)
	}
	stmt, _ = bsoncore.AppendDocumentEnd(stmt, uidx)

	sess, wc, cleanup, err := coll.writeContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var retry *driver.RetryMode
	if retryable {
		retry = coll.writeRetry()
	}

	op := operation.Update{
		Updates:                  []bsoncore.Document{stmt},
		BypassDocumentValidation: bypass,
		Collection:               coll.name,
		Database:                 coll.db.name,
		Deployment:               coll.client.deployment,
		Selector:                 coll.writeSelector,
		WriteConcern:             wc,
		Session:                  sess,
		Clock:                    coll.client.clock,
		Retry:                    retry,
	}

	acknowledged, err := processWriteError(op.Execute(ctx))
	if err != nil {
		return nil, err
	}
	if !acknowledged {
		return &UpdateResult{}, nil
	}

	opRes := op.Result()
	res := &UpdateResult{
		MatchedCount:  opRes.N,
		ModifiedCount: opRes.NModified,
		UpsertedCount: int64(len(opRes.Upserted)),
		Acknowledged:  true,
	}
	if len(opRes.Upserted) > 0 {
		res.UpsertedID = opRes.Upserted[0].ID
		res.MatchedCount--
	}
	return res, nil
}

// UpdateOne executes an update command to update at most one document in the
// collection. The update document must contain only update operators.
func (coll *Collection) UpdateOne(ctx context.Context, filter, update interface{}, opts ...*options.UpdateOptions) (*UpdateResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	f, err := marshal(filter)
	if err != nil {
		return nil, err
	}
	u, err := marshal(update)
	if err != nil {
		return nil, err
	}
	if err := ensureDollarKey(u); err != nil {
		return nil, err
	}

	uo := options.MergeUpdateOptions(opts...)
	return coll.updateOrReplace(ctx, f, u, nil, uo.Upsert, uo.BypassDocumentValidation, true)
}

// UpdateMany executes an update command to update all documents matching the
// filter. Multi-document updates are not retryable.
func (coll *Collection) UpdateMany(ctx context.Context, filter, update interface{}, opts ...*options.UpdateOptions) (*UpdateResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	f, err := marshal(filter)
	if err != nil {
		return nil, err
	}
	u, err := marshal(update)
	if err != nil {
		return nil, err
	}
	if err := ensureDollarKey(u); err != nil {
		return nil, err
	}

	multi := true
	uo := options.MergeUpdateOptions(opts...)
	return coll.updateOrReplace(ctx, f, u, &multi, uo.Upsert, uo.BypassDocumentValidation, false)
}

// ReplaceOne executes an update command to replace at most one document in
// the collection. The replacement document cannot contain update operators.
func (coll *Collection) ReplaceOne(ctx context.Context, filter, replacement interface{}, opts ...*options.ReplaceOptions) (*UpdateResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	f, err := marshal(filter)
	if err != nil {
		return nil, err
	}
	r, err := marshal(replacement)
	if err != nil {
		return nil, err
	}
	if err := ensureNoDollarKey(r); err != nil {
		return nil, err
	}

	ro := options.MergeReplaceOptions(opts...)
	return coll.updateOrReplace(ctx, f, r, nil, ro.Upsert, ro.BypassDocumentValidation, true)
}

// Find executes a find command and returns a Cursor over the matching
// documents.
func (coll *Collection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*Cursor, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	f, err := marshal(filter)
	if err != nil {
		return nil, err
	}

	sess, cleanup, err := coll.startSession(ctx)
	if err != nil {
		return nil, err
	}
	ownsSession := sess != nil && sess.IsImplicit

	fo := options.MergeFindOptions(opts...)

	op := operation.Find{
		Filter:         f,
		Skip:           fo.Skip,
		BatchSize:      fo.BatchSize,
		Collection:     coll.name,
		Database:       coll.db.name,
		Deployment:     coll.client.deployment,
		Selector:       coll.readSelector,
		ReadConcern:    coll.readConcern,
		ReadPreference: coll.readPreference,
		Session:        sess,
		Clock:          coll.client.clock,
		Retry:          coll.readRetry(),
	}

	cursorOpts := driver.CursorOptions{}
	if fo.Sort != nil {
		op.Sort, err = marshal(fo.Sort)
		if err != nil {
			cleanup()
			return nil, err
		}
	}
	if fo.Projection != nil {
		op.Projection, err = marshal(fo.Projection)
		if err != nil {
			cleanup()
			return nil, err
		}
	}
	if fo.Limit != nil {
		limit := *fo.Limit
		if limit < 0 {
			// A negative limit requests a single batch of at most -limit
			// documents.
			limit = -limit
			singleBatch := true
			op.SingleBatch = &singleBatch
		}
		op.Limit = &limit
		cursorOpts.Limit = int32(limit)
	}
	if fo.BatchSize != nil {
		cursorOpts.BatchSize = *fo.BatchSize
	}
	if fo.MaxTime != nil {
		maxTimeMS := fo.MaxTime.Milliseconds()
		op.MaxTimeMS = &maxTimeMS
	}

	if err := op.Execute(ctx); err != nil {
		cleanup()
		return nil, replaceErrors(err)
	}

	bc, err := op.Result(cursorOpts)
	if err != nil {
		cleanup()
		return nil, replaceErrors(err)
	}
	if ownsSession {
		return newCursor(bc, sess), nil
	}
	return newCursor(bc, nil), nil
}

// FindOne executes a find command with a limit of one and returns the
// matching document, if any, as a SingleResult.
func (coll *Collection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOptions) *SingleResult {
	if ctx == nil {
		ctx = context.Background()
	}

	limit := int64(-1)
	findOpts := append([]*options.FindOptions{}, opts...)
	findOpts = append(findOpts, &options.FindOptions{Limit: &limit})

	cursor, err := coll.Find(ctx, filter, findOpts...)
	return &SingleResult{cur: cursor, err: replaceErrors(err)}
}

// Aggregate executes an aggregate command against the collection. Pipelines
// ending in $out or $merge are routed like writes and never retried.
func (coll *Collection) Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*Cursor, error) {
	return aggregate(ctx, aggregateParams{
		client:         coll.client,
		pipeline:       pipeline,
		db:             coll.db.name,
		col:            coll.name,
		readConcern:    coll.readConcern,
		writeConcern:   coll.writeConcern,
		readPreference: coll.readPreference,
		readSelector:   coll.readSelector,
		writeSelector:  coll.writeSelector,
		opts:           opts,
	})
}

// Drop drops the collection on the server. Dropping a collection that does
// not exist is a success: the server's namespace-not-found error is
// swallowed.
func (coll *Collection) Drop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	sess, wc, cleanup, err := coll.writeContext(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	op := operation.DropCollection{
		Collection:   coll.name,
		Database:     coll.db.name,
		Deployment:   coll.client.deployment,
		Selector:     coll.writeSelector,
		WriteConcern: wc,
		Session:      sess,
		Clock:        coll.client.clock,
	}

	err = op.Execute(ctx)
	if de, ok := err.(driver.Error); ok && de.NamespaceNotFound() {
		return nil
	}
	return replaceErrors(err)
}

// Rename renames the collection and returns a handle for the new name. The
// new handle keeps this collection's configured read concern, write concern
// and read preference.
func (coll *Collection) Rename(ctx context.Context, newName string, dropTarget bool) (*Collection, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	sess, wc, cleanup, err := coll.writeContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	op := operation.RenameCollection{
		From:         coll.db.name + "." + coll.name,
		To:           coll.db.name + "." + newName,
		DropTarget:   &dropTarget,
		Deployment:   coll.client.deployment,
		Selector:     coll.writeSelector,
		WriteConcern: wc,
		Session:      sess,
		Clock:        coll.client.clock,
	}
	if err := op.Execute(ctx); err != nil {
		return nil, replaceErrors(err)
	}

	renamed := coll.Clone()
	renamed.name = newName
	return renamed, nil
}

// Watch begins watching for changes on the collection.
func (coll *Collection) Watch(ctx context.Context, pipeline interface{}, opts ...*options.ChangeStreamOptions) (*ChangeStream, error) {
	if err := coll.client.validSession(sessionFromContext(ctx)); err != nil {
		return nil, err
	}

	csConfig := changeStreamConfig{
		readConcern:    coll.readConcern,
		readPreference: coll.readPreference,
		client:         coll.client,
		streamType:     CollectionStream,
		collectionName: coll.name,
		databaseName:   coll.db.name,
	}
	return newChangeStream(ctx, csConfig, pipeline, opts...)
}

// aggregateParams carries the handle-level configuration an aggregate needs,
// so databases and collections share one implementation.
type aggregateParams struct {
	client         *Client
	pipeline       interface{}
	db             string
	col            string
	readConcern    *readconcern.ReadConcern
	writeConcern   *writeconcern.WriteConcern
	readPreference *readpref.ReadPref
	readSelector   description.ServerSelector
	writeSelector  description.ServerSelector
	opts           []*options.AggregateOptions
}

func aggregate(ctx context.Context, a aggregateParams) (*Cursor, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	pipelineArr, hasOutputStage, err := marshalAggregatePipeline(a.pipeline)
	if err != nil {
		return nil, err
	}

	sess := sessionFromContext(ctx)
	if err := a.client.validSession(sess); err != nil {
		return nil, err
	}
	ownsSession := false
	if sess == nil && a.client.sessionPool != nil {
		sess, err = session.NewClientSession(a.client.sessionPool, a.client.id, session.Implicit)
		if err != nil {
			return nil, err
		}
		ownsSession = true
	}
	cleanupOnError := func() {
		if ownsSession {
			sess.EndSession()
		}
	}

	wc := a.writeConcern
	if sess.TransactionRunning() {
		wc = nil
	}

	selector := a.readSelector
	if hasOutputStage {
		selector = a.writeSelector
	}

	ao := options.MergeAggregateOptions(a.opts...)

	var retry *driver.RetryMode
	if a.client.retryReads && !hasOutputStage {
		rt := driver.RetryOncePerCommand
		retry = &rt
	}

	op := operation.Aggregate{
		Pipeline:       pipelineArr,
		AllowDiskUse:   ao.AllowDiskUse,
		BatchSize:      ao.BatchSize,
		Collection:     a.col,
		Database:       a.db,
		Deployment:     a.client.deployment,
		Selector:       selector,
		ReadConcern:    a.readConcern,
		ReadPreference: a.readPreference,
		WriteConcern:   wc,
		HasOutputStage: hasOutputStage,
		Session:        sess,
		Clock:          a.client.clock,
		Retry:          retry,
	}

	cursorOpts := driver.CursorOptions{}
	if ao.BatchSize != nil {
		cursorOpts.BatchSize = *ao.BatchSize
	}
	if ao.MaxTime != nil {
		maxTimeMS := ao.MaxTime.Milliseconds()
		op.MaxTimeMS = &maxTimeMS
	}

	if err := op.Execute(ctx); err != nil {
		cleanupOnError()
		if wce, ok := err.(driver.WriteCommandError); ok && wce.WriteConcernError != nil {
			return nil, convertDriverWriteCommandError(wce)
		}
		return nil, replaceErrors(err)
	}

	bc, err := op.Result(cursorOpts)
	if err != nil {
		cleanupOnError()
		return nil, replaceErrors(err)
	}
	if ownsSession {
		return newCursor(bc, sess), nil
	}
	return newCursor(bc, nil), nil
}
