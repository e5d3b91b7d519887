// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"errors"
	"strconv"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/description"
	"github.com/ikmak/mongocore/driver/operation"
	"github.com/ikmak/mongocore/driver/session"
	"github.com/ikmak/mongocore/mongo/options"
	"github.com/ikmak/mongocore/mongo/readconcern"
	"github.com/ikmak/mongocore/mongo/readpref"
)

// StreamType represents the cluster level a change stream watches.
type StreamType uint8

// These constants represent valid change stream types. A change stream can be
// initialized over a collection, all collections in a database, or over a
// cluster.
const (
	CollectionStream StreamType = iota
	DatabaseStream
	ClientStream
)

// changeStreamConfig holds the handle-level configuration a change stream is
// created with, kept so the watch can be re-issued on resume.
type changeStreamConfig struct {
	readConcern    *readconcern.ReadConcern
	readPreference *readpref.ReadPref
	client         *Client
	streamType     StreamType
	collectionName string
	databaseName   string
}

// ChangeStream is used to iterate over a stream of events. Each event is a
// change to a watched collection, database or deployment. A ChangeStream
// masks resumable failures: after a transient error the watch is transparently
// re-issued from the last known resume token. A ChangeStream is not safe for
// concurrent use.
type ChangeStream struct {
	// Current is the BSON bytes of the current event. This property is only
	// valid until the next call to Next or TryNext.
	Current bson.Raw

	aggregate     *operation.Aggregate
	pipelineSlice []bsoncore.Document
	cursorOptions driver.CursorOptions
	cursor        *driver.BatchCursor
	batch         []bsoncore.Document
	resumeToken   bson.Raw
	err           error
	config        changeStreamConfig
	options       *options.ChangeStreamOptions
	sess          *session.Client
	ownsSession   bool
	closed        bool
	log           logrus.FieldLogger
}

func newChangeStream(ctx context.Context, config changeStreamConfig, pipeline interface{},
	opts ...*options.ChangeStreamOptions) (*ChangeStream, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cs := &ChangeStream{
		config:  config,
		options: options.MergeChangeStreamOptions(opts...),
		log:     config.client.log,
	}

	cs.sess = sessionFromContext(ctx)
	if cs.sess == nil && config.client.sessionPool != nil {
		var err error
		cs.sess, err = session.NewClientSession(config.client.sessionPool, config.client.id, session.Implicit)
		if err != nil {
			return nil, err
		}
		cs.ownsSession = true
	}

	csDb := config.databaseName
	csColl := config.collectionName
	if config.streamType == ClientStream {
		csDb = "admin"
		csColl = ""
	}

	cs.aggregate = &operation.Aggregate{
		Collection:     csColl,
		Database:       csDb,
		Deployment:     config.client.deployment,
		Selector:       description.ReadPrefSelector(config.readPreference),
		ReadConcern:    config.readConcern,
		ReadPreference: config.readPreference,
		Session:        cs.sess,
		Clock:          config.client.clock,
	}

	if cs.options.BatchSize != nil {
		cs.aggregate.BatchSize = cs.options.BatchSize
		cs.cursorOptions.BatchSize = *cs.options.BatchSize
	}
	if cs.options.MaxAwaitTime != nil {
		cs.cursorOptions.MaxTimeMS = cs.options.MaxAwaitTime.Milliseconds()
	}

	// The caller-provided resume position seeds the token so the first run
	// and any later resume share one code path.
	if cs.options.StartAfter != nil {
		token, err := marshal(cs.options.StartAfter)
		if err != nil {
			cs.cleanupSession()
			return nil, err
		}
		cs.resumeToken = bson.Raw(token)
	} else if cs.options.ResumeAfter != nil {
		token, err := marshal(cs.options.ResumeAfter)
		if err != nil {
			cs.cleanupSession()
			return nil, err
		}
		cs.resumeToken = bson.Raw(token)
	}

	if err := cs.buildPipelineSlice(pipeline); err != nil {
		cs.cleanupSession()
		return nil, err
	}

	if err := cs.executeOperation(ctx, false); err != nil {
		cs.cleanupSession()
		return nil, err
	}
	return cs, nil
}

// buildPipelineSlice marshals the user pipeline stages once; the
// $changeStream stage is rebuilt for every (re-)issue of the watch.
func (cs *ChangeStream) buildPipelineSlice(pipeline interface{}) error {
	arr, _, err := marshalAggregatePipeline(pipeline)
	if err != nil {
		return err
	}
	values, err := bsoncore.Document(arr).Values()
	if err != nil {
		return err
	}

	cs.pipelineSlice = make([]bsoncore.Document, 0, len(values))
	for _, val := range values {
		stage, ok := val.DocumentOK()
		if !ok {
			return errors.New("pipeline stages must be documents")
		}
		cs.pipelineSlice = append(cs.pipelineSlice, stage)
	}
	return nil
}

// createPipelineOptionsDoc builds the $changeStream stage document. When
// resuming, the stream position is the last observed resume token.
func (cs *ChangeStream) createPipelineOptionsDoc(resuming bool) bsoncore.Document {
	plIdx, plDoc := bsoncore.AppendDocumentStart(nil)

	if cs.config.streamType == ClientStream {
		plDoc = bsoncore.AppendBooleanElement(plDoc, "allChangesForCluster", true)
	}
	if cs.options.FullDocument != nil && *cs.options.FullDocument != options.Default {
		plDoc = bsoncore.AppendStringElement(plDoc, "fullDocument", string(*cs.options.FullDocument))
	}

	switch {
	case resuming && cs.resumeToken != nil:
		plDoc = bsoncore.AppendDocumentElement(plDoc, "resumeAfter", bsoncore.Document(cs.resumeToken))
	case cs.options.StartAfter != nil && cs.resumeToken != nil:
		plDoc = bsoncore.AppendDocumentElement(plDoc, "startAfter", bsoncore.Document(cs.resumeToken))
	case cs.options.ResumeAfter != nil && cs.resumeToken != nil:
		plDoc = bsoncore.AppendDocumentElement(plDoc, "resumeAfter", bsoncore.Document(cs.resumeToken))
	}

	plDoc, _ = bsoncore.AppendDocumentEnd(plDoc, plIdx)
	return plDoc
}

func (cs *ChangeStream) pipelineDoc(resuming bool) bsoncore.Document {
	csStage := bsoncore.BuildDocumentFromElements(nil,
		bsoncore.AppendDocumentElement(nil, "$changeStream", cs.createPipelineOptionsDoc(resuming)))

	aidx, arr := bsoncore.AppendArrayStart(nil)
	arr = bsoncore.AppendDocumentElement(arr, "0", csStage)
	for i, stage := range cs.pipelineSlice {
		arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i+1), stage)
	}
	arr, _ = bsoncore.AppendArrayEnd(arr, aidx)
	return arr
}

func (cs *ChangeStream) executeOperation(ctx context.Context, resuming bool) error {
	cs.aggregate.Pipeline = cs.pipelineDoc(resuming)

	if err := cs.aggregate.Execute(ctx); err != nil {
		return replaceErrors(err)
	}

	cr := cs.aggregate.ResultCursorResponse()
	cursor, err := driver.NewBatchCursor(cr, cs.sess, cs.config.client.clock, cs.cursorOptions)
	if err != nil {
		return replaceErrors(err)
	}
	cs.cursor = cursor

	// An empty first batch means no event-carried token yet; the server's
	// post batch resume token marks the stream position instead.
	cs.updatePbrtFromCursor()
	return nil
}

func (cs *ChangeStream) updatePbrtFromCursor() {
	pbrt := cs.cursor.PostBatchResumeToken()
	if len(pbrt) == 0 {
		return
	}
	cs.resumeToken = bson.Raw(pbrt)
}

// storeResumeToken extracts the resume token from the given event document.
// The token only advances after an event has been successfully decoded.
func (cs *ChangeStream) storeResumeToken(doc bsoncore.Document) error {
	tokenDoc, err := doc.LookupErr("_id")
	if err != nil {
		_ = cs.Close(context.Background())
		return ErrMissingResumeToken
	}
	token, ok := tokenDoc.DocumentOK()
	if !ok {
		_ = cs.Close(context.Background())
		return ErrMissingResumeToken
	}

	cs.resumeToken = make(bson.Raw, len(token))
	copy(cs.resumeToken, token)
	return nil
}

// Next gets the next event for this change stream, blocking until an event is
// available, an unresumable error occurs, or the context expires.
func (cs *ChangeStream) Next(ctx context.Context) bool {
	return cs.next(ctx, false)
}

// TryNext attempts to get the next event for this change stream. It returns
// false without blocking when no event is currently available.
func (cs *ChangeStream) TryNext(ctx context.Context) bool {
	return cs.next(ctx, true)
}

func (cs *ChangeStream) next(ctx context.Context, nonBlocking bool) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if cs.err != nil || cs.closed {
		return false
	}

	if len(cs.batch) == 0 {
		cs.loopNext(ctx, nonBlocking)
		if cs.err != nil || len(cs.batch) == 0 {
			return false
		}
	}

	doc := cs.batch[0]
	cs.batch = cs.batch[1:]
	if cs.err = cs.storeResumeToken(doc); cs.err != nil {
		return false
	}
	cs.Current = bson.Raw(doc)
	return true
}

func (cs *ChangeStream) loopNext(ctx context.Context, nonBlocking bool) {
	for {
		if cs.cursor == nil {
			return
		}

		if cs.cursor.Next(ctx) {
			cs.batch, cs.err = cs.cursor.Batch().Documents()
			if cs.err != nil || len(cs.batch) > 0 {
				return
			}
			// Empty batch, but the server's stream position may have moved.
			cs.updatePbrtFromCursor()
			if nonBlocking {
				return
			}
			continue
		}

		cursorErr := cs.cursor.Err()
		if cursorErr == nil {
			// A quiet cursor: nothing new on the stream right now.
			cs.updatePbrtFromCursor()
			if cs.cursor.ID() == 0 || nonBlocking {
				return
			}
			if ctx.Err() != nil {
				cs.err = ctx.Err()
				return
			}
			continue
		}

		if !isResumableChangeStreamError(cursorErr) {
			cs.err = replaceErrors(cursorErr)
			return
		}

		cs.log.WithFields(logrus.Fields{
			"database":   cs.config.databaseName,
			"collection": cs.config.collectionName,
			"error":      cursorErr,
		}).Info("change stream encountered a resumable error, reopening")

		// Best effort teardown of the dead cursor; the watch is then
		// re-issued from the last known token.
		_ = cs.cursor.Close(ctx)
		if cs.err = cs.executeOperation(ctx, true); cs.err != nil {
			return
		}
	}
}

// isResumableChangeStreamError classifies getMore failures. Network faults,
// CursorNotFound and errors the server explicitly labeled resumable restart
// the stream; everything else surfaces to the caller.
func isResumableChangeStreamError(err error) bool {
	de, ok := err.(driver.Error)
	if !ok {
		return false
	}
	return de.NetworkError() || de.CursorNotFound() || de.HasErrorLabel(driver.ResumableChangeStreamError)
}

// Decode unmarshals the current event into val.
func (cs *ChangeStream) Decode(val interface{}) error {
	if cs.cursor == nil {
		return ErrNilCursor
	}
	return bson.Unmarshal(cs.Current, val)
}

// Err returns the last error seen by the change stream, or nil.
func (cs *ChangeStream) Err() error {
	if cs.err != nil {
		return replaceErrors(cs.err)
	}
	if cs.cursor == nil {
		return nil
	}
	return replaceErrors(cs.cursor.Err())
}

// ID returns the ID of the underlying cursor, or 0 if the change stream has
// been closed or exhausted.
func (cs *ChangeStream) ID() int64 {
	if cs.cursor == nil {
		return 0
	}
	return cs.cursor.ID()
}

// ResumeToken returns the last cached resume token for this change stream, or
// nil if one has not yet been observed.
func (cs *ChangeStream) ResumeToken() bson.Raw {
	return cs.resumeToken
}

// Close closes the change stream, killing any open server-side cursor. Close
// is idempotent.
func (cs *ChangeStream) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cs.closed {
		return nil
	}
	cs.closed = true

	defer cs.cleanupSession()
	if cs.cursor == nil {
		return nil
	}
	return replaceErrors(cs.cursor.Close(ctx))
}

func (cs *ChangeStream) cleanupSession() {
	if cs.ownsSession && cs.sess != nil {
		cs.sess.EndSession()
	}
}
