// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver/description"
	"github.com/ikmak/mongocore/driver/session"
)

// CursorResponse represents the response from a command the results of which
// are returned using a cursor.
type CursorResponse struct {
	Server Server
	Desc   description.Server

	// Connection is the connection the cursor's server-side state lives on.
	// It is only set while the cursor is open (ID != 0); the cursor assumes
	// ownership and every getMore runs on it.
	Connection Connection

	FirstBatch           *bsoncore.DocumentSequence
	Namespace            Namespace
	ID                   int64
	postBatchResumeToken bsoncore.Document
}

// NewCursorResponse constructs a cursor response from the given response and
// response info. If the server left the cursor open, the executing connection
// is retained: the cursor owns it until the cursor is exhausted or closed.
func NewCursorResponse(response bsoncore.Document, info *ResponseInfo) (CursorResponse, error) {
	cur, err := response.LookupErr("cursor")
	if err != nil {
		return CursorResponse{}, fmt.Errorf("cursor should be an embedded document but is BSON type %s", cur.Type)
	}
	curDoc, ok := cur.DocumentOK()
	if !ok {
		return CursorResponse{}, fmt.Errorf("cursor should be an embedded document but is BSON type %s", cur.Type)
	}
	elems, err := curDoc.Elements()
	if err != nil {
		return CursorResponse{}, err
	}

	curresp := CursorResponse{Server: info.Server, Desc: info.ConnectionDescription}
	for _, elem := range elems {
		switch elem.Key() {
		case "firstBatch":
			arr, ok := elem.Value().ArrayOK()
			if !ok {
				return CursorResponse{}, fmt.Errorf("firstBatch should be an array but is a BSON %s", elem.Value().Type)
			}
			curresp.FirstBatch = &bsoncore.DocumentSequence{Style: bsoncore.ArrayStyle, Data: arr}
		case "id":
			curresp.ID, ok = elem.Value().Int64OK()
			if !ok {
				return CursorResponse{}, fmt.Errorf("id should be an int64 but it is a BSON %s", elem.Value().Type)
			}
		case "ns":
			ns, ok := elem.Value().StringValueOK()
			if !ok {
				return CursorResponse{}, fmt.Errorf("ns should be a string but it is a BSON %s", elem.Value().Type)
			}
			curresp.Namespace = ParseNamespace(ns)
			if err := curresp.Namespace.Validate(); err != nil {
				return CursorResponse{}, err
			}
		case "postBatchResumeToken":
			token, ok := elem.Value().DocumentOK()
			if !ok {
				return CursorResponse{}, fmt.Errorf("post batch resume token should be a document but it is a BSON %s", elem.Value().Type)
			}
			curresp.postBatchResumeToken = make(bsoncore.Document, len(token))
			copy(curresp.postBatchResumeToken, token)
		}
	}

	if curresp.ID != 0 {
		info.RetainConnection()
		curresp.Connection = info.Connection
	}
	return curresp, nil
}

// CursorOptions are extra options that are required to construct a BatchCursor.
type CursorOptions struct {
	BatchSize int32
	MaxTimeMS int64
	Limit     int32
}

// BatchCursor is a batch implementation of a cursor. It returns documents in
// entire batches instead of one at a time. An individual document cursor can
// be built on top of this batch cursor.
type BatchCursor struct {
	clientSession *session.Client
	clock         *session.ClusterClock
	database      string
	collection    string
	id            int64
	err           error
	server        Server
	desc          description.Server
	connection    Connection
	batchSize     int32
	maxTimeMS     int64
	currentBatch  *bsoncore.DocumentSequence
	firstBatch    bool

	numReturned int32
	limit       int32

	postBatchResumeToken bsoncore.Document
}

// NewBatchCursor creates a new BatchCursor from the provided parameters.
func NewBatchCursor(cr CursorResponse, clientSession *session.Client, clock *session.ClusterClock, opts CursorOptions) (*BatchCursor, error) {
	ds := cr.FirstBatch
	bc := &BatchCursor{
		clientSession:        clientSession,
		clock:                clock,
		database:             cr.Namespace.DB,
		collection:           cr.Namespace.Collection,
		id:                   cr.ID,
		server:               cr.Server,
		desc:                 cr.Desc,
		connection:           cr.Connection,
		batchSize:            opts.BatchSize,
		maxTimeMS:            opts.MaxTimeMS,
		limit:                opts.Limit,
		firstBatch:           true,
		postBatchResumeToken: cr.postBatchResumeToken,
	}

	if ds == nil {
		ds = new(bsoncore.DocumentSequence)
	}
	bc.currentBatch = ds
	bc.numReturned = int32(ds.DocumentCount())

	// The first batch already satisfied the limit, so the server-side cursor
	// is of no further use.
	if bc.limit != 0 && bc.numReturned >= bc.limit && bc.id != 0 {
		err := bc.KillCursor(context.Background())
		bc.id = 0
		bc.releaseConnection()
		if err != nil {
			return nil, err
		}
	}
	return bc, nil
}

// NewEmptyBatchCursor returns a batch cursor that is already exhausted.
func NewEmptyBatchCursor() *BatchCursor {
	return &BatchCursor{currentBatch: new(bsoncore.DocumentSequence)}
}

// ID returns the cursor ID for this batch cursor.
func (bc *BatchCursor) ID() int64 {
	return bc.id
}

// Next indicates if there is another batch available. Returning false does
// not necessarily indicate that the cursor is closed or finished; the current
// batch may be empty while a getMore would produce more. Check Err after Next
// returns false to distinguish failure from a quiet cursor.
func (bc *BatchCursor) Next(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if bc.firstBatch {
		bc.firstBatch = false
		return !bc.currentBatch.Empty()
	}

	if bc.id == 0 {
		return false
	}

	bc.getMore(ctx)

	return !bc.currentBatch.Empty()
}

// Batch will return a DocumentSequence for the current batch of documents.
// The returned DocumentSequence is only valid until the next call to Next or
// Close.
func (bc *BatchCursor) Batch() *bsoncore.DocumentSequence {
	return bc.currentBatch
}

// Err returns the latest error encountered.
func (bc *BatchCursor) Err() error {
	return bc.err
}

// Close closes this batch cursor. Any open server-side cursor is killed on
// the connection the cursor owns, and the connection is then expired rather
// than recycled.
func (bc *BatchCursor) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	err := bc.KillCursor(ctx)
	bc.id = 0
	bc.currentBatch.Data = nil
	bc.currentBatch.Style = 0
	bc.currentBatch.Pos = 0

	bc.releaseConnection()
	return err
}

// releaseConnection gives up the cursor's owned connection. The connection
// carried stream state for a cursor that no longer exists, so it must not be
// recycled into the pool.
func (bc *BatchCursor) releaseConnection() {
	if bc.connection == nil {
		return
	}
	if exp, ok := bc.connection.(Expirable); ok {
		_ = exp.Expire()
	} else {
		_ = bc.connection.Close()
	}
	bc.connection = nil
}

// Server returns the server for this cursor.
func (bc *BatchCursor) Server() Server {
	return bc.server
}

// PostBatchResumeToken returns the latest seen post batch resume token.
func (bc *BatchCursor) PostBatchResumeToken() bsoncore.Document {
	return bc.postBatchResumeToken
}

// SetBatchSize sets the batchSize for future getMore operations.
func (bc *BatchCursor) SetBatchSize(size int32) {
	bc.batchSize = size
}

// SetMaxTime will set the maximum amount of time the server will allow the
// getMore operations to execute, in milliseconds.
func (bc *BatchCursor) SetMaxTime(ms int64) {
	bc.maxTimeMS = ms
}

// KillCursor kills the cursor on the server without closing the batch cursor.
func (bc *BatchCursor) KillCursor(ctx context.Context) error {
	if bc.server == nil || bc.id == 0 || bc.connection == nil {
		return nil
	}

	return Operation{
		CommandFn: func(dst []byte, desc description.SelectedServer) ([]byte, error) {
			dst = bsoncore.AppendStringElement(dst, "killCursors", bc.collection)
			aidx, dst := bsoncore.AppendArrayElementStart(dst, "cursors")
			dst = bsoncore.AppendInt64Element(dst, "0", bc.id)
			return bsoncore.AppendArrayEnd(dst, aidx)
		},
		Database:   bc.database,
		Deployment: SingleConnectionDeployment{C: bc.connection},
		Client:     bc.clientSession,
		Clock:      bc.clock,
		Type:       Read,
		Name:       "killCursors",
	}.Execute(ctx)
}

func (bc *BatchCursor) getMore(ctx context.Context) {
	bc.clearBatch()
	if bc.id == 0 {
		return
	}
	if bc.connection == nil {
		bc.err = ErrCursorClosed
		return
	}

	if bc.limit != 0 && bc.numReturned >= bc.limit {
		bc.err = bc.Close(ctx)
		return
	}

	numToReturn := bc.batchSize
	if bc.limit != 0 && bc.numReturned+bc.batchSize >= bc.limit {
		numToReturn = bc.limit - bc.numReturned
	}

	var maxTimeMS *int64
	if bc.maxTimeMS > 0 {
		maxTimeMS = &bc.maxTimeMS
	}

	bc.err = Operation{
		CommandFn: func(dst []byte, _ description.SelectedServer) ([]byte, error) {
			dst = bsoncore.AppendInt64Element(dst, "getMore", bc.id)
			dst = bsoncore.AppendStringElement(dst, "collection", bc.collection)
			if numToReturn > 0 {
				dst = bsoncore.AppendInt32Element(dst, "batchSize", numToReturn)
			}
			return dst, nil
		},
		Database:   bc.database,
		Deployment: SingleConnectionDeployment{C: bc.connection},
		ProcessResponseFn: func(_ context.Context, response bsoncore.Document, _ *ResponseInfo) error {
			id, ok := response.Lookup("cursor", "id").Int64OK()
			if !ok {
				return fmt.Errorf("cursor.id should be an int64 but is a BSON %s", response.Lookup("cursor", "id").Type)
			}
			bc.id = id

			batch, ok := response.Lookup("cursor", "nextBatch").ArrayOK()
			if !ok {
				return fmt.Errorf("cursor.nextBatch should be an array but is a BSON %s", response.Lookup("cursor", "nextBatch").Type)
			}
			bc.currentBatch.Style = bsoncore.ArrayStyle
			bc.currentBatch.Data = batch
			bc.currentBatch.ResetIterator()
			bc.numReturned += int32(bc.currentBatch.DocumentCount())

			pbrt, err := response.LookupErr("cursor", "postBatchResumeToken")
			if err == nil {
				pbrtDoc, ok := pbrt.DocumentOK()
				if ok {
					bc.postBatchResumeToken = make(bsoncore.Document, len(pbrtDoc))
					copy(bc.postBatchResumeToken, pbrtDoc)
				}
			}
			return nil
		},
		Client:    bc.clientSession,
		Clock:     bc.clock,
		MaxTimeMS: maxTimeMS,
		Type:      Read,
		Name:      "getMore",
	}.Execute(ctx)

	// The cursor is now exhausted: its connection no longer holds state for
	// it, so let it go.
	if bc.id == 0 && bc.err == nil {
		bc.releaseConnection()
		if bc.clientSession != nil && bc.clientSession.IsImplicit {
			bc.clientSession.EndSession()
		}
	}
}

func (bc *BatchCursor) clearBatch() {
	bc.currentBatch.Data = bc.currentBatch.Data[:0]
}
