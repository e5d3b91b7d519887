// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/drivertest"
	"github.com/ikmak/mongocore/driver/session"
	"github.com/ikmak/mongocore/driver/uuid"
)

func idDoc(id int32) bsoncore.Document {
	return bsoncore.BuildDocumentFromElements(nil,
		bsoncore.AppendInt32Element(nil, "_id", id),
	)
}

func batchArray(docs ...bsoncore.Document) bsoncore.Document {
	aidx, arr := bsoncore.AppendArrayStart(nil)
	for i, doc := range docs {
		arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), doc)
	}
	arr, _ = bsoncore.AppendArrayEnd(arr, aidx)
	return arr
}

func cursorResponseDoc(batchKey string, cursorID int64, docs ...bsoncore.Document) bsoncore.Document {
	cursorDoc := bsoncore.BuildDocumentFromElements(nil,
		bsoncore.AppendArrayElement(nil, batchKey, batchArray(docs...)),
		bsoncore.AppendInt64Element(nil, "id", cursorID),
		bsoncore.AppendStringElement(nil, "ns", "foo.bar"),
	)
	return bsoncore.BuildDocumentFromElements(nil,
		bsoncore.AppendDocumentElement(nil, "cursor", cursorDoc),
		bsoncore.AppendDoubleElement(nil, "ok", 1),
	)
}

func newImplicitSession(t *testing.T) *session.Client {
	t.Helper()
	id, err := uuid.New()
	require.NoError(t, err)
	sess, err := session.NewClientSession(session.NewPool(30), id, session.Implicit)
	require.NoError(t, err)
	return sess
}

func newCursorFromFirstResponse(t *testing.T, md *drivertest.MockDeployment, conn *drivertest.MockConnection,
	response bsoncore.Document, sess *session.Client, opts driver.CursorOptions) *driver.BatchCursor {
	t.Helper()

	info := &driver.ResponseInfo{
		Server:                md.Server,
		Connection:            conn,
		ConnectionDescription: conn.Desc,
	}
	cr, err := driver.NewCursorResponse(response, info)
	require.NoError(t, err)

	bc, err := driver.NewBatchCursor(cr, sess, nil, opts)
	require.NoError(t, err)
	return bc
}

func TestBatchCursor(t *testing.T) {
	t.Run("iterates batches until exhaustion", func(t *testing.T) {
		md, conn := drivertest.NewMockDeployment(
			drivertest.ScriptedResponse{Doc: cursorResponseDoc("nextBatch", 0, idDoc(3))},
		)
		sess := newImplicitSession(t)

		first := cursorResponseDoc("firstBatch", 77, idDoc(1), idDoc(2))
		bc := newCursorFromFirstResponse(t, md, conn, first, sess, driver.CursorOptions{})
		assert.Equal(t, int64(77), bc.ID())

		require.True(t, bc.Next(context.Background()))
		assert.Equal(t, 2, bc.Batch().DocumentCount())

		// Second batch comes from a getMore on the retained connection.
		require.True(t, bc.Next(context.Background()))
		assert.Equal(t, 1, bc.Batch().DocumentCount())
		assert.Equal(t, "getMore", conn.CommandName(0))

		// The server reported id 0: the cursor is exhausted, the connection is
		// expired and the implicit session ends.
		assert.Equal(t, int64(0), bc.ID())
		assert.True(t, conn.Expired)
		assert.True(t, sess.Terminated)

		assert.False(t, bc.Next(context.Background()))
		assert.NoError(t, bc.Err())
	})

	t.Run("getMore respects batchSize", func(t *testing.T) {
		md, conn := drivertest.NewMockDeployment(
			drivertest.ScriptedResponse{Doc: cursorResponseDoc("nextBatch", 0)},
		)

		first := cursorResponseDoc("firstBatch", 77, idDoc(1))
		bc := newCursorFromFirstResponse(t, md, conn, first, nil, driver.CursorOptions{BatchSize: 5})

		require.True(t, bc.Next(context.Background()))
		bc.Next(context.Background())

		size, ok := conn.Written[0].Lookup("batchSize").Int32OK()
		require.True(t, ok)
		assert.Equal(t, int32(5), size)
	})

	t.Run("limit satisfied by first batch kills cursor", func(t *testing.T) {
		md, conn := drivertest.NewMockDeployment(
			drivertest.ScriptedResponse{Doc: okResponse},
		)

		first := cursorResponseDoc("firstBatch", 77, idDoc(1), idDoc(2))
		bc := newCursorFromFirstResponse(t, md, conn, first, nil, driver.CursorOptions{Limit: 2})

		assert.Equal(t, int64(0), bc.ID())
		assert.Equal(t, "killCursors", conn.CommandName(0))
		assert.True(t, conn.Expired)

		// The first batch is still readable.
		require.True(t, bc.Next(context.Background()))
		assert.Equal(t, 2, bc.Batch().DocumentCount())
		assert.False(t, bc.Next(context.Background()))
	})

	t.Run("close kills the server-side cursor", func(t *testing.T) {
		md, conn := drivertest.NewMockDeployment(
			drivertest.ScriptedResponse{Doc: okResponse},
		)
		sess := newImplicitSession(t)
		defer sess.EndSession()

		first := cursorResponseDoc("firstBatch", 77, idDoc(1))
		bc := newCursorFromFirstResponse(t, md, conn, first, sess, driver.CursorOptions{})

		require.NoError(t, bc.Close(context.Background()))
		assert.Equal(t, "killCursors", conn.CommandName(0))
		assert.Equal(t, int64(0), bc.ID())
		assert.True(t, conn.Expired)

		// Closing again is a no-op.
		require.NoError(t, bc.Close(context.Background()))
		assert.Len(t, conn.Written, 1)
	})

	t.Run("empty batch cursor", func(t *testing.T) {
		bc := driver.NewEmptyBatchCursor()
		assert.Equal(t, int64(0), bc.ID())
		assert.False(t, bc.Next(context.Background()))
		assert.NoError(t, bc.Err())
	})

	t.Run("exhausted response does not retain the connection", func(t *testing.T) {
		md, conn := drivertest.NewMockDeployment()

		first := cursorResponseDoc("firstBatch", 0, idDoc(1))
		info := &driver.ResponseInfo{
			Server:                md.Server,
			Connection:            conn,
			ConnectionDescription: conn.Desc,
		}
		cr, err := driver.NewCursorResponse(first, info)
		require.NoError(t, err)
		assert.Nil(t, cr.Connection)

		bc, err := driver.NewBatchCursor(cr, nil, nil, driver.CursorOptions{})
		require.NoError(t, err)
		require.True(t, bc.Next(context.Background()))
		assert.False(t, bc.Next(context.Background()))
	})
}
