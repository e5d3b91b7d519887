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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver/drivertest"
)

func resumeTokenDoc(data string) bsoncore.Document {
	return bsoncore.BuildDocumentFromElements(nil,
		bsoncore.AppendStringElement(nil, "_data", data),
	)
}

func changeEventDoc(token bsoncore.Document, opType string) bsoncore.Document {
	return bsoncore.BuildDocumentFromElements(nil,
		bsoncore.AppendDocumentElement(nil, "_id", token),
		bsoncore.AppendStringElement(nil, "operationType", opType),
	)
}

// changeStreamResponse builds an aggregate or getMore reply whose cursor
// carries a postBatchResumeToken.
func changeStreamResponse(batchKey string, cursorID int64, pbrt bsoncore.Document, docs ...bsoncore.Document) drivertest.ScriptedResponse {
	aidx, arr := bsoncore.AppendArrayStart(nil)
	for i, doc := range docs {
		arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), doc)
	}
	arr, _ = bsoncore.AppendArrayEnd(arr, aidx)

	cursorIdx, cursorBuf := bsoncore.AppendDocumentStart(nil)
	cursorBuf = bsoncore.AppendArrayElement(cursorBuf, batchKey, arr)
	cursorBuf = bsoncore.AppendInt64Element(cursorBuf, "id", cursorID)
	cursorBuf = bsoncore.AppendStringElement(cursorBuf, "ns", "db.coll")
	if pbrt != nil {
		cursorBuf = bsoncore.AppendDocumentElement(cursorBuf, "postBatchResumeToken", pbrt)
	}
	cursorBuf, _ = bsoncore.AppendDocumentEnd(cursorBuf, cursorIdx)

	return drivertest.ScriptedResponse{Doc: bsoncore.BuildDocumentFromElements(nil,
		bsoncore.AppendDocumentElement(nil, "cursor", cursorBuf),
		bsoncore.AppendDoubleElement(nil, "ok", 1),
	)}
}

func TestChangeStream(t *testing.T) {
	t.Run("iterates events and tracks the resume token", func(t *testing.T) {
		event := changeEventDoc(resumeTokenDoc("t1"), "insert")
		client, conn := newTestClient(t,
			changeStreamResponse("firstBatch", 0, nil, event),
		)
		coll := client.Database("db").Collection("coll")

		cs, err := coll.Watch(context.Background(), bson.A{})
		require.NoError(t, err)
		defer cs.Close(context.Background())

		require.True(t, cs.Next(context.Background()))

		var got struct {
			OperationType string `bson:"operationType"`
		}
		require.NoError(t, cs.Decode(&got))
		assert.Equal(t, "insert", got.OperationType)
		assert.Equal(t, bson.Raw(resumeTokenDoc("t1")), cs.ResumeToken())

		// The first pipeline stage is the stream stage.
		_, err = conn.Written[0].LookupErr("pipeline", "0", "$changeStream")
		require.NoError(t, err)
	})

	t.Run("client watch requests cluster-wide changes", func(t *testing.T) {
		client, conn := newTestClient(t,
			changeStreamResponse("firstBatch", 0, nil),
		)

		cs, err := client.Watch(context.Background(), bson.A{})
		require.NoError(t, err)
		defer cs.Close(context.Background())

		cmd := conn.Written[0]
		db, ok := cmd.Lookup("$db").StringValueOK()
		if ok {
			assert.Equal(t, "admin", db)
		}
		allChanges, ok := cmd.Lookup("pipeline", "0", "$changeStream", "allChangesForCluster").BooleanOK()
		require.True(t, ok)
		assert.True(t, allChanges)
	})

	t.Run("resumes after a network error", func(t *testing.T) {
		pbrt := resumeTokenDoc("t1")
		event := changeEventDoc(resumeTokenDoc("t2"), "insert")

		client, conn := newTestClient(t,
			// Initial watch: open cursor, nothing in the batch yet, but the
			// server reports a stream position.
			changeStreamResponse("firstBatch", 5, pbrt),
			// The getMore dies on the wire.
			drivertest.ScriptedResponse{Err: errors.New("connection reset by peer")},
			// Best-effort kill of the dead cursor.
			okWriteResponse(0),
			// The re-issued watch delivers the event.
			changeStreamResponse("firstBatch", 0, nil, event),
		)
		coll := client.Database("db").Collection("coll")

		cs, err := coll.Watch(context.Background(), bson.A{})
		require.NoError(t, err)
		defer cs.Close(context.Background())

		require.True(t, cs.Next(context.Background()))
		assert.Equal(t, bson.Raw(resumeTokenDoc("t2")), cs.ResumeToken())

		// aggregate, getMore, killCursors, aggregate again.
		require.Len(t, conn.Written, 4)
		assert.Equal(t, "aggregate", conn.CommandName(0))
		assert.Equal(t, "getMore", conn.CommandName(1))
		assert.Equal(t, "killCursors", conn.CommandName(2))
		assert.Equal(t, "aggregate", conn.CommandName(3))

		// The resumed watch picks up from the last observed stream position.
		resumeAfter, ok := conn.Written[3].Lookup("pipeline", "0", "$changeStream", "resumeAfter", "_data").StringValueOK()
		require.True(t, ok)
		assert.Equal(t, "t1", resumeAfter)
	})

	t.Run("fatal errors are not resumed", func(t *testing.T) {
		failure := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendInt32Element(nil, "ok", 0),
			bsoncore.AppendInt32Element(nil, "code", 9),
			bsoncore.AppendStringElement(nil, "errmsg", "FailedToParse"),
		)

		client, _ := newTestClient(t,
			changeStreamResponse("firstBatch", 5, nil),
			drivertest.ScriptedResponse{Doc: failure},
		)
		coll := client.Database("db").Collection("coll")

		cs, err := coll.Watch(context.Background(), bson.A{})
		require.NoError(t, err)
		defer cs.Close(context.Background())

		assert.False(t, cs.Next(context.Background()))
		var ce CommandError
		require.ErrorAs(t, cs.Err(), &ce)
		assert.Equal(t, int32(9), ce.Code)
	})

	t.Run("missing resume token is fatal", func(t *testing.T) {
		badEvent := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendStringElement(nil, "operationType", "insert"),
		)
		client, _ := newTestClient(t,
			changeStreamResponse("firstBatch", 0, nil, badEvent),
		)
		coll := client.Database("db").Collection("coll")

		cs, err := coll.Watch(context.Background(), bson.A{})
		require.NoError(t, err)

		assert.False(t, cs.Next(context.Background()))
		assert.Equal(t, ErrMissingResumeToken, cs.Err())
	})
}
