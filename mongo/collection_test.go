// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver/drivertest"
	"github.com/ikmak/mongocore/mongo/options"
)

func newTestClient(t *testing.T, responses ...drivertest.ScriptedResponse) (*Client, *drivertest.MockConnection) {
	t.Helper()
	md, conn := drivertest.NewMockDeployment(responses...)
	client, err := NewClient(&options.ClientOptions{Deployment: md})
	require.NoError(t, err)
	return client, conn
}

func okWriteResponse(n int32) drivertest.ScriptedResponse {
	return drivertest.ScriptedResponse{Doc: bsoncore.BuildDocumentFromElements(nil,
		bsoncore.AppendDoubleElement(nil, "ok", 1),
		bsoncore.AppendInt32Element(nil, "n", n),
	)}
}

func findResponse(cursorID int64, docs ...bsoncore.Document) drivertest.ScriptedResponse {
	aidx, arr := bsoncore.AppendArrayStart(nil)
	for i, doc := range docs {
		arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), doc)
	}
	arr, _ = bsoncore.AppendArrayEnd(arr, aidx)

	cursorDoc := bsoncore.BuildDocumentFromElements(nil,
		bsoncore.AppendArrayElement(nil, "firstBatch", arr),
		bsoncore.AppendInt64Element(nil, "id", cursorID),
		bsoncore.AppendStringElement(nil, "ns", "db.coll"),
	)
	return drivertest.ScriptedResponse{Doc: bsoncore.BuildDocumentFromElements(nil,
		bsoncore.AppendDocumentElement(nil, "cursor", cursorDoc),
		bsoncore.AppendDoubleElement(nil, "ok", 1),
	)}
}

func TestCollectionInsertOne(t *testing.T) {
	t.Run("generates an id", func(t *testing.T) {
		client, conn := newTestClient(t, okWriteResponse(1))
		coll := client.Database("db").Collection("coll")

		res, err := coll.InsertOne(context.Background(), bson.D{{Key: "x", Value: 1}})
		require.NoError(t, err)
		assert.True(t, res.Acknowledged)

		// A generated _id is returned and sent to the server.
		oid, ok := res.InsertedID.(primitive.ObjectID)
		require.True(t, ok)
		assert.False(t, oid.IsZero())

		require.Len(t, conn.Written, 1)
		cmd := conn.Written[0]
		collName, ok := cmd.Lookup("insert").StringValueOK()
		require.True(t, ok)
		assert.Equal(t, "coll", collName)

		// Implicit sessions ride along on every command.
		_, err = cmd.LookupErr("lsid")
		require.NoError(t, err)

		_, err = cmd.LookupErr("documents", "0", "_id")
		require.NoError(t, err)
	})

	t.Run("keeps a caller-supplied id", func(t *testing.T) {
		client, conn := newTestClient(t, okWriteResponse(1))
		coll := client.Database("db").Collection("coll")

		res, err := coll.InsertOne(context.Background(), bson.D{
			{Key: "_id", Value: "user-42"},
			{Key: "x", Value: 1},
		})
		require.NoError(t, err)
		assert.Equal(t, "user-42", res.InsertedID)

		sent, ok := conn.Written[0].Lookup("documents", "0", "_id").StringValueOK()
		require.True(t, ok)
		assert.Equal(t, "user-42", sent)
	})
}

func TestCollectionInsertMany(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client, _ := newTestClient(t, okWriteResponse(2))
		coll := client.Database("db").Collection("coll")

		res, err := coll.InsertMany(context.Background(), []interface{}{
			bson.D{{Key: "x", Value: 1}},
			bson.D{{Key: "x", Value: 2}},
		})
		require.NoError(t, err)
		assert.Len(t, res.InsertedIDs, 2)
	})

	t.Run("empty slice", func(t *testing.T) {
		client, _ := newTestClient(t)
		coll := client.Database("db").Collection("coll")

		_, err := coll.InsertMany(context.Background(), nil)
		assert.Equal(t, ErrEmptySlice, err)
	})

	t.Run("partial failure", func(t *testing.T) {
		weDoc := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendInt32Element(nil, "index", 1),
			bsoncore.AppendInt32Element(nil, "code", 11000),
			bsoncore.AppendStringElement(nil, "errmsg", "E11000 duplicate key error"),
		)
		aidx, arr := bsoncore.AppendArrayStart(nil)
		arr = bsoncore.AppendDocumentElement(arr, "0", weDoc)
		arr, _ = bsoncore.AppendArrayEnd(arr, aidx)
		resp := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendDoubleElement(nil, "ok", 1),
			bsoncore.AppendInt32Element(nil, "n", 2),
			bsoncore.AppendArrayElement(nil, "writeErrors", arr),
		)

		client, _ := newTestClient(t, drivertest.ScriptedResponse{Doc: resp})
		coll := client.Database("db").Collection("coll")

		res, err := coll.InsertMany(context.Background(), []interface{}{
			bson.D{{Key: "x", Value: 1}},
			bson.D{{Key: "x", Value: 2}},
			bson.D{{Key: "x", Value: 3}},
		})

		var bwe BulkWriteException
		require.ErrorAs(t, err, &bwe)
		require.Len(t, bwe.WriteErrors, 1)
		assert.Equal(t, 11000, bwe.WriteErrors[0].Code)
		assert.True(t, IsDuplicateKeyError(err))

		// The id of the failed insert is removed from the partial result.
		require.NotNil(t, res)
		assert.Len(t, res.InsertedIDs, 2)
	})
}

func TestCollectionUpdateOne(t *testing.T) {
	t.Run("requires update operators", func(t *testing.T) {
		client, _ := newTestClient(t)
		coll := client.Database("db").Collection("coll")

		_, err := coll.UpdateOne(context.Background(), bson.D{}, bson.D{{Key: "x", Value: 1}})
		assert.Error(t, err)
	})

	t.Run("upsert result", func(t *testing.T) {
		oid := primitive.NewObjectID()
		upsertedDoc := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendInt32Element(nil, "index", 0),
			bsoncore.AppendObjectIDElement(nil, "_id", oid),
		)
		aidx, arr := bsoncore.AppendArrayStart(nil)
		arr = bsoncore.AppendDocumentElement(arr, "0", upsertedDoc)
		arr, _ = bsoncore.AppendArrayEnd(arr, aidx)
		resp := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendDoubleElement(nil, "ok", 1),
			bsoncore.AppendInt32Element(nil, "n", 1),
			bsoncore.AppendInt32Element(nil, "nModified", 0),
			bsoncore.AppendArrayElement(nil, "upserted", arr),
		)

		client, conn := newTestClient(t, drivertest.ScriptedResponse{Doc: resp})
		coll := client.Database("db").Collection("coll")

		upsert := true
		res, err := coll.UpdateOne(context.Background(),
			bson.D{{Key: "x", Value: 1}},
			bson.D{{Key: "$set", Value: bson.D{{Key: "x", Value: 2}}}},
			&options.UpdateOptions{Upsert: &upsert})
		require.NoError(t, err)

		assert.Equal(t, int64(0), res.MatchedCount)
		assert.Equal(t, int64(1), res.UpsertedCount)
		assert.NotNil(t, res.UpsertedID)

		up, ok := conn.Written[0].Lookup("updates", "0", "upsert").BooleanOK()
		require.True(t, ok)
		assert.True(t, up)
	})
}

func TestCollectionDelete(t *testing.T) {
	client, conn := newTestClient(t, okWriteResponse(1))
	coll := client.Database("db").Collection("coll")

	res, err := coll.DeleteOne(context.Background(), bson.D{{Key: "x", Value: 1}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedCount)

	limit, ok := conn.Written[0].Lookup("deletes", "0", "limit").Int32OK()
	require.True(t, ok)
	assert.Equal(t, int32(1), limit)
}

func TestCollectionFind(t *testing.T) {
	t.Run("iterates resulting documents", func(t *testing.T) {
		client, _ := newTestClient(t, findResponse(0,
			bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt32Element(nil, "x", 1)),
			bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt32Element(nil, "x", 2)),
		))
		coll := client.Database("db").Collection("coll")

		cur, err := coll.Find(context.Background(), bson.D{})
		require.NoError(t, err)
		defer cur.Close(context.Background())

		var docs []bson.D
		require.NoError(t, cur.All(context.Background(), &docs))
		assert.Len(t, docs, 2)
	})

	t.Run("negative limit requests a single batch", func(t *testing.T) {
		client, conn := newTestClient(t, findResponse(0))
		coll := client.Database("db").Collection("coll")

		limit := int64(-4)
		cur, err := coll.Find(context.Background(), bson.D{}, &options.FindOptions{Limit: &limit})
		require.NoError(t, err)
		defer cur.Close(context.Background())

		cmd := conn.Written[0]
		gotLimit, ok := cmd.Lookup("limit").Int64OK()
		require.True(t, ok)
		assert.Equal(t, int64(4), gotLimit)
		single, ok := cmd.Lookup("singleBatch").BooleanOK()
		require.True(t, ok)
		assert.True(t, single)
	})
}

func TestCollectionFindOne(t *testing.T) {
	t.Run("decodes the first document", func(t *testing.T) {
		client, conn := newTestClient(t, findResponse(0,
			bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt32Element(nil, "x", 42)),
		))
		coll := client.Database("db").Collection("coll")

		var got struct {
			X int32 `bson:"x"`
		}
		require.NoError(t, coll.FindOne(context.Background(), bson.D{}).Decode(&got))
		assert.Equal(t, int32(42), got.X)

		gotLimit, ok := conn.Written[0].Lookup("limit").Int64OK()
		require.True(t, ok)
		assert.Equal(t, int64(1), gotLimit)
	})

	t.Run("no documents", func(t *testing.T) {
		client, _ := newTestClient(t, findResponse(0))
		coll := client.Database("db").Collection("coll")

		err := coll.FindOne(context.Background(), bson.D{}).Decode(&bson.D{})
		assert.Equal(t, ErrNoDocuments, err)
	})
}

func TestCollectionDrop(t *testing.T) {
	t.Run("dropping a missing collection succeeds", func(t *testing.T) {
		resp := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendInt32Element(nil, "ok", 0),
			bsoncore.AppendInt32Element(nil, "code", 26),
			bsoncore.AppendStringElement(nil, "errmsg", "ns not found"),
		)
		client, _ := newTestClient(t, drivertest.ScriptedResponse{Doc: resp})
		coll := client.Database("db").Collection("coll")

		assert.NoError(t, coll.Drop(context.Background()))
	})

	t.Run("other errors surface", func(t *testing.T) {
		resp := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendInt32Element(nil, "ok", 0),
			bsoncore.AppendInt32Element(nil, "code", 13),
			bsoncore.AppendStringElement(nil, "errmsg", "unauthorized"),
		)
		client, _ := newTestClient(t, drivertest.ScriptedResponse{Doc: resp})
		coll := client.Database("db").Collection("coll")

		err := coll.Drop(context.Background())
		var ce CommandError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, int32(13), ce.Code)
	})
}

func TestCollectionBulkWrite(t *testing.T) {
	t.Run("aggregates results across models", func(t *testing.T) {
		client, conn := newTestClient(t,
			okWriteResponse(1), // insert
			okWriteResponse(1), // delete
		)
		coll := client.Database("db").Collection("coll")

		res, err := coll.BulkWrite(context.Background(), []WriteModel{
			&InsertOneModel{Document: bson.D{{Key: "x", Value: 1}}},
			&DeleteOneModel{Filter: bson.D{{Key: "x", Value: 2}}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.InsertedCount)
		assert.Equal(t, int64(1), res.DeletedCount)
		assert.Len(t, conn.Written, 2)
	})

	t.Run("ordered stops at the first failure", func(t *testing.T) {
		weDoc := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendInt32Element(nil, "index", 0),
			bsoncore.AppendInt32Element(nil, "code", 11000),
			bsoncore.AppendStringElement(nil, "errmsg", "E11000 duplicate key error"),
		)
		aidx, arr := bsoncore.AppendArrayStart(nil)
		arr = bsoncore.AppendDocumentElement(arr, "0", weDoc)
		arr, _ = bsoncore.AppendArrayEnd(arr, aidx)
		failure := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendDoubleElement(nil, "ok", 1),
			bsoncore.AppendInt32Element(nil, "n", 0),
			bsoncore.AppendArrayElement(nil, "writeErrors", arr),
		)

		client, conn := newTestClient(t,
			okWriteResponse(1),
			drivertest.ScriptedResponse{Doc: failure},
		)
		coll := client.Database("db").Collection("coll")

		res, err := coll.BulkWrite(context.Background(), []WriteModel{
			&InsertOneModel{Document: bson.D{{Key: "x", Value: 1}}},
			&InsertOneModel{Document: bson.D{{Key: "x", Value: 1}}},
			&InsertOneModel{Document: bson.D{{Key: "x", Value: 2}}},
		})

		var bwe BulkWriteException
		require.ErrorAs(t, err, &bwe)
		require.Len(t, bwe.WriteErrors, 1)
		// The failed model's position in the input slice, not the command.
		assert.Equal(t, 1, bwe.WriteErrors[0].Index)
		require.NotNil(t, bwe.WriteErrors[0].Request)

		assert.Equal(t, int64(1), res.InsertedCount)
		// The third model never ran.
		assert.Len(t, conn.Written, 2)
	})

	t.Run("unordered runs every model", func(t *testing.T) {
		weDoc := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendInt32Element(nil, "index", 0),
			bsoncore.AppendInt32Element(nil, "code", 11000),
			bsoncore.AppendStringElement(nil, "errmsg", "E11000 duplicate key error"),
		)
		aidx, arr := bsoncore.AppendArrayStart(nil)
		arr = bsoncore.AppendDocumentElement(arr, "0", weDoc)
		arr, _ = bsoncore.AppendArrayEnd(arr, aidx)
		failure := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendDoubleElement(nil, "ok", 1),
			bsoncore.AppendInt32Element(nil, "n", 0),
			bsoncore.AppendArrayElement(nil, "writeErrors", arr),
		)

		client, conn := newTestClient(t,
			drivertest.ScriptedResponse{Doc: failure},
			okWriteResponse(1),
		)
		coll := client.Database("db").Collection("coll")

		ordered := false
		res, err := coll.BulkWrite(context.Background(), []WriteModel{
			&InsertOneModel{Document: bson.D{{Key: "x", Value: 1}}},
			&InsertOneModel{Document: bson.D{{Key: "x", Value: 2}}},
		}, &options.BulkWriteOptions{Ordered: &ordered})

		var bwe BulkWriteException
		require.ErrorAs(t, err, &bwe)
		assert.Equal(t, int64(1), res.InsertedCount)
		assert.Len(t, conn.Written, 2)
	})
}
