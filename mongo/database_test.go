// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver/drivertest"
)

func TestDatabaseRunCommand(t *testing.T) {
	t.Run("returns the raw server response", func(t *testing.T) {
		resp := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendDoubleElement(nil, "ok", 1),
			bsoncore.AppendBooleanElement(nil, "ismaster", true),
		)
		client, conn := newTestClient(t, drivertest.ScriptedResponse{Doc: resp})
		db := client.Database("admin")

		res := db.RunCommand(context.Background(), bson.D{{Key: "ismaster", Value: 1}})
		require.NoError(t, res.Err())

		var raw bson.Raw
		require.NoError(t, res.Decode(&raw))
		ismaster, ok := raw.Lookup("ismaster").BooleanOK()
		require.True(t, ok)
		assert.True(t, ismaster)

		assert.Equal(t, "ismaster", conn.CommandName(0))
	})

	t.Run("command failure maps to CommandError", func(t *testing.T) {
		resp := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendInt32Element(nil, "ok", 0),
			bsoncore.AppendInt32Element(nil, "code", 59),
			bsoncore.AppendStringElement(nil, "codeName", "CommandNotFound"),
			bsoncore.AppendStringElement(nil, "errmsg", "no such command"),
		)
		client, _ := newTestClient(t, drivertest.ScriptedResponse{Doc: resp})
		db := client.Database("admin")

		res := db.RunCommand(context.Background(), bson.D{{Key: "bogus", Value: 1}})
		var ce CommandError
		require.ErrorAs(t, res.Err(), &ce)
		assert.Equal(t, int32(59), ce.Code)
		assert.Equal(t, "CommandNotFound", ce.Name)
	})
}

func TestDatabaseDrop(t *testing.T) {
	resp := bsoncore.BuildDocumentFromElements(nil,
		bsoncore.AppendDoubleElement(nil, "ok", 1),
	)
	client, conn := newTestClient(t, drivertest.ScriptedResponse{Doc: resp})

	require.NoError(t, client.Database("db").Drop(context.Background()))
	assert.Equal(t, "dropDatabase", conn.CommandName(0))
}

func TestDatabaseListCollectionNames(t *testing.T) {
	nameDoc := func(name string) bsoncore.Document {
		return bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendStringElement(nil, "name", name),
			bsoncore.AppendStringElement(nil, "type", "collection"),
		)
	}
	client, conn := newTestClient(t, findResponse(0, nameDoc("users"), nameDoc("orders")))
	db := client.Database("db")

	names, err := db.ListCollectionNames(context.Background(), bson.D{})
	require.NoError(t, err)
	assert.Equal(t, []string{"users", "orders"}, names)

	cmd := conn.Written[0]
	assert.Equal(t, "listCollections", conn.CommandName(0))

	// ListCollectionNames always takes the nameOnly fast path.
	nameOnly, ok := cmd.Lookup("nameOnly").BooleanOK()
	require.True(t, ok)
	assert.True(t, nameOnly)
}
