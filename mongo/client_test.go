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

	"github.com/ikmak/mongocore/driver/session"
)

func TestClientPing(t *testing.T) {
	client, conn := newTestClient(t, okWriteResponse(0))

	require.NoError(t, client.Ping(context.Background(), nil))
	assert.Equal(t, "ping", conn.CommandName(0))
}

func TestClientSessionLifecycle(t *testing.T) {
	t.Run("sessions are rejected by other clients", func(t *testing.T) {
		client1, _ := newTestClient(t)
		client2, _ := newTestClient(t)

		sess, err := client1.StartSession()
		require.NoError(t, err)
		defer sess.EndSession(context.Background())

		ctx := NewSessionContext(context.Background(), sess)
		_, err = client2.Database("db").Collection("coll").InsertOne(ctx, bson.D{})
		assert.Equal(t, ErrWrongClient, err)
	})

	t.Run("session can be recovered from the context", func(t *testing.T) {
		client, _ := newTestClient(t)

		sess, err := client.StartSession()
		require.NoError(t, err)
		defer sess.EndSession(context.Background())

		ctx := NewSessionContext(context.Background(), sess)
		assert.Equal(t, sess, SessionFromContext(ctx))
		assert.Nil(t, SessionFromContext(context.Background()))
	})
}

func TestClientTransactions(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		client, conn := newTestClient(t,
			okWriteResponse(1), // insert
			okWriteResponse(0), // commitTransaction
		)

		sess, err := client.StartSession()
		require.NoError(t, err)
		defer sess.EndSession(context.Background())

		ctx := NewSessionContext(context.Background(), sess)
		require.NoError(t, sess.StartTransaction())

		_, err = client.Database("db").Collection("coll").InsertOne(ctx, bson.D{{Key: "x", Value: 1}})
		require.NoError(t, err)

		// The first command in the transaction carries the full transaction
		// envelope.
		first := conn.Written[0]
		started, ok := first.Lookup("startTransaction").BooleanOK()
		require.True(t, ok)
		assert.True(t, started)
		auto, ok := first.Lookup("autocommit").BooleanOK()
		require.True(t, ok)
		assert.False(t, auto)
		txnNum, ok := first.Lookup("txnNumber").Int64OK()
		require.True(t, ok)
		assert.Equal(t, int64(1), txnNum)
		_, err = first.LookupErr("lsid")
		require.NoError(t, err)

		require.NoError(t, sess.CommitTransaction(ctx))
		assert.Equal(t, "commitTransaction", conn.CommandName(1))

		commit := conn.Written[1]
		_, err = commit.LookupErr("startTransaction")
		assert.Error(t, err)
		txnNum, ok = commit.Lookup("txnNumber").Int64OK()
		require.True(t, ok)
		assert.Equal(t, int64(1), txnNum)
	})

	t.Run("abort", func(t *testing.T) {
		client, conn := newTestClient(t,
			okWriteResponse(1), // insert
			okWriteResponse(0), // abortTransaction
		)

		sess, err := client.StartSession()
		require.NoError(t, err)
		defer sess.EndSession(context.Background())

		ctx := NewSessionContext(context.Background(), sess)
		require.NoError(t, sess.StartTransaction())

		_, err = client.Database("db").Collection("coll").InsertOne(ctx, bson.D{{Key: "x", Value: 1}})
		require.NoError(t, err)

		require.NoError(t, sess.AbortTransaction(ctx))
		assert.Equal(t, "abortTransaction", conn.CommandName(1))

		assert.Equal(t, session.ErrAbortTwice, sess.AbortTransaction(ctx))
	})

	t.Run("empty transaction commits without a command", func(t *testing.T) {
		client, conn := newTestClient(t)

		sess, err := client.StartSession()
		require.NoError(t, err)
		defer sess.EndSession(context.Background())

		require.NoError(t, sess.StartTransaction())
		require.NoError(t, sess.CommitTransaction(context.Background()))
		assert.Empty(t, conn.Written)
	})

	t.Run("commit without transaction", func(t *testing.T) {
		client, _ := newTestClient(t)

		sess, err := client.StartSession()
		require.NoError(t, err)
		defer sess.EndSession(context.Background())

		assert.Equal(t, session.ErrNoTransactStarted, sess.CommitTransaction(context.Background()))
	})

	t.Run("writes inside a transaction omit the write concern", func(t *testing.T) {
		client, conn := newTestClient(t, okWriteResponse(1))

		sess, err := client.StartSession()
		require.NoError(t, err)
		defer sess.EndSession(context.Background())

		ctx := NewSessionContext(context.Background(), sess)
		require.NoError(t, sess.StartTransaction())

		_, err = client.Database("db").Collection("coll").InsertOne(ctx, bson.D{{Key: "x", Value: 1}})
		require.NoError(t, err)

		_, err = conn.Written[0].LookupErr("writeConcern")
		assert.Error(t, err)
	})
}

func TestClientDisconnectEndsPooledSessions(t *testing.T) {
	client, conn := newTestClient(t, okWriteResponse(0))

	// Check a session out and back in so the pool has server-side state to
	// clean up.
	sess, err := client.StartSession()
	require.NoError(t, err)
	sess.EndSession(context.Background())

	require.NoError(t, client.Disconnect(context.Background()))
	require.NotEmpty(t, conn.Written)
	assert.Equal(t, "endSessions", conn.CommandName(0))
}
