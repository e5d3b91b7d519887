// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver/description"
	"github.com/ikmak/mongocore/driver/uuid"
	"github.com/ikmak/mongocore/mongo/writeconcern"
)

func newTestSession(t *testing.T, opts ...*ClientOptions) *Client {
	t.Helper()
	id, err := uuid.New()
	require.NoError(t, err)
	sess, err := NewClientSession(NewPool(30), id, Explicit, opts...)
	require.NoError(t, err)
	return sess
}

func clusterTimeDoc(epoch, ord uint32) bson.Raw {
	return bson.Raw(bsoncore.BuildDocumentFromElements(nil,
		bsoncore.AppendDocumentElement(nil, "$clusterTime",
			bsoncore.BuildDocumentFromElements(nil,
				bsoncore.AppendTimestampElement(nil, "clusterTime", epoch, ord),
			),
		),
	))
}

func TestClientSession(t *testing.T) {
	t.Run("has a session id", func(t *testing.T) {
		sess := newTestSession(t)
		defer sess.EndSession()

		id := sess.SessionID()
		require.NotNil(t, id)
		_, _, ok := id.Lookup("id").BinaryOK()
		assert.True(t, ok)
	})

	t.Run("ended session is unusable", func(t *testing.T) {
		sess := newTestSession(t)
		sess.EndSession()

		assert.Equal(t, ErrSessionEnded, sess.StartCommand())
		assert.Equal(t, ErrSessionEnded, sess.AdvanceClusterTime(clusterTimeDoc(1, 1)))
		assert.Equal(t, ErrSessionEnded, sess.AdvanceOperationTime(&primitive.Timestamp{T: 1}))

		// EndSession is idempotent.
		sess.EndSession()
		assert.True(t, sess.Terminated)
	})

	t.Run("cluster time only advances", func(t *testing.T) {
		sess := newTestSession(t)
		defer sess.EndSession()

		require.NoError(t, sess.AdvanceClusterTime(clusterTimeDoc(5, 2)))
		assert.Equal(t, clusterTimeDoc(5, 2), sess.ClusterTime)

		// Lower epoch is ignored.
		require.NoError(t, sess.AdvanceClusterTime(clusterTimeDoc(4, 9)))
		assert.Equal(t, clusterTimeDoc(5, 2), sess.ClusterTime)

		// Same epoch, higher ordinal wins.
		require.NoError(t, sess.AdvanceClusterTime(clusterTimeDoc(5, 3)))
		assert.Equal(t, clusterTimeDoc(5, 3), sess.ClusterTime)
	})

	t.Run("operation time only advances", func(t *testing.T) {
		sess := newTestSession(t)
		defer sess.EndSession()

		require.NoError(t, sess.AdvanceOperationTime(&primitive.Timestamp{T: 10, I: 1}))
		require.NoError(t, sess.AdvanceOperationTime(&primitive.Timestamp{T: 9, I: 5}))
		assert.Equal(t, &primitive.Timestamp{T: 10, I: 1}, sess.OperationTime)

		require.NoError(t, sess.AdvanceOperationTime(&primitive.Timestamp{T: 10, I: 2}))
		assert.Equal(t, &primitive.Timestamp{T: 10, I: 2}, sess.OperationTime)

		require.NoError(t, sess.AdvanceOperationTime(nil))
		assert.Equal(t, &primitive.Timestamp{T: 10, I: 2}, sess.OperationTime)
	})

	t.Run("causal consistency and snapshot are exclusive", func(t *testing.T) {
		id, err := uuid.New()
		require.NoError(t, err)
		boolTrue := true
		_, err = NewClientSession(NewPool(30), id, Explicit, &ClientOptions{
			CausalConsistency: &boolTrue,
			Snapshot:          &boolTrue,
		})
		assert.Error(t, err)
	})
}

func TestMaxClusterTime(t *testing.T) {
	ct1 := clusterTimeDoc(10, 5)
	ct2 := clusterTimeDoc(11, 0)

	assert.Equal(t, ct2, MaxClusterTime(ct1, ct2))
	assert.Equal(t, ct2, MaxClusterTime(ct2, ct1))
	assert.Equal(t, ct1, MaxClusterTime(ct1, ct1))
	assert.Equal(t, ct1, MaxClusterTime(ct1, nil))
}

func TestTransactionStateMachine(t *testing.T) {
	t.Run("start to commit", func(t *testing.T) {
		sess := newTestSession(t)
		defer sess.EndSession()

		require.NoError(t, sess.StartTransaction(nil))
		assert.Equal(t, Starting, sess.TransactionState)
		assert.Equal(t, int64(1), sess.TxnNumber())

		// The first command moves the transaction in progress.
		require.NoError(t, sess.ApplyCommand(description.Server{}))
		assert.Equal(t, InProgress, sess.TransactionState)

		require.NoError(t, sess.CommitTransaction())
		assert.Equal(t, Committed, sess.TransactionState)

		// The next command resets the machine to None.
		require.NoError(t, sess.ApplyCommand(description.Server{}))
		assert.Equal(t, None, sess.TransactionState)
	})

	t.Run("cannot start while in progress", func(t *testing.T) {
		sess := newTestSession(t)
		defer sess.EndSession()

		require.NoError(t, sess.StartTransaction(nil))
		assert.Equal(t, ErrTransactInProgress, sess.StartTransaction(nil))
	})

	t.Run("cannot commit or abort without transaction", func(t *testing.T) {
		sess := newTestSession(t)
		defer sess.EndSession()

		assert.Equal(t, ErrNoTransactStarted, sess.CommitTransaction())
		assert.Equal(t, ErrNoTransactStarted, sess.AbortTransaction())
	})

	t.Run("abort after commit", func(t *testing.T) {
		sess := newTestSession(t)
		defer sess.EndSession()

		require.NoError(t, sess.StartTransaction(nil))
		require.NoError(t, sess.CommitTransaction())
		assert.Equal(t, ErrAbortAfterCommit, sess.AbortTransaction())
	})

	t.Run("abort twice", func(t *testing.T) {
		sess := newTestSession(t)
		defer sess.EndSession()

		require.NoError(t, sess.StartTransaction(nil))
		require.NoError(t, sess.AbortTransaction())
		assert.Equal(t, ErrAbortTwice, sess.AbortTransaction())
	})

	t.Run("commit after abort", func(t *testing.T) {
		sess := newTestSession(t)
		defer sess.EndSession()

		require.NoError(t, sess.StartTransaction(nil))
		require.NoError(t, sess.AbortTransaction())
		assert.Equal(t, ErrCommitAfterAbort, sess.CommitTransaction())
	})

	t.Run("unacknowledged write concern rejected", func(t *testing.T) {
		sess := newTestSession(t)
		defer sess.EndSession()

		err := sess.StartTransaction(&TransactionOptions{
			WriteConcern: writeconcern.Unacknowledged(),
		})
		assert.Equal(t, ErrUnackWCUnsupported, err)
		assert.Equal(t, None, sess.TransactionState)
	})

	t.Run("snapshot sessions cannot run transactions", func(t *testing.T) {
		boolTrue := true
		sess := newTestSession(t, &ClientOptions{Snapshot: &boolTrue})
		defer sess.EndSession()

		assert.Equal(t, ErrSnapshotTransaction, sess.StartTransaction(nil))
	})

	t.Run("transaction options settle at start", func(t *testing.T) {
		sess := newTestSession(t, &ClientOptions{
			DefaultWriteConcern: writeconcern.W1(),
		})
		defer sess.EndSession()

		require.NoError(t, sess.StartTransaction(&TransactionOptions{
			WriteConcern: writeconcern.Majority(),
		}))
		assert.Equal(t, writeconcern.Majority(), sess.CurrentWc)
		require.NoError(t, sess.AbortTransaction())
		assert.Nil(t, sess.CurrentWc)

		// Without a per-call option the session default applies.
		require.NoError(t, sess.StartTransaction(nil))
		assert.Equal(t, writeconcern.W1(), sess.CurrentWc)
	})

	t.Run("commit retry upgrades write concern", func(t *testing.T) {
		sess := newTestSession(t)
		defer sess.EndSession()

		require.NoError(t, sess.StartTransaction(nil))
		sess.UpdateCommitTransactionWriteConcern()
		assert.Equal(t, "majority", sess.CurrentWc.W)
		assert.Equal(t, 10*time.Second, sess.CurrentWc.WTimeout)
	})
}

func TestSessionPool(t *testing.T) {
	t.Run("reuses returned sessions", func(t *testing.T) {
		pool := NewPool(30)

		first, err := pool.GetSession()
		require.NoError(t, err)
		pool.ReturnSession(first)

		second, err := pool.GetSession()
		require.NoError(t, err)
		assert.Equal(t, first.SessionID, second.SessionID)
	})

	t.Run("discards dirty sessions", func(t *testing.T) {
		pool := NewPool(30)

		first, err := pool.GetSession()
		require.NoError(t, err)
		first.MarkDirty()
		pool.ReturnSession(first)

		second, err := pool.GetSession()
		require.NoError(t, err)
		assert.NotEqual(t, first.SessionID, second.SessionID)
	})

	t.Run("IDSlices lists pooled session ids", func(t *testing.T) {
		pool := NewPool(30)

		first, err := pool.GetSession()
		require.NoError(t, err)
		second, err := pool.GetSession()
		require.NoError(t, err)
		pool.ReturnSession(first)
		pool.ReturnSession(second)

		ids := pool.IDSlices()
		assert.Len(t, ids, 2)
	})
}
