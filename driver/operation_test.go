// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/description"
	"github.com/ikmak/mongocore/driver/drivertest"
	"github.com/ikmak/mongocore/driver/operation"
	"github.com/ikmak/mongocore/driver/session"
	"github.com/ikmak/mongocore/driver/uuid"
	"github.com/ikmak/mongocore/mongo/writeconcern"
)

var okResponse = bsoncore.BuildDocumentFromElements(nil,
	bsoncore.AppendDoubleElement(nil, "ok", 1),
	bsoncore.AppendInt32Element(nil, "n", 1),
)

func errorResponse(code int32, codeName, errmsg string) bsoncore.Document {
	return bsoncore.BuildDocumentFromElements(nil,
		bsoncore.AppendInt32Element(nil, "ok", 0),
		bsoncore.AppendInt32Element(nil, "code", code),
		bsoncore.AppendStringElement(nil, "codeName", codeName),
		bsoncore.AppendStringElement(nil, "errmsg", errmsg),
	)
}

func newExplicitSession(t *testing.T) *session.Client {
	t.Helper()
	id, err := uuid.New()
	require.NoError(t, err)
	sess, err := session.NewClientSession(session.NewPool(30), id, session.Explicit)
	require.NoError(t, err)
	t.Cleanup(sess.EndSession)
	return sess
}

func testDocument(t *testing.T) bsoncore.Document {
	t.Helper()
	return bsoncore.BuildDocumentFromElements(nil,
		bsoncore.AppendInt32Element(nil, "x", 1),
	)
}

func TestOperationSessionMetadata(t *testing.T) {
	t.Run("lsid and txnNumber on retryable writes", func(t *testing.T) {
		md, conn := drivertest.NewMockDeployment(drivertest.ScriptedResponse{Doc: okResponse})
		sess := newExplicitSession(t)
		retry := driver.RetryOncePerCommand

		op := operation.Insert{
			Documents:  []bsoncore.Document{testDocument(t)},
			Collection: "coll",
			Database:   "db",
			Deployment: md,
			Session:    sess,
			Retry:      &retry,
		}
		require.NoError(t, op.Execute(context.Background()))
		assert.Equal(t, int64(1), op.Result().N)

		require.Len(t, conn.Written, 1)
		cmd := conn.Written[0]
		assert.Equal(t, "insert", conn.CommandName(0))

		lsid, err := cmd.LookupErr("lsid")
		require.NoError(t, err)
		assert.Equal(t, bsoncore.Document(sess.SessionID()), lsid.Document())

		txnNum, ok := cmd.Lookup("txnNumber").Int64OK()
		require.True(t, ok)
		assert.Equal(t, int64(1), txnNum)
	})

	t.Run("no txnNumber without retryability", func(t *testing.T) {
		md, conn := drivertest.NewMockDeployment(drivertest.ScriptedResponse{Doc: okResponse})
		sess := newExplicitSession(t)

		op := operation.Insert{
			Documents:  []bsoncore.Document{testDocument(t)},
			Collection: "coll",
			Database:   "db",
			Deployment: md,
			Session:    sess,
		}
		require.NoError(t, op.Execute(context.Background()))

		cmd := conn.Written[0]
		_, err := cmd.LookupErr("lsid")
		require.NoError(t, err)
		_, err = cmd.LookupErr("txnNumber")
		assert.Error(t, err)
	})

	t.Run("cluster time gossip", func(t *testing.T) {
		ctDoc := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendTimestampElement(nil, "clusterTime", 42, 1),
		)
		resp := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendDoubleElement(nil, "ok", 1),
			bsoncore.AppendDocumentElement(nil, "$clusterTime", ctDoc),
			bsoncore.AppendTimestampElement(nil, "operationTime", 42, 1),
		)
		md, conn := drivertest.NewMockDeployment(
			drivertest.ScriptedResponse{Doc: resp},
			drivertest.ScriptedResponse{Doc: okResponse},
		)
		sess := newExplicitSession(t)
		clock := new(session.ClusterClock)

		op := operation.Insert{
			Documents:  []bsoncore.Document{testDocument(t)},
			Collection: "coll",
			Database:   "db",
			Deployment: md,
			Session:    sess,
			Clock:      clock,
		}
		require.NoError(t, op.Execute(context.Background()))

		// The session and the cluster clock both learned the new time,
		require.NotNil(t, sess.ClusterTime)
		require.NotNil(t, clock.GetClusterTime())
		require.NotNil(t, sess.OperationTime)
		assert.Equal(t, uint32(42), sess.OperationTime.T)

		// and the next command gossips it back.
		require.NoError(t, op.Execute(context.Background()))
		require.Len(t, conn.Written, 2)
		_, err := conn.Written[1].LookupErr("$clusterTime")
		require.NoError(t, err)
	})
}

func TestOperationRetries(t *testing.T) {
	t.Run("retryable write retries once on network error", func(t *testing.T) {
		md, conn := drivertest.NewMockDeployment(
			drivertest.ScriptedResponse{Err: errors.New("connection reset by peer")},
			drivertest.ScriptedResponse{Doc: okResponse},
		)
		sess := newExplicitSession(t)
		retry := driver.RetryOncePerCommand

		op := operation.Insert{
			Documents:  []bsoncore.Document{testDocument(t)},
			Collection: "coll",
			Database:   "db",
			Deployment: md,
			Session:    sess,
			Retry:      &retry,
		}
		require.NoError(t, op.Execute(context.Background()))

		// Both attempts carry the same transaction number.
		require.Len(t, conn.Written, 2)
		first, ok := conn.Written[0].Lookup("txnNumber").Int64OK()
		require.True(t, ok)
		second, ok := conn.Written[1].Lookup("txnNumber").Int64OK()
		require.True(t, ok)
		assert.Equal(t, first, second)
	})

	t.Run("a single retry only", func(t *testing.T) {
		md, _ := drivertest.NewMockDeployment(
			drivertest.ScriptedResponse{Err: errors.New("connection reset by peer")},
			drivertest.ScriptedResponse{Err: errors.New("connection reset by peer")},
			drivertest.ScriptedResponse{Doc: okResponse},
		)
		sess := newExplicitSession(t)
		retry := driver.RetryOncePerCommand

		op := operation.Insert{
			Documents:  []bsoncore.Document{testDocument(t)},
			Collection: "coll",
			Database:   "db",
			Deployment: md,
			Session:    sess,
			Retry:      &retry,
		}
		err := op.Execute(context.Background())
		var de driver.Error
		require.ErrorAs(t, err, &de)
		assert.True(t, de.NetworkError())
	})

	t.Run("no retry without retry mode", func(t *testing.T) {
		md, conn := drivertest.NewMockDeployment(
			drivertest.ScriptedResponse{Err: errors.New("connection reset by peer")},
			drivertest.ScriptedResponse{Doc: okResponse},
		)
		sess := newExplicitSession(t)

		op := operation.Insert{
			Documents:  []bsoncore.Document{testDocument(t)},
			Collection: "coll",
			Database:   "db",
			Deployment: md,
			Session:    sess,
		}
		require.Error(t, op.Execute(context.Background()))
		assert.Len(t, conn.Written, 1)
	})

	t.Run("retryable server code retries", func(t *testing.T) {
		md, conn := drivertest.NewMockDeployment(
			drivertest.ScriptedResponse{Doc: errorResponse(11600, "InterruptedAtShutdown", "interrupted at shutdown")},
			drivertest.ScriptedResponse{Doc: okResponse},
		)
		sess := newExplicitSession(t)
		retry := driver.RetryOncePerCommand

		op := operation.Insert{
			Documents:  []bsoncore.Document{testDocument(t)},
			Collection: "coll",
			Database:   "db",
			Deployment: md,
			Session:    sess,
			Retry:      &retry,
		}
		require.NoError(t, op.Execute(context.Background()))
		assert.Len(t, conn.Written, 2)
	})
}

func TestOperationUnacknowledgedWrite(t *testing.T) {
	md, conn := drivertest.NewMockDeployment()

	op := operation.Insert{
		Documents:    []bsoncore.Document{testDocument(t)},
		Collection:   "coll",
		Database:     "db",
		Deployment:   md,
		WriteConcern: writeconcern.Unacknowledged(),
	}
	err := op.Execute(context.Background())
	assert.Equal(t, driver.ErrUnacknowledgedWrite, err)

	// The command went out fire-and-forget.
	assert.Empty(t, conn.Written)
	require.Len(t, conn.Sent, 1)
	w, ok := conn.Sent[0].Lookup("writeConcern", "w").Int32OK()
	require.True(t, ok)
	assert.Equal(t, int32(0), w)
}

func TestOperationTransactionMarkers(t *testing.T) {
	md, conn := drivertest.NewMockDeployment(
		drivertest.ScriptedResponse{Doc: okResponse},
		drivertest.ScriptedResponse{Doc: okResponse},
		drivertest.ScriptedResponse{Doc: okResponse},
	)
	sess := newExplicitSession(t)
	require.NoError(t, sess.StartTransaction(nil))

	runInsert := func() {
		op := operation.Insert{
			Documents:  []bsoncore.Document{testDocument(t)},
			Collection: "coll",
			Database:   "db",
			Deployment: md,
			Session:    sess,
		}
		require.NoError(t, op.Execute(context.Background()))
	}

	// First command in the transaction carries the startTransaction marker.
	runInsert()
	first := conn.Written[0]
	started, ok := first.Lookup("startTransaction").BooleanOK()
	require.True(t, ok)
	assert.True(t, started)
	auto, ok := first.Lookup("autocommit").BooleanOK()
	require.True(t, ok)
	assert.False(t, auto)
	txn1, ok := first.Lookup("txnNumber").Int64OK()
	require.True(t, ok)

	// Subsequent commands do not.
	runInsert()
	second := conn.Written[1]
	_, err := second.LookupErr("startTransaction")
	assert.Error(t, err)
	_, ok = second.Lookup("autocommit").BooleanOK()
	assert.True(t, ok)
	txn2, ok := second.Lookup("txnNumber").Int64OK()
	require.True(t, ok)
	assert.Equal(t, txn1, txn2)

	// No writeConcern on commands inside the transaction.
	_, err = second.LookupErr("writeConcern")
	assert.Error(t, err)
}

func TestOperationCommitRetryUpgradesWriteConcern(t *testing.T) {
	md, conn := drivertest.NewMockDeployment(
		drivertest.ScriptedResponse{Doc: errorResponse(11602, "InterruptedDueToReplStateChange", "interrupted")},
		drivertest.ScriptedResponse{Doc: okResponse},
	)
	sess := newExplicitSession(t)
	require.NoError(t, sess.StartTransaction(nil))
	sess.TransactionState = session.InProgress
	sess.Committing = true
	retry := driver.RetryOncePerCommand

	op := operation.CommitTransaction{
		Deployment:   md,
		Session:      sess,
		WriteConcern: writeconcern.W1(),
		Retry:        &retry,
	}
	require.NoError(t, op.Execute(context.Background()))
	require.Len(t, conn.Written, 2)

	// First attempt used the transaction's write concern.
	w, ok := conn.Written[0].Lookup("writeConcern", "w").Int32OK()
	require.True(t, ok)
	assert.Equal(t, int32(1), w)

	// The retry upgraded to majority with a wtimeout.
	wStr, ok := conn.Written[1].Lookup("writeConcern", "w").StringValueOK()
	require.True(t, ok)
	assert.Equal(t, "majority", wStr)
	wtimeout, ok := conn.Written[1].Lookup("writeConcern", "wtimeout").Int64OK()
	require.True(t, ok)
	assert.Equal(t, int64(10000), wtimeout)
}

func TestOperationMaxTimeMS(t *testing.T) {
	t.Run("negative values rejected locally", func(t *testing.T) {
		md, conn := drivertest.NewMockDeployment()
		neg := int64(-1)

		op := driver.Operation{
			CommandFn: func(dst []byte, _ description.SelectedServer) ([]byte, error) {
				return bsoncore.AppendInt32Element(dst, "ping", 1), nil
			},
			Database:   "admin",
			Deployment: md,
			MaxTimeMS:  &neg,
		}
		err := op.Execute(context.Background())
		var iae driver.InvalidArgumentError
		require.ErrorAs(t, err, &iae)
		assert.Empty(t, conn.Written)
	})

	t.Run("encoded as int64 regardless of magnitude", func(t *testing.T) {
		md, conn := drivertest.NewMockDeployment(drivertest.ScriptedResponse{Doc: okResponse})
		big := int64(1) << 40

		op := driver.Operation{
			CommandFn: func(dst []byte, _ description.SelectedServer) ([]byte, error) {
				return bsoncore.AppendInt32Element(dst, "ping", 1), nil
			},
			Database:   "admin",
			Deployment: md,
			MaxTimeMS:  &big,
		}
		require.NoError(t, op.Execute(context.Background()))

		val, ok := conn.Written[0].Lookup("maxTimeMS").Int64OK()
		require.True(t, ok)
		assert.Equal(t, big, val)
	})
}
