// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver/address"
	"github.com/ikmak/mongocore/driver/description"
)

var retryableServerDesc = description.Server{
	Addr:                  address.Address("localhost:27017"),
	Kind:                  description.RSPrimary,
	WireVersion:           &description.VersionRange{Min: 6, Max: 21},
	SessionTimeoutMinutes: 30,
}

func TestExtractErrorFromServerResponse(t *testing.T) {
	t.Run("ok response", func(t *testing.T) {
		doc := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendDoubleElement(nil, "ok", 1),
		)
		assert.NoError(t, ExtractErrorFromServerResponse(doc))
	})

	t.Run("ok as int32 and int64", func(t *testing.T) {
		for _, doc := range []bsoncore.Document{
			bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt32Element(nil, "ok", 1)),
			bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt64Element(nil, "ok", 1)),
		} {
			assert.NoError(t, ExtractErrorFromServerResponse(doc))
		}
	})

	t.Run("command error", func(t *testing.T) {
		doc := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendInt32Element(nil, "ok", 0),
			bsoncore.AppendStringElement(nil, "errmsg", "interrupted at shutdown"),
			bsoncore.AppendInt32Element(nil, "code", 11600),
			bsoncore.AppendStringElement(nil, "codeName", "InterruptedAtShutdown"),
		)

		err := ExtractErrorFromServerResponse(doc)
		var de Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, int32(11600), de.Code)
		assert.Equal(t, "InterruptedAtShutdown", de.Name)
		assert.Equal(t, "interrupted at shutdown", de.Message)
		assert.True(t, de.RetryableRead())
		assert.True(t, de.RetryableWrite(retryableServerDesc))
	})

	t.Run("error labels", func(t *testing.T) {
		aidx, labels := bsoncore.AppendArrayStart(nil)
		labels = bsoncore.AppendStringElement(labels, "0", TransientTransactionError)
		labels, _ = bsoncore.AppendArrayEnd(labels, aidx)

		doc := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendInt32Element(nil, "ok", 0),
			bsoncore.AppendStringElement(nil, "errmsg", "no progress"),
			bsoncore.AppendArrayElement(nil, "errorLabels", labels),
		)

		err := ExtractErrorFromServerResponse(doc)
		var de Error
		require.ErrorAs(t, err, &de)
		assert.True(t, de.HasErrorLabel(TransientTransactionError))
		assert.False(t, de.HasErrorLabel(NetworkError))
	})

	t.Run("write errors", func(t *testing.T) {
		weDoc := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendInt32Element(nil, "index", 1),
			bsoncore.AppendInt32Element(nil, "code", 11000),
			bsoncore.AppendStringElement(nil, "errmsg", "E11000 duplicate key error"),
		)
		aidx, arr := bsoncore.AppendArrayStart(nil)
		arr = bsoncore.AppendDocumentElement(arr, "0", weDoc)
		arr, _ = bsoncore.AppendArrayEnd(arr, aidx)

		doc := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendDoubleElement(nil, "ok", 1),
			bsoncore.AppendInt32Element(nil, "n", 1),
			bsoncore.AppendArrayElement(nil, "writeErrors", arr),
		)

		err := ExtractErrorFromServerResponse(doc)
		var wce WriteCommandError
		require.ErrorAs(t, err, &wce)

		want := WriteErrors{{Index: 1, Code: 11000, Message: "E11000 duplicate key error"}}
		if diff := cmp.Diff(want, wce.WriteErrors); diff != "" {
			t.Errorf("write errors mismatch (-want +got):\n%s", diff)
		}
		assert.False(t, wce.Retryable(retryableServerDesc))
	})

	t.Run("write concern error", func(t *testing.T) {
		wceDoc := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendInt32Element(nil, "code", 91),
			bsoncore.AppendStringElement(nil, "codeName", "ShutdownInProgress"),
			bsoncore.AppendStringElement(nil, "errmsg", "shutdown in progress"),
		)
		doc := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendDoubleElement(nil, "ok", 1),
			bsoncore.AppendDocumentElement(nil, "writeConcernError", wceDoc),
		)

		err := ExtractErrorFromServerResponse(doc)
		var wce WriteCommandError
		require.ErrorAs(t, err, &wce)
		require.NotNil(t, wce.WriteConcernError)
		assert.Equal(t, int64(91), wce.WriteConcernError.Code)
		assert.True(t, wce.WriteConcernError.Retryable())
		assert.True(t, wce.Retryable(retryableServerDesc))
	})
}

func TestErrorClassification(t *testing.T) {
	t.Run("retryable codes", func(t *testing.T) {
		for _, code := range retryableCodes {
			t.Run(strconv.Itoa(int(code)), func(t *testing.T) {
				err := Error{Code: code}
				assert.True(t, err.RetryableRead())
				assert.True(t, err.RetryableWrite(retryableServerDesc))
			})
		}
	})

	t.Run("non-retryable without label or code", func(t *testing.T) {
		err := Error{Code: 11000, Message: "duplicate key"}
		assert.False(t, err.RetryableRead())
		assert.False(t, err.RetryableWrite(retryableServerDesc))
	})

	t.Run("network label is retryable", func(t *testing.T) {
		err := Error{Message: "socket closed", Labels: []string{NetworkError}}
		assert.True(t, err.NetworkError())
		assert.True(t, err.RetryableRead())
		assert.True(t, err.RetryableWrite(description.Server{}))
	})

	t.Run("retry writes require server support", func(t *testing.T) {
		// Standalone-ish description: no session support means no retryable
		// writes on a server error code.
		err := Error{Code: 11600}
		assert.False(t, err.RetryableWrite(description.Server{}))
	})

	t.Run("namespace not found", func(t *testing.T) {
		assert.True(t, Error{Code: 26}.NamespaceNotFound())
		assert.True(t, Error{Message: "ns not found"}.NamespaceNotFound())
		assert.False(t, Error{Code: 27}.NamespaceNotFound())
	})

	t.Run("cursor not found", func(t *testing.T) {
		assert.True(t, Error{Code: 43}.CursorNotFound())
		assert.False(t, Error{Code: 44}.CursorNotFound())
	})

	t.Run("unsupported storage engine", func(t *testing.T) {
		err := Error{Code: 20, Message: "Transaction numbers are only allowed on..."}
		assert.True(t, err.UnsupportedStorageEngine())
		assert.False(t, Error{Code: 20, Message: "something else"}.UnsupportedStorageEngine())
	})
}
