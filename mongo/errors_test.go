// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/topology"
)

func TestReplaceErrors(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, replaceErrors(nil))
	})

	t.Run("topology closed becomes client disconnected", func(t *testing.T) {
		assert.Equal(t, ErrClientDisconnected, replaceErrors(topology.ErrTopologyClosed))
	})

	t.Run("driver errors become command errors", func(t *testing.T) {
		de := driver.Error{
			Code:    11600,
			Message: "interrupted at shutdown",
			Name:    "InterruptedAtShutdown",
			Labels:  []string{driver.NetworkError},
		}

		err := replaceErrors(de)
		var ce CommandError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, de.Code, ce.Code)
		assert.Equal(t, de.Message, ce.Message)
		assert.Equal(t, de.Name, ce.Name)
		assert.True(t, ce.HasErrorLabel(driver.NetworkError))
	})

	t.Run("wait queue timeouts become network-labeled command errors", func(t *testing.T) {
		qe := topology.WaitQueueTimeoutError{Wrapped: context.DeadlineExceeded}

		err := replaceErrors(qe)
		var ce CommandError
		require.ErrorAs(t, err, &ce)
		assert.True(t, ce.HasErrorLabel(driver.NetworkError))
		assert.ErrorIs(t, ce, context.DeadlineExceeded)
	})

	t.Run("write command errors become write exceptions", func(t *testing.T) {
		wce := driver.WriteCommandError{
			WriteErrors: driver.WriteErrors{
				{Index: 1, Code: 11000, Message: "E11000 duplicate key error"},
			},
			WriteConcernError: &driver.WriteConcernError{
				Name: "ShutdownInProgress", Code: 91, Message: "shutdown in progress",
			},
		}

		err := replaceErrors(wce)
		var we WriteException
		require.ErrorAs(t, err, &we)
		require.Len(t, we.WriteErrors, 1)
		assert.Equal(t, 1, we.WriteErrors[0].Index)
		assert.Equal(t, 11000, we.WriteErrors[0].Code)
		require.NotNil(t, we.WriteConcernError)
		assert.Equal(t, 91, we.WriteConcernError.Code)
	})

	t.Run("unrelated errors pass through", func(t *testing.T) {
		err := errors.New("boom")
		assert.Equal(t, err, replaceErrors(err))
	})
}

func TestProcessWriteError(t *testing.T) {
	t.Run("unacknowledged", func(t *testing.T) {
		ack, err := processWriteError(driver.ErrUnacknowledgedWrite)
		assert.False(t, ack)
		assert.NoError(t, err)
	})

	t.Run("write command error", func(t *testing.T) {
		ack, err := processWriteError(driver.WriteCommandError{
			WriteErrors: driver.WriteErrors{{Code: 11000}},
		})
		assert.True(t, ack)
		var we WriteException
		require.ErrorAs(t, err, &we)
	})

	t.Run("success", func(t *testing.T) {
		ack, err := processWriteError(nil)
		assert.True(t, ack)
		assert.NoError(t, err)
	})
}

func TestIsDuplicateKeyError(t *testing.T) {
	assert.True(t, IsDuplicateKeyError(CommandError{Code: 11000}))
	assert.True(t, IsDuplicateKeyError(WriteException{WriteErrors: WriteErrors{{Code: 11001}}}))
	assert.True(t, IsDuplicateKeyError(CommandError{Code: 16460, Message: "retry loop: E11000 dup"}))
	assert.False(t, IsDuplicateKeyError(CommandError{Code: 26}))
	assert.False(t, IsDuplicateKeyError(errors.New("not a server error")))
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsTimeout(fmt.Errorf("op failed: %w", context.DeadlineExceeded)))
	assert.True(t, IsTimeout(CommandError{Code: 50}))
	assert.True(t, IsTimeout(CommandError{Name: "MaxTimeMSExpired"}))
	assert.True(t, IsTimeout(WriteException{WriteConcernError: &WriteConcernError{Code: 50}}))
	assert.False(t, IsTimeout(CommandError{Code: 11000}))
	assert.False(t, IsTimeout(nil))
}

func TestIsNetworkError(t *testing.T) {
	assert.True(t, IsNetworkError(CommandError{Labels: []string{driver.NetworkError}}))
	assert.False(t, IsNetworkError(CommandError{Labels: []string{driver.TransientTransactionError}}))
	assert.False(t, IsNetworkError(errors.New("boom")))
	assert.False(t, IsNetworkError(nil))
}
