// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
	"go.uber.org/goleak"

	"github.com/ikmak/mongocore/driver/address"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTransport struct {
	closed int32
}

func (ft *fakeTransport) RoundTrip(context.Context, bsoncore.Document) (bsoncore.Document, error) {
	return bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendDoubleElement(nil, "ok", 1)), nil
}

func (ft *fakeTransport) Send(context.Context, bsoncore.Document) error { return nil }

func (ft *fakeTransport) Close() error {
	atomic.StoreInt32(&ft.closed, 1)
	return nil
}

func (ft *fakeTransport) isClosed() bool { return atomic.LoadInt32(&ft.closed) == 1 }

func countingFactory(dials *int32) TransportFactory {
	return func(context.Context, address.Address) (Transport, error) {
		atomic.AddInt32(dials, 1)
		return &fakeTransport{}, nil
	}
}

func newTestPool(t *testing.T, maxSize uint64, waitTimeout time.Duration, dials *int32) *pool {
	t.Helper()
	p, err := newPool(poolConfig{
		Address:          address.Address("localhost:27017"),
		MaxPoolSize:      maxSize,
		WaitQueueTimeout: waitTimeout,
		Factory:          countingFactory(dials),
	})
	require.NoError(t, err)
	t.Cleanup(p.close)
	return p
}

func TestPoolCheckOut(t *testing.T) {
	t.Run("bounded by maxPoolSize", func(t *testing.T) {
		var dials int32
		p := newTestPool(t, 2, 10*time.Millisecond, &dials)

		c1, err := p.checkOut(context.Background())
		require.NoError(t, err)
		c2, err := p.checkOut(context.Background())
		require.NoError(t, err)

		_, err = p.checkOut(context.Background())
		var wqErr WaitQueueTimeoutError
		require.ErrorAs(t, err, &wqErr)
		assert.True(t, wqErr.Retryable())
		assert.Equal(t, uint64(2), wqErr.MaxPoolSize)
		assert.Equal(t, 2, wqErr.TotalConnectionCount)
		assert.Equal(t, 0, wqErr.AvailableConnectionCount)

		// A check-in frees a slot for the blocked checkout.
		require.NoError(t, p.checkIn(c1))
		c3, err := p.checkOut(context.Background())
		require.NoError(t, err)

		require.NoError(t, p.checkIn(c2))
		require.NoError(t, p.checkIn(c3))
	})

	t.Run("recycles idle connections", func(t *testing.T) {
		var dials int32
		p := newTestPool(t, 4, 0, &dials)

		c1, err := p.checkOut(context.Background())
		require.NoError(t, err)
		require.NoError(t, p.checkIn(c1))

		c2, err := p.checkOut(context.Background())
		require.NoError(t, err)
		require.NoError(t, p.checkIn(c2))

		assert.Same(t, c1, c2)
		assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
	})

	t.Run("closed pool", func(t *testing.T) {
		var dials int32
		p := newTestPool(t, 1, 0, &dials)
		p.close()

		_, err := p.checkOut(context.Background())
		assert.Equal(t, ErrPoolClosed, err)
	})

	t.Run("respects context cancellation while waiting", func(t *testing.T) {
		var dials int32
		p := newTestPool(t, 1, 0, &dials)

		c1, err := p.checkOut(context.Background())
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = p.checkOut(ctx)
		var wqErr WaitQueueTimeoutError
		require.ErrorAs(t, err, &wqErr)

		require.NoError(t, p.checkIn(c1))
	})
}

func TestPoolCheckIn(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		var dials int32
		p := newTestPool(t, 1, 10*time.Millisecond, &dials)

		c1, err := p.checkOut(context.Background())
		require.NoError(t, err)
		require.NoError(t, p.checkIn(c1))
		// A second check-in must not release the pool slot twice.
		require.NoError(t, p.checkIn(c1))

		c2, err := p.checkOut(context.Background())
		require.NoError(t, err)
		_, err = p.checkOut(context.Background())
		var wqErr WaitQueueTimeoutError
		require.ErrorAs(t, err, &wqErr)

		require.NoError(t, p.checkIn(c2))
	})

	t.Run("perished connections are destroyed", func(t *testing.T) {
		var dials int32
		p := newTestPool(t, 1, 0, &dials)

		c1, err := p.checkOut(context.Background())
		require.NoError(t, err)
		ft := c1.transport.(*fakeTransport)

		require.NoError(t, c1.Expire())
		assert.True(t, ft.isClosed())

		// The next checkout dials a fresh connection.
		c2, err := p.checkOut(context.Background())
		require.NoError(t, err)
		assert.NotSame(t, c1, c2)
		assert.Equal(t, int32(2), atomic.LoadInt32(&dials))
		require.NoError(t, p.checkIn(c2))
	})
}

func TestPoolClear(t *testing.T) {
	var dials int32
	p := newTestPool(t, 2, 0, &dials)

	c1, err := p.checkOut(context.Background())
	require.NoError(t, err)
	ft := c1.transport.(*fakeTransport)

	p.clear()

	// A stale connection coming back after a clear is destroyed, not recycled.
	require.NoError(t, p.checkIn(c1))
	assert.True(t, ft.isClosed())

	c2, err := p.checkOut(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p.generation, c2.generation)
	require.NoError(t, p.checkIn(c2))
}

func TestPoolWithConnection(t *testing.T) {
	var dials int32
	p := newTestPool(t, 1, 10*time.Millisecond, &dials)

	err := p.withConnection(context.Background(), func(conn *connection) error {
		assert.True(t, conn.Alive())
		return nil
	})
	require.NoError(t, err)

	// The connection was checked back in on return.
	c, err := p.checkOut(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.checkIn(c))
}
