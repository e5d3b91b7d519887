// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/ikmak/mongocore/driver/address"
)

const defaultMaxPoolSize = 100

type poolConfig struct {
	Address          address.Address
	MaxPoolSize      uint64
	WaitQueueTimeout time.Duration
	Factory          TransportFactory
	Logger           logrus.FieldLogger
}

// pool manages the bounded set of connections to one server. The invariant it
// maintains: the number of concurrently checked-out connections never exceeds
// MaxPoolSize. Checkouts past the bound block until a slot frees or the wait
// queue timeout elapses.
type pool struct {
	address     address.Address
	maxSize     uint64
	waitTimeout time.Duration
	factory     TransportFactory
	server      *Server
	log         logrus.FieldLogger

	sem    *semaphore.Weighted
	nextID uint64

	mu         sync.Mutex
	idle       []*connection
	generation uint64
	closed     bool
	checkedOut int
}

func newPool(cfg poolConfig) (*pool, error) {
	if cfg.Factory == nil {
		return nil, errors.New("cannot create a connection pool without a transport factory")
	}
	maxSize := cfg.MaxPoolSize
	if maxSize == 0 {
		maxSize = defaultMaxPoolSize
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &pool{
		address:     cfg.Address,
		maxSize:     maxSize,
		waitTimeout: cfg.WaitQueueTimeout,
		factory:     cfg.Factory,
		log:         log.WithField("address", cfg.Address.String()),
		sem:         semaphore.NewWeighted(int64(maxSize)),
	}, nil
}

// checkOut returns a connection for exclusive use by the caller. It blocks
// while the pool is at max size with no idle connection, failing with a
// WaitQueueTimeoutError once the configured wait timeout elapses.
func (p *pool) checkOut(ctx context.Context) (*connection, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	acquireCtx := ctx
	if p.waitTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.waitTimeout)
		defer cancel()
	}

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		p.mu.Lock()
		total := p.checkedOut + len(p.idle)
		idle := len(p.idle)
		p.mu.Unlock()

		werr := WaitQueueTimeoutError{
			Wrapped:                  ctx.Err(),
			MaxPoolSize:              p.maxSize,
			TotalConnectionCount:     total,
			AvailableConnectionCount: idle,
			WaitDuration:             time.Since(start),
		}
		p.log.WithField("waited", time.Since(start)).Debug("connection checkout timed out")
		return nil, werr
	}

	// A slot is held from here on; every exit path below either hands the
	// slot to the caller via the connection or releases it.
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.sem.Release(1)
			return nil, ErrPoolClosed
		}
		var conn *connection
		if n := len(p.idle); n > 0 {
			conn = p.idle[n-1]
			p.idle = p.idle[:n-1]
		}
		gen := p.generation
		if conn != nil && (!conn.Alive() || conn.generation != gen) {
			p.mu.Unlock()
			p.destroy(conn)
			continue
		}
		if conn != nil {
			p.checkedOut++
			p.mu.Unlock()
			atomic.StoreInt32(&conn.checkedIn, 0)
			return conn, nil
		}
		p.mu.Unlock()

		// No idle connection; dial a new one while holding the slot.
		conn, err := p.dial(ctx, gen)
		if err != nil {
			p.sem.Release(1)
			return nil, err
		}
		p.mu.Lock()
		p.checkedOut++
		p.mu.Unlock()
		return conn, nil
	}
}

func (p *pool) dial(ctx context.Context, generation uint64) (*connection, error) {
	id := strconv.FormatUint(atomic.AddUint64(&p.nextID, 1), 10)
	transport, err := p.factory(ctx, p.address)
	if err != nil {
		return nil, ConnectionError{
			ConnectionID: id,
			Wrapped:      errors.Wrap(err, "failed to dial transport"),
			message:      "unable to create new connection",
		}
	}
	conn := &connection{
		id:         id,
		addr:       p.address,
		transport:  transport,
		pool:       p,
		generation: generation,
	}
	p.log.WithField("connection", conn.id).Debug("connection created")
	return conn, nil
}

// checkIn returns a connection to the pool. It is idempotent: checking in a
// connection that has already been checked in, or one that belongs to another
// pool, is a no-op. Perished and stale connections are destroyed rather than
// recycled.
func (p *pool) checkIn(conn *connection) error {
	if conn == nil || conn.pool != p {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&conn.checkedIn, 0, 1) {
		return nil
	}

	p.mu.Lock()
	p.checkedOut--
	recycle := !p.closed && conn.Alive() && conn.generation == p.generation
	if recycle {
		p.idle = append(p.idle, conn)
	}
	p.mu.Unlock()
	p.sem.Release(1)

	if !recycle {
		p.destroy(conn)
	}
	return nil
}

// withConnection runs fn with a checked-out connection, guaranteeing check-in
// on every exit path.
func (p *pool) withConnection(ctx context.Context, fn func(*connection) error) error {
	conn, err := p.checkOut(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.checkIn(conn) }()
	return fn(conn)
}

// destroy closes a connection's transport. The pool slot has already been
// accounted for by the caller.
func (p *pool) destroy(conn *connection) {
	if err := conn.closeTransport(); err != nil {
		p.log.WithField("connection", conn.id).WithError(err).Debug("error closing connection transport")
		return
	}
	p.log.WithField("connection", conn.id).Debug("connection closed")
}

// clear bumps the pool's generation. Idle connections are destroyed
// immediately; checked-out connections from the old generation are destroyed
// lazily when they come back.
func (p *pool) clear() {
	p.mu.Lock()
	p.generation++
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, conn := range idle {
		p.destroy(conn)
	}
	p.log.Debug("connection pool cleared")
}

// close shuts the pool down. Subsequent checkouts fail with ErrPoolClosed.
func (p *pool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, conn := range idle {
		p.destroy(conn)
	}
}
