// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"sync"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/address"
	"github.com/ikmak/mongocore/driver/description"
)

// Server combines a description of one server with the connection pool for
// it. It implements driver.Server and driver.ErrorProcessor.
type Server struct {
	addr address.Address
	pool *pool

	descMu sync.RWMutex
	desc   description.Server
}

// NewServer creates a server with a fresh connection pool.
func NewServer(desc description.Server, cfg poolConfig) (*Server, error) {
	cfg.Address = desc.Addr
	p, err := newPool(cfg)
	if err != nil {
		return nil, err
	}
	s := &Server{
		addr: desc.Addr,
		pool: p,
		desc: desc,
	}
	p.server = s
	return s, nil
}

// Connection checks a connection out of the server's pool.
func (s *Server) Connection(ctx context.Context) (driver.Connection, error) {
	conn, err := s.pool.checkOut(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// WithConnection runs fn with a checked-out connection, guaranteeing check-in
// on every exit path including panics unwinding through fn's error return.
func (s *Server) WithConnection(ctx context.Context, fn func(driver.Connection) error) error {
	return s.pool.withConnection(ctx, func(conn *connection) error {
		return fn(conn)
	})
}

// Description returns the server's current description.
func (s *Server) Description() description.Server {
	s.descMu.RLock()
	defer s.descMu.RUnlock()
	return s.desc
}

// UpdateDescription stores a new description reported by the monitoring layer.
func (s *Server) UpdateDescription(desc description.Server) {
	s.descMu.Lock()
	s.desc = desc
	s.descMu.Unlock()
}

// ProcessError implements driver.ErrorProcessor. Network errors clear the
// pool: every connection created before the error is presumed broken and will
// be destroyed instead of recycled.
func (s *Server) ProcessError(err error, _ driver.Connection) {
	if err == nil {
		return
	}
	if derr, ok := err.(driver.Error); ok && derr.NetworkError() {
		s.pool.clear()
	}
}

// Close shuts down the server's pool.
func (s *Server) Close() {
	s.pool.close()
}

var (
	_ driver.Server         = (*Server)(nil)
	_ driver.ErrorProcessor = (*Server)(nil)
)
