// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPoolClosed is returned when attempting to check out a connection from a
// closed pool.
var ErrPoolClosed = errors.New("attempted to check out a connection from closed connection pool")

// ErrConnectionClosed is returned when using a connection that has been closed.
var ErrConnectionClosed = errors.New("connection is closed")

// ErrTopologyClosed is returned when a user attempts to call a method on a
// closed Topology.
var ErrTopologyClosed = errors.New("topology is closed")

// ErrServerSelectionFailed is returned when no server matched the selector.
var ErrServerSelectionFailed = errors.New("server selection failed")

// ServerSelectionError represents a failure to select a usable server from a
// topology description.
type ServerSelectionError struct {
	Desc    interface{ String() string }
	Wrapped error
}

// Error implements the error interface.
func (e ServerSelectionError) Error() string {
	if e.Wrapped != nil && e.Desc != nil {
		return fmt.Sprintf("server selection error: %s, current topology: { %s }", e.Wrapped.Error(), e.Desc.String())
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("server selection error: %s", e.Wrapped.Error())
	}
	return "server selection error"
}

// Unwrap returns the underlying error.
func (e ServerSelectionError) Unwrap() error {
	return e.Wrapped
}

// ConnectionError represents a connection error.
type ConnectionError struct {
	ConnectionID string
	Wrapped      error

	message string
}

// Error implements the error interface.
func (e ConnectionError) Error() string {
	if e.Wrapped != nil && e.message != "" {
		return fmt.Sprintf("connection(%s) %s: %s", e.ConnectionID, e.message, e.Wrapped.Error())
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("connection(%s) %s", e.ConnectionID, e.Wrapped.Error())
	}
	return fmt.Sprintf("connection(%s) %s", e.ConnectionID, e.message)
}

// Unwrap returns the underlying error.
func (e ConnectionError) Unwrap() error {
	return e.Wrapped
}

// WaitQueueTimeoutError represents a timeout when requesting a connection from
// the pool. It is classified retryable: another checkout may succeed once a
// connection frees up.
type WaitQueueTimeoutError struct {
	Wrapped                  error
	MaxPoolSize              uint64
	TotalConnectionCount     int
	AvailableConnectionCount int
	WaitDuration             time.Duration
}

// Error implements the error interface.
func (w WaitQueueTimeoutError) Error() string {
	errorMsg := "timed out while checking out a connection from connection pool"
	if errors.Is(w.Wrapped, context.Canceled) {
		errorMsg = "canceled while checking out a connection from connection pool"
	}

	return fmt.Sprintf(
		"%s; maxPoolSize: %d, connections in use by other operations: %d, idle connections: %d, wait duration: %s",
		errorMsg,
		w.MaxPoolSize,
		w.TotalConnectionCount-w.AvailableConnectionCount,
		w.AvailableConnectionCount,
		w.WaitDuration.String(),
	)
}

// Unwrap returns the underlying error.
func (w WaitQueueTimeoutError) Unwrap() error {
	return w.Wrapped
}

// Retryable marks pool exhaustion as retryable for the operation layer.
func (w WaitQueueTimeoutError) Retryable() bool { return true }
