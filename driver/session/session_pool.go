// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package session

import (
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// Node represents a server session in a linked list.
type Node struct {
	*Server
	next *Node
	prev *Node
}

// Pool is a pool of server sessions that can be reused. Sessions are returned
// to the pool on EndSession and handed back out most-recently-used first so
// that idle sessions age out together.
type Pool struct {
	head           *Node
	tail           *Node
	timeoutMinutes uint32
	mutex          sync.Mutex // mutex to protect list and sessionTimeout
}

// NewPool creates a new server session pool.
func NewPool(timeoutMinutes uint32) *Pool {
	return &Pool{timeoutMinutes: timeoutMinutes}
}

// UpdateTimeout stores the most recent logical session timeout reported by the
// monitoring layer.
func (p *Pool) UpdateTimeout(timeoutMinutes uint32) {
	atomic.StoreUint32(&p.timeoutMinutes, timeoutMinutes)
}

func (p *Pool) timeout() uint32 {
	return atomic.LoadUint32(&p.timeoutMinutes)
}

// GetSession retrieves an unexpired session from the pool, or creates a fresh
// one when none is available.
func (p *Pool) GetSession() (*Server, error) {
	p.mutex.Lock()

	// empty pool
	if p.head == nil && p.tail == nil {
		p.mutex.Unlock()
		return newServerSession()
	}

	for p.head != nil {
		// pull session from head of queue and return if it is valid for at least 1 more minute
		if p.head.expired(p.timeout()) {
			p.head = p.head.next
			continue
		}

		// found unexpired session
		session := p.head.Server
		if p.head.next != nil {
			p.head.next.prev = nil
		}
		if p.tail == p.head {
			p.tail = nil
		}
		p.head = p.head.next

		p.mutex.Unlock()
		return session, nil
	}

	// no valid session found
	p.tail = nil // empty list
	p.mutex.Unlock()
	return newServerSession()
}

// ReturnSession returns a session to the pool if it has not expired. Dirty
// sessions, typically ones that saw a network error mid-command, are discarded
// because their server-side state is unknown.
func (p *Pool) ReturnSession(ss *Server) {
	if ss == nil || ss.Dirty || ss.expired(p.timeout()) {
		return
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	// drop expired sessions from the tail before returning this one
	for p.tail != nil && p.tail.expired(p.timeout()) {
		p.tail = p.tail.prev
		if p.tail != nil {
			p.tail.next = nil
		} else {
			p.head = nil
		}
	}

	newNode := &Node{
		Server: ss,
		next:   p.head,
	}
	if p.head != nil {
		p.head.prev = newNode
	}
	p.head = newNode
	if p.tail == nil {
		p.tail = newNode
	}
}

// IDSlices returns the session ids of every pooled session, for use in an
// endSessions command at shutdown.
func (p *Pool) IDSlices() []bsoncore.Document {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var ids []bsoncore.Document
	for node := p.head; node != nil; node = node.next {
		ids = append(ids, node.SessionID)
	}
	return ids
}
