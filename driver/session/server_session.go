// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package session

import (
	"time"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver/uuid"
)

// Server is an open session with the server. The session id is generated
// client-side as a UUID; the server only learns about it lazily, on the first
// command that carries it.
type Server struct {
	SessionID bsoncore.Document
	TxnNumber int64
	LastUsed  time.Time
	Dirty     bool
}

func newServerSession() (*Server, error) {
	id, err := uuid.New()
	if err != nil {
		return nil, err
	}

	idx, idDoc := bsoncore.AppendDocumentStart(nil)
	idDoc = bsoncore.AppendBinaryElement(idDoc, "id", UUIDSubtype, id[:])
	idDoc, _ = bsoncore.AppendDocumentEnd(idDoc, idx)

	return &Server{SessionID: idDoc, LastUsed: time.Now()}, nil
}

// IncrementTxnNumber increments the transaction number.
func (ss *Server) IncrementTxnNumber() {
	ss.TxnNumber++
}

// MarkDirty marks the session as dirty. Dirty sessions are discarded instead
// of being returned to the pool.
func (ss *Server) MarkDirty() {
	ss.Dirty = true
}

// updateUseTime updates the session's last used time. Must be called whenever
// this session is used to send a command to the server.
func (ss *Server) updateUseTime() {
	ss.LastUsed = time.Now()
}

// expired returns true if the session has expired given the logical session
// timeout. A minute of padding guards against a session expiring server-side
// mid-operation.
func (ss *Server) expired(timeoutMinutes uint32) bool {
	if timeoutMinutes == 0 {
		return false
	}
	timeUnused := time.Since(ss.LastUsed).Minutes()
	return timeUnused > float64(timeoutMinutes)-1
}

// UUIDSubtype is the BSON binary subtype that a UUID should be encoded as.
const UUIDSubtype byte = 4
