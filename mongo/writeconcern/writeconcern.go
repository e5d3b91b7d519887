// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package writeconcern defines write concerns for MongoDB operations.
package writeconcern

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

var (
	// ErrEmptyWriteConcern indicates that a write concern has no fields set.
	ErrEmptyWriteConcern = errors.New("a write concern must have at least one field set")
	// ErrNegativeW indicates that a negative integer `w` field was specified.
	ErrNegativeW = errors.New("write concern `w` field cannot be a negative number")
	// ErrInconsistent indicates that an inconsistent write concern was specified.
	ErrInconsistent = errors.New("a write concern cannot have both w=0 and j=true")
)

// WriteConcern describes the level of acknowledgment requested from MongoDB
// for write operations. A nil *WriteConcern means the server default. The W
// field may hold an int or the string "majority".
type WriteConcern struct {
	W        interface{}
	Journal  *bool
	WTimeout time.Duration
}

// Majority returns a write concern that requests acknowledgment that write
// operations have propagated to the majority of the data-bearing voting
// members.
func Majority() *WriteConcern {
	return &WriteConcern{W: "majority"}
}

// W1 returns a write concern that requests acknowledgment from a single
// data-bearing member.
func W1() *WriteConcern {
	return &WriteConcern{W: 1}
}

// Unacknowledged returns a write concern that requests no acknowledgment of
// write operations.
func Unacknowledged() *WriteConcern {
	return &WriteConcern{W: 0}
}

// Acknowledged indicates whether or not a write with the given write concern
// will be acknowledged. A nil write concern uses the server default, which is
// acknowledged.
func (wc *WriteConcern) Acknowledged() bool {
	if wc == nil || wc.Journal != nil && *wc.Journal {
		return true
	}
	if w, ok := wc.W.(int); ok && w == 0 {
		return false
	}
	return true
}

// IsValid reports whether the write concern is a combination the server could
// accept.
func (wc *WriteConcern) IsValid() bool {
	if wc == nil || wc.Journal == nil || !*wc.Journal {
		return true
	}
	w, ok := wc.W.(int)
	return !ok || w != 0
}

// Document builds the writeConcern document for the wire. It errors on
// locally detectable invalid combinations so no network I/O happens for a
// write concern the server would reject anyway.
func (wc *WriteConcern) Document() (bsoncore.Document, error) {
	if wc == nil {
		return nil, ErrEmptyWriteConcern
	}
	if !wc.IsValid() {
		return nil, ErrInconsistent
	}

	var elems []byte
	switch w := wc.W.(type) {
	case int:
		if w < 0 {
			return nil, ErrNegativeW
		}
		elems = bsoncore.AppendInt32Element(elems, "w", int32(w))
	case string:
		elems = bsoncore.AppendStringElement(elems, "w", w)
	}
	if wc.Journal != nil {
		elems = bsoncore.AppendBooleanElement(elems, "j", *wc.Journal)
	}
	if wc.WTimeout != 0 {
		// wtimeout is in milliseconds and stays 64-bit on the wire.
		elems = bsoncore.AppendInt64Element(elems, "wtimeout", int64(wc.WTimeout/time.Millisecond))
	}
	if len(elems) == 0 {
		return nil, ErrEmptyWriteConcern
	}
	return bsoncore.BuildDocument(nil, elems), nil
}
