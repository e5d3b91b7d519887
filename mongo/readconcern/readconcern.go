// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package readconcern defines read concerns for MongoDB operations.
package readconcern

import (
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// ReadConcern for replica sets and replica set shards determines which data to
// return from a query.
type ReadConcern struct {
	Level string
}

// Local returns a read concern that requests data from the instance with no
// guarantee that it has been written to a majority of the replica set members.
func Local() *ReadConcern {
	return &ReadConcern{Level: "local"}
}

// Majority returns a read concern that requests data that has been
// acknowledged by a majority of the replica set members.
func Majority() *ReadConcern {
	return &ReadConcern{Level: "majority"}
}

// Linearizable returns a read concern that requests data that reflects all
// successful majority-acknowledged writes completed prior to the start of the
// read.
func Linearizable() *ReadConcern {
	return &ReadConcern{Level: "linearizable"}
}

// Available returns a read concern that requests data from an instance with no
// guarantee that it has been written to a majority of the replica set members.
func Available() *ReadConcern {
	return &ReadConcern{Level: "available"}
}

// Snapshot returns a read concern that requests majority-committed data as it
// appears across shards from a specific single point in time.
func Snapshot() *ReadConcern {
	return &ReadConcern{Level: "snapshot"}
}

// AppendLevel appends the level element, if any, to a readConcern document
// under construction. Causal-consistency fields are appended separately by the
// operation layer, so a read concern with no level still produces a valid
// (possibly empty) document there.
func (rc *ReadConcern) AppendLevel(dst []byte) []byte {
	if rc != nil && rc.Level != "" {
		dst = bsoncore.AppendStringElement(dst, "level", rc.Level)
	}
	return dst
}
