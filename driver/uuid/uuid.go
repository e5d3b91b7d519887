// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package uuid generates the random UUIDs used as logical session ids.
package uuid

import (
	"crypto/rand"
	"io"
)

// UUID represents a UUID.
type UUID [16]byte

var rsrc = rand.Reader

// New returns a random UUIDv4.
func New() (UUID, error) {
	var uuid UUID
	if _, err := io.ReadFull(rsrc, uuid[:]); err != nil {
		return UUID{}, err
	}
	uuid[6] = (uuid[6] & 0x0f) | 0x40 // version 4
	uuid[8] = (uuid[8] & 0x3f) | 0x80 // variant 10

	return uuid, nil
}

// Equal returns true if two UUIDs are equal.
func Equal(a, b UUID) bool {
	return a == b
}
