// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package readpref defines read preferences that describe which kinds of
// servers in a deployment are eligible to serve a read operation.
package readpref

import (
	"fmt"
	"time"
)

// Mode indicates the user's preference on reads.
type Mode uint8

// Mode constants.
const (
	_ Mode = iota
	// PrimaryMode indicates that only a primary is usable for reading.
	PrimaryMode
	// PrimaryPreferredMode indicates that if a primary is available, use it;
	// otherwise, eligible secondaries will be considered.
	PrimaryPreferredMode
	// SecondaryMode indicates that only secondaries should be considered.
	SecondaryMode
	// SecondaryPreferredMode indicates that only secondaries should be
	// considered when one is available.
	SecondaryPreferredMode
	// NearestMode indicates that all primaries and secondaries will be considered.
	NearestMode
)

// String returns the server-side name of the mode.
func (mode Mode) String() string {
	switch mode {
	case PrimaryMode:
		return "primary"
	case PrimaryPreferredMode:
		return "primaryPreferred"
	case SecondaryMode:
		return "secondary"
	case SecondaryPreferredMode:
		return "secondaryPreferred"
	case NearestMode:
		return "nearest"
	}
	return "unknown"
}

// ReadPref determines which servers are considered suitable for read operations.
type ReadPref struct {
	mode            Mode
	maxStaleness    time.Duration
	maxStalenessSet bool
}

// Primary constructs a read preference with a PrimaryMode.
func Primary() *ReadPref {
	return &ReadPref{mode: PrimaryMode}
}

// PrimaryPreferred constructs a read preference with a PrimaryPreferredMode.
func PrimaryPreferred() *ReadPref {
	return &ReadPref{mode: PrimaryPreferredMode}
}

// Secondary constructs a read preference with a SecondaryMode.
func Secondary() *ReadPref {
	return &ReadPref{mode: SecondaryMode}
}

// SecondaryPreferred constructs a read preference with a SecondaryPreferredMode.
func SecondaryPreferred() *ReadPref {
	return &ReadPref{mode: SecondaryPreferredMode}
}

// Nearest constructs a read preference with a NearestMode.
func Nearest() *ReadPref {
	return &ReadPref{mode: NearestMode}
}

// New creates a new ReadPref for the given mode.
func New(mode Mode) (*ReadPref, error) {
	if mode < PrimaryMode || mode > NearestMode {
		return nil, fmt.Errorf("invalid read preference mode %d", mode)
	}
	return &ReadPref{mode: mode}, nil
}

// Mode indicates the mode of the read preference.
func (r *ReadPref) Mode() Mode {
	return r.mode
}

// MaxStaleness is the maximum amount of time to allow a server to be
// considered eligible for selection. The second return value is true if this
// value has been set.
func (r *ReadPref) MaxStaleness() (time.Duration, bool) {
	return r.maxStaleness, r.maxStalenessSet
}

// WithMaxStaleness returns a copy of r with the given maximum staleness.
func (r *ReadPref) WithMaxStaleness(d time.Duration) *ReadPref {
	rp := *r
	rp.maxStaleness = d
	rp.maxStalenessSet = true
	return &rp
}
