// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package options

import (
	"github.com/ikmak/mongocore/mongo/readconcern"
	"github.com/ikmak/mongocore/mongo/readpref"
	"github.com/ikmak/mongocore/mongo/writeconcern"
)

// SessionOptions contains options to configure a Session.
type SessionOptions struct {
	// CausalConsistency specifies whether causal consistency should be
	// enabled. The default is true unless Snapshot is set.
	CausalConsistency *bool

	// DefaultReadConcern, DefaultReadPreference and DefaultWriteConcern are
	// the defaults for transactions started in the session. They have lower
	// precedence than per-transaction options and higher precedence than the
	// client's defaults.
	DefaultReadConcern    *readconcern.ReadConcern
	DefaultReadPreference *readpref.ReadPref
	DefaultWriteConcern   *writeconcern.WriteConcern

	// Snapshot specifies whether the session reads from a consistent
	// snapshot. Snapshot sessions cannot be causally consistent and cannot
	// run transactions.
	Snapshot *bool
}

// Session creates a new SessionOptions instance.
func Session() *SessionOptions {
	return &SessionOptions{}
}

// MergeSessionOptions combines the given SessionOptions, with later options
// overriding earlier ones.
func MergeSessionOptions(opts ...*SessionOptions) *SessionOptions {
	s := Session()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.CausalConsistency != nil {
			s.CausalConsistency = opt.CausalConsistency
		}
		if opt.DefaultReadConcern != nil {
			s.DefaultReadConcern = opt.DefaultReadConcern
		}
		if opt.DefaultReadPreference != nil {
			s.DefaultReadPreference = opt.DefaultReadPreference
		}
		if opt.DefaultWriteConcern != nil {
			s.DefaultWriteConcern = opt.DefaultWriteConcern
		}
		if opt.Snapshot != nil {
			s.Snapshot = opt.Snapshot
		}
	}
	return s
}

// TransactionOptions contains options to configure a transaction started
// through Session.StartTransaction. Unset fields fall back to the session's
// defaults, then to the client's.
type TransactionOptions struct {
	ReadConcern    *readconcern.ReadConcern
	ReadPreference *readpref.ReadPref
	WriteConcern   *writeconcern.WriteConcern
}

// Transaction creates a new TransactionOptions instance.
func Transaction() *TransactionOptions {
	return &TransactionOptions{}
}

// MergeTransactionOptions combines the given TransactionOptions, with later
// options overriding earlier ones.
func MergeTransactionOptions(opts ...*TransactionOptions) *TransactionOptions {
	t := Transaction()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.ReadConcern != nil {
			t.ReadConcern = opt.ReadConcern
		}
		if opt.ReadPreference != nil {
			t.ReadPreference = opt.ReadPreference
		}
		if opt.WriteConcern != nil {
			t.WriteConcern = opt.WriteConcern
		}
	}
	return t
}
