// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/description"
	"github.com/ikmak/mongocore/driver/operation"
	"github.com/ikmak/mongocore/driver/session"
	"github.com/ikmak/mongocore/mongo/options"
)

// sessionKey is the context key for a Session bound with NewSessionContext.
type sessionKey struct{}

// NewSessionContext returns a Context that holds the given Session. Operations
// run with the returned context are executed under the session.
func NewSessionContext(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFromContext extracts the Session bound to ctx, or nil.
func SessionFromContext(ctx context.Context) *Session {
	if ctx == nil {
		return nil
	}
	sess, ok := ctx.Value(sessionKey{}).(*Session)
	if !ok {
		return nil
	}
	return sess
}

// sessionFromContext returns the driver-level session bound to ctx, or nil.
func sessionFromContext(ctx context.Context) *session.Client {
	sess := SessionFromContext(ctx)
	if sess == nil {
		return nil
	}
	return sess.clientSession
}

// Session represents a logical session: a potentially multi-operation unit of
// work with causal consistency and transaction support. A Session is not safe
// for concurrent use; each operation on it must fully complete before the
// next begins.
type Session struct {
	clientSession *session.Client
	client        *Client

	// didCommitAfterStart is true when a commit has been sent for a
	// transaction that never dispatched an operation.
	didCommitAfterStart bool
}

// ID returns the current ID document for the session.
func (s *Session) ID() bson.Raw {
	return bson.Raw(s.clientSession.SessionID())
}

// Client returns the Client associated with the session.
func (s *Session) Client() *Client {
	return s.client
}

// AdvanceClusterTime advances the cluster time for the session; the tracked
// time never regresses.
func (s *Session) AdvanceClusterTime(d bson.Raw) error {
	return s.clientSession.AdvanceClusterTime(d)
}

// AdvanceOperationTime advances the operation time for the session; the
// tracked time never regresses.
func (s *Session) AdvanceOperationTime(ts *primitive.Timestamp) error {
	return s.clientSession.AdvanceOperationTime(ts)
}

// ClusterTime returns the current cluster time document of the session.
func (s *Session) ClusterTime() bson.Raw {
	return s.clientSession.ClusterTime
}

// OperationTime returns the current operation time of the session.
func (s *Session) OperationTime() *primitive.Timestamp {
	return s.clientSession.OperationTime
}

// StartTransaction starts a new transaction. It returns an error if the
// session already has a transaction starting or in progress. Option
// precedence is per-call, then session default, then client default.
func (s *Session) StartTransaction(opts ...*options.TransactionOptions) error {
	err := s.clientSession.CheckStartTransaction()
	if err != nil {
		return err
	}

	s.didCommitAfterStart = false
	topts := options.MergeTransactionOptions(opts...)
	coreOpts := &session.TransactionOptions{
		ReadConcern:    topts.ReadConcern,
		ReadPreference: topts.ReadPreference,
		WriteConcern:   topts.WriteConcern,
	}

	return s.clientSession.StartTransaction(coreOpts)
}

// CommitTransaction commits the active transaction for the session. It
// returns an error if there is no active or prepared transaction. The commit
// is retried once after a retryable failure; the retry upgrades the write
// concern to majority because the first attempt may have partially
// replicated.
func (s *Session) CommitTransaction(ctx context.Context) error {
	err := s.clientSession.CheckCommitTransaction()
	if err != nil {
		return err
	}

	// A transaction that dispatched no operations needs no commit command,
	// and a re-commit of such a transaction is also a no-op.
	if s.clientSession.TransactionStarting() || (s.clientSession.TransactionCommitted() && !s.didCommitAfterStart) {
		s.didCommitAfterStart = s.clientSession.TransactionStarting()
		return s.clientSession.CommitTransaction()
	}

	if s.clientSession.TransactionCommitted() {
		s.clientSession.RetryingCommit = true
	}

	s.clientSession.Committing = true
	defer func() {
		s.clientSession.Committing = false
	}()

	rt := driver.RetryOncePerCommand
	op := operation.CommitTransaction{
		Session:       s.clientSession,
		Clock:         s.client.clock,
		Deployment:    s.client.deployment,
		Selector:      description.WriteSelector(),
		WriteConcern:  s.clientSession.CurrentWc,
		RecoveryToken: bsoncore.Document(s.clientSession.RecoveryToken),
		Retry:         &rt,
	}
	err = op.Execute(ctx)

	// A timeout does not settle the transaction's outcome; leave the state
	// alone so the caller can retry the commit.
	if IsTimeout(replaceErrors(err)) {
		return replaceErrors(err)
	}

	if cerr := s.clientSession.CommitTransaction(); cerr != nil {
		err = cerr
	}
	// The write concern for any caller-driven commit retry is upgraded the
	// same way as for the automatic one.
	s.clientSession.UpdateCommitTransactionWriteConcern()

	return replaceErrors(err)
}

// AbortTransaction aborts the active transaction for the session. Errors from
// the abort command itself are swallowed: the caller's intent to give up on
// the transaction is satisfied regardless of the command's own outcome.
func (s *Session) AbortTransaction(ctx context.Context) error {
	err := s.clientSession.CheckAbortTransaction()
	if err != nil {
		return err
	}

	// A transaction that dispatched no operations needs no abort command.
	if s.clientSession.TransactionStarting() {
		return s.clientSession.AbortTransaction()
	}

	s.clientSession.Aborting = true
	op := operation.AbortTransaction{
		Session:       s.clientSession,
		Clock:         s.client.clock,
		Deployment:    s.client.deployment,
		Selector:      description.WriteSelector(),
		WriteConcern:  s.clientSession.CurrentWc,
		RecoveryToken: bsoncore.Document(s.clientSession.RecoveryToken),
	}
	_ = op.Execute(ctx)

	s.clientSession.Aborting = false
	return s.clientSession.AbortTransaction()
}

// EndSession ends the session and returns its server session to the client's
// pool. An in-progress transaction is aborted first. Any use of the session
// afterwards fails.
func (s *Session) EndSession(ctx context.Context) {
	if s.clientSession.TransactionInProgress() {
		// ignore all errors aborting during an end session
		_ = s.AbortTransaction(ctx)
	}
	s.clientSession.EndSession()
}
