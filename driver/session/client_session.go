// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package session implements logical sessions: the unit of work that carries
// causal-consistency tokens and transaction state across operations.
package session

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver/description"
	"github.com/ikmak/mongocore/driver/uuid"
	"github.com/ikmak/mongocore/mongo/readconcern"
	"github.com/ikmak/mongocore/mongo/readpref"
	"github.com/ikmak/mongocore/mongo/writeconcern"
)

// ErrSessionEnded is returned when a client session is used after calling
// EndSession.
var ErrSessionEnded = errors.New("ended session was used")

// ErrNoTransactStarted is returned when a transaction operation is called when
// no transaction has started.
var ErrNoTransactStarted = errors.New("no transaction started")

// ErrTransactInProgress is returned when a transaction is started while
// another transaction is in progress.
var ErrTransactInProgress = errors.New("transaction already in progress")

// ErrAbortAfterCommit is returned when abort is called after a commit.
var ErrAbortAfterCommit = errors.New("cannot call abortTransaction after calling commitTransaction")

// ErrAbortTwice is returned when abort is called after transaction is already aborted.
var ErrAbortTwice = errors.New("cannot call abortTransaction twice")

// ErrCommitAfterAbort is returned when commit is called after an abort.
var ErrCommitAfterAbort = errors.New("cannot call commitTransaction after calling abortTransaction")

// ErrUnackWCUnsupported is returned when an unacknowledged write concern is
// supported for a transaction.
var ErrUnackWCUnsupported = errors.New("transactions do not support unacknowledged write concerns")

// ErrSnapshotTransaction is returned when an transaction is started on a
// snapshot session.
var ErrSnapshotTransaction = errors.New("transactions are not supported in snapshot sessions")

// TransactionState indicates the state of the client session's transaction
// sub-state machine.
type TransactionState uint8

// Client session transaction states.
const (
	None TransactionState = iota
	Starting
	InProgress
	Committed
	Aborted
)

// String implements the fmt.Stringer interface.
func (s TransactionState) String() string {
	switch s {
	case None:
		return "none"
	case Starting:
		return "starting"
	case InProgress:
		return "in progress"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// PinnedConnection is the subset of a driver connection that a session can pin
// for the remainder of a transaction. The concrete type always satisfies the
// driver's full Connection interface; this narrow view avoids an import cycle.
type PinnedConnection interface {
	ID() string
	Close() error
}

// Client is a session for clients to run commands. It is not safe for
// concurrent use: callers must finish one operation on a session, including
// consuming its causal-consistency updates, before starting the next.
type Client struct {
	ClusterTime   bson.Raw
	OperationTime *primitive.Timestamp
	IsImplicit    bool
	Terminated    bool
	Consistent    bool // causal consistency
	Snapshot      bool
	SnapshotTime  *primitive.Timestamp
	ClientID      uuid.UUID

	pool          *Pool
	serverSession *Server

	// default transaction options, settled at session creation with
	// precedence session-default > client-default
	transactionRc *readconcern.ReadConcern
	transactionWc *writeconcern.WriteConcern
	transactionRp *readpref.ReadPref

	// options for the current transaction, settled at StartTransaction with
	// precedence per-call > session-default > client-default
	CurrentRc *readconcern.ReadConcern
	CurrentWc *writeconcern.WriteConcern
	CurrentRp *readpref.ReadPref

	TransactionState TransactionState
	Committing       bool
	Aborting         bool
	RetryingCommit   bool

	// PinnedServer is the server a sharded transaction is pinned to for its
	// remainder. PinnedConnection is set when the deployment additionally
	// requires all commands of a transaction to use one connection.
	PinnedServer     *description.Server
	PinnedConnection PinnedConnection

	// RecoveryToken is the most recent recovery token seen in a response
	// during a sharded transaction. It is sent back with commitTransaction
	// and abortTransaction so a different mongos can recover the outcome.
	RecoveryToken bson.Raw
}

// Type describes the type of the session.
type Type uint8

// These constants are the valid types for a client session.
const (
	Explicit Type = iota
	Implicit
)

func getClusterTime(clusterTime bson.Raw) (uint32, uint32) {
	if clusterTime == nil {
		return 0, 0
	}

	clusterTimeVal, err := clusterTime.LookupErr("$clusterTime")
	if err != nil {
		return 0, 0
	}

	timestampVal, err := clusterTimeVal.Document().LookupErr("clusterTime")
	if err != nil {
		return 0, 0
	}

	t, i, _ := timestampVal.TimestampOK()
	return t, i
}

// MaxClusterTime compares 2 clusterTime documents and returns the document
// representing the highest cluster time.
func MaxClusterTime(ct1, ct2 bson.Raw) bson.Raw {
	epoch1, ord1 := getClusterTime(ct1)
	epoch2, ord2 := getClusterTime(ct2)

	switch {
	case epoch1 > epoch2:
		return ct1
	case epoch1 < epoch2:
		return ct2
	case ord1 > ord2:
		return ct1
	case ord1 < ord2:
		return ct2
	}

	return ct1
}

// NewClientSession creates a Client. The server session is drawn lazily from
// the pool so that session creation itself performs no network I/O.
func NewClientSession(pool *Pool, clientID uuid.UUID, sessionType Type, opts ...*ClientOptions) (*Client, error) {
	mergedOpts := mergeClientOptions(opts...)

	c := &Client{
		ClientID:   clientID,
		IsImplicit: sessionType == Implicit,
		pool:       pool,
	}

	c.Consistent = true // causal consistency defaults to true
	if mergedOpts.Snapshot != nil && *mergedOpts.Snapshot {
		if mergedOpts.CausalConsistency != nil && *mergedOpts.CausalConsistency {
			return nil, errors.New("causal consistency and snapshot cannot both be set for a session")
		}
		c.Snapshot = true
		c.Consistent = false
	} else if mergedOpts.CausalConsistency != nil {
		c.Consistent = *mergedOpts.CausalConsistency
	}
	c.transactionRc = mergedOpts.DefaultReadConcern
	c.transactionWc = mergedOpts.DefaultWriteConcern
	c.transactionRp = mergedOpts.DefaultReadPreference

	servSess, err := pool.GetSession()
	if err != nil {
		return nil, err
	}
	c.serverSession = servSess

	return c, nil
}

// SessionID returns the id document of the underlying server session.
func (c *Client) SessionID() bsoncore.Document {
	if c.serverSession == nil {
		return nil
	}
	return c.serverSession.SessionID
}

// TxnNumber returns the current transaction number.
func (c *Client) TxnNumber() int64 {
	if c.serverSession == nil {
		return 0
	}
	return c.serverSession.TxnNumber
}

// AdvanceClusterTime updates the session's cluster time. The tracked time only
// ever moves forward.
func (c *Client) AdvanceClusterTime(clusterTime bson.Raw) error {
	if c.Terminated {
		return ErrSessionEnded
	}
	c.ClusterTime = MaxClusterTime(c.ClusterTime, clusterTime)
	return nil
}

// AdvanceOperationTime updates the session's operation time. The tracked time
// only ever moves forward.
func (c *Client) AdvanceOperationTime(opTime *primitive.Timestamp) error {
	if c.Terminated {
		return ErrSessionEnded
	}
	if opTime == nil {
		return nil
	}

	switch {
	case c.OperationTime == nil:
		c.OperationTime = opTime
	case opTime.T > c.OperationTime.T:
		c.OperationTime = opTime
	case opTime.T == c.OperationTime.T && opTime.I > c.OperationTime.I:
		c.OperationTime = opTime
	}
	return nil
}

// UpdateUseTime sets the session's last used time to the current time. This
// must be called whenever the session is used to send a command to the server.
func (c *Client) UpdateUseTime() error {
	if c.Terminated {
		return ErrSessionEnded
	}
	c.serverSession.updateUseTime()
	return nil
}

// IncrementTxnNumber increments the transaction number.
func (c *Client) IncrementTxnNumber() {
	c.serverSession.IncrementTxnNumber()
}

// MarkDirty marks the session as dirty, typically after a network error.
func (c *Client) MarkDirty() {
	if c.serverSession != nil {
		c.serverSession.MarkDirty()
	}
}

// StartCommand updates the session's last-used time and verifies the session
// has not been ended. It must be called before an operation is dispatched on
// this session.
func (c *Client) StartCommand() error {
	if c.Terminated {
		return ErrSessionEnded
	}
	c.serverSession.updateUseTime()
	return nil
}

// EndSession ends the session and returns the server session to the pool. Any
// use of the session afterwards fails with ErrSessionEnded.
func (c *Client) EndSession() {
	if c.Terminated {
		return
	}
	c.Terminated = true
	c.pool.ReturnSession(c.serverSession)
}

// TransactionInProgress returns true if the client session is in an active transaction.
func (c *Client) TransactionInProgress() bool {
	return c.TransactionState == InProgress
}

// TransactionStarting returns true if the client session is starting a transaction.
func (c *Client) TransactionStarting() bool {
	return c.TransactionState == Starting
}

// TransactionRunning returns true if the client session has started the
// transaction and it hasn't been committed or aborted.
func (c *Client) TransactionRunning() bool {
	return c != nil && (c.TransactionState == Starting || c.TransactionState == InProgress)
}

// TransactionCommitted returns true of the client session just committed a transaction.
func (c *Client) TransactionCommitted() bool {
	return c.TransactionState == Committed
}

// CheckStartTransaction checks to see if allowed to start transaction and
// returns an error if not allowed.
func (c *Client) CheckStartTransaction() error {
	if c.TransactionState == Starting || c.TransactionState == InProgress {
		return ErrTransactInProgress
	}
	if c.Snapshot {
		return ErrSnapshotTransaction
	}
	return nil
}

// StartTransaction initializes the transaction options and transitions the
// transaction sub-state to Starting. No command is sent: the first CRUD
// operation in the transaction carries the startTransaction marker.
func (c *Client) StartTransaction(opts *TransactionOptions) error {
	err := c.CheckStartTransaction()
	if err != nil {
		return err
	}

	c.IncrementTxnNumber()
	c.RetryingCommit = false

	if opts != nil {
		c.CurrentRc = opts.ReadConcern
		c.CurrentWc = opts.WriteConcern
		c.CurrentRp = opts.ReadPreference
	}
	if c.CurrentRc == nil {
		c.CurrentRc = c.transactionRc
	}
	if c.CurrentWc == nil {
		c.CurrentWc = c.transactionWc
	}
	if c.CurrentRp == nil {
		c.CurrentRp = c.transactionRp
	}

	if !c.CurrentWc.Acknowledged() {
		c.clearTransactionOpts()
		return ErrUnackWCUnsupported
	}

	c.TransactionState = Starting
	return c.ClearPinnedResources()
}

// CheckCommitTransaction checks to see if allowed to commit transaction and
// returns an error if not allowed.
func (c *Client) CheckCommitTransaction() error {
	if c.TransactionState == None {
		return ErrNoTransactStarted
	} else if c.TransactionState == Aborted {
		return ErrCommitAfterAbort
	}
	return nil
}

// CommitTransaction updates the state for a successfully committed transaction
// and returns an error if not permissible. It does not actually perform the
// commit; that is the commitTransaction operation's job.
func (c *Client) CommitTransaction() error {
	err := c.CheckCommitTransaction()
	if err != nil {
		return err
	}
	c.TransactionState = Committed
	return nil
}

// UpdateCommitTransactionWriteConcern upgrades the write concern for a commit
// retry to majority with a 10 second wtimeout, because the first attempt may
// have partially replicated.
func (c *Client) UpdateCommitTransactionWriteConcern() {
	wc := c.CurrentWc
	timeout := 10 * time.Second
	if wc != nil && wc.WTimeout != 0 {
		timeout = wc.WTimeout
	}
	c.CurrentWc = &writeconcern.WriteConcern{W: "majority", WTimeout: timeout}
}

// CheckAbortTransaction checks to see if allowed to abort transaction and
// returns an error if not allowed.
func (c *Client) CheckAbortTransaction() error {
	switch {
	case c.TransactionState == None:
		return ErrNoTransactStarted
	case c.TransactionState == Committed:
		return ErrAbortAfterCommit
	case c.TransactionState == Aborted:
		return ErrAbortTwice
	}
	return nil
}

// AbortTransaction updates the state for an aborted transaction and returns an
// error if not permissible.
func (c *Client) AbortTransaction() error {
	err := c.CheckAbortTransaction()
	if err != nil {
		return err
	}
	c.TransactionState = Aborted
	c.clearTransactionOpts()
	return nil
}

// ApplyCommand advances the transaction sub-state machine based on a command
// being dispatched on this session against the given server: the first command
// of a transaction moves it from Starting to InProgress, and a finished
// transaction resets to None.
func (c *Client) ApplyCommand(desc description.Server) error {
	if c.Committing {
		// Do not change state if committing after already committed.
		return nil
	}
	switch c.TransactionState {
	case Starting:
		c.TransactionState = InProgress
		// If this is a sharded deployment, the transaction is pinned to the
		// selected mongos for its remainder.
		if desc.Kind == description.Mongos {
			c.PinnedServer = &desc
		}
	case Committed, Aborted:
		c.clearTransactionOpts()
		c.TransactionState = None
	}
	return c.UpdateUseTime()
}

// UpdateRecoveryToken updates the session's recovery token from the server
// response, if it carries one.
func (c *Client) UpdateRecoveryToken(response bson.Raw) {
	if c == nil {
		return
	}

	token, err := response.LookupErr("recoveryToken")
	if err != nil {
		return
	}

	c.RecoveryToken = token.Document()
}

// ClearPinnedResources unpins the session from its pinned server and
// connection, if any.
func (c *Client) ClearPinnedResources() error {
	if c == nil {
		return nil
	}
	c.PinnedServer = nil
	if c.PinnedConnection != nil {
		if err := c.PinnedConnection.Close(); err != nil {
			return err
		}
		c.PinnedConnection = nil
	}
	return nil
}

func (c *Client) clearTransactionOpts() {
	c.RetryingCommit = false
	c.Aborting = false
	c.Committing = false
	c.CurrentWc = nil
	c.CurrentRp = nil
	c.CurrentRc = nil
	c.RecoveryToken = nil
}
