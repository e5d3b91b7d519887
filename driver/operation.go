// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver/description"
	"github.com/ikmak/mongocore/driver/session"
	"github.com/ikmak/mongocore/mongo/readconcern"
	"github.com/ikmak/mongocore/mongo/readpref"
	"github.com/ikmak/mongocore/mongo/writeconcern"
)

// ErrNonPrimaryReadPref is returned when a read is attempted in a transaction
// with a non-primary read preference.
var ErrNonPrimaryReadPref = errors.New("read preference in a transaction must be primary")

// InvalidOperationError is returned from Validate and indicates that a
// required field is missing from an instance of Operation.
type InvalidOperationError struct{ MissingField string }

func (err InvalidOperationError) Error() string {
	return "the " + err.MissingField + " field must be set on Operation"
}

// ResponseInfo contains the context required to parse a server response.
type ResponseInfo struct {
	Server                Server
	Connection            Connection
	ConnectionDescription description.Server
	Error                 error

	retainConnection bool
}

// RetainConnection prevents the executor from checking the current connection
// back in when the operation finishes. The caller assumes ownership and must
// eventually close or expire the connection itself. Cursors use this to keep
// their results reachable on the connection that produced them.
func (info *ResponseInfo) RetainConnection() {
	info.retainConnection = true
}

// Operation is used to execute an operation. It contains all of the common
// code required to select a server, transform an operation into a command,
// dispatch the command on a connection from the selected server, process the
// response, and potentially retry.
//
// The required fields are Database, CommandFn, and Deployment. All other
// fields are optional.
type Operation struct {
	// CommandFn is used to create the command that will be sent to the server.
	// This function should only add the elements of the command and not start
	// or end the enclosing BSON document. Per the command API, the first
	// element must be the name of the command to run. This field is required.
	CommandFn func(dst []byte, desc description.SelectedServer) ([]byte, error)

	// Database is the database that the command will be run against. This
	// field is required.
	Database string

	// Deployment is the MongoDB Deployment to use. While most of the time this
	// will be multiple servers, commands that need to run against a single,
	// preselected server can use the SingleServerDeployment type, and commands
	// that need to run on a preselected connection can use the
	// SingleConnectionDeployment type.
	Deployment Deployment

	// ProcessResponseFn is called after a response to the command is returned.
	// The ResponseInfo is provided for types like Cursor that are required to
	// run subsequent commands using the same server or connection.
	ProcessResponseFn func(context.Context, bsoncore.Document, *ResponseInfo) error

	// Selector is the server selector that's used during both initial server
	// selection and subsequent selection for retries. Depending on the
	// Deployment implementation, the SelectServer method may not actually be
	// called.
	Selector description.ServerSelector

	// ReadPreference is the read preference that will be attached to the
	// command. If this field is not specified a default read preference of
	// primary will be used.
	ReadPreference *readpref.ReadPref

	// ReadConcern is the read concern used when running read commands. This
	// field should not be set for write operations. If this field is set, it
	// will be encoded onto the commands sent to the server.
	ReadConcern *readconcern.ReadConcern

	// WriteConcern is the write concern used when running write commands. This
	// field should not be set for read operations. If this field is set, it
	// will be encoded onto the commands sent to the server.
	WriteConcern *writeconcern.WriteConcern

	// Client is the session used with this operation. This can be either an
	// implicit or explicit session. If the server selected does not support
	// sessions and Client is specified the behavior depends on the session
	// type. If the session is implicit, the session fields will not be encoded
	// onto the command. If the session is explicit, an error will be returned.
	// The caller is responsible for ensuring that this field is nil if the
	// Deployment does not support sessions.
	Client *session.Client

	// Clock is a cluster clock, different from the one contained within a
	// session.Client. This allows updating cluster times for a global cluster
	// clock while allowing individual session's cluster clocks to be only
	// updated as far as the last command that's been run.
	Clock *session.ClusterClock

	// RetryMode specifies how to retry. There are three modes that enable
	// retry: RetryOnce, RetryOncePerCommand, and RetryContext. Both RetryMode
	// and Type must be set for retryability to be enabled.
	RetryMode *RetryMode

	// Type specifies the kind of operation this is. There is only one mode
	// that enables retry: Write. Both Type and RetryMode must be set for
	// retryability to be enabled.
	Type Type

	// MaxTimeMS is the server-side operation time limit in milliseconds. It is
	// encoded onto the command as a 64-bit integer regardless of magnitude. A
	// negative value fails validation before any server is contacted.
	MaxTimeMS *int64

	// Name is the name of the operation. This is used for logging server
	// selection data.
	Name string
}

// Validate validates this operation, ensuring the fields are set properly.
func (op Operation) Validate() error {
	if op.CommandFn == nil {
		return InvalidOperationError{MissingField: "CommandFn"}
	}
	if op.Deployment == nil {
		return InvalidOperationError{MissingField: "Deployment"}
	}
	if op.Database == "" {
		return InvalidOperationError{MissingField: "Database"}
	}
	if op.Client != nil && !op.WriteConcern.Acknowledged() {
		return errors.New("session provided for an unacknowledged write")
	}
	if op.MaxTimeMS != nil && *op.MaxTimeMS < 0 {
		return InvalidArgumentError{Wrapped: fmt.Errorf("maxTimeMS must not be negative, got %d", *op.MaxTimeMS)}
	}
	return nil
}

// Execute runs this operation.
func (op Operation) Execute(ctx context.Context) error {
	err := op.Validate()
	if err != nil {
		return err
	}

	if op.Client != nil {
		if err := op.Client.StartCommand(); err != nil {
			return err
		}
	}

	var retries int
	if op.RetryMode != nil {
		switch op.Type {
		case Write:
			if op.Client == nil {
				break
			}
			switch *op.RetryMode {
			case RetryOnce, RetryOncePerCommand:
				retries = 1
			case RetryContext:
				retries = -1
			}
		case Read:
			switch *op.RetryMode {
			case RetryOnce, RetryOncePerCommand:
				retries = 1
			case RetryContext:
				retries = -1
			}
		}
	}

	var srvr Server
	var conn Connection
	var res bsoncore.Document
	var operationErr WriteCommandError
	var prevErr error
	var prevIndefiniteErr error
	retrySupported := false
	retainedConn := false
	first := true

	// finish checks the connection back in, unless a response processor took
	// ownership of it, and returns the given error unchanged.
	finish := func(err error) error {
		if conn != nil && !retainedConn {
			_ = conn.Close()
		}
		return err
	}

	// resetForRetry records the error that caused the retry, decrements
	// retries, and resets the retry loop variables to request a new server and
	// a new connection for the next attempt.
	resetForRetry := func(err error) {
		retries--
		prevErr = err

		// Set the previous indefinite error to be returned in any case where a
		// retryable write error does not have a NoWritesPerformed label (the
		// definite case).
		if lerr, ok := err.(labeledError); ok {
			// If the "prevIndefiniteErr" is nil, then the current error is the
			// first error encountered during the retry attempt cycle. We must
			// persist the first error in the case where all following errors
			// are labeled "NoWritesPerformed", which would otherwise raise nil
			// as the error.
			if prevIndefiniteErr == nil {
				prevIndefiniteErr = lerr
			}

			// If the error is not labeled NoWritesPerformed and is retryable,
			// then set the previous indefinite error to be the current error.
			if !lerr.HasErrorLabel(NoWritesPerformed) && lerr.HasErrorLabel(RetryableWriteError) {
				prevIndefiniteErr = err
			}
		}

		// If we got a connection, close it immediately to release pool
		// resources for subsequent retries.
		if conn != nil {
			_ = conn.Close()
		}
		srvr = nil
		conn = nil
	}

	for {
		// If we're starting a retry and the error from the previous try was a
		// context canceled or deadline exceeded error, stop retrying and
		// return that error.
		if errors.Is(prevErr, context.Canceled) || errors.Is(prevErr, context.DeadlineExceeded) {
			return prevErr
		}

		// If the server or connection are nil, try to select a new server and
		// get a new connection.
		if srvr == nil || conn == nil {
			srvr, conn, err = op.getServerAndConnection(ctx)
			if err != nil {
				// If the returned error is retryable and there are retries
				// remaining (negative retries means retry indefinitely), then
				// retry the operation.
				if rerr, ok := err.(RetryablePoolError); ok && rerr.Retryable() && retries != 0 {
					resetForRetry(err)
					continue
				}

				// If this is a retry and there's an error from a previous
				// attempt, return the previous error instead of the current
				// connection error.
				if prevErr != nil {
					return prevErr
				}
				return err
			}
		}

		// Run steps that must only be run on the first attempt, but not again
		// for retries.
		if first {
			// Determine if retries are supported for the current operation on
			// the current server description. Per the retryable writes
			// specification, only determine this for the first server
			// selected.
			retrySupported = op.retryable(conn.Description())

			// If retries are supported for the current operation on the
			// current server description, client retries are enabled, the
			// operation type is write, and we haven't incremented the txn
			// number yet, enable retry writes on the session and increment the
			// txn number. Calling IncrementTxnNumber() for server descriptions
			// or topologies that do not support retries (e.g. standalone
			// topologies) will cause server errors.
			retryEnabled := op.RetryMode != nil && op.RetryMode.Enabled()
			needToIncrease := op.Client != nil && !op.Client.Committing && !op.Client.Aborting
			if retrySupported && op.Type == Write && retryEnabled && needToIncrease {
				op.Client.IncrementTxnNumber()
			}

			first = false
		}

		retryEnabled := op.RetryMode != nil && op.RetryMode.Enabled()
		desc := description.SelectedServer{
			Server: conn.Description(),
			Kind:   op.Deployment.Kind(),
		}
		retryWrite := retrySupported && retryEnabled && op.Type == Write &&
			op.Client != nil && !op.Client.Committing && !op.Client.Aborting

		var cmd bsoncore.Document
		cmd, err = op.createCommand(desc, retryWrite)
		if err != nil {
			return finish(err)
		}

		moreToCome := op.Type == Write && !op.WriteConcern.Acknowledged()

		res = nil
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
		case moreToCome:
			// The server was asked not to respond, so a successful dispatch is
			// all there is.
			err = op.networkError(conn.Send(ctx, cmd))
		default:
			res, err = conn.RoundTrip(ctx, cmd)
			if err != nil {
				err = op.networkError(err)
			} else {
				// Cluster and operation times advance even when the command
				// itself failed; the response carries them either way.
				op.updateClusterTimes(res)
				op.updateOperationTime(res)
				op.Client.UpdateRecoveryToken(bson.Raw(res))
				err = ExtractErrorFromServerResponse(res)
			}
		}

		if ep, ok := srvr.(ErrorProcessor); ok {
			ep.ProcessError(err, conn)
		}

		info := ResponseInfo{
			Server:                srvr,
			Connection:            conn,
			ConnectionDescription: desc.Server,
		}

		// prevIndefiniteErrIsSet is "true" if the "err" variable has been set
		// to the "prevIndefiniteErr" in a case in the switch statement below.
		var prevIndefiniteErrIsSet bool

	checkError:
		switch tt := err.(type) {
		case WriteCommandError:
			if retrySupported && op.Type == Write && tt.UnsupportedStorageEngine() {
				return finish(ErrUnsupportedStorageEngine)
			}

			retryableErr := tt.Retryable(conn.Description())

			// If retries are supported for the current operation on the first
			// server description, the error is considered retryable, and there
			// are retries remaining (negative retries means retry
			// indefinitely), then retry the operation.
			if retrySupported && retryEnabled && retryableErr && retries != 0 {
				if op.Client != nil && op.Client.Committing {
					// Apply majority write concern for retries
					op.Client.UpdateCommitTransactionWriteConcern()
					op.WriteConcern = op.Client.CurrentWc
				}
				resetForRetry(tt)
				continue
			}

			// If the error is no longer retryable and has the
			// NoWritesPerformed label, then we should set the error to the
			// "previous indefinite error" unless the current error is already
			// the "previous indefinite error". After resetting, repeat the
			// error check.
			if tt.HasErrorLabel(NoWritesPerformed) && !prevIndefiniteErrIsSet {
				err = prevIndefiniteErr
				prevIndefiniteErrIsSet = true

				goto checkError
			}

			// If the operation isn't being retried, process the response
			if op.ProcessResponseFn != nil {
				info.Error = tt
				_ = op.ProcessResponseFn(ctx, res, &info)
				retainedConn = info.retainConnection
			}

			if op.Client != nil && op.Client.Committing && tt.WriteConcernError != nil {
				// When running commitTransaction we return WriteConcernErrors
				// as an Error.
				err := Error{
					Name:    tt.WriteConcernError.Name,
					Code:    int32(tt.WriteConcernError.Code),
					Message: tt.WriteConcernError.Message,
					Labels:  tt.Labels,
					Raw:     tt.Raw,
				}
				// The UnknownTransactionCommitResult label is added to all
				// writeConcernErrors besides unknownReplWriteConcernCode and
				// unsatisfiableWriteConcernCode.
				if err.Code != codeUnknownReplWC && err.Code != codeUnsatisfiableWC {
					err.Labels = append(err.Labels, UnknownTransactionCommitResult)
				}
				if retryableErr && retryEnabled {
					err.Labels = append(err.Labels, RetryableWriteError)
				}
				return finish(err)
			}
			operationErr.WriteConcernError = tt.WriteConcernError
			operationErr.WriteErrors = append(operationErr.WriteErrors, tt.WriteErrors...)
			operationErr.Labels = tt.Labels
			operationErr.Raw = tt.Raw
		case Error:
			if tt.HasErrorLabel(TransientTransactionError) || tt.HasErrorLabel(UnknownTransactionCommitResult) {
				if err := op.Client.ClearPinnedResources(); err != nil {
					return finish(err)
				}
			}

			if retrySupported && op.Type == Write && tt.UnsupportedStorageEngine() {
				return finish(ErrUnsupportedStorageEngine)
			}

			var retryableErr bool
			if op.Type == Write {
				retryableErr = tt.RetryableWrite(conn.Description())
				inTransaction := op.Client != nil &&
					!(op.Client.Committing || op.Client.Aborting) && op.Client.TransactionRunning()
				// If retryWrites is enabled and the operation isn't in a
				// transaction, add a RetryableWriteError label for network
				// errors.
				if retryEnabled && !inTransaction && tt.HasErrorLabel(NetworkError) {
					tt.Labels = append(tt.Labels, RetryableWriteError)
				}
			} else {
				retryableErr = tt.RetryableRead()
			}

			if retrySupported && retryEnabled && retryableErr && retries != 0 {
				if op.Client != nil && op.Client.Committing {
					// Apply majority write concern for retries
					op.Client.UpdateCommitTransactionWriteConcern()
					op.WriteConcern = op.Client.CurrentWc
				}
				resetForRetry(tt)
				continue
			}

			if tt.HasErrorLabel(NoWritesPerformed) && !prevIndefiniteErrIsSet {
				err = prevIndefiniteErr
				prevIndefiniteErrIsSet = true

				goto checkError
			}

			// If the operation isn't being retried, process the response
			if op.ProcessResponseFn != nil {
				info.Error = tt
				_ = op.ProcessResponseFn(ctx, res, &info)
				retainedConn = info.retainConnection
			}

			if op.Client != nil && op.Client.Committing && (retryableErr || tt.Code == codeMaxTimeMSExpired) {
				// If we got a retryable error or MaxTimeMSExpired error, we
				// add UnknownTransactionCommitResult.
				tt.Labels = append(tt.Labels, UnknownTransactionCommitResult)
			}
			return finish(tt)
		case nil:
			if moreToCome {
				return finish(ErrUnacknowledgedWrite)
			}
			if op.ProcessResponseFn != nil {
				perr := op.ProcessResponseFn(ctx, res, &info)
				retainedConn = info.retainConnection
				if perr != nil {
					return finish(perr)
				}
			}
		default:
			if op.ProcessResponseFn != nil {
				info.Error = err
				_ = op.ProcessResponseFn(ctx, res, &info)
				retainedConn = info.retainConnection
			}
			return finish(err)
		}

		break
	}

	_ = finish(nil)
	if len(operationErr.WriteErrors) > 0 || operationErr.WriteConcernError != nil {
		return operationErr
	}
	return nil
}

// Retryable writes are supported if the server supports sessions, the
// operation is not within a transaction, and the write is acknowledged.
func (op Operation) retryable(desc description.Server) bool {
	switch op.Type {
	case Write:
		if op.Client != nil && (op.Client.Committing || op.Client.Aborting) {
			return true
		}
		if desc.SupportsRetryWrites() &&
			op.Client != nil && !(op.Client.TransactionInProgress() || op.Client.TransactionStarting()) &&
			op.WriteConcern.Acknowledged() {
			return true
		}
	case Read:
		if op.Client != nil && (op.Client.Committing || op.Client.Aborting) {
			return true
		}
		if desc.SupportsSessions() &&
			(op.Client == nil || !(op.Client.TransactionInProgress() || op.Client.TransactionStarting())) {
			return true
		}
	}
	return false
}

// selectServer handles performing server selection for an operation.
func (op Operation) selectServer(ctx context.Context) (Server, error) {
	selector := op.Selector
	if selector == nil {
		rp := op.ReadPreference
		if rp == nil {
			rp = readpref.Primary()
		}
		if op.Type == Write {
			selector = description.WriteSelector()
		} else {
			selector = description.ReadPrefSelector(rp)
		}
	}

	// A sharded transaction is pinned to one mongos for its remainder: narrow
	// whatever selector is in play down to the pinned address.
	if op.Client != nil && op.Client.PinnedServer != nil {
		pinned := op.Client.PinnedServer.Addr
		selector = description.ServerSelectorFunc(func(_ description.Topology, candidates []description.Server) ([]description.Server, error) {
			for _, candidate := range candidates {
				if candidate.Addr == pinned {
					return []description.Server{candidate}, nil
				}
			}
			return nil, nil
		})
	}

	return op.Deployment.SelectServer(ctx, selector)
}

// getServerAndConnection returns a server and connection to use for the
// operation, honoring any connection the session has pinned.
func (op Operation) getServerAndConnection(ctx context.Context) (Server, Connection, error) {
	srvr, err := op.selectServer(ctx)
	if err != nil {
		if op.Client != nil &&
			!(op.Client.Committing || op.Client.Aborting) && op.Client.TransactionRunning() {
			err = Error{
				Message: err.Error(),
				Labels:  []string{TransientTransactionError},
				Wrapped: err,
			}
		}
		return nil, nil, err
	}

	if op.Client != nil && op.Client.PinnedConnection != nil {
		conn, ok := op.Client.PinnedConnection.(Connection)
		if !ok {
			return nil, nil, fmt.Errorf("expected pinned connection to implement the driver.Connection interface, got %T", op.Client.PinnedConnection)
		}
		// The session, not the executor, owns a pinned connection's check-in.
		return srvr, nopCloserConnection{conn}, nil
	}

	conn, err := srvr.Connection(ctx)
	if err != nil {
		return nil, nil, err
	}
	return srvr, conn, nil
}

// createCommand assembles the full command document: the operation's own
// elements followed by the concern, session, cluster time, time limit and
// routing decorations.
func (op Operation) createCommand(desc description.SelectedServer, retryWrite bool) (bsoncore.Document, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)

	dst, err := op.CommandFn(dst, desc)
	if err != nil {
		return nil, err
	}

	dst, err = op.addReadConcern(dst, desc)
	if err != nil {
		return nil, err
	}

	dst, err = op.addWriteConcern(dst)
	if err != nil {
		return nil, err
	}

	dst, err = op.addSession(dst, desc, retryWrite)
	if err != nil {
		return nil, err
	}

	dst = op.addClusterTime(dst, desc)

	if op.MaxTimeMS != nil {
		// Always encoded as int64: values beyond 32 bits must not be silently
		// truncated on their way to the server.
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", *op.MaxTimeMS)
	}

	dst = bsoncore.AppendStringElement(dst, "$db", op.Database)

	rp, err := op.createReadPref(desc)
	if err != nil {
		return nil, err
	}
	if len(rp) > 0 {
		dst = bsoncore.AppendDocumentElement(dst, "$readPreference", rp)
	}

	return bsoncore.AppendDocumentEnd(dst, idx)
}

func (op Operation) addReadConcern(dst []byte, desc description.SelectedServer) ([]byte, error) {
	client := op.Client

	// Only the transaction-starting command carries a read concern; commands
	// running inside the transaction inherit it.
	if client != nil && client.TransactionRunning() && !client.TransactionStarting() {
		return dst, nil
	}
	// Writes have no read concern of their own, unless they are the command
	// that starts a transaction.
	if op.Type == Write && (client == nil || !client.TransactionStarting()) {
		return dst, nil
	}

	rc := op.ReadConcern
	// Starting transaction's read concern overrides all others
	if client != nil && client.TransactionStarting() && client.CurrentRc != nil {
		rc = client.CurrentRc
	}
	if client != nil && client.Snapshot {
		rc = readconcern.Snapshot()
	}

	var elems []byte
	elems = rc.AppendLevel(elems)

	if client != nil && desc.SessionTimeoutMinutes != 0 {
		if client.Consistent && client.OperationTime != nil {
			elems = bsoncore.AppendTimestampElement(elems, "afterClusterTime", client.OperationTime.T, client.OperationTime.I)
		}
		if client.Snapshot && client.SnapshotTime != nil {
			elems = bsoncore.AppendTimestampElement(elems, "atClusterTime", client.SnapshotTime.T, client.SnapshotTime.I)
		}
	}

	if len(elems) == 0 {
		return dst, nil
	}
	return bsoncore.AppendDocumentElement(dst, "readConcern", bsoncore.BuildDocument(nil, elems)), nil
}

func (op Operation) addWriteConcern(dst []byte) ([]byte, error) {
	wc := op.WriteConcern
	if wc == nil {
		return dst, nil
	}

	doc, err := wc.Document()
	if errors.Is(err, writeconcern.ErrEmptyWriteConcern) {
		return dst, nil
	}
	if err != nil {
		return dst, err
	}

	return bsoncore.AppendDocumentElement(dst, "writeConcern", doc), nil
}

func (op Operation) addSession(dst []byte, desc description.SelectedServer, retryWrite bool) ([]byte, error) {
	client := op.Client

	// If the operation is defined for an explicit session but the server does
	// not support sessions, then throw an error.
	if client != nil && !client.IsImplicit && desc.SessionTimeoutMinutes == 0 {
		return nil, fmt.Errorf("current topology does not support sessions")
	}

	if client == nil || desc.SessionTimeoutMinutes == 0 {
		return dst, nil
	}
	if err := client.UpdateUseTime(); err != nil {
		return dst, err
	}
	dst = bsoncore.AppendDocumentElement(dst, "lsid", client.SessionID())

	var addedTxnNumber bool
	if op.Type == Write && retryWrite {
		addedTxnNumber = true
		dst = bsoncore.AppendInt64Element(dst, "txnNumber", client.TxnNumber())
	}
	if client.TransactionRunning() || client.RetryingCommit {
		if !addedTxnNumber {
			dst = bsoncore.AppendInt64Element(dst, "txnNumber", client.TxnNumber())
		}
		if client.TransactionStarting() {
			dst = bsoncore.AppendBooleanElement(dst, "startTransaction", true)
		}
		dst = bsoncore.AppendBooleanElement(dst, "autocommit", false)
	}

	return dst, client.ApplyCommand(desc.Server)
}

func (op Operation) addClusterTime(dst []byte, desc description.SelectedServer) []byte {
	client, clock := op.Client, op.Clock
	if (clock == nil && client == nil) || desc.SessionTimeoutMinutes == 0 {
		return dst
	}
	var clusterTime bson.Raw
	if clock != nil {
		clusterTime = clock.GetClusterTime()
	}
	if client != nil {
		clusterTime = session.MaxClusterTime(clusterTime, client.ClusterTime)
	}
	if clusterTime == nil {
		return dst
	}
	val, err := bsoncore.Document(clusterTime).LookupErr("$clusterTime")
	if err != nil {
		return dst
	}
	return append(bsoncore.AppendHeader(dst, val.Type, "$clusterTime"), val.Data...)
}

// updateClusterTimes updates the cluster times for the session and cluster
// clock attached to this operation. While the session's AdvanceClusterTime may
// return an error, this method does not because an error being returned from
// this method will not be returned further up.
func (op Operation) updateClusterTimes(response bsoncore.Document) {
	value, err := response.LookupErr("$clusterTime")
	if err != nil {
		// $clusterTime not included by the server
		return
	}
	clusterTime := bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendValueElement(nil, "$clusterTime", value))

	if sess := op.Client; sess != nil {
		_ = sess.AdvanceClusterTime(bson.Raw(clusterTime))
	}
	if clock := op.Clock; clock != nil {
		clock.AdvanceClusterTime(bson.Raw(clusterTime))
	}
}

// updateOperationTime updates the operation time on the session attached to
// this operation. While the session's AdvanceOperationTime method may return
// an error, this method does not because an error being returned from this
// method will not be returned further up.
func (op Operation) updateOperationTime(response bsoncore.Document) {
	sess := op.Client
	if sess == nil {
		return
	}

	opTimeElem, err := response.LookupErr("operationTime")
	if err != nil {
		// operationTime not included by the server
		return
	}

	t, i, ok := opTimeElem.TimestampOK()
	if !ok {
		return
	}
	_ = sess.AdvanceOperationTime(&primitive.Timestamp{T: t, I: i})
}

func (op Operation) getReadPrefBasedOnTransaction() (*readpref.ReadPref, error) {
	if op.Client != nil && op.Client.TransactionRunning() {
		// Transaction's read preference always takes priority
		rp := op.Client.CurrentRp
		// Reads in a transaction must have read preference primary. This must
		// not be checked in startTransaction.
		if rp != nil && !op.Client.TransactionStarting() && rp.Mode() != readpref.PrimaryMode {
			return nil, ErrNonPrimaryReadPref
		}
		return rp, nil
	}
	return op.ReadPreference, nil
}

// createReadPref will attempt to create a document with the "$readPreference"
// object and various related fields such as "mode" and "maxStalenessSeconds".
func (op Operation) createReadPref(desc description.SelectedServer) (bsoncore.Document, error) {
	// Don't send read preference for all standalones and all writes.
	if desc.Server.Kind == description.Standalone || op.Type == Write {
		return nil, nil
	}

	rp, err := op.getReadPrefBasedOnTransaction()
	if err != nil {
		return nil, err
	}

	idx, doc := bsoncore.AppendDocumentStart(nil)

	if rp == nil {
		if desc.Kind == description.Single && desc.Server.Kind != description.Mongos {
			doc = bsoncore.AppendStringElement(doc, "mode", "primaryPreferred")
			doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
			return doc, nil
		}
		return nil, nil
	}

	switch rp.Mode() {
	case readpref.PrimaryMode:
		if desc.Server.Kind == description.Mongos {
			return nil, nil
		}
		if desc.Kind == description.Single {
			doc = bsoncore.AppendStringElement(doc, "mode", "primaryPreferred")
			doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
			return doc, nil
		}
		// Read preference "primary" is never sent except for topology
		// "single".
		return nil, nil
	case readpref.PrimaryPreferredMode:
		doc = bsoncore.AppendStringElement(doc, "mode", "primaryPreferred")
	case readpref.SecondaryPreferredMode:
		if _, ok := rp.MaxStaleness(); desc.Server.Kind == description.Mongos && !ok {
			return nil, nil
		}
		doc = bsoncore.AppendStringElement(doc, "mode", "secondaryPreferred")
	case readpref.SecondaryMode:
		doc = bsoncore.AppendStringElement(doc, "mode", "secondary")
	case readpref.NearestMode:
		doc = bsoncore.AppendStringElement(doc, "mode", "nearest")
	}

	if d, ok := rp.MaxStaleness(); ok {
		doc = bsoncore.AppendInt32Element(doc, "maxStalenessSeconds", int32(d.Seconds()))
	}

	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return doc, nil
}

// networkError wraps a transport failure with the labels the transaction and
// retryability machinery keys off of. A nil error stays nil.
func (op Operation) networkError(err error) error {
	if err == nil {
		return nil
	}

	labels := []string{NetworkError}
	if op.Client != nil {
		op.Client.MarkDirty()
	}
	if op.Client != nil && op.Client.TransactionRunning() && !op.Client.Committing {
		labels = append(labels, TransientTransactionError)
	}
	if op.Client != nil && op.Client.Committing {
		labels = append(labels, UnknownTransactionCommitResult)
	}
	return Error{Message: err.Error(), Labels: labels, Wrapped: err}
}
