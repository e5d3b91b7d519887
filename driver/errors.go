// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"bytes"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver/description"
)

// Error labels attached by the server or by this package during
// classification.
const (
	// NetworkError is an error label for network errors.
	NetworkError = "NetworkError"
	// RetryableWriteError is an error label for retryable write errors.
	RetryableWriteError = "RetryableWriteError"
	// TransientTransactionError is an error label for transient errors in transactions.
	TransientTransactionError = "TransientTransactionError"
	// UnknownTransactionCommitResult is an error label for unknown transaction commit results.
	UnknownTransactionCommitResult = "UnknownTransactionCommitResult"
	// NoWritesPerformed is an error label indicating that no writes were
	// performed for an operation.
	NoWritesPerformed = "NoWritesPerformed"
	// ResumableChangeStreamError is an error label for resumable change stream errors.
	ResumableChangeStreamError = "ResumableChangeStreamError"
)

var (
	// ErrUnacknowledgedWrite is returned when an unacknowledged write is
	// performed. No result is available for such a write; callers translate
	// this sentinel into their "no result" marker.
	ErrUnacknowledgedWrite = errors.New("unacknowledged write")
	// ErrCursorClosed is returned when a cursor is iterated after being closed
	// or killed.
	ErrCursorClosed = errors.New("cursor is closed")
	// ErrUnsupportedStorageEngine is returned when a retryable write is
	// attempted against a server whose storage engine does not support it.
	ErrUnsupportedStorageEngine = errors.New("this MongoDB deployment does not support retryable writes")
)

// Server error codes with meaning to this layer.
const (
	codeNamespaceNotFound  int32 = 26
	codeCursorNotFound     int32 = 43
	codeMaxTimeMSExpired   int32 = 50
	codeUnknownReplWC      int32 = 79
	codeUnsatisfiableWC    int32 = 100
	codeDuplicateKey       int32 = 11000
	codeNotWritablePrimary int32 = 10107
)

// retryableCodes is the set of server error codes that the retryable
// reads/writes specifications designate as retryable.
var retryableCodes = []int32{6, 7, 89, 91, 189, 262, 9001, 10107, 11600, 11602, 13435, 13436}

// InvalidArgumentError wraps a locally detectable caller mistake, e.g. a
// negative maxTimeMS. It is always raised before any network I/O.
type InvalidArgumentError struct {
	Wrapped error
}

// Error implements the error interface.
func (e InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument: %v", e.Wrapped)
}

// Unwrap returns the underlying error.
func (e InvalidArgumentError) Unwrap() error { return e.Wrapped }

// WriteError is a non-write concern failure that occurred as a result of a
// write operation.
type WriteError struct {
	Index   int64
	Code    int64
	Message string
	Details bsoncore.Document
}

func (we WriteError) Error() string { return we.Message }

// WriteErrors is a group of non-write concern failures that occurred as a
// result of a write operation.
type WriteErrors []WriteError

// Error implements the error interface.
func (we WriteErrors) Error() string {
	var buf bytes.Buffer
	fmt.Fprint(&buf, "write errors: [")
	for idx, err := range we {
		if idx != 0 {
			fmt.Fprintf(&buf, ", ")
		}
		fmt.Fprintf(&buf, "{%s}", err)
	}
	fmt.Fprint(&buf, "]")
	return buf.String()
}

// WriteConcernError is a write concern failure that occurred as a result of a
// write operation.
type WriteConcernError struct {
	Name    string
	Code    int64
	Message string
	Details bsoncore.Document
}

// Error implements the error interface.
func (wce WriteConcernError) Error() string {
	if wce.Name != "" {
		return fmt.Sprintf("(%v) %v", wce.Name, wce.Message)
	}
	return wce.Message
}

// Retryable returns true if the write concern error is retryable.
func (wce WriteConcernError) Retryable() bool {
	for _, code := range retryableCodes {
		if wce.Code == int64(code) {
			return true
		}
	}
	return false
}

// WriteCommandError is an error for a write command: a partial failure within
// a multi-document write. The write may have succeeded for some documents; the
// per-index details are carried alongside.
type WriteCommandError struct {
	WriteConcernError *WriteConcernError
	WriteErrors       WriteErrors
	Labels            []string
	Raw               bsoncore.Document
}

// UnsupportedStorageEngine returns true if the error code is 20 and the
// message starts with "Transaction numbers", which indicates mmapv1.
func (wce WriteCommandError) UnsupportedStorageEngine() bool {
	for _, writeError := range wce.WriteErrors {
		if writeError.Code == 20 && len(writeError.Message) >= 19 && writeError.Message[:19] == "Transaction numbers" {
			return true
		}
	}
	return false
}

// Error implements the error interface.
func (wce WriteCommandError) Error() string {
	var buf bytes.Buffer
	fmt.Fprint(&buf, "write command error: [")
	fmt.Fprintf(&buf, "{%s}, ", wce.WriteErrors)
	fmt.Fprintf(&buf, "{%s}]", wce.WriteConcernError)
	return buf.String()
}

// Retryable returns true if the error is retryable.
func (wce WriteCommandError) Retryable(desc description.Server) bool {
	for _, label := range wce.Labels {
		if label == RetryableWriteError {
			return true
		}
	}
	if !desc.SupportsRetryWrites() {
		return false
	}
	if wce.WriteConcernError == nil {
		return false
	}
	return wce.WriteConcernError.Retryable()
}

// HasErrorLabel returns true if the error contains the specified label.
func (wce WriteCommandError) HasErrorLabel(label string) bool {
	for _, l := range wce.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Error is a command execution error from the database, or a transport error
// wrapped with classification labels.
type Error struct {
	Code    int32
	Message string
	Labels  []string
	Name    string
	Wrapped error
	Raw     bsoncore.Document
}

// UnsupportedStorageEngine returns true if the error code is 20 and the
// message starts with "Transaction numbers", which indicates mmapv1.
func (e Error) UnsupportedStorageEngine() bool {
	return e.Code == 20 && len(e.Message) >= 19 && e.Message[:19] == "Transaction numbers"
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("(%v) %v", e.Name, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e Error) Unwrap() error { return e.Wrapped }

// HasErrorLabel returns true if the error contains the specified label.
func (e Error) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// RetryableRead returns true if the error is retryable for a read operation.
func (e Error) RetryableRead() bool {
	for _, label := range e.Labels {
		if label == NetworkError {
			return true
		}
	}
	for _, code := range retryableCodes {
		if e.Code == code {
			return true
		}
	}
	return false
}

// RetryableWrite returns true if the error is retryable for a write operation.
func (e Error) RetryableWrite(desc description.Server) bool {
	for _, label := range e.Labels {
		if label == NetworkError || label == RetryableWriteError {
			return true
		}
	}
	if !desc.SupportsRetryWrites() {
		return false
	}
	for _, code := range retryableCodes {
		if e.Code == code {
			return true
		}
	}
	return false
}

// NetworkError returns true if the error was produced by a transport failure
// rather than by the server.
func (e Error) NetworkError() bool {
	return e.HasErrorLabel(NetworkError)
}

// NamespaceNotFound returns true if the server rejected the command because
// the target namespace does not exist. Idempotent drop-style operations treat
// this as success.
func (e Error) NamespaceNotFound() bool {
	return e.Code == codeNamespaceNotFound || e.Message == "ns not found"
}

// CursorNotFound returns true if the server no longer knows the cursor id.
func (e Error) CursorNotFound() bool {
	return e.Code == codeCursorNotFound
}

// ExtractErrorFromServerResponse extracts an error from a server response
// document. This is the single funnel through which every operation's failure
// path passes: raw wire errors never escape this package unclassified.
func ExtractErrorFromServerResponse(doc bsoncore.Document) error {
	var errmsg, codeName string
	var code int32
	var labels []string
	var ok bool
	var wcError WriteCommandError

	elems, err := doc.Elements()
	if err != nil {
		return err
	}

	for _, elem := range elems {
		switch elem.Key() {
		case "ok":
			switch elem.Value().Type {
			case bsontype.Int32:
				if elem.Value().Int32() == 1 {
					ok = true
				}
			case bsontype.Int64:
				if elem.Value().Int64() == 1 {
					ok = true
				}
			case bsontype.Double:
				if elem.Value().Double() == 1 {
					ok = true
				}
			}
		case "errmsg":
			if str, okay := elem.Value().StringValueOK(); okay {
				errmsg = str
			}
		case "codeName":
			if str, okay := elem.Value().StringValueOK(); okay {
				codeName = str
			}
		case "code":
			if c, okay := elem.Value().Int32OK(); okay {
				code = c
			}
		case "errorLabels":
			if arr, okay := elem.Value().ArrayOK(); okay {
				vals, err := arr.Values()
				if err != nil {
					continue
				}
				for _, val := range vals {
					if str, okay := val.StringValueOK(); okay {
						labels = append(labels, str)
					}
				}
			}
		case "writeErrors":
			arr, exists := elem.Value().ArrayOK()
			if !exists {
				break
			}
			vals, err := arr.Values()
			if err != nil {
				continue
			}
			for _, val := range vals {
				var we WriteError
				doc, exists := val.DocumentOK()
				if !exists {
					continue
				}
				if index, exists := doc.Lookup("index").AsInt64OK(); exists {
					we.Index = index
				}
				if code, exists := doc.Lookup("code").AsInt64OK(); exists {
					we.Code = code
				}
				if msg, exists := doc.Lookup("errmsg").StringValueOK(); exists {
					we.Message = msg
				}
				if info, exists := doc.Lookup("errInfo").DocumentOK(); exists {
					we.Details = make([]byte, len(info))
					copy(we.Details, info)
				}
				wcError.WriteErrors = append(wcError.WriteErrors, we)
			}
		case "writeConcernError":
			doc, exists := elem.Value().DocumentOK()
			if !exists {
				break
			}
			wcError.WriteConcernError = new(WriteConcernError)
			if code, exists := doc.Lookup("code").AsInt64OK(); exists {
				wcError.WriteConcernError.Code = code
			}
			if name, exists := doc.Lookup("codeName").StringValueOK(); exists {
				wcError.WriteConcernError.Name = name
			}
			if msg, exists := doc.Lookup("errmsg").StringValueOK(); exists {
				wcError.WriteConcernError.Message = msg
			}
			if info, exists := doc.Lookup("errInfo").DocumentOK(); exists {
				wcError.WriteConcernError.Details = make([]byte, len(info))
				copy(wcError.WriteConcernError.Details, info)
			}
		}
	}

	if !ok {
		if errmsg == "" {
			errmsg = "command failed"
		}
		return Error{
			Code:    code,
			Message: errmsg,
			Name:    codeName,
			Labels:  labels,
			Raw:     doc,
		}
	}

	if len(wcError.WriteErrors) > 0 || wcError.WriteConcernError != nil {
		wcError.Labels = labels
		wcError.Raw = doc
		return wcError
	}

	return nil
}

// OperationTime extracts the operationTime from a server response, if present.
func OperationTime(doc bsoncore.Document) (t uint32, i uint32, ok bool) {
	val, err := doc.LookupErr("operationTime")
	if err != nil {
		return 0, 0, false
	}
	return val.TimestampOK()
}

// ClusterTime extracts the $clusterTime document from a server response, if
// present.
func ClusterTime(doc bsoncore.Document) bson.Raw {
	val, err := doc.LookupErr("$clusterTime")
	if err != nil {
		return nil
	}
	ct, ok := val.DocumentOK()
	if !ok {
		return nil
	}
	return bsoncore.BuildDocument(nil, bsoncore.AppendDocumentElement(nil, "$clusterTime", ct))
}
