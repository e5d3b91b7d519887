// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/topology"
)

// ErrClientDisconnected is returned when disconnected Client is used to run an operation.
var ErrClientDisconnected = errors.New("client is disconnected")

// ErrNilDocument is returned when a nil document is passed to a CRUD method.
var ErrNilDocument = errors.New("document is nil")

// ErrNoDocuments is returned by SingleResult methods when the operation that
// created the SingleResult did not return any documents.
var ErrNoDocuments = errors.New("mongo: no documents in result")

// ErrCursorClosed is returned when a closed or killed cursor is iterated.
var ErrCursorClosed = errors.New("cursor is closed")

// ErrWrongClient is returned when a session from one Client is used with a
// different Client.
var ErrWrongClient = errors.New("session was not created by this client")

// ErrEmptySlice is returned when an empty slice is passed to a CRUD method
// that requires a non-empty slice.
var ErrEmptySlice = errors.New("must provide at least one element in input slice")

// ErrNilCursor indicates that the cursor for the change stream is nil.
var ErrNilCursor = errors.New("cursor is nil")

// ErrMissingResumeToken indicates a change stream document is missing the
// resume token (_id) field. Every change event is contractually guaranteed to
// carry one, so this is an internal error, not a user mistake.
var ErrMissingResumeToken = errors.New("cannot provide resume functionality when the resume token is missing")

// MarshalError is returned when attempting to marshal a value into a document
// results in an error.
type MarshalError struct {
	Value interface{}
	Err   error
}

// Error implements the error interface.
func (me MarshalError) Error() string {
	return fmt.Sprintf("cannot marshal type %T to a BSON Document: %v", me.Value, me.Err)
}

// ServerError is the interface implemented by errors returned from the server.
type ServerError interface {
	error
	// HasErrorCode returns true if the error has the specified code.
	HasErrorCode(int) bool
	// HasErrorLabel returns true if the error contains the specified label.
	HasErrorLabel(string) bool
	// HasErrorMessage returns true if the error contains the specified message.
	HasErrorMessage(string) bool

	serverError()
}

var _ ServerError = CommandError{}
var _ ServerError = WriteException{}

// replaceErrors replaces any errors from the driver packages with their
// public API equivalents. This is the single error-mapping step every public
// operation funnels its failure path through.
func replaceErrors(err error) error {
	if err == nil {
		return nil
	}

	if err == topology.ErrTopologyClosed {
		return ErrClientDisconnected
	}
	if de, ok := err.(driver.Error); ok {
		return CommandError{
			Code:    de.Code,
			Message: de.Message,
			Labels:  de.Labels,
			Name:    de.Name,
			Wrapped: de.Wrapped,
			Raw:     bson.Raw(de.Raw),
		}
	}
	if qe, ok := err.(topology.WaitQueueTimeoutError); ok {
		return CommandError{
			Message: qe.Error(),
			Labels:  []string{driver.NetworkError},
			Wrapped: qe.Wrapped,
		}
	}
	if wce, ok := err.(driver.WriteCommandError); ok {
		return convertDriverWriteCommandError(wce)
	}

	return err
}

func convertDriverWriteCommandError(wce driver.WriteCommandError) WriteException {
	return WriteException{
		WriteConcernError: convertDriverWriteConcernError(wce.WriteConcernError),
		WriteErrors:       writeErrorsFromDriverWriteErrors(wce.WriteErrors),
		Labels:            wce.Labels,
		Raw:               bson.Raw(wce.Raw),
	}
}

func convertDriverWriteConcernError(wce *driver.WriteConcernError) *WriteConcernError {
	if wce == nil {
		return nil
	}
	return &WriteConcernError{
		Name:    wce.Name,
		Code:    int(wce.Code),
		Message: wce.Message,
		Details: bson.Raw(wce.Details),
	}
}

func writeErrorsFromDriverWriteErrors(errs driver.WriteErrors) WriteErrors {
	wes := make(WriteErrors, 0, len(errs))
	for _, err := range errs {
		wes = append(wes, WriteError{
			Index:   int(err.Index),
			Code:    int(err.Code),
			Message: err.Message,
			Details: bson.Raw(err.Details),
		})
	}
	return wes
}

// CommandError represents a server error during execution of a command. This
// can be returned by any operation.
type CommandError struct {
	Code    int32
	Message string
	Labels  []string
	Name    string
	Wrapped error
	Raw     bson.Raw
}

// Error implements the error interface.
func (e CommandError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("(%v) %v", e.Name, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e CommandError) Unwrap() error { return e.Wrapped }

// HasErrorCode returns true if the error has the specified code.
func (e CommandError) HasErrorCode(code int) bool { return int(e.Code) == code }

// HasErrorLabel returns true if the error contains the specified label.
func (e CommandError) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// HasErrorMessage returns true if the error contains the specified message.
func (e CommandError) HasErrorMessage(message string) bool {
	return strings.Contains(e.Message, message)
}

func (e CommandError) serverError() {}

// IsMaxTimeMSExpiredError returns true if the error is a MaxTimeMSExpired error.
func (e CommandError) IsMaxTimeMSExpiredError() bool {
	return e.Code == 50 || e.Name == "MaxTimeMSExpired"
}

// WriteError is an error that occurred during execution of a write operation.
// This error type is only returned as part of a WriteException.
type WriteError struct {
	// Index is the index of the write in the slice passed to the operation
	// that caused this error.
	Index   int
	Code    int
	Message string
	Details bson.Raw
}

// Error implements the error interface.
func (we WriteError) Error() string {
	msg := fmt.Sprintf("{'index': %d, 'code': %d, 'message': '%s'", we.Index, we.Code, we.Message)
	if len(we.Details) > 0 {
		msg += fmt.Sprintf(", 'details': '%s'", we.Details)
	}
	return msg + "}"
}

// HasErrorCode returns true if the error has the specified code.
func (we WriteError) HasErrorCode(code int) bool { return we.Code == code }

// HasErrorMessage returns true if the error contains the specified message.
func (we WriteError) HasErrorMessage(message string) bool {
	return strings.Contains(we.Message, message)
}

// WriteErrors is a group of write errors that occurred during execution of a
// write operation.
type WriteErrors []WriteError

// Error implements the error interface.
func (we WriteErrors) Error() string {
	errs := make([]string, 0, len(we))
	for _, err := range we {
		errs = append(errs, err.Error())
	}
	return fmt.Sprintf("write errors: [%s]", strings.Join(errs, ", "))
}

// WriteConcernError represents a write concern failure during execution of a
// write operation. This error type is only returned as part of a
// WriteException.
type WriteConcernError struct {
	Name    string
	Code    int
	Message string
	Details bson.Raw
}

// Error implements the error interface.
func (wce WriteConcernError) Error() string {
	if wce.Name != "" {
		return fmt.Sprintf("(%v) %v", wce.Name, wce.Message)
	}
	return wce.Message
}

// WriteException is the error type returned by write operations. The write
// may have succeeded for a subset of documents; the per-index details are
// carried in WriteErrors.
type WriteException struct {
	// WriteConcernError is the write concern error that occurred, or nil.
	WriteConcernError *WriteConcernError

	// WriteErrors are the non-write concern errors that occurred, indexed by
	// the position of the document that caused each one.
	WriteErrors WriteErrors

	// Labels are the categories to which the exception belongs.
	Labels []string

	// Raw is the original server response containing the errors.
	Raw bson.Raw
}

// Error implements the error interface.
func (mwe WriteException) Error() string {
	causes := make([]string, 0, 2)
	if mwe.WriteConcernError != nil {
		causes = append(causes, "write concern error: "+mwe.WriteConcernError.Error())
	}
	if len(mwe.WriteErrors) > 0 {
		causes = append(causes, mwe.WriteErrors.Error())
	}

	message := "multiple write errors: ["
	if len(causes) == 0 {
		return message + "]"
	}
	return message + strings.Join(causes, ", ") + "]"
}

// HasErrorCode returns true if the error has the specified code.
func (mwe WriteException) HasErrorCode(code int) bool {
	if mwe.WriteConcernError != nil && mwe.WriteConcernError.Code == code {
		return true
	}
	for _, we := range mwe.WriteErrors {
		if we.Code == code {
			return true
		}
	}
	return false
}

// HasErrorLabel returns true if the error contains the specified label.
func (mwe WriteException) HasErrorLabel(label string) bool {
	for _, l := range mwe.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// HasErrorMessage returns true if the error contains the specified message.
func (mwe WriteException) HasErrorMessage(message string) bool {
	if mwe.WriteConcernError != nil && strings.Contains(mwe.WriteConcernError.Message, message) {
		return true
	}
	for _, we := range mwe.WriteErrors {
		if strings.Contains(we.Message, message) {
			return true
		}
	}
	return false
}

func (mwe WriteException) serverError() {}

// BulkWriteError is an error that occurred during execution of one operation
// in a BulkWrite. This error type is only returned as part of a
// BulkWriteException.
type BulkWriteError struct {
	WriteError
	Request WriteModel
}

// Error implements the error interface.
func (bwe BulkWriteError) Error() string {
	return fmt.Sprintf("{%s}", bwe.WriteError)
}

// BulkWriteException is the error type returned by BulkWrite and
// InsertMany operations.
type BulkWriteException struct {
	// WriteConcernError is the write concern error that occurred, or nil.
	WriteConcernError *WriteConcernError

	// WriteErrors are the errors that occurred during individual operation
	// execution.
	WriteErrors []BulkWriteError

	// Labels are the categories to which the exception belongs.
	Labels []string
}

// Error implements the error interface.
func (bwe BulkWriteException) Error() string {
	var buf bytes.Buffer
	fmt.Fprint(&buf, "bulk write exception: ")
	if len(bwe.WriteErrors) > 0 {
		fmt.Fprintf(&buf, "write errors: %v, ", bwe.WriteErrors)
	}
	if bwe.WriteConcernError != nil {
		fmt.Fprintf(&buf, "write concern error: %v", bwe.WriteConcernError.Error())
	}
	return buf.String()
}

// HasErrorCode returns true if any of the errors have the specified code.
func (bwe BulkWriteException) HasErrorCode(code int) bool {
	if bwe.WriteConcernError != nil && bwe.WriteConcernError.Code == code {
		return true
	}
	for _, we := range bwe.WriteErrors {
		if we.Code == code {
			return true
		}
	}
	return false
}

// HasErrorLabel returns true if the error contains the specified label.
func (bwe BulkWriteException) HasErrorLabel(label string) bool {
	for _, l := range bwe.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// HasErrorMessage returns true if the error contains the specified message.
func (bwe BulkWriteException) HasErrorMessage(message string) bool {
	if bwe.WriteConcernError != nil && strings.Contains(bwe.WriteConcernError.Message, message) {
		return true
	}
	for _, we := range bwe.WriteErrors {
		if strings.Contains(we.Message, message) {
			return true
		}
	}
	return false
}

func (bwe BulkWriteException) serverError() {}

// IsDuplicateKeyError returns true if err is a duplicate key error.
func IsDuplicateKeyError(err error) bool {
	if se, ok := err.(ServerError); ok {
		return se.HasErrorCode(11000) || se.HasErrorCode(11001) || se.HasErrorCode(12582) ||
			(se.HasErrorCode(16460) && se.HasErrorMessage(" E11000 "))
	}
	return false
}

// IsTimeout returns true if err was caused by a timeout.
func IsTimeout(err error) bool {
	for ; err != nil; err = errors.Unwrap(err) {
		if err == context.DeadlineExceeded {
			return true
		}
		if ce, ok := err.(CommandError); ok && ce.IsMaxTimeMSExpiredError() {
			return true
		}
		if we, ok := err.(WriteException); ok && we.WriteConcernError != nil && we.WriteConcernError.Code == 50 {
			return true
		}
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return true
		}
	}
	return false
}

// IsNetworkError returns true if err was caused by a network failure.
func IsNetworkError(err error) bool {
	for ; err != nil; err = errors.Unwrap(err) {
		if le, ok := err.(interface{ HasErrorLabel(string) bool }); ok && le.HasErrorLabel(driver.NetworkError) {
			return true
		}
	}
	return false
}

// processWriteError handles the error returned by a write operation,
// converting it into the public taxonomy. The returned bool reports whether
// the write was acknowledged: an unacknowledged write is not an error, but it
// carries no result.
func processWriteError(err error) (bool, error) {
	switch {
	case err == driver.ErrUnacknowledgedWrite:
		return false, nil
	case err != nil:
		switch tt := err.(type) {
		case driver.WriteCommandError:
			return true, convertDriverWriteCommandError(tt)
		default:
			return true, replaceErrors(err)
		}
	default:
		return true, nil
	}
}
