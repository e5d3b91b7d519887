// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package options

import "time"

// FullDocument values direct the server on how to include the full changed
// document in change stream events.
type FullDocument string

const (
	// Default does not include a document copy for update events.
	Default FullDocument = "default"
	// UpdateLookup includes a delta describing the changes to the document
	// and a copy of the entire document that was changed.
	UpdateLookup FullDocument = "updateLookup"
)

// ChangeStreamOptions contains options to configure change stream operations.
type ChangeStreamOptions struct {
	// BatchSize is the maximum number of events in each server batch.
	BatchSize *int32

	// FullDocument specifies how a full copy of the changed document is
	// included for update events.
	FullDocument *FullDocument

	// MaxAwaitTime is the maximum amount of time the server waits for new
	// events before returning an empty batch.
	MaxAwaitTime *time.Duration

	// ResumeAfter is a resume token; the stream opens after the event the
	// token belongs to. At most one of ResumeAfter and StartAfter may be set.
	ResumeAfter interface{}

	// StartAfter is a resume token; like ResumeAfter, but usable after an
	// invalidate event.
	StartAfter interface{}
}

// ChangeStream creates a new ChangeStreamOptions instance.
func ChangeStream() *ChangeStreamOptions {
	return &ChangeStreamOptions{}
}

// MergeChangeStreamOptions combines the given ChangeStreamOptions, with later
// options overriding earlier ones.
func MergeChangeStreamOptions(opts ...*ChangeStreamOptions) *ChangeStreamOptions {
	cso := ChangeStream()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.BatchSize != nil {
			cso.BatchSize = opt.BatchSize
		}
		if opt.FullDocument != nil {
			cso.FullDocument = opt.FullDocument
		}
		if opt.MaxAwaitTime != nil {
			cso.MaxAwaitTime = opt.MaxAwaitTime
		}
		if opt.ResumeAfter != nil {
			cso.ResumeAfter = opt.ResumeAfter
		}
		if opt.StartAfter != nil {
			cso.StartAfter = opt.StartAfter
		}
	}
	return cso
}
