// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package options

import (
	"time"

	"github.com/ikmak/mongocore/mongo/readpref"
)

// FindOptions contains options to configure Find operations.
type FindOptions struct {
	// Sort is a document specifying the order in which documents should be
	// returned.
	Sort interface{}

	// Projection is a document describing which fields will be included in
	// the documents returned.
	Projection interface{}

	// Skip is the number of documents to skip before returning.
	Skip *int64

	// Limit is the maximum number of documents to return. A negative limit
	// behaves like a positive limit with the single-batch flag set.
	Limit *int64

	// BatchSize is the maximum number of documents in each server batch.
	BatchSize *int32

	// MaxTime is the maximum amount of time the server allows the query to
	// run. This is server-enforced: the client does not cancel locally.
	MaxTime *time.Duration
}

// Find creates a new FindOptions instance.
func Find() *FindOptions {
	return &FindOptions{}
}

// MergeFindOptions combines the given FindOptions, with later options
// overriding earlier ones.
func MergeFindOptions(opts ...*FindOptions) *FindOptions {
	fo := Find()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.Sort != nil {
			fo.Sort = opt.Sort
		}
		if opt.Projection != nil {
			fo.Projection = opt.Projection
		}
		if opt.Skip != nil {
			fo.Skip = opt.Skip
		}
		if opt.Limit != nil {
			fo.Limit = opt.Limit
		}
		if opt.BatchSize != nil {
			fo.BatchSize = opt.BatchSize
		}
		if opt.MaxTime != nil {
			fo.MaxTime = opt.MaxTime
		}
	}
	return fo
}

// AggregateOptions contains options to configure Aggregate operations.
type AggregateOptions struct {
	// AllowDiskUse enables writing to temporary files during the aggregation.
	AllowDiskUse *bool

	// BatchSize is the maximum number of documents in each server batch.
	BatchSize *int32

	// MaxTime is the maximum amount of time the server allows the
	// aggregation to run.
	MaxTime *time.Duration
}

// Aggregate creates a new AggregateOptions instance.
func Aggregate() *AggregateOptions {
	return &AggregateOptions{}
}

// MergeAggregateOptions combines the given AggregateOptions, with later
// options overriding earlier ones.
func MergeAggregateOptions(opts ...*AggregateOptions) *AggregateOptions {
	ao := Aggregate()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.AllowDiskUse != nil {
			ao.AllowDiskUse = opt.AllowDiskUse
		}
		if opt.BatchSize != nil {
			ao.BatchSize = opt.BatchSize
		}
		if opt.MaxTime != nil {
			ao.MaxTime = opt.MaxTime
		}
	}
	return ao
}

// InsertOneOptions contains options to configure InsertOne operations.
type InsertOneOptions struct {
	// BypassDocumentValidation skips server-side schema validation.
	BypassDocumentValidation *bool
}

// InsertOne creates a new InsertOneOptions instance.
func InsertOne() *InsertOneOptions {
	return &InsertOneOptions{}
}

// MergeInsertOneOptions combines the given InsertOneOptions, with later
// options overriding earlier ones.
func MergeInsertOneOptions(opts ...*InsertOneOptions) *InsertOneOptions {
	io := InsertOne()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.BypassDocumentValidation != nil {
			io.BypassDocumentValidation = opt.BypassDocumentValidation
		}
	}
	return io
}

// InsertManyOptions contains options to configure InsertMany operations.
type InsertManyOptions struct {
	// BypassDocumentValidation skips server-side schema validation.
	BypassDocumentValidation *bool

	// Ordered specifies whether the server stops processing on the first
	// error. The default is true.
	Ordered *bool
}

// InsertMany creates a new InsertManyOptions instance.
func InsertMany() *InsertManyOptions {
	return &InsertManyOptions{Ordered: &defaultOrdered}
}

var defaultOrdered = true

// MergeInsertManyOptions combines the given InsertManyOptions, with later
// options overriding earlier ones.
func MergeInsertManyOptions(opts ...*InsertManyOptions) *InsertManyOptions {
	imo := InsertMany()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.BypassDocumentValidation != nil {
			imo.BypassDocumentValidation = opt.BypassDocumentValidation
		}
		if opt.Ordered != nil {
			imo.Ordered = opt.Ordered
		}
	}
	return imo
}

// UpdateOptions contains options to configure UpdateOne and UpdateMany
// operations.
type UpdateOptions struct {
	// BypassDocumentValidation skips server-side schema validation.
	BypassDocumentValidation *bool

	// Upsert inserts a new document when no document matches the filter.
	Upsert *bool
}

// Update creates a new UpdateOptions instance.
func Update() *UpdateOptions {
	return &UpdateOptions{}
}

// MergeUpdateOptions combines the given UpdateOptions, with later options
// overriding earlier ones.
func MergeUpdateOptions(opts ...*UpdateOptions) *UpdateOptions {
	uo := Update()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.BypassDocumentValidation != nil {
			uo.BypassDocumentValidation = opt.BypassDocumentValidation
		}
		if opt.Upsert != nil {
			uo.Upsert = opt.Upsert
		}
	}
	return uo
}

// ReplaceOptions contains options to configure ReplaceOne operations.
type ReplaceOptions struct {
	// BypassDocumentValidation skips server-side schema validation.
	BypassDocumentValidation *bool

	// Upsert inserts a new document when no document matches the filter.
	Upsert *bool
}

// Replace creates a new ReplaceOptions instance.
func Replace() *ReplaceOptions {
	return &ReplaceOptions{}
}

// MergeReplaceOptions combines the given ReplaceOptions, with later options
// overriding earlier ones.
func MergeReplaceOptions(opts ...*ReplaceOptions) *ReplaceOptions {
	ro := Replace()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.BypassDocumentValidation != nil {
			ro.BypassDocumentValidation = opt.BypassDocumentValidation
		}
		if opt.Upsert != nil {
			ro.Upsert = opt.Upsert
		}
	}
	return ro
}

// DeleteOptions contains options to configure DeleteOne and DeleteMany
// operations.
type DeleteOptions struct {
	// Ordered specifies whether the server stops processing on the first
	// error. The default is true.
	Ordered *bool
}

// Delete creates a new DeleteOptions instance.
func Delete() *DeleteOptions {
	return &DeleteOptions{}
}

// MergeDeleteOptions combines the given DeleteOptions, with later options
// overriding earlier ones.
func MergeDeleteOptions(opts ...*DeleteOptions) *DeleteOptions {
	do := Delete()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.Ordered != nil {
			do.Ordered = opt.Ordered
		}
	}
	return do
}

// BulkWriteOptions contains options to configure BulkWrite operations.
type BulkWriteOptions struct {
	// BypassDocumentValidation skips server-side schema validation.
	BypassDocumentValidation *bool

	// Ordered specifies whether the writes run in the order given and stop
	// on the first error. The default is true.
	Ordered *bool
}

// BulkWrite creates a new BulkWriteOptions instance.
func BulkWrite() *BulkWriteOptions {
	return &BulkWriteOptions{Ordered: &defaultOrdered}
}

// MergeBulkWriteOptions combines the given BulkWriteOptions, with later
// options overriding earlier ones.
func MergeBulkWriteOptions(opts ...*BulkWriteOptions) *BulkWriteOptions {
	bwo := BulkWrite()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.BypassDocumentValidation != nil {
			bwo.BypassDocumentValidation = opt.BypassDocumentValidation
		}
		if opt.Ordered != nil {
			bwo.Ordered = opt.Ordered
		}
	}
	return bwo
}

// RunCmdOptions contains options to configure RunCommand operations.
type RunCmdOptions struct {
	// ReadPreference is the read preference for the command. The default is
	// primary.
	ReadPreference *readpref.ReadPref
}

// RunCmd creates a new RunCmdOptions instance.
func RunCmd() *RunCmdOptions {
	return &RunCmdOptions{}
}

// MergeRunCmdOptions combines the given RunCmdOptions, with later options
// overriding earlier ones.
func MergeRunCmdOptions(opts ...*RunCmdOptions) *RunCmdOptions {
	rc := RunCmd()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.ReadPreference != nil {
			rc.ReadPreference = opt.ReadPreference
		}
	}
	return rc
}
