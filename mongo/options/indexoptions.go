// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package options

import "time"

// CreateIndexesOptions contains options to configure index creation
// operations.
type CreateIndexesOptions struct {
	// MaxTime is the maximum amount of time the server allows the operation
	// to run.
	MaxTime *time.Duration
}

// CreateIndexes creates a new CreateIndexesOptions instance.
func CreateIndexes() *CreateIndexesOptions {
	return &CreateIndexesOptions{}
}

// MergeCreateIndexesOptions combines the given CreateIndexesOptions, with
// later options overriding earlier ones.
func MergeCreateIndexesOptions(opts ...*CreateIndexesOptions) *CreateIndexesOptions {
	c := CreateIndexes()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.MaxTime != nil {
			c.MaxTime = opt.MaxTime
		}
	}
	return c
}

// DropIndexesOptions contains options to configure index drop operations.
type DropIndexesOptions struct {
	// MaxTime is the maximum amount of time the server allows the operation
	// to run.
	MaxTime *time.Duration
}

// DropIndexes creates a new DropIndexesOptions instance.
func DropIndexes() *DropIndexesOptions {
	return &DropIndexesOptions{}
}

// MergeDropIndexesOptions combines the given DropIndexesOptions, with later
// options overriding earlier ones.
func MergeDropIndexesOptions(opts ...*DropIndexesOptions) *DropIndexesOptions {
	d := DropIndexes()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.MaxTime != nil {
			d.MaxTime = opt.MaxTime
		}
	}
	return d
}

// ListIndexesOptions contains options to configure index listing operations.
type ListIndexesOptions struct {
	// BatchSize is the maximum number of index specifications in each server
	// batch.
	BatchSize *int32

	// MaxTime is the maximum amount of time the server allows the operation
	// to run.
	MaxTime *time.Duration
}

// ListIndexes creates a new ListIndexesOptions instance.
func ListIndexes() *ListIndexesOptions {
	return &ListIndexesOptions{}
}

// MergeListIndexesOptions combines the given ListIndexesOptions, with later
// options overriding earlier ones.
func MergeListIndexesOptions(opts ...*ListIndexesOptions) *ListIndexesOptions {
	l := ListIndexes()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.BatchSize != nil {
			l.BatchSize = opt.BatchSize
		}
		if opt.MaxTime != nil {
			l.MaxTime = opt.MaxTime
		}
	}
	return l
}

// IndexOptions describe one index being created: the per-index server options
// that accompany its key document.
type IndexOptions struct {
	// Name is the index name. When unset a name is generated from the keys.
	Name *string

	// Unique enforces that indexed values are unique across documents.
	Unique *bool

	// Sparse skips documents that do not contain the indexed field.
	Sparse *bool

	// ExpireAfterSeconds makes the index a TTL index with the given lifetime.
	ExpireAfterSeconds *int32
}

// Index creates a new IndexOptions instance.
func Index() *IndexOptions {
	return &IndexOptions{}
}
