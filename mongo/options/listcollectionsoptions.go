// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package options

// ListCollectionsOptions contains options to configure collection listing
// operations.
type ListCollectionsOptions struct {
	// NameOnly restricts the server response to collection names. The client
	// streams raw reply documents and projects out just the names rather
	// than materializing full specification objects.
	NameOnly *bool

	// BatchSize is the maximum number of specifications in each server
	// batch.
	BatchSize *int32
}

// ListCollections creates a new ListCollectionsOptions instance.
func ListCollections() *ListCollectionsOptions {
	return &ListCollectionsOptions{}
}

// MergeListCollectionsOptions combines the given ListCollectionsOptions, with
// later options overriding earlier ones.
func MergeListCollectionsOptions(opts ...*ListCollectionsOptions) *ListCollectionsOptions {
	lc := ListCollections()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.NameOnly != nil {
			lc.NameOnly = opt.NameOnly
		}
		if opt.BatchSize != nil {
			lc.BatchSize = opt.BatchSize
		}
	}
	return lc
}
