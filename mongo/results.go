// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

// Result types are immutable snapshots decoded from a server reply. When the
// write was unacknowledged the Acknowledged field is false and every other
// field holds its zero value: no meaningful result exists, which is not an
// error.

// InsertOneResult is the result type returned by an InsertOne operation.
type InsertOneResult struct {
	// InsertedID is the _id of the inserted document. A value generated by
	// the driver will be of type primitive.ObjectID.
	InsertedID interface{}

	// Acknowledged is false when the write was unacknowledged.
	Acknowledged bool
}

// InsertManyResult is a result type returned by an InsertMany operation.
type InsertManyResult struct {
	// InsertedIDs is the _id values of the inserted documents, in the order
	// they were passed.
	InsertedIDs []interface{}

	// Acknowledged is false when the write was unacknowledged.
	Acknowledged bool
}

// UpdateResult is the result type returned from UpdateOne, UpdateMany, and
// ReplaceOne operations.
type UpdateResult struct {
	MatchedCount  int64       // The number of documents matched by the filter.
	ModifiedCount int64       // The number of documents modified by the operation.
	UpsertedCount int64       // The number of documents upserted by the operation.
	UpsertedID    interface{} // The _id field of the upserted document, or nil if no upsert was done.

	// Acknowledged is false when the write was unacknowledged.
	Acknowledged bool
}

// DeleteResult is the result type returned by DeleteOne and DeleteMany operations.
type DeleteResult struct {
	// DeletedCount is the number of documents deleted.
	DeletedCount int64

	// Acknowledged is false when the write was unacknowledged.
	Acknowledged bool
}

// BulkWriteResult is the result type returned by a BulkWrite operation.
type BulkWriteResult struct {
	InsertedCount int64
	MatchedCount  int64
	ModifiedCount int64
	DeletedCount  int64
	UpsertedCount int64

	// UpsertedIDs is a map of operation index to the _id of each upserted
	// document.
	UpsertedIDs map[int64]interface{}

	// Acknowledged is false when the write was unacknowledged.
	Acknowledged bool
}
