// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/driver/operation"
	"github.com/ikmak/mongocore/driver/session"
	"github.com/ikmak/mongocore/mongo/options"
	"github.com/ikmak/mongocore/mongo/writeconcern"
)

// WriteModel is the interface satisfied by models that can be used in a
// BulkWrite operation.
type WriteModel interface {
	writeModel()
}

// InsertOneModel is used to insert a single document in a BulkWrite operation.
type InsertOneModel struct {
	// Document is the document to insert. If it does not have an _id, one is
	// generated.
	Document interface{}
}

func (*InsertOneModel) writeModel() {}

// UpdateOneModel is used to update at most one document in a BulkWrite
// operation.
type UpdateOneModel struct {
	Filter interface{}

	// Update must be a document containing only update operators.
	Update interface{}

	Upsert *bool
}

func (*UpdateOneModel) writeModel() {}

// UpdateManyModel is used to update multiple documents in a BulkWrite
// operation.
type UpdateManyModel struct {
	Filter interface{}

	// Update must be a document containing only update operators.
	Update interface{}

	Upsert *bool
}

func (*UpdateManyModel) writeModel() {}

// ReplaceOneModel is used to replace at most one document in a BulkWrite
// operation.
type ReplaceOneModel struct {
	Filter interface{}

	// Replacement cannot contain update operators.
	Replacement interface{}

	Upsert *bool
}

func (*ReplaceOneModel) writeModel() {}

// DeleteOneModel is used to delete at most one document in a BulkWrite
// operation.
type DeleteOneModel struct {
	Filter interface{}
}

func (*DeleteOneModel) writeModel() {}

// DeleteManyModel is used to delete multiple documents in a BulkWrite
// operation.
type DeleteManyModel struct {
	Filter interface{}
}

func (*DeleteManyModel) writeModel() {}

// BulkWrite performs the given write models against the collection. When
// ordered, execution stops at the first failed model; when unordered the
// remaining models still run and all failures are reported together.
func (coll *Collection) BulkWrite(ctx context.Context, models []WriteModel,
	opts ...*options.BulkWriteOptions) (*BulkWriteResult, error) {

	if ctx == nil {
		ctx = context.Background()
	}
	if len(models) == 0 {
		return nil, ErrEmptySlice
	}
	for i, model := range models {
		if model == nil {
			return nil, fmt.Errorf("write model at index %d is nil", i)
		}
	}

	sess, wc, cleanup, err := coll.writeContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	bwo := options.MergeBulkWriteOptions(opts...)

	bw := bulkWrite{
		coll:    coll,
		sess:    sess,
		wc:      wc,
		ordered: bwo.Ordered == nil || *bwo.Ordered,
		bypass:  bwo.BypassDocumentValidation,
		result:  BulkWriteResult{UpsertedIDs: make(map[int64]interface{})},
	}
	return bw.execute(ctx, models)
}

// bulkWrite carries the per-call state of a BulkWrite execution. Each model
// runs as its own command, so a failed model reports its position in the
// models slice, not a server-side batch index.
type bulkWrite struct {
	coll    *Collection
	sess    *session.Client
	wc      *writeconcern.WriteConcern
	ordered bool
	bypass  *bool

	result       BulkWriteResult
	writeErrors  []BulkWriteError
	wcError      *WriteConcernError
	errorLabels  []string
	acknowledged bool
}

func (bw *bulkWrite) execute(ctx context.Context, models []WriteModel) (*BulkWriteResult, error) {
	bw.acknowledged = true

	for i, model := range models {
		var err error
		switch m := model.(type) {
		case *InsertOneModel:
			err = bw.runInsert(ctx, i, m)
		case *UpdateOneModel:
			err = bw.runUpdate(ctx, i, m.Filter, m.Update, false, m.Upsert, true)
		case *UpdateManyModel:
			err = bw.runUpdate(ctx, i, m.Filter, m.Update, true, m.Upsert, true)
		case *ReplaceOneModel:
			err = bw.runUpdate(ctx, i, m.Filter, m.Replacement, false, m.Upsert, false)
		case *DeleteOneModel:
			err = bw.runDelete(ctx, i, m.Filter, true)
		case *DeleteManyModel:
			err = bw.runDelete(ctx, i, m.Filter, false)
		default:
			err = fmt.Errorf("unsupported write model type %T", model)
		}

		if err != nil {
			switch t := err.(type) {
			case driver.WriteCommandError:
				bw.recordCommandError(int64(i), model, t)
				if bw.ordered {
					return bw.finish()
				}
			default:
				if err == driver.ErrUnacknowledgedWrite {
					bw.acknowledged = false
					continue
				}
				return nil, replaceErrors(err)
			}
		}
	}
	return bw.finish()
}

func (bw *bulkWrite) recordCommandError(idx int64, model WriteModel, wce driver.WriteCommandError) {
	for _, we := range wce.WriteErrors {
		bw.writeErrors = append(bw.writeErrors, BulkWriteError{
			WriteError: WriteError{
				Index:   int(idx),
				Code:    int(we.Code),
				Message: we.Message,
				Details: bson.Raw(we.Details),
			},
			Request: model,
		})
	}
	if wce.WriteConcernError != nil {
		bw.wcError = convertDriverWriteConcernError(wce.WriteConcernError)
	}
	bw.errorLabels = append(bw.errorLabels, wce.Labels...)
}

func (bw *bulkWrite) finish() (*BulkWriteResult, error) {
	bw.result.Acknowledged = bw.acknowledged
	if len(bw.writeErrors) == 0 && bw.wcError == nil {
		return &bw.result, nil
	}
	return &bw.result, BulkWriteException{
		WriteErrors:       bw.writeErrors,
		WriteConcernError: bw.wcError,
		Labels:            bw.errorLabels,
	}
}

func (bw *bulkWrite) runInsert(ctx context.Context, idx int, model *InsertOneModel) error {
	doc, err := marshal(model.Document)
	if err != nil {
		return err
	}
	doc, _, err = ensureID(doc)
	if err != nil {
		return err
	}

	op := operation.Insert{
		Documents:                []bsoncore.Document{doc},
		BypassDocumentValidation: bw.bypass,
		Collection:               bw.coll.name,
		Database:                 bw.coll.db.name,
		Deployment:               bw.coll.client.deployment,
		Selector:                 bw.coll.writeSelector,
		WriteConcern:             bw.wc,
		Session:                  bw.sess,
		Clock:                    bw.coll.client.clock,
		Retry:                    bw.coll.writeRetry(),
	}
	if err := op.Execute(ctx); err != nil {
		return err
	}

	bw.result.InsertedCount++
	return nil
}

func (bw *bulkWrite) runUpdate(ctx context.Context, idx int, filter, update interface{},
	multi bool, upsert *bool, operatorsRequired bool) error {

	f, err := marshal(filter)
	if err != nil {
		return err
	}
	u, err := marshal(update)
	if err != nil {
		return err
	}
	if operatorsRequired {
		if err := ensureDollarKey(u); err != nil {
			return err
		}
	} else {
		if err := ensureNoDollarKey(u); err != nil {
			return err
		}
	}

	uidx, stmt := bsoncore.AppendDocumentStart(nil)
	stmt = bsoncore.AppendDocumentElement(stmt, "q", f)
	stmt = bsoncore.AppendDocumentElement(stmt, "u", u)
	if multi {
		stmt = bsoncore.AppendBooleanElement(stmt, "multi", multi)
	}
	if upsert != nil {
		stmt = bsoncore.AppendBooleanElement(stmt, "upsert", *upsert)
	}
	stmt, _ = bsoncore.AppendDocumentEnd(stmt, uidx)

	var retry *driver.RetryMode
	if !multi {
		retry = bw.coll.writeRetry()
	}

	op := operation.Update{
		Updates:                  []bsoncore.Document{stmt},
		BypassDocumentValidation: bw.bypass,
		Collection:               bw.coll.name,
		Database:                 bw.coll.db.name,
		Deployment:               bw.coll.client.deployment,
		Selector:                 bw.coll.writeSelector,
		WriteConcern:             bw.wc,
		Session:                  bw.sess,
		Clock:                    bw.coll.client.clock,
		Retry:                    retry,
	}
	if err := op.Execute(ctx); err != nil {
		return err
	}

	res := op.Result()
	matched := res.N
	if len(res.Upserted) > 0 {
		matched--
		bw.result.UpsertedCount++
		bw.result.UpsertedIDs[int64(idx)] = res.Upserted[0].ID
	}
	bw.result.MatchedCount += matched
	bw.result.ModifiedCount += res.NModified
	return nil
}

func (bw *bulkWrite) runDelete(ctx context.Context, idx int, filter interface{}, deleteOne bool) error {
	f, err := marshal(filter)
	if err != nil {
		return err
	}

	limit := int32(0)
	if deleteOne {
		limit = 1
	}
	didx, stmt := bsoncore.AppendDocumentStart(nil)
	stmt = bsoncore.AppendDocumentElement(stmt, "q", f)
	stmt = bsoncore.AppendInt32Element(stmt, "limit", limit)
	stmt, _ = bsoncore.AppendDocumentEnd(stmt, didx)

	var retry *driver.RetryMode
	if deleteOne {
		retry = bw.coll.writeRetry()
	}

	op := operation.Delete{
		Deletes:      []bsoncore.Document{stmt},
		Collection:   bw.coll.name,
		Database:     bw.coll.db.name,
		Deployment:   bw.coll.client.deployment,
		Selector:     bw.coll.writeSelector,
		WriteConcern: bw.wc,
		Session:      bw.sess,
		Clock:        bw.coll.client.clock,
		Retry:        retry,
	}
	if err := op.Execute(ctx); err != nil {
		return err
	}

	bw.result.DeletedCount += op.Result().N
	return nil
}
