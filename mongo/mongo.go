// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package mongo is the typed, high-level API: clients, databases, collections,
// cursors, sessions and change streams, built on the operation layer in the
// driver packages.
package mongo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// marshal converts a user-provided value into a bsoncore.Document. Raw
// document types pass through after validation; everything else goes through
// the BSON library.
func marshal(val interface{}) (bsoncore.Document, error) {
	if val == nil {
		return nil, ErrNilDocument
	}

	switch tt := val.(type) {
	case bsoncore.Document:
		if err := tt.Validate(); err != nil {
			return nil, err
		}
		return tt, nil
	case bson.Raw:
		doc := bsoncore.Document(tt)
		if err := doc.Validate(); err != nil {
			return nil, err
		}
		return doc, nil
	case []byte:
		doc := bsoncore.Document(tt)
		if err := doc.Validate(); err != nil {
			return nil, err
		}
		return doc, nil
	}

	b, err := bson.Marshal(val)
	if err != nil {
		return nil, MarshalError{Value: val, Err: err}
	}
	return bsoncore.Document(b), nil
}

// ensureID inserts the given ObjectID as an element named "_id" at the
// beginning of the document if there is no "_id" already. The _id value of the
// resulting document is returned alongside it.
func ensureID(doc bsoncore.Document) (bsoncore.Document, interface{}, error) {
	if id, err := doc.LookupErr("_id"); err == nil {
		var v interface{}
		rv := bson.RawValue{Type: id.Type, Value: id.Data}
		if err := rv.Unmarshal(&v); err != nil {
			return nil, nil, err
		}
		return doc, v, nil
	}

	oid := primitive.NewObjectID()
	olddoc := doc

	// The _id element is prepended so the server stores it first.
	idx, doc := bsoncore.AppendDocumentStart(make([]byte, 0, len(olddoc)+17))
	doc = bsoncore.AppendObjectIDElement(doc, "_id", oid)

	elems, err := olddoc.Elements()
	if err != nil {
		return nil, nil, err
	}
	for _, elem := range elems {
		doc = bsoncore.AppendValueElement(doc, elem.Key(), elem.Value())
	}
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)

	return doc, oid, nil
}

// ensureDollarKey checks that the first top-level key of an update document is
// an update operator.
func ensureDollarKey(doc bsoncore.Document) error {
	firstElem, err := doc.IndexErr(0)
	if err != nil {
		return errors.New("update document must have at least one element")
	}
	if !strings.HasPrefix(firstElem.Key(), "$") {
		return errors.New("update document must contain key beginning with '$'")
	}
	return nil
}

// ensureNoDollarKey checks that no top-level key of a replacement document is
// an update operator.
func ensureNoDollarKey(doc bsoncore.Document) error {
	if elem, err := doc.IndexErr(0); err == nil && strings.HasPrefix(elem.Key(), "$") {
		return errors.New("replacement document cannot contain keys beginning with '$'")
	}
	return nil
}

// marshalAggregatePipeline converts a pipeline into a BSON array document. It
// also reports whether the last stage is an output stage ($out or $merge),
// which changes server selection and write concern handling for the
// aggregation.
func marshalAggregatePipeline(pipeline interface{}) (bsoncore.Document, bool, error) {
	switch tt := pipeline.(type) {
	case bsoncore.Document:
		return tt, pipelineHasOutputStage(tt), nil
	case bson.A:
		return marshalStageSlice(tt)
	case []interface{}:
		return marshalStageSlice(tt)
	case []bson.D:
		stages := make([]interface{}, 0, len(tt))
		for _, stage := range tt {
			stages = append(stages, stage)
		}
		return marshalStageSlice(stages)
	case []bsoncore.Document:
		stages := make([]interface{}, 0, len(tt))
		for _, stage := range tt {
			stages = append(stages, stage)
		}
		return marshalStageSlice(stages)
	default:
		return nil, false, fmt.Errorf("can only marshal slices and arrays into aggregation pipelines, but got %T", pipeline)
	}
}

func marshalStageSlice(stages []interface{}) (bsoncore.Document, bool, error) {
	aidx, arr := bsoncore.AppendArrayStart(nil)
	var hasOutputStage bool
	for i, stage := range stages {
		stageDoc, err := marshal(stage)
		if err != nil {
			return nil, false, err
		}
		if i == len(stages)-1 {
			hasOutputStage = stageIsOutputStage(stageDoc)
		}
		arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), stageDoc)
	}
	arr, _ = bsoncore.AppendArrayEnd(arr, aidx)
	return arr, hasOutputStage, nil
}

func pipelineHasOutputStage(arr bsoncore.Document) bool {
	values, err := bsoncore.Document(arr).Values()
	if err != nil || len(values) == 0 {
		return false
	}
	last, ok := values[len(values)-1].DocumentOK()
	if !ok {
		return false
	}
	return stageIsOutputStage(last)
}

func stageIsOutputStage(stage bsoncore.Document) bool {
	if elem, err := stage.IndexErr(0); err == nil {
		switch elem.Key() {
		case "$out", "$merge":
			return true
		}
	}
	return false
}

