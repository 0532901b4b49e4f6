//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2024 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package store

import (
	"errors"
	"fmt"

	"github.com/weaviate/gridmirror/entities/document"
)

var (
	ErrDuplicateKey = errors.New("duplicate key")
	ErrNotFound     = errors.New("document not found")
)

type OpKind int

const (
	OpInsert OpKind = iota
	OpReplace
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpReplace:
		return "replace"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// BulkOp is a single operation of a bulk write.
//
//   - OpInsert fails with ErrDuplicateKey if the id exists
//   - OpReplace upserts Document
//   - OpUpdate sets the fields of Set and removes the fields in Unset on an
//     existing document, it is a no-op for missing ids
//   - OpDelete removes the id, it is a no-op for missing ids
type BulkOp struct {
	Kind     OpKind
	ID       string
	Document *document.Document
	Set      *document.Map
	Unset    []string
}

func InsertOp(doc *document.Document) BulkOp {
	return BulkOp{Kind: OpInsert, ID: doc.ID(), Document: doc}
}

func ReplaceOp(doc *document.Document) BulkOp {
	return BulkOp{Kind: OpReplace, ID: doc.ID(), Document: doc}
}

func UpdateOp(id string, set *document.Map, unset ...string) BulkOp {
	return BulkOp{Kind: OpUpdate, ID: id, Set: set, Unset: unset}
}

func DeleteOp(id string) BulkOp {
	return BulkOp{Kind: OpDelete, ID: id}
}

type BulkResult struct {
	Inserted int
	Replaced int
	Updated  int
	Deleted  int
}

// Applied is the number of ops that reached the store.
func (r BulkResult) Applied() int {
	return r.Inserted + r.Replaced + r.Updated + r.Deleted
}

func (r *BulkResult) Count(k OpKind) {
	switch k {
	case OpInsert:
		r.Inserted++
	case OpReplace:
		r.Replaced++
	case OpUpdate:
		r.Updated++
	case OpDelete:
		r.Deleted++
	}
}

// BulkWriteError reports a partially applied bulk write: ops before Index
// were applied, the op at Index failed with Err, nothing after it was tried.
type BulkWriteError struct {
	Index  int
	Err    error
	Result BulkResult
}

func (e *BulkWriteError) Error() string {
	return fmt.Sprintf("bulk write failed at op %d after %d applied: %v", e.Index, e.Result.Applied(), e.Err)
}

func (e *BulkWriteError) Unwrap() error {
	return e.Err
}

// AsBulkWriteError extracts the partial failure from err.
func AsBulkWriteError(err error) (*BulkWriteError, bool) {
	var bwe *BulkWriteError
	if errors.As(err, &bwe) {
		return bwe, true
	}
	return nil, false
}

// Validate checks that op is well formed.
func (op BulkOp) Validate() error {
	if op.ID == "" {
		return fmt.Errorf("%s op without id", op.Kind)
	}
	switch op.Kind {
	case OpInsert, OpReplace:
		if op.Document == nil {
			return fmt.Errorf("%s op for %q without document", op.Kind, op.ID)
		}
		if op.Document.ID() != op.ID {
			return fmt.Errorf("%s op for %q carries document %q", op.Kind, op.ID, op.Document.ID())
		}
	case OpUpdate:
		if op.Set == nil && len(op.Unset) == 0 {
			return fmt.Errorf("update op for %q changes nothing", op.ID)
		}
	case OpDelete:
	default:
		return fmt.Errorf("unknown op kind %d", int(op.Kind))
	}
	return nil
}

// ApplyUpdate returns a copy of doc with the field changes of an OpUpdate.
func ApplyUpdate(doc *document.Document, op BulkOp) *document.Document {
	out := doc.Clone()
	if op.Set != nil {
		op.Set.Range(func(field string, v document.Value) bool {
			out.Set(field, v.Clone())
			return true
		})
	}
	for _, field := range op.Unset {
		out.Delete(field)
	}
	return out
}
