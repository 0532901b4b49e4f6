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

// Package store holds the contracts between the mirror and the document
// store it persists to.
package store

import (
	"context"

	"github.com/weaviate/gridmirror/entities/document"
	"github.com/weaviate/gridmirror/entities/filters"
)

// ReadPreference selects which replica serves reads.
type ReadPreference string

const (
	ReadPrimary            ReadPreference = "primary"
	ReadPrimaryPreferred   ReadPreference = "primaryPreferred"
	ReadSecondary          ReadPreference = "secondary"
	ReadSecondaryPreferred ReadPreference = "secondaryPreferred"
	ReadNearest            ReadPreference = "nearest"
)

func (p ReadPreference) Valid() bool {
	switch p {
	case ReadPrimary, ReadPrimaryPreferred, ReadSecondary, ReadSecondaryPreferred, ReadNearest:
		return true
	default:
		return false
	}
}

// Database hands out collections by name. Collections are created lazily.
type Database interface {
	Collection(name string) (Collection, error)
}

// Collection is a named set of documents keyed by _id.
type Collection interface {
	Name() string

	// Scan returns a cursor over all documents matching predicate. A nil
	// predicate matches everything.
	Scan(ctx context.Context, predicate *filters.Clause) (Cursor, error)

	FindByID(ctx context.Context, id string) (*document.Document, bool, error)

	// BulkWrite applies ops in order and stops at the first failure. Ops
	// before the failing one stay applied, the failure is reported as
	// *BulkWriteError.
	BulkWrite(ctx context.Context, ops []BulkOp) (BulkResult, error)

	ListIndexes(ctx context.Context) ([]IndexSpec, error)
	CreateIndex(ctx context.Context, spec IndexSpec) error
	DropIndex(ctx context.Context, name string) error
}

// Cursor iterates a scan result. Callers must Close it.
type Cursor interface {
	Next(ctx context.Context) bool
	Document() *document.Document
	Err() error
	Close() error
}

// IndexSpec describes a secondary index. Sparse indexes skip documents
// without the indexed fields.
type IndexSpec struct {
	Name   string   `msgpack:"name" json:"name"`
	Fields []string `msgpack:"fields" json:"fields"`
	Sparse bool     `msgpack:"sparse" json:"sparse"`
}

// Converter maps between in-memory records and documents. Implementations
// are provided per record type by the embedding application.
type Converter interface {
	ToDocument(record any) (*document.Document, error)
	ToRecord(doc *document.Document) (any, error)
	// TemplateToQuery turns an example record into a predicate matching
	// documents with the same non-empty fields.
	TemplateToQuery(template any) (*filters.Clause, error)
}

// Converters resolves the converter of a record type.
type Converters interface {
	ConverterFor(typeName string) (Converter, error)
}
