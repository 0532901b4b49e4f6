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

package fakes

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zhangyunhao116/skipmap"

	"github.com/weaviate/gridmirror/entities/document"
	"github.com/weaviate/gridmirror/entities/filters"
	"github.com/weaviate/gridmirror/usecases/store"
)

// FakeDatabase is an in-memory store.Database.
type FakeDatabase struct {
	mu          sync.Mutex
	collections map[string]*FakeCollection
	// CollectionErr is returned by Collection when set.
	CollectionErr error
}

func NewFakeDatabase() *FakeDatabase {
	return &FakeDatabase{collections: map[string]*FakeCollection{}}
}

func (f *FakeDatabase) Collection(name string) (store.Collection, error) {
	if f.CollectionErr != nil {
		return nil, f.CollectionErr
	}
	return f.Fake(name), nil
}

// Fake returns the typed collection for assertions in tests.
func (f *FakeDatabase) Fake(name string) *FakeCollection {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[name]
	if !ok {
		c = NewFakeCollection(name)
		f.collections[name] = c
	}
	return c
}

// FakeCollection keeps documents ordered by id. Failures can be programmed
// per id or for every bulk call.
type FakeCollection struct {
	name string
	docs *skipmap.FuncMap[string, *document.Document]

	mu             sync.Mutex
	indexes        map[string]store.IndexSpec
	bulkCalls      [][]store.BulkOp
	scanPredicates []*filters.Clause

	// FailIDs fails any op on the id with the given error.
	FailIDs map[string]error
	// FailBulk fails the next FailBulkTimes bulk calls before any op is applied.
	FailBulk      error
	FailBulkTimes int
	// FailScan is returned by Scan when set.
	FailScan error
	// FailCreateIndex is returned by CreateIndex when set.
	FailCreateIndex error
}

func NewFakeCollection(name string) *FakeCollection {
	return &FakeCollection{
		name: name,
		docs: skipmap.NewFunc[string, *document.Document](func(a, b string) bool {
			return a < b
		}),
		indexes: map[string]store.IndexSpec{},
		FailIDs: map[string]error{},
	}
}

func (f *FakeCollection) Name() string { return f.name }

// Put stores docs without going through BulkWrite.
func (f *FakeCollection) Put(docs ...*document.Document) {
	for _, doc := range docs {
		f.docs.Store(doc.ID(), doc.Clone())
	}
}

// Get returns a copy of the stored document.
func (f *FakeCollection) Get(id string) (*document.Document, bool) {
	doc, ok := f.docs.Load(id)
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

func (f *FakeCollection) Len() int { return f.docs.Len() }

func (f *FakeCollection) IDs() []string {
	var ids []string
	f.docs.Range(func(id string, _ *document.Document) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

func (f *FakeCollection) BulkCalls() [][]store.BulkOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]store.BulkOp{}, f.bulkCalls...)
}

func (f *FakeCollection) ScanPredicates() []*filters.Clause {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*filters.Clause{}, f.scanPredicates...)
}

func (f *FakeCollection) Scan(ctx context.Context, predicate *filters.Clause) (store.Cursor, error) {
	f.mu.Lock()
	f.scanPredicates = append(f.scanPredicates, predicate)
	failScan := f.FailScan
	f.mu.Unlock()
	if failScan != nil {
		return nil, failScan
	}

	var matching []*document.Document
	f.docs.Range(func(_ string, doc *document.Document) bool {
		if predicate.Match(doc) {
			matching = append(matching, doc.Clone())
		}
		return true
	})
	return store.NewSliceCursor(matching), nil
}

func (f *FakeCollection) FindByID(ctx context.Context, id string) (*document.Document, bool, error) {
	doc, ok := f.Get(id)
	return doc, ok, nil
}

func (f *FakeCollection) BulkWrite(ctx context.Context, ops []store.BulkOp) (store.BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls = append(f.bulkCalls, append([]store.BulkOp{}, ops...))

	var result store.BulkResult
	if f.FailBulk != nil && f.FailBulkTimes > 0 {
		f.FailBulkTimes--
		return result, f.FailBulk
	}

	for i, op := range ops {
		if err := f.apply(op); err != nil {
			return result, &store.BulkWriteError{Index: i, Err: err, Result: result}
		}
		result.Count(op.Kind)
	}
	return result, nil
}

func (f *FakeCollection) apply(op store.BulkOp) error {
	if err := op.Validate(); err != nil {
		return err
	}
	if err, ok := f.FailIDs[op.ID]; ok {
		return err
	}

	switch op.Kind {
	case store.OpInsert:
		if _, loaded := f.docs.LoadOrStore(op.ID, op.Document.Clone()); loaded {
			return fmt.Errorf("insert %q: %w", op.ID, store.ErrDuplicateKey)
		}
	case store.OpReplace:
		f.docs.Store(op.ID, op.Document.Clone())
	case store.OpUpdate:
		if existing, ok := f.docs.Load(op.ID); ok {
			f.docs.Store(op.ID, store.ApplyUpdate(existing, op))
		}
	case store.OpDelete:
		f.docs.Delete(op.ID)
	}
	return nil
}

func (f *FakeCollection) ListIndexes(ctx context.Context) ([]store.IndexSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	specs := make([]store.IndexSpec, 0, len(f.indexes))
	for _, spec := range f.indexes {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(a, b int) bool { return specs[a].Name < specs[b].Name })
	return specs, nil
}

func (f *FakeCollection) CreateIndex(ctx context.Context, spec store.IndexSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreateIndex != nil {
		return f.FailCreateIndex
	}
	f.indexes[spec.Name] = spec
	return nil
}

func (f *FakeCollection) DropIndex(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.indexes, name)
	return nil
}
