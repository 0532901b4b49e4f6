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

package docstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/weaviate/gridmirror/entities/document"
	"github.com/weaviate/gridmirror/entities/filters"
	"github.com/weaviate/gridmirror/usecases/store"
)

type collection struct {
	store  *Store
	name   string
	bucket []byte
	logger logrus.FieldLogger
}

func (c *collection) Name() string { return c.name }

func (c *collection) Scan(ctx context.Context, predicate *filters.Clause) (store.Cursor, error) {
	if err := predicate.Validate(); err != nil {
		return nil, errors.Wrapf(err, "scan %s", c.name)
	}
	return &pagingCursor{
		coll:      c,
		predicate: predicate,
		pageSize:  c.store.opts.ScanPageSize,
	}, nil
}

func (c *collection) FindByID(ctx context.Context, id string) (*document.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var doc *document.Document
	err := c.store.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.bucket)
		if b == nil {
			return nil
		}
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		var err error
		doc, err = decodeDocument(data)
		return err
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, "find %q in %s", id, c.name)
	}
	return doc, doc != nil, nil
}

// BulkWrite applies all ops in one transaction. When an op fails the ops
// before it are still committed.
func (c *collection) BulkWrite(ctx context.Context, ops []store.BulkOp) (store.BulkResult, error) {
	var (
		result store.BulkResult
		failed *store.BulkWriteError
	)
	if len(ops) == 0 {
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	err := c.store.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(c.bucket)
		if err != nil {
			return err
		}
		for i, op := range ops {
			if err := applyOp(b, op); err != nil {
				failed = &store.BulkWriteError{Index: i, Err: err, Result: result}
				return nil
			}
			result.Count(op.Kind)
		}
		return nil
	})
	if err != nil {
		return store.BulkResult{}, errors.Wrapf(err, "bulk write %s", c.name)
	}
	if failed != nil {
		return result, failed
	}
	return result, nil
}

func applyOp(b *bolt.Bucket, op store.BulkOp) error {
	if err := op.Validate(); err != nil {
		return err
	}
	key := []byte(op.ID)

	switch op.Kind {
	case store.OpInsert:
		if b.Get(key) != nil {
			return fmt.Errorf("insert %q: %w", op.ID, store.ErrDuplicateKey)
		}
		return putDocument(b, key, op.Document)
	case store.OpReplace:
		return putDocument(b, key, op.Document)
	case store.OpUpdate:
		data := b.Get(key)
		if data == nil {
			return nil
		}
		existing, err := decodeDocument(data)
		if err != nil {
			return err
		}
		return putDocument(b, key, store.ApplyUpdate(existing, op))
	case store.OpDelete:
		return b.Delete(key)
	default:
		return fmt.Errorf("unknown op kind %d", int(op.Kind))
	}
}

func putDocument(b *bolt.Bucket, key []byte, doc *document.Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return errors.Wrapf(err, "encode %s", doc.Describe())
	}
	return b.Put(key, data)
}

func (c *collection) ListIndexes(ctx context.Context) ([]store.IndexSpec, error) {
	var specs []store.IndexSpec
	err := c.store.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(indexBucket).Bucket([]byte(c.name))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var spec store.IndexSpec
			if err := decodeIndexSpec(v, &spec); err != nil {
				return err
			}
			specs = append(specs, spec)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list indexes of %s", c.name)
	}
	return specs, nil
}

func (c *collection) CreateIndex(ctx context.Context, spec store.IndexSpec) error {
	if spec.Name == "" || len(spec.Fields) == 0 {
		return fmt.Errorf("index of %s needs a name and fields", c.name)
	}
	data, err := encodeIndexSpec(spec)
	if err != nil {
		return err
	}
	err = c.store.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(indexBucket).CreateBucketIfNotExists([]byte(c.name))
		if err != nil {
			return err
		}
		return b.Put([]byte(spec.Name), data)
	})
	if err != nil {
		return errors.Wrapf(err, "create index %s on %s", spec.Name, c.name)
	}
	c.logger.WithFields(logrus.Fields{
		"action": "docstore_create_index",
		"index":  spec.Name,
		"fields": spec.Fields,
	}).Debug("index created")
	return nil
}

func (c *collection) DropIndex(ctx context.Context, name string) error {
	err := c.store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(indexBucket).Bucket([]byte(c.name))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(name))
	})
	return errors.Wrapf(err, "drop index %s on %s", name, c.name)
}

// pagingCursor reads the collection in pages of short read transactions so
// that a slow consumer does not pin a transaction.
type pagingCursor struct {
	coll      *collection
	predicate *filters.Clause
	pageSize  int

	page      []*document.Document
	pos       int
	lastKey   []byte
	exhausted bool
	closed    bool
	err       error
}

func (pc *pagingCursor) Next(ctx context.Context) bool {
	if pc.err != nil || pc.closed {
		return false
	}
	for pc.pos+1 >= len(pc.page) {
		if pc.exhausted {
			return false
		}
		if err := ctx.Err(); err != nil {
			pc.err = err
			return false
		}
		if err := pc.fetch(); err != nil {
			pc.err = errors.Wrapf(err, "scan %s", pc.coll.name)
			return false
		}
	}
	pc.pos++
	return true
}

func (pc *pagingCursor) fetch() error {
	pc.page = pc.page[:0]
	pc.pos = -1
	return pc.coll.store.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(pc.coll.bucket)
		if b == nil {
			pc.exhausted = true
			return nil
		}
		cur := b.Cursor()
		var k, v []byte
		if pc.lastKey == nil {
			k, v = cur.First()
		} else {
			k, v = cur.Seek(pc.lastKey)
			if k != nil && bytes.Equal(k, pc.lastKey) {
				k, v = cur.Next()
			}
		}
		scanned := 0
		for ; k != nil; k, v = cur.Next() {
			if scanned == pc.pageSize {
				return nil
			}
			scanned++
			pc.lastKey = append(pc.lastKey[:0], k...)
			doc, err := decodeDocument(v)
			if err != nil {
				return errors.Wrapf(err, "key %q", k)
			}
			if pc.predicate.Match(doc) {
				pc.page = append(pc.page, doc)
			}
		}
		pc.exhausted = true
		return nil
	})
}

func (pc *pagingCursor) Document() *document.Document {
	if pc.pos < 0 || pc.pos >= len(pc.page) {
		return nil
	}
	return pc.page[pc.pos]
}

func (pc *pagingCursor) Err() error { return pc.err }

func (pc *pagingCursor) Close() error {
	pc.closed = true
	pc.page = nil
	return nil
}
