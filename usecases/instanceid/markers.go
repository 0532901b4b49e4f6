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

package instanceid

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/weaviate/gridmirror/entities/document"
	"github.com/weaviate/gridmirror/usecases/store"
)

const DefaultMetaCollection = "_gridmirror_meta"

// markers keeps one document per collection in the meta collection, with
// an _instanceId_<N> field for every partition count whose calculation
// completed. A marker is removed before a calculation starts and written
// again once it succeeded, so it never outlives incomplete fields.
type markers struct {
	db   store.Database
	name string
}

func markerID(collection string) string { return "instance_ids:" + collection }

func (m markers) load(ctx context.Context, collection string) (map[int]bool, error) {
	coll, err := m.db.Collection(m.name)
	if err != nil {
		return nil, err
	}
	doc, ok, err := coll.FindByID(ctx, markerID(collection))
	if err != nil {
		return nil, errors.Wrapf(err, "read marker of %s", collection)
	}
	done := map[int]bool{}
	if !ok {
		return done, nil
	}
	for _, field := range doc.Keys() {
		if n, ok := document.ParseInstanceIDField(field); ok {
			done[n] = true
		}
	}
	return done, nil
}

func (m markers) set(ctx context.Context, collection string, counts []int, at time.Time) error {
	doc := document.New(markerID(collection)).Set("collection", document.FromString(collection))
	for _, n := range counts {
		doc.Set(document.InstanceIDField(n), document.FromInt(at.UnixMilli()))
	}
	return m.write(ctx, collection, store.ReplaceOp(doc))
}

func (m markers) clear(ctx context.Context, collection string) error {
	return m.write(ctx, collection, store.DeleteOp(markerID(collection)))
}

func (m markers) write(ctx context.Context, collection string, op store.BulkOp) error {
	coll, err := m.db.Collection(m.name)
	if err != nil {
		return err
	}
	if _, err := coll.BulkWrite(ctx, []store.BulkOp{op}); err != nil {
		return errors.Wrapf(err, "write marker of %s", collection)
	}
	return nil
}
