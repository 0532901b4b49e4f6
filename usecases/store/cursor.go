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
	"context"

	"github.com/weaviate/gridmirror/entities/document"
)

// NewSliceCursor iterates docs in order.
func NewSliceCursor(docs []*document.Document) Cursor {
	return &sliceCursor{docs: docs, pos: -1}
}

type sliceCursor struct {
	docs []*document.Document
	pos  int
	err  error
}

func (c *sliceCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos+1 >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Document() *document.Document {
	if c.pos < 0 || c.pos >= len(c.docs) {
		return nil
	}
	return c.docs[c.pos]
}

func (c *sliceCursor) Err() error { return c.err }

func (c *sliceCursor) Close() error {
	c.docs = nil
	return nil
}
