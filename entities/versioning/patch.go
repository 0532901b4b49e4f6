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

package versioning

import (
	"github.com/pkg/errors"
	"github.com/weaviate/gridmirror/entities/document"
)

// Patch upgrades a document from PatchedVersion to PatchedVersion+1. Apply
// must not retain doc and must not touch the version stamp, the chain sets it.
type Patch interface {
	PatchedVersion() int
	Apply(doc *document.Document) (*document.Document, error)
}

type patchFunc struct {
	from int
	fn   func(doc *document.Document) (*document.Document, error)
}

// NewPatch wraps fn as the patch upgrading documents of version from.
func NewPatch(from int, fn func(doc *document.Document) (*document.Document, error)) Patch {
	return &patchFunc{from: from, fn: fn}
}

func (p *patchFunc) PatchedVersion() int {
	return p.from
}

func (p *patchFunc) Apply(doc *document.Document) (*document.Document, error) {
	return p.fn(doc)
}

type legacyPatch struct {
	from int
	fn   func(fields map[string]any) (map[string]any, error)
}

// NewLegacyPatch adapts a patch written against plain Go maps. The document
// is converted with ToNative and back with MapFromNative, which keeps int and
// float values apart, so the round trip itself never changes a value.
// Surviving fields keep their position, fields the patch adds are appended.
func NewLegacyPatch(from int, fn func(fields map[string]any) (map[string]any, error)) Patch {
	return &legacyPatch{from: from, fn: fn}
}

func (p *legacyPatch) PatchedVersion() int {
	return p.from
}

func (p *legacyPatch) Apply(doc *document.Document) (*document.Document, error) {
	out, err := p.fn(doc.ToNative())
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("legacy patch returned no fields")
	}

	return document.MapFromNative(out, doc)
}
