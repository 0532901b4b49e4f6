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

// Package passthrough provides converters for applications that keep
// documents as their in-memory records.
package passthrough

import (
	"fmt"

	"github.com/weaviate/gridmirror/entities/document"
	"github.com/weaviate/gridmirror/entities/filters"
	"github.com/weaviate/gridmirror/usecases/store"
)

// Converter maps *document.Document records to themselves. It also accepts
// map[string]any records on the way to the store.
type Converter struct{}

func (Converter) ToDocument(record any) (*document.Document, error) {
	switch r := record.(type) {
	case *document.Document:
		if r == nil {
			return nil, fmt.Errorf("nil document")
		}
		return r.Clone(), nil
	case map[string]any:
		return document.MapFromNative(r, nil)
	default:
		return nil, fmt.Errorf("unsupported record type %T", record)
	}
}

func (Converter) ToRecord(doc *document.Document) (any, error) {
	return doc.Clone(), nil
}

// TemplateToQuery matches documents that have every non-null field of the
// template with an equal value. An empty template matches everything.
func (c Converter) TemplateToQuery(template any) (*filters.Clause, error) {
	doc, err := c.ToDocument(template)
	if err != nil {
		return nil, err
	}
	var operands []*filters.Clause
	doc.Range(func(field string, v document.Value) bool {
		if !v.IsNull() {
			operands = append(operands, filters.Equal(field, v))
		}
		return true
	})
	if len(operands) == 0 {
		return nil, nil
	}
	return filters.And(operands...), nil
}

// Converters hands out the pass-through converter for a fixed set of types,
// or for every type if the set is empty.
type Converters struct {
	types map[string]struct{}
}

func NewConverters(typeNames ...string) *Converters {
	c := &Converters{types: map[string]struct{}{}}
	for _, name := range typeNames {
		c.types[name] = struct{}{}
	}
	return c
}

func (c *Converters) ConverterFor(typeName string) (store.Converter, error) {
	if len(c.types) > 0 {
		if _, ok := c.types[typeName]; !ok {
			return nil, fmt.Errorf("no converter for type %s", typeName)
		}
	}
	return Converter{}, nil
}
