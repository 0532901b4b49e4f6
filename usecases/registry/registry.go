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

// Package registry maps record types to their descriptors and collections.
// A Registry is immutable after New and shared by reference.
package registry

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/weaviate/gridmirror/entities/descriptor"
	"github.com/weaviate/gridmirror/usecases/store"
)

var ErrUnknownType = errors.New("unknown record type")

type Registry struct {
	db          store.Database
	converters  store.Converters
	byType      map[string]*descriptor.Descriptor
	order       []string
	collections map[string]string
}

// New registers descs in the given order. Type names and collection names
// must be unique.
func New(db store.Database, converters store.Converters, descs ...*descriptor.Descriptor) (*Registry, error) {
	r := &Registry{
		db:          db,
		converters:  converters,
		byType:      make(map[string]*descriptor.Descriptor, len(descs)),
		collections: make(map[string]string, len(descs)),
	}
	for _, d := range descs {
		if d == nil {
			return nil, errors.New("nil descriptor")
		}
		if _, ok := r.byType[d.TypeName()]; ok {
			return nil, fmt.Errorf("type %s registered twice", d.TypeName())
		}
		if other, ok := r.collections[d.Collection()]; ok {
			return nil, fmt.Errorf("collection %s is used by %s and %s", d.Collection(), other, d.TypeName())
		}
		if _, err := converters.ConverterFor(d.TypeName()); err != nil {
			return nil, errors.Wrapf(err, "converter for %s", d.TypeName())
		}
		r.byType[d.TypeName()] = d
		r.collections[d.Collection()] = d.TypeName()
		r.order = append(r.order, d.TypeName())
	}
	return r, nil
}

// Descriptor returns the descriptor of typeName, ok is false for types that
// are not mirrored.
func (r *Registry) Descriptor(typeName string) (*descriptor.Descriptor, bool) {
	d, ok := r.byType[typeName]
	return d, ok
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []*descriptor.Descriptor {
	out := make([]*descriptor.Descriptor, len(r.order))
	for i, name := range r.order {
		out[i] = r.byType[name]
	}
	return out
}

// Loadable returns the descriptors taking part in the initial load, in
// registration order.
func (r *Registry) Loadable() []*descriptor.Descriptor {
	var out []*descriptor.Descriptor
	for _, d := range r.Descriptors() {
		if !d.Flags().ExcludeFromLoad {
			out = append(out, d)
		}
	}
	return out
}

// WithInstanceIDs returns the descriptors whose collections carry
// precomputed instance ids.
func (r *Registry) WithInstanceIDs() []*descriptor.Descriptor {
	var out []*descriptor.Descriptor
	for _, d := range r.Descriptors() {
		if d.Flags().PersistInstanceID {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) Collection(typeName string) (store.Collection, error) {
	d, ok := r.byType[typeName]
	if !ok {
		return nil, errors.Wrap(ErrUnknownType, typeName)
	}
	return r.db.Collection(d.Collection())
}

// Database is the store the registered collections live in.
func (r *Registry) Database() store.Database { return r.db }

func (r *Registry) Converter(typeName string) (store.Converter, error) {
	if _, ok := r.byType[typeName]; !ok {
		return nil, errors.Wrap(ErrUnknownType, typeName)
	}
	return r.converters.ConverterFor(typeName)
}

// TypeNames returns the registered type names sorted alphabetically.
func (r *Registry) TypeNames() []string {
	names := append([]string{}, r.order...)
	sort.Strings(names)
	return names
}
