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

package descriptor

import (
	"github.com/pkg/errors"
	"github.com/weaviate/gridmirror/entities/document"
	"github.com/weaviate/gridmirror/entities/versioning"
)

var ErrInvalidDescriptor = errors.New("invalid descriptor")

// Flags control how a record type takes part in loading and mirroring.
type Flags struct {
	// ExcludeFromLoad skips the type during the initial load.
	ExcludeFromLoad bool `json:"exclude_from_load" yaml:"exclude_from_load"`
	// WriteBack persists documents that were upgraded while loading.
	WriteBack bool `json:"write_back" yaml:"write_back"`
	// RoutedLoad restricts loading to the documents this partition owns.
	RoutedLoad bool `json:"routed_load" yaml:"routed_load"`
	// KeepPersistent ignores removals, the store keeps removed records.
	KeepPersistent bool `json:"keep_persistent" yaml:"keep_persistent"`
	// PersistInstanceID maintains _instanceId_<N> fields and their indexes.
	PersistInstanceID bool `json:"persist_instance_id" yaml:"persist_instance_id"`
}

// Config is the input of New.
type Config struct {
	TypeName   string
	Collection string
	Patches    []versioning.Patch
	Routing    RoutingKeyStrategy
	Flags      Flags

	// BeforeWrite runs on every document right before it is mirrored.
	BeforeWrite func(doc *document.Document) error
}

// Descriptor is the per-type mirror metadata. It is built once at startup
// and never modified, so it is shared freely between goroutines.
type Descriptor struct {
	typeName    string
	collection  string
	chain       *versioning.Chain
	routing     RoutingKeyStrategy
	flags       Flags
	beforeWrite func(doc *document.Document) error
}

func New(cfg Config) (*Descriptor, error) {
	if cfg.TypeName == "" {
		return nil, errors.Wrap(ErrInvalidDescriptor, "type name is empty")
	}

	collection := cfg.Collection
	if collection == "" {
		collection = cfg.TypeName
	}

	chain, err := versioning.NewChain(cfg.Patches...)
	if err != nil {
		return nil, errors.Wrapf(err, "type %s", cfg.TypeName)
	}

	if cfg.Routing == nil && (cfg.Flags.RoutedLoad || cfg.Flags.PersistInstanceID) {
		return nil, errors.Wrapf(ErrInvalidDescriptor,
			"type %s: routed load and instance ids need a routing key strategy", cfg.TypeName)
	}
	if cfg.Routing != nil {
		if err := cfg.Routing.Validate(); err != nil {
			return nil, errors.Wrapf(err, "type %s", cfg.TypeName)
		}
	}

	return &Descriptor{
		typeName:    cfg.TypeName,
		collection:  collection,
		chain:       chain,
		routing:     cfg.Routing,
		flags:       cfg.Flags,
		beforeWrite: cfg.BeforeWrite,
	}, nil
}

// MustNew is New for statically known descriptors.
func MustNew(cfg Config) *Descriptor {
	d, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Descriptor) TypeName() string { return d.typeName }

func (d *Descriptor) Collection() string { return d.collection }

func (d *Descriptor) Chain() *versioning.Chain { return d.chain }

func (d *Descriptor) Flags() Flags { return d.flags }

func (d *Descriptor) CurrentVersion() int { return d.chain.CurrentVersion() }

func (d *Descriptor) OldestKnownVersion() int { return d.chain.OldestKnownVersion() }

// Routed reports whether documents of this type carry a routing key.
func (d *Descriptor) Routed() bool { return d.routing != nil }

// Partitioned reports whether loading is restricted to owned documents.
func (d *Descriptor) Partitioned() bool {
	return d.routing != nil && (d.flags.RoutedLoad || d.flags.PersistInstanceID)
}

// RoutingKey extracts the routing key from doc. ok is false for types
// without a strategy and for documents where the key is absent or null.
func (d *Descriptor) RoutingKey(doc *document.Document) (key document.Value, ok bool) {
	if d.routing == nil {
		return document.Value{}, false
	}
	return d.routing.RoutingKey(doc)
}

func (d *Descriptor) RoutingStrategy() RoutingKeyStrategy { return d.routing }

// BeforeWrite applies the pre-write hook, if any.
func (d *Descriptor) BeforeWrite(doc *document.Document) error {
	if d.beforeWrite == nil {
		return nil
	}
	return d.beforeWrite(doc)
}
