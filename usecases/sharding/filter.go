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

package sharding

import (
	"github.com/pkg/errors"

	"github.com/weaviate/gridmirror/entities/descriptor"
	"github.com/weaviate/gridmirror/entities/document"
	"github.com/weaviate/gridmirror/entities/filters"
	"github.com/weaviate/gridmirror/entities/routing"
)

// ErrMissingRoutingKey is raised when a partitioned type has a document
// without a routing key. It is a configuration error and never swallowed.
var ErrMissingRoutingKey = errors.New("missing routing key")

// PartitionFilter decides which documents of one record type belong to this
// instance. It is immutable.
type PartitionFilter struct {
	desc       *descriptor.Descriptor
	instanceID int
	partitions int
}

func (r *Router) Filter(desc *descriptor.Descriptor) *PartitionFilter {
	return &PartitionFilter{desc: desc, instanceID: r.instanceID, partitions: r.partitions}
}

func (f *PartitionFilter) Descriptor() *descriptor.Descriptor { return f.desc }

func (f *PartitionFilter) InstanceID() int { return f.instanceID }

func (f *PartitionFilter) Partitions() int { return f.partitions }

// Active reports whether loading must be restricted to owned documents.
func (f *PartitionFilter) Active() bool {
	return f.desc.Partitioned()
}

// StorePredicate is the prefilter sent to the store. It can match foreign
// documents but never misses an owned one:
//
//	_instanceId_N == i
//	OR (_instanceId_N absent AND hashmod(_routingKey, N) == i)
//	OR _routingKey absent
func (f *PartitionFilter) StorePredicate() *filters.Clause {
	field := document.InstanceIDField(f.partitions)
	return filters.Or(
		filters.Equal(field, document.FromInt(int64(f.instanceID))),
		filters.And(
			filters.IsNull(field),
			filters.HashModulo(document.FieldRoutingKey, f.partitions, f.instanceID),
		),
		filters.IsNull(document.FieldRoutingKey),
	)
}

// InstanceIDPredicate is the indexed fast path, valid once every document
// carries the instance id field of the current partition count.
func (f *PartitionFilter) InstanceIDPredicate() *filters.Clause {
	field := document.InstanceIDField(f.partitions)
	return filters.Or(
		filters.Equal(field, document.FromInt(int64(f.instanceID))),
		filters.IsNull(field),
	)
}

// Accept is the authoritative ownership test of a document. It always
// accepts when the filter is not active.
func (f *PartitionFilter) Accept(doc *document.Document) (bool, error) {
	if !f.Active() {
		return true, nil
	}
	key, ok := f.desc.RoutingKey(doc)
	if !ok {
		return false, errors.Wrapf(ErrMissingRoutingKey, "type %s, %s", f.desc.TypeName(), doc.Describe())
	}
	return f.Owns(key)
}

// Owns tests a single routing key.
func (f *PartitionFilter) Owns(key document.Value) (bool, error) {
	id, err := routing.InstanceID(key, f.partitions)
	if err != nil {
		return false, errors.Wrapf(err, "type %s", f.desc.TypeName())
	}
	return id == f.instanceID, nil
}
