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
	"sort"

	"github.com/pkg/errors"

	"github.com/weaviate/gridmirror/entities/descriptor"
	"github.com/weaviate/gridmirror/entities/document"
	"github.com/weaviate/gridmirror/entities/routing"
)

// Stamper writes the routing fields of a document before it is persisted:
// _routingKey for routed types and _instanceId_<N> for every tracked
// partition count of types that persist instance ids.
type Stamper struct {
	counts []int
}

func NewStamper(counts ...int) *Stamper {
	uniq := map[int]struct{}{}
	out := make([]int, 0, len(counts))
	for _, n := range counts {
		if _, ok := uniq[n]; ok || n < 1 {
			continue
		}
		uniq[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return &Stamper{counts: out}
}

// Counts are the tracked partition counts in ascending order.
func (s *Stamper) Counts() []int {
	return append([]int{}, s.counts...)
}

func (s *Stamper) Stamp(desc *descriptor.Descriptor, doc *document.Document) error {
	if !desc.Routed() {
		return nil
	}

	key, ok := desc.RoutingKey(doc)
	if !ok {
		if desc.Partitioned() {
			return errors.Wrapf(ErrMissingRoutingKey, "type %s, %s", desc.TypeName(), doc.Describe())
		}
		doc.Delete(document.FieldRoutingKey)
		return nil
	}
	doc.Set(document.FieldRoutingKey, key.Clone())

	if !desc.Flags().PersistInstanceID {
		return nil
	}
	for _, n := range s.counts {
		id, err := routing.InstanceID(key, n)
		if err != nil {
			return errors.Wrapf(err, "type %s, %s", desc.TypeName(), doc.Describe())
		}
		doc.Set(document.InstanceIDField(n), document.FromInt(int64(id)))
	}
	return nil
}
