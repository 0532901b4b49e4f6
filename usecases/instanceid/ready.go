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
	"github.com/puzpuzpuz/xsync/v4"
)

type readyKey struct {
	collection string
	partitions int
}

// ReadySet tracks the (collection, partition count) pairs whose instance id
// fields are complete and indexed. Loads may use the indexed fast path for
// those.
type ReadySet struct {
	m *xsync.Map[readyKey, struct{}]
}

func NewReadySet() *ReadySet {
	return &ReadySet{m: xsync.NewMap[readyKey, struct{}]()}
}

func (s *ReadySet) Ready(collection string, partitions int) bool {
	_, ok := s.m.Load(readyKey{collection, partitions})
	return ok
}

func (s *ReadySet) mark(collection string, partitions int) {
	s.m.Store(readyKey{collection, partitions}, struct{}{})
}

func (s *ReadySet) unmark(collection string, partitions int) {
	s.m.Delete(readyKey{collection, partitions})
}

// unmarkExcept drops every pair of collection whose count is not in keep.
func (s *ReadySet) unmarkExcept(collection string, keep []int) {
	s.m.Range(func(k readyKey, _ struct{}) bool {
		if k.collection == collection && !contains(keep, k.partitions) {
			s.m.Delete(k)
		}
		return true
	})
}

func contains(counts []int, n int) bool {
	for _, c := range counts {
		if c == n {
			return true
		}
	}
	return false
}
