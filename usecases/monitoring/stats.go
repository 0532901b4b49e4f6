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

package monitoring

import (
	"sync/atomic"

	"github.com/jonboulle/clockwork"
)

// WriteStats are the aggregate counters of the mirror writer. All methods are
// safe for concurrent use.
type WriteStats struct {
	inserts  atomic.Int64
	updates  atomic.Int64
	deletes  atomic.Int64
	failures atomic.Int64
	rate     *RateCounter
}

func NewWriteStats(clock clockwork.Clock) *WriteStats {
	return &WriteStats{rate: NewRateCounter(clock)}
}

func (s *WriteStats) AddInserts(n int64) {
	s.inserts.Add(n)
	s.rate.Add(n)
}

func (s *WriteStats) AddUpdates(n int64) {
	s.updates.Add(n)
	s.rate.Add(n)
}

func (s *WriteStats) AddDeletes(n int64) {
	s.deletes.Add(n)
	s.rate.Add(n)
}

func (s *WriteStats) AddFailures(n int64) {
	s.failures.Add(n)
}

// Snapshot is a point in time copy of WriteStats.
type Snapshot struct {
	Inserts         int64 `json:"inserts"`
	Updates         int64 `json:"updates"`
	Deletes         int64 `json:"deletes"`
	Failures        int64 `json:"failures"`
	WritesPerMinute int64 `json:"writesPerMinute"`
}

func (s *WriteStats) Snapshot() Snapshot {
	return Snapshot{
		Inserts:         s.inserts.Load(),
		Updates:         s.updates.Load(),
		Deletes:         s.deletes.Load(),
		Failures:        s.failures.Load(),
		WritesPerMinute: s.rate.PerMinute(),
	}
}
