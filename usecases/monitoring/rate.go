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

const (
	rateWindowSeconds = 60
	rateCountBits     = 32
	rateCountMask     = 1<<rateCountBits - 1
)

// RateCounter counts events over the last minute in one second buckets.
// Each bucket packs its second and its count into one word, so a rollover
// and the Adds racing with it never lose events.
type RateCounter struct {
	clock   clockwork.Clock
	buckets [rateWindowSeconds]atomic.Uint64
}

func NewRateCounter(clock clockwork.Clock) *RateCounter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateCounter{clock: clock}
}

func (r *RateCounter) Add(n int64) {
	if n <= 0 {
		return
	}
	now := uint64(r.clock.Now().Unix())
	b := &r.buckets[now%rateWindowSeconds]
	for {
		old := b.Load()
		var count uint64
		if old>>rateCountBits == now {
			count = old & rateCountMask
		}
		count += uint64(n)
		if count > rateCountMask {
			count = rateCountMask
		}
		if b.CompareAndSwap(old, now<<rateCountBits|count) {
			return
		}
	}
}

// PerMinute is the number of events added in the last 60 seconds.
func (r *RateCounter) PerMinute() int64 {
	now := r.clock.Now().Unix()
	var total int64
	for i := range r.buckets {
		w := r.buckets[i].Load()
		if w == 0 {
			continue
		}
		if age := now - int64(w>>rateCountBits); age >= 0 && age < rateWindowSeconds {
			total += int64(w & rateCountMask)
		}
	}
	return total
}
