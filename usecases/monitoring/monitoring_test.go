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
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateCounter(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	r := NewRateCounter(clock)

	r.Add(5)
	clock.Advance(10 * time.Second)
	r.Add(3)
	assert.Equal(t, int64(8), r.PerMinute())

	clock.Advance(55 * time.Second)
	assert.Equal(t, int64(3), r.PerMinute(), "the first bucket left the window")

	clock.Advance(time.Minute)
	assert.Equal(t, int64(0), r.PerMinute())

	r.Add(2)
	assert.Equal(t, int64(2), r.PerMinute(), "reused bucket starts from zero")
}

func TestRateCounter_ConcurrentRollover(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	r := NewRateCounter(clock)
	r.Add(7)
	// same bucket, one window later
	clock.Advance(time.Minute)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 500; j++ {
				r.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(16*500), r.PerMinute(), "no add is lost to the bucket reset")
}

func TestWriteStats_Concurrent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewWriteStats(clock)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.AddInserts(1)
				s.AddUpdates(2)
				s.AddDeletes(1)
				s.AddFailures(1)
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, int64(800), snap.Inserts)
	assert.Equal(t, int64(1600), snap.Updates)
	assert.Equal(t, int64(800), snap.Deletes)
	assert.Equal(t, int64(800), snap.Failures)
	assert.Equal(t, int64(3200), snap.WritesPerMinute)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.Written("orders", "replace", 3)
	m.Written("orders", "replace", 0)
	m.WriteFailed("orders", "partial")
	m.Loaded("Order", 10, 4)
	m.Dropped("Order", "foreign")
	m.InstanceIDsUpdated("orders", 4, 7)
	m.SetInstanceIDReady("orders", 4, true)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.WrittenDocuments.WithLabelValues("orders", "replace")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WriteFailures.WithLabelValues("orders", "partial")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.LoadedRecords.WithLabelValues("Order")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PatchedRecords.WithLabelValues("Order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedRecords.WithLabelValues("Order", "foreign")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.InstanceIDUpdates.WithLabelValues("orders", "4")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InstanceIDReady.WithLabelValues("orders", "4")))

	t.Run("nil metrics record nothing", func(t *testing.T) {
		var none *Metrics
		assert.NotPanics(t, func() {
			none.Written("orders", "replace", 1)
			none.WriteFailed("orders", "total")
			none.Loaded("Order", 1, 1)
			none.Dropped("Order", "foreign")
			none.LoadTook("Order", 1)
			none.InstanceIDsUpdated("orders", 4, 1)
			none.SetInstanceIDReady("orders", 4, false)
		})
	})

	t.Run("noop registry allows duplicates", func(t *testing.T) {
		assert.NotPanics(t, func() {
			NewMetrics(nil)
			NewMetrics(NoopRegisterer())
		})
	})
}

func TestCountingListener(t *testing.T) {
	m := NewMetrics(nil)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cl := CountingListener(l, m.MetricsConns)
	defer cl.Close()

	go func() {
		conn, err := net.Dial("tcp", l.Addr().String())
		if err == nil {
			defer conn.Close()
			time.Sleep(50 * time.Millisecond)
		}
	}()

	conn, err := cl.Accept()
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MetricsConns))
	require.NoError(t, conn.Close())
	conn.Close()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.MetricsConns))
}
