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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus metrics of the mirror. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	WrittenDocuments  *prometheus.CounterVec
	WriteFailures     *prometheus.CounterVec
	LoadedRecords     *prometheus.CounterVec
	PatchedRecords    *prometheus.CounterVec
	DroppedRecords    *prometheus.CounterVec
	LoadDuration      *prometheus.HistogramVec
	InstanceIDUpdates *prometheus.CounterVec
	InstanceIDReady   *prometheus.GaugeVec
	MetricsConns      prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = noop
	}
	f := promauto.With(reg)

	return &Metrics{
		WrittenDocuments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridmirror_written_documents_total",
			Help: "Documents written to the store by the mirror writer",
		}, []string{"collection", "op"}),
		WriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridmirror_write_failures_total",
			Help: "Failed bulk writes by failure kind (partial, total, terminal)",
		}, []string{"collection", "kind"}),
		LoadedRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridmirror_loaded_records_total",
			Help: "Records handed to the grid by the loader",
		}, []string{"type"}),
		PatchedRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridmirror_patched_records_total",
			Help: "Documents upgraded to the current version while loading",
		}, []string{"type"}),
		DroppedRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridmirror_dropped_records_total",
			Help: "Documents skipped while loading by reason",
		}, []string{"type", "reason"}),
		LoadDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridmirror_load_duration_seconds",
			Help:    "Duration of the load of one record type",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"type"}),
		InstanceIDUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridmirror_instance_id_updates_total",
			Help: "Documents whose precomputed instance id was rewritten",
		}, []string{"collection", "partitions"}),
		InstanceIDReady: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridmirror_instance_id_ready",
			Help: "1 if the instance id field of the collection is complete and indexed",
		}, []string{"collection", "partitions"}),
		MetricsConns: f.NewGauge(prometheus.GaugeOpts{
			Name: "gridmirror_metrics_open_connections",
			Help: "Open connections to the metrics endpoint",
		}),
	}
}

func (m *Metrics) Written(collection, op string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.WrittenDocuments.WithLabelValues(collection, op).Add(float64(n))
}

func (m *Metrics) WriteFailed(collection, kind string) {
	if m == nil {
		return
	}
	m.WriteFailures.WithLabelValues(collection, kind).Inc()
}

func (m *Metrics) Loaded(typeName string, loaded, patched int) {
	if m == nil {
		return
	}
	m.LoadedRecords.WithLabelValues(typeName).Add(float64(loaded))
	m.PatchedRecords.WithLabelValues(typeName).Add(float64(patched))
}

func (m *Metrics) Dropped(typeName, reason string) {
	if m == nil {
		return
	}
	m.DroppedRecords.WithLabelValues(typeName, reason).Inc()
}

func (m *Metrics) LoadTook(typeName string, seconds float64) {
	if m == nil {
		return
	}
	m.LoadDuration.WithLabelValues(typeName).Observe(seconds)
}

func (m *Metrics) InstanceIDsUpdated(collection string, partitions, n int) {
	if m == nil || n == 0 {
		return
	}
	m.InstanceIDUpdates.WithLabelValues(collection, strconv.Itoa(partitions)).Add(float64(n))
}

func (m *Metrics) SetInstanceIDReady(collection string, partitions int, ready bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ready {
		v = 1
	}
	m.InstanceIDReady.WithLabelValues(collection, strconv.Itoa(partitions)).Set(v)
}
