// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jeranaias/chatvault/internal/vaulterr"
)

// Metrics records export outcomes. A nil *Metrics records nothing.
type Metrics struct {
	exports  *prometheus.CounterVec
	duration prometheus.Histogram
	size     prometheus.Histogram
}

// NewMetrics creates export metrics and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		exports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatvault_exports_total",
				Help: "Export attempts by result (ok or error kind).",
			},
			[]string{"result"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatvault_export_duration_seconds",
				Help:    "Time to read, serialize and encrypt one history.",
				Buckets: prometheus.DefBuckets,
			},
		),
		size: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatvault_export_bytes",
				Help:    "Size of produced export artifacts.",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.exports, m.duration, m.size)
	}
	return m
}

func (m *Metrics) observe(start time.Time, size int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = vaulterr.KindOf(err).String()
	}
	m.exports.WithLabelValues(result).Inc()
	m.duration.Observe(time.Since(start).Seconds())
	if err == nil {
		m.size.Observe(float64(size))
	}
}
