// Copyright 2025 Sonic Labs
// This file is part of Aida Testing Infrastructure for Sonic
//
// Aida is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Aida is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Aida. If not, see <http://www.gnu.org/licenses/>.

package report

import (
	"net/http"
	"time"

	"github.com/0xsoniclabs/lendfuzz/fuzz"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lendfuzz"

// Metrics exports the progress of a run as prometheus metrics.
type Metrics struct {
	sequences    prometheus.Counter
	flows        *prometheus.CounterVec
	flowDuration *prometheus.HistogramVec
	checks       *prometheus.CounterVec
	failed       prometheus.Gauge
}

var _ fuzz.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sequences: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "sequences_total",
			Help:      "Number of started flow sequences.",
		}),
		flows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "flows_total",
			Help:      "Number of executed flows by outcome.",
		}, []string{"flow", "outcome"}),
		flowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "flow_duration_seconds",
			Help:      "Wall time of flows including the ledger round trips.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"flow"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invariants",
			Name:      "checks_total",
			Help:      "Number of invariant checks by result.",
		}, []string{"invariant", "result"}),
		failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "failed",
			Help:      "1 if the run finished with a failure.",
		}),
	}
	for _, c := range []prometheus.Collector{m.sequences, m.flows, m.flowDuration, m.checks, m.failed} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "cannot register metrics")
		}
	}
	return m, nil
}

func (m *Metrics) SequenceStarted(int) {
	m.sequences.Inc()
}

func (m *Metrics) FlowExecuted(ev fuzz.FlowEvent) {
	m.flows.WithLabelValues(ev.Flow, ev.Outcome).Inc()
	m.flowDuration.WithLabelValues(ev.Flow).Observe(ev.Duration.Seconds())
}

func (m *Metrics) InvariantChecked(name string, _ time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "violated"
	}
	m.checks.WithLabelValues(name, result).Inc()
}

func (m *Metrics) RunFinished(err error) {
	if err != nil {
		m.failed.Set(1)
	} else {
		m.failed.Set(0)
	}
}

// MetricsHandler serves the metrics gathered by g.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
