// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package socialconnect

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "socialconnect"

type metrics struct {
	actions  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	topUps   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)

	return &metrics{
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Connector actions, by action and outcome.",
		}, []string{"action", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Connector action latency, ledger confirmations included.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"action"}),
		topUps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_topups_total",
			Help:      "Quota payments made.",
		}),
	}
}

func (m *metrics) observe(action string, err error, since time.Time) {
	m.actions.WithLabelValues(action, outcome(err)).Inc()
	m.duration.WithLabelValues(action).Observe(time.Since(since).Seconds())
}
