// Copyright 2025 OmniFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package manager

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniflow_connector_publish_total",
			Help: "Total number of publish calls by provider, mode, and outcome",
		},
		[]string{"provider", "mode", "outcome"},
	)
	promPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omniflow_connector_publish_duration_milliseconds",
			Help:    "Publish call duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"provider", "mode"},
	)
	promBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniflow_connector_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)
	promLinksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniflow_connector_links_total",
			Help: "Total number of completed OAuth account links",
		},
		[]string{"provider"},
	)
	promHealthchecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniflow_connector_healthchecks_total",
			Help: "Total number of healthcheck calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promPublishTotal)
	prometheus.MustRegister(promPublishDuration)
	prometheus.MustRegister(promBreakerTransitions)
	prometheus.MustRegister(promLinksTotal)
	prometheus.MustRegister(promHealthchecksTotal)
}
