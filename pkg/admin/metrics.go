// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
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

package admin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	reconfigureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamadmin_reconfigure_total",
		Help: "Count of consumer reconfiguration requests labeled by operation and result.",
	}, []string{"op", "result"})
	reconfigureDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamadmin_reconfigure_duration_seconds",
		Help:    "Latency of consumer reconfiguration requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	statesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamadmin_consumer_states_written_total",
		Help: "Consumer states written by reconfiguration.",
	}, []string{"op"})
	statesRemoved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamadmin_consumer_states_removed_total",
		Help: "Consumer states removed by reconfiguration.",
	}, []string{"op"})
	groupsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamadmin_consumer_groups_discarded_total",
		Help: "Consumer groups whose offsets were discarded because they were left out of a group configuration.",
	})
	streamsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamadmin_streams_created_total",
		Help: "Streams created. Idempotent repeats are not counted.",
	})
)

func init() {
	prometheus.MustRegister(
		reconfigureTotal,
		reconfigureDuration,
		statesWritten,
		statesRemoved,
		groupsDiscarded,
		streamsCreated,
	)
}

const (
	opConfigureInstances = "configure_instances"
	opConfigureGroups    = "configure_groups"
)

func observeReconfigure(op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	reconfigureTotal.WithLabelValues(op, result).Inc()
	reconfigureDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
