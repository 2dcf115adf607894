// Copyright 2019 Preferred Networks, Inc.
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

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/queue"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/scheduler"
)

const (
	// Subsystem is the metrics subsystem of the scheduler.
	Subsystem = "scheduler"

	ResultLabel         = "result"
	QueueLabel          = "queue"
	EventLabel          = "event"
	PluginLabel         = "plugin"
	ExtensionPointLabel = "extension_point"
	StatusLabel         = "status"
)

// Recorder exports scheduling metrics to Prometheus.
type Recorder struct {
	scheduleAttempts *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	pendingPods      *prometheus.GaugeVec
	queueIncoming    *prometheus.CounterVec
	pluginDuration   *prometheus.HistogramVec
}

// NewRecorder creates a Recorder and registers its collectors to reg.
// Returns error if some collector is already registered.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		scheduleAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: Subsystem,
				Name:      "schedule_attempts_total",
				Help:      "Number of attempts to schedule pods, by the result.",
			},
			[]string{ResultLabel},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: Subsystem,
				Name:      "scheduling_attempt_duration_seconds",
				Help:      "Scheduling attempt latency in seconds, by the result.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{ResultLabel},
		),
		pendingPods: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Subsystem: Subsystem,
				Name:      "pending_pods",
				Help:      "Number of pending pods, by the queue type.",
			},
			[]string{QueueLabel},
		),
		queueIncoming: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: Subsystem,
				Name:      "queue_incoming_pods_total",
				Help:      "Number of pods added to scheduling queues, by the queue type and the event.",
			},
			[]string{QueueLabel, EventLabel},
		),
		pluginDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: Subsystem,
				Name:      "plugin_execution_duration_seconds",
				Help:      "Duration for running a plugin at a specific extension point.",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 1.5, 20),
			},
			[]string{PluginLabel, ExtensionPointLabel, StatusLabel},
		),
	}

	for _, c := range []prometheus.Collector{
		r.scheduleAttempts,
		r.attemptDuration,
		r.pendingPods,
		r.queueIncoming,
		r.pluginDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// ObserveScheduleAttempt implements scheduler.MetricsRecorder.
func (r *Recorder) ObserveScheduleAttempt(result string, duration time.Duration) {
	r.scheduleAttempts.WithLabelValues(result).Inc()
	r.attemptDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveQueueIncoming implements queue.MetricsRecorder.
func (r *Recorder) ObserveQueueIncoming(q, event string) {
	r.queueIncoming.WithLabelValues(q, event).Inc()
}

// SetPendingPods implements queue.MetricsRecorder.
func (r *Recorder) SetPendingPods(q string, n int) {
	r.pendingPods.WithLabelValues(q).Set(float64(n))
}

// ObservePluginDuration implements framework.PluginDurationObserver.
func (r *Recorder) ObservePluginDuration(plugin, extensionPoint string, code framework.Code, duration time.Duration) {
	r.pluginDuration.WithLabelValues(plugin, extensionPoint, code.String()).Observe(duration.Seconds())
}

var _ scheduler.MetricsRecorder = &Recorder{}
var _ queue.MetricsRecorder = &Recorder{}
var _ framework.PluginDurationObserver = &Recorder{}
