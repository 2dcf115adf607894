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
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/clock"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/cluster"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/queue"
)

// Metrics represents a metrics at one time point, in the following structure.
//
//	Metrics[ClockKey] = a formatted clock
//	Metrics[NodesMetricsKey] = map from node name to cluster.NodeMetrics
//	Metrics[PodsMetricsKey] = map from pod name to cluster.PodMetrics
//	Metrics[QueueMetricsKey] = queue.Metrics
//	Metrics[PendingPodsMetricsKey] = map from pod name to queue.PodMetrics
type Metrics map[string]interface{}

const (
	// ClockKey is the key associated to a clock.Clock.
	ClockKey = "Clock"
	// NodesMetricsKey is the key associated to a map of cluster.NodeMetrics.
	NodesMetricsKey = "Nodes"
	// PodsMetricsKey is the key associated to a map of cluster.PodMetrics.
	PodsMetricsKey = "Pods"
	// QueueMetricsKey is the key associated to a queue.Metrics.
	QueueMetricsKey = "Queue"
	// PendingPodsMetricsKey is the key associated to a map of queue.PodMetrics.
	PendingPodsMetricsKey = "PendingPods"
)

// ClusterSource provides the metrics of nodes and pods.
type ClusterSource interface {
	NodeMetrics() map[string]cluster.NodeMetrics
	PodMetrics() map[string]cluster.PodMetrics
}

// QueueSource provides the metrics of the pending pods.
type QueueSource interface {
	Metrics() queue.Metrics
	PodMetrics() map[string]queue.PodMetrics
}

// BuildMetrics builds a Metrics at the given clock.
func BuildMetrics(clk clock.Clock, c ClusterSource, q QueueSource) Metrics {
	return Metrics{
		ClockKey:              clk.ToRFC3339(),
		NodesMetricsKey:       c.NodeMetrics(),
		PodsMetricsKey:        c.PodMetrics(),
		QueueMetricsKey:       q.Metrics(),
		PendingPodsMetricsKey: q.PodMetrics(),
	}
}

// Formatter defines the interface of metrics formatter.
type Formatter interface {
	// Format formats the given metrics to a string.
	Format(metrics *Metrics) (string, error)
}

// Writer defines the interface of metrics writer.
type Writer interface {
	// Write writes the given metrics to some location(s).
	Write(metrics *Metrics) error
	// Close releases the resources held by the writer.
	Close() error
}
