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
	"fmt"
	"sort"
	"strings"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/cluster"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/queue"
)

const bytesPerMB = 1 << 20

// HumanReadableFormatter is a Formatter that formats metrics in a human-readable style.
type HumanReadableFormatter struct{}

// Format implements Formatter interface.
// Returns error if the given metrics does not have valid structure.
func (h *HumanReadableFormatter) Format(metrics *Metrics) (string, error) {
	if err := validateMetrics(metrics); err != nil {
		return "", err
	}

	// Clock
	clk := (*metrics)[ClockKey].(string)
	str := "Metrics " + clk + "\n"

	// Nodes
	str += "  Nodes\n"
	nodesMet := (*metrics)[NodesMetricsKey].(map[string]cluster.NodeMetrics)
	str += h.formatNodesMetrics(nodesMet)

	// Pods
	str += "  Pods\n"
	podsMet := (*metrics)[PodsMetricsKey].(map[string]cluster.PodMetrics)
	str += h.formatPodsMetrics(podsMet)

	// Queue
	str += "  Queue\n"
	queueMet := (*metrics)[QueueMetricsKey].(queue.Metrics)
	str += h.formatQueueMetrics(queueMet)
	pendingMet := (*metrics)[PendingPodsMetricsKey].(map[string]queue.PodMetrics)
	str += h.formatPendingPodsMetrics(pendingMet)

	return str, nil
}

func (h *HumanReadableFormatter) formatNodesMetrics(metrics map[string]cluster.NodeMetrics) string {
	str := ""

	for _, name := range sortedKeys(metrics) {
		met := metrics[name]
		str += fmt.Sprintf("    %s: Pods %d, cpu %d/%d, memMB %d/%d\n",
			name, met.PodsNum,
			met.Requested.MilliCPU, met.Allocatable.MilliCPU,
			met.Requested.Memory/bytesPerMB, met.Allocatable.Memory/bytesPerMB)
	}

	return str
}

func (h *HumanReadableFormatter) formatPodsMetrics(metrics map[string]cluster.PodMetrics) string {
	str := ""

	for _, name := range sortedKeys(metrics) {
		met := metrics[name]
		node := met.Node
		if node == "" {
			node = "<pending>"
		}
		str += fmt.Sprintf("    %s: prio %d, on %s, cpu %d, memMB %d\n",
			name, met.Priority, node, met.Request.MilliCPU, met.Request.Memory/bytesPerMB)
	}

	return str
}

func (h *HumanReadableFormatter) formatQueueMetrics(metrics queue.Metrics) string {
	return fmt.Sprintf("    PendingPods %d (active %d, backoff %d, gated %d), InFlight %d\n",
		metrics.PendingPodsNum, metrics.ActivePodsNum, metrics.BackoffPodsNum, metrics.GatedPodsNum, metrics.InFlightPodsNum)
}

func (h *HumanReadableFormatter) formatPendingPodsMetrics(metrics map[string]queue.PodMetrics) string {
	str := ""

	for _, name := range sortedKeys(metrics) {
		met := metrics[name]
		if met.Attempts == 0 {
			continue
		}
		str += fmt.Sprintf("    %s: attempts %d, %s: %s\n",
			name, met.Attempts, met.LastCode, strings.Join(met.LastReasons, "; "))
	}

	return str
}

var _ = Formatter(&HumanReadableFormatter{})

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
