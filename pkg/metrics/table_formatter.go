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
	"strings"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/cluster"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/queue"
)

// TableFormatter formats metrics in tables.
type TableFormatter struct{}

// Format implements Formatter interface.
func (t *TableFormatter) Format(metrics *Metrics) (string, error) {
	if err := validateMetrics(metrics); err != nil {
		return "", err
	}

	// Clock
	clk := (*metrics)[ClockKey].(string)
	str := clk + "\n\n"

	// Nodes
	nodesMet := (*metrics)[NodesMetricsKey].(map[string]cluster.NodeMetrics)
	str += t.formatNodesMetrics(nodesMet) + "\n"

	// Pods
	podsMet := (*metrics)[PodsMetricsKey].(map[string]cluster.PodMetrics)
	str += t.formatPodsMetrics(podsMet) + "\n"

	// Queue
	queueMet := (*metrics)[QueueMetricsKey].(queue.Metrics)
	str += t.formatQueueMetrics(queueMet) + "\n"

	// Pending pods
	pendingMet := (*metrics)[PendingPodsMetricsKey].(map[string]queue.PodMetrics)
	str += t.formatPendingPodsMetrics(pendingMet)

	return str, nil
}

var _ = Formatter(&TableFormatter{})

func (t *TableFormatter) formatNodesMetrics(metrics map[string]cluster.NodeMetrics) string {
	// Header
	str := "Node             Pods   cpu (m)              memory (MB)          \n"
	str += "                        Request  Allocatable Request  Allocatable \n"
	str += "------------------------------------------------------------------\n"

	// Body
	for _, node := range sortedKeys(metrics) {
		met := metrics[node]
		str += fmt.Sprintf("%-16s %-6d %-8d %-11d %-8d %-11d \n",
			node, met.PodsNum,
			met.Requested.MilliCPU, met.Allocatable.MilliCPU,
			met.Requested.Memory/bytesPerMB, met.Allocatable.Memory/bytesPerMB)
	}

	return str
}

func (t *TableFormatter) formatPodsMetrics(metrics map[string]cluster.PodMetrics) string {
	// Header
	str := "Pod                  Priority Node             cpu (m)  memory (MB) \n"
	str += "--------------------------------------------------------------------\n"

	// Body
	for _, pod := range sortedKeys(metrics) {
		met := metrics[pod]
		str += fmt.Sprintf("%-20s %-8d %-16s %-8d %-11d \n",
			pod, met.Priority, met.Node, met.Request.MilliCPU, met.Request.Memory/bytesPerMB)
	}

	return str
}

func (t *TableFormatter) formatQueueMetrics(metrics queue.Metrics) string {
	str := "      Pending  Active   Backoff  Gated    InFlight \n"
	str += "---------------------------------------------------\n"
	str += fmt.Sprintf("Queue %-8d %-8d %-8d %-8d %-8d \n",
		metrics.PendingPodsNum, metrics.ActivePodsNum, metrics.BackoffPodsNum, metrics.GatedPodsNum, metrics.InFlightPodsNum)
	return str
}

func (t *TableFormatter) formatPendingPodsMetrics(metrics map[string]queue.PodMetrics) string {
	str := "Pending pod           Attempts Last status                   Reasons \n"
	str += "--------------------------------------------------------------------\n"

	for _, pod := range sortedKeys(metrics) {
		met := metrics[pod]
		str += fmt.Sprintf("%-20s  %-8d %-29s %s \n",
			pod, met.Attempts, met.LastCode, strings.Join(met.LastReasons, "; "))
	}

	return str
}
