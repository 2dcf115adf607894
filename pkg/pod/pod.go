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

package pod

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/resource"
)

// PodSpec is the scheduling-relevant part of a pod's desired state.
type PodSpec struct {
	Resources       resource.Requirements `json:"resources" yaml:"resources"`
	Priority        uint64                `json:"priority" yaml:"priority"`
	SchedulingGates []string              `json:"schedulingGates,omitempty" yaml:"schedulingGates,omitempty"`
	Tolerations     []Toleration          `json:"tolerations,omitempty" yaml:"tolerations,omitempty"`
	// NodeName is non-empty if the pod is already bound. Such a pod is never (re)scheduled.
	NodeName     string            `json:"nodeName,omitempty" yaml:"nodeName,omitempty"`
	NodeSelector map[string]string `json:"nodeSelector,omitempty" yaml:"nodeSelector,omitempty"`
	Affinity     *Affinity         `json:"affinity,omitempty" yaml:"affinity,omitempty"`
}

// QueuedInfo is the bookkeeping the scheduling queue keeps for a pending pod.
// The queue mutates it on every failed attempt; it is reset only by an explicit Reset call.
type QueuedInfo struct {
	// Attempts is the number of failed scheduling attempts.
	Attempts int `json:"attempts" yaml:"attempts"`
	// Timestamp is the last time the pod was added to a queue.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	// InitialTimestamp is the first time the pod entered the queue. Reset does not clear it.
	InitialTimestamp time.Time `json:"initialTimestamp" yaml:"initialTimestamp"`

	// UnschedulablePlugins holds the names of plugins that rejected the pod in its last attempt.
	UnschedulablePlugins sets.Set[string] `json:"-" yaml:"-"`
	// LastCode and LastReasons describe the status of the last failed attempt.
	LastCode    string   `json:"lastCode,omitempty" yaml:"lastCode,omitempty"`
	LastReasons []string `json:"lastReasons,omitempty" yaml:"lastReasons,omitempty"`
}

// Reset clears the failure history.
func (q *QueuedInfo) Reset() {
	q.Attempts = 0
	q.UnschedulablePlugins = nil
	q.LastCode = ""
	q.LastReasons = nil
}

// PodInfo is a pod known to the scheduler.
type PodInfo struct {
	Name       string     `json:"name" yaml:"name"`
	Spec       PodSpec    `json:"spec" yaml:"spec"`
	QueuedInfo QueuedInfo `json:"queuedInfo" yaml:"queuedInfo"`
	// Scheduled is the name of the node the pod was assigned to by this scheduler, or empty.
	Scheduled string `json:"scheduled,omitempty" yaml:"scheduled,omitempty"`
}

// IsBound returns whether the pod already has a node.
func (p *PodInfo) IsBound() bool {
	return p.Spec.NodeName != ""
}

// IsGated returns whether a scheduling gate blocks the pod.
func (p *PodInfo) IsGated() bool {
	return len(p.Spec.SchedulingGates) > 0
}

// Clone returns a deep copy of this PodInfo.
func (p *PodInfo) Clone() *PodInfo {
	clone := *p

	if p.Spec.SchedulingGates != nil {
		clone.Spec.SchedulingGates = append([]string(nil), p.Spec.SchedulingGates...)
	}
	if p.Spec.Tolerations != nil {
		clone.Spec.Tolerations = append([]Toleration(nil), p.Spec.Tolerations...)
	}
	if p.Spec.NodeSelector != nil {
		clone.Spec.NodeSelector = make(map[string]string, len(p.Spec.NodeSelector))
		for k, v := range p.Spec.NodeSelector {
			clone.Spec.NodeSelector[k] = v
		}
	}
	clone.Spec.Affinity = p.Spec.Affinity.DeepCopy()

	if p.QueuedInfo.UnschedulablePlugins != nil {
		clone.QueuedInfo.UnschedulablePlugins = p.QueuedInfo.UnschedulablePlugins.Clone()
	}
	if p.QueuedInfo.LastReasons != nil {
		clone.QueuedInfo.LastReasons = append([]string(nil), p.QueuedInfo.LastReasons...)
	}

	return &clone
}

func (p *PodInfo) String() string {
	return fmt.Sprintf("%s{priority:%d, resources:%s, attempts:%d}",
		p.Name, p.Spec.Priority, p.Spec.Resources, p.QueuedInfo.Attempts)
}
