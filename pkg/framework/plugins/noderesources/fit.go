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

// Package noderesources implements a plugin that checks whether a node has enough free cpu and
// memory for a pod, and prefers the least allocated nodes.
package noderesources

import (
	"context"

	"github.com/containerd/containerd/log"
	"github.com/pkg/errors"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/node"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/resource"
)

const (
	// Name is the name of the plugin used in the plugin registry and configurations.
	Name = "NodeResourcesFit"

	preFilterStateKey framework.StateKey = "PreFilter" + Name

	ErrReasonInsufficientCPU    = "Insufficient cpu"
	ErrReasonInsufficientMemory = "Insufficient memory"
)

// Fit is a plugin that checks if a node has sufficient resources.
type Fit struct{}

var _ framework.PreFilterPlugin = &Fit{}
var _ framework.FilterPlugin = &Fit{}
var _ framework.ScorePlugin = &Fit{}
var _ framework.EnqueueExtensions = &Fit{}

type preFilterState struct {
	request resource.Requirements
}

// NewFit initializes a new plugin and returns it.
func NewFit() (framework.Plugin, error) {
	return &Fit{}, nil
}

// Name returns the name of the plugin.
func (pl *Fit) Name() string {
	return Name
}

// EventsToRegister returns the events that may make a pod rejected by this plugin schedulable.
func (pl *Fit) EventsToRegister() []framework.ClusterEventWithHint {
	return []framework.ClusterEventWithHint{
		{
			Event:          framework.ClusterEvent{Resource: framework.Node, ActionType: framework.Add | framework.UpdateNodeAllocatable},
			QueueingHintFn: pl.isSchedulableAfterNodeChange,
		},
		{
			Event:          framework.ClusterEvent{Resource: framework.Pod, ActionType: framework.Delete},
			QueueingHintFn: pl.isSchedulableAfterPodDeleted,
		},
	}
}

func (pl *Fit) isSchedulableAfterNodeChange(p *pod.PodInfo, _, newObj interface{}) (framework.QueueingHint, error) {
	newNode, ok := newObj.(*node.NodeInfo)
	if !ok || newNode == nil {
		return framework.Queue, errors.Errorf("expected *node.NodeInfo as the new object, got %T", newObj)
	}

	if insufficientResources(p.Spec.Resources, newNode) != nil {
		log.L.Tracef("Node %s still lacks resources for pod %s", newNode.Name, p.Name)
		return framework.QueueSkip, nil
	}

	log.L.Tracef("Node %s has enough resources for pod %s", newNode.Name, p.Name)
	return framework.Queue, nil
}

func (pl *Fit) isSchedulableAfterPodDeleted(p *pod.PodInfo, oldObj, _ interface{}) (framework.QueueingHint, error) {
	deleted, ok := oldObj.(*pod.PodInfo)
	if !ok || deleted == nil {
		return framework.Queue, errors.Errorf("expected *pod.PodInfo as the old object, got %T", oldObj)
	}

	if !deleted.IsBound() {
		log.L.Tracef("Deleted pod %s was not assigned and frees no resources for pod %s", deleted.Name, p.Name)
		return framework.QueueSkip, nil
	}

	log.L.Tracef("Deleted pod %s freed resources on node %s for pod %s", deleted.Name, deleted.Spec.NodeName, p.Name)
	return framework.Queue, nil
}

// PreFilter stores the resource request of the pod.
func (pl *Fit) PreFilter(_ context.Context, state *framework.CycleState, p *pod.PodInfo, _ []*node.NodeInfo) (*framework.PreFilterResult, *framework.Status) {
	state.Write(preFilterStateKey, &preFilterState{request: p.Spec.Resources})
	return nil, nil
}

// Filter rejects the node if its available resources are less than the pod's request.
func (pl *Fit) Filter(_ context.Context, state *framework.CycleState, _ *pod.PodInfo, n *node.NodeInfo) *framework.Status {
	s, err := framework.ReadAs[*preFilterState](state, preFilterStateKey)
	if err != nil {
		return framework.AsStatus(errors.Wrap(err, "reading PreFilter state"))
	}

	if reasons := insufficientResources(s.request, n); len(reasons) > 0 {
		return framework.NewStatus(framework.Unschedulable, reasons...)
	}
	return nil
}

func insufficientResources(request resource.Requirements, n *node.NodeInfo) []string {
	var reasons []string
	available := n.Available()
	if request.MilliCPU > available.MilliCPU {
		reasons = append(reasons, ErrReasonInsufficientCPU)
	}
	if request.Memory > available.Memory {
		reasons = append(reasons, ErrReasonInsufficientMemory)
	}
	return reasons
}

// Score favors nodes with fewer requested resources after placing the pod.
// The score is the mean of the free fraction of cpu and memory, scaled to [0, MaxNodeScore].
func (pl *Fit) Score(_ context.Context, _ *framework.CycleState, p *pod.PodInfo, n *node.NodeInfo) (int64, *framework.Status) {
	requested := n.Requested.Add(p.Spec.Resources)
	cpu := leastRequestedScore(requested.MilliCPU, n.Allocatable.MilliCPU)
	memory := leastRequestedScore(requested.Memory, n.Allocatable.Memory)
	return (cpu + memory) / 2, nil
}

func leastRequestedScore(requested, capacity uint64) int64 {
	if capacity == 0 || requested > capacity {
		return 0
	}
	return int64((capacity - requested) * uint64(framework.MaxNodeScore) / capacity)
}

// ScoreExtensions returns nil: scores are already in [0, MaxNodeScore].
func (pl *Fit) ScoreExtensions() framework.ScoreExtensions {
	return nil
}
