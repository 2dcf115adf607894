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

// Package nodeaffinity implements a plugin that filters and scores nodes by a pod's node selector
// and node affinity. It implements every extension point of the framework.
package nodeaffinity

import (
	"context"

	"github.com/containerd/containerd/log"
	"github.com/pkg/errors"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/node"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
)

const (
	// Name is the name of the plugin used in the plugin registry and configurations.
	Name = "NodeAffinity"

	preFilterStateKey framework.StateKey = "PreFilter" + Name
	preScoreStateKey  framework.StateKey = "PreScore" + Name

	// ErrReasonPod is the reason for a node not matching the pod's node affinity or selector.
	ErrReasonPod = "node(s) didn't match Pod's node affinity/selector"
)

// NodeAffinity is a plugin that checks if a pod's node selector and required node affinity match
// the node, and scores nodes by the pod's preferred node affinity.
type NodeAffinity struct{}

var _ framework.PreFilterPlugin = &NodeAffinity{}
var _ framework.FilterPlugin = &NodeAffinity{}
var _ framework.PreScorePlugin = &NodeAffinity{}
var _ framework.ScorePlugin = &NodeAffinity{}
var _ framework.EnqueueExtensions = &NodeAffinity{}

type preFilterState struct {
	requiredNodeAffinity pod.RequiredNodeAffinity
}

type preScoreState struct {
	preferredNodeAffinity pod.PreferredSchedulingTerms
}

// New initializes a new plugin and returns it.
func New() (framework.Plugin, error) {
	return &NodeAffinity{}, nil
}

// Name returns the name of the plugin.
func (pl *NodeAffinity) Name() string {
	return Name
}

// EventsToRegister returns the events that may make a pod rejected by this plugin schedulable.
func (pl *NodeAffinity) EventsToRegister() []framework.ClusterEventWithHint {
	return []framework.ClusterEventWithHint{
		{
			Event:          framework.ClusterEvent{Resource: framework.Node, ActionType: framework.Add | framework.UpdateNodeLabel},
			QueueingHintFn: pl.isSchedulableAfterNodeChange,
		},
	}
}

func (pl *NodeAffinity) isSchedulableAfterNodeChange(p *pod.PodInfo, oldObj, newObj interface{}) (framework.QueueingHint, error) {
	newNode, ok := newObj.(*node.NodeInfo)
	if !ok || newNode == nil {
		return framework.Queue, errors.Errorf("expected *node.NodeInfo as the new object, got %T", newObj)
	}

	required := pod.GetRequiredNodeAffinity(p)
	if !required.Match(newNode) {
		log.L.Tracef("Node %s does not match the node affinity of pod %s", newNode.Name, p.Name)
		return framework.QueueSkip, nil
	}

	oldNode, _ := oldObj.(*node.NodeInfo)
	if oldNode == nil {
		log.L.Tracef("Added node %s matches the node affinity of pod %s", newNode.Name, p.Name)
		return framework.Queue, nil
	}

	if required.Match(oldNode) {
		log.L.Tracef("Node %s matched the node affinity of pod %s before the update", newNode.Name, p.Name)
		return framework.QueueSkip, nil
	}

	log.L.Tracef("Updated node %s now matches the node affinity of pod %s", newNode.Name, p.Name)
	return framework.Queue, nil
}

// PreFilter builds and writes cycle state used by Filter.
// Returns Skip if the pod has neither a node selector nor a required node affinity.
func (pl *NodeAffinity) PreFilter(_ context.Context, state *framework.CycleState, p *pod.PodInfo, _ []*node.NodeInfo) (*framework.PreFilterResult, *framework.Status) {
	selector := p.RequiredNodeSelector()
	if len(p.Spec.NodeSelector) == 0 && selector == nil {
		return nil, framework.NewStatus(framework.Skip)
	}

	state.Write(preFilterStateKey, &preFilterState{requiredNodeAffinity: pod.GetRequiredNodeAffinity(p)})

	names := selector.NodeNames()
	if names == nil {
		return nil, nil
	}
	if names.Len() == 0 {
		return nil, framework.NewStatus(framework.UnschedulableAndUnresolvable, ErrReasonPod)
	}
	return &framework.PreFilterResult{NodeNames: names}, nil
}

// Filter checks if the node matches the pod's node selector and required node affinity.
// It is a no-op if PreFilter did not run for the pod.
func (pl *NodeAffinity) Filter(_ context.Context, state *framework.CycleState, _ *pod.PodInfo, n *node.NodeInfo) *framework.Status {
	s, err := framework.ReadAs[*preFilterState](state, preFilterStateKey)
	if err != nil {
		return nil
	}

	if !s.requiredNodeAffinity.Match(n) {
		return framework.NewStatus(framework.UnschedulableAndUnresolvable, ErrReasonPod)
	}
	return nil
}

// PreScore builds and writes cycle state used by Score.
// Returns Skip if the pod has no preferred node affinity.
func (pl *NodeAffinity) PreScore(_ context.Context, state *framework.CycleState, p *pod.PodInfo, _ []*node.NodeInfo) *framework.Status {
	terms := pod.NewPreferredSchedulingTerms(p)
	if len(terms.Terms) == 0 {
		return framework.NewStatus(framework.Skip)
	}

	state.Write(preScoreStateKey, &preScoreState{preferredNodeAffinity: terms})
	return nil
}

// Score sums the weights of the preferred terms matching the node.
func (pl *NodeAffinity) Score(_ context.Context, state *framework.CycleState, _ *pod.PodInfo, n *node.NodeInfo) (int64, *framework.Status) {
	s, err := framework.ReadAs[*preScoreState](state, preScoreStateKey)
	if err != nil {
		return 0, framework.AsStatus(errors.Wrap(err, "reading PreScore state"))
	}
	return s.preferredNodeAffinity.Score(n), nil
}

// ScoreExtensions of the NodeAffinity plugin.
func (pl *NodeAffinity) ScoreExtensions() framework.ScoreExtensions {
	return framework.DefaultNormalizeScore{MaxScore: framework.MaxNodeScore, Reverse: false}
}
