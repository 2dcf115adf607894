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

// Package tainttoleration implements a plugin that rejects nodes whose taints the pod does not
// tolerate, and prefers nodes with fewer intolerable PreferNoSchedule taints.
package tainttoleration

import (
	"context"
	"fmt"

	"github.com/containerd/containerd/log"
	"github.com/pkg/errors"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/node"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
)

const (
	// Name is the name of the plugin used in the plugin registry and configurations.
	Name = "TaintToleration"

	preScoreStateKey framework.StateKey = "PreScore" + Name

	// ErrReasonNotMatch is the reason for a node having a taint the pod does not tolerate.
	ErrReasonNotMatch = "node(s) had untolerated taint"
)

// TaintToleration is a plugin that checks if a pod tolerates a node's taints.
type TaintToleration struct{}

var _ framework.FilterPlugin = &TaintToleration{}
var _ framework.PreScorePlugin = &TaintToleration{}
var _ framework.ScorePlugin = &TaintToleration{}
var _ framework.EnqueueExtensions = &TaintToleration{}

// New initializes a new plugin and returns it.
func New() (framework.Plugin, error) {
	return &TaintToleration{}, nil
}

// Name returns the name of the plugin.
func (pl *TaintToleration) Name() string {
	return Name
}

// EventsToRegister returns the events that may make a pod rejected by this plugin schedulable.
func (pl *TaintToleration) EventsToRegister() []framework.ClusterEventWithHint {
	return []framework.ClusterEventWithHint{
		{
			Event:          framework.ClusterEvent{Resource: framework.Node, ActionType: framework.Add | framework.UpdateNodeTaint},
			QueueingHintFn: pl.isSchedulableAfterNodeChange,
		},
	}
}

func (pl *TaintToleration) isSchedulableAfterNodeChange(p *pod.PodInfo, oldObj, newObj interface{}) (framework.QueueingHint, error) {
	newNode, ok := newObj.(*node.NodeInfo)
	if !ok || newNode == nil {
		return framework.Queue, errors.Errorf("expected *node.NodeInfo as the new object, got %T", newObj)
	}

	wasUntolerated := true
	if oldNode, _ := oldObj.(*node.NodeInfo); oldNode != nil {
		_, wasUntolerated = untoleratedTaint(oldNode, p.Spec.Tolerations)
	}
	_, isUntolerated := untoleratedTaint(newNode, p.Spec.Tolerations)

	if wasUntolerated && !isUntolerated {
		log.L.Tracef("Taints of node %s are now tolerated by pod %s", newNode.Name, p.Name)
		return framework.Queue, nil
	}

	log.L.Tracef("Change of node %s does not affect taint toleration of pod %s", newNode.Name, p.Name)
	return framework.QueueSkip, nil
}

func untoleratedTaint(n *node.NodeInfo, tolerations []pod.Toleration) (node.Taint, bool) {
	return pod.FindMatchingUntoleratedTaint(n.Spec.EffectiveTaints(), tolerations, func(t *node.Taint) bool {
		return t.Effect == node.TaintEffectNoSchedule || t.Effect == node.TaintEffectNoExecute
	})
}

// Filter rejects the node if it has a NoSchedule or NoExecute taint the pod does not tolerate.
// A cordoned node is treated as having the node.kubernetes.io/unschedulable:NoSchedule taint.
func (pl *TaintToleration) Filter(_ context.Context, _ *framework.CycleState, p *pod.PodInfo, n *node.NodeInfo) *framework.Status {
	taint, found := untoleratedTaint(n, p.Spec.Tolerations)
	if !found {
		return nil
	}

	return framework.NewStatus(framework.UnschedulableAndUnresolvable, fmt.Sprintf("%s {%s}", ErrReasonNotMatch, taint))
}

type preScoreState struct {
	tolerationsPreferNoSchedule []pod.Toleration
}

// PreScore stores the tolerations which may tolerate PreferNoSchedule taints.
func (pl *TaintToleration) PreScore(_ context.Context, state *framework.CycleState, p *pod.PodInfo, nodes []*node.NodeInfo) *framework.Status {
	if len(nodes) == 0 {
		return framework.NewStatus(framework.Skip)
	}

	tolerations := []pod.Toleration{}
	for _, t := range p.Spec.Tolerations {
		if t.Effect == "" || t.Effect == node.TaintEffectPreferNoSchedule {
			tolerations = append(tolerations, t)
		}
	}
	state.Write(preScoreStateKey, &preScoreState{tolerationsPreferNoSchedule: tolerations})
	return nil
}

// Score counts the PreferNoSchedule taints of the node the pod does not tolerate.
// Normalization reverses the count so that fewer taints score higher.
func (pl *TaintToleration) Score(_ context.Context, state *framework.CycleState, _ *pod.PodInfo, n *node.NodeInfo) (int64, *framework.Status) {
	s, err := framework.ReadAs[*preScoreState](state, preScoreStateKey)
	if err != nil {
		return 0, framework.AsStatus(errors.Wrap(err, "reading PreScore state"))
	}

	var count int64
	for i := range n.Spec.Taints {
		taint := &n.Spec.Taints[i]
		if taint.Effect != node.TaintEffectPreferNoSchedule {
			continue
		}
		if !pod.TolerationsTolerateTaint(s.tolerationsPreferNoSchedule, taint) {
			count++
		}
	}
	return count, nil
}

// ScoreExtensions of the TaintToleration plugin.
func (pl *TaintToleration) ScoreExtensions() framework.ScoreExtensions {
	return framework.DefaultNormalizeScore{MaxScore: framework.MaxNodeScore, Reverse: true}
}
