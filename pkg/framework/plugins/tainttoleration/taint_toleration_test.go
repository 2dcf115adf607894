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

package tainttoleration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/node"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
)

func taintedNode(name string, unschedulable bool, taints ...node.Taint) *node.NodeInfo {
	return &node.NodeInfo{Name: name, Spec: node.NodeSpec{Unschedulable: unschedulable, Taints: taints}}
}

func podWithTolerations(tolerations ...pod.Toleration) *pod.PodInfo {
	return &pod.PodInfo{Name: "pod-0", Spec: pod.PodSpec{Tolerations: tolerations}}
}

var (
	notReadyNoSchedule = node.Taint{Key: node.TaintNodeNotReady, Effect: node.TaintEffectNoSchedule}
	pressurePreferNo   = node.Taint{Key: node.TaintNodeMemoryPressure, Effect: node.TaintEffectPreferNoSchedule}
	diskPreferNo       = node.Taint{Key: node.TaintNodeDiskPressure, Effect: node.TaintEffectPreferNoSchedule}
)

func TestTaintTolerationFilter(t *testing.T) {
	pl := &TaintToleration{}

	tests := []struct {
		name         string
		pod          *pod.PodInfo
		node         *node.NodeInfo
		expectedCode framework.Code
	}{
		{
			name:         "untainted node",
			pod:          podWithTolerations(),
			node:         taintedNode("n", false),
			expectedCode: framework.Success,
		},
		{
			name:         "untolerated NoSchedule taint",
			pod:          podWithTolerations(),
			node:         taintedNode("n", false, notReadyNoSchedule),
			expectedCode: framework.UnschedulableAndUnresolvable,
		},
		{
			name:         "tolerated NoSchedule taint",
			pod:          podWithTolerations(pod.Toleration{Key: node.TaintNodeNotReady, Operator: pod.TolerationOpExists}),
			node:         taintedNode("n", false, notReadyNoSchedule),
			expectedCode: framework.Success,
		},
		{
			name:         "PreferNoSchedule taint does not filter",
			pod:          podWithTolerations(),
			node:         taintedNode("n", false, pressurePreferNo),
			expectedCode: framework.Success,
		},
		{
			name:         "cordoned node",
			pod:          podWithTolerations(),
			node:         taintedNode("n", true),
			expectedCode: framework.UnschedulableAndUnresolvable,
		},
		{
			name:         "cordoned node tolerated",
			pod:          podWithTolerations(pod.Toleration{Key: node.TaintNodeUnschedulable, Operator: pod.TolerationOpExists, Effect: node.TaintEffectNoSchedule}),
			node:         taintedNode("n", true),
			expectedCode: framework.Success,
		},
		{
			name:         "wildcard toleration",
			pod:          podWithTolerations(pod.Toleration{Operator: pod.TolerationOpExists}),
			node:         taintedNode("n", true, notReadyNoSchedule),
			expectedCode: framework.Success,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			status := pl.Filter(context.Background(), framework.NewCycleState(), test.pod, test.node)
			assert.Equal(t, test.expectedCode, status.Code(), status.String())
		})
	}
}

func TestTaintTolerationFilterReason(t *testing.T) {
	status := (&TaintToleration{}).Filter(context.Background(), framework.NewCycleState(),
		podWithTolerations(), taintedNode("n", true))
	assert.Equal(t, []string{"node(s) had untolerated taint {node.kubernetes.io/unschedulable:NoSchedule}"}, status.Reasons())
}

func TestTaintTolerationScore(t *testing.T) {
	ctx := context.Background()
	pl := &TaintToleration{}
	p := podWithTolerations(pod.Toleration{Key: node.TaintNodeDiskPressure, Operator: pod.TolerationOpExists, Effect: node.TaintEffectPreferNoSchedule})
	nodes := []*node.NodeInfo{
		taintedNode("clean", false),
		taintedNode("tolerated", false, diskPreferNo),
		taintedNode("one", false, pressurePreferNo, diskPreferNo),
		taintedNode("hard", false, notReadyNoSchedule, pressurePreferNo, node.Taint{Key: node.TaintNodeOutOfService, Effect: node.TaintEffectPreferNoSchedule}),
	}

	state := framework.NewCycleState()
	require.True(t, pl.PreScore(ctx, state, p, nodes).IsSuccess())

	scores := framework.NodeScoreList{}
	for _, n := range nodes {
		s, status := pl.Score(ctx, state, p, n)
		require.True(t, status.IsSuccess())
		scores = append(scores, framework.NodeScore{Name: n.Name, Score: s})
	}
	assert.Equal(t, []int64{0, 0, 1, 2}, []int64{scores[0].Score, scores[1].Score, scores[2].Score, scores[3].Score})

	require.True(t, pl.ScoreExtensions().NormalizeScore(ctx, state, p, scores).IsSuccess())
	assert.Equal(t, []int64{100, 100, 50, 0}, []int64{scores[0].Score, scores[1].Score, scores[2].Score, scores[3].Score})
}

func TestTaintTolerationScoreWithoutPreScore(t *testing.T) {
	_, status := (&TaintToleration{}).Score(context.Background(), framework.NewCycleState(), podWithTolerations(), taintedNode("n", false))
	assert.Equal(t, framework.Error, status.Code())
}

func TestTaintTolerationQueueingHint(t *testing.T) {
	pl := &TaintToleration{}
	p := podWithTolerations()

	tainted := taintedNode("n", false, notReadyNoSchedule)
	clean := taintedNode("n", false)

	tests := []struct {
		name     string
		oldObj   interface{}
		newObj   interface{}
		expected framework.QueueingHint
	}{
		{"added clean node", nil, clean, framework.Queue},
		{"added tainted node", nil, tainted, framework.QueueSkip},
		{"taint removed", tainted, clean, framework.Queue},
		{"taint added", clean, tainted, framework.QueueSkip},
		{"still clean", clean, clean, framework.QueueSkip},
		{"uncordoned", taintedNode("n", true), clean, framework.Queue},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			hint, err := pl.isSchedulableAfterNodeChange(p, test.oldObj, test.newObj)
			require.NoError(t, err)
			assert.Equal(t, test.expected, hint)
		})
	}

	_, err := pl.isSchedulableAfterNodeChange(p, nil, "not a node")
	assert.Error(t, err)
}
