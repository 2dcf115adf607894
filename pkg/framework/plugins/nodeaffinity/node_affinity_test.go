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

package nodeaffinity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/node"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
)

func podWithAffinity(nodeSelector map[string]string, affinity *pod.NodeAffinity) *pod.PodInfo {
	p := &pod.PodInfo{Name: "pod-0", Spec: pod.PodSpec{NodeSelector: nodeSelector}}
	if affinity != nil {
		p.Spec.Affinity = &pod.Affinity{NodeAffinity: affinity}
	}
	return p
}

func zoneIn(zones ...string) *pod.NodeSelector {
	return &pod.NodeSelector{NodeSelectorTerms: []pod.NodeSelectorTerm{{
		MatchExpressions: []pod.NodeSelectorRequirement{{Key: "zone", Operator: pod.NodeSelectorOpIn, Values: zones}},
	}}}
}

func labeledNode(name string, labels map[string]string) *node.NodeInfo {
	return &node.NodeInfo{Name: name, Labels: labels}
}

func TestNodeAffinityFilter(t *testing.T) {
	ctx := context.Background()
	pl := &NodeAffinity{}

	tests := []struct {
		name           string
		pod            *pod.PodInfo
		node           *node.NodeInfo
		preFilterCode  framework.Code
		expectedStatus *framework.Status
	}{
		{
			name:          "no selector nor affinity skips",
			pod:           podWithAffinity(nil, nil),
			node:          labeledNode("n", map[string]string{"zone": "b"}),
			preFilterCode: framework.Skip,
		},
		{
			name:          "matching node selector",
			pod:           podWithAffinity(map[string]string{"zone": "a"}, nil),
			node:          labeledNode("n", map[string]string{"zone": "a", "extra": "x"}),
			preFilterCode: framework.Success,
		},
		{
			name:           "mismatching node selector",
			pod:            podWithAffinity(map[string]string{"zone": "a"}, nil),
			node:           labeledNode("n", map[string]string{"zone": "b"}),
			preFilterCode:  framework.Success,
			expectedStatus: framework.NewStatus(framework.UnschedulableAndUnresolvable, ErrReasonPod),
		},
		{
			name:          "matching required affinity",
			pod:           podWithAffinity(nil, &pod.NodeAffinity{Required: zoneIn("a", "b")}),
			node:          labeledNode("n", map[string]string{"zone": "b"}),
			preFilterCode: framework.Success,
		},
		{
			name:           "selector matches but affinity does not",
			pod:            podWithAffinity(map[string]string{"zone": "c"}, &pod.NodeAffinity{Required: zoneIn("a")}),
			node:           labeledNode("n", map[string]string{"zone": "c"}),
			preFilterCode:  framework.Success,
			expectedStatus: framework.NewStatus(framework.UnschedulableAndUnresolvable, ErrReasonPod),
		},
		{
			name:          "preferred only skips",
			pod:           podWithAffinity(nil, &pod.NodeAffinity{Preferred: []pod.PreferredSchedulingTerm{{Weight: 1}}}),
			node:          labeledNode("n", nil),
			preFilterCode: framework.Skip,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			state := framework.NewCycleState()
			_, status := pl.PreFilter(ctx, state, test.pod, []*node.NodeInfo{test.node})
			assert.Equal(t, test.preFilterCode, status.Code())

			status = pl.Filter(ctx, state, test.pod, test.node)
			assert.True(t, test.expectedStatus.Equal(status), "got %v, want %v", status, test.expectedStatus)
		})
	}
}

func TestNodeAffinityFilterWithoutPreFilterIsNoop(t *testing.T) {
	pl := &NodeAffinity{}
	p := podWithAffinity(nil, nil)

	for _, n := range []*node.NodeInfo{
		labeledNode("a", map[string]string{"zone": "a"}),
		labeledNode("b", map[string]string{"zone": "conflicting"}),
		labeledNode("c", nil),
	} {
		state := framework.NewCycleState()
		_, status := pl.PreFilter(context.Background(), state, p, nil)
		require.True(t, status.IsSkip())
		assert.True(t, pl.Filter(context.Background(), state, p, n).IsSuccess(), "node %s", n.Name)
	}
}

func TestNodeAffinityPreFilterNodeNames(t *testing.T) {
	pl := &NodeAffinity{}
	byName := func(names ...string) *pod.NodeSelector {
		return &pod.NodeSelector{NodeSelectorTerms: []pod.NodeSelectorTerm{{
			MatchFields: []pod.NodeSelectorRequirement{{Key: pod.NodeNameField, Operator: pod.NodeSelectorOpIn, Values: names}},
		}}}
	}

	result, status := pl.PreFilter(context.Background(), framework.NewCycleState(),
		podWithAffinity(nil, &pod.NodeAffinity{Required: byName("a", "b")}), nil)
	assert.True(t, status.IsSuccess())
	assert.Equal(t, sets.New("a", "b"), result.NodeNames)

	_, status = pl.PreFilter(context.Background(), framework.NewCycleState(),
		podWithAffinity(nil, &pod.NodeAffinity{Required: byName()}), nil)
	assert.Equal(t, framework.UnschedulableAndUnresolvable, status.Code())

	result, status = pl.PreFilter(context.Background(), framework.NewCycleState(),
		podWithAffinity(nil, &pod.NodeAffinity{Required: zoneIn("a")}), nil)
	assert.True(t, status.IsSuccess())
	assert.True(t, result.AllNodes())
}

func TestNodeAffinityScore(t *testing.T) {
	ctx := context.Background()
	pl := &NodeAffinity{}

	p := podWithAffinity(nil, &pod.NodeAffinity{Preferred: []pod.PreferredSchedulingTerm{
		{MatchLabel: pod.NodeSelectorRequirement{Key: "zone", Operator: pod.NodeSelectorOpIn, Values: []string{"a"}}, Weight: 4},
		{MatchLabel: pod.NodeSelectorRequirement{Key: "ssd", Operator: pod.NodeSelectorOpExists}, Weight: 1},
	}})
	nodes := []*node.NodeInfo{
		labeledNode("both", map[string]string{"zone": "a", "ssd": "true"}),
		labeledNode("zone", map[string]string{"zone": "a"}),
		labeledNode("none", map[string]string{"zone": "b"}),
	}

	state := framework.NewCycleState()
	require.True(t, pl.PreScore(ctx, state, p, nodes).IsSuccess())

	scores := framework.NodeScoreList{}
	for _, n := range nodes {
		s, status := pl.Score(ctx, state, p, n)
		require.True(t, status.IsSuccess())
		scores = append(scores, framework.NodeScore{Name: n.Name, Score: s})
	}
	assert.Equal(t, framework.NodeScoreList{{Name: "both", Score: 5}, {Name: "zone", Score: 4}, {Name: "none", Score: 0}}, scores)

	require.True(t, pl.ScoreExtensions().NormalizeScore(ctx, state, p, scores).IsSuccess())
	assert.Equal(t, framework.NodeScoreList{{Name: "both", Score: 100}, {Name: "zone", Score: 80}, {Name: "none", Score: 0}}, scores)
}

func TestNodeAffinityPreScoreSkipAndMissingState(t *testing.T) {
	ctx := context.Background()
	pl := &NodeAffinity{}
	p := podWithAffinity(map[string]string{"zone": "a"}, nil)

	state := framework.NewCycleState()
	assert.True(t, pl.PreScore(ctx, state, p, nil).IsSkip())

	s, status := pl.Score(ctx, state, p, labeledNode("n", nil))
	assert.Zero(t, s)
	assert.Equal(t, framework.Error, status.Code())
}

func TestNodeAffinityQueueingHint(t *testing.T) {
	pl := &NodeAffinity{}
	p := podWithAffinity(nil, &pod.NodeAffinity{Required: zoneIn("a")})

	matching := labeledNode("n", map[string]string{"zone": "a"})
	mismatching := labeledNode("n", map[string]string{"zone": "b"})

	tests := []struct {
		name     string
		oldObj   interface{}
		newObj   interface{}
		expected framework.QueueingHint
		err      bool
	}{
		{"added matching node", nil, matching, framework.Queue, false},
		{"added mismatching node", nil, mismatching, framework.QueueSkip, false},
		{"relabeled to match", mismatching, matching, framework.Queue, false},
		{"relabeled but matched before", matching, matching, framework.QueueSkip, false},
		{"relabeled to mismatch", matching, mismatching, framework.QueueSkip, false},
		{"typed nil old node", (*node.NodeInfo)(nil), matching, framework.Queue, false},
		{"unexpected object", nil, p, framework.Queue, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			hint, err := pl.isSchedulableAfterNodeChange(p, test.oldObj, test.newObj)
			assert.Equal(t, test.expected, hint)
			assert.Equal(t, test.err, err != nil)
		})
	}

	events := pl.EventsToRegister()
	require.Len(t, events, 1)
	assert.Equal(t, framework.ClusterEvent{Resource: framework.Node, ActionType: framework.Add | framework.UpdateNodeLabel}, events[0].Event)
}
