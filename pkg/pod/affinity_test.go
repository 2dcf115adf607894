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
	"testing"

	"github.com/stretchr/testify/assert"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/node"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/resource"
)

func TestRequiredNodeAffinityMatch(t *testing.T) {
	n := &node.NodeInfo{Name: "node-0", Labels: map[string]string{"zone": "a", "gpu": "true"}}

	p := &PodInfo{Name: "pod-0"}
	assert.True(t, GetRequiredNodeAffinity(p).Match(n))

	p.Spec.NodeSelector = map[string]string{"zone": "a"}
	assert.True(t, GetRequiredNodeAffinity(p).Match(n))

	p.Spec.NodeSelector = map[string]string{"zone": "a", "gpu": "false"}
	assert.False(t, GetRequiredNodeAffinity(p).Match(n))

	p.Spec.NodeSelector = map[string]string{"zone": "a"}
	p.Spec.Affinity = &Affinity{NodeAffinity: &NodeAffinity{
		Required: &NodeSelector{NodeSelectorTerms: []NodeSelectorTerm{{
			MatchExpressions: []NodeSelectorRequirement{{Key: "gpu", Operator: NodeSelectorOpNotIn, Values: []string{"true"}}},
		}}},
	}}
	assert.False(t, GetRequiredNodeAffinity(p).Match(n))
}

func TestPreferredSchedulingTermsScore(t *testing.T) {
	n := &node.NodeInfo{Name: "node-0", Labels: map[string]string{"zone": "a", "disk": "ssd"}}

	assert.Equal(t, int64(0), PreferredSchedulingTerms{}.Score(n))
	assert.Equal(t, int64(0), PreferredSchedulingTerms{Terms: []PreferredSchedulingTerm{}}.Score(n))

	p := &PodInfo{Name: "pod-0", Spec: PodSpec{Affinity: &Affinity{NodeAffinity: &NodeAffinity{
		Preferred: []PreferredSchedulingTerm{
			{MatchLabel: NodeSelectorRequirement{Key: "zone", Operator: NodeSelectorOpIn, Values: []string{"a"}}, Weight: 10},
			{MatchLabel: NodeSelectorRequirement{Key: "disk", Operator: NodeSelectorOpExists}, Weight: 5},
			{MatchLabel: NodeSelectorRequirement{Key: "gpu", Operator: NodeSelectorOpExists}, Weight: 7},
			{MatchLabel: NodeSelectorRequirement{Key: "zone", Operator: NodeSelectorOpExists}, Weight: 0},
		},
	}}}}

	terms := NewPreferredSchedulingTerms(p)
	assert.Len(t, terms.Terms, 3)
	assert.Equal(t, int64(15), terms.Score(n))
}

func TestPodInfoClone(t *testing.T) {
	p := &PodInfo{
		Name: "pod-0",
		Spec: PodSpec{
			Resources:       resource.Requirements{MilliCPU: 100},
			SchedulingGates: []string{"gate"},
			NodeSelector:    map[string]string{"zone": "a"},
			Tolerations:     []Toleration{{Operator: TolerationOpExists}},
			Affinity: &Affinity{NodeAffinity: &NodeAffinity{
				Preferred: []PreferredSchedulingTerm{{
					MatchLabel: NodeSelectorRequirement{Key: "zone", Operator: NodeSelectorOpIn, Values: []string{"a"}},
					Weight:     1,
				}},
			}},
		},
		QueuedInfo: QueuedInfo{Attempts: 2, UnschedulablePlugins: sets.New("NodeAffinity")},
	}

	clone := p.Clone()
	assert.Equal(t, p, clone)

	clone.Spec.NodeSelector["zone"] = "b"
	clone.Spec.SchedulingGates[0] = "other"
	clone.Spec.Affinity.NodeAffinity.Preferred[0].MatchLabel.Values[0] = "b"
	clone.QueuedInfo.UnschedulablePlugins.Insert("TaintToleration")

	assert.Equal(t, "a", p.Spec.NodeSelector["zone"])
	assert.Equal(t, "gate", p.Spec.SchedulingGates[0])
	assert.Equal(t, "a", p.Spec.Affinity.NodeAffinity.Preferred[0].MatchLabel.Values[0])
	assert.Equal(t, 1, p.QueuedInfo.UnschedulablePlugins.Len())
	assert.True(t, p.IsGated())
	assert.False(t, p.IsBound())

	p.QueuedInfo.Reset()
	assert.Zero(t, p.QueuedInfo.Attempts)
	assert.Nil(t, p.QueuedInfo.UnschedulablePlugins)
}
