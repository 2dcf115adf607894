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
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/node"
)

// Affinity is a group of affinity scheduling rules.
type Affinity struct {
	NodeAffinity *NodeAffinity `json:"nodeAffinity,omitempty" yaml:"nodeAffinity,omitempty"`
}

// NodeAffinity holds the hard and soft node-selection constraints of a pod.
type NodeAffinity struct {
	// Required must be satisfied by a node for the pod to be placed there.
	Required *NodeSelector `json:"required,omitempty" yaml:"required,omitempty"`
	// Preferred terms add their weight to the score of nodes they match.
	Preferred []PreferredSchedulingTerm `json:"preferred,omitempty" yaml:"preferred,omitempty"`
}

// PreferredSchedulingTerm is a weighted soft requirement.
type PreferredSchedulingTerm struct {
	MatchLabel NodeSelectorRequirement `json:"matchLabel" yaml:"matchLabel"`
	Weight     int64                   `json:"weight" yaml:"weight"`
}

// DeepCopy returns a deep copy of this Affinity.
func (a *Affinity) DeepCopy() *Affinity {
	if a == nil {
		return nil
	}
	if a.NodeAffinity == nil {
		return &Affinity{}
	}

	na := &NodeAffinity{Required: a.NodeAffinity.Required.DeepCopy()}
	if a.NodeAffinity.Preferred != nil {
		na.Preferred = make([]PreferredSchedulingTerm, len(a.NodeAffinity.Preferred))
		for i, term := range a.NodeAffinity.Preferred {
			na.Preferred[i] = term
			na.Preferred[i].MatchLabel.Values = append([]string(nil), term.MatchLabel.Values...)
		}
	}
	return &Affinity{NodeAffinity: na}
}

// RequiredNodeSelector returns the required node affinity of the pod, or nil.
func (p *PodInfo) RequiredNodeSelector() *NodeSelector {
	if p.Spec.Affinity == nil || p.Spec.Affinity.NodeAffinity == nil {
		return nil
	}
	return p.Spec.Affinity.NodeAffinity.Required
}

// PreferredTerms returns the preferred node affinity terms of the pod.
func (p *PodInfo) PreferredTerms() []PreferredSchedulingTerm {
	if p.Spec.Affinity == nil || p.Spec.Affinity.NodeAffinity == nil {
		return nil
	}
	return p.Spec.Affinity.NodeAffinity.Preferred
}

// RequiredNodeAffinity is the combination of a pod's node selector and its required node
// affinity. A node must satisfy both.
type RequiredNodeAffinity struct {
	labelSelector map[string]string
	nodeSelector  *NodeSelector
}

// GetRequiredNodeAffinity returns the RequiredNodeAffinity of the pod.
func GetRequiredNodeAffinity(p *PodInfo) RequiredNodeAffinity {
	return RequiredNodeAffinity{
		labelSelector: p.Spec.NodeSelector,
		nodeSelector:  p.RequiredNodeSelector(),
	}
}

// Match returns whether the node satisfies the node selector (every key/value pair must be equal)
// and the required node affinity.
func (r RequiredNodeAffinity) Match(n *node.NodeInfo) bool {
	for k, v := range r.labelSelector {
		if actual, ok := n.Labels[k]; !ok || actual != v {
			return false
		}
	}
	return r.nodeSelector.Matches(n)
}

// NodeSelector returns the required node affinity part, which may be nil.
func (r RequiredNodeAffinity) NodeSelector() *NodeSelector {
	return r.nodeSelector
}

// PreferredSchedulingTerms is a list of weighted soft requirements.
type PreferredSchedulingTerms struct {
	Terms []PreferredSchedulingTerm
}

// NewPreferredSchedulingTerms returns the preferred terms of the pod, dropping zero weights.
func NewPreferredSchedulingTerms(p *PodInfo) PreferredSchedulingTerms {
	preferred := p.PreferredTerms()
	terms := make([]PreferredSchedulingTerm, 0, len(preferred))
	for _, term := range preferred {
		if term.Weight == 0 {
			continue
		}
		terms = append(terms, term)
	}
	return PreferredSchedulingTerms{Terms: terms}
}

// Score sums the weight of every term matching the node.
func (t PreferredSchedulingTerms) Score(n *node.NodeInfo) int64 {
	var score int64
	for i := range t.Terms {
		if t.Terms[i].MatchLabel.Matches(n.Labels) {
			score += t.Terms[i].Weight
		}
	}
	return score
}
