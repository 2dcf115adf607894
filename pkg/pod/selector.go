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
	"strconv"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/node"
)

// NodeSelectorOperator is the relation between a node label (or field) and a set of values.
type NodeSelectorOperator string

const (
	NodeSelectorOpIn           NodeSelectorOperator = "In"
	NodeSelectorOpNotIn        NodeSelectorOperator = "NotIn"
	NodeSelectorOpExists       NodeSelectorOperator = "Exists"
	NodeSelectorOpDoesNotExist NodeSelectorOperator = "DoesNotExist"
	NodeSelectorOpGt           NodeSelectorOperator = "Gt"
	NodeSelectorOpLt           NodeSelectorOperator = "Lt"
)

// NodeNameField is the only field supported by NodeSelectorTerm.MatchFields.
const NodeNameField = "metadata.name"

// NodeSelectorRequirement is a single predicate over a node label.
type NodeSelectorRequirement struct {
	Key      string               `json:"key" yaml:"key"`
	Operator NodeSelectorOperator `json:"operator" yaml:"operator"`
	Values   []string             `json:"values,omitempty" yaml:"values,omitempty"`
}

// Matches evaluates the requirement against the labels.
// Gt and Lt compare the label and the single value as int64; a missing label, a parse failure, or
// a values list whose length is not one makes the requirement not match.
func (r *NodeSelectorRequirement) Matches(labels map[string]string) bool {
	value, exists := labels[r.Key]

	switch r.Operator {
	case NodeSelectorOpIn:
		return exists && contains(r.Values, value)
	case NodeSelectorOpNotIn:
		return !exists || !contains(r.Values, value)
	case NodeSelectorOpExists:
		return exists
	case NodeSelectorOpDoesNotExist:
		return !exists
	case NodeSelectorOpGt, NodeSelectorOpLt:
		if !exists || len(r.Values) != 1 {
			return false
		}
		lhs, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return false
		}
		rhs, err := strconv.ParseInt(r.Values[0], 10, 64)
		if err != nil {
			return false
		}
		if r.Operator == NodeSelectorOpGt {
			return lhs > rhs
		}
		return lhs < rhs
	default:
		return false
	}
}

// NodeSelectorTerm is the AND of its requirements.
// A term with neither expressions nor fields matches nothing.
type NodeSelectorTerm struct {
	MatchExpressions []NodeSelectorRequirement `json:"matchExpressions,omitempty" yaml:"matchExpressions,omitempty"`
	// MatchFields only supports NodeNameField.
	MatchFields []NodeSelectorRequirement `json:"matchFields,omitempty" yaml:"matchFields,omitempty"`
}

// Matches returns whether the node satisfies every requirement of this term.
func (t *NodeSelectorTerm) Matches(n *node.NodeInfo) bool {
	if len(t.MatchExpressions) == 0 && len(t.MatchFields) == 0 {
		return false
	}

	for i := range t.MatchExpressions {
		if !t.MatchExpressions[i].Matches(n.Labels) {
			return false
		}
	}

	fields := map[string]string{NodeNameField: n.Name}
	for i := range t.MatchFields {
		if t.MatchFields[i].Key != NodeNameField || !t.MatchFields[i].Matches(fields) {
			return false
		}
	}

	return true
}

// NodeSelector is the OR of its terms.
// A nil *NodeSelector matches every node.
type NodeSelector struct {
	NodeSelectorTerms []NodeSelectorTerm `json:"nodeSelectorTerms" yaml:"nodeSelectorTerms"`
}

// Matches returns whether any term matches the node.
func (s *NodeSelector) Matches(n *node.NodeInfo) bool {
	if s == nil {
		return true
	}

	for i := range s.NodeSelectorTerms {
		if s.NodeSelectorTerms[i].Matches(n) {
			return true
		}
	}
	return false
}

// NodeNames returns the node names every matching node must be among, derived from
// metadata.name In requirements. Returns nil if some term leaves the name unrestricted.
func (s *NodeSelector) NodeNames() sets.Set[string] {
	if s == nil {
		return nil
	}

	var result sets.Set[string]
	for _, term := range s.NodeSelectorTerms {
		var termNames sets.Set[string]
		for _, r := range term.MatchFields {
			if r.Key != NodeNameField || r.Operator != NodeSelectorOpIn {
				continue
			}
			names := sets.New(r.Values...)
			if termNames == nil {
				termNames = names
			} else {
				termNames = termNames.Intersection(names)
			}
		}

		if termNames == nil {
			return nil
		}
		if result == nil {
			result = termNames
		} else {
			result = result.Union(termNames)
		}
	}

	return result
}

// DeepCopy returns a deep copy of this NodeSelector.
func (s *NodeSelector) DeepCopy() *NodeSelector {
	if s == nil {
		return nil
	}

	out := &NodeSelector{NodeSelectorTerms: make([]NodeSelectorTerm, len(s.NodeSelectorTerms))}
	for i, term := range s.NodeSelectorTerms {
		out.NodeSelectorTerms[i] = NodeSelectorTerm{
			MatchExpressions: copyRequirements(term.MatchExpressions),
			MatchFields:      copyRequirements(term.MatchFields),
		}
	}
	return out
}

func copyRequirements(in []NodeSelectorRequirement) []NodeSelectorRequirement {
	if in == nil {
		return nil
	}
	out := make([]NodeSelectorRequirement, len(in))
	for i, r := range in {
		out[i] = r
		out[i].Values = append([]string(nil), r.Values...)
	}
	return out
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
