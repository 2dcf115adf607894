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
	"github.com/cpuguy83/strongerrors"
	"github.com/pkg/errors"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/node"
)

// TolerationOperator is the relation between a toleration and a taint value.
type TolerationOperator string

const (
	TolerationOpExists TolerationOperator = "Exists"
	TolerationOpEqual  TolerationOperator = "Equal"
)

// Toleration lets a pod be scheduled onto nodes with matching taints.
// An empty Key matches every key and is valid only with the Exists operator.
// An empty Effect matches every effect. An empty Operator means Equal.
type Toleration struct {
	Key      node.TaintKey      `json:"key,omitempty" yaml:"key,omitempty"`
	Operator TolerationOperator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    string             `json:"value,omitempty" yaml:"value,omitempty"`
	Effect   node.TaintEffect   `json:"effect,omitempty" yaml:"effect,omitempty"`
}

// Validate returns an InvalidArgument error if the toleration is malformed.
func (t *Toleration) Validate() error {
	switch t.Operator {
	case "", TolerationOpEqual:
		if t.Key == "" {
			return strongerrors.InvalidArgument(errors.New("toleration without key must use operator Exists"))
		}
	case TolerationOpExists:
		if t.Value != "" {
			return strongerrors.InvalidArgument(errors.Errorf("toleration %q with operator Exists must not have a value", t.Key))
		}
	default:
		return strongerrors.InvalidArgument(errors.Errorf("unknown toleration operator %q", t.Operator))
	}
	return nil
}

// ToleratesTaint returns whether this toleration tolerates the taint.
func (t *Toleration) ToleratesTaint(taint *node.Taint) bool {
	if t.Effect != "" && t.Effect != taint.Effect {
		return false
	}
	if t.Key != "" && t.Key != taint.Key {
		return false
	}

	switch t.Operator {
	case "", TolerationOpEqual:
		return t.Value == taint.Value
	case TolerationOpExists:
		return true
	default:
		return false
	}
}

// TolerationsTolerateTaint returns whether any of the tolerations tolerates the taint.
func TolerationsTolerateTaint(tolerations []Toleration, taint *node.Taint) bool {
	for i := range tolerations {
		if tolerations[i].ToleratesTaint(taint) {
			return true
		}
	}
	return false
}

// FindMatchingUntoleratedTaint returns the first taint accepted by inclusionFilter that is not
// tolerated by any of the tolerations.
func FindMatchingUntoleratedTaint(taints []node.Taint, tolerations []Toleration, inclusionFilter func(*node.Taint) bool) (node.Taint, bool) {
	for i := range taints {
		taint := &taints[i]
		if inclusionFilter != nil && !inclusionFilter(taint) {
			continue
		}
		if !TolerationsTolerateTaint(tolerations, taint) {
			return *taint, true
		}
	}
	return node.Taint{}, false
}
