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

package node

import (
	"fmt"

	"github.com/cpuguy83/strongerrors"
	"github.com/pkg/errors"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/resource"
)

// TaintKey is the key of a node taint. The set of keys is closed.
type TaintKey string

const (
	TaintNodeNotReady           TaintKey = "node.kubernetes.io/not-ready"
	TaintNodeUnreachable        TaintKey = "node.kubernetes.io/unreachable"
	TaintNodeUnschedulable      TaintKey = "node.kubernetes.io/unschedulable"
	TaintNodeMemoryPressure     TaintKey = "node.kubernetes.io/memory-pressure"
	TaintNodeDiskPressure       TaintKey = "node.kubernetes.io/disk-pressure"
	TaintNodeNetworkUnavailable TaintKey = "node.kubernetes.io/network-unavailable"
	TaintNodeOutOfService       TaintKey = "node.kubernetes.io/out-of-service"
)

var taintKeys = map[TaintKey]struct{}{
	TaintNodeNotReady:           {},
	TaintNodeUnreachable:        {},
	TaintNodeUnschedulable:      {},
	TaintNodeMemoryPressure:     {},
	TaintNodeDiskPressure:       {},
	TaintNodeNetworkUnavailable: {},
	TaintNodeOutOfService:       {},
}

// ParseTaintKey returns the TaintKey named s.
// Returns an InvalidArgument error if s is not a known taint key.
func ParseTaintKey(s string) (TaintKey, error) {
	if _, ok := taintKeys[TaintKey(s)]; !ok {
		return "", strongerrors.InvalidArgument(errors.Errorf("unknown taint key %q", s))
	}
	return TaintKey(s), nil
}

// TaintEffect is the effect of a taint on pods that do not tolerate it.
type TaintEffect string

const (
	TaintEffectNoSchedule       TaintEffect = "NoSchedule"
	TaintEffectPreferNoSchedule TaintEffect = "PreferNoSchedule"
	TaintEffectNoExecute        TaintEffect = "NoExecute"
)

// ParseTaintEffect returns the TaintEffect named s.
func ParseTaintEffect(s string) (TaintEffect, error) {
	switch e := TaintEffect(s); e {
	case TaintEffectNoSchedule, TaintEffectPreferNoSchedule, TaintEffectNoExecute:
		return e, nil
	default:
		return "", strongerrors.InvalidArgument(errors.Errorf("unknown taint effect %q", s))
	}
}

// Taint repels pods that do not tolerate it.
type Taint struct {
	Key    TaintKey    `json:"key" yaml:"key"`
	Value  string      `json:"value,omitempty" yaml:"value,omitempty"`
	Effect TaintEffect `json:"effect" yaml:"effect"`
}

func (t Taint) String() string {
	if t.Value == "" {
		return fmt.Sprintf("%s:%s", t.Key, t.Effect)
	}
	return fmt.Sprintf("%s=%s:%s", t.Key, t.Value, t.Effect)
}

// NodeSpec holds the scheduling-relevant part of a node's desired state.
type NodeSpec struct {
	Unschedulable bool    `json:"unschedulable,omitempty" yaml:"unschedulable,omitempty"`
	Taints        []Taint `json:"taints,omitempty" yaml:"taints,omitempty"`
}

// EffectiveTaints returns the taints of this spec, with an implicit
// node.kubernetes.io/unschedulable:NoSchedule taint appended if the node is cordoned and does not
// carry one explicitly.
func (s *NodeSpec) EffectiveTaints() []Taint {
	if !s.Unschedulable {
		return s.Taints
	}

	for _, t := range s.Taints {
		if t.Key == TaintNodeUnschedulable && t.Effect == TaintEffectNoSchedule {
			return s.Taints
		}
	}

	taints := make([]Taint, 0, len(s.Taints)+1)
	taints = append(taints, s.Taints...)
	return append(taints, Taint{Key: TaintNodeUnschedulable, Effect: TaintEffectNoSchedule})
}

// NodeInfo is a read-only snapshot of a node taken for one scheduling cycle.
type NodeInfo struct {
	Name   string            `json:"name" yaml:"name"`
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Spec   NodeSpec          `json:"spec" yaml:"spec"`

	// Requested is the sum of requests of pods assigned to this node.
	Requested resource.Requirements `json:"requested" yaml:"requested"`
	// Allocatable is the total amount of resources pods may request on this node.
	Allocatable resource.Requirements `json:"allocatable" yaml:"allocatable"`
}

// Available returns the resources not yet requested on this node.
func (n *NodeInfo) Available() resource.Requirements {
	return n.Allocatable.Sub(n.Requested)
}

// Clone returns a deep copy of this NodeInfo.
func (n *NodeInfo) Clone() *NodeInfo {
	clone := *n

	if n.Labels != nil {
		clone.Labels = make(map[string]string, len(n.Labels))
		for k, v := range n.Labels {
			clone.Labels[k] = v
		}
	}
	if n.Spec.Taints != nil {
		clone.Spec.Taints = append([]Taint(nil), n.Spec.Taints...)
	}

	return &clone
}

func (n *NodeInfo) String() string {
	return fmt.Sprintf("%s{labels:%v, unschedulable:%t, taints:%v, requested:%s, allocatable:%s}",
		n.Name, n.Labels, n.Spec.Unschedulable, n.Spec.Taints, n.Requested, n.Allocatable)
}
