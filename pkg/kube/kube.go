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

// Package kube converts Kubernetes API objects into the scheduler's data model.
package kube

import (
	"github.com/containerd/containerd/log"
	"github.com/cpuguy83/strongerrors"
	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/node"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/resource"
)

// DefaultNamespace is used for pods without a namespace.
const DefaultNamespace = "default"

// PodKey builds a key for the given pod.
// Returns error if the pod doesn't have a valid (i.e., non-empty) name.
func PodKey(p *v1.Pod) (string, error) {
	if p.ObjectMeta.Name == "" {
		return "", strongerrors.InvalidArgument(errors.New("Empty pod name"))
	}

	return PodKeyFromNames(p.ObjectMeta.Namespace, p.ObjectMeta.Name), nil
}

// PodKeyFromNames builds a key from the namespace and the name of a pod.
func PodKeyFromNames(namespace, name string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return namespace + "/" + name
}

// PodTotalResourceRequests extracts the total amount of resource requested by the given pod.
func PodTotalResourceRequests(p *v1.Pod) resource.Requirements {
	result := resource.Requirements{}
	for _, container := range p.Spec.Containers {
		result = result.Add(resource.FromResourceList(container.Resources.Requests))
	}
	return result
}

// PodPriority returns the priority of the given pod.
// Negative priorities are clamped to zero, so pods with different negative priorities are queued
// as equals, behind every pod of positive priority. A pod without a priority gets zero.
func PodPriority(p *v1.Pod) uint64 {
	if p.Spec.Priority == nil || *p.Spec.Priority < 0 {
		return 0
	}
	return uint64(*p.Spec.Priority)
}

// ConvertPod converts a v1.Pod into a PodInfo.
// Tolerations of taint keys the scheduler does not know are dropped, since no node can carry them.
func ConvertPod(p *v1.Pod) (*pod.PodInfo, error) {
	key, err := PodKey(p)
	if err != nil {
		return nil, err
	}

	spec := pod.PodSpec{
		Resources:    PodTotalResourceRequests(p),
		Priority:     PodPriority(p),
		NodeName:     p.Spec.NodeName,
		NodeSelector: copyLabels(p.Spec.NodeSelector),
	}

	for _, gate := range p.Spec.SchedulingGates {
		spec.SchedulingGates = append(spec.SchedulingGates, gate.Name)
	}

	for _, t := range p.Spec.Tolerations {
		toleration, ok, err := convertToleration(t)
		if err != nil {
			return nil, errors.Wrapf(err, "Pod %s", key)
		}
		if !ok {
			log.L.Debugf("Pod %s: dropping toleration of unknown taint key %q", key, t.Key)
			continue
		}
		spec.Tolerations = append(spec.Tolerations, toleration)
	}

	if p.Spec.Affinity != nil && p.Spec.Affinity.NodeAffinity != nil {
		affinity, err := convertNodeAffinity(p.Spec.Affinity.NodeAffinity)
		if err != nil {
			return nil, errors.Wrapf(err, "Pod %s", key)
		}
		spec.Affinity = &pod.Affinity{NodeAffinity: affinity}
	}

	return &pod.PodInfo{Name: key, Spec: spec}, nil
}

func convertToleration(t v1.Toleration) (pod.Toleration, bool, error) {
	toleration := pod.Toleration{
		Operator: pod.TolerationOperator(t.Operator),
		Value:    t.Value,
	}

	if t.Key != "" {
		key, err := node.ParseTaintKey(t.Key)
		if err != nil {
			return pod.Toleration{}, false, nil
		}
		toleration.Key = key
	}

	if t.Effect != "" {
		effect, err := node.ParseTaintEffect(string(t.Effect))
		if err != nil {
			return pod.Toleration{}, false, err
		}
		toleration.Effect = effect
	}

	if err := toleration.Validate(); err != nil {
		return pod.Toleration{}, false, err
	}
	return toleration, true, nil
}

func convertNodeAffinity(in *v1.NodeAffinity) (*pod.NodeAffinity, error) {
	out := &pod.NodeAffinity{}

	if required := in.RequiredDuringSchedulingIgnoredDuringExecution; required != nil {
		selector := &pod.NodeSelector{NodeSelectorTerms: make([]pod.NodeSelectorTerm, 0, len(required.NodeSelectorTerms))}
		for _, term := range required.NodeSelectorTerms {
			selector.NodeSelectorTerms = append(selector.NodeSelectorTerms, pod.NodeSelectorTerm{
				MatchExpressions: convertRequirements(term.MatchExpressions),
				MatchFields:      convertRequirements(term.MatchFields),
			})
		}
		out.Required = selector
	}

	for _, term := range in.PreferredDuringSchedulingIgnoredDuringExecution {
		if len(term.Preference.MatchFields) > 0 || len(term.Preference.MatchExpressions) != 1 {
			return nil, strongerrors.InvalidArgument(errors.Errorf(
				"preferred node affinity term must have exactly one match expression, got %d expression(s) and %d field(s)",
				len(term.Preference.MatchExpressions), len(term.Preference.MatchFields)))
		}
		out.Preferred = append(out.Preferred, pod.PreferredSchedulingTerm{
			MatchLabel: convertRequirements(term.Preference.MatchExpressions)[0],
			Weight:     int64(term.Weight),
		})
	}

	return out, nil
}

func convertRequirements(in []v1.NodeSelectorRequirement) []pod.NodeSelectorRequirement {
	if len(in) == 0 {
		return nil
	}

	out := make([]pod.NodeSelectorRequirement, 0, len(in))
	for _, r := range in {
		out = append(out, pod.NodeSelectorRequirement{
			Key:      r.Key,
			Operator: pod.NodeSelectorOperator(r.Operator),
			Values:   append([]string(nil), r.Values...),
		})
	}
	return out
}

// ConvertNode converts a v1.Node into a NodeInfo with nothing requested.
// Unhealthy conditions add the NoSchedule taints the node lifecycle controller would set.
// Returns error if the node has no name or carries a taint the scheduler does not know.
func ConvertNode(n *v1.Node) (*node.NodeInfo, error) {
	if n.ObjectMeta.Name == "" {
		return nil, strongerrors.InvalidArgument(errors.New("Empty node name"))
	}

	info := &node.NodeInfo{
		Name:   n.ObjectMeta.Name,
		Labels: copyLabels(n.ObjectMeta.Labels),
		Spec: node.NodeSpec{
			Unschedulable: n.Spec.Unschedulable,
		},
		Allocatable: resource.FromResourceList(n.Status.Allocatable),
	}

	for _, t := range n.Spec.Taints {
		key, err := node.ParseTaintKey(t.Key)
		if err != nil {
			return nil, errors.Wrapf(err, "Node %s", info.Name)
		}
		effect, err := node.ParseTaintEffect(string(t.Effect))
		if err != nil {
			return nil, errors.Wrapf(err, "Node %s", info.Name)
		}
		info.Spec.Taints = append(info.Spec.Taints, node.Taint{Key: key, Value: t.Value, Effect: effect})
	}

	for _, key := range conditionTaintKeys(n.Status.Conditions) {
		if !hasTaint(info.Spec.Taints, key) {
			info.Spec.Taints = append(info.Spec.Taints, node.Taint{Key: key, Effect: node.TaintEffectNoSchedule})
		}
	}

	return info, nil
}

// conditionTaintKeys returns the keys of the NoSchedule taints implied by the node conditions.
func conditionTaintKeys(conditions []v1.NodeCondition) []node.TaintKey {
	keys := []node.TaintKey{}
	for _, c := range conditions {
		switch {
		case c.Type == v1.NodeReady && c.Status == v1.ConditionFalse:
			keys = append(keys, node.TaintNodeNotReady)
		case c.Type == v1.NodeReady && c.Status == v1.ConditionUnknown:
			keys = append(keys, node.TaintNodeUnreachable)
		case c.Type == v1.NodeMemoryPressure && c.Status == v1.ConditionTrue:
			keys = append(keys, node.TaintNodeMemoryPressure)
		case c.Type == v1.NodeDiskPressure && c.Status == v1.ConditionTrue:
			keys = append(keys, node.TaintNodeDiskPressure)
		case c.Type == v1.NodeNetworkUnavailable && c.Status == v1.ConditionTrue:
			keys = append(keys, node.TaintNodeNetworkUnavailable)
		}
	}
	return keys
}

func hasTaint(taints []node.Taint, key node.TaintKey) bool {
	for _, t := range taints {
		if t.Key == key && t.Effect == node.TaintEffectNoSchedule {
			return true
		}
	}
	return false
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
