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

package framework

import (
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
)

// MaxNodeScore is the maximum score a normalized Score plugin may return.
const MaxNodeScore int64 = 100

// EventResource is the kind of object a cluster event is about.
type EventResource string

const (
	Pod      EventResource = "Pod"
	Node     EventResource = "Node"
	WildCard EventResource = "*"
)

// ActionType is a bitmask of the changes a cluster event represents.
type ActionType int64

const (
	Add ActionType = 1 << iota
	Delete
	// UpdateNodeXYZ only apply to Node events.
	UpdateNodeAllocatable
	UpdateNodeLabel
	UpdateNodeTaint
	UpdateNodeCondition

	All ActionType = 1<<iota - 1

	// Update is any kind of update.
	Update = UpdateNodeAllocatable | UpdateNodeLabel | UpdateNodeTaint | UpdateNodeCondition
)

var actionNames = []struct {
	action ActionType
	name   string
}{
	{Add, "Add"},
	{Delete, "Delete"},
	{UpdateNodeAllocatable, "UpdateNodeAllocatable"},
	{UpdateNodeLabel, "UpdateNodeLabel"},
	{UpdateNodeTaint, "UpdateNodeTaint"},
	{UpdateNodeCondition, "UpdateNodeCondition"},
}

func (a ActionType) String() string {
	if a == All {
		return "All"
	}
	names := []string{}
	for _, an := range actionNames {
		if a&an.action != 0 {
			names = append(names, an.name)
		}
	}
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, "|")
}

// ClusterEvent describes a change of an object in the cluster.
type ClusterEvent struct {
	Resource   EventResource
	ActionType ActionType
	// Label is a human-readable name for metrics and logs.
	Label string
}

// IsWildCard returns true if the event matches every event.
func (ce ClusterEvent) IsWildCard() bool {
	return ce.Resource == WildCard && ce.ActionType == All
}

// Match returns whether an incoming event is covered by this registered event.
func (ce ClusterEvent) Match(incoming ClusterEvent) bool {
	return ce.IsWildCard() ||
		(ce.Resource == WildCard || ce.Resource == incoming.Resource) && ce.ActionType&incoming.ActionType != 0
}

func (ce ClusterEvent) String() string {
	if ce.Label != "" {
		return ce.Label
	}
	return string(ce.Resource) + "/" + ce.ActionType.String()
}

// QueueingHint is a plugin's verdict on whether an event may make a pod schedulable.
type QueueingHint int

const (
	// QueueSkip leaves the pod where it is.
	QueueSkip QueueingHint = iota
	// Queue moves the pod to the active queue.
	Queue
)

func (h QueueingHint) String() string {
	if h == Queue {
		return "Queue"
	}
	return "QueueSkip"
}

// QueueingHintFn decides whether the change from oldObj to newObj may make the pod schedulable.
// oldObj is nil for Add events and newObj is nil for Delete events. The objects are
// *node.NodeInfo for Node events and *pod.PodInfo for Pod events.
type QueueingHintFn func(p *pod.PodInfo, oldObj, newObj interface{}) (QueueingHint, error)

// ClusterEventWithHint pairs a registered event with its hint function.
// A nil QueueingHintFn always returns Queue.
type ClusterEventWithHint struct {
	Event          ClusterEvent
	QueueingHintFn QueueingHintFn
}

// QueueingHintFunction is a hint function tagged with the plugin that registered it.
type QueueingHintFunction struct {
	PluginName     string
	QueueingHintFn QueueingHintFn
}

// QueueingHintMap maps registered events to the hint functions interested in them.
type QueueingHintMap map[ClusterEvent][]*QueueingHintFunction

// PreFilterResult restricts the nodes considered for a pod.
type PreFilterResult struct {
	// NodeNames is nil when all nodes are eligible.
	NodeNames sets.Set[string]
}

// AllNodes returns whether the result does not restrict the candidates.
func (p *PreFilterResult) AllNodes() bool {
	return p == nil || p.NodeNames == nil
}

// Merge intersects two results. An unrestricted operand is the identity.
func (p *PreFilterResult) Merge(in *PreFilterResult) *PreFilterResult {
	if p.AllNodes() && in.AllNodes() {
		return nil
	}
	if p.AllNodes() {
		return &PreFilterResult{NodeNames: in.NodeNames.Clone()}
	}
	if in.AllNodes() {
		return &PreFilterResult{NodeNames: p.NodeNames.Clone()}
	}
	return &PreFilterResult{NodeNames: p.NodeNames.Intersection(in.NodeNames)}
}

// NodeScore is the score of one node.
type NodeScore struct {
	Name  string
	Score int64
}

// NodeScoreList holds the scores of one plugin for every candidate node, in candidate order.
type NodeScoreList []NodeScore

// PluginScore is a plugin's weighted and normalized score for a node.
type PluginScore struct {
	Name  string
	Score int64
}

// NodePluginScores is the breakdown of a node's total score.
type NodePluginScores struct {
	Name       string
	Scores     []PluginScore
	TotalScore int64
}
