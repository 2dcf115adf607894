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

// Package cluster defines the boundary between the scheduler and the cluster state store, and
// provides an in-memory store implementing it.
package cluster

import (
	"context"
	"fmt"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/node"
)

// NodeLister is the source of node snapshots.
type NodeLister interface {
	// ListNodes returns a snapshot of every node. The caller may mutate the returned objects.
	ListNodes(ctx context.Context) ([]*node.NodeInfo, error)
}

// Binder is the sink of scheduling decisions.
type Binder interface {
	// Assign binds the pod to the node.
	// Returns an error for which strongerrors.IsConflict holds if the assignment is no longer
	// valid, e.g. because the node capacity changed or the pod is already bound.
	Assign(ctx context.Context, assignment Assignment) error
}

// EventSource is the feed of cluster changes.
type EventSource interface {
	Events() <-chan Event
}

// Assignment binds a pod to a node.
type Assignment struct {
	PodName  string
	NodeName string
}

func (a Assignment) String() string {
	return fmt.Sprintf("%s->%s", a.PodName, a.NodeName)
}

// Event is a change of a node or a pod.
// Old is nil for Add events and New is nil for Delete events. They are *node.NodeInfo for Node
// events and *pod.PodInfo for Pod events.
type Event struct {
	framework.ClusterEvent
	Old interface{}
	New interface{}
}
