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

package cluster

import (
	"context"
	"sort"
	"sync"

	"github.com/containerd/containerd/log"
	"github.com/cpuguy83/strongerrors"
	"github.com/pkg/errors"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/node"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/resource"
)

// DefaultEventBufferSize is the capacity of the event channel of a Cluster.
const DefaultEventBufferSize = 1024

// Cluster is an in-memory cluster state store.
// Events that do not fit in the buffer are dropped; pods waiting for them are retried when their
// backoff expires.
type Cluster struct {
	lock   sync.RWMutex
	nodes  map[string]*node.NodeInfo
	pods   map[string]*pod.PodInfo
	events chan Event
	closed bool
}

var _ NodeLister = &Cluster{}
var _ Binder = &Cluster{}
var _ EventSource = &Cluster{}

// NodeMetrics represents a metrics of a node at one time point.
type NodeMetrics struct {
	Allocatable resource.Requirements `json:"allocatable" yaml:"allocatable"`
	Requested   resource.Requirements `json:"requested" yaml:"requested"`
	PodsNum     int                   `json:"podsNum" yaml:"podsNum"`
}

// PodMetrics represents a metrics of a pod at one time point.
type PodMetrics struct {
	Node     string                `json:"node,omitempty" yaml:"node,omitempty"`
	Priority uint64                `json:"priority" yaml:"priority"`
	Request  resource.Requirements `json:"request" yaml:"request"`
}

// NewCluster creates an empty Cluster whose event channel holds up to bufferSize events.
func NewCluster(bufferSize int) *Cluster {
	return &Cluster{
		nodes:  map[string]*node.NodeInfo{},
		pods:   map[string]*pod.PodInfo{},
		events: make(chan Event, bufferSize),
	}
}

// Events returns the channel of cluster events. It is closed by Close.
func (c *Cluster) Events() <-chan Event {
	return c.events
}

// Close closes the event channel. Later changes are not notified.
func (c *Cluster) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

// AddNode adds a node. Its Requested is ignored and starts from zero.
func (c *Cluster) AddNode(n *node.NodeInfo) error {
	if n.Name == "" {
		return strongerrors.InvalidArgument(errors.New("Node without name"))
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if _, ok := c.nodes[n.Name]; ok {
		return strongerrors.AlreadyExists(errors.Errorf("Node %s already exists", n.Name))
	}

	stored := n.Clone()
	stored.Requested = resource.Requirements{}
	c.nodes[n.Name] = stored
	log.L.Debugf("Node %s added", stored)

	c.emitLocked(framework.Node, framework.Add, nil, stored.Clone())
	return nil
}

// UpdateNode replaces the labels, spec, and allocatable of a node.
// The event is a Node update with one bit for every kind of change, and is not emitted if nothing
// changed.
func (c *Cluster) UpdateNode(n *node.NodeInfo) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	old, ok := c.nodes[n.Name]
	if !ok {
		return strongerrors.NotFound(errors.Errorf("Node %s not found", n.Name))
	}

	stored := n.Clone()
	stored.Requested = old.Requested
	c.nodes[n.Name] = stored

	action := nodeUpdateAction(old, stored)
	if action == 0 {
		return nil
	}
	log.L.Debugf("Node %s updated (%s)", stored.Name, action)

	c.emitLocked(framework.Node, action, old, stored.Clone())
	return nil
}

func nodeUpdateAction(old, updated *node.NodeInfo) framework.ActionType {
	var action framework.ActionType
	if !labelsEqual(old.Labels, updated.Labels) {
		action |= framework.UpdateNodeLabel
	}
	if !taintsEqual(old.Spec.EffectiveTaints(), updated.Spec.EffectiveTaints()) {
		action |= framework.UpdateNodeTaint
	}
	if old.Allocatable != updated.Allocatable {
		action |= framework.UpdateNodeAllocatable
	}
	return action
}

func labelsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func taintsEqual(a, b []node.Taint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DeleteNode deletes a node. Pods bound to it become unbound.
func (c *Cluster) DeleteNode(name string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	old, ok := c.nodes[name]
	if !ok {
		return strongerrors.NotFound(errors.Errorf("Node %s not found", name))
	}
	delete(c.nodes, name)

	for _, p := range c.pods {
		if p.Spec.NodeName == name {
			p.Spec.NodeName = ""
			p.Scheduled = ""
		}
	}
	log.L.Debugf("Node %s deleted", name)

	c.emitLocked(framework.Node, framework.Delete, old, nil)
	return nil
}

// AddPod registers a pod. A pod with Spec.NodeName set is bound to the node immediately.
func (c *Cluster) AddPod(p *pod.PodInfo) error {
	if p.Name == "" {
		return strongerrors.InvalidArgument(errors.New("Pod without name"))
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if _, ok := c.pods[p.Name]; ok {
		return strongerrors.AlreadyExists(errors.Errorf("Pod %s already exists", p.Name))
	}

	stored := p.Clone()
	if stored.IsBound() {
		n, ok := c.nodes[stored.Spec.NodeName]
		if !ok {
			return strongerrors.NotFound(errors.Errorf("Node %s of pod %s not found", stored.Spec.NodeName, p.Name))
		}
		n.Requested = n.Requested.Add(stored.Spec.Resources)
	}
	c.pods[p.Name] = stored

	c.emitLocked(framework.Pod, framework.Add, nil, stored.Clone())
	return nil
}

// UpdatePod replaces the spec of an unbound pod.
// Returns a Conflict error if the pod has been bound.
func (c *Cluster) UpdatePod(p *pod.PodInfo) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	old, ok := c.pods[p.Name]
	if !ok {
		return strongerrors.NotFound(errors.Errorf("Pod %s not found", p.Name))
	}
	if old.IsBound() {
		return strongerrors.Conflict(errors.Errorf("Pod %s is already bound to node %s", p.Name, old.Spec.NodeName))
	}

	stored := p.Clone()
	stored.Spec.NodeName = ""
	c.pods[p.Name] = stored
	return nil
}

// DeletePod deletes a pod, releasing the resources it requested on its node.
func (c *Cluster) DeletePod(name string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	old, ok := c.pods[name]
	if !ok {
		return strongerrors.NotFound(errors.Errorf("Pod %s not found", name))
	}
	delete(c.pods, name)

	if n, ok := c.nodes[old.Spec.NodeName]; ok && old.IsBound() {
		n.Requested = n.Requested.Sub(old.Spec.Resources)
		log.L.Debugf("Pod %s deleted from node %s", name, n.Name)
	}

	c.emitLocked(framework.Pod, framework.Delete, old, nil)
	return nil
}

// Assign binds a pod to a node if the node still has room for it.
func (c *Cluster) Assign(ctx context.Context, a Assignment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	p, ok := c.pods[a.PodName]
	if !ok {
		return strongerrors.NotFound(errors.Errorf("Pod %s not found", a.PodName))
	}
	n, ok := c.nodes[a.NodeName]
	if !ok {
		return strongerrors.NotFound(errors.Errorf("Node %s not found", a.NodeName))
	}

	if p.IsBound() {
		return strongerrors.Conflict(errors.Errorf("Pod %s is already bound to node %s", p.Name, p.Spec.NodeName))
	}

	requested := n.Requested.Add(p.Spec.Resources)
	if !requested.Fits(n.Allocatable) {
		return strongerrors.Conflict(errors.Errorf("Node %s cannot accommodate pod %s (requested: %s, allocatable: %s)",
			n.Name, p.Name, requested, n.Allocatable))
	}

	n.Requested = requested
	p.Spec.NodeName = n.Name
	p.Scheduled = n.Name
	log.L.Tracef("Node %s: Pod %s bound", n.Name, p.Name)

	return nil
}

// ListNodes returns copies of all the nodes sorted by name.
func (c *Cluster) ListNodes(ctx context.Context) ([]*node.NodeInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.lock.RLock()
	defer c.lock.RUnlock()

	nodes := make([]*node.NodeInfo, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n.Clone())
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	return nodes, nil
}

// Pod returns a copy of the pod with the name.
func (c *Cluster) Pod(name string) (*pod.PodInfo, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	p, ok := c.pods[name]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// NodeMetrics returns a metrics of every node.
func (c *Cluster) NodeMetrics() map[string]NodeMetrics {
	c.lock.RLock()
	defer c.lock.RUnlock()

	metrics := make(map[string]NodeMetrics, len(c.nodes))
	for name, n := range c.nodes {
		metrics[name] = NodeMetrics{
			Allocatable: n.Allocatable,
			Requested:   n.Requested,
		}
	}
	for _, p := range c.pods {
		if m, ok := metrics[p.Spec.NodeName]; ok {
			m.PodsNum++
			metrics[p.Spec.NodeName] = m
		}
	}

	return metrics
}

// PodMetrics returns a metrics of every pod.
func (c *Cluster) PodMetrics() map[string]PodMetrics {
	c.lock.RLock()
	defer c.lock.RUnlock()

	metrics := make(map[string]PodMetrics, len(c.pods))
	for name, p := range c.pods {
		metrics[name] = PodMetrics{
			Node:     p.Spec.NodeName,
			Priority: p.Spec.Priority,
			Request:  p.Spec.Resources,
		}
	}

	return metrics
}

func (c *Cluster) emitLocked(res framework.EventResource, action framework.ActionType, oldObj, newObj interface{}) {
	if c.closed {
		return
	}

	e := Event{
		ClusterEvent: framework.ClusterEvent{Resource: res, ActionType: action},
		Old:          oldObj,
		New:          newObj,
	}
	select {
	case c.events <- e:
	default:
		log.L.Warnf("Event buffer is full; event %s dropped", e.ClusterEvent)
	}
}
