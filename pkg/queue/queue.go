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

package queue

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
)

// Metrics represents a metrics of a PodQueue at one time point.
type Metrics struct {
	PendingPodsNum  int `json:"pendingPodsNum" yaml:"pendingPodsNum"`
	ActivePodsNum   int `json:"activePodsNum" yaml:"activePodsNum"`
	BackoffPodsNum  int `json:"backoffPodsNum" yaml:"backoffPodsNum"`
	GatedPodsNum    int `json:"gatedPodsNum" yaml:"gatedPodsNum"`
	InFlightPodsNum int `json:"inFlightPodsNum" yaml:"inFlightPodsNum"`
}

// PodMetrics represents the failure history of a pending pod at one time point.
type PodMetrics struct {
	Attempts    int      `json:"attempts" yaml:"attempts"`
	LastCode    string   `json:"lastCode,omitempty" yaml:"lastCode,omitempty"`
	LastReasons []string `json:"lastReasons,omitempty" yaml:"lastReasons,omitempty"`
}

// Failure is the diagnosis of a failed scheduling attempt.
type Failure struct {
	// Plugins are the names of the plugins that rejected the pod. Empty unless the pod did not fit.
	Plugins sets.Set[string]
	Code    framework.Code
	Reasons []string
}

var (
	// ErrQueueClosed is returned from Pop and Add after Close.
	ErrQueueClosed = errors.New("Queue is closed")
	// ErrDifferentNames is returned from Update.
	ErrDifferentNames = errors.New("Original and new pods have different names")
)

// ErrNoMatchingPod is returned from Update.
type ErrNoMatchingPod struct {
	key string
}

func (e *ErrNoMatchingPod) Error() string {
	return fmt.Sprintf("No pod with key %q", e.key)
}

// PodQueue defines the interface of pod queues used by the scheduler.
type PodQueue interface {
	// Add adds a new pod to the active queue, or to the gated pool if a scheduling gate blocks it.
	Add(p *pod.PodInfo) error

	// Pop pops the pod with the highest priority from the active queue.
	// Blocks until a pod is available, ctx is done, or the queue is closed.
	Pop(ctx context.Context) (*pod.PodInfo, error)

	// AddUnschedulable puts a pod that failed a scheduling attempt back to the backoff queue,
	// incrementing its attempts and recording the failure.
	AddUnschedulable(p *pod.PodInfo, failure Failure) error

	// Requeue puts a popped pod back to the active queue without counting an attempt.
	Requeue(p *pod.PodInfo) error

	// Done marks the successful end of the scheduling attempt of a popped pod and clears its
	// failure history.
	Done(name string)

	// Delete deletes the pod from this PodQueue.
	// Returns true if the pod is found, or false otherwise.
	Delete(name string) bool

	// Update updates the pod to the newPod.
	// Returns ErrNoMatchingPod if an original pod is not found.
	// The original and new pods must have the same name; Otherwise ErrDifferentNames is returned.
	Update(name string, newPod *pod.PodInfo) error

	// MoveOnClusterEvent moves backed-off pods the event may make schedulable to the active queue.
	MoveOnClusterEvent(event framework.ClusterEvent, oldObj, newObj interface{})

	// Metrics returns a metrics of this PodQueue.
	Metrics() Metrics
}
