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

package submitter

import (
	"context"

	v1 "k8s.io/api/core/v1"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/clock"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/cluster"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/metrics"
)

// Submitter defines the submitter interface.
type Submitter interface {
	// Submit submits, deletes, or updates pods, given the current clock, the nodes, and the
	// latest metrics.
	// Submitters are called periodically in the order they are registered.
	// This method must *not* block.
	Submit(
		ctx context.Context,
		clock clock.Clock,
		nodeLister cluster.NodeLister,
		metrics metrics.Metrics) ([]Event, error)
}

// Event defines the interface of a submitter event.
type Event interface {
	IsSubmitterEvent() bool
}

// SubmitEvent represents an event of submitting a pod to the cluster.
type SubmitEvent struct {
	Pod *v1.Pod
}

// DeleteEvent represents an event of deleting a pending or bound pod from the cluster.
type DeleteEvent struct {
	PodName      string
	PodNamespace string
}

// UpdateEvent represents an event of updating the manifest of a pending pod.
type UpdateEvent struct {
	PodName      string
	PodNamespace string
	NewPod       *v1.Pod
}

// TerminateSubmitterEvent represents an event of terminating the submission process.
type TerminateSubmitterEvent struct {
}

func (s *SubmitEvent) IsSubmitterEvent() bool             { return true }
func (d *DeleteEvent) IsSubmitterEvent() bool             { return true }
func (u *UpdateEvent) IsSubmitterEvent() bool             { return true }
func (t *TerminateSubmitterEvent) IsSubmitterEvent() bool { return true }
