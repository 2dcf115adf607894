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

package scheduler

import (
	"context"
	"sync"

	"k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/util/workqueue"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/node"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
)

// filterWithPlugins runs Filter plugins on the given nodes in parallel.
// Rejected nodes are recorded in diagnosis. Returns an aggregated error if any plugin fails with
// an Error status.
func (sched *Scheduler) filterWithPlugins(
	ctx context.Context,
	state *framework.CycleState,
	p *pod.PodInfo,
	nodes []*node.NodeInfo,
	diagnosis *Diagnosis,
) ([]*node.NodeInfo, error) {
	if !sched.framework.HasFilterPlugins() {
		return nodes, nil
	}

	fits := make([]bool, len(nodes))

	errs := errors.MessageCountMap{}
	var filterResultLock sync.Mutex

	// Run filter plugins in parallel along nodes.
	workqueue.ParallelizeUntil(ctx, sched.framework.Parallelism(), len(nodes), func(i int) {
		n := nodes[i]
		status := sched.framework.RunFilterPlugins(ctx, state, p, n)
		if status.IsSuccess() {
			fits[i] = true
			return
		}

		filterResultLock.Lock()
		defer filterResultLock.Unlock()

		if status.Code() == framework.Error {
			errs[status.Message()]++
			return
		}
		diagnosis.NodeToStatus[n.Name] = status
		diagnosis.UnschedulablePlugins.Insert(status.Plugin())
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, errors.CreateAggregateFromMessageCountMap(errs)
	}

	filtered := make([]*node.NodeInfo, 0, len(nodes))
	for i, n := range nodes {
		if fits[i] {
			filtered = append(filtered, n)
		}
	}
	return filtered, nil
}
