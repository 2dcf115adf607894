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
	"fmt"
	"sort"
	"strings"

	"github.com/containerd/containerd/log"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework"
	l "github.com/pfnet-research/k8s-scheduling-framework/pkg/log"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/node"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/util"
)

// ErrReasonPreFilterResult is the reason recorded for nodes excluded by the node names a
// PreFilter plugin returned.
const ErrReasonPreFilterResult = "node(s) didn't satisfy plugin(s) restricting node names"

// ScheduleResult is the result of one scheduling cycle.
type ScheduleResult struct {
	// SuggestedHost is the name of the selected node.
	SuggestedHost string
	// EvaluatedNodes is the number of nodes the pod was filtered against.
	EvaluatedNodes int
	// FeasibleNodes is the number of nodes that passed all filters.
	FeasibleNodes int
}

// Diagnosis records why nodes were rejected in a scheduling cycle.
type Diagnosis struct {
	NodeToStatus         map[string]*framework.Status
	UnschedulablePlugins sets.Set[string]
	PreFilterMsg         string
}

func newDiagnosis() Diagnosis {
	return Diagnosis{
		NodeToStatus:         map[string]*framework.Status{},
		UnschedulablePlugins: sets.New[string](),
	}
}

// FitError describes a pod that fits in no node.
type FitError struct {
	Pod         *pod.PodInfo
	NumAllNodes int
	Diagnosis   Diagnosis
}

const noNodeAvailableMsg = "0/%d nodes are available"

// Error returns the reasons aggregated over nodes, e.g.
// "0/3 nodes are available: 1 node(s) had untolerated taint {k=v}, 2 Insufficient cpu."
func (f *FitError) Error() string {
	msg := fmt.Sprintf(noNodeAvailableMsg, f.NumAllNodes)
	if f.NumAllNodes == 0 {
		return msg + ": no nodes available to schedule pods."
	}
	if f.Diagnosis.PreFilterMsg != "" {
		return msg + ": " + f.Diagnosis.PreFilterMsg + "."
	}
	return msg + ": " + strings.Join(f.Reasons(), ", ") + "."
}

// Reasons returns every reason of the diagnosis prefixed with the number of nodes reporting it,
// sorted by reason.
func (f *FitError) Reasons() []string {
	histogram := map[string]int{}
	for _, status := range f.Diagnosis.NodeToStatus {
		for _, reason := range status.Reasons() {
			histogram[reason]++
		}
	}

	reasons := make([]string, 0, len(histogram))
	for reason := range histogram {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)

	for i, reason := range reasons {
		reasons[i] = fmt.Sprintf("%d %s", histogram[reason], reason)
	}
	return reasons
}

// Code returns Unschedulable if some node may accept the pod after a cluster change, and
// UnschedulableAndUnresolvable otherwise.
func (f *FitError) Code() framework.Code {
	if len(f.Diagnosis.NodeToStatus) == 0 {
		return framework.Unschedulable
	}
	for _, status := range f.Diagnosis.NodeToStatus {
		if status.Code() == framework.Unschedulable {
			return framework.Unschedulable
		}
	}
	return framework.UnschedulableAndUnresolvable
}

// schedulePod runs the filter, score and select phases for the given pod against a fresh snapshot
// of nodes.
// Returns *FitError if the pod fits in no node.
func (sched *Scheduler) schedulePod(ctx context.Context, p *pod.PodInfo) (ScheduleResult, error) {
	result := ScheduleResult{}

	nodes, err := sched.listNodes(ctx)
	if err != nil {
		return result, err
	}
	if len(nodes) == 0 {
		return result, &FitError{Pod: p, NumAllNodes: 0, Diagnosis: newDiagnosis()}
	}
	nodes = util.SortNodesByName(nodes)

	state := framework.NewCycleState()

	feasible, diagnosis, err := sched.findNodesThatFitPod(ctx, state, p, nodes)
	if err != nil {
		return result, err
	}

	switch len(feasible) {
	case 0:
		return result, &FitError{
			Pod:         p,
			NumAllNodes: len(nodes),
			Diagnosis:   diagnosis,
		}
	case 1: // Only one node can accommodate the pod; just return it.
		return ScheduleResult{
			SuggestedHost:  feasible[0].Name,
			EvaluatedNodes: 1 + len(diagnosis.NodeToStatus),
			FeasibleNodes:  1,
		}, nil
	}

	scores, err := sched.prioritizeNodes(ctx, state, p, feasible)
	if err != nil {
		return result, err
	}

	host, err := selectHost(scores)
	return ScheduleResult{
		SuggestedHost:  host,
		EvaluatedNodes: len(feasible) + len(diagnosis.NodeToStatus),
		FeasibleNodes:  len(feasible),
	}, err
}

func (sched *Scheduler) listNodes(ctx context.Context) ([]*node.NodeInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, sched.storeTimeout)
	defer cancel()

	nodes, err := sched.nodes.ListNodes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to list nodes")
	}
	return nodes, nil
}

// findNodesThatFitPod runs PreFilter and Filter plugins and returns the feasible nodes in the
// order of the given nodes.
func (sched *Scheduler) findNodesThatFitPod(
	ctx context.Context,
	state *framework.CycleState,
	p *pod.PodInfo,
	nodes []*node.NodeInfo,
) ([]*node.NodeInfo, Diagnosis, error) {
	diagnosis := newDiagnosis()

	preRes, status := sched.framework.RunPreFilterPlugins(ctx, state, p, nodes)
	if !status.IsSuccess() {
		if !status.IsUnschedulable() {
			return nil, diagnosis, errors.Wrapf(status.AsError(), "Running PreFilter plugin %s", status.Plugin())
		}

		for _, n := range nodes {
			diagnosis.NodeToStatus[n.Name] = status
		}
		diagnosis.UnschedulablePlugins.Insert(status.Plugin())
		diagnosis.PreFilterMsg = status.Message()
		log.G(ctx).Debugf("PreFilter plugin %s rejected pod %s: %s", status.Plugin(), p.Name, status.Message())
		return nil, diagnosis, nil
	}

	candidates := nodes
	if !preRes.AllNodes() {
		candidates = make([]*node.NodeInfo, 0, preRes.NodeNames.Len())
		for _, n := range nodes {
			if preRes.NodeNames.Has(n.Name) {
				candidates = append(candidates, n)
			} else {
				diagnosis.NodeToStatus[n.Name] = framework.NewStatus(framework.UnschedulableAndUnresolvable, ErrReasonPreFilterResult)
			}
		}
	}

	if l.IsDebugEnabled() {
		log.G(ctx).Debugf("Filtering nodes %v", util.NodeNames(candidates))
	}

	feasible, err := sched.filterWithPlugins(ctx, state, p, candidates, &diagnosis)
	if err != nil {
		return nil, diagnosis, err
	}

	if l.IsDebugEnabled() {
		log.G(ctx).Debugf("Filtered nodes %v", util.NodeNames(feasible))
	}

	return feasible, diagnosis, nil
}

// prioritizeNodes runs PreScore and Score plugins on the feasible nodes.
func (sched *Scheduler) prioritizeNodes(
	ctx context.Context,
	state *framework.CycleState,
	p *pod.PodInfo,
	nodes []*node.NodeInfo,
) ([]framework.NodePluginScores, error) {
	if status := sched.framework.RunPreScorePlugins(ctx, state, p, nodes); !status.IsSuccess() {
		return nil, errors.Wrapf(status.AsError(), "Running PreScore plugin %s", status.Plugin())
	}

	scores, status := sched.framework.RunScorePlugins(ctx, state, p, nodes)
	if !status.IsSuccess() {
		return nil, status.AsError()
	}

	if l.IsDebugEnabled() {
		for _, s := range scores {
			log.G(ctx).Debugf("Score of node %s: %d %v", s.Name, s.TotalScore, s.Scores)
		}
	}

	return scores, nil
}

// selectHost returns the name of the first node with the highest total score.
func selectHost(scores []framework.NodePluginScores) (string, error) {
	if len(scores) == 0 {
		return "", errors.New("Empty priority list")
	}

	selected := scores[0]
	for _, s := range scores[1:] {
		if s.TotalScore > selected.TotalScore {
			selected = s
		}
	}
	return selected.Name, nil
}
