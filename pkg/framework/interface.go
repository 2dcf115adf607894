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
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/node"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
)

// Code is the outcome of running a plugin.
type Code int

// These are predefined codes used in a Status.
const (
	// Success means the plugin ran correctly and found the pod schedulable.
	// A nil *Status is also considered Success.
	Success Code = iota
	// Error is used for internal plugin errors, unexpected input, etc.
	Error
	// Unschedulable means the pod does not fit now but may after a change in the cluster.
	Unschedulable
	// UnschedulableAndUnresolvable is handled like Unschedulable and only differs for diagnostics.
	UnschedulableAndUnresolvable
	// Skip means the plugin has nothing to contribute in this cycle.
	Skip
)

var codes = []string{"Success", "Error", "Unschedulable", "UnschedulableAndUnresolvable", "Skip"}

func (c Code) String() string {
	if int(c) < 0 || int(c) >= len(codes) {
		return "Unknown"
	}
	return codes[c]
}

// Status is the result of running a plugin.
type Status struct {
	code    Code
	reasons []string
	err     error
	plugin  string
}

// NewStatus makes a Status out of the given code and reasons.
func NewStatus(code Code, reasons ...string) *Status {
	s := &Status{
		code:    code,
		reasons: reasons,
	}
	if code == Error {
		s.err = errors.New(s.Message())
	}
	return s
}

// AsStatus wraps an error in an Error Status.
func AsStatus(err error) *Status {
	if err == nil {
		return nil
	}
	return &Status{
		code:    Error,
		reasons: []string{err.Error()},
		err:     err,
	}
}

// Code returns the code of the status. A nil status has code Success.
func (s *Status) Code() Code {
	if s == nil {
		return Success
	}
	return s.code
}

// Message joins the reasons of the status.
func (s *Status) Message() string {
	if s == nil {
		return ""
	}
	return strings.Join(s.reasons, ", ")
}

// Reasons returns the reasons of the status.
func (s *Status) Reasons() []string {
	if s == nil {
		return nil
	}
	return s.reasons
}

// Plugin returns the name of the plugin that produced the status.
func (s *Status) Plugin() string {
	if s == nil {
		return ""
	}
	return s.plugin
}

// WithPlugin sets the plugin name and returns the status.
func (s *Status) WithPlugin(name string) *Status {
	if s == nil {
		return nil
	}
	s.plugin = name
	return s
}

func (s *Status) IsSuccess() bool { return s.Code() == Success }

func (s *Status) IsSkip() bool { return s.Code() == Skip }

// IsUnschedulable returns true for both Unschedulable and UnschedulableAndUnresolvable.
func (s *Status) IsUnschedulable() bool {
	code := s.Code()
	return code == Unschedulable || code == UnschedulableAndUnresolvable
}

// IsRejected returns whether the status is neither Success nor Skip.
func (s *Status) IsRejected() bool {
	return !s.IsSuccess() && !s.IsSkip()
}

// AsError returns nil if the status is Success or Skip, and an error otherwise.
func (s *Status) AsError() error {
	if !s.IsRejected() {
		return nil
	}
	if s.err != nil {
		return s.err
	}
	return errors.New(s.Message())
}

// Equal compares code, reasons and plugin of two statuses.
func (s *Status) Equal(x *Status) bool {
	if s == nil || x == nil {
		return s.IsSuccess() && x.IsSuccess()
	}
	if s.code != x.code || s.plugin != x.plugin || len(s.reasons) != len(x.reasons) {
		return false
	}
	for i := range s.reasons {
		if s.reasons[i] != x.reasons[i] {
			return false
		}
	}
	return true
}

func (s *Status) String() string {
	if s == nil {
		return Success.String()
	}
	str := s.code.String()
	if s.plugin != "" {
		str = s.plugin + ": " + str
	}
	if len(s.reasons) > 0 {
		str += ": " + s.Message()
	}
	return str
}

// Plugin is the parent type for all scheduling framework plugins.
type Plugin interface {
	Name() string
}

// PreFilterPlugin is called once per pod before per-node filtering.
type PreFilterPlugin interface {
	Plugin
	// PreFilter may restrict the candidate nodes through the returned result. A nil result or an
	// empty node name set means no restriction.
	PreFilter(ctx context.Context, state *CycleState, p *pod.PodInfo, nodes []*node.NodeInfo) (*PreFilterResult, *Status)
}

// FilterPlugin rules out nodes that cannot run the pod.
// Filter must not write to the CycleState; it is called concurrently for different nodes.
type FilterPlugin interface {
	Plugin
	Filter(ctx context.Context, state *CycleState, p *pod.PodInfo, n *node.NodeInfo) *Status
}

// PreScorePlugin is called once per pod with the nodes that passed filtering.
// Returning Skip excludes the plugin from scoring in this cycle.
type PreScorePlugin interface {
	Plugin
	PreScore(ctx context.Context, state *CycleState, p *pod.PodInfo, nodes []*node.NodeInfo) *Status
}

// ScorePlugin ranks nodes that passed filtering.
type ScorePlugin interface {
	Plugin
	// Score is called concurrently for different nodes.
	Score(ctx context.Context, state *CycleState, p *pod.PodInfo, n *node.NodeInfo) (int64, *Status)
	// ScoreExtensions returns nil if the plugin does not normalize its scores.
	ScoreExtensions() ScoreExtensions
}

// ScoreExtensions normalizes the raw scores of one plugin.
type ScoreExtensions interface {
	// NormalizeScore rewrites scores in place. Results must be in [0, MaxNodeScore].
	NormalizeScore(ctx context.Context, state *CycleState, p *pod.PodInfo, scores NodeScoreList) *Status
}

// EnqueueExtensions declares the cluster events that may make a pod rejected by the plugin
// schedulable.
type EnqueueExtensions interface {
	Plugin
	EventsToRegister() []ClusterEventWithHint
}
