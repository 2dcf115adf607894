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
	"sync"
	"time"

	"github.com/containerd/containerd/log"
	"github.com/cpuguy83/strongerrors"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/client-go/util/workqueue"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/node"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
)

// Extension point names used in logs and metrics.
const (
	PreFilterExtensionPoint      = "PreFilter"
	FilterExtensionPoint         = "Filter"
	PreScoreExtensionPoint       = "PreScore"
	ScoreExtensionPoint          = "Score"
	NormalizeScoreExtensionPoint = "NormalizeScore"
)

// DefaultParallelism is the number of workers used when scoring nodes.
const DefaultParallelism = 16

// PluginDurationObserver receives the execution time of each plugin call.
type PluginDurationObserver interface {
	ObservePluginDuration(plugin, extensionPoint string, code Code, duration time.Duration)
}

// Plugins holds the registered plugins, one list per extension point, in registration order.
type Plugins struct {
	names sets.Set[string]

	preFilterPlugins  []PreFilterPlugin
	filterPlugins     []FilterPlugin
	preScorePlugins   []PreScorePlugin
	scorePlugins      []ScorePlugin
	scoreWeights      map[string]int64
	enqueueExtensions []EnqueueExtensions

	parallelism int
	observer    PluginDurationObserver
}

// Option configures Plugins.
type Option func(*Plugins)

// WithParallelism sets the number of workers used when scoring nodes.
func WithParallelism(parallelism int) Option {
	return func(p *Plugins) {
		if parallelism > 0 {
			p.parallelism = parallelism
		}
	}
}

// WithPluginDurationObserver sets the receiver of plugin execution times.
func WithPluginDurationObserver(observer PluginDurationObserver) Option {
	return func(p *Plugins) {
		p.observer = observer
	}
}

// NewPlugins creates an empty plugin set.
func NewPlugins(opts ...Option) *Plugins {
	p := &Plugins{
		names:        sets.New[string](),
		scoreWeights: map[string]int64{},
		parallelism:  DefaultParallelism,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Add registers the plugin into every extension point it implements.
// weight is applied to the plugin's normalized scores and defaults to 1 when not positive.
// Returns an AlreadyExists error for a duplicate name, and an InvalidArgument error if the plugin
// implements no extension point.
func (f *Plugins) Add(pl Plugin, weight int64) error {
	name := pl.Name()
	if f.names.Has(name) {
		return strongerrors.AlreadyExists(errors.Errorf("plugin %q already registered", name))
	}

	registered := false
	if p, ok := pl.(PreFilterPlugin); ok {
		f.preFilterPlugins = append(f.preFilterPlugins, p)
		registered = true
	}
	if p, ok := pl.(FilterPlugin); ok {
		f.filterPlugins = append(f.filterPlugins, p)
		registered = true
	}
	if p, ok := pl.(PreScorePlugin); ok {
		f.preScorePlugins = append(f.preScorePlugins, p)
		registered = true
	}
	if p, ok := pl.(ScorePlugin); ok {
		if weight <= 0 {
			weight = 1
		}
		f.scorePlugins = append(f.scorePlugins, p)
		f.scoreWeights[name] = weight
		registered = true
	}
	if p, ok := pl.(EnqueueExtensions); ok {
		f.enqueueExtensions = append(f.enqueueExtensions, p)
		registered = true
	}

	if !registered {
		return strongerrors.InvalidArgument(errors.Errorf("plugin %q implements no extension point", name))
	}

	f.names.Insert(name)
	return nil
}

// Names returns the sorted names of the registered plugins.
func (f *Plugins) Names() []string {
	return sets.List(f.names)
}

// Parallelism returns the number of workers used per extension point.
func (f *Plugins) Parallelism() int {
	return f.parallelism
}

// HasFilterPlugins returns whether any Filter plugin is registered.
func (f *Plugins) HasFilterPlugins() bool {
	return len(f.filterPlugins) > 0
}

// QueueingHintMap collects the events registered by every EnqueueExtensions plugin.
func (f *Plugins) QueueingHintMap() QueueingHintMap {
	m := QueueingHintMap{}
	for _, ext := range f.enqueueExtensions {
		for _, e := range ext.EventsToRegister() {
			fn := e.QueueingHintFn
			if fn == nil {
				fn = queueImmediately
			}
			m[e.Event] = append(m[e.Event], &QueueingHintFunction{
				PluginName:     ext.Name(),
				QueueingHintFn: fn,
			})
		}
	}
	return m
}

func queueImmediately(*pod.PodInfo, interface{}, interface{}) (QueueingHint, error) {
	return Queue, nil
}

// RunPreFilterPlugins runs PreFilter plugins in order and intersects their node restrictions.
// The first rejecting status aborts and is returned. Plugins returning Skip are recorded in
// state.SkipFilterPlugins.
func (f *Plugins) RunPreFilterPlugins(ctx context.Context, state *CycleState, p *pod.PodInfo, nodes []*node.NodeInfo) (*PreFilterResult, *Status) {
	var result *PreFilterResult

	for _, pl := range f.preFilterPlugins {
		start := time.Now()
		r, status := pl.PreFilter(ctx, state, p, nodes)
		f.observe(pl.Name(), PreFilterExtensionPoint, status, start)

		if status.IsSkip() {
			state.SkipFilterPlugins.Insert(pl.Name())
			continue
		}
		if !status.IsSuccess() {
			return nil, status.WithPlugin(pl.Name())
		}

		if r == nil || r.NodeNames.Len() == 0 {
			continue
		}
		result = result.Merge(r)
	}

	return result, nil
}

// RunFilterPlugins runs Filter plugins for one node and returns the first rejecting status.
func (f *Plugins) RunFilterPlugins(ctx context.Context, state *CycleState, p *pod.PodInfo, n *node.NodeInfo) *Status {
	for _, pl := range f.filterPlugins {
		if state.SkipFilterPlugins.Has(pl.Name()) {
			continue
		}

		start := time.Now()
		status := pl.Filter(ctx, state, p, n)
		f.observe(pl.Name(), FilterExtensionPoint, status, start)

		if status.IsRejected() {
			return status.WithPlugin(pl.Name())
		}
	}
	return nil
}

// RunPreScorePlugins runs PreScore plugins in order. Plugins returning Skip are recorded in
// state.SkipScorePlugins. The first rejecting status aborts and is returned.
func (f *Plugins) RunPreScorePlugins(ctx context.Context, state *CycleState, p *pod.PodInfo, nodes []*node.NodeInfo) *Status {
	for _, pl := range f.preScorePlugins {
		start := time.Now()
		status := pl.PreScore(ctx, state, p, nodes)
		f.observe(pl.Name(), PreScoreExtensionPoint, status, start)

		if status.IsSkip() {
			state.SkipScorePlugins.Insert(pl.Name())
			continue
		}
		if !status.IsSuccess() {
			return status.WithPlugin(pl.Name())
		}
	}
	return nil
}

// RunScorePlugins scores every node with every Score plugin not skipped in this cycle, normalizes
// each plugin's scores, applies weights and sums them up.
// A plugin error zeroes that plugin's contribution and does not abort. The returned status is
// non-nil only if ctx is done.
func (f *Plugins) RunScorePlugins(ctx context.Context, state *CycleState, p *pod.PodInfo, nodes []*node.NodeInfo) ([]NodePluginScores, *Status) {
	plugins := make([]ScorePlugin, 0, len(f.scorePlugins))
	for _, pl := range f.scorePlugins {
		if !state.SkipScorePlugins.Has(pl.Name()) {
			plugins = append(plugins, pl)
		}
	}

	scores := make([]NodeScoreList, len(plugins))
	for i := range plugins {
		scores[i] = make(NodeScoreList, len(nodes))
	}

	// Run Score plugins in parallel along nodes.
	workqueue.ParallelizeUntil(ctx, f.parallelism, len(nodes), func(nodeIdx int) {
		n := nodes[nodeIdx]
		for plIdx, pl := range plugins {
			start := time.Now()
			s, status := pl.Score(ctx, state, p, n)
			f.observe(pl.Name(), ScoreExtensionPoint, status, start)

			if !status.IsSuccess() {
				log.G(ctx).Warnf("Score plugin %s failed on node %s for pod %s: %s", pl.Name(), n.Name, p.Name, status.Message())
				s = 0
			}
			scores[plIdx][nodeIdx] = NodeScore{Name: n.Name, Score: s}
		}
	})
	if err := ctx.Err(); err != nil {
		return nil, AsStatus(err)
	}

	// Run normalization in parallel along plugins.
	wg := sync.WaitGroup{}
	for plIdx := range plugins {
		ext := plugins[plIdx].ScoreExtensions()
		if ext == nil {
			continue
		}

		wg.Add(1)
		go func(plIdx int, ext ScoreExtensions) {
			defer wg.Done()

			name := plugins[plIdx].Name()
			start := time.Now()
			status := ext.NormalizeScore(ctx, state, p, scores[plIdx])
			f.observe(name, NormalizeScoreExtensionPoint, status, start)

			if !status.IsSuccess() {
				log.G(ctx).Warnf("NormalizeScore of plugin %s failed for pod %s: %s", name, p.Name, status.Message())
				for i := range scores[plIdx] {
					scores[plIdx][i].Score = 0
				}
			}
		}(plIdx, ext)
	}
	wg.Wait()

	result := make([]NodePluginScores, len(nodes))
	for nodeIdx, n := range nodes {
		result[nodeIdx] = NodePluginScores{
			Name:   n.Name,
			Scores: make([]PluginScore, 0, len(plugins)),
		}

		for plIdx, pl := range plugins {
			s := scores[plIdx][nodeIdx].Score
			if s < 0 || s > MaxNodeScore {
				log.G(ctx).Warnf("Score plugin %s returned %d for node %s, out of [0, %d]", pl.Name(), s, n.Name, MaxNodeScore)
				s = 0
			}

			weighted := s * f.scoreWeights[pl.Name()]
			result[nodeIdx].Scores = append(result[nodeIdx].Scores, PluginScore{Name: pl.Name(), Score: weighted})
			result[nodeIdx].TotalScore += weighted
		}
	}

	return result, nil
}

func (f *Plugins) observe(plugin, extensionPoint string, status *Status, start time.Time) {
	if f.observer == nil {
		return
	}
	f.observer.ObservePluginDuration(plugin, extensionPoint, status.Code(), time.Since(start))
}
