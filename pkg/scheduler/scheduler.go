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
	"time"

	"github.com/containerd/containerd/log"
	"github.com/cpuguy83/strongerrors"
	"github.com/pkg/errors"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/cluster"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/queue"
)

// DefaultStoreTimeout bounds every call to the cluster store.
const DefaultStoreTimeout = 5 * time.Second

// Results of a scheduling attempt, used in metrics.
const (
	ResultScheduled     = "scheduled"
	ResultUnschedulable = "unschedulable"
	ResultError         = "error"
)

// MetricsRecorder receives the outcome of every scheduling attempt.
type MetricsRecorder interface {
	ObserveScheduleAttempt(result string, duration time.Duration)
}

// Scheduler pops pods from a queue, finds a node for each of them with the scheduling framework,
// and assigns them through a cluster.Binder.
type Scheduler struct {
	queue     queue.PodQueue
	nodes     cluster.NodeLister
	binder    cluster.Binder
	framework *framework.Plugins

	storeTimeout time.Duration
	recorder     MetricsRecorder
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithStoreTimeout sets the timeout of node listing and assignment.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(sched *Scheduler) {
		sched.storeTimeout = timeout
	}
}

// WithMetricsRecorder sets the recorder of scheduling attempts.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(sched *Scheduler) {
		sched.recorder = recorder
	}
}

// New creates a new Scheduler.
func New(q queue.PodQueue, nodes cluster.NodeLister, binder cluster.Binder, fwk *framework.Plugins, opts ...Option) *Scheduler {
	sched := &Scheduler{
		queue:        q,
		nodes:        nodes,
		binder:       binder,
		framework:    fwk,
		storeTimeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(sched)
	}
	return sched
}

// Run schedules pods one by one until ctx is done or the queue is closed.
func (sched *Scheduler) Run(ctx context.Context) error {
	for {
		err := sched.ScheduleOne(ctx)
		if err == nil {
			continue
		}
		if err == queue.ErrQueueClosed || ctx.Err() != nil {
			log.G(ctx).Debug("Scheduler stopped")
			return nil
		}
		return err
	}
}

// ScheduleOne pops a pod from the queue and runs one scheduling cycle for it.
// Blocks until a pod is available. Returns an error only if the queue cannot be popped; failures
// of the cycle put the pod back to the queue.
func (sched *Scheduler) ScheduleOne(ctx context.Context) error {
	p, err := sched.queue.Pop(ctx)
	if err != nil {
		return err
	}

	sched.scheduleOne(ctx, p)
	return nil
}

func (sched *Scheduler) scheduleOne(ctx context.Context, p *pod.PodInfo) {
	logger := log.G(ctx).WithField("pod", p.Name)

	if p.IsBound() {
		logger.Debugf("Pod %s is already bound to node %s; skipping", p.Name, p.Spec.NodeName)
		sched.queue.Done(p.Name)
		return
	}
	if p.IsGated() {
		logger.Debugf("Pod %s is gated; skipping", p.Name)
		sched.requeue(ctx, p)
		return
	}

	logger.Tracef("Trying to schedule pod %v", p)
	logger.Debugf("Trying to schedule pod %s", p.Name)

	start := time.Now()
	result, err := sched.schedulePod(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			sched.requeue(ctx, p)
			return
		}
		sched.handleFailure(ctx, p, err, start)
		return
	}

	logger.Debugf("Selected node %s (evaluated: %d, feasible: %d)", result.SuggestedHost, result.EvaluatedNodes, result.FeasibleNodes)

	assignment := cluster.Assignment{PodName: p.Name, NodeName: result.SuggestedHost}
	if err := sched.assign(ctx, assignment); err != nil {
		if ctx.Err() != nil {
			sched.requeue(ctx, p)
			return
		}
		sched.handleFailure(ctx, p, err, start)
		return
	}

	logger.Debugf("Pod %s assigned to node %s after %d failed attempt(s)", p.Name, result.SuggestedHost, p.QueuedInfo.Attempts)
	sched.queue.Done(p.Name)
	sched.observe(ResultScheduled, start)
}

func (sched *Scheduler) assign(ctx context.Context, assignment cluster.Assignment) error {
	ctx, cancel := context.WithTimeout(ctx, sched.storeTimeout)
	defer cancel()

	if err := sched.binder.Assign(ctx, assignment); err != nil {
		return errors.Wrapf(err, "Failed to assign %s", assignment)
	}
	return nil
}

// handleFailure diagnoses the failure and puts the pod to the backoff queue.
func (sched *Scheduler) handleFailure(ctx context.Context, p *pod.PodInfo, err error, start time.Time) {
	logger := log.G(ctx).WithField("pod", p.Name)

	result := ResultUnschedulable
	var failure queue.Failure
	fitErr, isFitError := errors.Cause(err).(*FitError)
	switch {
	case isFitError:
		logger.Debugf("Pod %s does not fit in any node: %s", p.Name, fitErr)
		failure = queue.Failure{
			Plugins: fitErr.Diagnosis.UnschedulablePlugins.Clone(),
			Code:    fitErr.Code(),
			Reasons: fitErr.Reasons(),
		}

	case strongerrors.IsConflict(err):
		logger.WithError(err).Warnf("Assignment of pod %s conflicted", p.Name)
		failure = queue.Failure{Code: framework.Unschedulable, Reasons: []string{err.Error()}}

	default:
		result = ResultError
		logger.WithError(err).Errorf("Error scheduling pod %s", p.Name)
		failure = queue.Failure{Code: framework.Error, Reasons: []string{err.Error()}}
	}

	sched.observe(result, start)
	if err := sched.queue.AddUnschedulable(p, failure); err != nil {
		logger.WithError(err).Errorf("Failed to put pod %s back to the queue", p.Name)
	}
}

func (sched *Scheduler) requeue(ctx context.Context, p *pod.PodInfo) {
	if err := sched.queue.Requeue(p); err != nil {
		log.G(ctx).WithError(err).Errorf("Failed to requeue pod %s", p.Name)
	}
}

func (sched *Scheduler) observe(result string, start time.Time) {
	if sched.recorder != nil {
		sched.recorder.ObserveScheduleAttempt(result, time.Since(start))
	}
}
