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
	"sort"
	"sync"
	"time"

	"github.com/containerd/containerd/log"
	"github.com/cpuguy83/strongerrors"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
)

const (
	// DefaultPodInitialBackoffDuration is the default value for the initial backoff duration
	// for unschedulable pods.
	DefaultPodInitialBackoffDuration = 1 * time.Second
	// DefaultPodMaxBackoffDuration is the default value for the max backoff duration
	// for unschedulable pods.
	DefaultPodMaxBackoffDuration = 10 * time.Second
)

// Names of the pools of a SchedulingQueue, used in metrics.
const (
	ActiveQ  = "active"
	BackoffQ = "backoff"
	Gated    = "gated"
)

// Names of the events moving pods between the pools, used in metrics.
const (
	EventPodAdd                 = "PodAdd"
	EventPodUpdate              = "PodUpdate"
	EventScheduleAttemptFailure = "ScheduleAttemptFailure"
	EventBackoffComplete        = "BackoffComplete"
	EventRequeue                = "Requeue"
)

// MetricsRecorder receives the movements of pods between the pools of a SchedulingQueue.
type MetricsRecorder interface {
	// ObserveQueueIncoming records that a pod was added to the queue pool by the event.
	ObserveQueueIncoming(queue, event string)
	// SetPendingPods records the number of pods in the queue pool.
	SetPendingPods(queue string, n int)
}

type noopRecorder struct{}

func (noopRecorder) ObserveQueueIncoming(string, string) {}
func (noopRecorder) SetPendingPods(string, int)          {}

// SchedulingQueue holds the pods waiting to be scheduled.
//
// Pods are in exactly one of the active queue (a heap ordered by priority), the backoff queue (a
// heap ordered by the end of the backoff), the gated pool, or in flight between Pop and one of
// AddUnschedulable, Requeue, or Done.
type SchedulingQueue struct {
	clock          clock.Clock
	initialBackoff time.Duration
	maxBackoff     time.Duration
	hintMap        framework.QueueingHintMap
	recorder       MetricsRecorder

	lock     sync.Mutex
	activeQ  *podHeap
	backoffQ *podHeap
	gated    map[string]*pod.PodInfo
	inFlight map[string]*inFlightPod
	closed   bool

	// notify is closed and replaced whenever a pod is pushed to the active queue.
	notify chan struct{}
	// rearm wakes Run to recompute the backoff timer.
	rearm chan struct{}
	done  chan struct{}
}

type inFlightPod struct {
	pod *pod.PodInfo
	// events received while the pod was being scheduled.
	events []clusterEvent
}

type clusterEvent struct {
	event          framework.ClusterEvent
	oldObj, newObj interface{}
}

var _ = PodQueue(&SchedulingQueue{})

// Option configures a SchedulingQueue.
type Option func(*SchedulingQueue)

// WithClock sets clock for SchedulingQueue, the default clock is clock.RealClock.
func WithClock(c clock.Clock) Option {
	return func(q *SchedulingQueue) {
		q.clock = c
	}
}

// WithPodInitialBackoffDuration sets pod initial backoff duration for SchedulingQueue.
func WithPodInitialBackoffDuration(duration time.Duration) Option {
	return func(q *SchedulingQueue) {
		q.initialBackoff = duration
	}
}

// WithPodMaxBackoffDuration sets pod max backoff duration for SchedulingQueue.
func WithPodMaxBackoffDuration(duration time.Duration) Option {
	return func(q *SchedulingQueue) {
		q.maxBackoff = duration
	}
}

// WithQueueingHintMap sets the hint functions consulted on cluster events.
func WithQueueingHintMap(m framework.QueueingHintMap) Option {
	return func(q *SchedulingQueue) {
		q.hintMap = m
	}
}

// WithMetricsRecorder sets the recorder of pod movements.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(q *SchedulingQueue) {
		q.recorder = recorder
	}
}

// NewSchedulingQueue creates a new, empty SchedulingQueue.
func NewSchedulingQueue(opts ...Option) *SchedulingQueue {
	q := &SchedulingQueue{
		clock:          clock.RealClock{},
		initialBackoff: DefaultPodInitialBackoffDuration,
		maxBackoff:     DefaultPodMaxBackoffDuration,
		hintMap:        framework.QueueingHintMap{},
		recorder:       noopRecorder{},
		activeQ:        newPodHeap(activeLess),
		backoffQ:       newPodHeap(backoffLess),
		gated:          map[string]*pod.PodInfo{},
		inFlight:       map[string]*inFlightPod{},
		notify:         make(chan struct{}),
		rearm:          make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.maxBackoff < q.initialBackoff {
		q.maxBackoff = q.initialBackoff
	}
	return q
}

// Add adds a new pod. Gated pods are parked in the gated pool, others go to the active queue.
// Returns an AlreadyExists error if a pod with the same name is already in this queue.
func (q *SchedulingQueue) Add(p *pod.PodInfo) error {
	if p.Name == "" {
		return strongerrors.InvalidArgument(errors.New("Pod without name"))
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.existsLocked(p.Name) {
		return strongerrors.AlreadyExists(errors.Errorf("Pod %s already queued", p.Name))
	}

	now := q.clock.Now()
	p.QueuedInfo.Timestamp = now
	if p.QueuedInfo.InitialTimestamp.IsZero() {
		p.QueuedInfo.InitialTimestamp = now
	}

	if p.IsGated() {
		q.gated[p.Name] = p
		log.L.Debugf("Pod %s is gated by %v", p.Name, p.Spec.SchedulingGates)
		q.recordLocked(Gated, EventPodAdd)
		return nil
	}

	q.pushActiveLocked(p, EventPodAdd)
	return nil
}

// Pop pops the pod with the highest priority from the active queue and marks it in flight.
// Blocks until a pod is available. Returns ctx.Err() if ctx is done first, or ErrQueueClosed if
// the queue is closed. A queued pod is returned even if ctx is already done.
func (q *SchedulingQueue) Pop(ctx context.Context) (*pod.PodInfo, error) {
	for {
		q.lock.Lock()
		if q.closed {
			q.lock.Unlock()
			return nil, ErrQueueClosed
		}
		if itm := q.activeQ.pop(); itm != nil {
			q.inFlight[itm.pod.Name] = &inFlightPod{pod: itm.pod}
			q.recorder.SetPendingPods(ActiveQ, q.activeQ.len())
			q.lock.Unlock()
			return itm.pod, nil
		}
		notify := q.notify
		q.lock.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notify:
		}
	}
}

// AddUnschedulable increments the attempts of a popped pod, records the failure, and puts the pod
// to the backoff queue. If an event received while the pod was in flight may make it schedulable,
// the pod goes to the active queue instead. A pod deleted while in flight is dropped.
func (q *SchedulingQueue) AddUnschedulable(p *pod.PodInfo, failure Failure) error {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	p, events, ok := q.takeInFlightLocked(p)
	if !ok {
		log.L.Debugf("Pod %s was deleted while being scheduled", p.Name)
		return nil
	}

	now := q.clock.Now()
	p.QueuedInfo.Attempts++
	p.QueuedInfo.Timestamp = now
	p.QueuedInfo.UnschedulablePlugins = failure.Plugins
	p.QueuedInfo.LastCode = failure.Code.String()
	p.QueuedInfo.LastReasons = failure.Reasons

	for _, e := range events {
		if q.isPodWorthRequeuing(p, e.event, e.oldObj, e.newObj) == framework.Queue {
			log.L.Debugf("Pod %s is moved to the active queue by event %s received during its scheduling", p.Name, e.event)
			q.pushActiveLocked(p, e.event.String())
			return nil
		}
	}

	if p.IsGated() {
		q.gated[p.Name] = p
		q.recordLocked(Gated, EventScheduleAttemptFailure)
		return nil
	}

	expire := now.Add(q.backoffDuration(p.QueuedInfo.Attempts))
	q.backoffQ.push(&item{pod: p, expire: expire})
	q.recordLocked(BackoffQ, EventScheduleAttemptFailure)
	q.rearmLocked()

	log.L.Debugf("Pod %s backs off until %s (attempts: %d)", p.Name, expire.Format(time.RFC3339Nano), p.QueuedInfo.Attempts)
	return nil
}

// Requeue puts a popped pod back to the active queue without touching its attempts.
// Used for attempts abandoned before a verdict, e.g. on cancellation.
func (q *SchedulingQueue) Requeue(p *pod.PodInfo) error {
	q.lock.Lock()
	defer q.lock.Unlock()

	p, _, ok := q.takeInFlightLocked(p)
	if !ok {
		return nil
	}

	if p.IsGated() {
		q.gated[p.Name] = p
		q.recordLocked(Gated, EventRequeue)
		return nil
	}
	q.pushActiveLocked(p, EventRequeue)
	return nil
}

// Done forgets a popped pod whose attempt succeeded, clearing its failure history.
func (q *SchedulingQueue) Done(name string) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if f, ok := q.inFlight[name]; ok {
		f.pod.QueuedInfo.Reset()
		delete(q.inFlight, name)
	}
}

// Delete deletes the pod from every pool. Returns whether the pod was found.
func (q *SchedulingQueue) Delete(name string) bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	if _, ok := q.activeQ.remove(name); ok {
		q.recorder.SetPendingPods(ActiveQ, q.activeQ.len())
		return true
	}
	if _, ok := q.backoffQ.remove(name); ok {
		q.recorder.SetPendingPods(BackoffQ, q.backoffQ.len())
		q.rearmLocked()
		return true
	}
	if _, ok := q.gated[name]; ok {
		delete(q.gated, name)
		q.recorder.SetPendingPods(Gated, len(q.gated))
		return true
	}
	if _, ok := q.inFlight[name]; ok {
		delete(q.inFlight, name)
		return true
	}
	return false
}

// Update replaces the spec of a queued pod, keeping its queueing bookkeeping.
// A gated pod whose gates are cleared moves to the active queue.
func (q *SchedulingQueue) Update(name string, newPod *pod.PodInfo) error {
	if name != newPod.Name {
		return ErrDifferentNames
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	if itm, ok := q.activeQ.get(name); ok {
		newPod.QueuedInfo = itm.pod.QueuedInfo
		q.activeQ.push(&item{pod: newPod})
		return nil
	}

	if itm, ok := q.backoffQ.get(name); ok {
		newPod.QueuedInfo = itm.pod.QueuedInfo
		if newPod.IsGated() {
			q.backoffQ.remove(name)
			q.gated[name] = newPod
			q.recordLocked(Gated, EventPodUpdate)
			q.rearmLocked()
			return nil
		}
		q.backoffQ.push(&item{pod: newPod, expire: itm.expire})
		return nil
	}

	if old, ok := q.gated[name]; ok {
		newPod.QueuedInfo = old.QueuedInfo
		if newPod.IsGated() {
			q.gated[name] = newPod
			return nil
		}
		delete(q.gated, name)
		q.recorder.SetPendingPods(Gated, len(q.gated))
		log.L.Debugf("Scheduling gates of pod %s are cleared", name)
		q.pushActiveLocked(newPod, EventPodUpdate)
		return nil
	}

	if f, ok := q.inFlight[name]; ok {
		newPod.QueuedInfo = f.pod.QueuedInfo
		f.pod = newPod
		return nil
	}

	return &ErrNoMatchingPod{key: name}
}

// MoveOnClusterEvent moves the backed-off pods that the event may make schedulable to the active
// queue, bypassing the rest of their backoff. The event is also recorded for the pods in flight.
func (q *SchedulingQueue) MoveOnClusterEvent(event framework.ClusterEvent, oldObj, newObj interface{}) {
	q.lock.Lock()
	defer q.lock.Unlock()

	for _, f := range q.inFlight {
		f.events = append(f.events, clusterEvent{event: event, oldObj: oldObj, newObj: newObj})
	}

	moved := 0
	for _, p := range q.backoffQ.list() {
		if q.isPodWorthRequeuing(p, event, oldObj, newObj) != framework.Queue {
			continue
		}
		q.backoffQ.remove(p.Name)
		q.pushActiveLocked(p, event.String())
		moved++
	}

	if moved > 0 {
		log.L.Debugf("Event %s moved %d pod(s) to the active queue", event, moved)
		q.recorder.SetPendingPods(BackoffQ, q.backoffQ.len())
		q.rearmLocked()
	}
}

// isPodWorthRequeuing consults the hint functions registered for the event.
// If some plugins rejected the pod, only their hint functions are consulted.
// A hint function returning an error is treated as Queue.
func (q *SchedulingQueue) isPodWorthRequeuing(p *pod.PodInfo, event framework.ClusterEvent, oldObj, newObj interface{}) framework.QueueingHint {
	if event.IsWildCard() {
		return framework.Queue
	}

	rejectors := p.QueuedInfo.UnschedulablePlugins
	for registered, hintFns := range q.hintMap {
		if !registered.Match(event) {
			continue
		}

		for _, hintFn := range hintFns {
			if rejectors.Len() > 0 && !rejectors.Has(hintFn.PluginName) {
				continue
			}

			hint, err := hintFn.QueueingHintFn(p, oldObj, newObj)
			if err != nil {
				log.L.WithError(err).Warnf("QueueingHintFn of plugin %s returned an error for pod %s on event %s", hintFn.PluginName, p.Name, event)
				hint = framework.Queue
			}
			if hint == framework.Queue {
				log.L.Tracef("Plugin %s queues pod %s on event %s", hintFn.PluginName, p.Name, event)
				return framework.Queue
			}
		}
	}

	return framework.QueueSkip
}

// FlushBackoffQCompleted moves all the pods whose backoff has expired to the active queue.
func (q *SchedulingQueue) FlushBackoffQCompleted() {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.flushBackoffQCompletedLocked()
}

func (q *SchedulingQueue) flushBackoffQCompletedLocked() {
	now := q.clock.Now()
	for {
		itm := q.backoffQ.peek()
		if itm == nil || itm.expire.After(now) {
			break
		}
		q.backoffQ.pop()
		q.pushActiveLocked(itm.pod, EventBackoffComplete)
	}
	q.recorder.SetPendingPods(BackoffQ, q.backoffQ.len())
}

// Run flushes the backoff queue whenever the earliest backoff expires, until ctx is done or the
// queue is closed.
func (q *SchedulingQueue) Run(ctx context.Context) {
	for {
		q.lock.Lock()
		q.flushBackoffQCompletedLocked()
		var timerC <-chan time.Time
		var timer clock.Timer
		if itm := q.backoffQ.peek(); itm != nil {
			timer = q.clock.NewTimer(itm.expire.Sub(q.clock.Now()))
			timerC = timer.C()
		}
		q.lock.Unlock()

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-q.done:
			stopTimer(timer)
			return
		case <-q.rearm:
			stopTimer(timer)
		case <-timerC:
		}
	}
}

func stopTimer(timer clock.Timer) {
	if timer != nil {
		timer.Stop()
	}
}

// Close closes the queue. Blocked Pop calls return ErrQueueClosed and Run returns.
func (q *SchedulingQueue) Close() {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.wakeLocked()
	close(q.done)
}

// Get returns a copy of the pending or in-flight pod with the name.
func (q *SchedulingQueue) Get(name string) (*pod.PodInfo, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if itm, ok := q.activeQ.get(name); ok {
		return itm.pod.Clone(), true
	}
	if itm, ok := q.backoffQ.get(name); ok {
		return itm.pod.Clone(), true
	}
	if p, ok := q.gated[name]; ok {
		return p.Clone(), true
	}
	if f, ok := q.inFlight[name]; ok {
		return f.pod.Clone(), true
	}
	return nil, false
}

// PendingPods returns copies of all the pods in the active queue, the backoff queue, and the
// gated pool, sorted by name.
func (q *SchedulingQueue) PendingPods() []*pod.PodInfo {
	q.lock.Lock()
	defer q.lock.Unlock()

	pods := make([]*pod.PodInfo, 0, q.activeQ.len()+q.backoffQ.len()+len(q.gated))
	for _, p := range q.activeQ.list() {
		pods = append(pods, p.Clone())
	}
	for _, p := range q.backoffQ.list() {
		pods = append(pods, p.Clone())
	}
	for _, p := range q.gated {
		pods = append(pods, p.Clone())
	}

	sort.Slice(pods, func(i, j int) bool { return pods[i].Name < pods[j].Name })
	return pods
}

// PodMetrics returns the failure history of every pending pod.
func (q *SchedulingQueue) PodMetrics() map[string]PodMetrics {
	pods := q.PendingPods()

	metrics := make(map[string]PodMetrics, len(pods))
	for _, p := range pods {
		metrics[p.Name] = PodMetrics{
			Attempts:    p.QueuedInfo.Attempts,
			LastCode:    p.QueuedInfo.LastCode,
			LastReasons: p.QueuedInfo.LastReasons,
		}
	}
	return metrics
}

// Metrics returns a metrics of this SchedulingQueue.
func (q *SchedulingQueue) Metrics() Metrics {
	q.lock.Lock()
	defer q.lock.Unlock()

	return Metrics{
		PendingPodsNum:  q.activeQ.len() + q.backoffQ.len() + len(q.gated),
		ActivePodsNum:   q.activeQ.len(),
		BackoffPodsNum:  q.backoffQ.len(),
		GatedPodsNum:    len(q.gated),
		InFlightPodsNum: len(q.inFlight),
	}
}

// backoffDuration returns min(initialBackoff * 2^(attempts-1), maxBackoff).
func (q *SchedulingQueue) backoffDuration(attempts int) time.Duration {
	duration := q.initialBackoff
	for i := 1; i < attempts; i++ {
		if duration > q.maxBackoff-duration {
			return q.maxBackoff
		}
		duration += duration
	}
	if duration > q.maxBackoff {
		return q.maxBackoff
	}
	return duration
}

func (q *SchedulingQueue) existsLocked(name string) bool {
	if _, ok := q.activeQ.get(name); ok {
		return true
	}
	if _, ok := q.backoffQ.get(name); ok {
		return true
	}
	if _, ok := q.gated[name]; ok {
		return true
	}
	_, ok := q.inFlight[name]
	return ok
}

// takeInFlightLocked removes the pod from the in-flight pods and returns the latest version of it
// with the bookkeeping of p, and the events received during its scheduling.
func (q *SchedulingQueue) takeInFlightLocked(p *pod.PodInfo) (*pod.PodInfo, []clusterEvent, bool) {
	f, ok := q.inFlight[p.Name]
	if !ok {
		return p, nil, false
	}
	delete(q.inFlight, p.Name)

	if f.pod != p {
		f.pod.QueuedInfo = p.QueuedInfo
	}
	return f.pod, f.events, true
}

func (q *SchedulingQueue) pushActiveLocked(p *pod.PodInfo, event string) {
	p.QueuedInfo.Timestamp = q.clock.Now()
	q.activeQ.push(&item{pod: p})
	q.recordLocked(ActiveQ, event)
	q.wakeLocked()
}

func (q *SchedulingQueue) wakeLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}

func (q *SchedulingQueue) recordLocked(queue, event string) {
	q.recorder.ObserveQueueIncoming(queue, event)
	switch queue {
	case ActiveQ:
		q.recorder.SetPendingPods(ActiveQ, q.activeQ.len())
	case BackoffQ:
		q.recorder.SetPendingPods(BackoffQ, q.backoffQ.len())
	case Gated:
		q.recorder.SetPendingPods(Gated, len(q.gated))
	}
}

func (q *SchedulingQueue) rearmLocked() {
	select {
	case q.rearm <- struct{}{}:
	default:
	}
}
