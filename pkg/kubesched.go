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

package kubesched

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/containerd/containerd/log"
	"github.com/cpuguy83/strongerrors"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	utilclock "k8s.io/utils/clock"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/clock"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/cluster"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/config"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/kube"
	l "github.com/pfnet-research/k8s-scheduling-framework/pkg/log"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/metrics"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/queue"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/scheduler"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/submitter"
)

// WorkloadSubmitterName is the name of the submitter built from Config.Workload.
const WorkloadSubmitterName = "workload"

const metricsServerShutdownTimeout = 5 * time.Second

// KubeSched runs the scheduling framework against an in-memory cluster fed by submitters.
type KubeSched struct {
	conf  *config.Config
	clock utilclock.Clock

	cluster   *cluster.Cluster
	queue     *queue.SchedulingQueue
	scheduler *scheduler.Scheduler

	submitters map[string]submitter.Submitter
	submitted  bool

	registry       *prometheus.Registry
	metricsWriters []metrics.Writer
}

// Option configures a KubeSched.
type Option func(*KubeSched)

// WithClock sets the clock used by the queue and the submitters.
func WithClock(c utilclock.Clock) Option {
	return func(k *KubeSched) {
		k.clock = c
	}
}

// NewKubeSched creates a new KubeSched with the given config, building the plugins it lists from
// the registry.
func NewKubeSched(conf *config.Config, registry framework.Registry, opts ...Option) (*KubeSched, error) {
	if err := configLog(conf.LogLevel); err != nil {
		return nil, errors.Wrap(err, "Error configuring logging")
	}
	log.L.Debugf("Config: %+v", *conf)

	k := &KubeSched{
		conf:       conf,
		clock:      utilclock.RealClock{},
		cluster:    cluster.NewCluster(cluster.DefaultEventBufferSize),
		submitters: map[string]submitter.Submitter{},
		registry:   prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(k)
	}

	recorder, err := metrics.NewRecorder(k.registry)
	if err != nil {
		return nil, err
	}

	fwk, err := config.BuildPlugins(conf.Plugins, registry,
		framework.WithParallelism(conf.Parallelism),
		framework.WithPluginDurationObserver(recorder))
	if err != nil {
		return nil, errors.Wrap(err, "Error building plugins")
	}
	log.L.Infof("Plugins: %v", fwk.Names())

	if err := k.buildCluster(); err != nil {
		return nil, err
	}

	k.queue = queue.NewSchedulingQueue(
		queue.WithClock(k.clock),
		queue.WithPodInitialBackoffDuration(conf.Backoff.Initial),
		queue.WithPodMaxBackoffDuration(conf.Backoff.Max),
		queue.WithQueueingHintMap(fwk.QueueingHintMap()),
		queue.WithMetricsRecorder(recorder))

	k.scheduler = scheduler.New(k.queue, k.cluster, k.cluster, fwk,
		scheduler.WithStoreTimeout(conf.StoreTimeout),
		scheduler.WithMetricsRecorder(recorder))

	if conf.Workload != "" {
		pods, err := submitter.LoadWorkload(conf.Workload)
		if err != nil {
			return nil, err
		}
		k.AddSubmitter(WorkloadSubmitterName, submitter.NewWorkloadSubmitter(pods, submitter.DefaultBatchSize))
	}

	if k.metricsWriters, err = config.BuildMetricsLogger(conf.MetricsLogger); err != nil {
		return nil, err
	}

	return k, nil
}

// NewKubeSchedFromConfigPath creates a new KubeSched with config from confPath (excluding file
// extension) and the registry. Plugins default to defaultPlugins if the config lists none.
func NewKubeSchedFromConfigPath(confPath string, registry framework.Registry, defaultPlugins []string, opts ...Option) (*KubeSched, error) {
	conf, err := config.ReadConfig(confPath, defaultPlugins)
	if err != nil {
		return nil, errors.Wrap(err, "Error reading config")
	}

	return NewKubeSched(conf, registry, opts...)
}

// AddSubmitter adds a new submitter plugin to this KubeSched. Must be called before Run.
func (k *KubeSched) AddSubmitter(name string, subm submitter.Submitter) {
	k.submitters[name] = subm
}

// Cluster returns the cluster state store.
func (k *KubeSched) Cluster() *cluster.Cluster {
	return k.cluster
}

// Queue returns the scheduling queue.
func (k *KubeSched) Queue() *queue.SchedulingQueue {
	return k.queue
}

// Registry returns the registry of the Prometheus metrics.
func (k *KubeSched) Registry() *prometheus.Registry {
	return k.registry
}

// Run starts the scheduler, the backoff flusher, and the cluster event feed, then calls the
// submitters every SubmitInterval and writes metrics every MetricsTick.
// Returns nil once every submitter has terminated and every submitted pod is bound. Without
// submitters, blocks until ctx is done.
func (k *KubeSched) Run(ctx context.Context) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		errLock sync.Mutex
		runErr  error
	)
	fail := func(err error) {
		errLock.Lock()
		runErr = multierr.Append(runErr, err)
		errLock.Unlock()
		cancel()
	}

	if k.conf.MetricsAddr != "" {
		server := k.startMetricsServer(fail)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsServerShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.L.WithError(err).Warn("Error shutting down metrics server")
			}
		}()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		k.queue.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		k.feedEvents(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := k.scheduler.Run(ctx); err != nil {
			fail(errors.Wrap(err, "Scheduler"))
		}
	}()

	if len(k.submitters) > 0 {
		subm := submitter.NewCompositeSubmitter(k.submitters)

		wg.Add(1)
		go func() {
			defer wg.Done()
			wait.UntilWithContext(ctx, func(ctx context.Context) {
				if err := k.submit(ctx, subm); err != nil {
					fail(err)
					return
				}
				if k.toTerminate() {
					log.L.Debug("Terminate KubeSched")
					cancel()
				}
			}, k.conf.SubmitInterval)
		}()
	}

	wait.UntilWithContext(ctx, func(context.Context) {
		if err := k.writeMetrics(); err != nil {
			fail(err)
		}
	}, k.conf.MetricsTick)

	k.queue.Close()
	k.cluster.Close()
	wg.Wait()

	if err := k.writeMetrics(); err != nil {
		runErr = multierr.Append(runErr, err)
	}
	for _, w := range k.metricsWriters {
		runErr = multierr.Append(runErr, w.Close())
	}

	if runErr == nil && !k.submitted {
		return parent.Err()
	}
	return runErr
}

func configLog(logLevel string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return strongerrors.InvalidArgument(
			errors.Errorf("Log level %q not supported: %s", logLevel, err.Error()))
	}
	logrus.SetLevel(level)

	return nil
}

func (k *KubeSched) buildCluster() error {
	now := k.clock.Now()

	for _, nodeConf := range k.conf.Cluster {
		nodeV1, err := config.BuildNode(nodeConf, now)
		if err != nil {
			return err
		}

		n, err := kube.ConvertNode(nodeV1)
		if err != nil {
			return err
		}
		if err := k.cluster.AddNode(n); err != nil {
			return err
		}

		log.L.Debugf("Node %s created", n)
	}

	return nil
}

func (k *KubeSched) startMetricsServer(fail func(error)) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(k.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              k.conf.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.L.Infof("Serving metrics on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fail(errors.Wrap(err, "Metrics server"))
		}
	}()

	return server
}

// feedEvents passes cluster events to the queue until ctx is done or the cluster is closed.
func (k *KubeSched) feedEvents(ctx context.Context) {
	events := k.cluster.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log.L.Tracef("Cluster event %s", e.ClusterEvent)
			k.queue.MoveOnClusterEvent(e.ClusterEvent, e.Old, e.New)
		}
	}
}

func (k *KubeSched) submit(ctx context.Context, subm submitter.Submitter) error {
	now := clock.Now(k.clock)
	met := metrics.BuildMetrics(now, k.cluster, k.queue)

	events, err := subm.Submit(ctx, now, k.cluster, met)
	if err != nil {
		return err
	}

	for _, e := range events {
		switch e := e.(type) {
		case *submitter.SubmitEvent:
			if err := k.submitPod(now, e); err != nil {
				return err
			}
		case *submitter.DeleteEvent:
			k.deletePod(kube.PodKeyFromNames(e.PodNamespace, e.PodName))
		case *submitter.UpdateEvent:
			if err := k.updatePod(kube.PodKeyFromNames(e.PodNamespace, e.PodName), e.NewPod); err != nil {
				return err
			}
		case *submitter.TerminateSubmitterEvent:
			log.L.Debug("Submission terminated")
			k.submitted = true
		default:
			log.L.Panicf("Unknown submitter event %T", e)
		}
	}

	return nil
}

func (k *KubeSched) submitPod(now clock.Clock, e *submitter.SubmitEvent) error {
	podV1 := e.Pod.DeepCopy()
	podV1.CreationTimestamp = now.ToMetaV1()

	p, err := kube.ConvertPod(podV1)
	if err != nil {
		return err
	}
	log.L.Tracef("Submit %v", podV1)
	if l.IsDebugEnabled() {
		log.L.Debugf("Submit %s", p)
	}

	if err := k.cluster.AddPod(p); err != nil {
		if strongerrors.IsAlreadyExists(err) {
			log.L.Warnf("Pod %s submitted twice", p.Name)
			return nil
		}
		return err
	}

	if p.IsBound() {
		return nil
	}
	return k.queue.Add(p)
}

func (k *KubeSched) deletePod(key string) {
	log.L.Debugf("Delete %s", key)

	k.queue.Delete(key)
	if err := k.cluster.DeletePod(key); err != nil {
		log.L.Warnf("Error deleting pod: %s", err.Error())
	}
}

func (k *KubeSched) updatePod(key string, newPod *v1.Pod) error {
	log.L.Debugf("Update %s", key)

	p, err := kube.ConvertPod(newPod)
	if err != nil {
		return err
	}
	if p.Name != key {
		return strongerrors.InvalidArgument(errors.Errorf("Pod %s cannot be updated to %s", key, p.Name))
	}

	if err := k.cluster.UpdatePod(p); err != nil {
		if strongerrors.IsConflict(err) || strongerrors.IsNotFound(err) {
			log.L.Warnf("Error updating pod: %s", err.Error())
			return nil
		}
		return err
	}

	if err := k.queue.Update(key, p); err != nil {
		if e, ok := err.(*queue.ErrNoMatchingPod); ok {
			log.L.Warnf("Error updating pod: %s", e.Error())
			return nil
		}
		return err
	}

	return nil
}

// toTerminate returns whether every submitter has terminated and no pod waits for a node.
func (k *KubeSched) toTerminate() bool {
	if !k.submitted {
		return false
	}
	m := k.queue.Metrics()
	return m.PendingPodsNum == 0 && m.InFlightPodsNum == 0
}

func (k *KubeSched) writeMetrics() error {
	met := metrics.BuildMetrics(clock.Now(k.clock), k.cluster, k.queue)

	for _, writer := range k.metricsWriters {
		if err := writer.Write(&met); err != nil {
			return err
		}
	}

	return nil
}
