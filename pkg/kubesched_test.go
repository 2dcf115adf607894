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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/clock"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/cluster"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/config"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework/plugins"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/metrics"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/submitter"
)

// roundSubmitter returns one batch of events per call and terminates after the last one.
type roundSubmitter struct {
	lock   sync.Mutex
	rounds [][]submitter.Event
}

func (s *roundSubmitter) Submit(context.Context, clock.Clock, cluster.NodeLister, metrics.Metrics) ([]submitter.Event, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if len(s.rounds) == 0 {
		return []submitter.Event{&submitter.TerminateSubmitterEvent{}}, nil
	}
	events := s.rounds[0]
	s.rounds = s.rounds[1:]
	return events, nil
}

var _ = submitter.Submitter(&roundSubmitter{})

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	conf := config.DefaultConfig()
	conf.LogLevel = "warn"
	conf.SubmitInterval = 10 * time.Millisecond
	conf.MetricsTick = 10 * time.Millisecond
	conf.Backoff = config.BackoffConfig{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	for _, name := range plugins.DefaultPlugins() {
		conf.Plugins = append(conf.Plugins, config.PluginConfig{Name: name, Weight: 1})
	}
	conf.Cluster = []config.NodeConfig{
		testNodeConfig("node-a", "a"),
		testNodeConfig("node-b", "b"),
	}
	conf.MetricsLogger = []config.MetricsLoggerConfig{
		{Dest: filepath.Join(t.TempDir(), "metrics.log"), Formatter: metrics.JSONFormat},
	}
	return &conf
}

func testNodeConfig(name, zone string) config.NodeConfig {
	return config.NodeConfig{
		Metadata: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{"zone": zone},
		},
		Status: config.NodeStatus{
			Allocatable: map[v1.ResourceName]string{
				v1.ResourceCPU:    "4",
				v1.ResourceMemory: "8Gi",
			},
		},
	}
}

func testPod(name, zone string, cpu string) *v1.Pod {
	p := &v1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: v1.PodSpec{
			Containers: []v1.Container{
				{
					Name: "container",
					Resources: v1.ResourceRequirements{
						Requests: v1.ResourceList{v1.ResourceCPU: resource.MustParse(cpu)},
					},
				},
			},
		},
	}
	if zone != "" {
		p.Spec.NodeSelector = map[string]string{"zone": zone}
	}
	return p
}

func TestKubeSchedRun(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conf := testConfig(t)
	k, err := NewKubeSched(conf, plugins.NewInTreeRegistry())
	require.NoError(t, err)

	k.AddSubmitter("test", &roundSubmitter{
		rounds: [][]submitter.Event{
			{
				&submitter.SubmitEvent{Pod: testPod("pod-0", "b", "1")},
				&submitter.SubmitEvent{Pod: testPod("pod-1", "", "2")},
				&submitter.SubmitEvent{Pod: testPod("pod-2", "a", "1")},
			},
			{
				&submitter.DeleteEvent{PodName: "pod-2"},
			},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, k.Run(ctx))

	p, ok := k.Cluster().Pod("default/pod-0")
	require.True(t, ok)
	assert.Equal(t, "node-b", p.Spec.NodeName)

	p, ok = k.Cluster().Pod("default/pod-1")
	require.True(t, ok)
	assert.True(t, p.IsBound())

	_, ok = k.Cluster().Pod("default/pod-2")
	assert.False(t, ok)

	assert.Zero(t, k.Queue().Metrics().PendingPodsNum)

	data, err := os.ReadFile(conf.MetricsLogger[0].Dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "default/pod-0")

	families, err := k.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestKubeSchedRunUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conf := testConfig(t)
	k, err := NewKubeSched(conf, plugins.NewInTreeRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = k.Run(ctx)
	assert.Equal(t, context.DeadlineExceeded, errors.Cause(err))
}

func TestKubeSchedUnschedulablePodKeepsRunning(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conf := testConfig(t)
	k, err := NewKubeSched(conf, plugins.NewInTreeRegistry())
	require.NoError(t, err)

	k.AddSubmitter("test", &roundSubmitter{
		rounds: [][]submitter.Event{
			{&submitter.SubmitEvent{Pod: testPod("pod-0", "c", "1")}},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, k.Run(ctx))

	p, ok := k.Cluster().Pod("default/pod-0")
	require.True(t, ok)
	assert.False(t, p.IsBound())

	// The pod may be left in flight by the last cycle.
	m := k.Queue().Metrics()
	assert.Equal(t, 1, m.PendingPodsNum+m.InFlightPodsNum)
}

func TestKubeSchedUpdatesWhilePodsFail(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conf := testConfig(t)
	k, err := NewKubeSched(conf, plugins.NewInTreeRegistry())
	require.NoError(t, err)

	rounds := [][]submitter.Event{{
		&submitter.SubmitEvent{Pod: testPod("pod-0", "c", "1")},
		&submitter.SubmitEvent{Pod: testPod("pod-1", "c", "1")},
	}}
	for i := 0; i < 10; i++ {
		cpu := []string{"1", "2"}[i%2]
		rounds = append(rounds, []submitter.Event{
			&submitter.UpdateEvent{PodName: "pod-0", NewPod: testPod("pod-0", "c", cpu)},
			&submitter.UpdateEvent{PodName: "pod-1", NewPod: testPod("pod-1", "c", cpu)},
		})
	}
	k.AddSubmitter("test", &roundSubmitter{rounds: rounds})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	queried := make(chan struct{})
	go func() {
		defer close(queried)
		for ctx.Err() == nil {
			k.Queue().PodMetrics()
			k.Queue().Get("default/pod-0")
		}
	}()

	require.NoError(t, k.Run(ctx))
	<-queried

	for _, name := range []string{"default/pod-0", "default/pod-1"} {
		p, ok := k.Queue().Get(name)
		require.True(t, ok, name)
		assert.GreaterOrEqual(t, p.QueuedInfo.Attempts, 1, name)
		assert.Equal(t, "UnschedulableAndUnresolvable", p.QueuedInfo.LastCode, name)
		assert.NotEmpty(t, p.QueuedInfo.LastReasons, name)
	}

	content, err := os.ReadFile(conf.MetricsLogger[0].Dest)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"lastCode":"UnschedulableAndUnresolvable"`)
}

func TestKubeSchedUpdatePod(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conf := testConfig(t)
	k, err := NewKubeSched(conf, plugins.NewInTreeRegistry())
	require.NoError(t, err)

	k.AddSubmitter("test", &roundSubmitter{
		rounds: [][]submitter.Event{
			{&submitter.SubmitEvent{Pod: testPod("pod-0", "c", "1")}},
			{&submitter.UpdateEvent{PodName: "pod-0", NewPod: testPod("pod-0", "a", "1")}},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, k.Run(ctx))

	p, ok := k.Cluster().Pod("default/pod-0")
	require.True(t, ok)
	assert.Equal(t, "node-a", p.Spec.NodeName)
}

func TestNewKubeSchedErrors(t *testing.T) {
	conf := testConfig(t)
	conf.LogLevel = "verbose"
	_, err := NewKubeSched(conf, plugins.NewInTreeRegistry())
	assert.Error(t, err)

	conf = testConfig(t)
	conf.Plugins = []config.PluginConfig{{Name: "Unknown"}}
	_, err = NewKubeSched(conf, plugins.NewInTreeRegistry())
	assert.Error(t, err)

	conf = testConfig(t)
	conf.Cluster = append(conf.Cluster, testNodeConfig("node-a", "a"))
	_, err = NewKubeSched(conf, plugins.NewInTreeRegistry())
	assert.Error(t, err)
}
