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

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/cpuguy83/strongerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework/plugins"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework/plugins/nodeaffinity"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework/plugins/noderesources"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/metrics"
)

const testConfig = `
logLevel: debug
backoff:
  initial: 2s
  max: 20s
plugins:
- name: NodeAffinity
  weight: 2
- name: NodeResourcesFit
cluster:
- metadata:
    name: node-0
    labels:
      zone: a
  spec:
    taints:
    - key: node.kubernetes.io/disk-pressure
      effect: PreferNoSchedule
  status:
    allocatable:
      cpu: "4"
      memory: 8Gi
metricsLogger:
- dest: stdout
  formatter: table
storeTimeout: 3s
`

// writeConfig moves to a temporary directory holding the config and returns its name without
// extension.
func writeConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	return "config"
}

func TestReadConfig(t *testing.T) {
	path := writeConfig(t, testConfig)

	conf, err := ReadConfig(path, plugins.DefaultPlugins())
	require.NoError(t, err)

	assert.Equal(t, "debug", conf.LogLevel)
	assert.Equal(t, BackoffConfig{Initial: 2 * time.Second, Max: 20 * time.Second}, conf.Backoff)
	assert.Equal(t, []PluginConfig{
		{Name: nodeaffinity.Name, Weight: 2},
		{Name: noderesources.Name, Weight: 1},
	}, conf.Plugins)
	assert.Equal(t, 3*time.Second, conf.StoreTimeout)
	assert.Equal(t, []MetricsLoggerConfig{{Dest: StdoutDest, Formatter: metrics.TableFormat}}, conf.MetricsLogger)

	// Defaults
	assert.Equal(t, DefaultConfig().Parallelism, conf.Parallelism)
	assert.Equal(t, time.Second, conf.SubmitInterval)
	assert.Equal(t, 10*time.Second, conf.MetricsTick)

	require.Len(t, conf.Cluster, 1)
	node := conf.Cluster[0]
	assert.Equal(t, "node-0", node.Metadata.Name)
	assert.Equal(t, map[string]string{"zone": "a"}, node.Metadata.Labels)
	assert.Equal(t, []v1.Taint{{Key: "node.kubernetes.io/disk-pressure", Effect: v1.TaintEffectPreferNoSchedule}}, node.Spec.Taints)
	assert.Equal(t, "8Gi", node.Status.Allocatable[v1.ResourceMemory])
}

func TestReadConfigDefaultPlugins(t *testing.T) {
	path := writeConfig(t, "logLevel: info\n")

	conf, err := ReadConfig(path, plugins.DefaultPlugins())
	require.NoError(t, err)

	names := make([]string, 0, len(conf.Plugins))
	for _, p := range conf.Plugins {
		names = append(names, p.Name)
		assert.Equal(t, int64(1), p.Weight)
	}
	assert.Equal(t, plugins.DefaultPlugins(), names)
}

func TestReadConfigErrors(t *testing.T) {
	_, err := ReadConfig("missing-config", nil)
	assert.Error(t, err)

	path := writeConfig(t, "backoff:\n  initial: 10s\n  max: 1s\n")
	_, err = ReadConfig(path, nil)
	assert.True(t, strongerrors.IsInvalidArgument(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"parallelism", func(c *Config) { c.Parallelism = 0 }},
		{"backoff", func(c *Config) { c.Backoff.Initial = 0 }},
		{"store timeout", func(c *Config) { c.StoreTimeout = 0 }},
		{"negative weight", func(c *Config) { c.Plugins = []PluginConfig{{Name: "a", Weight: -1}} }},
		{"duplicate plugin", func(c *Config) { c.Plugins = []PluginConfig{{Name: "a"}, {Name: "a"}} }},
		{"empty dest", func(c *Config) { c.MetricsLogger = []MetricsLoggerConfig{{Formatter: "JSON"}} }},
	}

	conf := DefaultConfig()
	require.NoError(t, conf.Validate())

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conf := DefaultConfig()
			test.modify(&conf)
			assert.True(t, strongerrors.IsInvalidArgument(conf.Validate()))
		})
	}
}

func TestBuildPlugins(t *testing.T) {
	fwk, err := BuildPlugins([]PluginConfig{{Name: nodeaffinity.Name, Weight: 1}}, plugins.NewInTreeRegistry())
	require.NoError(t, err)
	assert.Equal(t, []string{nodeaffinity.Name}, fwk.Names())

	_, err = BuildPlugins([]PluginConfig{{Name: "Unknown"}}, plugins.NewInTreeRegistry())
	assert.True(t, strongerrors.IsNotFound(err))

	_, err = BuildPlugins([]PluginConfig{{Name: nodeaffinity.Name}, {Name: nodeaffinity.Name}}, plugins.NewInTreeRegistry())
	assert.True(t, strongerrors.IsAlreadyExists(err))
}

func TestBuildMetricsLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.log")

	writers, err := BuildMetricsLogger([]MetricsLoggerConfig{
		{Dest: StdoutDest, Formatter: metrics.JSONFormat},
		{Dest: path, Formatter: metrics.YAMLFormat},
	})
	require.NoError(t, err)
	require.Len(t, writers, 2)
	assert.IsType(t, &metrics.StdoutWriter{}, writers[0])
	assert.IsType(t, &metrics.FileWriter{}, writers[1])
	for _, w := range writers {
		assert.NoError(t, w.Close())
	}

	_, err = BuildMetricsLogger([]MetricsLoggerConfig{{Dest: StdoutDest, Formatter: "foo"}})
	assert.True(t, strongerrors.IsInvalidArgument(err))

	_, err = BuildMetricsLogger([]MetricsLoggerConfig{{Formatter: metrics.JSONFormat}})
	assert.True(t, strongerrors.IsInvalidArgument(err))
}

func TestBuildNode(t *testing.T) {
	now := time.Now()

	metadata := metav1.ObjectMeta{
		Name: "node-0",
		Labels: map[string]string{
			"foo": "bar",
		},
	}

	spec := v1.NodeSpec{
		Unschedulable: false,
		Taints: []v1.Taint{
			{Key: "node.kubernetes.io/not-ready", Effect: v1.TaintEffectNoSchedule},
		},
	}

	actual, err := BuildNode(NodeConfig{
		Metadata: metadata,
		Spec:     spec,
		Status: NodeStatus{
			Allocatable: map[v1.ResourceName]string{
				"cpu":            "2",
				"memory":         "4Gi",
				"nvidia.com/gpu": "1",
			},
		},
	}, now)
	require.NoError(t, err)

	allocatable := v1.ResourceList{
		"cpu":            resource.MustParse("2"),
		"memory":         resource.MustParse("4Gi"),
		"nvidia.com/gpu": resource.MustParse("1"),
	}

	expected := v1.Node{
		TypeMeta: metav1.TypeMeta{
			Kind:       "Node",
			APIVersion: "v1",
		},
		ObjectMeta: metadata,
		Spec:       spec,
		Status: v1.NodeStatus{
			Capacity:    allocatable,
			Allocatable: allocatable,
			Conditions:  buildNodeCondition(metav1.NewTime(now)),
		},
	}

	if !reflect.DeepEqual(*actual, expected) {
		t.Errorf("got: %+v\nwant: %+v", *actual, expected)
	}

	_, err = BuildNode(NodeConfig{Status: NodeStatus{Allocatable: map[v1.ResourceName]string{"cpu": "two"}}}, now)
	assert.True(t, strongerrors.IsInvalidArgument(err))
}
