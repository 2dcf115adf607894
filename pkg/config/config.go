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
	"time"

	"github.com/cpuguy83/strongerrors"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/metrics"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/queue"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/scheduler"
)

// StdoutDest is the MetricsLoggerConfig.Dest that writes to the standard output.
const StdoutDest = "stdout"

// Config represents a user-specified scheduler config.
type Config struct {
	LogLevel    string `json:"logLevel"`
	Parallelism int    `json:"parallelism"`

	Backoff BackoffConfig  `json:"backoff"`
	Plugins []PluginConfig `json:"plugins"`

	Cluster        []NodeConfig  `json:"cluster"`
	Workload       string        `json:"workload,omitempty"`
	SubmitInterval time.Duration `json:"submitInterval"`

	MetricsTick   time.Duration         `json:"metricsTick"`
	MetricsLogger []MetricsLoggerConfig `json:"metricsLogger,omitempty"`
	MetricsAddr   string                `json:"metricsAddr,omitempty"`

	StoreTimeout time.Duration `json:"storeTimeout"`
}

// Made public to be parsed from YAML.

type BackoffConfig struct {
	Initial time.Duration `json:"initial"`
	Max     time.Duration `json:"max"`
}

type PluginConfig struct {
	Name string `json:"name"`
	// Weight multiplies the normalized scores of the plugin. Zero means 1.
	Weight int64 `json:"weight"`
}

type MetricsLoggerConfig struct {
	// Dest is "stdout" or a file path in which the metrics is written.
	Dest string `json:"dest"`
	// Formatter is a type of metrics format.
	Formatter string `json:"formatter"`
}

type NodeConfig struct {
	Metadata metav1.ObjectMeta `json:"metadata"`
	Spec     v1.NodeSpec       `json:"spec"`
	Status   NodeStatus        `json:"status"`
}

type NodeStatus struct {
	Allocatable map[v1.ResourceName]string `json:"allocatable"`
}

// DefaultConfig returns the config used for the fields a config file leaves out.
func DefaultConfig() Config {
	return Config{
		LogLevel:    "info",
		Parallelism: framework.DefaultParallelism,
		Backoff: BackoffConfig{
			Initial: queue.DefaultPodInitialBackoffDuration,
			Max:     queue.DefaultPodMaxBackoffDuration,
		},
		SubmitInterval: time.Second,
		MetricsTick:    10 * time.Second,
		StoreTimeout:   scheduler.DefaultStoreTimeout,
	}
}

// ReadConfig reads and parses a config from the path (excluding file extension), searched in the
// current directory. Plugins default to defaultPlugins if the config lists none.
func ReadConfig(path string, defaultPlugins []string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(path)
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "Failed to read config")
	}

	conf := DefaultConfig()
	if err := v.Unmarshal(&conf); err != nil {
		return nil, strongerrors.InvalidArgument(errors.Wrap(err, "Failed to decode config"))
	}

	conf.setDefaults(defaultPlugins)
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

func (c *Config) setDefaults(defaultPlugins []string) {
	if len(c.Plugins) == 0 {
		for _, name := range defaultPlugins {
			c.Plugins = append(c.Plugins, PluginConfig{Name: name})
		}
	}
	for i := range c.Plugins {
		if c.Plugins[i].Weight == 0 {
			c.Plugins[i].Weight = 1
		}
	}
}

// Validate returns an InvalidArgument error if the config is inconsistent.
func (c *Config) Validate() error {
	if c.Parallelism <= 0 {
		return strongerrors.InvalidArgument(errors.Errorf("parallelism must be positive, got %d", c.Parallelism))
	}
	if c.Backoff.Initial <= 0 || c.Backoff.Max < c.Backoff.Initial {
		return strongerrors.InvalidArgument(errors.Errorf("invalid backoff %s..%s", c.Backoff.Initial, c.Backoff.Max))
	}
	if c.SubmitInterval <= 0 || c.MetricsTick <= 0 || c.StoreTimeout <= 0 {
		return strongerrors.InvalidArgument(errors.New("submitInterval, metricsTick and storeTimeout must be positive"))
	}

	seen := map[string]struct{}{}
	for _, p := range c.Plugins {
		if p.Weight < 0 {
			return strongerrors.InvalidArgument(errors.Errorf("plugin %s has negative weight %d", p.Name, p.Weight))
		}
		if _, ok := seen[p.Name]; ok {
			return strongerrors.InvalidArgument(errors.Errorf("plugin %s listed twice", p.Name))
		}
		seen[p.Name] = struct{}{}
	}

	for _, m := range c.MetricsLogger {
		if m.Dest == "" {
			return strongerrors.InvalidArgument(errors.New("destination must not be empty"))
		}
	}

	return nil
}

// BuildPlugins builds the plugins listed in conf from the registry, in order.
func BuildPlugins(conf []PluginConfig, registry framework.Registry, opts ...framework.Option) (*framework.Plugins, error) {
	fwk := framework.NewPlugins(opts...)

	for _, pc := range conf {
		pl, err := registry.Build(pc.Name)
		if err != nil {
			return nil, err
		}
		if err := fwk.Add(pl, pc.Weight); err != nil {
			return nil, err
		}
	}

	return fwk, nil
}

// BuildMetricsLogger builds metrics writers with the given MetricsLoggerConfig.
// Returns error if the config is invalid or failed to create a writer; writers already created are
// closed then.
func BuildMetricsLogger(conf []MetricsLoggerConfig) ([]metrics.Writer, error) {
	writers := make([]metrics.Writer, 0, len(conf))

	for _, conf := range conf {
		writer, err := buildMetricsWriter(conf)
		if err != nil {
			for _, w := range writers {
				err = multierr.Append(err, w.Close())
			}
			return nil, err
		}
		writers = append(writers, writer)
	}

	return writers, nil
}

func buildMetricsWriter(conf MetricsLoggerConfig) (metrics.Writer, error) {
	if conf.Dest == "" {
		return nil, strongerrors.InvalidArgument(errors.New("destination must not be empty"))
	}

	formatter, err := metrics.NewFormatter(conf.Formatter)
	if err != nil {
		return nil, err
	}

	if conf.Dest == StdoutDest {
		return metrics.NewStdoutWriter(formatter), nil
	}
	return metrics.NewFileWriter(conf.Dest, formatter)
}

// BuildNode builds a *v1.Node with the given NodeConfig.
// Returns error if failed to parse.
func BuildNode(conf NodeConfig, now time.Time) (*v1.Node, error) {
	allocatable, err := buildResourceList(conf.Status.Allocatable)
	if err != nil {
		return nil, errors.Wrapf(err, "Node %s", conf.Metadata.Name)
	}

	node := v1.Node{
		TypeMeta: metav1.TypeMeta{
			Kind:       "Node",
			APIVersion: "v1",
		},
		ObjectMeta: conf.Metadata,
		Spec:       conf.Spec,
		Status: v1.NodeStatus{
			Capacity:    allocatable,
			Allocatable: allocatable,
			Conditions:  buildNodeCondition(metav1.NewTime(now)),
		},
	}

	return &node, nil
}

// buildResourceList parses a map from resource names to quantities (in strings) to a
// v1.ResourceList.
func buildResourceList(resources map[v1.ResourceName]string) (v1.ResourceList, error) {
	resourceList := v1.ResourceList{}

	for key, value := range resources {
		quantity, err := resource.ParseQuantity(value)
		if err != nil {
			return nil, strongerrors.InvalidArgument(errors.Errorf("invalid %s value %q", key, value))
		}
		resourceList[key] = quantity
	}

	return resourceList, nil
}

// buildNodeCondition returns the conditions of a healthy node, as reported by a kubelet.
func buildNodeCondition(clock metav1.Time) []v1.NodeCondition {
	healthy := []struct {
		condType v1.NodeConditionType
		status   v1.ConditionStatus
		reason   string
		message  string
	}{
		{v1.NodeReady, v1.ConditionTrue, "KubeletReady", "kubelet is posting ready status"},
		{v1.NodeMemoryPressure, v1.ConditionFalse, "KubeletHasSufficientMemory", "kubelet has sufficient memory available"},
		{v1.NodeDiskPressure, v1.ConditionFalse, "KubeletHasNoDiskPressure", "kubelet has no disk pressure"},
		{v1.NodePIDPressure, v1.ConditionFalse, "KubeletHasSufficientPID", "kubelet has sufficient PID available"},
	}

	conditions := make([]v1.NodeCondition, 0, len(healthy))
	for _, c := range healthy {
		conditions = append(conditions, v1.NodeCondition{
			Type:               c.condType,
			Status:             c.status,
			LastHeartbeatTime:  clock,
			LastTransitionTime: clock,
			Reason:             c.reason,
			Message:            c.message,
		})
	}
	return conditions
}
