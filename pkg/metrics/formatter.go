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

package metrics

import (
	"encoding/json"

	"github.com/cpuguy83/strongerrors"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/cluster"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/queue"
)

// Names of the supported formatters.
const (
	JSONFormat          = "JSON"
	YAMLFormat          = "YAML"
	TableFormat         = "table"
	HumanReadableFormat = "humanReadable"
)

// NewFormatter returns the formatter with the name.
func NewFormatter(name string) (Formatter, error) {
	switch name {
	case JSONFormat:
		return &JSONFormatter{}, nil
	case YAMLFormat:
		return &YAMLFormatter{}, nil
	case TableFormat:
		return &TableFormatter{}, nil
	case HumanReadableFormat:
		return &HumanReadableFormatter{}, nil
	default:
		return nil, strongerrors.InvalidArgument(errors.Errorf("formatter %q is not supported", name))
	}
}

func validateMetrics(metrics *Metrics) error {
	keys := []string{ClockKey, NodesMetricsKey, PodsMetricsKey, QueueMetricsKey, PendingPodsMetricsKey}
	for _, key := range keys {
		if _, ok := (*metrics)[key]; !ok {
			return strongerrors.InvalidArgument(errors.Errorf("No key %q in metrics", key))
		}
	}

	if _, ok := (*metrics)[ClockKey].(string); !ok {
		return strongerrors.InvalidArgument(errors.Errorf("Type assertion failed: %q field of metrics is not string", ClockKey))
	}
	if _, ok := (*metrics)[NodesMetricsKey].(map[string]cluster.NodeMetrics); !ok {
		return strongerrors.InvalidArgument(errors.Errorf("Type assertion failed: %q field of metrics is not map[string]cluster.NodeMetrics", NodesMetricsKey))
	}
	if _, ok := (*metrics)[PodsMetricsKey].(map[string]cluster.PodMetrics); !ok {
		return strongerrors.InvalidArgument(errors.Errorf("Type assertion failed: %q field of metrics is not map[string]cluster.PodMetrics", PodsMetricsKey))
	}
	if _, ok := (*metrics)[QueueMetricsKey].(queue.Metrics); !ok {
		return strongerrors.InvalidArgument(errors.Errorf("Type assertion failed: %q field of metrics is not queue.Metrics", QueueMetricsKey))
	}
	if _, ok := (*metrics)[PendingPodsMetricsKey].(map[string]queue.PodMetrics); !ok {
		return strongerrors.InvalidArgument(errors.Errorf("Type assertion failed: %q field of metrics is not map[string]queue.PodMetrics", PendingPodsMetricsKey))
	}

	return nil
}

// JSONFormatter formats metrics to a JSON string, without newline at the end.
type JSONFormatter struct{}

// Format implements Formatter interface.
func (j *JSONFormatter) Format(metrics *Metrics) (string, error) {
	if err := validateMetrics(metrics); err != nil {
		return "", err
	}

	bytes, err := json.Marshal(metrics)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

var _ = Formatter(&JSONFormatter{})

// YAMLFormatter formats metrics to a YAML document.
type YAMLFormatter struct{}

// Format implements Formatter interface.
func (y *YAMLFormatter) Format(metrics *Metrics) (string, error) {
	if err := validateMetrics(metrics); err != nil {
		return "", err
	}

	bytes, err := yaml.Marshal(metrics)
	if err != nil {
		return "", err
	}
	return "---\n" + string(bytes), nil
}

var _ = Formatter(&YAMLFormatter{})
