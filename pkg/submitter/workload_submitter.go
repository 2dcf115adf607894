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

package submitter

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"

	"github.com/containerd/containerd/log"
	"github.com/cpuguy83/strongerrors"
	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/clock"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/cluster"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/metrics"
)

// DefaultBatchSize is the number of pods a WorkloadSubmitter submits per call.
const DefaultBatchSize = 10

// WorkloadSubmitter submits pods read from manifests, a batch per call, and terminates once every
// pod has been submitted.
type WorkloadSubmitter struct {
	pods      []*v1.Pod
	batchSize int
}

// NewWorkloadSubmitter creates a new WorkloadSubmitter submitting the given pods in order.
// A non-positive batchSize means DefaultBatchSize.
func NewWorkloadSubmitter(pods []*v1.Pod, batchSize int) *WorkloadSubmitter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &WorkloadSubmitter{
		pods:      pods,
		batchSize: batchSize,
	}
}

// Submit implements Submitter interface.
func (w *WorkloadSubmitter) Submit(
	ctx context.Context,
	_ clock.Clock,
	_ cluster.NodeLister,
	_ metrics.Metrics) ([]Event, error) {

	if len(w.pods) == 0 {
		return []Event{&TerminateSubmitterEvent{}}, nil
	}

	n := w.batchSize
	if n > len(w.pods) {
		n = len(w.pods)
	}

	events := make([]Event, 0, n)
	for _, p := range w.pods[:n] {
		events = append(events, &SubmitEvent{Pod: p})
	}
	w.pods = w.pods[n:]

	log.G(ctx).Debugf("Workload: %d pod(s) submitted, %d left", n, len(w.pods))
	return events, nil
}

var _ = Submitter(&WorkloadSubmitter{})

// LoadWorkload reads pod manifests from the file at path.
func LoadWorkload(path string) ([]*v1.Pod, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to read workload %s", path)
	}

	pods, err := ParseWorkload(data)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to parse workload %s", path)
	}
	return pods, nil
}

// ParseWorkload decodes a stream of YAML documents, each of which is a v1.Pod manifest.
// Empty documents are skipped.
// Returns an InvalidArgument error if a document is not a Pod or has unknown fields.
func ParseWorkload(data []byte) ([]*v1.Pod, error) {
	reader := utilyaml.NewYAMLReader(bufio.NewReader(bytes.NewReader(data)))

	pods := []*v1.Pod{}
	for i := 0; ; i++ {
		doc, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(doc)) == 0 {
			continue
		}

		p := &v1.Pod{}
		if err := yaml.UnmarshalStrict(doc, p); err != nil {
			return nil, strongerrors.InvalidArgument(errors.Wrapf(err, "document %d", i))
		}
		if p.Kind != "" && p.Kind != "Pod" {
			return nil, strongerrors.InvalidArgument(errors.Errorf("document %d: kind %q is not Pod", i, p.Kind))
		}
		pods = append(pods, p)
	}

	return pods, nil
}
