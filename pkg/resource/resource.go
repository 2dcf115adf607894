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

package resource

import (
	"fmt"

	"github.com/cpuguy83/strongerrors"
	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	apiresource "k8s.io/apimachinery/pkg/api/resource"
)

// Requirements is an amount of CPU (in millicores) and memory (in bytes), either requested by a
// pod or allocated/allocatable on a node.
type Requirements struct {
	MilliCPU uint64 `json:"milliCPU" yaml:"milliCPU"`
	Memory   uint64 `json:"memory" yaml:"memory"`
}

// Add returns the sum r + rhs.
func (r Requirements) Add(rhs Requirements) Requirements {
	return Requirements{
		MilliCPU: r.MilliCPU + rhs.MilliCPU,
		Memory:   r.Memory + rhs.Memory,
	}
}

// Sub returns r - rhs. Each dimension saturates at zero.
func (r Requirements) Sub(rhs Requirements) Requirements {
	return Requirements{
		MilliCPU: saturatingSub(r.MilliCPU, rhs.MilliCPU),
		Memory:   saturatingSub(r.Memory, rhs.Memory),
	}
}

// Fits returns true if every dimension of r is less than or equal to that of capacity.
func (r Requirements) Fits(capacity Requirements) bool {
	return r.MilliCPU <= capacity.MilliCPU && r.Memory <= capacity.Memory
}

// IsZero returns whether r requests nothing.
func (r Requirements) IsZero() bool {
	return r.MilliCPU == 0 && r.Memory == 0
}

func (r Requirements) String() string {
	return fmt.Sprintf("cpu=%dm,memory=%d", r.MilliCPU, r.Memory)
}

// BuildRequirements parses a map from resource names to quantities (in strings) to Requirements.
// Resources other than cpu and memory are ignored.
// Returns error if failed to parse.
func BuildRequirements(resources map[v1.ResourceName]string) (Requirements, error) {
	list := v1.ResourceList{}

	for key, value := range resources {
		quantity, err := apiresource.ParseQuantity(value)
		if err != nil {
			return Requirements{}, strongerrors.InvalidArgument(errors.Errorf("invalid %s value %q", key, value))
		}
		if quantity.Sign() < 0 {
			return Requirements{}, strongerrors.InvalidArgument(errors.Errorf("negative %s value %q", key, value))
		}
		list[key] = quantity
	}

	return FromResourceList(list), nil
}

// FromResourceList extracts cpu and memory of the v1.ResourceList.
func FromResourceList(list v1.ResourceList) Requirements {
	req := Requirements{}
	if cpu, ok := list[v1.ResourceCPU]; ok && cpu.Sign() > 0 {
		req.MilliCPU = uint64(cpu.MilliValue())
	}
	if mem, ok := list[v1.ResourceMemory]; ok && mem.Sign() > 0 {
		req.Memory = uint64(mem.Value())
	}
	return req
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
