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

// Package plugins holds the registry of the in-tree plugins.
package plugins

import (
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework/plugins/nodeaffinity"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework/plugins/noderesources"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework/plugins/tainttoleration"
)

// NewInTreeRegistry builds the registry with all the in-tree plugins.
func NewInTreeRegistry() framework.Registry {
	return framework.Registry{
		nodeaffinity.Name:    nodeaffinity.New,
		tainttoleration.Name: tainttoleration.New,
		noderesources.Name:   noderesources.NewFit,
	}
}

// DefaultPlugins are the plugins enabled, in this order, when the configuration lists none.
func DefaultPlugins() []string {
	return []string{tainttoleration.Name, nodeaffinity.Name, noderesources.Name}
}
