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

package framework

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"k8s.io/apimachinery/pkg/util/sets"
)

func TestActionType(t *testing.T) {
	assert.Equal(t, "Add|UpdateNodeLabel", (Add | UpdateNodeLabel).String())
	assert.Equal(t, "All", All.String())
	assert.Equal(t, ActionType(0b111100), Update)
	assert.NotZero(t, Update&UpdateNodeTaint)
	assert.Zero(t, Update&Add)
}

func TestClusterEventMatch(t *testing.T) {
	registered := ClusterEvent{Resource: Node, ActionType: Add | UpdateNodeLabel}

	assert.True(t, registered.Match(ClusterEvent{Resource: Node, ActionType: Add}))
	assert.True(t, registered.Match(ClusterEvent{Resource: Node, ActionType: UpdateNodeLabel | UpdateNodeTaint}))
	assert.False(t, registered.Match(ClusterEvent{Resource: Node, ActionType: UpdateNodeTaint}))
	assert.False(t, registered.Match(ClusterEvent{Resource: Pod, ActionType: Add}))

	wildcard := ClusterEvent{Resource: WildCard, ActionType: All}
	assert.True(t, wildcard.IsWildCard())
	assert.True(t, wildcard.Match(ClusterEvent{Resource: Pod, ActionType: Delete}))
	assert.Equal(t, "Node/Add|UpdateNodeLabel", registered.String())
}

func TestPreFilterResultMerge(t *testing.T) {
	var all *PreFilterResult
	assert.True(t, all.AllNodes())
	assert.Nil(t, all.Merge(nil))

	ab := &PreFilterResult{NodeNames: sets.New("a", "b")}
	bc := &PreFilterResult{NodeNames: sets.New("b", "c")}

	assert.Equal(t, sets.New("a", "b"), all.Merge(ab).NodeNames)
	assert.Equal(t, sets.New("a", "b"), ab.Merge(nil).NodeNames)
	assert.Equal(t, sets.New("b"), ab.Merge(bc).NodeNames)

	disjoint := ab.Merge(&PreFilterResult{NodeNames: sets.New("z")})
	assert.False(t, disjoint.AllNodes())
	assert.Zero(t, disjoint.NodeNames.Len())
}
