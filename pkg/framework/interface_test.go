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

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	var nilStatus *Status
	assert.Equal(t, Success, nilStatus.Code())
	assert.True(t, nilStatus.IsSuccess())
	assert.NoError(t, nilStatus.AsError())
	assert.Equal(t, "Success", nilStatus.String())

	s := NewStatus(UnschedulableAndUnresolvable, "a", "b").WithPlugin("NodeAffinity")
	assert.True(t, s.IsUnschedulable())
	assert.True(t, s.IsRejected())
	assert.Equal(t, "a, b", s.Message())
	assert.Equal(t, []string{"a", "b"}, s.Reasons())
	assert.Equal(t, "NodeAffinity", s.Plugin())
	assert.EqualError(t, s.AsError(), "a, b")
	assert.Equal(t, "NodeAffinity: UnschedulableAndUnresolvable: a, b", s.String())

	skip := NewStatus(Skip)
	assert.True(t, skip.IsSkip())
	assert.False(t, skip.IsRejected())
	assert.NoError(t, skip.AsError())

	err := errors.New("boom")
	e := AsStatus(err)
	assert.Equal(t, Error, e.Code())
	assert.Equal(t, err, e.AsError())
	assert.Nil(t, AsStatus(nil))
}

func TestStatusEqual(t *testing.T) {
	var nilStatus *Status
	assert.True(t, nilStatus.Equal(NewStatus(Success)))
	assert.True(t, NewStatus(Unschedulable, "x").Equal(NewStatus(Unschedulable, "x")))
	assert.False(t, NewStatus(Unschedulable, "x").Equal(NewStatus(Unschedulable, "y")))
	assert.False(t, NewStatus(Unschedulable).Equal(NewStatus(UnschedulableAndUnresolvable)))
	assert.False(t, NewStatus(Unschedulable).WithPlugin("a").Equal(NewStatus(Unschedulable)))
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "Skip", Skip.String())
	assert.Equal(t, "Unknown", Code(42).String())
}
