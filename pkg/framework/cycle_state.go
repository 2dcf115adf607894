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
	"sync"

	"github.com/cpuguy83/strongerrors"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/sets"
)

// StateKey is the key under which a plugin stores its data in a CycleState.
type StateKey string

// StateData is any value a plugin stores in a CycleState.
type StateData interface{}

// CycleState carries data between the extension points of one pod's one scheduling attempt.
// It is created fresh for every attempt and must never be reused.
type CycleState struct {
	mu      sync.RWMutex
	storage map[StateKey]StateData

	// SkipFilterPlugins are plugins whose PreFilter returned Skip.
	SkipFilterPlugins sets.Set[string]
	// SkipScorePlugins are plugins whose PreScore returned Skip.
	SkipScorePlugins sets.Set[string]
}

// NewCycleState creates an empty CycleState.
func NewCycleState() *CycleState {
	return &CycleState{
		storage:           map[StateKey]StateData{},
		SkipFilterPlugins: sets.New[string](),
		SkipScorePlugins:  sets.New[string](),
	}
}

// Write stores val under key, overwriting any previous value.
func (c *CycleState) Write(key StateKey, val StateData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storage[key] = val
}

// Read returns the data stored under key.
// Returns a NotFound error if the key is absent.
func (c *CycleState) Read(key StateKey) (StateData, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, ok := c.storage[key]
	if !ok {
		return nil, strongerrors.NotFound(errors.Errorf("%q not found in cycle state", key))
	}
	return val, nil
}

// Delete removes the data stored under key.
func (c *CycleState) Delete(key StateKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.storage, key)
}

// ReadAs returns the data stored under key as T.
// Returns a NotFound error if the key is absent, or an InvalidArgument error if the stored value is
// not a T. Callers should treat both as "nothing to contribute".
func ReadAs[T any](c *CycleState, key StateKey) (T, error) {
	var zero T

	val, err := c.Read(key)
	if err != nil {
		return zero, err
	}

	typed, ok := val.(T)
	if !ok {
		return zero, strongerrors.InvalidArgument(errors.Errorf("%q in cycle state has type %T, want %T", key, val, zero))
	}
	return typed, nil
}
