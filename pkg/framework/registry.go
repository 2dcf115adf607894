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
	"github.com/cpuguy83/strongerrors"
	"github.com/pkg/errors"
)

// PluginFactory builds a plugin.
type PluginFactory func() (Plugin, error)

// Registry maps plugin names to their factories.
type Registry map[string]PluginFactory

// Register adds a factory under name.
// Returns an AlreadyExists error if the name is taken.
func (r Registry) Register(name string, factory PluginFactory) error {
	if _, ok := r[name]; ok {
		return strongerrors.AlreadyExists(errors.Errorf("a plugin named %q already exists", name))
	}
	r[name] = factory
	return nil
}

// Merge registers every factory of in.
func (r Registry) Merge(in Registry) error {
	for name, factory := range in {
		if err := r.Register(name, factory); err != nil {
			return err
		}
	}
	return nil
}

// Build instantiates the named plugin.
// Returns a NotFound error if no factory is registered under name.
func (r Registry) Build(name string) (Plugin, error) {
	factory, ok := r[name]
	if !ok {
		return nil, strongerrors.NotFound(errors.Errorf("no plugin named %q", name))
	}

	pl, err := factory()
	if err != nil {
		return nil, errors.Wrapf(err, "building plugin %q", name)
	}
	return pl, nil
}
