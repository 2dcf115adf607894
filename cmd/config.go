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

package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/config"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework/plugins"
)

func init() {
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the config with defaults filled in",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.ReadConfig(configPath, plugins.DefaultPlugins())
		if err != nil {
			return err
		}

		out, err := yaml.Marshal(conf)
		if err != nil {
			return errors.Wrap(err, "Failed to encode config")
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}
