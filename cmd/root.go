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

// Package cmd implements the command line interface of kube-sched.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/containerd/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	kubesched "github.com/pfnet-research/k8s-scheduling-framework/pkg"
	"github.com/pfnet-research/k8s-scheduling-framework/pkg/framework/plugins"
)

// configPath is the path of the config file, defaulting to "config"
var configPath string

var rootCmd = &cobra.Command{
	Use:   "kube-sched",
	Short: "kube-sched schedules pods onto a cluster with a pluggable scheduling framework.",
	Long: "kube-sched schedules pods onto an in-memory cluster. Nodes are read from the config, pods from " +
		"a workload file, and every pod goes through the filter and score plugins listed in the config.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		k, err := kubesched.NewKubeSchedFromConfigPath(configPath, plugins.NewInTreeRegistry(), plugins.DefaultPlugins())
		if err != nil {
			return errors.Wrap(err, "Error creating KubeSched")
		}

		// SIGINT cancels k.Run()
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sig)
		go func() {
			select {
			case <-sig:
				cancel()
			case <-ctx.Done():
			}
		}()

		if err := k.Run(ctx); err != nil && errors.Cause(err) != context.Canceled {
			return err
		}
		return nil
	},
}

// Execute executes the rootCmd
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.L.WithError(err).Fatal("Error executing root command")
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config", "config file (excluding file extension)")
}
