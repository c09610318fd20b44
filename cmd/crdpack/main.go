/*
Copyright 2022 The crdpack Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/crdpack/crdpack/pkg/category"
	"github.com/crdpack/crdpack/pkg/config"
)

var VERSION = "1.0.0-dev.0"

const PROJECT = "crdpack"

var rootCmd = &cobra.Command{
	Use:           PROJECT,
	Version:       VERSION,
	SilenceUsage:  true,
	SilenceErrors: true,
	Short:         "A command line utility to install and upgrade Kubernetes packs with safe CRD lifecycle handling.",
	Long: `Crdpack installs Kubernetes packs and manages the lifecycle of the
CustomResourceDefinitions they carry.

Install, upgrade and remove packs:

- crdpack install <path> --release-name <name> [-n <namespace>] [--wait]
- crdpack upgrade <path> --release-name <name> [-n <namespace>] [--strategy safe|force|skip]
- crdpack uninstall <path> --release-name <name> [--confirm-crd <name>] [--confirm-all]

Inspect before touching the cluster:

- crdpack plan <path> --release-name <name>
- crdpack diff crd <path>

Manage the crdpack configuration:

- crdpack config init
- crdpack config view
`,
}

type rootFlags struct {
	timeout time.Duration
}

var (
	rootArgs = rootFlags{}
	logger   = stderrLogger{stderr: os.Stderr}
	cfg      = config.NewConfig()
)

var kubeconfigArgs = genericclioptions.NewConfigFlags(false)

func init() {
	rootCmd.PersistentFlags().DurationVar(&rootArgs.timeout, "timeout", time.Minute,
		"The length of time to wait before giving up on the current operation.")

	kubeconfigArgs.Timeout = nil
	kubeconfigArgs.Namespace = nil
	kubeconfigArgs.AddFlags(rootCmd.PersistentFlags())

	defaultNamespace := "default"
	kubeconfigArgs.Namespace = &defaultNamespace
	rootCmd.PersistentFlags().StringVarP(kubeconfigArgs.Namespace, "namespace", "n", *kubeconfigArgs.Namespace, "The release namespace.")

	rootCmd.DisableAutoGenTag = true
	rootCmd.SetOut(os.Stdout)
}

func main() {
	loadConfig()
	if err := rootCmd.Execute(); err != nil {
		logger.Println(`✗`, err)
		os.Exit(1)
	}
}

func loadConfig() {
	if c, err := config.Read(""); err != nil {
		logger.Println(`✗`, fmt.Errorf("loading the config failed, error: %w", err))
	} else {
		cfg = c
	}

	category.ReconcileOrder = category.KindOrder{
		First: cfg.ApplyOrder.First,
		Last:  cfg.ApplyOrder.Last,
	}
}
