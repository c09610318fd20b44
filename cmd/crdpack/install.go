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
	"context"
	"fmt"

	"github.com/fluxcd/pkg/ssa"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/crdpack/crdpack/pkg/pack"
	"github.com/crdpack/crdpack/pkg/planner"
)

var installCmd = &cobra.Command{
	Use:   "install <path>",
	Short: "Install renders the pack at the given path and applies it with CRDs first, waiting for each definition to become established.",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstallCmd,
}

type installFlags struct {
	releaseName string
	values      []string
	strategy    string
	wait        bool
}

var installArgs installFlags

func init() {
	installCmd.Flags().StringVarP(&installArgs.releaseName, "release-name", "r", "",
		"The name the pack is installed under.")
	installCmd.Flags().StringSliceVarP(&installArgs.values, "values", "f", nil,
		"Path to values file(s), later files take precedence.")
	installCmd.Flags().StringVar(&installArgs.strategy, "strategy", "",
		"Override the CRD update strategy for every CRD in the pack (safe, force, skip).")
	installCmd.Flags().BoolVar(&installArgs.wait, "wait", false,
		"Wait for the applied resources to become ready.")

	rootCmd.AddCommand(installCmd)
}

func runInstallCmd(cmd *cobra.Command, args []string) error {
	if installArgs.releaseName == "" {
		return fmt.Errorf("--release-name is required")
	}

	p, err := loadPack(args[0], installArgs.releaseName, installArgs.values, installArgs.strategy)
	if err != nil {
		return err
	}

	plan, err := planner.PlanInstall([]*pack.Pack{p})
	if err != nil {
		return err
	}
	logger.Println(fmt.Sprintf("installing %s@%s as %s, %v step(s)...",
		p.Name, p.Version, installArgs.releaseName, plan.Len()))

	kubeClient, err := newKubeClient(kubeconfigArgs)
	if err != nil {
		return fmt.Errorf("client init failed: %w", err)
	}

	eng := newEngine(kubeClient, installArgs.releaseName, nil)

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	report, execErr := eng.Execute(ctx, plan)
	printReport(report)
	if execErr != nil {
		logger.Println(fmt.Sprintf("install stopped after %v of %v step(s), re-run to resume",
			report.Completed, report.Total))
		return execErr
	}

	if installArgs.wait {
		logger.Println("waiting for resources to become ready...")

		var objects []*unstructured.Unstructured
		for _, pk := range p.AllPacks() {
			objects = append(objects, pk.Resources...)
		}

		statusPoller, err := newKubeStatusPoller(kubeconfigArgs)
		if err != nil {
			return fmt.Errorf("status poller init failed: %w", err)
		}
		resMgr := ssa.NewResourceManager(kubeClient, statusPoller, ssa.Owner{
			Field: cfg.FieldManager.Name,
			Group: cfg.FieldManager.Group,
		})

		waitOpts := ssa.DefaultWaitOptions()
		waitOpts.Timeout = rootArgs.timeout
		if err := resMgr.Wait(objects, waitOpts); err != nil {
			return err
		}
		logger.Println("all resources are ready")
	}

	return nil
}
