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

	"github.com/spf13/cobra"

	"github.com/crdpack/crdpack/pkg/pack"
	"github.com/crdpack/crdpack/pkg/planner"
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade <path>",
	Short: "Upgrade re-renders the pack and reconciles the cluster, refusing CRD updates that the update strategy classifies as breaking.",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpgradeCmd,
}

type upgradeFlags struct {
	releaseName string
	values      []string
	strategy    string
}

var upgradeArgs upgradeFlags

func init() {
	upgradeCmd.Flags().StringVarP(&upgradeArgs.releaseName, "release-name", "r", "",
		"The name the pack is installed under.")
	upgradeCmd.Flags().StringSliceVarP(&upgradeArgs.values, "values", "f", nil,
		"Path to values file(s), later files take precedence.")
	upgradeCmd.Flags().StringVar(&upgradeArgs.strategy, "strategy", "",
		"Override the CRD update strategy for every CRD in the pack (safe, force, skip).")

	rootCmd.AddCommand(upgradeCmd)
}

func runUpgradeCmd(cmd *cobra.Command, args []string) error {
	if upgradeArgs.releaseName == "" {
		return fmt.Errorf("--release-name is required")
	}

	p, err := loadPack(args[0], upgradeArgs.releaseName, upgradeArgs.values, upgradeArgs.strategy)
	if err != nil {
		return err
	}

	plan, err := planner.PlanInstall([]*pack.Pack{p})
	if err != nil {
		return err
	}
	logger.Println(fmt.Sprintf("upgrading %s to %s@%s, %v step(s)...",
		upgradeArgs.releaseName, p.Name, p.Version, plan.Len()))

	kubeClient, err := newKubeClient(kubeconfigArgs)
	if err != nil {
		return fmt.Errorf("client init failed: %w", err)
	}

	eng := newEngine(kubeClient, upgradeArgs.releaseName, nil)

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	report, execErr := eng.Execute(ctx, plan)
	printReport(report)
	if execErr != nil {
		logger.Println(fmt.Sprintf("upgrade stopped after %v of %v step(s), re-run to resume",
			report.Completed, report.Total))
		return execErr
	}

	return nil
}
