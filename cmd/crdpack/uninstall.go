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

	"github.com/crdpack/crdpack/pkg/guard"
	"github.com/crdpack/crdpack/pkg/ownership"
	"github.com/crdpack/crdpack/pkg/pack"
	"github.com/crdpack/crdpack/pkg/planner"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <path>",
	Short: "Uninstall removes the pack's resources and managed CRDs, refusing CRD deletions that would cascade to live custom resources.",
	Long: `Uninstall deletes the pack's resources first, then its managed CRDs.
Shared and external CRDs are left on the cluster. A CRD with live custom
resource instances is only deleted when explicitly confirmed, because the
API server cascade deletes every instance with the definition.`,
	Args: cobra.ExactArgs(1),
	RunE: runUninstallCmd,
}

type uninstallFlags struct {
	releaseName string
	values      []string
	confirmCrds []string
	confirmAll  bool
}

var uninstallArgs uninstallFlags

func init() {
	uninstallCmd.Flags().StringVarP(&uninstallArgs.releaseName, "release-name", "r", "",
		"The name the pack is installed under.")
	uninstallCmd.Flags().StringSliceVarP(&uninstallArgs.values, "values", "f", nil,
		"Path to values file(s), later files take precedence.")
	uninstallCmd.Flags().StringSliceVar(&uninstallArgs.confirmCrds, "confirm-crd", nil,
		"Confirm the deletion of the named CRD even if it has live instances. Each confirmation is used once.")
	uninstallCmd.Flags().BoolVar(&uninstallArgs.confirmAll, "confirm-all", false,
		"Confirm the deletion of every managed CRD in the pack.")

	rootCmd.AddCommand(uninstallCmd)
}

func runUninstallCmd(cmd *cobra.Command, args []string) error {
	if uninstallArgs.releaseName == "" {
		return fmt.Errorf("--release-name is required")
	}

	p, err := loadPack(args[0], uninstallArgs.releaseName, uninstallArgs.values, "")
	if err != nil {
		return err
	}

	plan, err := planner.PlanUninstall([]*pack.Pack{p})
	if err != nil {
		return err
	}
	logger.Println(fmt.Sprintf("uninstalling %s, %v step(s)...", uninstallArgs.releaseName, plan.Len()))

	confirmations := guard.NewConfirmations(uninstallArgs.confirmCrds...)
	if uninstallArgs.confirmAll {
		for _, c := range p.AllCRDs() {
			if c.Policy == ownership.Managed {
				confirmations.Grant(c.Schema.Name)
			}
		}
	}

	kubeClient, err := newKubeClient(kubeconfigArgs)
	if err != nil {
		return fmt.Errorf("client init failed: %w", err)
	}

	eng := newEngine(kubeClient, uninstallArgs.releaseName, confirmations)

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	report, execErr := eng.Execute(ctx, plan)
	printReport(report)
	if execErr != nil {
		logger.Println(fmt.Sprintf("uninstall stopped after %v of %v step(s)",
			report.Completed, report.Total))
		return execErr
	}

	for _, c := range p.AllCRDs() {
		if c.Policy != ownership.Managed {
			logger.Println(fmt.Sprintf("CustomResourceDefinition/%s left on the cluster (%s policy)",
				c.Schema.Name, c.Policy))
		}
	}

	return nil
}
