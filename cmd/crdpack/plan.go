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
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/crdpack/crdpack/pkg/pack"
	"github.com/crdpack/crdpack/pkg/planner"
)

var planCmd = &cobra.Command{
	Use:   "plan <path>",
	Short: "Plan renders the pack and prints the tiered execution order without touching the cluster.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanCmd,
}

type planFlags struct {
	releaseName string
	values      []string
	uninstall   bool
}

var planArgs planFlags

func init() {
	planCmd.Flags().StringVarP(&planArgs.releaseName, "release-name", "r", "",
		"The name the pack is installed under.")
	planCmd.Flags().StringSliceVarP(&planArgs.values, "values", "f", nil,
		"Path to values file(s), later files take precedence.")
	planCmd.Flags().BoolVar(&planArgs.uninstall, "uninstall", false,
		"Print the uninstall order instead of the install order.")

	rootCmd.AddCommand(planCmd)
}

func runPlanCmd(cmd *cobra.Command, args []string) error {
	releaseName := planArgs.releaseName
	if releaseName == "" {
		releaseName = "preview"
	}

	p, err := loadPack(args[0], releaseName, planArgs.values, "")
	if err != nil {
		return err
	}

	var plan *planner.Plan
	if planArgs.uninstall {
		plan, err = planner.PlanUninstall([]*pack.Pack{p})
	} else {
		plan, err = planner.PlanInstall([]*pack.Pack{p})
	}
	if err != nil {
		return err
	}

	var rows [][]string
	step := 1
	for _, tier := range plan.Tiers {
		for _, s := range tier.Steps {
			row := []string{
				fmt.Sprintf("%d", step),
				fmt.Sprintf("%d/%s", tier.Depth, tier.Name),
				string(s.Action),
				s.Subject(),
				s.Pack,
			}
			if s.CRD != nil {
				row = append(row, string(s.CRD.Strategy), string(s.CRD.Policy))
			} else {
				row = append(row, "", "")
			}
			rows = append(rows, row)
			step++
		}
	}

	printTable(rootCmd.OutOrStdout(), []string{"step", "tier", "action", "subject", "pack", "strategy", "policy"}, rows)

	return nil
}

func printTable(writer io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(writer)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}
