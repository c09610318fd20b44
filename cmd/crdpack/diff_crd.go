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
	"strings"

	"github.com/spf13/cobra"

	"github.com/crdpack/crdpack/pkg/crd"
	"github.com/crdpack/crdpack/pkg/engine"
	"github.com/crdpack/crdpack/pkg/strategy"
)

var diffCrdCmd = &cobra.Command{
	Use:   "crd <path>",
	Short: "Diff crd renders the pack and prints the schema changes each CRD would undergo, classified by severity.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiffCrdCmd,
}

type diffCrdFlags struct {
	releaseName string
	values      []string
}

var diffCrdArgs diffCrdFlags

func init() {
	diffCrdCmd.Flags().StringVarP(&diffCrdArgs.releaseName, "release-name", "r", "",
		"The name the pack is installed under.")
	diffCrdCmd.Flags().StringSliceVarP(&diffCrdArgs.values, "values", "f", nil,
		"Path to values file(s), later files take precedence.")

	diffCmd.AddCommand(diffCrdCmd)
}

func runDiffCrdCmd(cmd *cobra.Command, args []string) error {
	releaseName := diffCrdArgs.releaseName
	if releaseName == "" {
		releaseName = "preview"
	}

	p, err := loadPack(args[0], releaseName, diffCrdArgs.values, "")
	if err != nil {
		return err
	}

	kubeClient, err := newKubeClient(kubeconfigArgs)
	if err != nil {
		return fmt.Errorf("client init failed: %w", err)
	}
	cluster := &engine.Cluster{Client: kubeClient, FieldOwner: cfg.FieldManager.Name}

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	var rows [][]string
	for _, c := range p.AllCRDs() {
		existing, err := cluster.GetCRD(ctx, c.Schema.Name)
		if err != nil {
			return fmt.Errorf("reading CRD %s failed, error: %w", c.Schema.Name, err)
		}

		if existing == nil {
			rows = append(rows, []string{c.Schema.Name, "Create", "safe", "", "new definition"})
			continue
		}

		changes := crd.Diff(existing, c.Schema)
		if len(changes) == 0 {
			rows = append(rows, []string{c.Schema.Name, "Unchanged", "safe", "", ""})
			continue
		}
		for _, change := range changes {
			rows = append(rows, []string{
				c.Schema.Name,
				string(change.Kind),
				change.Severity.String(),
				strings.Join(change.Path, "."),
				change.Description,
			})
		}

		decision := strategy.Decide(c.Strategy, changes)
		if decision.Verdict == strategy.Abort {
			logger.Println(fmt.Sprintf("CRD %s would be refused by the %s strategy: %s",
				c.Schema.Name, c.Strategy, decision.Reason))
		}
	}

	printTable(rootCmd.OutOrStdout(), []string{"crd", "change", "severity", "path", "description"}, rows)

	return nil
}
